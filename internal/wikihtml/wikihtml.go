package wikihtml

import (
	"net/url"
	"strings"
)

// ArticleURL builds the public URL of a page. The page part is split on
// colons and every segment is escaped separately so namespace separators
// survive; an optional "#fragment" becomes an escaped anchor.
func ArticleURL(articlePath, title string) string {
	page, fragment := title, ""
	if idx := strings.Index(title, "#"); idx != -1 {
		page = title[:idx]
		fragment = strings.TrimSpace(title[idx+1:])
	}
	segments := strings.Split(page, ":")
	for i, seg := range segments {
		segments[i] = escapeComponent(normalizeTitle(seg))
	}
	u := articlePath + strings.Join(segments, ":")
	if fragment != "" {
		u += "#" + escapeComponent(normalizeTitle(fragment))
	}
	return u
}

func normalizeTitle(s string) string {
	return strings.ReplaceAll(s, " ", "_")
}

var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// escapeComponent escapes everything except the unreserved characters a
// browser leaves alone in a URI component.
func escapeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

// FullSizeImageURL maps a MediaWiki thumbnail URL
// (".../images/thumb/a/ab/File.png/512px-File.png") to the original upload.
// URLs that are not thumbnails are returned unchanged.
func FullSizeImageURL(src string) string {
	if src == "" {
		return ""
	}
	u, err := url.Parse(src)
	if err != nil {
		return src
	}
	p := u.Path
	idx := strings.Index(p, "/thumb/")
	if idx == -1 {
		return src
	}
	rest := p[idx+len("/thumb"):]
	last := strings.LastIndex(rest, "/")
	if last <= 0 {
		return src
	}
	u.Path = p[:idx] + rest[:last]
	u.RawPath = ""
	return u.String()
}

// absoluteURL resolves href against base. Unparseable input is returned as is.
func absoluteURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func parseBase(baseURL string) *url.URL {
	if baseURL == "" {
		return nil
	}
	u, err := url.Parse(baseURL)
	if err != nil || !u.IsAbs() {
		return nil
	}
	return u
}
