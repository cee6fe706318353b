package mediawiki

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/example/wikiembed/internal/config"
)

var ErrMissing = errors.New("page does not exist")

// Params are the query parameters of one action API request. format=json is
// always added.
type Params map[string]string

func (p Params) action() string {
	if a := p["action"]; a != "" {
		return a
	}
	return "unknown"
}

func (p Params) encode() string {
	v := make(url.Values, len(p)+1)
	for key, value := range p {
		v.Set(key, value)
	}
	v.Set("format", "json")
	return v.Encode()
}

type PageInfo struct {
	Title    string
	Missing  bool
	Fragment string
}

type SectionInfo struct {
	Index  string
	Line   string
	Anchor string
	Level  string
}

type ImageInfo struct {
	Title string
	URL   string
	Mime  string
}

// QueryTitle looks up a title directly, following redirects. A redirect that
// targets a section reports that section in Fragment.
func (c *Client) QueryTitle(ctx context.Context, wiki config.Wiki, title string) (PageInfo, error) {
	doc, err := c.Get(ctx, wiki, Params{
		"action":       "query",
		"titles":       title,
		"redirects":    "1",
		"indexpageids": "1",
	})
	if err != nil {
		return PageInfo{}, err
	}
	query := doc.Get("query")
	id := query.Get("pageids.0")
	if !id.Exists() {
		return PageInfo{}, ErrMalformed
	}
	page, ok := member(query.Get("pages"), id.String())
	if !ok {
		return PageInfo{}, ErrMalformed
	}
	info := PageInfo{
		Title:   page.Get("title").String(),
		Missing: page.Get("missing").Exists() || page.Get("invalid").Exists(),
	}
	for _, r := range query.Get("redirects").Array() {
		if r.Get("to").String() == info.Title {
			info.Fragment = r.Get("tofragment").String()
		}
	}
	return info, nil
}

// Search runs a full-text search and returns the matching titles by rank.
func (c *Client) Search(ctx context.Context, wiki config.Wiki, query string, limit int) ([]string, error) {
	doc, err := c.Get(ctx, wiki, Params{
		"action":   "query",
		"list":     "search",
		"srsearch": query,
		"srlimit":  strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}
	hits := doc.Get("query.search")
	if !hits.IsArray() {
		return nil, ErrMalformed
	}
	var titles []string
	for _, hit := range hits.Array() {
		if t := hit.Get("title").String(); t != "" {
			titles = append(titles, t)
		}
	}
	return titles, nil
}

// ParseText renders a page, or one section of it when section is not empty.
func (c *Client) ParseText(ctx context.Context, wiki config.Wiki, page, section string) (string, error) {
	params := Params{
		"action":             "parse",
		"page":               page,
		"prop":               "text",
		"disablelimitreport": "1",
	}
	if section != "" {
		params["section"] = section
	}
	header := http.Header{}
	header.Set("Origin", wiki.BaseURL)
	doc, err := c.get(ctx, wiki, params, header)
	if err != nil {
		return "", err
	}
	text := doc.Get(`parse.text.\*`)
	if !text.Exists() {
		return "", ErrMalformed
	}
	return text.String(), nil
}

// Sections returns the section outline of a page in document order.
func (c *Client) Sections(ctx context.Context, wiki config.Wiki, page string) ([]SectionInfo, error) {
	doc, err := c.Get(ctx, wiki, Params{
		"action": "parse",
		"page":   page,
		"prop":   "sections",
	})
	if err != nil {
		return nil, err
	}
	list := doc.Get("parse.sections")
	if !list.IsArray() {
		return nil, ErrMalformed
	}
	var out []SectionInfo
	for _, s := range list.Array() {
		out = append(out, SectionInfo{
			Index:  s.Get("index").String(),
			Line:   s.Get("line").String(),
			Anchor: s.Get("anchor").String(),
			Level:  s.Get("level").String(),
		})
	}
	return out, nil
}

// Extract returns the rendered introduction of a page. An existing page with
// no introduction yields an empty string.
func (c *Client) Extract(ctx context.Context, wiki config.Wiki, title string) (string, error) {
	doc, err := c.Get(ctx, wiki, Params{
		"action":    "query",
		"prop":      "extracts",
		"exintro":   "1",
		"redirects": "1",
		"titles":    title,
	})
	if err != nil {
		return "", err
	}
	page, ok := firstPage(doc)
	if !ok {
		return "", ErrMalformed
	}
	if page.Get("missing").Exists() {
		return "", ErrMissing
	}
	return page.Get("extract").String(), nil
}

// PageImage returns the lead image thumbnail of a page, or "" when the page
// has none.
func (c *Client) PageImage(ctx context.Context, wiki config.Wiki, title string, size int) (string, error) {
	doc, err := c.Get(ctx, wiki, Params{
		"action":      "query",
		"prop":        "pageimages",
		"pithumbsize": strconv.Itoa(size),
		"titles":      title,
	})
	if err != nil {
		return "", err
	}
	page, ok := firstPage(doc)
	if !ok {
		return "", ErrMalformed
	}
	return page.Get("thumbnail.source").String(), nil
}

// ImageInfo describes an uploaded file. title must include the file namespace.
func (c *Client) ImageInfo(ctx context.Context, wiki config.Wiki, title string) (ImageInfo, error) {
	doc, err := c.Get(ctx, wiki, Params{
		"action":    "query",
		"prop":      "imageinfo",
		"iiprop":    "url|mime",
		"redirects": "1",
		"titles":    title,
	})
	if err != nil {
		return ImageInfo{}, err
	}
	page, ok := firstPage(doc)
	if !ok {
		return ImageInfo{}, ErrMalformed
	}
	if page.Get("missing").Exists() && !page.Get("imageinfo").Exists() {
		return ImageInfo{}, ErrMissing
	}
	info := page.Get("imageinfo.0")
	if !info.Exists() {
		return ImageInfo{}, ErrMalformed
	}
	return ImageInfo{
		Title: page.Get("title").String(),
		URL:   info.Get("url").String(),
		Mime:  info.Get("mime").String(),
	}, nil
}

func firstPage(doc gjson.Result) (gjson.Result, bool) {
	pages := doc.Get("query.pages")
	if !pages.IsObject() {
		return gjson.Result{}, false
	}
	var first gjson.Result
	found := false
	pages.ForEach(func(_, value gjson.Result) bool {
		first = value
		found = true
		return false
	})
	return first, found
}

func member(obj gjson.Result, key string) (gjson.Result, bool) {
	if !obj.IsObject() {
		return gjson.Result{}, false
	}
	var out gjson.Result
	found := false
	obj.ForEach(func(k, value gjson.Result) bool {
		if k.String() == key {
			out = value
			found = true
			return false
		}
		return true
	})
	return out, found
}
