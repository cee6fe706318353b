package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/wikiembed/internal/config"
	"github.com/example/wikiembed/internal/mediawiki"
	"github.com/example/wikiembed/internal/titles"
	"github.com/example/wikiembed/internal/wikihtml"
)

const (
	// NoContent stands in for pages and sections that render to nothing.
	NoContent = "No content available."

	pageImageSize = 512
)

var (
	ErrPageNotFound = errors.New("page not found")
	ErrFileNotFound = errors.New("file not found")
)

type TitleResolver interface {
	Resolve(ctx context.Context, wiki config.Wiki, raw string) (string, bool)
}

type MediaAPI interface {
	PageImage(ctx context.Context, wiki config.Wiki, title string, size int) (string, error)
	ImageInfo(ctx context.Context, wiki config.Wiki, title string) (mediawiki.ImageInfo, error)
}

// Page is a ready-to-embed summary of one wiki page or section.
type Page struct {
	Wiki         string                 `json:"wiki"`
	Title        string                 `json:"title"`
	DisplayTitle string                 `json:"display_title"`
	URL          string                 `json:"url"`
	Content      string                 `json:"content"`
	ImageURL     string                 `json:"image_url,omitempty"`
	Gallery      []wikihtml.GalleryItem `json:"gallery,omitempty"`
}

type File struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Mime    string `json:"mime"`
	PageURL string `json:"page_url"`
	// IsMedia reports whether the file is a picture or a video.
	IsMedia bool `json:"is_media"`
}

// Lookup builds page summaries on top of a Fetcher.
type Lookup struct {
	titles  TitleResolver
	fetcher *Fetcher
	media   MediaAPI
	limit   int
	log     zerolog.Logger
}

// NewLookup builds a Lookup. Content is cut to limit runes.
func NewLookup(titles TitleResolver, fetcher *Fetcher, media MediaAPI, limit int, log zerolog.Logger) *Lookup {
	return &Lookup{
		titles:  titles,
		fetcher: fetcher,
		media:   media,
		limit:   limit,
		log:     log.With().Str("component", "lookup").Logger(),
	}
}

// Page summarizes name, which may carry a "#Section" suffix. It fails with
// ErrPageNotFound only when the title cannot be resolved. A section that
// cannot be located falls back to the whole page, and empty pages yield
// NoContent.
func (l *Lookup) Page(ctx context.Context, wiki config.Wiki, name string) (Page, error) {
	raw, section := titles.SplitFragment(name)
	canonical, ok := l.titles.Resolve(ctx, wiki, raw)
	if !ok {
		return Page{}, fmt.Errorf("%q on %s: %w", raw, wiki.ID, ErrPageNotFound)
	}
	page, redirectFragment := titles.SplitFragment(canonical)
	if section == "" {
		section = redirectFragment
	}

	out := Page{Wiki: wiki.ID, Title: page, DisplayTitle: page}
	anchor := ""
	if section != "" {
		if data, ok := l.fetcher.FetchSection(ctx, wiki, page, section); ok {
			out.Content = data.Text
			out.Gallery = data.Gallery
			out.DisplayTitle = page + " § " + data.Heading
			anchor = data.Heading
		} else {
			out.DisplayTitle = titles.JoinFragment(page, section)
			anchor = section
			if whole, ok := l.fetcher.FetchWhole(ctx, wiki, page); ok {
				out.Content = whole.Text
			}
		}
	} else if data, ok := l.fetcher.FetchLead(ctx, wiki, page); ok {
		out.Content = data.Text
	}
	if strings.TrimSpace(out.Content) == "" {
		out.Content = NoContent
	}
	out.Content = Excerpt(out.Content, l.limit)
	out.URL = wikihtml.ArticleURL(wiki.ArticlePath, titles.JoinFragment(page, anchor))
	out.ImageURL = l.pageImage(ctx, wiki, page)
	return out, nil
}

func (l *Lookup) pageImage(ctx context.Context, wiki config.Wiki, page string) string {
	src, err := l.media.PageImage(ctx, wiki, page, pageImageSize)
	if err != nil {
		l.log.Warn().Err(err).Str("wiki", wiki.ID).Str("title", page).Msg("Failed to fetch page image")
		return ""
	}
	return wikihtml.FullSizeImageURL(src)
}

// File describes an uploaded file. The "File:" namespace is added to name
// when it is missing.
func (l *Lookup) File(ctx context.Context, wiki config.Wiki, name string) (File, error) {
	title := strings.TrimSpace(name)
	if title == "" {
		return File{}, ErrFileNotFound
	}
	if !strings.HasPrefix(strings.ToLower(title), "file:") {
		title = "File:" + title
	}
	info, err := l.media.ImageInfo(ctx, wiki, title)
	if errors.Is(err, mediawiki.ErrMissing) {
		return File{}, fmt.Errorf("%q on %s: %w", title, wiki.ID, ErrFileNotFound)
	}
	if err != nil {
		return File{}, fmt.Errorf("file info %q: %w", title, err)
	}
	return File{
		Title:   info.Title,
		URL:     info.URL,
		Mime:    info.Mime,
		PageURL: wikihtml.ArticleURL(wiki.ArticlePath, info.Title),
		IsMedia: strings.HasPrefix(info.Mime, "image/") || strings.HasPrefix(info.Mime, "video/"),
	}, nil
}
