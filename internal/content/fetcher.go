// Package content fetches rendered wiki pages and flattens them into chat
// markup.
package content

import (
	"context"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/example/wikiembed/internal/config"
	"github.com/example/wikiembed/internal/titles"
	"github.com/example/wikiembed/internal/wikihtml"
)

// RenderAPI is the part of the wiki API used to render pages.
type RenderAPI interface {
	ParseText(ctx context.Context, wiki config.Wiki, page, section string) (string, error)
	Extract(ctx context.Context, wiki config.Wiki, title string) (string, error)
}

type SectionLocator interface {
	Locate(ctx context.Context, wiki config.Wiki, title, name string) (titles.Section, bool)
}

// Converted is flattened page content. Gallery is only filled for section
// fetches and Heading is the located section heading.
type Converted struct {
	Text    string                 `json:"text"`
	Gallery []wikihtml.GalleryItem `json:"gallery,omitempty"`
	Heading string                 `json:"heading,omitempty"`
}

// Fetcher renders pages, sections and introductions. Every failure is logged
// and reported as ok == false.
type Fetcher struct {
	api      RenderAPI
	sections SectionLocator
	log      zerolog.Logger
}

func NewFetcher(api RenderAPI, sections SectionLocator, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		api:      api,
		sections: sections,
		log:      log.With().Str("component", "content").Logger(),
	}
}

// FetchWhole renders and converts an entire page.
func (f *Fetcher) FetchWhole(ctx context.Context, wiki config.Wiki, title string) (Converted, bool) {
	page, _ := titles.SplitFragment(title)
	markup, err := f.api.ParseText(ctx, wiki, page, "")
	if err != nil {
		f.log.Warn().Err(err).Str("wiki", wiki.ID).Str("title", page).Msg("Failed to fetch page content")
		return Converted{}, false
	}
	text := wikihtml.Convert(markup, wiki.BaseURL)
	if text == "" {
		return Converted{}, false
	}
	return Converted{Text: text}, true
}

// FetchSection renders one named section. Gallery images are pulled out of the
// rendered fragment before it is flattened.
func (f *Fetcher) FetchSection(ctx context.Context, wiki config.Wiki, title, section string) (Converted, bool) {
	page, _ := titles.SplitFragment(title)
	located, ok := f.sections.Locate(ctx, wiki, page, section)
	if !ok {
		return Converted{}, false
	}
	markup, err := f.api.ParseText(ctx, wiki, page, located.Index)
	if err != nil {
		f.log.Warn().Err(err).Str("wiki", wiki.ID).Str("title", page).Str("section", section).Msg("Failed to fetch section content")
		return Converted{}, false
	}
	root, err := wikihtml.Parse(markup)
	if err != nil {
		f.log.Warn().Err(err).Str("wiki", wiki.ID).Str("title", page).Msg("Failed to parse section markup")
		return Converted{}, false
	}
	gallery := wikihtml.ExtractGallery(root, wiki.BaseURL)
	text := wikihtml.ConvertNode(root, wiki.BaseURL)
	if text == "" && len(gallery) == 0 {
		return Converted{}, false
	}
	return Converted{Text: text, Gallery: gallery, Heading: located.Heading}, true
}

// FetchLead converts the introduction of a page.
func (f *Fetcher) FetchLead(ctx context.Context, wiki config.Wiki, title string) (Converted, bool) {
	page, _ := titles.SplitFragment(title)
	markup, err := f.api.Extract(ctx, wiki, page)
	if err != nil {
		f.log.Warn().Err(err).Str("wiki", wiki.ID).Str("title", page).Msg("Failed to fetch lead section")
		return Converted{}, false
	}
	text := wikihtml.Convert(markup, wiki.BaseURL)
	if text == "" {
		return Converted{}, false
	}
	return Converted{Text: text}, true
}

// Excerpt returns at most limit runes of s. A non-positive limit keeps s whole.
func Excerpt(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
