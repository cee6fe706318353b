package titles

import (
	"context"
	"errors"
	"html"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/wikiembed/internal/config"
	"github.com/example/wikiembed/internal/mediawiki"
)

var ErrSectionNotFound = errors.New("section not found")

var headingTags = regexp.MustCompile(`<[^>]*>?`)

type OutlineAPI interface {
	Sections(ctx context.Context, wiki config.Wiki, page string) ([]mediawiki.SectionInfo, error)
}

// Section locates one heading of a page. Index is only meaningful to render
// requests for the same page.
type Section struct {
	Index   string
	Heading string
}

type Locator struct {
	api    OutlineAPI
	titles *Resolver
	log    zerolog.Logger
}

// NewLocator builds a locator. When titles is not nil the page name is
// canonicalized before the outline is fetched.
func NewLocator(api OutlineAPI, titles *Resolver, log zerolog.Logger) *Locator {
	return &Locator{
		api:    api,
		titles: titles,
		log:    log.With().Str("component", "sections").Logger(),
	}
}

// Locate finds the section whose heading, stripped of markup, equals name
// ignoring case. A miss is final; there is no fuzzy fallback.
func (l *Locator) Locate(ctx context.Context, wiki config.Wiki, title, name string) (Section, bool) {
	s, err := l.LocateErr(ctx, wiki, title, name)
	if err != nil {
		if errors.Is(err, ErrSectionNotFound) {
			l.log.Debug().Str("wiki", wiki.ID).Str("title", title).Str("section", name).Msg("Section not found")
		} else {
			l.log.Warn().Err(err).Str("wiki", wiki.ID).Str("title", title).Str("section", name).Msg("Section outline lookup failed")
		}
		return Section{}, false
	}
	return s, true
}

// LocateErr is Locate for callers that need to tell a missing section
// (ErrSectionNotFound) from a failed lookup.
func (l *Locator) LocateErr(ctx context.Context, wiki config.Wiki, title, name string) (Section, error) {
	name = strings.TrimSpace(name)
	page, _ := SplitFragment(title)
	if name == "" || page == "" {
		return Section{}, ErrSectionNotFound
	}
	if l.titles != nil {
		if canonical, ok := l.titles.Resolve(ctx, wiki, page); ok {
			page, _ = SplitFragment(canonical)
		}
	}
	outline, err := l.api.Sections(ctx, wiki, page)
	if err != nil {
		return Section{}, err
	}
	for _, s := range outline {
		heading := HeadingText(s.Line)
		if strings.EqualFold(heading, name) {
			return Section{Index: s.Index, Heading: heading}, nil
		}
	}
	return Section{}, ErrSectionNotFound
}

// HeadingText strips markup and entities from an outline heading.
func HeadingText(line string) string {
	return strings.TrimSpace(html.UnescapeString(headingTags.ReplaceAllString(line, "")))
}
