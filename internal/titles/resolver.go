// Package titles turns free-form page names into the titles a wiki knows
// them by, and finds sections within those pages.
package titles

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/wikiembed/internal/config"
	"github.com/example/wikiembed/internal/mediawiki"
)

// LookupAPI is the part of the wiki API the resolver needs.
type LookupAPI interface {
	QueryTitle(ctx context.Context, wiki config.Wiki, title string) (mediawiki.PageInfo, error)
	Search(ctx context.Context, wiki config.Wiki, query string, limit int) ([]string, error)
}

// Resolver finds canonical titles: a direct lookup that follows redirects,
// then the top full-text search hit. Nothing is ever guessed.
type Resolver struct {
	api   LookupAPI
	cache *Cache
	log   zerolog.Logger
}

// NewResolver builds a resolver. cache may be nil.
func NewResolver(api LookupAPI, cache *Cache, log zerolog.Logger) *Resolver {
	return &Resolver{
		api:   api,
		cache: cache,
		log:   log.With().Str("component", "titles").Logger(),
	}
}

// Resolve returns the canonical title for raw, with "#fragment" appended when
// a redirect points at a section. ok is false when the wiki knows no such page.
func (r *Resolver) Resolve(ctx context.Context, wiki config.Wiki, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if title, ok := r.cache.get(wiki.ID, raw); ok {
		return title, true
	}
	title, ok := r.resolve(ctx, wiki, raw)
	if ok {
		r.cache.add(wiki.ID, raw, title)
	}
	return title, ok
}

func (r *Resolver) resolve(ctx context.Context, wiki config.Wiki, raw string) (string, bool) {
	info, err := r.api.QueryTitle(ctx, wiki, raw)
	switch {
	case err != nil:
		r.log.Warn().Err(err).Str("wiki", wiki.ID).Str("title", raw).Msg("Direct title lookup failed")
	case !info.Missing && info.Title != "":
		return JoinFragment(info.Title, info.Fragment), true
	}

	hits, err := r.api.Search(ctx, wiki, raw, 1)
	if err != nil {
		r.log.Warn().Err(err).Str("wiki", wiki.ID).Str("title", raw).Msg("Title search failed")
		return "", false
	}
	if len(hits) == 0 {
		r.log.Debug().Str("wiki", wiki.ID).Str("title", raw).Msg("No page matches title")
		return "", false
	}
	return hits[0], true
}

// SplitFragment separates "Page#Fragment" into its parts. Both parts are trimmed.
func SplitFragment(title string) (page, fragment string) {
	page, fragment, _ = strings.Cut(title, "#")
	return strings.TrimSpace(page), strings.TrimSpace(fragment)
}

func JoinFragment(page, fragment string) string {
	if fragment == "" {
		return page
	}
	return page + "#" + fragment
}
