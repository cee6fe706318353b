// Package references expands [[link]] and {{template}} references in chat
// text into links and page excerpts.
package references

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/example/wikiembed/internal/config"
	"github.com/example/wikiembed/internal/content"
	"github.com/example/wikiembed/internal/titles"
	"github.com/example/wikiembed/internal/wikihtml"
)

const (
	DefaultPlaceholder  = "I don't know."
	DefaultExcerptLimit = 1000
)

const (
	KindLink     = "link"
	KindTemplate = "template"
)

type TitleResolver interface {
	Resolve(ctx context.Context, wiki config.Wiki, raw string) (string, bool)
}

type ContentFetcher interface {
	FetchSection(ctx context.Context, wiki config.Wiki, title, section string) (content.Converted, bool)
	FetchLead(ctx context.Context, wiki config.Wiki, title string) (content.Converted, bool)
}

type Options struct {
	// MaxConcurrency bounds the lookups in flight for one pass.
	MaxConcurrency int
	// Timeout bounds a whole Resolve call. Zero disables the deadline.
	Timeout      time.Duration
	Placeholder  string
	ExcerptLimit int
	// OnResolved, when set, is called once per match after its pass.
	OnResolved func(wiki config.Wiki, kind string, resolved bool)
}

type Resolver struct {
	titles  TitleResolver
	content ContentFetcher
	opts    Options
	log     zerolog.Logger
}

func NewResolver(titles TitleResolver, content ContentFetcher, opts Options, log zerolog.Logger) *Resolver {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.Placeholder == "" {
		opts.Placeholder = DefaultPlaceholder
	}
	if opts.ExcerptLimit <= 0 {
		opts.ExcerptLimit = DefaultExcerptLimit
	}
	return &Resolver{
		titles:  titles,
		content: content,
		opts:    opts,
		log:     log.With().Str("component", "references").Logger(),
	}
}

// Resolve runs the link pass and then the template pass over text.
func (r *Resolver) Resolve(ctx context.Context, wiki config.Wiki, text string) string {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	text = r.ResolveLinks(ctx, wiki, text)
	return r.ResolveTemplates(ctx, wiki, text)
}

// ResolveLinks replaces every [[target|label]] with a bold markdown link.
// Targets the wiki does not know are linked as written.
func (r *Resolver) ResolveLinks(ctx context.Context, wiki config.Wiki, text string) string {
	matches := ScanLinks(text)
	if len(matches) == 0 {
		return text
	}
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	reps := r.resolveAll(ctx, wiki, KindLink, matches,
		func(ctx context.Context, m Match) (string, bool) {
			title, ok := r.canonical(ctx, wiki, m.Target)
			if !ok {
				title = m.Target
			}
			return r.link(wiki, m, title), ok
		},
		func(m Match) string { return r.link(wiki, m, m.Target) },
	)
	return splice(text, reps)
}

// ResolveTemplates replaces every {{name}} with an excerpt of the named page,
// or the placeholder when there is nothing to show.
func (r *Resolver) ResolveTemplates(ctx context.Context, wiki config.Wiki, text string) string {
	matches := ScanTemplates(text)
	if len(matches) == 0 {
		return text
	}
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	reps := r.resolveAll(ctx, wiki, KindTemplate, matches,
		func(ctx context.Context, m Match) (string, bool) {
			return r.transclude(ctx, wiki, m)
		},
		func(Match) string { return r.opts.Placeholder },
	)
	return splice(text, reps)
}

func (r *Resolver) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.Timeout)
}

// canonical resolves target, keeping an explicit "#fragment" over the one a
// redirect may point at.
func (r *Resolver) canonical(ctx context.Context, wiki config.Wiki, target string) (string, bool) {
	page, fragment := titles.SplitFragment(target)
	if page == "" {
		return "", false
	}
	title, ok := r.titles.Resolve(ctx, wiki, page)
	if !ok {
		return "", false
	}
	if fragment != "" {
		resolved, _ := titles.SplitFragment(title)
		title = titles.JoinFragment(resolved, fragment)
	}
	return title, true
}

func (r *Resolver) link(wiki config.Wiki, m Match, title string) string {
	label := m.Label
	if label == "" {
		label = m.Target
	}
	return "[**" + label + "**](<" + wikihtml.ArticleURL(wiki.ArticlePath, title) + ">)"
}

func (r *Resolver) transclude(ctx context.Context, wiki config.Wiki, m Match) (string, bool) {
	title, ok := r.canonical(ctx, wiki, m.Target)
	if !ok {
		return r.opts.Placeholder, false
	}
	page, fragment := titles.SplitFragment(title)
	var data content.Converted
	if fragment != "" {
		data, ok = r.content.FetchSection(ctx, wiki, page, fragment)
	} else {
		data, ok = r.content.FetchLead(ctx, wiki, page)
	}
	if !ok || data.Text == "" {
		return r.opts.Placeholder, false
	}
	return "**" + m.Target + "** → " + content.Excerpt(data.Text, r.opts.ExcerptLimit) +
		"\n<" + wikihtml.ArticleURL(wiki.ArticlePath, title) + ">", true
}

type resolveFunc func(ctx context.Context, m Match) (string, bool)

// resolveAll runs resolve for every match with bounded concurrency. Each task
// owns one slot of the result. Matches still pending when ctx is done keep
// their fallback text.
func (r *Resolver) resolveAll(ctx context.Context, wiki config.Wiki, kind string, matches []Match, resolve resolveFunc, fallback func(Match) string) []replacement {
	reps := make([]replacement, len(matches))
	resolved := make([]bool, len(matches))
	for i, m := range matches {
		reps[i] = replacement{offset: m.Offset, length: m.Length, text: fallback(m)}
	}

	var (
		mu     sync.Mutex
		closed bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxConcurrency)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, m := range matches {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				text, ok := resolve(gctx, m)
				if gctx.Err() != nil {
					return nil
				}
				mu.Lock()
				if !closed {
					reps[i].text = text
					resolved[i] = ok
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn().Err(ctx.Err()).Str("wiki", wiki.ID).Str("kind", kind).Int("matches", len(matches)).
			Msg("Reference resolution deadline expired, pending matches left unresolved")
	}

	mu.Lock()
	closed = true
	out := append([]replacement(nil), reps...)
	ok := append([]bool(nil), resolved...)
	mu.Unlock()

	if r.opts.OnResolved != nil {
		for _, v := range ok {
			r.opts.OnResolved(wiki, kind, v)
		}
	}
	return out
}
