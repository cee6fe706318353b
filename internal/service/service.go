package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/example/wikiembed/internal/config"
	"github.com/example/wikiembed/internal/content"
	"github.com/example/wikiembed/internal/mediawiki"
	"github.com/example/wikiembed/internal/record"
	"github.com/example/wikiembed/internal/references"
	"github.com/example/wikiembed/internal/titles"
)

const (
	journalAttempts = 3
	journalRetry    = 200 * time.Millisecond
)

// ErrNoReference is returned by Lookup when the request text holds no
// [[...]] or {{...}} reference.
var ErrNoReference = errors.New("no page reference in text")

// Sink receives journal records. Key and value are opaque to the sink.
type Sink interface {
	Send(ctx context.Context, key, value []byte) error
}

type promMetrics struct {
	registry    *prometheus.Registry
	handler     http.Handler
	resolutions *prometheus.CounterVec
	journal     *prometheus.CounterVec
}

func newPromMetrics(cache *titles.Cache) *promMetrics {
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wikiembed_resolutions_total",
		Help: "References resolved by wiki, kind and outcome",
	}, []string{"wiki", "kind", "outcome"})
	journal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wikiembed_journal_records_total",
		Help: "Journal records by outcome",
	}, []string{"outcome"})
	cached := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wikiembed_title_cache_entries",
		Help: "Canonical titles currently cached",
	}, func() float64 { return float64(cache.Len()) })

	registry := prometheus.NewRegistry()
	registry.MustRegister(resolutions, journal, cached)

	return &promMetrics{
		registry:    registry,
		handler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		resolutions: resolutions,
		journal:     journal,
	}
}

func (m *promMetrics) resolved(wiki config.Wiki, kind string, ok bool) {
	outcome := "unresolved"
	if ok {
		outcome = "resolved"
	}
	m.resolutions.WithLabelValues(wiki.ID, kind, outcome).Inc()
}

// LookupRequest selects a page either from chat text holding a reference or
// from an explicit name. Without a prefix in the text, Wiki picks the wiki,
// then Category, then the default wiki.
type LookupRequest struct {
	Text     string
	Name     string
	Wiki     string
	Category string
}

// Service wires the wiki client, title resolver, content fetcher and journal
// together behind one API.
type Service struct {
	cfg    config.Config
	sink   Sink
	prom   *promMetrics
	log    zerolog.Logger
	now    func() time.Time
	lookup *content.Lookup
	refs   *references.Resolver
}

func NewService(cfg config.Config, client *http.Client, sink Sink, log zerolog.Logger) *Service {
	cache := titles.NewCache(cfg.CacheSize, cfg.CacheTTL)
	prom := newPromMetrics(cache)
	api := mediawiki.NewClient(client, cfg.UserAgent, log, mediawiki.NewMetrics(prom.registry))
	resolver := titles.NewResolver(api, cache, log)
	fetcher := content.NewFetcher(api, titles.NewLocator(api, resolver, log), log)

	return &Service{
		cfg:    cfg,
		sink:   sink,
		prom:   prom,
		log:    log.With().Str("component", "service").Logger(),
		now:    time.Now,
		lookup: content.NewLookup(resolver, fetcher, api, cfg.ExcerptLimit, log),
		refs: references.NewResolver(resolver, fetcher, references.Options{
			MaxConcurrency: cfg.MaxConcurrency,
			Timeout:        cfg.RequestTimeout,
			Placeholder:    cfg.Placeholder,
			ExcerptLimit:   cfg.ExcerptLimit,
			OnResolved:     prom.resolved,
		}, log),
	}
}

// Resolve expands every reference in text against one wiki. An empty wikiID
// selects the default wiki.
func (s *Service) Resolve(ctx context.Context, wikiID, text string) (string, error) {
	wiki, err := s.cfg.Wiki(wikiID)
	if err != nil {
		return "", err
	}
	start := s.now()
	out := s.refs.Resolve(ctx, wiki, text)
	s.publish(ctx, record.Resolution{
		Wiki:     wiki.ID,
		Kind:     record.KindResolve,
		Input:    text,
		Output:   out,
		Duration: s.now().Sub(start),
		Time:     start,
	})
	return out, nil
}

// Lookup summarizes the page named by req.
func (s *Service) Lookup(ctx context.Context, req LookupRequest) (content.Page, error) {
	wiki, name, err := s.route(req)
	if err != nil {
		return content.Page{}, err
	}
	start := s.now()
	page, err := s.lookup.Page(ctx, wiki, name)
	rec := record.Resolution{Wiki: wiki.ID, Kind: record.KindPage, Input: name, Output: page.URL, Time: start}
	if err != nil {
		rec.Error = err.Error()
	}
	rec.Duration = s.now().Sub(start)
	s.publish(ctx, rec)
	return page, err
}

func (s *Service) route(req LookupRequest) (config.Wiki, string, error) {
	name := req.Name
	prefix := ""
	if req.Text != "" {
		parsed, ok := references.ParseRequest(req.Text, s.cfg.Prefixes())
		if !ok {
			return config.Wiki{}, "", ErrNoReference
		}
		name, prefix = parsed.Name, parsed.Prefix
	}
	if name == "" {
		return config.Wiki{}, "", ErrNoReference
	}
	if prefix != "" {
		wiki, ok := s.cfg.WikiForPrefix(prefix)
		if !ok {
			return config.Wiki{}, "", fmt.Errorf("prefix %q: %w", prefix, config.ErrUnknownWiki)
		}
		return wiki, name, nil
	}
	if req.Wiki == "" && req.Category != "" {
		return s.cfg.WikiForCategory(req.Category), name, nil
	}
	wiki, err := s.cfg.Wiki(req.Wiki)
	return wiki, name, err
}

// File describes an uploaded file on one wiki.
func (s *Service) File(ctx context.Context, wikiID, name string) (content.File, error) {
	wiki, err := s.cfg.Wiki(wikiID)
	if err != nil {
		return content.File{}, err
	}
	start := s.now()
	file, err := s.lookup.File(ctx, wiki, name)
	rec := record.Resolution{Wiki: wiki.ID, Kind: record.KindFile, Input: name, Output: file.URL, Time: start}
	if err != nil {
		rec.Error = err.Error()
	}
	rec.Duration = s.now().Sub(start)
	s.publish(ctx, rec)
	return file, err
}

func (s *Service) Wikis() []config.Wiki {
	return s.cfg.SortedWikis()
}

func (s *Service) MetricsHandler() http.Handler {
	return s.prom.handler
}

// publish hands rec to the sink, retrying a few times. Journal failures never
// fail the request that produced the record.
func (s *Service) publish(ctx context.Context, rec record.Resolution) {
	if s.sink == nil {
		return
	}
	data, err := record.Marshal(rec)
	if err != nil {
		s.log.Error().Err(err).Str("wiki", rec.Wiki).Msg("Failed to encode journal record")
		s.prom.journal.WithLabelValues("encode_error").Inc()
		return
	}
	for attempt := 1; ; attempt++ {
		err := s.sink.Send(ctx, rec.Key(), data)
		if err == nil {
			s.prom.journal.WithLabelValues("sent").Inc()
			return
		}
		s.log.Warn().Err(err).Str("wiki", rec.Wiki).Int("attempt", attempt).Msg("Journal sink error")
		if attempt == journalAttempts || !sleepWithContext(ctx, journalRetry) {
			s.prom.journal.WithLabelValues("dropped").Inc()
			return
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
