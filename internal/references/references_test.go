package references

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/example/wikiembed/internal/config"
	"github.com/example/wikiembed/internal/content"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testWiki = config.Wiki{ID: "sr", BaseURL: "https://superstarracers.wiki", ArticlePath: "https://superstarracers.wiki/"}

type stubTitles struct {
	known map[string]string
	// slow titles block until the context is done.
	slow  map[string]bool
	delay time.Duration

	mu       sync.Mutex
	calls    []string
	inflight atomic.Int32
	peak     atomic.Int32
}

func (s *stubTitles) Resolve(ctx context.Context, _ config.Wiki, raw string) (string, bool) {
	s.mu.Lock()
	s.calls = append(s.calls, raw)
	s.mu.Unlock()

	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if s.slow[raw] {
		<-ctx.Done()
		return "", false
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	title, ok := s.known[raw]
	return title, ok
}

type fetch struct {
	title   string
	section string
}

type stubContent struct {
	leads    map[string]string
	sections map[string]string

	mu      sync.Mutex
	fetches []fetch
}

func (s *stubContent) record(f fetch) {
	s.mu.Lock()
	s.fetches = append(s.fetches, f)
	s.mu.Unlock()
}

func (s *stubContent) FetchSection(_ context.Context, _ config.Wiki, title, section string) (content.Converted, bool) {
	s.record(fetch{title, section})
	text, ok := s.sections[title+"#"+section]
	return content.Converted{Text: text, Heading: section}, ok
}

func (s *stubContent) FetchLead(_ context.Context, _ config.Wiki, title string) (content.Converted, bool) {
	s.record(fetch{title: title})
	text, ok := s.leads[title]
	return content.Converted{Text: text}, ok
}

func newResolver(titles *stubTitles, fetcher *stubContent, opts Options) *Resolver {
	if fetcher == nil {
		fetcher = &stubContent{}
	}
	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = 4
	}
	return NewResolver(titles, fetcher, opts, zerolog.Nop())
}

func TestResolveEndToEnd(t *testing.T) {
	titles := &stubTitles{known: map[string]string{"Jump Boots": "Jump Boots"}}
	r := newResolver(titles, nil, Options{})

	got := r.Resolve(context.Background(), testWiki, "See [[Jump Boots]] and {{Infobox Item}}")
	assert.Equal(t, "See [**Jump Boots**](<https://superstarracers.wiki/Jump_Boots>) and I don't know.", got)
}

func TestResolveLinks(t *testing.T) {
	titles := &stubTitles{known: map[string]string{
		"jump boots": "Jump Boots",
		"Steering":   "Controls#Steering",
		"Controls":   "Controls",
		"Cat":        "Category:Items",
	}}
	r := newResolver(titles, nil, Options{})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"label", "[[jump boots|the boots]]", "[**the boots**](<https://superstarracers.wiki/Jump_Boots>)"},
		{"redirect fragment", "[[Steering]]", "[**Steering**](<https://superstarracers.wiki/Controls#Steering>)"},
		{"explicit fragment", "[[Controls#Turbo Boost]]", "[**Controls#Turbo Boost**](<https://superstarracers.wiki/Controls#Turbo_Boost>)"},
		{"namespace", "[[Cat]]", "[**Cat**](<https://superstarracers.wiki/Category:Items>)"},
		{"unresolved keeps literal target", "go to [[Nowhere Land]]!", "go to [**Nowhere Land**](<https://superstarracers.wiki/Nowhere_Land>)!"},
		{"no references", "plain text", "plain text"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.ResolveLinks(context.Background(), testWiki, tc.in))
		})
	}
}

func TestResolveTemplates(t *testing.T) {
	titles := &stubTitles{known: map[string]string{
		"Jump Boots": "Jump Boots",
		"Steering":   "Controls#Steering",
		"Controls":   "Controls",
		"Empty":      "Empty",
	}}
	fetcher := &stubContent{
		leads:    map[string]string{"Jump Boots": "The **Jump Boots** are an item."},
		sections: map[string]string{"Controls#Steering": "## Steering\nUse the stick."},
	}
	r := newResolver(titles, fetcher, Options{})
	ctx := context.Background()

	assert.Equal(t,
		"**Jump Boots** → The **Jump Boots** are an item.\n<https://superstarracers.wiki/Jump_Boots>",
		r.ResolveTemplates(ctx, testWiki, "{{Jump Boots|unused|params}}"))
	assert.Equal(t,
		"**Steering** → ## Steering\nUse the stick.\n<https://superstarracers.wiki/Controls#Steering>",
		r.ResolveTemplates(ctx, testWiki, "{{Steering}}"))
	assert.Equal(t, "I don't know.", r.ResolveTemplates(ctx, testWiki, "{{Controls#Trivia}}"), "section miss")
	assert.Equal(t, "I don't know.", r.ResolveTemplates(ctx, testWiki, "{{Empty}}"), "no content")
	assert.Equal(t, "I don't know.", r.ResolveTemplates(ctx, testWiki, "{{Unknown}}"))

	assert.Equal(t, []fetch{
		{title: "Jump Boots"},
		{title: "Controls", section: "Steering"},
		{title: "Controls", section: "Trivia"},
		{title: "Empty"},
	}, fetcher.fetches)
}

func TestResolveTemplateExcerpt(t *testing.T) {
	long := strings.Repeat("é", 1500)
	titles := &stubTitles{known: map[string]string{"Long": "Long"}}
	fetcher := &stubContent{leads: map[string]string{"Long": long}}
	r := newResolver(titles, fetcher, Options{Placeholder: "?"})

	got := r.ResolveTemplates(context.Background(), testWiki, "{{Long}}")
	want := "**Long** → " + strings.Repeat("é", 1000) + "\n<https://superstarracers.wiki/Long>"
	assert.Equal(t, want, got)
}

func TestResolveKeepsOrderAcrossLengthChanges(t *testing.T) {
	titles := &stubTitles{
		known: map[string]string{"A": "A", "Bee": "Bee Hive Racing League", "C": "C"},
		delay: 5 * time.Millisecond,
	}
	fetcher := &stubContent{leads: map[string]string{
		"A":                      "Short.",
		"Bee Hive Racing League": "A much longer introduction that changes the buffer length a lot.",
	}}
	r := newResolver(titles, fetcher, Options{})

	got := r.Resolve(context.Background(), testWiki, "1 {{A}} 2 [[Bee|b]] 3 {{C}} 4 [[Nope]] 5")
	assert.Equal(t,
		"1 **A** → Short.\n<https://superstarracers.wiki/A> "+
			"2 [**b**](<https://superstarracers.wiki/Bee_Hive_Racing_League>) "+
			"3 I don't know. "+
			"4 [**Nope**](<https://superstarracers.wiki/Nope>) 5",
		got)
}

func spliceAscending(text string, reps []replacement) string {
	for _, r := range reps {
		text = text[:r.offset] + r.text + text[r.offset+r.length:]
	}
	return text
}

func TestSpliceDescendingRegression(t *testing.T) {
	text := "ab{{x}}cd{{y}}ef"
	matches := ScanTemplates(text)
	require.Len(t, matches, 2)
	reps := []replacement{
		{offset: matches[0].Offset, length: matches[0].Length, text: "LONGER-X"},
		{offset: matches[1].Offset, length: matches[1].Length, text: "Y"},
	}

	assert.NotEqual(t, "abLONGER-XcdYef", spliceAscending(text, append([]replacement(nil), reps...)),
		"applying in ascending order must corrupt later offsets")
	assert.Equal(t, "abLONGER-XcdYef", splice(text, reps))
}

func TestResolveBoundsConcurrency(t *testing.T) {
	titles := &stubTitles{known: map[string]string{}, delay: 20 * time.Millisecond}
	var in strings.Builder
	for i := 0; i < 8; i++ {
		in.WriteString("[[Page " + string(rune('A'+i)) + "]] ")
	}
	r := newResolver(titles, nil, Options{MaxConcurrency: 2})

	got := r.ResolveLinks(context.Background(), testWiki, in.String())
	assert.Len(t, titles.calls, 8)
	assert.LessOrEqual(t, titles.peak.Load(), int32(2))
	assert.Equal(t, 8, strings.Count(got, "[**Page "))
}

func TestResolveDeadline(t *testing.T) {
	titles := &stubTitles{
		known: map[string]string{"Fast": "Fast", "Jump Boots": "Jump Boots"},
		slow:  map[string]bool{"Slow": true},
	}
	fetcher := &stubContent{leads: map[string]string{"Jump Boots": "Boots."}}
	r := newResolver(titles, fetcher, Options{Timeout: 50 * time.Millisecond})

	start := time.Now()
	got := r.ResolveLinks(context.Background(), testWiki, "[[Fast]] [[Slow]]")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "[**Fast**](<https://superstarracers.wiki/Fast>) [**Slow**](<https://superstarracers.wiki/Slow>)", got)

	got = r.ResolveTemplates(context.Background(), testWiki, "{{Slow}} {{Jump Boots}}")
	assert.Equal(t, "I don't know. **Jump Boots** → Boots.\n<https://superstarracers.wiki/Jump_Boots>", got)
}

func TestResolveCanceledContext(t *testing.T) {
	titles := &stubTitles{known: map[string]string{"Jump Boots": "Jump Boots"}}
	r := newResolver(titles, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := r.Resolve(ctx, testWiki, "[[Jump Boots]] {{Jump Boots}}")
	assert.Equal(t, "[**Jump Boots**](<https://superstarracers.wiki/Jump_Boots>) I don't know.", got)
}

func TestResolveReportsOutcomes(t *testing.T) {
	titles := &stubTitles{known: map[string]string{"Jump Boots": "Jump Boots"}}
	var mu sync.Mutex
	counts := map[string]int{}
	r := newResolver(titles, &stubContent{leads: map[string]string{"Jump Boots": "Boots."}}, Options{
		OnResolved: func(wiki config.Wiki, kind string, resolved bool) {
			mu.Lock()
			defer mu.Unlock()
			key := wiki.ID + "/" + kind
			if resolved {
				key += "/ok"
			}
			counts[key]++
		},
	})

	r.Resolve(context.Background(), testWiki, "[[Jump Boots]] [[Nope]] {{Jump Boots}} {{Nope}} {{Nope}}")
	assert.Equal(t, map[string]int{
		"sr/link/ok":     1,
		"sr/link":        1,
		"sr/template/ok": 1,
		"sr/template":    2,
	}, counts)
}

func TestScan(t *testing.T) {
	links := ScanLinks("a [[ Jump Boots | boots ]] b [[Controls#Steering]] [[broken]")
	assert.Equal(t, []Match{
		{Offset: 2, Length: 24, Target: "Jump Boots", Label: "boots"},
		{Offset: 29, Length: 21, Target: "Controls#Steering"},
	}, links)

	templates := ScanTemplates("{{Item|a|b}}{{Other}}")
	assert.Equal(t, []Match{
		{Offset: 0, Length: 12, Target: "Item", Label: "a|b"},
		{Offset: 12, Length: 9, Target: "Other"},
	}, templates)
}

func TestParseRequest(t *testing.T) {
	prefixes := []string{"sr", "sb64"}
	tests := []struct {
		in   string
		want Request
		ok   bool
	}{
		{"what is [[sr:Jump Boots]]?", Request{Prefix: "sr", Name: "Jump Boots"}, true},
		{"{{sb64:Controls#Steering|x}}", Request{Prefix: "sb64", Name: "Controls#Steering", Template: true}, true},
		{"[[Jump Boots|label]]", Request{Name: "Jump Boots"}, true},
		{"[[xx:Jump Boots]]", Request{Name: "xx:Jump Boots"}, true},
		{"{{ Item }} and [[Other]]", Request{Name: "Item", Template: true}, true},
		{"no request here", Request{}, false},
		{"[[ ]]", Request{}, false},
	}
	for _, tc := range tests {
		got, ok := ParseRequest(tc.in, prefixes)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	got, ok := ParseRequest("[[sr:Jump Boots]]", nil)
	require.True(t, ok)
	assert.Equal(t, Request{Name: "sr:Jump Boots"}, got)
}
