// Package wikitest serves a scripted MediaWiki action API for tests.
package wikitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/wikiembed/internal/config"
)

type Section struct {
	Index string
	Line  string
}

type File struct {
	URL  string
	Mime string
}

// Wiki is the scripted content of a fake wiki. Fields must not be changed
// once the server is running.
type Wiki struct {
	// Pages lists the canonical titles that exist.
	Pages map[string]bool
	// Redirects maps a title to its target, optionally "Target#Fragment".
	Redirects map[string]string
	// Search maps a search query to ranked result titles.
	Search map[string][]string
	// Text maps "Page" or "Page|<section index>" to rendered HTML.
	Text     map[string]string
	Sections map[string][]Section
	Extracts map[string]string
	Images   map[string]string
	Files    map[string]File
	// Fail maps an operation (query, search, parse, sections, extracts,
	// pageimages, imageinfo) to the HTTP status it should answer with.
	Fail map[string]int
	// Delay holds every response until it expires or the request is canceled.
	Delay time.Duration

	mu       sync.Mutex
	requests []Request
}

type Request struct {
	Op        string
	Query     url.Values
	UserAgent string
}

// NewServer starts the fake wiki and returns a wiki config pointing at it.
func NewServer(t testing.TB, w *Wiki) config.Wiki {
	t.Helper()
	srv := httptest.NewServer(w)
	t.Cleanup(srv.Close)
	return config.Wiki{
		ID:          "test",
		Name:        "Test Wiki",
		BaseURL:     srv.URL,
		APIEndpoint: srv.URL + "/w/api.php",
		ArticlePath: srv.URL + "/",
		Prefix:      "tw",
	}
}

// Requests returns the requests served so far.
func (w *Wiki) Requests() []Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Request(nil), w.requests...)
}

// Count returns how many requests were made for op.
func (w *Wiki) Count(op string) int {
	n := 0
	for _, r := range w.Requests() {
		if r.Op == op {
			n++
		}
	}
	return n
}

func (w *Wiki) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	op := operation(q)
	w.mu.Lock()
	w.requests = append(w.requests, Request{Op: op, Query: q, UserAgent: r.Header.Get("User-Agent")})
	w.mu.Unlock()

	if w.Delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(w.Delay):
		}
	}
	if code, ok := w.Fail[op]; ok {
		http.Error(rw, http.StatusText(code), code)
		return
	}

	var body any
	switch op {
	case "search":
		body = w.search(q)
	case "sections":
		body = w.sections(q)
	case "parse":
		body = w.parse(q)
	default:
		body = w.query(op, q)
	}
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(body)
}

func operation(q url.Values) string {
	switch {
	case q.Get("action") == "parse" && q.Get("prop") == "sections":
		return "sections"
	case q.Get("action") == "parse":
		return "parse"
	case q.Get("list") == "search":
		return "search"
	case q.Get("prop") != "":
		return q.Get("prop")
	default:
		return "query"
	}
}

func (w *Wiki) query(op string, q url.Values) map[string]any {
	title := q.Get("titles")
	query := map[string]any{}
	if target, ok := w.Redirects[title]; ok {
		to, fragment, _ := strings.Cut(target, "#")
		redirect := map[string]any{"from": title, "to": to}
		if fragment != "" {
			redirect["tofragment"] = fragment
		}
		query["redirects"] = []any{redirect}
		title = to
	}

	page := map[string]any{"ns": 0, "title": title}
	id := "-1"
	_, isFile := w.Files[title]
	if w.Pages[title] || isFile {
		id = strconv.Itoa(len(title))
		page["pageid"] = len(title)
	} else {
		page["missing"] = ""
	}
	switch op {
	case "extracts":
		if ex, ok := w.Extracts[title]; ok {
			page["extract"] = ex
		}
	case "pageimages":
		if src, ok := w.Images[title]; ok {
			page["thumbnail"] = map[string]any{"source": src, "width": 512, "height": 512}
		}
	case "imageinfo":
		if f, ok := w.Files[title]; ok {
			page["imageinfo"] = []any{map[string]any{"url": f.URL, "mime": f.Mime}}
		}
	}
	query["pages"] = map[string]any{id: page}
	if q.Get("indexpageids") != "" {
		query["pageids"] = []string{id}
	}
	return map[string]any{"batchcomplete": "", "query": query}
}

func (w *Wiki) search(q url.Values) map[string]any {
	hits := w.Search[q.Get("srsearch")]
	if limit, err := strconv.Atoi(q.Get("srlimit")); err == nil && limit < len(hits) {
		hits = hits[:limit]
	}
	results := make([]any, 0, len(hits))
	for _, title := range hits {
		results = append(results, map[string]any{"ns": 0, "title": title})
	}
	return map[string]any{"query": map[string]any{"search": results}}
}

func (w *Wiki) sections(q url.Values) map[string]any {
	page := q.Get("page")
	outline, ok := w.Sections[page]
	if !ok && !w.Pages[page] {
		return missingTitle()
	}
	list := make([]any, 0, len(outline))
	for i, s := range outline {
		list = append(list, map[string]any{"toclevel": 1, "level": "2", "line": s.Line, "number": strconv.Itoa(i + 1), "index": s.Index})
	}
	return map[string]any{"parse": map[string]any{"title": page, "sections": list}}
}

func (w *Wiki) parse(q url.Values) map[string]any {
	key := q.Get("page")
	if s := q.Get("section"); s != "" {
		key += "|" + s
	}
	text, ok := w.Text[key]
	if !ok {
		return missingTitle()
	}
	return map[string]any{"parse": map[string]any{"title": q.Get("page"), "text": map[string]any{"*": text}}}
}

func missingTitle() map[string]any {
	return map[string]any{"error": map[string]any{"code": "missingtitle", "info": "The page you specified doesn't exist."}}
}
