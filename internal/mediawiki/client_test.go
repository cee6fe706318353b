package mediawiki

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wikiembed/internal/config"
	"github.com/example/wikiembed/internal/wikitest"
)

const testAgent = "wikiembed-test/1.0"

func newTestClient(metrics *Metrics) *Client {
	return NewClient(&http.Client{}, testAgent, zerolog.Nop(), metrics)
}

func fakeWiki() *wikitest.Wiki {
	return &wikitest.Wiki{
		Pages:     map[string]bool{"Jump Boots": true, "Controls": true, "File:Boots.png": true},
		Redirects: map[string]string{"Boots": "Jump Boots", "Steering": "Controls#Steering"},
		Search:    map[string][]string{"jump boot": {"Jump Boots", "Jump Pad"}},
		Text: map[string]string{
			"Jump Boots":   `<div class="mw-parser-output"><p>Boots.</p></div>`,
			"Jump Boots|2": `<div class="mw-parser-output"><h2>History</h2></div>`,
		},
		Sections: map[string][]wikitest.Section{"Jump Boots": {{Index: "1", Line: "Overview"}, {Index: "2", Line: "<i>History</i>"}}},
		Extracts: map[string]string{"Jump Boots": "<p>The <b>Jump Boots</b> are an item.</p>"},
		Images:   map[string]string{"Jump Boots": "https://img.example/images/thumb/a/ab/Boots.png/512px-Boots.png"},
		Files:    map[string]wikitest.File{"File:Boots.png": {URL: "https://img.example/images/a/ab/Boots.png", Mime: "image/png"}},
	}
}

func TestQueryTitle(t *testing.T) {
	w := fakeWiki()
	wiki := wikitest.NewServer(t, w)
	c := newTestClient(nil)
	ctx := context.Background()

	info, err := c.QueryTitle(ctx, wiki, "Jump Boots")
	require.NoError(t, err)
	assert.Equal(t, PageInfo{Title: "Jump Boots"}, info)

	info, err = c.QueryTitle(ctx, wiki, "Steering")
	require.NoError(t, err)
	assert.Equal(t, PageInfo{Title: "Controls", Fragment: "Steering"}, info)

	info, err = c.QueryTitle(ctx, wiki, "Nope")
	require.NoError(t, err)
	assert.True(t, info.Missing)

	for _, r := range w.Requests() {
		assert.Equal(t, testAgent, r.UserAgent)
		assert.Equal(t, "json", r.Query.Get("format"))
		assert.Equal(t, "1", r.Query.Get("redirects"))
	}
}

func TestSearchAndParse(t *testing.T) {
	wiki := wikitest.NewServer(t, fakeWiki())
	c := newTestClient(nil)
	ctx := context.Background()

	titles, err := c.Search(ctx, wiki, "jump boot", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Jump Boots"}, titles)

	titles, err = c.Search(ctx, wiki, "nothing", 1)
	require.NoError(t, err)
	assert.Empty(t, titles)

	text, err := c.ParseText(ctx, wiki, "Jump Boots", "")
	require.NoError(t, err)
	assert.Contains(t, text, "<p>Boots.</p>")

	text, err = c.ParseText(ctx, wiki, "Jump Boots", "2")
	require.NoError(t, err)
	assert.Contains(t, text, "History")

	_, err = c.ParseText(ctx, wiki, "Missing Page", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "missingtitle", apiErr.Code)

	sections, err := c.Sections(ctx, wiki, "Jump Boots")
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "2", sections[1].Index)
	assert.Equal(t, "<i>History</i>", sections[1].Line)

	extract, err := c.Extract(ctx, wiki, "Jump Boots")
	require.NoError(t, err)
	assert.Contains(t, extract, "<b>Jump Boots</b>")

	_, err = c.Extract(ctx, wiki, "Missing Page")
	assert.ErrorIs(t, err, ErrMissing)

	img, err := c.PageImage(ctx, wiki, "Jump Boots", 512)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/images/thumb/a/ab/Boots.png/512px-Boots.png", img)

	file, err := c.ImageInfo(ctx, wiki, "File:Boots.png")
	require.NoError(t, err)
	assert.Equal(t, ImageInfo{Title: "File:Boots.png", URL: "https://img.example/images/a/ab/Boots.png", Mime: "image/png"}, file)

	_, err = c.ImageInfo(ctx, wiki, "File:Nope.png")
	assert.ErrorIs(t, err, ErrMissing)
}

func TestStatusErrorAndMetrics(t *testing.T) {
	w := fakeWiki()
	w.Fail = map[string]int{"query": http.StatusServiceUnavailable}
	wiki := wikitest.NewServer(t, w)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	c := newTestClient(metrics)

	_, err := c.QueryTitle(context.Background(), wiki, "Jump Boots")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)

	_, err = c.Search(context.Background(), wiki, "jump boot", 1)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("query", "http_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("query", "ok")))
}

func TestMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("list") {
		case "search":
			w.Write([]byte(`{"query":{}}`))
		default:
			w.Write([]byte(`<html>maintenance</html>`))
		}
	}))
	defer srv.Close()
	wiki := config.Wiki{ID: "broken", BaseURL: srv.URL, APIEndpoint: srv.URL}
	c := newTestClient(nil)

	_, err := c.QueryTitle(context.Background(), wiki, "Jump Boots")
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)

	_, err = c.Search(context.Background(), wiki, "x", 1)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCompressedBodies(t *testing.T) {
	payload := []byte(`{"query":{"search":[{"title":"Jump Boots"}]}}`)

	var gz bytes.Buffer
	gzw := gzip.NewWriter(&gz)
	gzw.Write(payload)
	gzw.Close()

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zs := enc.EncodeAll(payload, nil)
	enc.Close()

	// Mirrors that store pre-compressed snapshots send xz and bzip2 bodies
	// without a Content-Encoding header.
	xzBody, err := base64.StdEncoding.DecodeString("/Td6WFoAAAFpIt42AgAhARYAAAB0L+WjAQAseyJxdWVyeSI6eyJzZWFyY2giOlt7InRpdGxlIjoiSnVtcCBCb290cyJ9XX19AAAAAPRsUbUAAUEtGpc7jJBCmQ0BAAAAAAFZWg==")
	require.NoError(t, err)
	bzBody, err := base64.StdEncoding.DecodeString("QlpoOTFBWSZTWWIE4XgAABOfgFAAABAQEAAKKmb+KiAAIiCY1GjaTR7KFBo0aDIDRurvUQ/WCx4Kvqx0UkwHb3tNBUvhshZnYu5IpwoSDECcLwA=")
	require.NoError(t, err)

	cases := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{"gzip", "gzip", gz.Bytes()},
		{"zstd", "zstd", zs},
		{"xz", "", xzBody},
		{"bzip2", "", bzBody},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.encoding != "" {
					assert.Contains(t, r.Header.Get("Accept-Encoding"), tc.encoding)
					w.Header().Set("Content-Encoding", tc.encoding)
				}
				w.Write(tc.body)
			}))
			defer srv.Close()
			wiki := config.Wiki{ID: tc.name, BaseURL: srv.URL, APIEndpoint: srv.URL}

			titles, err := newTestClient(nil).Search(context.Background(), wiki, "jump", 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"Jump Boots"}, titles)
		})
	}
}
