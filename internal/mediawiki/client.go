// Package mediawiki is a small client for the MediaWiki action API.
//
// Every call returns either a parsed gjson document or one of three errors:
// *StatusError for non-2xx responses, *APIError when the API reports an error
// object, and ErrMalformed when the payload is not the expected JSON.
package mediawiki

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	xz "github.com/xi2/xz"

	"github.com/example/wikiembed/internal/config"
)

const (
	maxBodyBytes           = 8 << 20
	maxContentDecodePasses = 3
)

var ErrMalformed = errors.New("malformed api response")

type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

type APIError struct {
	Code string
	Info string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Info)
}

type Client struct {
	http      *http.Client
	userAgent string
	metrics   *Metrics
	log       zerolog.Logger
}

// NewClient wraps an http.Client. metrics may be nil.
func NewClient(client *http.Client, userAgent string, log zerolog.Logger, metrics *Metrics) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		http:      client,
		userAgent: userAgent,
		metrics:   metrics,
		log:       log.With().Str("component", "mediawiki").Logger(),
	}
}

// Get issues one action API request against wiki and returns the decoded
// document.
func (c *Client) Get(ctx context.Context, wiki config.Wiki, params Params) (gjson.Result, error) {
	return c.get(ctx, wiki, params, nil)
}

func (c *Client) get(ctx context.Context, wiki config.Wiki, params Params, header http.Header) (gjson.Result, error) {
	action := params.action()
	start := time.Now()
	doc, err := c.do(ctx, wiki, params, header)
	c.metrics.observe(action, outcome(err), time.Since(start))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s %s: %w", wiki.ID, action, err)
	}
	return doc, nil
}

func (c *Client) do(ctx context.Context, wiki config.Wiki, params Params, header http.Header) (gjson.Result, error) {
	target := wiki.APIEndpoint + "?" + params.encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, zstd")

	c.log.Debug().Str("wiki", wiki.ID).Str("url", target).Msg("api request")
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return gjson.Result{}, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return gjson.Result{}, err
	}
	body, err = normalizeBody(body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("decode body: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, ErrMalformed
	}
	doc := gjson.ParseBytes(body)
	if apiErr := doc.Get("error"); apiErr.Exists() {
		return gjson.Result{}, &APIError{Code: apiErr.Get("code").String(), Info: apiErr.Get("info").String()}
	}
	return doc, nil
}

func outcome(err error) string {
	var statusErr *StatusError
	var apiErr *APIError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &statusErr):
		return "http_error"
	case errors.As(err, &apiErr):
		return "api_error"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "transport_error"
	}
}

// normalizeBody undoes content encodings the transport left in place, since
// setting Accept-Encoding by hand disables Go's transparent gzip handling.
func normalizeBody(data []byte) ([]byte, error) {
	var err error
	for pass := 0; pass < maxContentDecodePasses; pass++ {
		if isProbablyJSON(data) {
			return data, nil
		}
		switch detectCompression(data) {
		case "gzip":
			var reader *gzip.Reader
			reader, err = gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, err
			}
			data, err = io.ReadAll(io.LimitReader(reader, maxBodyBytes))
			closeErr := reader.Close()
			if err == nil && closeErr != nil {
				err = closeErr
			}
		case "xz":
			var xzr *xz.Reader
			xzr, err = xz.NewReader(bytes.NewReader(data), 0)
			if err != nil {
				return nil, err
			}
			data, err = io.ReadAll(io.LimitReader(xzr, maxBodyBytes))
		case "zstd":
			var dec *zstd.Decoder
			dec, err = zstd.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, err
			}
			data, err = io.ReadAll(io.LimitReader(dec, maxBodyBytes))
			dec.Close()
		case "bzip2":
			data, err = io.ReadAll(io.LimitReader(bzip2.NewReader(bytes.NewReader(data)), maxBodyBytes))
		default:
			return data, nil
		}
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

func detectCompression(data []byte) string {
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		return "gzip"
	}
	if len(data) >= 6 && bytes.HasPrefix(data, []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}) {
		return "xz"
	}
	if len(data) >= 4 && bytes.HasPrefix(data, []byte{0x28, 0xB5, 0x2F, 0xFD}) {
		return "zstd"
	}
	if len(data) >= 3 && bytes.HasPrefix(data, []byte{'B', 'Z', 'h'}) {
		return "bzip2"
	}
	return ""
}

func isProbablyJSON(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return false
	}
	return trimmed[0] == '{' || trimmed[0] == '['
}
