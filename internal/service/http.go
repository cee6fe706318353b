package service

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/example/wikiembed/internal/config"
	"github.com/example/wikiembed/internal/content"
)

const maxRequestBytes = 64 << 10

type resolveRequest struct {
	Wiki string `json:"wiki"`
	Text string `json:"text"`
}

type resolveResponse struct {
	Text string `json:"text"`
}

type wikiInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Prefix  string `json:"prefix,omitempty"`
	Emoji   string `json:"emoji,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the HTTP API:
//
//	POST /resolve  {"wiki": "...", "text": "..."} -> {"text": "..."}
//	GET  /page     ?text= or ?name=, with optional wiki and category
//	GET  /file     ?wiki=&name=
//	GET  /wikis
//	GET  /metrics
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /resolve", func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
		out, err := s.Resolve(r.Context(), req.Wiki, req.Text)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resolveResponse{Text: out})
	})
	mux.HandleFunc("GET /page", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, err := s.Lookup(r.Context(), LookupRequest{
			Text:     q.Get("text"),
			Name:     q.Get("name"),
			Wiki:     q.Get("wiki"),
			Category: q.Get("category"),
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	})
	mux.HandleFunc("GET /file", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		file, err := s.File(r.Context(), q.Get("wiki"), q.Get("name"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, file)
	})
	mux.HandleFunc("GET /wikis", func(w http.ResponseWriter, r *http.Request) {
		wikis := s.Wikis()
		out := make([]wikiInfo, 0, len(wikis))
		for _, wiki := range wikis {
			out = append(out, wikiInfo{ID: wiki.ID, Name: wiki.Name, BaseURL: wiki.BaseURL, Prefix: wiki.Prefix, Emoji: wiki.Emoji})
		}
		writeJSON(w, http.StatusOK, out)
	})
	mux.Handle("GET /metrics", s.MetricsHandler())
	return mux
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, config.ErrUnknownWiki), errors.Is(err, ErrNoReference):
		status = http.StatusBadRequest
	case errors.Is(err, content.ErrPageNotFound), errors.Is(err, content.ErrFileNotFound):
		status = http.StatusNotFound
	default:
		s.log.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
