// Package server exposes the conversion pipeline over HTTP: create an
// endpoint from a URL, look a stored result up by key, health. Stored
// results render as JSON by default and CSV on request.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/webtapi/internal/app"
	"github.com/hyperifyio/webtapi/internal/extract"
)

// Server carries the app and version metadata for the HTTP boundary.
type Server struct {
	App     *app.App
	Version string
}

type generateRequest struct {
	URL          string        `json:"url"`
	Query        string        `json:"query,omitempty"`
	Plan         *extract.Plan `json:"plan,omitempty"`
	OutputFormat string        `json:"output_format,omitempty"`
	CacheHours   int           `json:"cache_hours,omitempty"`
}

type generateResponse struct {
	APIKey      string         `json:"api_key"`
	APIEndpoint string         `json:"api_endpoint"`
	SampleData  extract.Result `json:"sample_data"`
}

type errorBody struct {
	Kind    app.Kind `json:"kind"`
	Message string   `json:"message"`
	Hint    string   `json:"hint,omitempty"`
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Post("/generate", s.handleGenerate)
	r.Get("/api/{key}", s.handleLookup)
	r.Get("/health", s.handleHealth)
	return r
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]errorBody{"error": {
			Kind:    app.KindInvalidURL,
			Message: "invalid request body",
		}})
		return
	}

	resp, err := s.App.Convert(r.Context(), app.ConvertRequest{
		URL:            req.URL,
		Intent:         req.Query,
		Plan:           req.Plan,
		FreshnessHours: req.CacheHours,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	endpoint := "/api/" + resp.Key
	if req.OutputFormat == "csv" {
		endpoint += "?format=csv"
	}
	writeJSON(w, http.StatusCreated, generateResponse{
		APIKey:      resp.Key,
		APIEndpoint: endpoint,
		SampleData:  resp.Result,
	})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	res, err := s.App.Lookup(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if wantsCSV(r) {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := writeCSV(w, res); err != nil {
			log.Error().Err(err).Msg("server: csv render failed mid-stream")
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.Version})
}

func wantsCSV(r *http.Request) bool {
	if r.URL.Query().Get("format") == "csv" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/csv")
}

// statusFor maps boundary error kinds to HTTP statuses. Expired records
// collapse into not_found.
func statusFor(kind app.Kind) int {
	switch kind {
	case app.KindInvalidURL, app.KindParseError:
		return http.StatusBadRequest
	case app.KindBlocked:
		return http.StatusForbidden
	case app.KindRateLimited:
		return http.StatusTooManyRequests
	case app.KindNotFound:
		return http.StatusNotFound
	case app.KindNetworkError, app.KindServerError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := app.KindOf(err)
	body := errorBody{Kind: kind, Message: err.Error()}
	var ae *app.Error
	if errors.As(err, &ae) {
		body.Message = ae.Message
		body.Hint = ae.Hint
	}
	if kind == app.KindStorageError || kind == app.KindServerError {
		log.Error().Err(err).Str("kind", string(kind)).Msg("server: request failed")
	}
	writeJSON(w, statusFor(kind), map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("server: encode response")
	}
}
