// Package api exposes the HTTP contract: frame ingestion, live status, and
// health.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eduvision/focus-server/internal/admission"
	"github.com/eduvision/focus-server/internal/config"
	"github.com/eduvision/focus-server/internal/framecodec"
	"github.com/eduvision/focus-server/internal/gaze"
	"github.com/eduvision/focus-server/internal/metrics"
	"github.com/eduvision/focus-server/internal/session"
)

// Server wires the frame pipeline behind the HTTP surface.
type Server struct {
	cfg       config.Config
	decoder   *framecodec.Decoder
	extractor gaze.Extractor
	sessions  *session.Aggregator
	limiter   *admission.Limiter
	metrics   *metrics.Metrics
}

// NewServer assembles the HTTP layer on top of the frame pipeline.
func NewServer(cfg config.Config, extractor gaze.Extractor, sessions *session.Aggregator, limiter *admission.Limiter, m *metrics.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		decoder:   framecodec.NewDecoder(cfg.MaxFrameBytes, cfg.MaxFrameDimension),
		extractor: gaze.WithTimeout(extractor, cfg.ExtractorTimeout),
		sessions:  sessions,
		limiter:   limiter,
		metrics:   m,
	}
}

// Router builds the chi router for the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.cfg.AllowedOrigins))

	r.Post("/api/frames", s.handleIngest)
	r.Post("/api/stream-frame", s.handleIngest) // legacy client path
	r.Get("/api/tracking/status", s.handleStatus)
	r.Get("/api/tracking/stream", s.handleStatusStream)
	r.Post("/api/tracking/section", s.handleSectionSwitch)
	r.Get("/api/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)

	return r
}

// corsMiddleware mirrors the browser client's cross-origin contract: either
// a wildcard or an explicit origin allowlist.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
