// Package server exposes health, metrics and pipeline status over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"subwatch/internal/metrics"
	"subwatch/internal/model"
	"subwatch/internal/pipeline"
)

// PoolStats reports how many submissions sit in each pipeline stage.
type PoolStats interface {
	Stats() pipeline.Stats
}

// Subscriptions reports the subscription registry state.
type Subscriptions interface {
	Count() int
	LatestID() (model.SubmissionID, bool)
}

// CacheCounter reports the number of cached media entries.
type CacheCounter interface {
	Count(ctx context.Context) (int, error)
}

// Deps are the sources the status endpoints read from. Cache may be nil.
type Deps struct {
	Pool          PoolStats
	Subscriptions Subscriptions
	Cache         CacheCounter
	Gatherer      prometheus.Gatherer
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Pool          map[string]int `json:"pool"`
	InFlight      int            `json:"in_flight"`
	Subscriptions int            `json:"subscriptions"`
	LatestID      *string        `json:"latest_id"`
	CachedMedia   *int           `json:"cached_media,omitempty"`
}

// NewRouter returns the status server routes.
func NewRouter(deps Deps, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	r.Get("/status", statusHandler(deps, log))

	return r
}

func statusHandler(deps Deps, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := deps.Pool.Stats()
		resp := StatusResponse{
			Pool:          stats.Map(),
			InFlight:      stats.Total(),
			Subscriptions: deps.Subscriptions.Count(),
		}
		if id, ok := deps.Subscriptions.LatestID(); ok {
			s := id.String()
			resp.LatestID = &s
		}
		if deps.Cache != nil {
			n, err := deps.Cache.Count(r.Context())
			if err != nil {
				log.Warn("count cached media", "error", err)
			} else {
				resp.CachedMedia = &n
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error("encode status", "error", err)
		}
	}
}

// Server serves the status routes until its context is cancelled.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// New creates a Server listening on addr.
func New(addr string, handler http.Handler, log *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.With("component", "server"),
	}
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("status server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}
