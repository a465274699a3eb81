// Package health serves the worker's liveness and statistics endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/adverant/nexus/vocab-worker/internal/logging"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsFunc returns one section of the /stats document
type StatsFunc func(ctx context.Context) (map[string]interface{}, error)

// Server exposes /healthz and /stats
type Server struct {
	http   *http.Server
	logger *logging.Logger
}

// NewRouter builds the health routes. stats sections that fail are reported
// with their error instead of failing the whole response.
func NewRouter(store Pinger, stats map[string]StatsFunc, logger *logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.Nop()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if store != nil {
			if err := store.Ping(ctx); err != nil {
				logger.Warn("health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "healthy",
			"service": "vocab-worker",
		})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string]interface{}, len(stats))
		for name, fn := range stats {
			section, err := fn(r.Context())
			if err != nil {
				out[name] = map[string]interface{}{"error": err.Error()}
				continue
			}
			out[name] = section
		}
		writeJSON(w, http.StatusOK, out)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// NewServer creates a health server listening on addr
func NewServer(addr string, handler http.Handler, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("health server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server stopped", "error", err)
		}
	}()
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
