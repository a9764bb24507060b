package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pricecast/internal/config"
	"pricecast/internal/runner"
)

// Server represents the web server
type Server struct {
	config   *config.Config
	runs     *runner.Manager
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	now      func() time.Time
	srv      *http.Server
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, runs *runner.Manager, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	return &Server{
		config:   cfg,
		runs:     runs,
		gatherer: gatherer,
		logger:   logger.With().Str("component", "web").Logger(),
		now:      time.Now,
	}
}

// Handler returns the HTTP handler with every route mounted
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("POST /api/runs", s.handleSubmit)
	mux.HandleFunc("GET /api/runs", s.handleList)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.handleCancel)
	mux.HandleFunc("GET /api/runs/{id}/chart.png", s.handleChart)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return corsMiddleware(mux)
}

// Start starts the web server on the specified port
func (s *Server) Start(port int) error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info().Int("port", port).Msgf("Starting pricecast API at http://localhost:%d", port)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers for local development
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
