// Package httpadapter serves operational endpoints for a long-running
// pipeline command.
package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/conus404-etl/internal/domain"
	"github.com/couchcryptid/conus404-etl/internal/pipeline"
)

// RunMonitor reports on the jobs of the current run. *pipeline.Runner
// satisfies it.
type RunMonitor interface {
	sharedobs.ReadinessChecker
	Progress() pipeline.Progress
}

// progressResponse is the /progress body.
type progressResponse struct {
	pipeline.Progress
	Uptime string `json:"uptime"`
}

// Server exposes liveness, readiness, run progress and metrics.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	started    time.Time
}

// NewServer creates a server with /healthz, /readyz, /progress and /metrics.
// /readyz turns ready once the run has completed a job.
func NewServer(addr string, run RunMonitor, logger *slog.Logger) *Server {
	s := &Server{logger: logger, started: domain.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(run))
	mux.HandleFunc("GET /progress", s.handleProgress(run))
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) handleProgress(run RunMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		uptime := domain.Now().Sub(s.started).Truncate(time.Second)
		sharedobs.WriteJSON(w, http.StatusOK, progressResponse{Progress: run.Progress(), Uptime: uptime.String()})
	}
}

// logRequests logs each request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(began))
	})
}

// Start listens until Shutdown, then returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains connections within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP lets tests drive the routes without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
