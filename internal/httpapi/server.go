// Package httpapi exposes workspace indexing over a small JSON HTTP API.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/internal/metrics"
	"github.com/dshills/gocontext-index/internal/scheduler"
	"github.com/dshills/gocontext-index/internal/workspace"
)

// Server holds the HTTP server and its handler dependencies
type Server struct {
	addr    string
	srv     *http.Server
	handler http.Handler
	logger  *slog.Logger
	h       *handlers
}

// New wires all routes. sched and m may be nil.
func New(addr string, reg *workspace.Registry, m *metrics.Metrics, sched *scheduler.Scheduler, version string) *Server {
	logger := logging.NewModuleLogger("httpapi", "server")
	h := &handlers{
		registry: reg,
		sched:    sched,
		version:  version,
		started:  time.Now(),
		baseCtx:  context.Background(),
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", h.health)
	r.Handle("/metrics", m.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/workspaces", h.listWorkspaces)
		r.Get("/status", h.status)
		r.Post("/index", h.index)
		r.Post("/clear", h.clear)
		r.Post("/stop", h.stop)
		r.Post("/search", h.search)
	})

	return &Server{
		addr:    addr,
		handler: r,
		logger:  logger,
		h:       h,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler { return s.handler }

// Run starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	s.h.baseCtx = context.WithoutCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// requestLogger logs each request through slog. stdout belongs to the MCP
// transport, so chi's default logger cannot be used.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
