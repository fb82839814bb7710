// Package server implements the nimbusfs HTTP gateway.
//
// The gateway exposes the filesystem over a small REST surface:
//
//	GET    /healthz              liveness
//	GET    /version              build metadata
//	GET    /metrics              Prometheus metrics (when enabled)
//	GET    /l/{bucket}           list entries under a bucket or ?prefix=
//	GET    /o/{bucket}/{key}     download an object
//	HEAD   /o/{bucket}/{key}     object metadata
//	PUT    /o/{bucket}/{key}     upload an object
//	DELETE /o/{bucket}/{key}     delete an object
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/config"
	"github.com/3leaps/nimbusfs/internal/server/handlers"
	"github.com/3leaps/nimbusfs/internal/server/middleware"
)

// Server is the HTTP gateway in front of an object store.
type Server struct {
	cfg    config.ServerConfig
	router chi.Router
	srv    *http.Server
	log    *zap.Logger
}

// New builds a Server routing requests to the given store.
//
// registry may be nil, in which case /metrics serves the default
// Prometheus registry when metrics are enabled.
func New(cfg *config.Config, store handlers.ObjectStore, log *zap.Logger, registry *prometheus.Registry) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer(log))
	r.Use(middleware.RequestLogger(log))
	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	if cfg.Health.Enabled {
		r.Get("/healthz", handlers.Healthz)
	}
	r.Get("/version", handlers.Version)

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		if registry != nil {
			r.Method(http.MethodGet, path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		} else {
			r.Method(http.MethodGet, path, promhttp.Handler())
		}
	}

	objects := &handlers.Objects{Store: store, Log: log}
	r.Get("/l/{bucket}", objects.List)
	r.Get("/o/{bucket}/*", objects.Get)
	r.Head("/o/{bucket}/*", objects.Head)
	r.Put("/o/{bucket}/*", objects.Put)
	r.Delete("/o/{bucket}/*", objects.Delete)

	return &Server{
		cfg:    cfg.Server,
		router: r,
		log:    log,
	}
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Start runs the HTTP server until the context is cancelled, then
// drains in-flight requests within the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gateway listening", zap.String("addr", s.Addr()))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.log.Info("gateway shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
