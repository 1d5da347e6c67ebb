// Package api is the JSON HTTP surface of a syncstore node.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-syncstore/pkg/logging"
)

// NewServer creates a new API server
func NewServer(store DocumentStore, config ServerConfig) *Server {
	config.applyDefaults()
	return &Server{
		store:           store,
		healthChecker:   config.HealthChecker,
		metricsRegistry: config.MetricsRegistry,
		logger:          config.Logger.With(logging.Component("api")),
		maxBodyBytes:    config.MaxBodyBytes,
		startTime:       time.Now(),
		version:         config.Version,
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	router.Use(s.requestIDMiddleware)
	router.Use(s.panicRecoveryMiddleware)
	router.Use(s.loggingMiddleware)
	router.Use(s.metricsMiddleware)

	// Health and metrics
	router.Get("/health", s.healthChecker.HTTPHandler())
	router.Get("/health/ready", s.healthChecker.ReadinessHandler())
	router.Get("/health/live", s.healthChecker.LivenessHandler())
	router.Handle("/metrics", promhttp.HandlerFor(s.metricsRegistry.GetPrometheusRegistry(), promhttp.HandlerOpts{}))

	router.Route("/api", func(r chi.Router) {
		r.Use(s.bodySizeLimitMiddleware)

		r.Get("/docs", s.listDocuments)
		r.Post("/docs", s.createDocument)
		r.Get("/docs/{id}", s.getDocument)
		r.Put("/docs/{id}", s.updateDocument)
		r.Delete("/docs/{id}", s.deleteDocument)

		r.Get("/master", s.getMaster)
		r.Get("/replication", s.getReplication)
		r.Get("/stats", s.getStats)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "No such route")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return router
}

// UpdateMetricsPeriodically refreshes process metrics until ctx is done
func (s *Server) UpdateMetricsPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.metricsRegistry.UpdateSystemMetrics(s.startTime)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metricsRegistry.UpdateSystemMetrics(s.startTime)
		}
	}
}
