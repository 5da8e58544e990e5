package server

import (
	"CoverLedger/internal/observability"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPRouter serves the health probes and hands /v1 to the gateway.
func NewHTTPRouter(hc *observability.HealthChecker, gateway http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if hc != nil {
		r.Get("/healthz", hc.LivenessHandler)
		r.Get("/readyz", hc.ReadinessHandler)
	}
	r.Handle("/v1/*", gateway)
	return r
}

// NewMetricsRouter exposes the Prometheus registry on /metrics.
func NewMetricsRouter(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
