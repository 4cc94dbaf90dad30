// Package telemetry provides Prometheus metrics and OpenTelemetry tracing for xnail.
package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/zerr"
)

const namespace = "xnail"

// Prometheus implements ports.Metrics on a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	cacheLookups        *prometheus.CounterVec
	compilationDuration *prometheus.HistogramVec
	transformDuration   *prometheus.HistogramVec
}

var _ ports.Metrics = (*Prometheus)(nil)

// NewPrometheus creates the collectors and registers them, together with
// the Go runtime and process collectors, on a new registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Compiled-artifact cache lookups by result.",
		}, []string{"result"}),
		compilationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compilation_duration_seconds",
			Help:      "Time spent compiling programs, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"outcome"}),
		transformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transform_duration_seconds",
			Help:      "End-to-end transform request time, by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	p.registry.MustRegister(
		p.cacheLookups,
		p.compilationDuration,
		p.transformDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// CacheLookup implements ports.Metrics.
func (p *Prometheus) CacheLookup(result string) {
	p.cacheLookups.WithLabelValues(result).Inc()
}

// Compilation implements ports.Metrics.
func (p *Prometheus) Compilation(outcome string, d time.Duration) {
	p.compilationDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Transform implements ports.Metrics.
func (p *Prometheus) Transform(outcome string, d time.Duration) {
	p.transformDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Registry returns the registry holding the collectors.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns the HTTP handler exposing the registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Serve exposes /metrics on lis until ctx is cancelled.
func (p *Prometheus) Serve(ctx context.Context, lis net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.Serve(lis)
	<-stopped
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return zerr.Wrap(err, "metrics listener failed")
	}
	return nil
}
