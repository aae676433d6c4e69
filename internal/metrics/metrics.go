// Package metrics exposes dispatch counters for a running session over
// Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = time.Second

// Collector owns a private registry so repeated runs in one process never
// collide on registration.
type Collector struct {
	registry *prometheus.Registry

	chunks   *prometheus.CounterVec
	latency  prometheus.Histogram
	segments prometheus.Counter
}

// New registers the session metrics.
func New() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stocklisten_chunks_total",
			Help: "Audio chunks handled by the dispatcher, by outcome",
		}, []string{"outcome"}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stocklisten_transcription_duration_seconds",
			Help:    "Speech-to-text call latency for transcribed chunks",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),
		segments: factory.NewCounter(prometheus.CounterOpts{
			Name: "stocklisten_segments_total",
			Help: "Transcript segments released in capture order",
		}),
	}
}

// ChunkCompleted satisfies dispatch.Observer.
func (c *Collector) ChunkCompleted(outcome string, latency time.Duration) {
	c.chunks.WithLabelValues(outcome).Inc()
	if latency > 0 {
		c.latency.Observe(latency.Seconds())
	}
}

// SegmentReleased counts one segment appended to the transcript.
func (c *Collector) SegmentReleased() {
	c.segments.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on listener until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
