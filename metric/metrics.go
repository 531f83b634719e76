// Package metric defines the broker's Prometheus instrumentation and
// the optional scrape endpoint.
package metric

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the broker-level Prometheus collectors.
type Metrics struct {
	SessionsActive    prometheus.Gauge
	SessionsTotal     prometheus.Counter
	MessagesReceived  *prometheus.CounterVec
	MessagesDelivered *prometheus.CounterVec
	PacketsFiltered   prometheus.Counter
	FrameErrors       prometheus.Counter
	AuthFailures      prometheus.Counter
	OverflowDrops     prometheus.Counter
	AuthzCacheHits    prometheus.CounterFunc
	AuthzCacheMisses  prometheus.CounterFunc

	registry *prometheus.Registry
}

// CacheCounters supplies the authorization cache counters scraped on
// demand.
type CacheCounters interface {
	Hits() int64
	Misses() int64
}

// NewMetrics creates and registers the broker collectors on a fresh
// registry. cacheStats may be nil when no authorization cache exists.
func NewMetrics(cacheStats CacheCounters) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "squawkbus",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Currently connected sessions",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "squawkbus",
			Subsystem: "sessions",
			Name:      "total",
			Help:      "Sessions accepted since start",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "squawkbus",
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Messages received from clients",
		}, []string{"kind"}),
		MessagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "squawkbus",
			Subsystem: "messages",
			Name:      "delivered_total",
			Help:      "Messages delivered to clients",
		}, []string{"kind"}),
		PacketsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "squawkbus",
			Subsystem: "packets",
			Name:      "filtered_total",
			Help:      "Data packets dropped by entitlement filtering",
		}),
		FrameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "squawkbus",
			Subsystem: "wire",
			Name:      "frame_errors_total",
			Help:      "Sessions failed on framing or decoding errors",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "squawkbus",
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Failed authentication attempts",
		}),
		OverflowDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "squawkbus",
			Subsystem: "sessions",
			Name:      "overflow_drops_total",
			Help:      "Sessions dropped for outbound queue overflow",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.MessagesReceived,
		m.MessagesDelivered,
		m.PacketsFiltered,
		m.FrameErrors,
		m.AuthFailures,
		m.OverflowDrops,
	)

	if cacheStats != nil {
		m.AuthzCacheHits = prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "squawkbus",
			Subsystem: "authz_cache",
			Name:      "hits_total",
			Help:      "Authorization cache hits",
		}, func() float64 { return float64(cacheStats.Hits()) })
		m.AuthzCacheMisses = prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "squawkbus",
			Subsystem: "authz_cache",
			Name:      "misses_total",
			Help:      "Authorization cache misses",
		}, func() float64 { return float64(cacheStats.Misses()) })
		m.registry.MustRegister(m.AuthzCacheHits, m.AuthzCacheMisses)
	}

	return m
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics endpoint on the given port until ctx ends.
// Port 0 disables the endpoint.
func (m *Metrics) Serve(ctx context.Context, port int, logger *slog.Logger) error {
	if port == 0 {
		<-ctx.Done()
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	logger.Info("Metrics endpoint listening", "port", port)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
