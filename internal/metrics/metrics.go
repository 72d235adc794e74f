// Package metrics exposes worker counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhle/outreach/internal/model"
)

// Metrics holds the worker's Prometheus collectors, registered on a
// private registry.
type Metrics struct {
	registry *prometheus.Registry

	EmailsTotal     *prometheus.CounterVec
	DetectionsTotal *prometheus.CounterVec
	QueueItems      *prometheus.GaugeVec
	SendDuration    prometheus.Histogram
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EmailsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_emails_total",
				Help: "Queue items by final outcome",
			},
			[]string{"outcome"},
		),
		DetectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_inbox_detections_total",
				Help: "Replies, unsubscribes and bounces detected in the mailbox",
			},
			[]string{"kind"},
		),
		QueueItems: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "outreach_queue_items",
				Help: "Queue items by status",
			},
			[]string{"status"},
		),
		SendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "outreach_send_duration_seconds",
			Help:    "Time spent handing one message to the transport",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordOutcome counts a queue item reaching sent, failed or skipped.
func (m *Metrics) RecordOutcome(outcome model.EmailOutcome) {
	m.EmailsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordDetection counts an inbox detection of the given kind.
func (m *Metrics) RecordDetection(kind string, n int) {
	if n > 0 {
		m.DetectionsTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveSend records how long a transport send took.
func (m *Metrics) ObserveSend(d time.Duration) {
	m.SendDuration.Observe(d.Seconds())
}

// SetQueueStats updates the queue gauges.
func (m *Metrics) SetQueueStats(s model.QueueStats) {
	m.QueueItems.WithLabelValues(string(model.QueuePending)).Set(float64(s.Pending))
	m.QueueItems.WithLabelValues(string(model.QueueSending)).Set(float64(s.Sending))
	m.QueueItems.WithLabelValues(string(model.QueueSent)).Set(float64(s.Sent))
	m.QueueItems.WithLabelValues(string(model.QueueFailed)).Set(float64(s.Failed))
	m.QueueItems.WithLabelValues(string(model.QueueSkipped)).Set(float64(s.Skipped))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve listens on addr and serves /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
