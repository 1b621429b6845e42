// Package metrics holds the Prometheus collectors of the capture pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "opcuac"

// Metrics contains all capture metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Batches        prometheus.Counter
	Values         prometheus.Counter
	Cycles         prometheus.Counter
	CycleDuration  prometheus.Histogram
	LastCycle      prometheus.Gauge
	Flushes        prometheus.Counter
	FlushedBytes   prometheus.Counter
	Rotations      prometheus.Counter
	QueueDepth     prometheus.Gauge
	SessionState   prometheus.Gauge
	Reconnects     prometheus.Counter
	KeepAliveFails prometheus.Counter
	Archived       *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "batches_total",
			Help:      "Notification batches received (one per point per delivery)",
		}),
		Values: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "values_total",
			Help:      "Individual values serialized",
		}),
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "cycles_total",
			Help:      "Anchor-to-anchor cycles completed",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "cycle_duration_seconds",
			Help:      "Elapsed time between consecutive anchor notifications",
			Buckets:   []float64{0.25, 0.5, 1, 1.5, 2, 3, 5, 10, 20, 30, 60},
		}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "last_cycle_seconds",
			Help:      "Duration of the most recent cycle",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "flushes_total",
			Help:      "Buffer flushes to the output file",
		}),
		FlushedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "flushed_bytes_total",
			Help:      "Bytes written to output files",
		}),
		Rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "rotations_total",
			Help:      "Output file rotations",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "queue_depth",
			Help:      "Batches waiting for the writer goroutine",
		}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Session state (0=disconnected, 1=connecting, 2=connected, 3=keepalive_failed, 4=reconnecting, 5=closed)",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Completed session reconnects",
		}),
		KeepAliveFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "keepalive_failures_total",
			Help:      "Keep-alive probes that reported a non-good status",
		}),
		Archived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "uploads_total",
			Help:      "Rotated file uploads by result",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Batches, m.Values, m.Cycles, m.CycleDuration, m.LastCycle,
		m.Flushes, m.FlushedBytes, m.Rotations, m.QueueDepth,
		m.SessionState, m.Reconnects, m.KeepAliveFails, m.Archived,
	)

	return m
}

// Registry exposes the underlying registry (tests, custom handlers).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordBatch counts one batch of n values.
func (m *Metrics) RecordBatch(n int) {
	if m == nil {
		return
	}
	m.Batches.Inc()
	m.Values.Add(float64(n))
}

// RecordCycle records one completed cycle.
func (m *Metrics) RecordCycle(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
	m.LastCycle.Set(elapsed.Seconds())
}

// RecordFlush records one buffer flush.
func (m *Metrics) RecordFlush(bytes int) {
	if m == nil {
		return
	}
	m.Flushes.Inc()
	m.FlushedBytes.Add(float64(bytes))
}

// RecordRotation records one file rotation.
func (m *Metrics) RecordRotation() {
	if m == nil {
		return
	}
	m.Rotations.Inc()
}

// RecordQueueDepth updates the queue gauge.
func (m *Metrics) RecordQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordSessionState updates the session state gauge.
func (m *Metrics) RecordSessionState(state int) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(state))
}

// RecordReconnect counts one completed reconnect.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// RecordKeepAliveFailure counts one failed probe.
func (m *Metrics) RecordKeepAliveFailure() {
	if m == nil {
		return
	}
	m.KeepAliveFails.Inc()
}

// RecordArchive counts one upload attempt outcome.
func (m *Metrics) RecordArchive(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.Archived.WithLabelValues(result).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
