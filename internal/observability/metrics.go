package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	// Upload metrics
	ChunksReceivedTotal prometheus.Counter
	ChunkBytesTotal     prometheus.Counter
	ChunksRejectedTotal *prometheus.CounterVec
	PendingChunks       prometheus.Gauge
	PendingBytes        prometheus.Gauge
	PendingExpiredTotal prometheus.Counter

	// Object metrics
	FinalizeTotal    *prometheus.CounterVec
	FinalizeDuration *prometheus.HistogramVec
	ObjectBytesTotal *prometheus.CounterVec

	// Verification metrics
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration prometheus.Histogram

	// Access metrics
	OwnerChecksTotal  *prometheus.CounterVec
	HTTPRequestsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates all Prometheus metrics and registers them on reg. A nil
// reg gets a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ChunksReceivedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jolt_verifier_chunks_received_total",
				Help: "Chunks accepted into the pending buffer",
			},
		),

		ChunkBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jolt_verifier_chunk_bytes_total",
				Help: "Payload bytes accepted into the pending buffer",
			},
		),

		ChunksRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jolt_verifier_chunks_rejected_total",
				Help: "Chunks rejected before buffering",
			},
			[]string{"reason"},
		),

		PendingChunks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jolt_verifier_pending_chunks",
				Help: "Fragments currently buffered",
			},
		),

		PendingBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jolt_verifier_pending_bytes",
				Help: "Bytes currently buffered",
			},
		),

		PendingExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jolt_verifier_pending_expired_total",
				Help: "Fragments dropped by the stale fragment sweeper",
			},
		),

		FinalizeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jolt_verifier_finalize_total",
				Help: "Finalize attempts",
			},
			[]string{"kind", "result"},
		),

		FinalizeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jolt_verifier_finalize_duration_seconds",
				Help:    "Assemble, decode and commit latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"kind"},
		),

		ObjectBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jolt_verifier_object_bytes_total",
				Help: "Bytes of assembled objects committed to the store",
			},
			[]string{"kind"},
		),

		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jolt_verifier_verifications_total",
				Help: "Verification requests",
			},
			[]string{"result"},
		),

		VerificationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jolt_verifier_verification_duration_seconds",
				Help:    "Verification latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		OwnerChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jolt_verifier_owner_checks_total",
				Help: "Owner guard decisions",
			},
			[]string{"result"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jolt_verifier_http_requests_total",
				Help: "HTTP requests by route and status class",
			},
			[]string{"method", "code"},
		),

		registry: reg,
	}

	return m
}

// RecordChunk updates metrics for a buffered chunk.
func (m *Metrics) RecordChunk(bytes int) {
	m.ChunksReceivedTotal.Inc()
	m.ChunkBytesTotal.Add(float64(bytes))
}

// RecordChunkRejected increments the rejection counter.
func (m *Metrics) RecordChunkRejected(reason string) {
	m.ChunksRejectedTotal.WithLabelValues(reason).Inc()
}

// SetPending publishes the pending buffer size.
func (m *Metrics) SetPending(chunks int, bytes int64) {
	m.PendingChunks.Set(float64(chunks))
	m.PendingBytes.Set(float64(bytes))
}

// RecordFinalize records a finalize outcome.
func (m *Metrics) RecordFinalize(kind string, success bool, bytes int, durationSeconds float64) {
	m.FinalizeTotal.WithLabelValues(kind, resultLabel(success)).Inc()
	m.FinalizeDuration.WithLabelValues(kind).Observe(durationSeconds)
	if success {
		m.ObjectBytesTotal.WithLabelValues(kind).Add(float64(bytes))
	}
}

// RecordVerification records a verification outcome. result is "valid",
// "invalid" or "not_found".
func (m *Metrics) RecordVerification(result string, durationSeconds float64) {
	m.VerificationsTotal.WithLabelValues(result).Inc()
	m.VerificationDuration.Observe(durationSeconds)
}

// RecordOwnerCheck counts an owner guard decision.
func (m *Metrics) RecordOwnerCheck(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.OwnerChecksTotal.WithLabelValues(result).Inc()
}

// RecordHTTPRequest counts a served request.
func (m *Metrics) RecordHTTPRequest(method, code string) {
	m.HTTPRequestsTotal.WithLabelValues(method, code).Inc()
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
