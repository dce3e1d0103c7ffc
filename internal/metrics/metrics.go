package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup results
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Sink write results
const (
	WriteSuccess = "success"
	WriteFailure = "failure"
)

// Metrics holds the collectors for the telemetry service on a private registry
type Metrics struct {
	registry *prometheus.Registry

	ingestRequests *prometheus.CounterVec
	ingestDuration *prometheus.HistogramVec
	sinkWrites     *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
}

// New creates the service metrics and registers them together with the Go
// runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_ingest_requests_total",
			Help: "Ingestion requests by outcome.",
		}, []string{"outcome"}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "telemetry_ingest_duration_seconds",
			Help:    "Time from request receipt to response by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"outcome"}),
		sinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_sink_writes_total",
			Help: "Event writes by sink backend and result.",
		}, []string{"backend", "result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_directory_cache_total",
			Help: "Device directory cache lookups by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.ingestRequests,
		m.ingestDuration,
		m.sinkWrites,
		m.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIngest records one finished ingestion request
func (m *Metrics) ObserveIngest(outcome string, elapsed time.Duration) {
	m.ingestRequests.WithLabelValues(outcome).Inc()
	m.ingestDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveWrite records one sink write attempt
func (m *Metrics) ObserveWrite(backend string, err error) {
	result := WriteSuccess
	if err != nil {
		result = WriteFailure
	}
	m.sinkWrites.WithLabelValues(backend, result).Inc()
}

// ObserveCache records one directory cache lookup
func (m *Metrics) ObserveCache(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}
