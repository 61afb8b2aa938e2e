package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schoolmap"

// Default histogram buckets.
var (
	DefaultHTTPDurationBuckets    = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultComputeDurationBuckets = []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30}
)

// Metrics holds the Prometheus collectors exported on /metrics. Each
// Metrics owns its registry so tests and parallel servers never collide on
// the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	ComputeDuration *prometheus.HistogramVec
	ComputeTotal    *prometheus.CounterVec
	RecordsDropped  prometheus.Counter
	Duplicates      prometheus.Counter
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec

	DataVersion  prometheus.Gauge
	StoreRecords prometheus.Gauge
	CacheEntries prometheus.Gauge
}

// NewMetrics registers every schoolmap collector on a fresh registry
// together with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ComputeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compute_duration_seconds",
			Help:      "Duration of a single analysis computation.",
			Buckets:   DefaultComputeDurationBuckets,
		}, []string{"kind"}),
		ComputeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compute_total",
			Help:      "Analysis computations by kind and status.",
		}, []string{"kind", "status"}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Raw records rejected by the normalizer.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_duplicate_total",
			Help:      "Raw records discarded as coordinate duplicates.",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Result cache hits.",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Result cache misses.",
		}, []string{"cache"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status_code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration.",
			Buckets:   DefaultHTTPDurationBuckets,
		}, []string{"method", "route"}),
		DataVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "data_version",
			Help:      "Current data version reported by the store.",
		}),
		StoreRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_records",
			Help:      "Raw records held by the store.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries held by the result cache.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ComputeDuration,
		m.ComputeTotal,
		m.RecordsDropped,
		m.Duplicates,
		m.CacheHits,
		m.CacheMisses,
		m.HTTPRequests,
		m.HTTPDuration,
		m.DataVersion,
		m.StoreRecords,
		m.CacheEntries,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCompute records one computation. A nil receiver is a no-op so
// the engine can run without metrics in the CLI.
func (m *Metrics) ObserveCompute(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ComputeDuration.WithLabelValues(kind).Observe(d.Seconds())
	m.ComputeTotal.WithLabelValues(kind, status).Inc()
}

// RecordNormalize counts dropped and duplicate records from one batch.
func (m *Metrics) RecordNormalize(dropped, duplicates int) {
	if m == nil {
		return
	}
	m.RecordsDropped.Add(float64(dropped))
	m.Duplicates.Add(float64(duplicates))
}

// RecordCacheAccess counts a hit or miss on the named cache.
func (m *Metrics) RecordCacheAccess(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMisses.WithLabelValues(cache).Inc()
}

// RecordHTTPRequest counts one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Apply copies a snapshot into the gauges.
func (m *Metrics) Apply(snap *Snapshot) {
	if m == nil || snap == nil {
		return
	}
	m.DataVersion.Set(float64(snap.DataVersion))
	m.StoreRecords.Set(float64(snap.Records))
	m.CacheEntries.Set(float64(snap.Cache.Entries))
}
