// Package observability holds the Prometheus metrics and the optional OTLP
// tracing bootstrap.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the service's Prometheus collectors. All methods are
// nil-safe so components can run without metrics in tests.
type Metrics struct {
	IngestsTotal    prometheus.Counter
	TabsProcessed   prometheus.Counter
	IngestBatchSize prometheus.Histogram
	IngestDuration  prometheus.Histogram
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	LiveClusters    prometheus.Gauge
	EnrichmentJobs  prometheus.Counter
	ExternalCalls   *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg and returns them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabgraph_ingests_total",
			Help: "Number of ingest requests processed.",
		}),
		TabsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabgraph_tabs_processed_total",
			Help: "Number of tabs processed across all ingests.",
		}),
		IngestBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabgraph_ingest_batch_size",
			Help:    "Tabs per ingest request.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabgraph_ingest_duration_seconds",
			Help:    "Wall time of one ingest call.",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabgraph_analysis_cache_hits_total",
			Help: "Tabs that arrived with cached embedding and entities.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabgraph_analysis_cache_misses_total",
			Help: "Tabs that required embedding and extraction.",
		}),
		LiveClusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tabgraph_live_clusters",
			Help: "Current number of in-memory clusters.",
		}),
		EnrichmentJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabgraph_enrichment_jobs_total",
			Help: "Background enrichment jobs enqueued.",
		}),
		ExternalCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tabgraph_external_call_duration_seconds",
			Help:    "Duration of outbound API calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"api"}),
	}

	reg.MustRegister(
		m.IngestsTotal, m.TabsProcessed, m.IngestBatchSize, m.IngestDuration,
		m.CacheHits, m.CacheMisses, m.LiveClusters, m.EnrichmentJobs, m.ExternalCalls,
	)
	return m
}

// ObserveIngest records one completed ingest.
func (m *Metrics) ObserveIngest(batchSize, cacheHits, cacheMisses, liveClusters int, duration time.Duration) {
	if m == nil {
		return
	}
	m.IngestsTotal.Inc()
	m.TabsProcessed.Add(float64(batchSize))
	m.IngestBatchSize.Observe(float64(batchSize))
	m.IngestDuration.Observe(duration.Seconds())
	m.CacheHits.Add(float64(cacheHits))
	m.CacheMisses.Add(float64(cacheMisses))
	m.LiveClusters.Set(float64(liveClusters))
}

// ObserveExternalCall records one outbound API call.
func (m *Metrics) ObserveExternalCall(api string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ExternalCalls.WithLabelValues(api).Observe(duration.Seconds())
}

// EnrichmentEnqueued counts one background job.
func (m *Metrics) EnrichmentEnqueued() {
	if m == nil {
		return
	}
	m.EnrichmentJobs.Inc()
}
