// Package metrics defines the Prometheus collectors of the recognition
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vwr"

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	QueryCandidates      prometheus.Histogram
	QueryResultsCount    prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	ImagesIndexedTotal   *prometheus.CounterVec
	FeaturesPerImage     prometheus.Histogram
	SnapshotsTotal       *prometheus.CounterVec

	reg prometheus.Registerer
}

// IndexStats is read at scrape time. *recognition.Engine implements it.
type IndexStats interface {
	NumImages() int
	NumWords() int
	Generation() uint64
	SkippedFeatures() uint64
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total queries by result type (match, no_candidates, error).",
			},
			[]string{"result_type"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_latency_seconds",
				Help:      "Query latency in seconds.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		QueryCandidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_candidates",
				Help:      "Images sharing at least one word with the query.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_results_count",
				Help:      "Number of matches returned per query.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of query cache misses.",
			},
		),
		ImagesIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "images_indexed_total",
				Help:      "Images submitted for indexing by status (ok, error).",
			},
			[]string{"status"},
		),
		FeaturesPerImage: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "features_per_image",
				Help:      "Number of local features per indexed image.",
				Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
			},
		),
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_total",
				Help:      "Index snapshot saves by status.",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.QueriesTotal,
		m.QueryLatency,
		m.QueryCandidates,
		m.QueryResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ImagesIndexedTotal,
		m.FeaturesPerImage,
		m.SnapshotsTotal,
	)

	return m
}

// RegisterIndex exposes the size of the index as gauges read at scrape time.
func (m *Metrics) RegisterIndex(stats IndexStats) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_images",
			Help:      "Images in the registry.",
		}, func() float64 { return float64(stats.NumImages()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vocabulary_words",
			Help:      "Words in the vocabulary.",
		}, func() float64 { return float64(stats.NumWords()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_generation",
			Help:      "Mutation counter of the index.",
		}, func() float64 { return float64(stats.Generation()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_skipped_total",
			Help:      "Features that matched no vocabulary word.",
		}, func() float64 { return float64(stats.SkippedFeatures()) }),
	)
}

// IngestStats is implemented by *kafka.Consumer.
type IngestStats interface {
	Processed() int64
	Failed() int64
}

// RegisterIngest exposes the ingest consumer's message counters.
func (m *Metrics) RegisterIngest(stats IngestStats) {
	m.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_processed_total",
			Help:      "Ingest messages handled and committed.",
		}, func() float64 { return float64(stats.Processed()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_failed_total",
			Help:      "Ingest messages left uncommitted after a handler error.",
		}, func() float64 { return float64(stats.Failed()) }),
	)
}

// AnalyticsStats is implemented by *analytics.Collector.
type AnalyticsStats interface {
	Published() int64
	Dropped() int64
}

// RegisterAnalytics exposes how many analytics events were sent or dropped.
func (m *Metrics) RegisterAnalytics(stats AnalyticsStats) {
	m.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_events_published_total",
			Help:      "Analytics events written to Kafka.",
		}, func() float64 { return float64(stats.Published()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_events_dropped_total",
			Help:      "Analytics events dropped because the buffer was full.",
		}, func() float64 { return float64(stats.Dropped()) }),
	)
}

// ObserveIndex records the outcome of one AddImage call.
func (m *Metrics) ObserveIndex(err error, features int) {
	if err != nil {
		m.ImagesIndexedTotal.WithLabelValues("error").Inc()
		return
	}
	m.ImagesIndexedTotal.WithLabelValues("ok").Inc()
	m.FeaturesPerImage.Observe(float64(features))
}

// ObserveSnapshot records the outcome of one snapshot save.
func (m *Metrics) ObserveSnapshot(err error) {
	if err != nil {
		m.SnapshotsTotal.WithLabelValues("error").Inc()
		return
	}
	m.SnapshotsTotal.WithLabelValues("ok").Inc()
}

// Handler returns the scrape handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
