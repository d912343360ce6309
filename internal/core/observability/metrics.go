// Package observability holds the service's Prometheus collectors. Every
// Observe/Inc function is a no-op until Init has been called.
package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type collectors struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	queriesTotal         *prometheus.CounterVec
	queryDurationSeconds *prometheus.HistogramVec
	queryResultFeatures  *prometheus.HistogramVec
	storedQueriesTotal   *prometheus.CounterVec

	datasetLoadsTotal       *prometheus.CounterVec
	datasetLoadSeconds      prometheus.Histogram
	datasetCacheResults     *prometheus.CounterVec
	datasetCacheEntries     prometheus.Gauge
	datasetInvalidatedTotal prometheus.Counter

	artifactOpsTotal    *prometheus.CounterVec
	artifactOpSeconds   *prometheus.HistogramVec
	invalidationsTotal  *prometheus.CounterVec
	consumerErrorsTotal *prometheus.CounterVec
}

var current atomic.Pointer[collectors]

// Init registers the collectors with reg, or with the default registerer when
// reg is nil. With enabled false the collectors go to a private registry that
// is never scraped.
func Init(reg prometheus.Registerer, enabled bool) {
	switch {
	case !enabled:
		reg = prometheus.NewRegistry()
	case reg == nil:
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	latency := prometheus.ExponentialBuckets(0.0005, 2, 16) // 0.5ms to ~16s

	c := &collectors{
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route", "status"}),

		queriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wfs_queries_total",
			Help: "Queries run by the router, by entry mode and outcome.",
		}, []string{"mode", "outcome"}),
		queryDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wfs_query_duration_seconds",
			Help:    "Query evaluation time in seconds.",
			Buckets: latency,
		}, []string{"mode"}),
		queryResultFeatures: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wfs_query_result_features",
			Help:    "Number of features returned per query.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"mode"}),
		storedQueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wfs_stored_queries_total",
			Help: "Stored query invocations by id and outcome.",
		}, []string{"query", "outcome"}),

		datasetLoadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dataset_loads_total",
			Help: "Backend dataset loads by outcome.",
		}, []string{"outcome"}),
		datasetLoadSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dataset_load_duration_seconds",
			Help:    "Time spent building a feature store from the backend.",
			Buckets: latency,
		}),
		datasetCacheResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dataset_cache_results_total",
			Help: "Dataset cache lookups by result.",
		}, []string{"result"}),
		datasetCacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "dataset_cache_entries",
			Help: "Feature stores currently cached.",
		}),
		datasetInvalidatedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dataset_cache_invalidations_total",
			Help: "Cached feature stores evicted by invalidation.",
		}),

		artifactOpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "artifact_ops_total",
			Help: "Artifact store operations by backend, op and outcome.",
		}, []string{"backend", "op", "outcome"}),
		artifactOpSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "artifact_op_duration_seconds",
			Help:    "Artifact store operation latency in seconds.",
			Buckets: latency,
		}, []string{"backend", "op"}),
		invalidationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Dataset invalidation events by op and outcome.",
		}, []string{"op", "outcome"}),
		consumerErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invalidation_consumer_errors_total",
			Help: "Kafka consumer errors by stage.",
		}, []string{"stage"}),
	}
	current.Store(c)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	c := current.Load()
	if c == nil {
		return
	}
	st := strconv.Itoa(status)
	c.httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	c.httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveQuery records one router run. mode is filter, stored or list.
func ObserveQuery(mode string, features int, err error, durationSeconds float64) {
	c := current.Load()
	if c == nil {
		return
	}
	c.queriesTotal.WithLabelValues(mode, outcome(err)).Inc()
	c.queryDurationSeconds.WithLabelValues(mode).Observe(durationSeconds)
	if err == nil {
		c.queryResultFeatures.WithLabelValues(mode).Observe(float64(features))
	}
}

func ObserveStoredQuery(id string, err error) {
	c := current.Load()
	if c == nil {
		return
	}
	c.storedQueriesTotal.WithLabelValues(id, outcome(err)).Inc()
}

func ObserveDatasetLoad(err error, durationSeconds float64) {
	c := current.Load()
	if c == nil {
		return
	}
	c.datasetLoadsTotal.WithLabelValues(outcome(err)).Inc()
	c.datasetLoadSeconds.Observe(durationSeconds)
}

// IncDatasetCache counts a cache lookup: hit, miss, shared or blacklisted.
func IncDatasetCache(result string) {
	c := current.Load()
	if c == nil {
		return
	}
	c.datasetCacheResults.WithLabelValues(result).Inc()
}

func SetDatasetCacheEntries(n int) {
	c := current.Load()
	if c == nil {
		return
	}
	c.datasetCacheEntries.Set(float64(n))
}

func AddDatasetInvalidations(n int) {
	c := current.Load()
	if c == nil || n <= 0 {
		return
	}
	c.datasetInvalidatedTotal.Add(float64(n))
}

// ObserveArtifactOp records a store operation; a miss is reported as
// outcome "miss" rather than "error".
func ObserveArtifactOp(backend, op string, err error, miss bool, durationSeconds float64) {
	c := current.Load()
	if c == nil {
		return
	}
	o := outcome(err)
	if err == nil && miss {
		o = "miss"
	}
	c.artifactOpsTotal.WithLabelValues(backend, op, o).Inc()
	c.artifactOpSeconds.WithLabelValues(backend, op).Observe(durationSeconds)
}

func IncInvalidation(op, result string) {
	c := current.Load()
	if c == nil {
		return
	}
	c.invalidationsTotal.WithLabelValues(op, result).Inc()
}

func IncConsumerError(stage string) {
	c := current.Load()
	if c == nil {
		return
	}
	c.consumerErrorsTotal.WithLabelValues(stage).Inc()
}
