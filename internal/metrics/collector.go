// Package metrics exposes prometheus collectors for acquisition, compilation and execution.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "modelforge"

// Fetch results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector holds the metric vectors.
type Collector struct {
	fetchesTotal      *prometheus.CounterVec
	fetchedBytes      *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	corruptArtifacts  *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	stageFailures     *prometheus.CounterVec
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	rpcTotal          *prometheus.CounterVec
	rpcDuration       *prometheus.HistogramVec
}

// NewCollector registers the collectors with reg. Pass prometheus.DefaultRegisterer for the
// process-wide registry or a fresh prometheus.NewRegistry() in tests.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		fetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "artifact_fetches_total",
			Help:      "Remote artifact fetches by model kind and result",
		}, []string{"kind", "result"}),
		fetchedBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "artifact_fetched_bytes_total",
			Help:      "Bytes written to the artifact cache",
		}, []string{"kind"}),
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "artifact_cache_hits_total",
			Help:      "Artifact lookups served from the local cache",
		}, []string{"kind"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "artifact_cache_misses_total",
			Help:      "Artifact lookups that required a fetch",
		}, []string{"kind"}),
		corruptArtifacts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "artifact_corrupt_total",
			Help:      "Cached artifacts that failed to deserialize",
		}, []string{"kind"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"kind", "stage"}),
		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pipeline_stage_failures_total",
			Help:      "Failed pipeline stages",
		}, []string{"kind", "stage"}),
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "executions_total",
			Help:      "Compiled graph executions by result",
		}, []string{"kind", "result"}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "execution_duration_seconds",
			Help:      "Duration of compiled graph executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		rpcTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC requests by method and status code",
		}, []string{"method", "code"}),
		rpcDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "Latency of gRPC requests",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
		}, []string{"method"}),
	}
}

// RecordFetch counts a fetch attempt and the bytes it wrote.
func (c *Collector) RecordFetch(kind string, bytes int64, err error) {
	if c == nil {
		return
	}
	c.fetchesTotal.WithLabelValues(kind, result(err)).Inc()
	if err == nil {
		c.fetchedBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}

// RecordCacheLookup counts a hit or a miss.
func (c *Collector) RecordCacheLookup(kind string, hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.cacheHits.WithLabelValues(kind).Inc()
	} else {
		c.cacheMisses.WithLabelValues(kind).Inc()
	}
}

// RecordCorrupt counts a cached artifact that failed to deserialize.
func (c *Collector) RecordCorrupt(kind string) {
	if c == nil {
		return
	}
	c.corruptArtifacts.WithLabelValues(kind).Inc()
}

// ObserveStage records how long a pipeline stage took and whether it failed.
func (c *Collector) ObserveStage(kind, stage string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(kind, stage).Observe(d.Seconds())
	if err != nil {
		c.stageFailures.WithLabelValues(kind, stage).Inc()
	}
}

// ObserveExecution records one execution.
func (c *Collector) ObserveExecution(kind string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(kind, result(err)).Inc()
	c.executionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRPC records one gRPC request.
func (c *Collector) ObserveRPC(method, code string, d time.Duration) {
	if c == nil {
		return
	}
	c.rpcTotal.WithLabelValues(method, code).Inc()
	c.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
