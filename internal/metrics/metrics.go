// Package metrics exposes Prometheus instrumentation for the pipeline:
// cache effectiveness, stage latency, and job lifecycle counts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundstage_cache_lookups_total",
			Help: "Stage cache lookups by stage and result",
		},
		[]string{"stage", "result"}, // result: hit, miss
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soundstage_stage_duration_seconds",
			Help:    "Wall-clock time spent per stage on cache misses",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600, 1800},
		},
		[]string{"stage"},
	)

	jobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "soundstage_jobs_submitted_total",
			Help: "Jobs accepted for processing",
		},
	)

	jobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soundstage_jobs_by_status",
			Help: "Number of jobs in each lifecycle status",
		},
		[]string{"status"},
	)

	fallbackChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "soundstage_position_fallback_chunks_total",
			Help: "Position chunks served by the deterministic fallback",
		},
	)
)

func init() {
	prometheus.MustRegister(cacheLookups)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(jobsSubmitted)
	prometheus.MustRegister(jobsByStatus)
	prometheus.MustRegister(fallbackChunks)
}

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCacheLookup records one cache lookup outcome.
func ObserveCacheLookup(stage string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(stage, result).Inc()
}

// ObserveStageDuration records the execution time of a cache-miss stage run.
func ObserveStageDuration(stage string, elapsed time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// JobSubmitted counts an accepted submission.
func JobSubmitted() {
	jobsSubmitted.Inc()
}

// SetJobStatusCounts replaces the per-status job gauges.
func SetJobStatusCounts(counts map[string]int) {
	for status, count := range counts {
		jobsByStatus.WithLabelValues(status).Set(float64(count))
	}
}

// AddFallbackChunks counts position chunks that used the deterministic
// layout instead of the model.
func AddFallbackChunks(n int) {
	if n > 0 {
		fallbackChunks.Add(float64(n))
	}
}
