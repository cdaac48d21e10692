package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	spatialQC = "spatialqc"

	// Validation metrics
	validationRunsTotal    = "validation_runs_total"
	validationStageSeconds = "validation_stage_duration_seconds"
	validationIssuesTotal  = "validation_issues_total"
	ActiveJobCount         = "active_job_count"

	// Cache metrics
	cacheRequestsTotal  = "cache_requests_total"
	cacheEvictionsTotal = "cache_evictions_total"

	// Labels
	statusLabel   = "status"
	stageLabel    = "stage"
	severityLabel = "severity"
	cacheLabel    = "cache"
	outcomeLabel  = "outcome"
	kindLabel     = "kind"
)

/**
* Metrics definition
**/
var validationRunsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: spatialQC,
		Name:      validationRunsTotal,
		Help:      "number of validation runs by terminal status",
	},
	[]string{statusLabel},
)

var validationStageSecondsMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: spatialQC,
		Name:      validationStageSeconds,
		Help:      "wall-clock duration of each validation stage",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	},
	[]string{stageLabel},
)

var validationIssuesTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: spatialQC,
		Name:      validationIssuesTotal,
		Help:      "errors and warnings found across validation runs",
	},
	[]string{severityLabel},
)

var activeJobCountMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: spatialQC,
		Name:      ActiveJobCount,
		Help:      "number of jobs currently running, by job kind",
	},
	[]string{kindLabel},
)

var cacheRequestsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: spatialQC,
		Name:      cacheRequestsTotal,
		Help:      "cache lookups by cache name and hit/miss outcome",
	},
	[]string{cacheLabel, outcomeLabel},
)

var cacheEvictionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: spatialQC,
		Name:      cacheEvictionsTotal,
		Help:      "entries removed from caches by sweep, pressure or invalidation",
	},
	[]string{cacheLabel},
)

func IncreaseValidationRunsTotalMetric(status string) {
	validationRunsTotalMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func ObserveValidationStageDuration(stage string, seconds float64) {
	validationStageSecondsMetric.With(prometheus.Labels{stageLabel: stage}).Observe(seconds)
}

func IncreaseValidationIssuesMetric(severity string, count int) {
	validationIssuesTotalMetric.With(prometheus.Labels{severityLabel: severity}).Add(float64(count))
}

func UpdateActiveJobCountMetric(kind string, delta int) {
	activeJobCountMetric.With(prometheus.Labels{kindLabel: kind}).Add(float64(delta))
}

func IncreaseCacheRequestMetric(cache string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheRequestsTotalMetric.With(prometheus.Labels{cacheLabel: cache, outcomeLabel: outcome}).Inc()
}

func IncreaseCacheEvictionsMetric(cache string, count int) {
	cacheEvictionsTotalMetric.With(prometheus.Labels{cacheLabel: cache}).Add(float64(count))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(validationRunsTotalMetric)
	prometheus.MustRegister(validationStageSecondsMetric)
	prometheus.MustRegister(validationIssuesTotalMetric)
	prometheus.MustRegister(activeJobCountMetric)
	prometheus.MustRegister(cacheRequestsTotalMetric)
	prometheus.MustRegister(cacheEvictionsTotalMetric)
}
