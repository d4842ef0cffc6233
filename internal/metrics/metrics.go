// Package metrics provides Prometheus metrics for the memory engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GuidanceRequests counts guidance requests.
	// Labels: mode (explore, exploit), result (success, error)
	GuidanceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "engine",
			Name:      "guidance_requests_total",
			Help:      "Total number of guidance requests",
		},
		[]string{"mode", "result"},
	)

	// OutcomesRecorded counts recorded outcomes.
	// Labels: result (success, not_found, error)
	OutcomesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "engine",
			Name:      "outcomes_recorded_total",
			Help:      "Total number of recorded outcomes",
		},
		[]string{"result"},
	)

	// PredictionErrorAbs tracks the magnitude of prediction errors.
	PredictionErrorAbs = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "engine",
			Name:      "prediction_error_abs",
			Help:      "Absolute prediction error per recorded outcome",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	// DriftDetections counts forced-relearn events.
	DriftDetections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "engine",
			Name:      "drift_detections_total",
			Help:      "Total number of drift detections that forced relearning",
		},
	)

	// ConsolidationDuration tracks how long consolidation cycles take.
	ConsolidationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "consolidation",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of consolidation cycles in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ConsolidationWork reports the work done per cycle by stage.
	// Labels: stage (episodic_decayed, episodes_consolidated,
	// patterns_created, patterns_updated, patterns_archived,
	// procedural_created)
	ConsolidationWork = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "consolidation",
			Name:      "work_total",
			Help:      "Total consolidation work items by stage",
		},
		[]string{"stage"},
	)
)

// RecordGuidance records one guidance request.
func RecordGuidance(exploration bool, err error) {
	mode := "exploit"
	if exploration {
		mode = "explore"
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	GuidanceRequests.WithLabelValues(mode, result).Inc()
}

// RecordOutcome records one outcome submission.
func RecordOutcome(result string) {
	OutcomesRecorded.WithLabelValues(result).Inc()
}

// RecordConsolidation records one completed consolidation cycle.
func RecordConsolidation(duration time.Duration, work map[string]int) {
	ConsolidationDuration.Observe(duration.Seconds())
	for stage, count := range work {
		if count > 0 {
			ConsolidationWork.WithLabelValues(stage).Add(float64(count))
		}
	}
}
