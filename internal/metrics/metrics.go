// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "payout"

var (
	// SnapshotCaptures counts stored snapshots by purpose.
	SnapshotCaptures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_captures_total",
		Help:      "Snapshots written, by purpose.",
	}, []string{"purpose"})

	// SnapshotCaptureFailures counts captures aborted before writing.
	SnapshotCaptureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_capture_failures_total",
		Help:      "Snapshot captures aborted by validation or storage errors.",
	})

	// CaptureDuration observes how long a capture takes end to end.
	CaptureDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "snapshot_capture_duration_seconds",
		Help:      "Time spent capturing a snapshot.",
		Buckets:   prometheus.DefBuckets,
	})

	// DegradedResolutions counts lookups that fell back to live data.
	DegradedResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "degraded_resolutions_total",
		Help:      "Grade or distribution lookups with no covering snapshot.",
	}, []string{"kind"})

	// InstallmentTransitions counts installment state changes.
	InstallmentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "installment_transitions_total",
		Help:      "Installment state transitions.",
	}, []string{"from", "to"})

	// DisbursedAmount sums gross installment amounts marked paid.
	DisbursedAmount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "disbursed_amount_total",
		Help:      "Gross amount of installments marked paid.",
	})

	// RecomputeDuration observes RecomputeMonth runs.
	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "recompute_duration_seconds",
		Help:      "Time spent recomputing a revenue month.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
