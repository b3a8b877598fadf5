package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are registered on the default registry served at /metrics.
var (
	SweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "sweeps_total",
		Help:      "Classroom sweeps run.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "classattend",
		Name:      "sweep_duration_seconds",
		Help:      "Wall time of a single classroom sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	SessionsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "sessions_skipped_total",
		Help:      "Sessions a sweep took no action on, by reason.",
	}, []string{"reason"})

	RecordsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "records_created_total",
		Help:      "Attendance records written, by status and source.",
	}, []string{"status", "source"})

	DuplicateConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "duplicate_conflicts_total",
		Help:      "Creates rejected by the store because the key was already taken.",
	})

	TransientErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "transient_errors_total",
		Help:      "Store timeouts and connectivity failures seen by sweeps.",
	})

	DispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "dispatch_failures_total",
		Help:      "Late/absent notifications that could not be dispatched.",
	})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "submissions_total",
		Help:      "Manual submissions by outcome.",
	}, []string{"outcome"})
)
