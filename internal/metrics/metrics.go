// Package metrics exposes the engine's Prometheus collectors.
//
// Grounded on internal/observability/prom.go from the sibling event-hub
// repo in the retrieval pack: a single struct of pre-registered
// CounterVec/Histogram/Counter fields constructed once at startup and
// passed by handle to the components that record against them, the same
// "process-scoped resource constructed once" shape spec section 9 asks
// for in place of the source's implicit globals.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the engine's components record against.
type Metrics struct {
	JobsClaimedTotal     *prometheus.CounterVec
	DispatchOutcomeTotal *prometheus.CounterVec
	EpisodesOpenedTotal  *prometheus.CounterVec
	EpisodesClosedTotal  *prometheus.CounterVec
	SOSTransitionsTotal  *prometheus.CounterVec
	ScanDuration         prometheus.Histogram
	ReminderDuration     prometheus.Histogram
	JobsSweptTotal       prometheus.Counter
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsClaimedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "solocheck",
				Subsystem: "dispatch",
				Name:      "jobs_claimed_total",
				Help:      "Dispatch jobs claimed from the job queue.",
			},
			[]string{"channel"},
		),
		DispatchOutcomeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "solocheck",
				Subsystem: "dispatch",
				Name:      "outcome_total",
				Help:      "Terminal and transient delivery outcomes by channel and outcome kind.",
			},
			[]string{"channel", "outcome"},
		),
		EpisodesOpenedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "solocheck",
				Subsystem: "episode",
				Name:      "opened_total",
				Help:      "Alert episodes opened, by kind.",
			},
			[]string{"kind"},
		),
		EpisodesClosedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "solocheck",
				Subsystem: "episode",
				Name:      "closed_total",
				Help:      "Alert episodes closed, by resolution.",
			},
			[]string{"resolution"},
		),
		SOSTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "solocheck",
				Subsystem: "sos",
				Name:      "transitions_total",
				Help:      "SOS coordinator state transitions.",
			},
			[]string{"state"},
		),
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "solocheck",
				Subsystem: "scanner",
				Name:      "tick_duration_seconds",
				Help:      "Overdue scanner tick duration.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		),
		ReminderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "solocheck",
				Subsystem: "reminder",
				Name:      "tick_duration_seconds",
				Help:      "Reminder scheduler tick duration.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		),
		JobsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "solocheck",
				Subsystem: "dispatch",
				Name:      "jobs_swept_total",
				Help:      "In-flight dispatch jobs returned to queued after their visibility timeout lapsed.",
			},
		),
	}
	reg.MustRegister(
		m.JobsClaimedTotal, m.DispatchOutcomeTotal, m.EpisodesOpenedTotal,
		m.EpisodesClosedTotal, m.SOSTransitionsTotal, m.ScanDuration, m.ReminderDuration,
		m.JobsSweptTotal,
	)
	return m
}
