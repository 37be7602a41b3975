// Package metrics exposes Prometheus instrumentation for the snapshot,
// progress and lifecycle engines.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/phrazzld/learnflow/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "learnflow"

// Metrics holds every collector the service reports.
type Metrics struct {
	SnapshotsCreated         *prometheus.CounterVec
	SnapshotCreationDuration prometheus.Histogram
	SnapshotComponents       prometheus.Histogram
	ProgressActions          *prometheus.CounterVec
	StepsUnlocked            prometheus.Counter
	AssignmentTransitions    *prometheus.CounterVec
	DeadlineAdjustments      *prometheus.CounterVec
	OverdueRecomputed        prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. Passing a fresh
// prometheus.NewRegistry keeps tests isolated from the global registry.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SnapshotsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_created_total",
				Help:      "Flow snapshot creation attempts by result",
			},
			[]string{"result"},
		),
		SnapshotCreationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "snapshot_creation_duration_seconds",
				Help:      "Time to validate, build and persist a snapshot tree",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		SnapshotComponents: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "snapshot_components",
				Help:      "Number of components copied per snapshot",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
			},
		),
		ProgressActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "progress_actions_total",
				Help:      "Progress actions processed by component type, action and result",
			},
			[]string{"component_type", "action", "result"},
		),
		StepsUnlocked: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_unlocked_total",
				Help:      "Steps unlocked for learners",
			},
		),
		AssignmentTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assignment_transitions_total",
				Help:      "Assignment status transitions",
			},
			[]string{"from", "to"},
		),
		DeadlineAdjustments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deadline_adjustments_total",
				Help:      "Deadline adjustments by kind",
			},
			[]string{"kind"},
		),
		OverdueRecomputed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overdue_flags_changed_total",
				Help:      "Assignments whose overdue flag changed during recomputation",
			},
		),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveSnapshot records the outcome of one snapshot creation.
func (m *Metrics) ObserveSnapshot(err error, elapsed time.Duration, components int) {
	if err != nil {
		m.SnapshotsCreated.WithLabelValues("error").Inc()
		return
	}
	m.SnapshotsCreated.WithLabelValues("success").Inc()
	m.SnapshotCreationDuration.Observe(elapsed.Seconds())
	m.SnapshotComponents.Observe(float64(components))
}

// ObserveProgressAction records the outcome of one progress update.
func (m *Metrics) ObserveProgressAction(componentType, action string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.ProgressActions.WithLabelValues(componentType, action, result).Inc()
}

// HandleEvent implements events.EventHandler so that domain events feed the
// counters that are not observed inline.
func (m *Metrics) HandleEvent(_ context.Context, e *events.DomainEvent) error {
	switch e.Type {
	case events.TypeStepsUnlocked:
		var p events.StepsUnlocked
		if err := e.UnmarshalPayload(&p); err != nil {
			return err
		}
		m.StepsUnlocked.Add(float64(len(p.StepIDs)))
	case events.TypeAssignmentStatusChanged:
		var p events.AssignmentStatusChanged
		if err := e.UnmarshalPayload(&p); err != nil {
			return err
		}
		m.AssignmentTransitions.WithLabelValues(string(p.From), string(p.To)).Inc()
	case events.TypeDeadlineAdjusted:
		var p events.DeadlineAdjusted
		if err := e.UnmarshalPayload(&p); err != nil {
			return err
		}
		m.DeadlineAdjustments.WithLabelValues(string(p.Adjustment.Kind)).Inc()
	case events.TypeOverdueRecomputed:
		var p events.OverdueRecomputed
		if err := e.UnmarshalPayload(&p); err != nil {
			return err
		}
		m.OverdueRecomputed.Add(float64(p.Changed))
	}
	return nil
}

var _ events.EventHandler = (*Metrics)(nil)
