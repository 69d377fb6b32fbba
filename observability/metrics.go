// Package observability carries the toolkit's prometheus metrics. The
// pipeline, the reconciler, and the HTTP surface all report through the
// lazily-initialised registries below.
package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records webhook ingestion activity: events by type and
// outcome, signature rejections, duplicate classifications, and applied
// record transitions.
type PipelineMetrics struct {
	events      *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// ReconcilerMetrics records reconciliation passes and their per-event
// classification counters.
type ReconcilerMetrics struct {
	runs   *prometheus.CounterVec
	events *prometheus.CounterVec
}

var (
	pipelineOnce     sync.Once
	pipelineRegistry *PipelineMetrics

	reconcilerOnce     sync.Once
	reconcilerRegistry *ReconcilerMetrics
)

// Pipeline returns the lazily-initialised pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	pipelineOnce.Do(func() {
		pipelineRegistry = &PipelineMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paywatch",
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Webhook events ingested, segmented by event type and outcome.",
			}, []string{"type", "outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paywatch",
				Subsystem: "webhook",
				Name:      "rejections_total",
				Help:      "Deliveries rejected before dedupe, segmented by reason.",
			}, []string{"reason"}),
			duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paywatch",
				Subsystem: "webhook",
				Name:      "duplicates_total",
				Help:      "Duplicate deliveries, segmented by terminal/non-terminal class.",
			}, []string{"class"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paywatch",
				Subsystem: "convergence",
				Name:      "transitions_total",
				Help:      "Applied record transitions, segmented by record kind and successor status.",
			}, []string{"kind", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "paywatch",
				Subsystem: "webhook",
				Name:      "process_duration_seconds",
				Help:      "Latency distribution for the ingest pipeline.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			pipelineRegistry.events,
			pipelineRegistry.rejections,
			pipelineRegistry.duplicates,
			pipelineRegistry.transitions,
			pipelineRegistry.latency,
		)
	})
	return pipelineRegistry
}

// Reconciler returns the lazily-initialised reconciler metrics registry.
func Reconciler() *ReconcilerMetrics {
	reconcilerOnce.Do(func() {
		reconcilerRegistry = &ReconcilerMetrics{
			runs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paywatch",
				Subsystem: "reconcile",
				Name:      "runs_total",
				Help:      "Reconciliation passes, segmented by result.",
			}, []string{"result"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paywatch",
				Subsystem: "reconcile",
				Name:      "events_total",
				Help:      "Events replayed during reconciliation, segmented by classification.",
			}, []string{"class"}),
		}
		prometheus.MustRegister(reconcilerRegistry.runs, reconcilerRegistry.events)
	})
	return reconcilerRegistry
}

// RecordEvent counts one ingested event.
func (m *PipelineMetrics) RecordEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

// RecordRejection counts a delivery refused before dedupe.
func (m *PipelineMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// RecordDuplicate counts a duplicate delivery. class is "terminal" or
// "non_terminal".
func (m *PipelineMetrics) RecordDuplicate(class string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(class).Inc()
}

// RecordTransition counts an applied record transition.
func (m *PipelineMetrics) RecordTransition(kind, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind, status).Inc()
}

// ObserveLatency records the pipeline duration for one event.
func (m *PipelineMetrics) ObserveLatency(eventType string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(normalizeLabel(eventType)).Observe(d.Seconds())
}

// RecordRun counts a reconciliation pass. result is "ok" or "error".
func (m *ReconcilerMetrics) RecordRun(result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}

// RecordReplay counts one replayed event by classification
// (processed, duplicate, failed).
func (m *ReconcilerMetrics) RecordReplay(class string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(class).Inc()
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
