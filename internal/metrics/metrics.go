// Package metrics exposes Prometheus instrumentation for batch runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
)

const namespace = "signup"

// Recorder owns a private registry so several orchestrators (and tests) can
// coexist in one process. All methods are safe on a nil receiver.
type Recorder struct {
	registry *prometheus.Registry

	items       *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	inflight    *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewRecorder creates and registers all collectors
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Work items finished, by result and error kind.",
			},
			[]string{"task", "result", "error_kind"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Workflow attempts started.",
			},
			[]string{"task"},
		),
		inflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight",
				Help:      "Workflow invocations currently holding a concurrency permit.",
			},
			[]string{"task"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_transitions_total",
				Help:      "Task lifecycle transitions, by target status.",
			},
			[]string{"status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "item_duration_seconds",
				Help:      "Wall time per work item including retries.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"result"},
		),
	}
	r.registry.MustRegister(r.items, r.attempts, r.inflight, r.transitions, r.duration)
	return r
}

// Registry returns the underlying registry for gathering
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the recorder's metrics in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordOutcome counts a finished work item
func (r *Recorder) RecordOutcome(taskID string, o domain.Outcome) {
	if r == nil {
		return
	}
	r.items.WithLabelValues(taskID, string(o.Kind), string(o.ErrorKind)).Inc()
	r.duration.WithLabelValues(string(o.Kind)).Observe(o.Elapsed.Seconds())
}

// RecordAttempt counts a workflow attempt
func (r *Recorder) RecordAttempt(taskID string) {
	if r == nil {
		return
	}
	r.attempts.WithLabelValues(taskID).Inc()
}

// SetInflight sets the number of held permits for a task
func (r *Recorder) SetInflight(taskID string, n int) {
	if r == nil {
		return
	}
	r.inflight.WithLabelValues(taskID).Set(float64(n))
}

// RecordTransition counts a task status change
func (r *Recorder) RecordTransition(status domain.TaskStatus) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(string(status)).Inc()
}
