// Package metrics exposes Prometheus counters and histograms for workflow activity.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "opencore"

// Metrics holds the workflow collectors registered on one registry.
type Metrics struct {
	workflowsStarted *prometheus.CounterVec
	actionOutcomes   *prometheus.CounterVec
	renderFallbacks  *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	expiredSwept     prometheus.Counter
	duplicateEvents  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		workflowsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_started_total",
				Help:      "Total number of workflow instances started",
			},
			[]string{"workflow", "surface"},
		),
		actionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_actions_total",
				Help:      "Total number of user actions handled, by outcome",
			},
			[]string{"workflow", "outcome"},
		),
		renderFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "render_fallbacks_total",
				Help:      "Total number of renders that used a degraded strategy",
			},
			[]string{"surface", "mode"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of tool calls",
			},
			[]string{"tool", "status"}, // status: success, error, discarded
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Duration of tool calls in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"tool"},
		),
		expiredSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expired_instances_swept_total",
				Help:      "Total number of expired workflow instances removed by the sweeper",
			},
		),
		duplicateEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_events_total",
				Help:      "Total number of redelivered platform events dropped",
			},
			[]string{"surface"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.workflowsStarted, m.actionOutcomes, m.renderFallbacks,
		m.toolCalls, m.toolDuration, m.expiredSwept, m.duplicateEvents,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) WorkflowStarted(workflowID, surfaceID string) {
	if m == nil {
		return
	}
	m.workflowsStarted.WithLabelValues(workflowID, surfaceID).Inc()
}

func (m *Metrics) ActionOutcome(workflowID, outcome string) {
	if m == nil {
		return
	}
	m.actionOutcomes.WithLabelValues(workflowID, outcome).Inc()
}

func (m *Metrics) RenderFallback(surfaceID, mode string) {
	if m == nil {
		return
	}
	m.renderFallbacks.WithLabelValues(surfaceID, mode).Inc()
}

// ToolCall records one tool call and its duration.
func (m *Metrics) ToolCall(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) ExpiredSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expiredSwept.Add(float64(n))
}

func (m *Metrics) DuplicateEvent(surfaceID string) {
	if m == nil {
		return
	}
	m.duplicateEvents.WithLabelValues(surfaceID).Inc()
}
