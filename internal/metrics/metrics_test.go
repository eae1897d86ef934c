package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.WorkflowStarted("wallet-onboard", "telegram")
	m.ActionOutcome("wallet-onboard", "advanced")
	m.ActionOutcome("wallet-onboard", "advanced")
	m.ToolCall("wallet.create", "success", 20*time.Millisecond)
	m.ExpiredSwept(3)
	m.DuplicateEvent("telegram")

	if got := testutil.ToFloat64(m.actionOutcomes.WithLabelValues("wallet-onboard", "advanced")); got != 2 {
		t.Errorf("expected 2 advanced outcomes, got %v", got)
	}
	if got := testutil.ToFloat64(m.expiredSwept); got != 3 {
		t.Errorf("expected 3 swept, got %v", got)
	}
	if n := testutil.CollectAndCount(m.toolDuration); n != 1 {
		t.Errorf("expected 1 histogram series, got %d", n)
	}
}

func TestMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.WorkflowStarted("w", "s")
	m.ActionOutcome("w", "completed")
	m.RenderFallback("s", "numbered-list")
	m.ToolCall("t", "error", time.Second)
	m.ExpiredSwept(1)
	m.DuplicateEvent("s")
}
