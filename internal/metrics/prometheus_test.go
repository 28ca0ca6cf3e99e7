package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordAnalysisRequest()
	m.RecordAnalysisFailure("no_output", 0.1)
	m.RecordPlaybackStarted()
	m.RecordPlaybackFinished("completed")
	m.RecordHTTPRequest("GET", "/health", "200", 0.01)
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordAnalysisRequest()
	m.RecordAnalysisSuccess(0.5, []string{"Low", "High", "Low"})
	m.RecordMissingConditions(2)
	m.RecordMissingConditions(0)

	if got := testutil.ToFloat64(m.AnalysisRequests); got != 1 {
		t.Errorf("Expected 1 analysis request, got %v", got)
	}
	if got := testutil.ToFloat64(m.RiskLevelsReturned.WithLabelValues("Low")); got != 2 {
		t.Errorf("Expected 2 Low levels, got %v", got)
	}
	if got := testutil.ToFloat64(m.MissingConditions); got != 2 {
		t.Errorf("Expected 2 missing conditions, got %v", got)
	}

	m.RecordPlaybackStarted()
	m.RecordPlaybackStarted()
	m.RecordPlaybackFinished("stopped")
	if got := testutil.ToFloat64(m.ActivePlaybacks); got != 1 {
		t.Errorf("Expected 1 active playback, got %v", got)
	}

	// A second set on the same registry must collide
	defer func() {
		if recover() == nil {
			t.Error("Expected duplicate registration to panic")
		}
	}()
	NewMetrics(reg)
}

func TestUnregisteredMetrics(t *testing.T) {
	a := NewMetrics(nil)
	b := NewMetrics(nil)

	a.RecordSessionCreated()
	if got := testutil.ToFloat64(b.SessionsCreated); got != 0 {
		t.Errorf("Expected independent metrics, got %v", got)
	}
}
