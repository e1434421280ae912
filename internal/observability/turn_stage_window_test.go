package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTurnStageWindowSnapshot(t *testing.T) {
	w := NewTurnStageWindow(8)
	w.Observe("request_to_first_reply", 500)
	w.Observe("request_to_first_reply", 700)
	w.Observe("request_to_first_reply", 900)
	w.ObserveIndicator("fallback_reply")
	w.ObserveIndicator("fallback_reply")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "request_to_first_reply" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "request_to_first_reply")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 8000 {
		t.Fatalf("TargetP95MS = %.2f, want 8000", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want fallback_reply x2", snap.Indicators)
	}
}

func TestTurnStageWindowWrapsAndResets(t *testing.T) {
	w := NewTurnStageWindow(2)
	for _, v := range []float64{10, 20, 30} {
		w.Observe("turn_total", v)
	}
	w.Observe("", 5)
	w.Observe("turn_total", -1)

	snap := w.Snapshot()
	if got := snap.Stages[0]; got.Samples != 2 || got.AvgMS != 25 {
		t.Fatalf("stage = %+v, want 2 samples averaging 25", got)
	}

	w.Reset()
	if snap := w.Snapshot(); len(snap.Stages) != 0 {
		t.Fatalf("Stages after Reset = %+v, want none", snap.Stages)
	}
}

func TestMetricsHandlerServesOwnRegistry(t *testing.T) {
	m := NewMetrics("bfa_test")
	m.ObserveFirstFragment(ChannelThinking, 1500*time.Millisecond)
	m.ChatTurns.WithLabelValues("sse", "completed").Inc()

	// A second instance must not collide on registration.
	_ = NewMetrics("bfa_test")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`bfa_test_chat_turns_total{outcome="completed",transport="sse"} 1`,
		`bfa_test_first_fragment_latency_ms_count{channel="thinking"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}

	snap := m.Stages.Snapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != "request_to_first_thinking" {
		t.Fatalf("stage window = %+v", snap.Stages)
	}
}

func TestTurnStageWindowTargets(t *testing.T) {
	w := NewTurnStageWindow(4)
	w.SetTarget(StageTurnTotal, 12000)
	w.SetTarget(StageFirstReply, 0)
	w.Observe(StageTurnTotal, 100)
	w.Observe(StageFirstReply, 50)

	snap := w.Snapshot()
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	for _, s := range snap.Stages {
		switch s.Stage {
		case StageTurnTotal:
			if s.TargetP95MS != 12000 {
				t.Fatalf("turn_total target = %.0f, want 12000", s.TargetP95MS)
			}
		case StageFirstReply:
			if s.TargetP95MS != 0 {
				t.Fatalf("first reply target = %.0f, want cleared", s.TargetP95MS)
			}
		}
	}
	if DefaultStageTargets[StageFirstReply] != 8000 {
		t.Fatalf("SetTarget mutated the shared defaults")
	}
}
