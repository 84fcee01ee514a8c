package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStartRun_DefaultsToOpenStatus(t *testing.T) {
	s := newTestStore(t)
	id := uuid.NewString()
	err := s.StartRun(Run{ID: id, SessionID: "sess-1", Mode: "safe", InputHash: "abc123", CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	r, err := s.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r == nil || r.Status != RunStatusOpen {
		t.Fatalf("run = %+v, want status %q", r, RunStatusOpen)
	}
	if r.InputText != "" {
		t.Errorf("InputText = %q, want empty when not provided", r.InputText)
	}
}

func TestFinishRun_SetsDurationAndStatus(t *testing.T) {
	s := newTestStore(t)
	id := uuid.NewString()
	start := time.Now().UTC()
	if err := s.StartRun(Run{ID: id, SessionID: "sess-1", Mode: "safe", InputHash: "abc", CreatedAt: start}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	finish := start.Add(5 * time.Second)
	if err := s.FinishRun(id, finish, 5000); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	r, err := s.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Status != RunStatusFinished {
		t.Errorf("Status = %q, want %q", r.Status, RunStatusFinished)
	}
	if r.DurationMs == nil || *r.DurationMs != 5000 {
		t.Errorf("DurationMs = %v, want 5000", r.DurationMs)
	}
	if r.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
}

func TestFinishRun_UnknownIDFails(t *testing.T) {
	s := newTestStore(t)
	if err := s.FinishRun("does-not-exist", time.Now().UTC(), 0); err == nil {
		t.Error("expected error finishing unknown run")
	}
}

func TestLogRunEvent_AppendsInChronologicalOrder(t *testing.T) {
	s := newTestStore(t)
	runID := uuid.NewString()
	now := time.Now().UTC()
	if err := s.StartRun(Run{ID: runID, SessionID: "sess-1", Mode: "safe", InputHash: "abc", CreatedAt: now}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	for i, evType := range []EventType{EventToolCall, EventSearchExecute} {
		err := s.LogRunEvent(RunEvent{
			ID:        uuid.NewString(),
			RunID:     runID,
			EventType: evType,
			Payload:   map[string]any{"seq": i},
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("LogRunEvent[%d]: %v", i, err)
		}
	}

	events, err := s.ListRunEvents(runID)
	if err != nil {
		t.Fatalf("ListRunEvents: %v", err)
	}
	if len(events) != 2 || events[0].EventType != EventToolCall || events[1].EventType != EventSearchExecute {
		t.Fatalf("events = %+v, want [tool.call, search.execute]", events)
	}
}

func TestListRunsBySession_OrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()
	ids := []string{uuid.NewString(), uuid.NewString()}
	if err := s.StartRun(Run{ID: ids[0], SessionID: "sess-1", Mode: "safe", InputHash: "a", CreatedAt: base}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := s.StartRun(Run{ID: ids[1], SessionID: "sess-1", Mode: "safe", InputHash: "b", CreatedAt: base.Add(time.Second)}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	runs, err := s.ListRunsBySession("sess-1")
	if err != nil {
		t.Fatalf("ListRunsBySession: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != ids[1] {
		t.Fatalf("runs = %+v, want newest first (%s)", runs, ids[1])
	}
}
