package runlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/warden/pkg/config"
	"github.com/odvcencio/warden/pkg/storage"
)

func newTestWriter(t *testing.T, cfg *config.Config) (*Writer, *storage.Store) {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "warden.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if cfg == nil {
		cfg = config.Default()
	}
	return New(db, cfg), db
}

func TestStartRun_RecordsHashAlways(t *testing.T) {
	w, _ := newTestWriter(t, nil)
	runID, err := w.StartRun("sess-1", "chat", "what time is it", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run, _, err := w.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.InputHash == "" {
		t.Error("expected non-empty input hash")
	}
}

func TestStartRun_PrivacyModeOmitsRawInput(t *testing.T) {
	cfg := config.Default()
	cfg.PrivacyMode = true
	cfg.AllowQueryTextLogging = false
	w, _ := newTestWriter(t, cfg)

	runID, err := w.StartRun("sess-1", "chat", "sensitive query text", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run, _, err := w.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.InputText != "" {
		t.Errorf("expected empty InputText under privacy mode, got %q", run.InputText)
	}
}

func TestStartRun_QueryTextLoggingAllowedStoresRawInput(t *testing.T) {
	cfg := config.Default()
	cfg.PrivacyMode = false
	cfg.AllowQueryTextLogging = true
	w, _ := newTestWriter(t, cfg)

	runID, err := w.StartRun("sess-1", "chat", "plain text", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run, _, err := w.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.InputText != "plain text" {
		t.Errorf("InputText = %q, want %q", run.InputText, "plain text")
	}
}

func TestLogRunEvent_AppendsToStream(t *testing.T) {
	w, _ := newTestWriter(t, nil)
	runID, err := w.StartRun("sess-1", "chat", "hi", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := w.LogRunEvent(runID, storage.EventToolCall, map[string]any{"tool": "file_read"}); err != nil {
		t.Fatalf("LogRunEvent: %v", err)
	}
	_, events, err := w.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(events) != 1 || events[0].EventType != storage.EventToolCall {
		t.Errorf("events = %+v", events)
	}
}

func TestFinishRun_RecordsDuration(t *testing.T) {
	w, _ := newTestWriter(t, nil)
	runID, err := w.StartRun("sess-1", "chat", "hi", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	start := time.Now().UTC()
	if err := w.FinishRun(runID, start); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	run, _, err := w.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != storage.RunStatusFinished {
		t.Errorf("Status = %q, want finished", run.Status)
	}
	if run.DurationMs == nil {
		t.Error("expected DurationMs to be set")
	}
}

func TestLogEvent_RedactsSensitiveKeysWhenEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.RedactionEnabled = true
	cfg.VerboseLogging = true
	w, db := newTestWriter(t, cfg)

	if err := w.LogEvent(storage.EventToolCall, "tool call", map[string]any{
		"api_key": "sk-super-secret",
		"tool":    "file_read",
	}, "sess-1"); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	logs, err := db.ListAuditLogsBySession("sess-1", 0)
	if err != nil {
		t.Fatalf("ListAuditLogsBySession: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 audit log, got %d", len(logs))
	}
	if logs[0].Payload["api_key"] != "[REDACTED]" {
		t.Errorf("api_key = %v, want [REDACTED]", logs[0].Payload["api_key"])
	}
	if logs[0].Payload["tool"] != "file_read" {
		t.Errorf("tool = %v, want file_read", logs[0].Payload["tool"])
	}
}

func TestLogEvent_NonVerboseProjectsToWhitelist(t *testing.T) {
	cfg := config.Default()
	cfg.VerboseLogging = false
	w, db := newTestWriter(t, cfg)

	if err := w.LogEvent(storage.EventToolCall, "tool call", map[string]any{
		"tool":        "file_read",
		"result_hash": "abc123",
		"args_sample": "should be dropped",
	}, "sess-1"); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	logs, err := db.ListAuditLogsBySession("sess-1", 0)
	if err != nil {
		t.Fatalf("ListAuditLogsBySession: %v", err)
	}
	payload := logs[0].Payload
	if _, ok := payload["args_sample"]; ok {
		t.Error("args_sample should have been dropped by the whitelist projection")
	}
	if payload["tool"] != "file_read" || payload["result_hash"] != "abc123" {
		t.Errorf("payload = %v", payload)
	}
}
