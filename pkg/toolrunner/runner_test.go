package toolrunner

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/odvcencio/warden/pkg/config"
	"github.com/odvcencio/warden/pkg/guard"
	"github.com/odvcencio/warden/pkg/identity"
	"github.com/odvcencio/warden/pkg/limiter"
	"github.com/odvcencio/warden/pkg/permission"
	"github.com/odvcencio/warden/pkg/runlog"
	"github.com/odvcencio/warden/pkg/storage"
	"github.com/odvcencio/warden/pkg/tools"
)

type harness struct {
	runner *Runner
	store  *storage.Store
	broker *permission.Broker
}

func newHarness(t *testing.T, spawn func(ctx context.Context, argv []string, stdin []byte, dir string, env []string) (stdout, stderr []byte, err error)) harness {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "warden.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	broker := permission.New(db)
	ident := identity.New(db)
	g := guard.New(broker, ident, nil)
	cfg := config.Default()

	r := New(Config{
		Guard:      g,
		Broker:     broker,
		Ident:      ident,
		Plugins:    tools.NewPluginRegistry(),
		RunLog:     runlog.New(db, cfg),
		Settings:   cfg,
		WorkerArgv: []string{"unused"},
		DataDir:    t.TempDir(),
		Spawn:      spawn,
	})
	return harness{runner: r, store: db, broker: broker}
}

func fakeWorker(result any, ok bool, errMsg string) func(ctx context.Context, argv []string, stdin []byte, dir string, env []string) (stdout, stderr []byte, err error) {
	return func(ctx context.Context, argv []string, stdin []byte, dir string, env []string) ([]byte, []byte, error) {
		resp := map[string]any{"ok": ok}
		if ok {
			resp["result"] = result
		} else {
			resp["error"] = errMsg
		}
		data, _ := json.Marshal(resp)
		return data, nil, nil
	}
}

func fakeWorkerEchoingArgs() func(ctx context.Context, argv []string, stdin []byte, dir string, env []string) (stdout, stderr []byte, err error) {
	return func(ctx context.Context, argv []string, stdin []byte, dir string, env []string) ([]byte, []byte, error) {
		var req struct {
			Args map[string]any `json:"args"`
		}
		_ = json.Unmarshal(stdin, &req)
		data, _ := json.Marshal(map[string]any{"ok": true, "result": req.Args})
		return data, nil, nil
	}
}

func TestRun_DeniesWithNoGrant(t *testing.T) {
	h := newHarness(t, fakeWorker(map[string]any{}, true, ""))
	_, err := h.runner.Run(context.Background(), Request{
		Tool:      "file_read",
		Args:      map[string]any{"path": "/tmp/x.txt"},
		SessionID: "sess-1",
		Mode:      guard.ModeChat,
	})
	if err == nil {
		t.Fatal("expected denial with no grant")
	}
}

func TestRun_SucceedsWithGrantAndInScopePath(t *testing.T) {
	base := t.TempDir()
	h := newHarness(t, fakeWorker(map[string]any{"content": "hi", "bytes": float64(2)}, true, ""))
	if err := h.broker.Grant(permission.FilesystemRead, permission.ScopeSession, "sess-1", []string{base}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	target := filepath.Join(base, "a.txt")
	result, err := h.runner.Run(context.Background(), Request{
		Tool:      "file_read",
		Args:      map[string]any{"path": target},
		SessionID: "sess-1",
		Mode:      guard.ModeChat,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ResultHash == "" {
		t.Error("expected a non-empty result hash")
	}

	logs, err := h.store.ListAuditLogsBySession("sess-1", 0)
	if err != nil {
		t.Fatalf("ListAuditLogsBySession: %v", err)
	}
	if len(logs) != 1 || logs[0].EventType != storage.EventToolCall {
		t.Errorf("logs = %+v", logs)
	}
}

func TestRun_DeniesPathOutsideEveryGrant(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	h := newHarness(t, fakeWorkerEchoingArgs())
	if err := h.broker.Grant(permission.FilesystemRead, permission.ScopeSession, "sess-1", []string{base}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	// target lies outside every grant for this session; the guard's broker
	// check rejects it before the runner's second path-arg check is reached.
	target := filepath.Join(outside, "a.txt")
	_, err := h.runner.Run(context.Background(), Request{
		Tool:      "file_read",
		Args:      map[string]any{"path": target},
		SessionID: "sess-1",
		Mode:      guard.ModeChat,
	})
	if err == nil {
		t.Fatal("expected denial for a path outside every grant")
	}
}

func TestRun_ModeDenialNeverReachesSubprocess(t *testing.T) {
	called := false
	spawn := func(ctx context.Context, argv []string, stdin []byte, dir string, env []string) ([]byte, []byte, error) {
		called = true
		return nil, nil, nil
	}
	h := newHarness(t, spawn)
	_, err := h.runner.Run(context.Background(), Request{
		Tool:      "file_write",
		Args:      map[string]any{"path": "/tmp/x.txt", "content": "x"},
		SessionID: "sess-1",
		Mode:      guard.ModeChat,
	})
	if err == nil {
		t.Fatal("expected mode denial for file_write in chat mode")
	}
	if called {
		t.Error("subprocess must not be spawned when the guard denies the call")
	}
}

func TestRun_WritePreviewDefaultForcesPreviewOnly(t *testing.T) {
	base := t.TempDir()
	h := newHarness(t, fakeWorkerEchoingArgs())
	if err := h.broker.Grant(permission.FilesystemWrite, permission.ScopeSession, "sess-1", []string{base}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	target := filepath.Join(base, "out.txt")
	result, err := h.runner.Run(context.Background(), Request{
		Tool:      "file_write",
		Args:      map[string]any{"path": target, "content": "data"},
		SessionID: "sess-1",
		Mode:      guard.ModeWorkflow,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	echoed := result.Value.(map[string]any)
	if echoed["preview_only"] != true {
		t.Errorf("expected preview_only forced true, got %v", echoed["preview_only"])
	}
}

func TestRun_LimiterDenialStopsBeforeSpawn(t *testing.T) {
	base := t.TempDir()
	called := false
	spawn := func(ctx context.Context, argv []string, stdin []byte, dir string, env []string) ([]byte, []byte, error) {
		called = true
		return nil, nil, nil
	}
	h := newHarness(t, spawn)
	if err := h.broker.Grant(permission.FilesystemRead, permission.ScopeSession, "sess-1", []string{base}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	lim := limiter.New("sess-1-"+uuid.NewString(), limiter.Limits{MaxToolCallsPerMessage: 1})
	lim.RecordToolCall()
	target := filepath.Join(base, "a.txt")
	_, err := h.runner.Run(context.Background(), Request{
		Tool:      "file_read",
		Args:      map[string]any{"path": target},
		SessionID: "sess-1",
		Mode:      guard.ModeChat,
		Limiter:   lim,
	})
	if err == nil {
		t.Fatal("expected limiter denial with MaxToolCallsPerMessage=1 already used")
	}
	if called {
		t.Error("subprocess must not be spawned when the limiter denies the call")
	}
}

func TestRun_WorkerFailureSurfacesError(t *testing.T) {
	base := t.TempDir()
	h := newHarness(t, fakeWorker(nil, false, "boom"))
	if err := h.broker.Grant(permission.FilesystemRead, permission.ScopeSession, "sess-1", []string{base}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	target := filepath.Join(base, "a.txt")
	_, err := h.runner.Run(context.Background(), Request{
		Tool:      "file_read",
		Args:      map[string]any{"path": target},
		SessionID: "sess-1",
		Mode:      guard.ModeChat,
	})
	if err == nil {
		t.Fatal("expected worker failure to surface as an error")
	}
}
