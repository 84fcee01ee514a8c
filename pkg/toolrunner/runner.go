// Package toolrunner executes one tool plugin per call under subprocess
// isolation: the policy guard decides whether the call may run at all,
// this package decides how it runs — argument re-validation, quarantine
// copy-on-read, rate and resource limits, a sandboxed child process with
// a hard wall timeout, and a hashed, redacted audit trail.
package toolrunner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	wardenerrors "github.com/odvcencio/warden/pkg/errors"
	"github.com/odvcencio/warden/pkg/guard"
	"github.com/odvcencio/warden/pkg/identity"
	"github.com/odvcencio/warden/pkg/limiter"
	"github.com/odvcencio/warden/pkg/logging"
	"github.com/odvcencio/warden/pkg/metrics"
	"github.com/odvcencio/warden/pkg/pathsecurity"
	"github.com/odvcencio/warden/pkg/permission"
	"github.com/odvcencio/warden/pkg/runlog"
	"github.com/odvcencio/warden/pkg/storage"
	"github.com/odvcencio/warden/pkg/telemetry"
	"github.com/odvcencio/warden/pkg/tools"

	wardenconfig "github.com/odvcencio/warden/pkg/config"
)

// Config wires a Runner's collaborators: the policy guard that decides
// whether a call may run, the plugin registry naming what can run, the
// permission broker for the second authoritative path-arg check, the
// active identity for workspace scopes, settings for timeouts/output caps,
// the run log for audit, and the argv used to spawn the worker subprocess.
type Config struct {
	Guard      *guard.Guard
	Broker     *permission.Broker
	Ident      *identity.Accessor
	Plugins    *tools.PluginRegistry
	RunLog     *runlog.Writer
	Settings   *wardenconfig.Config
	Log        *logging.Logger
	WorkerArgv []string
	DataDir    string

	// Spawn overrides how the worker subprocess is launched. Nil means
	// the real exec.CommandContext path. Tests substitute a fake worker
	// here to exercise the pipeline without a built worker binary.
	Spawn func(ctx context.Context, argv []string, stdin []byte, dir string, env []string) (stdout, stderr []byte, err error)
}

// Runner is the single place a tool call goes from "requested" to
// "executed, accounted, and audited."
type Runner struct {
	cfg Config
}

// New builds a Runner from its wired collaborators.
func New(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

// Request describes one tool call.
type Request struct {
	Tool      string
	Args      map[string]any
	SessionID string
	Mode      guard.Mode
	SafeMode  bool
	Confirmed bool
	RunID     string // empty when no run is open
	Limiter   *limiter.RunLimiter
}

// Result is what a successful tool call produced.
type Result struct {
	Value           any
	ResultHash      string
	Quarantined     bool
	StdoutTruncated bool
	StderrTruncated bool
}

// Run executes the full pipeline for one tool call: plugin lookup, the
// policy guard's ordered check chain, a second path-arg validation pass
// against the broker's grants, write-preview forcing, quarantine
// copy-on-read, limiter accounting, sandboxed subprocess execution, and a
// hashed audit entry.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "toolrunner.run", map[string]string{"tool": req.Tool, "session": req.SessionID})
	defer span.End()
	start := time.Now()
	defer func() { metrics.RunDuration.Observe(time.Since(start).Seconds()) }()

	plugin, ok := r.cfg.Plugins.Get(req.Tool)
	if !ok {
		metrics.ToolCalls.WithLabelValues(req.Tool, "not_found").Inc()
		return Result{}, wardenerrors.New(wardenerrors.ErrCodeToolNotFound, wardenerrors.KindNotFound, fmt.Sprintf("unknown tool %q", req.Tool))
	}

	primaryPath, allPaths := pathArgs(req.Args)

	requirements := make([]guard.Requirement, 0, len(plugin.Requirements))
	for _, pr := range plugin.Requirements {
		requirements = append(requirements, guard.Requirement{Permission: pr.Permission, PathScoped: pr.PathScoped})
	}

	decision, err := r.cfg.Guard.CheckTool(plugin.Name, fmt.Sprintf("tool.%s", plugin.Name), req.Mode, req.SessionID, primaryPath, req.SafeMode, req.Confirmed, requirements)
	if err != nil {
		return Result{}, err
	}
	if !decision.Allowed {
		metrics.ToolCalls.WithLabelValues(plugin.Name, "denied").Inc()
		return Result{}, wardenerrors.Denied(fmt.Sprintf("tool.%s", plugin.Name), decision.Reason)
	}
	if decision.Quarantine && plugin.Family == tools.FamilyWrite {
		metrics.ToolCalls.WithLabelValues(plugin.Name, "denied").Inc()
		return Result{}, wardenerrors.Denied(fmt.Sprintf("tool.%s", plugin.Name), "quarantine required for a write tool is treated as denial")
	}

	if err := r.validatePathArgs(plugin, req.SessionID, allPaths); err != nil {
		return Result{}, err
	}

	if plugin.Family == tools.FamilyWrite && r.cfg.Settings != nil && r.cfg.Settings.WritePreviewDefault {
		if confirm, _ := req.Args["confirm"].(bool); !confirm {
			req.Args["preview_only"] = true
		}
	}

	quarantined := false
	if decision.Quarantine && plugin.Family == tools.FamilyRead && len(allPaths) > 0 {
		scopes, err := r.workspaceScopes()
		if err != nil {
			return Result{}, err
		}
		rewritten, err := quarantinePaths(r.cfg.DataDir, req.SessionID, allPaths, scopes)
		if err != nil {
			return Result{}, wardenerrors.Wrap(err, wardenerrors.ErrCodeWorkerFailed, wardenerrors.KindWorkerFailure, "quarantine copy failed")
		}
		rewriteArgs(req.Args, rewritten)
		quarantined = true
	}

	if err := r.checkLimits(req.Limiter); err != nil {
		metrics.LimitBlocks.WithLabelValues(plugin.Name).Inc()
		return Result{}, err
	}

	stdout, stderr, stdoutTrunc, stderrTrunc, err := r.execute(ctx, plugin.Name, req.SessionID, req.Args)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(plugin.Name, "worker_failure").Inc()
		return Result{}, err
	}

	var parsed workerResponse
	if err := json.Unmarshal(stdout, &parsed); err != nil {
		metrics.ToolCalls.WithLabelValues(plugin.Name, "worker_failure").Inc()
		return Result{}, wardenerrors.Wrap(err, wardenerrors.ErrCodeWorkerFailed, wardenerrors.KindWorkerFailure, "worker produced unparseable output: "+firstNonEmpty(string(stderr), string(stdout)))
	}
	if !parsed.OK {
		metrics.ToolCalls.WithLabelValues(plugin.Name, "worker_failure").Inc()
		return Result{}, wardenerrors.New(wardenerrors.ErrCodeWorkerFailed, wardenerrors.KindWorkerFailure, parsed.Error)
	}

	if req.Limiter != nil && plugin.Family == tools.FamilyRead {
		count, size := countAndSize(parsed.Result)
		if err := req.Limiter.RecordFileReads(count, size); err != nil {
			metrics.LimitBlocks.WithLabelValues(plugin.Name).Inc()
			return Result{}, err
		}
	}

	resultHash := hashResult(parsed.Result)
	r.audit(req, plugin.Name, resultHash, stdoutTrunc, stderrTrunc)
	metrics.ToolCalls.WithLabelValues(plugin.Name, "success").Inc()

	return Result{
		Value:           parsed.Result,
		ResultHash:      resultHash,
		Quarantined:     quarantined,
		StdoutTruncated: stdoutTrunc,
		StderrTruncated: stderrTrunc,
	}, nil
}

type workerResponse struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Trace  string `json:"trace,omitempty"`
}

func pathArgs(args map[string]any) (primary string, all []string) {
	if p, ok := args["path"].(string); ok && p != "" {
		return p, []string{p}
	}
	if raw, ok := args["paths"].([]any); ok {
		paths := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				paths = append(paths, s)
			}
		}
		if len(paths) > 0 {
			return paths[0], paths
		}
	}
	return "", nil
}

func rewriteArgs(args map[string]any, rewritten []string) {
	if _, ok := args["path"]; ok && len(rewritten) == 1 {
		args["path"] = rewritten[0]
		return
	}
	if _, ok := args["paths"]; ok {
		out := make([]any, len(rewritten))
		for i, p := range rewritten {
			out[i] = p
		}
		args["paths"] = out
	}
}

// validatePathArgs is the second, authoritative containment check run
// after the policy guard, defending against argument tampering by
// anything between the guard decision and this call (a compromised
// intermediary rewriting args after the decision was made).
func (r *Runner) validatePathArgs(plugin tools.Plugin, sessionID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	for _, req := range plugin.Requirements {
		if !req.PathScoped {
			continue
		}
		grants, err := r.cfg.Broker.List(sessionID)
		if err != nil {
			return err
		}
		var scopes []string
		for _, g := range grants {
			if g.Permission == string(req.Permission) {
				scopes = append(scopes, g.AllowedPaths...)
			}
		}
		for _, p := range paths {
			if ok, reason := pathsecurity.WithinScopes(p, scopes); !ok {
				return wardenerrors.Denied(string(req.Permission), reason)
			}
		}
	}
	return nil
}

func (r *Runner) workspaceScopes() ([]string, error) {
	snap, err := r.cfg.Ident.Load()
	if err != nil {
		return nil, err
	}
	return snap.WorkspaceScopes(), nil
}

func (r *Runner) checkLimits(l *limiter.RunLimiter) error {
	if l == nil {
		return nil
	}
	if err := l.CheckRuntime(); err != nil {
		return err
	}
	if err := l.CheckToolCall(); err != nil {
		return err
	}
	if err := l.EnforceRateLimit(); err != nil {
		return err
	}
	l.RecordToolCall()
	return nil
}

func (r *Runner) scrubbedEnv() []string {
	allow := []string{"SYSTEMROOT", "COMSPEC", "WINDIR", "TEMP", "TMP"}
	env := make([]string, 0, len(allow)+1)
	for _, k := range allow {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	env = append(env, "PYTHONIOENCODING=utf-8")
	return env
}

func (r *Runner) timeout() time.Duration {
	if r.cfg.Settings != nil && r.cfg.Settings.Tool.TimeoutSeconds > 0 {
		return time.Duration(r.cfg.Settings.Tool.TimeoutSeconds) * time.Second
	}
	return time.Duration(wardenconfig.DefaultToolTimeoutSeconds) * time.Second
}

func (r *Runner) outputLimit() int64 {
	if r.cfg.Settings != nil && r.cfg.Settings.Tool.OutputLimitBytes > 0 {
		return r.cfg.Settings.Tool.OutputLimitBytes
	}
	return wardenconfig.DefaultToolOutputLimitBytes
}

func (r *Runner) execute(ctx context.Context, tool, sessionID string, args map[string]any) (stdout, stderr []byte, stdoutTrunc, stderrTrunc bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	payload, err := json.Marshal(map[string]any{"tool": tool, "args": args})
	if err != nil {
		return nil, nil, false, false, wardenerrors.Wrap(err, wardenerrors.ErrCodeInvalidInput, wardenerrors.KindValidation, "encode worker request")
	}

	if len(r.cfg.WorkerArgv) == 0 && r.cfg.Spawn == nil {
		return nil, nil, false, false, wardenerrors.New(wardenerrors.ErrCodeInternal, wardenerrors.KindTransient, "no worker argv configured")
	}

	dir, _ := scratchDir(r.cfg.DataDir, sessionID)
	env := r.scrubbedEnv()

	spawn := r.cfg.Spawn
	if spawn == nil {
		spawn = r.realSpawn
	}

	rawOut, rawErr, runErr := spawn(ctx, r.cfg.WorkerArgv, payload, dir, env)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, nil, false, false, wardenerrors.New(wardenerrors.ErrCodeWorkerTimeout, wardenerrors.KindWorkerFailure, fmt.Sprintf("tool %s timed out after %s", tool, r.timeout()))
	}

	out, outTrunc := truncate(rawOut, r.outputLimit())
	errOut, errTrunc := truncate(rawErr, r.outputLimit())

	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); ok {
			msg := string(errOut)
			if msg == "" {
				msg = string(out)
			}
			return nil, nil, outTrunc, errTrunc, wardenerrors.New(wardenerrors.ErrCodeWorkerFailed, wardenerrors.KindWorkerFailure, msg)
		}
		return nil, nil, outTrunc, errTrunc, wardenerrors.Wrap(runErr, wardenerrors.ErrCodeWorkerFailed, wardenerrors.KindWorkerFailure, "spawn tool worker")
	}

	return out, errOut, outTrunc, errTrunc, nil
}

func (r *Runner) realSpawn(ctx context.Context, argv []string, stdin []byte, dir string, env []string) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = env
	cmd.Dir = dir

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), runErr
}

func scratchDir(dataDir, sessionID string) (string, error) {
	dir := filepath.Join(dataDir, "tool_runs", sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func truncate(data []byte, limit int64) ([]byte, bool) {
	if limit <= 0 || int64(len(data)) <= limit {
		return data, false
	}
	marker := []byte("\n...[truncated]")
	cut := data[:limit]
	return append(cut, marker...), true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func countAndSize(result any) (count int, size int64) {
	m, ok := result.(map[string]any)
	if !ok {
		return 0, 0
	}
	if b, ok := m["bytes"].(float64); ok {
		return 1, int64(b)
	}
	if files, ok := m["files"].([]any); ok {
		total := int64(0)
		for _, f := range files {
			fm, ok := f.(map[string]any)
			if !ok {
				continue
			}
			if b, ok := fm["bytes"].(float64); ok {
				total += int64(b)
			}
		}
		return len(files), total
	}
	return 0, 0
}

func hashResult(result any) string {
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (r *Runner) audit(req Request, tool, resultHash string, stdoutTrunc, stderrTrunc bool) {
	payload := map[string]any{
		"tool":             tool,
		"result_hash":      resultHash,
		"stdout_truncated": stdoutTrunc,
		"stderr_truncated": stderrTrunc,
	}
	if r.cfg.Settings != nil && r.cfg.Settings.VerboseLogging {
		payload["args_sample"] = req.Args
	}
	if r.cfg.RunLog == nil {
		return
	}
	_ = r.cfg.RunLog.LogEvent(storage.EventToolCall, "tool call", payload, req.SessionID)
	if req.RunID != "" {
		_ = r.cfg.RunLog.LogRunEvent(req.RunID, storage.EventToolCall, payload)
	}
}
