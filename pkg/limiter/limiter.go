// Package limiter bounds the work a single logical run can do: how many
// tool calls it issues, how fast it issues them, how many files and
// bytes it reads, and how long it is allowed to keep running.
package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	wardenerrors "github.com/odvcencio/warden/pkg/errors"
	"github.com/odvcencio/warden/pkg/policydsl"
)

// Limits are the budget thresholds a RunLimiter enforces, named to match
// the settings keys policy limit overrides substitute into.
type Limits struct {
	MaxToolCallsPerMessage int
	MaxToolCallsPerMinute  int
	MaxFilesReadPerRun     int
	MaxBytesReadPerRun     int64
	MaxRuntimeSeconds      int
}

// AsMap projects Limits into the string-keyed form policydsl.ApplyLimits
// operates on.
func (l Limits) AsMap() map[string]int {
	return map[string]int{
		"max_tool_calls_per_message": l.MaxToolCallsPerMessage,
		"max_tool_calls_per_minute":  l.MaxToolCallsPerMinute,
		"max_files_read_per_run":     l.MaxFilesReadPerRun,
		"max_bytes_read_per_run":     int(l.MaxBytesReadPerRun),
		"max_runtime_seconds":        l.MaxRuntimeSeconds,
	}
}

// FromMap reads Limits back out of the map form, leaving fields at zero
// when absent.
func FromMap(m map[string]int) Limits {
	return Limits{
		MaxToolCallsPerMessage: m["max_tool_calls_per_message"],
		MaxToolCallsPerMinute:  m["max_tool_calls_per_minute"],
		MaxFilesReadPerRun:     m["max_files_read_per_run"],
		MaxBytesReadPerRun:     int64(m["max_bytes_read_per_run"]),
		MaxRuntimeSeconds:      m["max_runtime_seconds"],
	}
}

// BuildLimits composes settings defaults with policy limit overrides
// under the current identity, evaluated with confirmed=false per the
// run limiter's construction rule.
func BuildLimits(base Limits, policy *policydsl.Policy, id policydsl.Identity) Limits {
	id.Confirmed = false
	applied := policy.ApplyLimits(base.AsMap(), id)
	return FromMap(applied)
}

// sessionWindow is a process-global sliding window of call timestamps,
// one per session, backing enforce_rate_limit. A token-bucket limiter
// sits in front of it as defense-in-depth against burst storms within a
// single window tick.
type sessionWindow struct {
	mu        sync.Mutex
	calls     []time.Time
	burstGate *rate.Limiter
}

var (
	windowsMu sync.Mutex
	windows   = map[string]*sessionWindow{}
)

func windowFor(sessionID string) *sessionWindow {
	windowsMu.Lock()
	defer windowsMu.Unlock()
	w, ok := windows[sessionID]
	if !ok {
		w = &sessionWindow{}
		windows[sessionID] = w
	}
	return w
}

// tuneBurstGate (re)sizes the token bucket to the caller's configured
// per-minute cap: burst of twice the cap, refilling at cap/60 per
// second. This keeps the token bucket from denying calls the sliding
// window would have allowed anyway; it only catches bursts faster than
// the bucket can refill within a single window tick.
func (w *sessionWindow) tuneBurstGate(perMinute int) {
	burst := perMinute * 2
	if w.burstGate == nil {
		w.burstGate = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
		return
	}
	w.burstGate.SetLimit(rate.Limit(float64(perMinute) / 60.0))
	w.burstGate.SetBurst(burst)
}

// ResetSessionWindow discards a session's rate-limit history. Callers
// invoke it when a session ends to bound the process-global map's size.
func ResetSessionWindow(sessionID string) {
	windowsMu.Lock()
	defer windowsMu.Unlock()
	delete(windows, sessionID)
}

// RunLimiter bounds a single logical run: the life of one user message
// through however many tool calls it triggers.
type RunLimiter struct {
	mu        sync.Mutex
	sessionID string
	limits    Limits
	start     time.Time

	toolCalls  int
	filesRead  int
	bytesRead  int64
}

// New starts a limiter for sessionID with the given effective limits.
func New(sessionID string, limits Limits) *RunLimiter {
	return &RunLimiter{sessionID: sessionID, limits: limits, start: time.Now()}
}

// CheckRuntime fails if the run has exceeded its wall-clock budget.
func (r *RunLimiter) CheckRuntime() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := time.Since(r.start)
	if r.limits.MaxRuntimeSeconds > 0 && elapsed > time.Duration(r.limits.MaxRuntimeSeconds)*time.Second {
		return wardenerrors.LimitExceeded("run exceeded max runtime")
	}
	return nil
}

// CheckToolCall fails if one more tool call would exceed the
// per-message cap. It does not record the call; call RecordToolCall
// after every other check passes.
func (r *RunLimiter) CheckToolCall() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limits.MaxToolCallsPerMessage > 0 && r.toolCalls+1 > r.limits.MaxToolCallsPerMessage {
		return wardenerrors.LimitExceeded("tool call would exceed max_tool_calls_per_message")
	}
	return nil
}

// RecordToolCall increments the per-message tool-call counter. Call only
// after CheckToolCall (and every other guard check) has passed.
func (r *RunLimiter) RecordToolCall() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolCalls++
}

// EnforceRateLimit drops timestamps older than 60s from the session's
// sliding window, then denies if admitting one more call would exceed
// perMinute. On success it records the call's timestamp.
func (r *RunLimiter) EnforceRateLimit() error {
	if r.limits.MaxToolCallsPerMinute <= 0 {
		return nil
	}
	w := windowFor(r.sessionID)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tuneBurstGate(r.limits.MaxToolCallsPerMinute)

	now := time.Now()
	cutoff := now.Add(-60 * time.Second)
	kept := w.calls[:0]
	for _, t := range w.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.calls = kept

	if len(w.calls) >= r.limits.MaxToolCallsPerMinute {
		return wardenerrors.LimitExceeded("rate limit exceeded: too many tool calls in 60s window")
	}
	if !w.burstGate.Allow() {
		return wardenerrors.LimitExceeded("rate limit exceeded: burst threshold")
	}

	w.calls = append(w.calls, now)
	return nil
}

// RecordFileReads checks both the files-per-run and bytes-per-run caps
// before accumulating count/bytes into the limiter's counters.
func (r *RunLimiter) RecordFileReads(count int, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limits.MaxFilesReadPerRun > 0 && r.filesRead+count > r.limits.MaxFilesReadPerRun {
		return wardenerrors.LimitExceeded("would exceed max_files_read_per_run")
	}
	if r.limits.MaxBytesReadPerRun > 0 && r.bytesRead+size > r.limits.MaxBytesReadPerRun {
		return wardenerrors.LimitExceeded("would exceed max_bytes_read_per_run")
	}
	r.filesRead += count
	r.bytesRead += size
	return nil
}

// Snapshot returns the limiter's current counters, for telemetry gauges.
func (r *RunLimiter) Snapshot() (toolCalls, filesRead int, bytesRead int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.toolCalls, r.filesRead, r.bytesRead
}
