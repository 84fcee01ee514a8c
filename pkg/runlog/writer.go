// Package runlog is the privacy-respecting, append-only record of what a
// run did: a hash of the triggering input always, the raw input only when
// policy allows it, and a redacted, width-bounded event stream alongside
// an immutable audit trail.
package runlog

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/warden/pkg/config"
	"github.com/odvcencio/warden/pkg/storage"
)

// Writer composes the storage layer's Run/RunEvent/AuditLog tables with
// the redaction and privacy-mode rules every write must honor.
type Writer struct {
	store *storage.Store
	cfg   *config.Config
}

// New wires a Writer from its store and the settings governing redaction,
// privacy, and verbosity.
func New(store *storage.Store, cfg *config.Config) *Writer {
	return &Writer{store: store, cfg: cfg}
}

func hashInput(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// prepare applies redaction (if enabled) and then the verbose whitelist
// projection (if verbose logging is off) to a payload before it is
// persisted.
func (w *Writer) prepare(payload map[string]any) map[string]any {
	if payload == nil {
		payload = map[string]any{}
	}
	out := payload
	if w.cfg == nil || w.cfg.RedactionEnabled {
		out = redact(out).(map[string]any)
	}
	if w.cfg != nil && !w.cfg.VerboseLogging {
		out = projectToWhitelist(out)
	}
	return out
}

// LogEvent writes one audit entry, independent of any open run.
func (w *Writer) LogEvent(eventType storage.EventType, summary string, payload map[string]any, sessionID string) error {
	return w.store.RecordAuditLog(storage.AuditLog{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		EventType: eventType,
		Summary:   summary,
		Payload:   w.prepare(payload),
		CreatedAt: time.Now().UTC(),
	})
}

// StartRun opens a run. The input hash is always recorded; the raw input
// text is only stored when privacy mode is off and query-text logging is
// allowed, matching the settings layer's cross-field rule.
func (w *Writer) StartRun(sessionID, mode, inputText string, modelIDs []string) (string, error) {
	runID := ulid.Make().String()
	r := storage.Run{
		ID:        runID,
		SessionID: sessionID,
		Mode:      mode,
		InputHash: hashInput(inputText),
		ModelIDs:  modelIDs,
		CreatedAt: time.Now().UTC(),
	}
	if w.cfg != nil && !w.cfg.PrivacyMode && w.cfg.AllowQueryTextLogging {
		r.InputText = inputText
	}
	if err := w.store.StartRun(r); err != nil {
		return "", err
	}
	return runID, nil
}

// LogRunEvent appends a typed event to an open run's stream.
func (w *Writer) LogRunEvent(runID string, eventType storage.EventType, payload map[string]any) error {
	return w.store.LogRunEvent(storage.RunEvent{
		ID:        ulid.Make().String(),
		RunID:     runID,
		EventType: eventType,
		Payload:   w.prepare(payload),
		CreatedAt: time.Now().UTC(),
	})
}

// FinishRun closes a run, recording its wall-clock duration.
func (w *Writer) FinishRun(runID string, start time.Time) error {
	finishedAt := time.Now().UTC()
	durationMs := finishedAt.Sub(start).Milliseconds()
	return w.store.FinishRun(runID, finishedAt, durationMs)
}

// GetRun returns a run with its ordered event stream.
func (w *Writer) GetRun(runID string) (*storage.Run, []storage.RunEvent, error) {
	run, err := w.store.GetRun(runID)
	if err != nil || run == nil {
		return run, nil, err
	}
	events, err := w.store.ListRunEvents(runID)
	if err != nil {
		return run, nil, err
	}
	return run, events, nil
}
