package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run status values.
const (
	RunStatusOpen     = "open"
	RunStatusFinished = "finished"
)

// Run is one end-to-end tool-calling interaction: a single user message
// through however many tool calls it triggers.
type Run struct {
	ID         string
	SessionID  string
	Mode       string // e.g. "safe", "quarantine"
	InputHash  string
	InputText  string // empty unless query-text logging is enabled
	ModelIDs   []string
	Status     string
	DurationMs *int64
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// RunEvent is one entry in a run's event stream (a tool call, a denial,
// a search, ...).
type RunEvent struct {
	ID        string
	RunID     string
	EventType EventType
	Payload   map[string]any
	CreatedAt time.Time
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var inputText sql.NullString
	var modelIDsJSON string
	var durationMs sql.NullInt64
	var finishedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.SessionID, &r.Mode, &r.InputHash, &inputText, &modelIDsJSON, &r.Status, &durationMs, &r.CreatedAt, &finishedAt); err != nil {
		return nil, err
	}
	r.InputText = inputText.String
	if err := json.Unmarshal([]byte(modelIDsJSON), &r.ModelIDs); err != nil {
		return nil, fmt.Errorf("decode model_ids: %w", err)
	}
	if durationMs.Valid {
		v := durationMs.Int64
		r.DurationMs = &v
	}
	if finishedAt.Valid {
		v := finishedAt.Time
		r.FinishedAt = &v
	}
	return &r, nil
}

// StartRun inserts a new open run.
func (s *Store) StartRun(r Run) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	modelIDsJSON, err := json.Marshal(r.ModelIDs)
	if err != nil {
		return fmt.Errorf("encode model_ids: %w", err)
	}

	var inputText any
	if r.InputText != "" {
		inputText = r.InputText
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, session_id, mode, input_hash, input_text, model_ids, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.SessionID, r.Mode, r.InputHash, inputText, string(modelIDsJSON), RunStatusOpen, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// LogRunEvent appends an event to a run's stream and notifies observers.
func (s *Store) LogRunEvent(e RunEvent) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode run event payload: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO run_events (id, run_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.RunID, string(e.EventType), string(payloadJSON), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}

	s.notify(newEvent(e.EventType, "", e.RunID, e.Payload))
	return nil
}

// FinishRun marks a run finished with its computed duration.
func (s *Store) FinishRun(id string, finishedAt time.Time, durationMs int64) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, duration_ms = ?, finished_at = ? WHERE id = ?
	`, RunStatusFinished, durationMs, finishedAt, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetRun loads a single run by id.
func (s *Store) GetRun(id string) (*Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	row := s.db.QueryRow(`
		SELECT id, session_id, mode, input_hash, input_text, model_ids, status, duration_ms, created_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListRunEvents returns a run's event stream in chronological order.
func (s *Store) ListRunEvents(runID string) ([]RunEvent, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.Query(`
		SELECT id, run_id, event_type, payload, created_at
		FROM run_events WHERE run_id = ? ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	var out []RunEvent
	for rows.Next() {
		var e RunEvent
		var eventType, payloadJSON string
		if err := rows.Scan(&e.ID, &e.RunID, &eventType, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EventType = EventType(eventType)
		if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode run event payload: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListRunsBySession returns a session's runs, newest first.
func (s *Store) ListRunsBySession(sessionID string) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, mode, input_hash, input_text, model_ids, status, duration_ms, created_at, finished_at
		FROM runs WHERE session_id = ? ORDER BY created_at DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
