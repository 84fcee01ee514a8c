// Package permission implements the default-deny grant store: the only
// place in the system where a user's explicit "yes" to a tool capability
// is recorded and consulted.
package permission

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	wardenerrors "github.com/odvcencio/warden/pkg/errors"
	"github.com/odvcencio/warden/pkg/metrics"
	"github.com/odvcencio/warden/pkg/pathsecurity"
	"github.com/odvcencio/warden/pkg/storage"
)

// Type is one of the closed set of permissions the broker understands.
type Type string

const (
	FilesystemRead  Type = "filesystem.read"
	FilesystemWrite Type = "filesystem.write"
	WebSearch       Type = "web.search"
	ScreenCapture   Type = "screen.capture"
	ClipboardRead   Type = "clipboard.read"
	ClipboardWrite  Type = "clipboard.write"
	ProcessRun      Type = "process.run"
)

// Scope is the lifetime of a grant.
type Scope string

const (
	ScopeOnce    Scope = "once"
	ScopeSession Scope = "session"
	ScopeAlways  Scope = "always"
)

// Broker is the persistent, default-deny store of user-granted
// permissions, scoped by session and path.
type Broker struct {
	store *storage.Store
}

// New wraps store with the broker's grant semantics.
func New(store *storage.Store) *Broker {
	return &Broker{store: store}
}

// Grant replaces any existing grant for the same (permission,
// session-or-null) pair. scope=always forces sessionID to the empty
// string. Paths are normalized to absolute form before storage.
func (b *Broker) Grant(permission Type, scope Scope, sessionID string, allowedPaths []string) error {
	if scope == ScopeAlways {
		sessionID = ""
	}

	normalized := make([]string, 0, len(allowedPaths))
	for _, p := range allowedPaths {
		n, err := pathsecurity.Normalize(p)
		if err != nil {
			return wardenerrors.Validation("invalid grant path: " + p)
		}
		if n != "" {
			normalized = append(normalized, n)
		}
	}

	if err := b.store.UpsertGrant(storage.Grant{
		ID:           uuid.NewString(),
		Permission:   string(permission),
		Scope:        string(scope),
		SessionID:    sessionID,
		AllowedPaths: normalized,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		return err
	}
	b.refreshGrantsActiveGauge()
	return nil
}

// refreshGrantsActiveGauge recomputes the ambient grants_active_total gauge,
// mirroring the teacher's refreshTicketGauge/refreshAuthSessionGauge pattern
// in pkg/ipc/metrics.go: best-effort, never surfaced as an error.
func (b *Broker) refreshGrantsActiveGauge() {
	if n, err := b.store.CountGrants(); err == nil {
		metrics.GrantsActive.Set(float64(n))
	}
}

// Check selects the best-matching grant for (permission, sessionID),
// optionally validates path containment, and atomically consumes a `once`
// grant on success. A missing grant is a denial, not an error: the broker
// never raises for a policy-level miss.
func (b *Broker) Check(permission Type, sessionID, path string) (allowed bool, reason string, err error) {
	txErr := b.store.WithTx(func(tx *sql.Tx) error {
		grant, err := storage.SelectBestGrantForUpdate(tx, string(permission), sessionID)
		if err != nil {
			return err
		}
		if grant == nil {
			allowed, reason = false, "No grant found"
			return nil
		}

		if path != "" {
			ok, pathReason := pathsecurity.WithinScopes(path, grant.AllowedPaths)
			if !ok {
				// A path-scope denial must not consume a once grant.
				allowed, reason = false, pathReason
				return nil
			}
		}

		allowed, reason = true, "Granted"

		if grant.Scope == string(ScopeOnce) && grant.SessionID == sessionID {
			return storage.DeleteGrantTx(tx, grant.ID)
		}
		return nil
	})
	if txErr != nil {
		return false, "", wardenerrors.Wrap(txErr, wardenerrors.ErrCodeStorageRead, wardenerrors.KindTransient, "grant check failed")
	}
	b.refreshGrantsActiveGauge()
	return allowed, reason, nil
}

// Revoke deletes grants for (permission, this session OR null session).
func (b *Broker) Revoke(permission Type, sessionID string) error {
	if err := b.store.RevokeGrants(string(permission), sessionID); err != nil {
		return err
	}
	b.refreshGrantsActiveGauge()
	return nil
}

// List returns grants visible to sessionID: its own rows plus every
// null-session (always) row.
func (b *Broker) List(sessionID string) ([]storage.Grant, error) {
	return b.store.ListGrants(sessionID)
}
