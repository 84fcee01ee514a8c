// Package identity provides the single accessor for "who is acting right
// now": the active profile, the active workspace, and the settings map
// effective under their combination. It exists so the guard and limiter
// never read the store directly and never cache longer than one request.
package identity

import (
	"sync"

	"github.com/odvcencio/warden/pkg/policydsl"
	"github.com/odvcencio/warden/pkg/storage"
)

// Snapshot is the resolved active identity for one request.
type Snapshot struct {
	Profile   *storage.Profile
	Workspace *storage.Workspace
	Settings  map[string]any
}

// ProfileName returns the active profile's name, or "" if none is active.
func (s Snapshot) ProfileName() string {
	if s.Profile == nil {
		return ""
	}
	return s.Profile.Name
}

// WorkspaceName returns the active workspace's name, or "" if none is active.
func (s Snapshot) WorkspaceName() string {
	if s.Workspace == nil {
		return ""
	}
	return s.Workspace.Name
}

// AsPolicyIdentity projects the snapshot into the identity shape the
// policy DSL evaluates conditions against.
func (s Snapshot) AsPolicyIdentity(confirmed bool) policydsl.Identity {
	return policydsl.Identity{
		ProfileName:   s.ProfileName(),
		WorkspaceName: s.WorkspaceName(),
		Confirmed:     confirmed,
	}
}

// PolicyText concatenates the active profile's and workspace's policy
// text, profile first so workspace rules can add further restriction.
func (s Snapshot) PolicyText() string {
	text := ""
	if s.Profile != nil {
		if v, ok := s.Profile.Settings["policy_text"].(string); ok {
			text += v
		}
	}
	if s.Workspace != nil {
		if v, ok := s.Workspace.SettingsOverrides["policy_text"].(string); ok {
			if text != "" {
				text += "\n"
			}
			text += v
		}
	}
	return text
}

// Policy parses the snapshot's combined policy text.
func (s Snapshot) Policy() *policydsl.Policy {
	return policydsl.Parse(s.PolicyText())
}

// WorkspaceScopes returns the active workspace's allowed path scopes, or
// nil if no workspace is active or it declares none.
func (s Snapshot) WorkspaceScopes() []string {
	if s.Workspace == nil {
		return nil
	}
	return s.Workspace.AllowedPathScopes
}

// WorkspaceToolAllowlist returns the active workspace's explicit tool
// allowlist, or nil if no workspace is active or it declares none (an
// empty/nil allowlist means "no restriction" to the guard).
func (s Snapshot) WorkspaceToolAllowlist() []string {
	if s.Workspace == nil {
		return nil
	}
	return s.Workspace.AllowedToolNames
}

// EffectiveSettings merges the active profile's settings with the active
// workspace's overrides, workspace taking precedence.
func EffectiveSettings(profile *storage.Profile, workspace *storage.Workspace) map[string]any {
	out := map[string]any{}
	if profile != nil {
		for k, v := range profile.Settings {
			out[k] = v
		}
	}
	if workspace != nil {
		for k, v := range workspace.SettingsOverrides {
			out[k] = v
		}
	}
	return out
}

// Accessor is the single process-wide entry point for reading the active
// identity. It caches nothing across requests by default: Load always
// re-reads the store, satisfying "never cache longer than one request."
// Callers that want request-scoped memoization call Load once and reuse
// the returned Snapshot for the rest of that request.
type Accessor struct {
	store *storage.Store

	mu        sync.RWMutex
	cached    *Snapshot
	cacheOK   bool
}

// New wraps store with the active-identity accessor.
func New(store *storage.Store) *Accessor {
	return &Accessor{store: store}
}

// Load resolves the current active profile and workspace fresh from the
// store and returns the resulting Snapshot.
func (a *Accessor) Load() (Snapshot, error) {
	profile, err := a.store.GetActiveProfile()
	if err != nil {
		return Snapshot{}, err
	}
	workspace, err := a.store.GetActiveWorkspace()
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		Profile:   profile,
		Workspace: workspace,
		Settings:  EffectiveSettings(profile, workspace),
	}
	a.mu.Lock()
	a.cached = &snap
	a.cacheOK = true
	a.mu.Unlock()
	return snap, nil
}

// Invalidate drops any cached snapshot, forcing the next Load to hit the
// store. Called on profile/workspace writes and on policy-file changes
// observed by an fsnotify watcher.
func (a *Accessor) Invalidate() {
	a.mu.Lock()
	a.cacheOK = false
	a.cached = nil
	a.mu.Unlock()
}

// LastLoaded returns the most recently loaded snapshot without hitting
// the store, and whether one is available. Used only where a caller
// already holds a request-scoped snapshot and wants to avoid re-deriving
// it; it is never a substitute for calling Load at the start of a request.
func (a *Accessor) LastLoaded() (Snapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.cacheOK || a.cached == nil {
		return Snapshot{}, false
	}
	return *a.cached, true
}
