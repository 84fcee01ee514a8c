package guard

import (
	"strings"

	"github.com/odvcencio/warden/pkg/identity"
	"github.com/odvcencio/warden/pkg/logging"
	"github.com/odvcencio/warden/pkg/pathsecurity"
	"github.com/odvcencio/warden/pkg/permission"
	"github.com/odvcencio/warden/pkg/policydsl"
)

func (g *Guard) deny(category logging.Category, eventType, reason string, details map[string]any) {
	if g.log == nil {
		return
	}
	g.log.Deny(category, eventType, reason, details)
}

// AssertAllowed is the public contract for a raw permission check,
// independent of any specific tool: safe-mode elevation block, permission
// broker delegation, and workspace-scope re-check with quarantine fallback.
func (g *Guard) AssertAllowed(permType permission.Type, sessionID, path string, safeMode bool) (Decision, error) {
	if safeMode && elevatedPermissions[permType] {
		g.deny(logging.CategorySecurity, "guard.safe_mode_denied", "safe mode", map[string]any{"permission": string(permType)})
		return Decision{Allowed: false, Reason: "safe mode"}, nil
	}

	allowed, reason, err := g.broker.Check(permType, sessionID, path)
	if err != nil {
		return Decision{}, err
	}
	if !allowed {
		g.deny(logging.CategoryPermission, "guard.permission_denied", reason, map[string]any{"permission": string(permType)})
		return Decision{Allowed: false, Reason: reason}, nil
	}

	snap, err := g.ident.Load()
	if err != nil {
		return Decision{}, err
	}
	if path != "" {
		scopes := snap.WorkspaceScopes()
		if len(scopes) > 0 {
			ok, workspaceReason := pathsecurity.WithinScopes(path, scopes)
			if !ok {
				settings := snap.Settings
				if quarantineOn, _ := settings["quarantine_mode"].(bool); quarantineOn {
					return Decision{Allowed: true, Quarantine: true, Reason: "Quarantine required"}, nil
				}
				g.deny(logging.CategoryPath, "guard.workspace_path_denied", workspaceReason, map[string]any{"permission": string(permType)})
				return Decision{Allowed: false, Reason: workspaceReason}, nil
			}
		}
	}

	return Decision{Allowed: true, Reason: "Granted"}, nil
}

// IsToolAllowedInMode checks the static per-mode allowlist.
func (g *Guard) IsToolAllowedInMode(tool string, mode Mode) bool {
	allowed, ok := modeAllowlists[mode]
	if !ok {
		return false
	}
	return allowed[tool]
}

// IsToolAllowedInWorkspace checks the active workspace's explicit tool
// allowlist, if it declares one. No active workspace, or one with an
// empty allowlist, imposes no restriction.
func (g *Guard) IsToolAllowedInWorkspace(tool string) (bool, error) {
	snap, err := g.ident.Load()
	if err != nil {
		return false, err
	}
	allowlist := snap.WorkspaceToolAllowlist()
	if len(allowlist) == 0 {
		return true, nil
	}
	for _, t := range allowlist {
		if strings.EqualFold(t, tool) {
			return true, nil
		}
	}
	return false, nil
}

// PolicyAllowsAction loads policy text from the active profile and
// workspace, parses it, and evaluates deny-wins semantics for action. A
// policy with parse errors is present-but-unusable and denies calls that
// would otherwise consult it; empty policy text allows by default.
func (g *Guard) PolicyAllowsAction(action string, confirmed bool) (bool, error) {
	snap, err := g.ident.Load()
	if err != nil {
		return false, err
	}
	text := snap.PolicyText()
	if strings.TrimSpace(text) == "" {
		return true, nil
	}

	policy := policydsl.Parse(text)
	if len(policy.Errors) > 0 {
		g.deny(logging.CategoryPolicy, "guard.policy_parse_error", "policy text has parse errors", map[string]any{"action": action, "errors": len(policy.Errors)})
		return false, nil
	}

	switch policy.Evaluate(action, snap.AsPolicyIdentity(confirmed)) {
	case policydsl.Denied:
		g.deny(logging.CategoryPolicy, "guard.policy_denied", "denied by policy", map[string]any{"action": action})
		return false, nil
	default:
		return true, nil
	}
}

// identityForRun returns a freshly loaded identity snapshot; each call
// re-reads the store through Load.
func (g *Guard) identityForRun() (identity.Snapshot, error) {
	return g.ident.Load()
}
