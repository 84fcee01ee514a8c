package guard

import (
	"fmt"

	"github.com/odvcencio/warden/pkg/logging"
)

// CheckTool runs the full ordered check chain for one tool call:
// mode → workspace tool → policy(action) → per-requirement permission →
// path containment → quarantine decision. It short-circuits on the first
// denial. action is the policy action name for this tool (conventionally
// "tool.<name>"). path is the request's primary path argument, used for
// path-scoped requirements; empty when the tool takes no path.
func (g *Guard) CheckTool(tool, action string, mode Mode, sessionID, path string, safeMode, confirmed bool, requirements []Requirement) (Decision, error) {
	if !g.IsToolAllowedInMode(tool, mode) {
		g.deny(logging.CategorySecurity, "guard.mode_denied", "tool not allowed in mode", map[string]any{"tool": tool, "mode": string(mode)})
		return Decision{Allowed: false, Reason: "tool not allowed in mode"}, nil
	}

	workspaceOK, err := g.IsToolAllowedInWorkspace(tool)
	if err != nil {
		return Decision{}, err
	}
	if !workspaceOK {
		g.deny(logging.CategorySecurity, "guard.workspace_tool_denied", "tool not allowed in workspace", map[string]any{"tool": tool})
		return Decision{Allowed: false, Reason: "tool not allowed in workspace"}, nil
	}

	policyOK, err := g.PolicyAllowsAction(action, confirmed)
	if err != nil {
		return Decision{}, err
	}
	if !policyOK {
		return Decision{Allowed: false, Reason: "denied by policy"}, nil
	}

	quarantine := false
	for _, req := range requirements {
		reqPath := ""
		if req.PathScoped {
			reqPath = path
		}
		decision, err := g.AssertAllowed(req.Permission, sessionID, reqPath, safeMode)
		if err != nil {
			return Decision{}, err
		}
		if !decision.Allowed {
			return decision, nil
		}
		if decision.Quarantine {
			quarantine = true
		}
	}

	if quarantine {
		return Decision{Allowed: true, Quarantine: true, Reason: "Quarantine required"}, nil
	}
	return Decision{Allowed: true, Reason: "Granted"}, nil
}

func actionForTool(tool string) string {
	return fmt.Sprintf("tool.%s", tool)
}
