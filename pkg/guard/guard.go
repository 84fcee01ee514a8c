// Package guard is the single checkpoint every tool-capable request
// passes through: mode allowlist, workspace tool allowlist, policy text,
// per-requirement permission, path containment, and the quarantine
// decision, in that order, short-circuiting on first denial.
package guard

import (
	"github.com/odvcencio/warden/pkg/identity"
	"github.com/odvcencio/warden/pkg/logging"
	"github.com/odvcencio/warden/pkg/permission"
)

// Mode is the interaction mode a run executes under.
type Mode string

const (
	ModeChat     Mode = "chat"
	ModeWorkflow Mode = "workflow"
)

// modeAllowlists is the static per-mode tool allowlist from SPEC_FULL.md §4.4.
var modeAllowlists = map[Mode]map[string]bool{
	ModeChat: {
		"file_read": true,
	},
	ModeWorkflow: {
		"file_read":       true,
		"file_write":      true,
		"file_list":       true,
		"file_read_batch": true,
	},
}

// elevatedPermissions is the set of permissions safe_mode blocks outright.
var elevatedPermissions = map[permission.Type]bool{
	permission.WebSearch:      true,
	permission.ScreenCapture:  true,
	permission.ClipboardRead:  true,
	permission.ClipboardWrite: true,
	permission.ProcessRun:     true,
}

// Decision is the guard's verdict on a request. Quarantine is a distinct
// outcome from Allowed: a read may be quarantined instead of outright
// allowed or denied, per the system's quarantine-mode resolution.
type Decision struct {
	Allowed    bool
	Quarantine bool
	Reason     string
}

// Requirement is one permission a tool plugin declares it needs.
type Requirement struct {
	Permission permission.Type
	PathScoped bool // when true, path containment is checked against args.path
}

// Guard wires the permission broker and active identity together behind
// the single entry point tool calls and raw permission checks pass
// through.
type Guard struct {
	broker *permission.Broker
	ident  *identity.Accessor
	log    *logging.Logger
}

// New wires a Guard from its collaborators.
func New(broker *permission.Broker, ident *identity.Accessor, log *logging.Logger) *Guard {
	return &Guard{broker: broker, ident: ident, log: log}
}
