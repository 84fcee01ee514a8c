package policydsl

import "testing"

func TestParse_EmptyTextHasNoRules(t *testing.T) {
	p := Parse("")
	if len(p.Effects) != 0 || len(p.Limits) != 0 || len(p.Errors) != 0 {
		t.Errorf("expected empty policy, got %+v", p)
	}
}

func TestParse_CommentsAndBlankLinesIgnored(t *testing.T) {
	p := Parse("# a comment\n\n  \n# another\n")
	if len(p.Effects) != 0 || len(p.Errors) != 0 {
		t.Errorf("expected no rules or errors, got %+v", p)
	}
}

func TestEvaluate_EmptyPolicyAllowsByDefault(t *testing.T) {
	p := Parse("")
	if got := p.Evaluate("tool.file_write", Identity{}); got != NoDecision {
		t.Errorf("Evaluate() = %v, want NoDecision (caller's default applies)", got)
	}
}

func TestParse_DenyAlwaysWins(t *testing.T) {
	p := Parse("deny(tool.file_write) always")
	if len(p.Errors) != 0 {
		t.Fatalf("unexpected parse errors: %v", p.Errors)
	}
	if got := p.Evaluate("tool.file_write", Identity{}); got != Denied {
		t.Errorf("Evaluate() = %v, want Denied", got)
	}
}

func TestEvaluate_DenyWinsOverAllow(t *testing.T) {
	p := Parse("allow(tool.file_write) always\ndeny(tool.file_write) always\n")
	if got := p.Evaluate("tool.file_write", Identity{}); got != Denied {
		t.Errorf("Evaluate() = %v, want Denied (deny wins)", got)
	}
}

func TestEvaluate_AllowWithNoDeny(t *testing.T) {
	p := Parse("allow(web.search) always")
	if got := p.Evaluate("web.search", Identity{}); got != Allowed {
		t.Errorf("Evaluate() = %v, want Allowed", got)
	}
}

func TestEvaluate_UnmatchedActionIsNoDecision(t *testing.T) {
	p := Parse("deny(tool.file_write) always")
	if got := p.Evaluate("web.search", Identity{}); got != NoDecision {
		t.Errorf("Evaluate() = %v, want NoDecision", got)
	}
}

func TestEvaluate_ActionMatchIsCaseInsensitive(t *testing.T) {
	p := Parse("deny(Tool.File_Write) always")
	if got := p.Evaluate("tool.file_write", Identity{}); got != Denied {
		t.Errorf("Evaluate() = %v, want Denied", got)
	}
}

func TestEvaluate_UnlessConfirmRequiresConfirmed(t *testing.T) {
	p := Parse("allow(tool.file_write) unless confirm")
	if got := p.Evaluate("tool.file_write", Identity{Confirmed: false}); got != NoDecision {
		t.Errorf("unconfirmed Evaluate() = %v, want NoDecision", got)
	}
	if got := p.Evaluate("tool.file_write", Identity{Confirmed: true}); got != Allowed {
		t.Errorf("confirmed Evaluate() = %v, want Allowed", got)
	}
}

func TestEvaluate_ProfileConditionMustMatch(t *testing.T) {
	p := Parse("deny(web.search) in profile=LockedDown")
	if got := p.Evaluate("web.search", Identity{ProfileName: "Default"}); got != NoDecision {
		t.Errorf("wrong profile Evaluate() = %v, want NoDecision", got)
	}
	if got := p.Evaluate("web.search", Identity{ProfileName: "lockeddown"}); got != Denied {
		t.Errorf("matching profile Evaluate() = %v, want Denied", got)
	}
}

func TestEvaluate_WorkspaceConditionMustMatch(t *testing.T) {
	p := Parse("deny(process.run) only in workspace=prod")
	if got := p.Evaluate("process.run", Identity{WorkspaceName: "dev"}); got != NoDecision {
		t.Errorf("wrong workspace Evaluate() = %v, want NoDecision", got)
	}
	if got := p.Evaluate("process.run", Identity{WorkspaceName: "Prod"}); got != Denied {
		t.Errorf("matching workspace Evaluate() = %v, want Denied", got)
	}
}

func TestParse_LimitRuleWithProfileCondition(t *testing.T) {
	p := Parse("max_tool_calls_per_message = 2 in profile=LockedDown")
	if len(p.Errors) != 0 {
		t.Fatalf("unexpected parse errors: %v", p.Errors)
	}
	if len(p.Limits) != 1 {
		t.Fatalf("len(Limits) = %d, want 1", len(p.Limits))
	}

	base := map[string]int{"max_tool_calls_per_message": 5}
	applied := p.ApplyLimits(base, Identity{ProfileName: "LockedDown"})
	if applied["max_tool_calls_per_message"] != 2 {
		t.Errorf("applied limit = %d, want 2", applied["max_tool_calls_per_message"])
	}

	unaffected := p.ApplyLimits(base, Identity{ProfileName: "Default"})
	if unaffected["max_tool_calls_per_message"] != 5 {
		t.Errorf("unaffected limit = %d, want base value 5", unaffected["max_tool_calls_per_message"])
	}
}

func TestApplyLimits_IgnoresUnknownKeys(t *testing.T) {
	p := Parse("unknown_key = 99 always")
	base := map[string]int{"max_files_read_per_run": 200}
	applied := p.ApplyLimits(base, Identity{})
	if _, exists := applied["unknown_key"]; exists {
		t.Error("ApplyLimits should not introduce keys absent from base")
	}
	if applied["max_files_read_per_run"] != 200 {
		t.Error("ApplyLimits should leave unrelated keys untouched")
	}
}

func TestParse_MalformedLineProducesError(t *testing.T) {
	p := Parse("this is not a valid rule")
	if len(p.Errors) != 1 {
		t.Fatalf("len(Errors) = %d, want 1", len(p.Errors))
	}
	if p.Errors[0].Line != 1 {
		t.Errorf("Errors[0].Line = %d, want 1", p.Errors[0].Line)
	}
}

func TestParse_ErrorsCarryLineNumbersAndContinueParsing(t *testing.T) {
	p := Parse("allow(tool.file_read) always\nnot valid\ndeny(tool.file_write) always\n")
	if len(p.Effects) != 2 {
		t.Fatalf("len(Effects) = %d, want 2 (parsing continues past an error)", len(p.Effects))
	}
	if len(p.Errors) != 1 || p.Errors[0].Line != 2 {
		t.Fatalf("Errors = %+v, want one error on line 2", p.Errors)
	}
}

func TestParse_InlineCommentsStripped(t *testing.T) {
	p := Parse("allow(tool.file_read) always # trusted reads")
	if len(p.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", p.Errors)
	}
	if len(p.Effects) != 1 || p.Effects[0].Action != "tool.file_read" {
		t.Fatalf("unexpected effects: %+v", p.Effects)
	}
}
