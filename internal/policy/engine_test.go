package policy

import (
	"os"
	"path/filepath"
	"testing"
)

const testPolicy = `
policy:
  intent_router:
    tier0:
      deny_patterns:
        - "rm\\s+-rf"
      allow_patterns:
        - "^hello\\b"
    hitl:
      message: "Needs a human."

rules:
  - match: "^blocked_tool$"
    action: deny
    reason: explicitly_blocked
  - match: "^echo$"
    action: allow
    reason: echo_allowed
    conditions:
      input_param: message
      min_input_len: 1
      max_input_len: 10
  - match: "^unsafe_gate$"
    action: allow
    reason: gated
    require_safe: true

routes:
  - match: "\\becho\\b"
    tool: echo
    confidence: 0.6
    reason: keyword_echo
`

func writeTestPolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool_policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}
	return path
}

func newTestEngine(t *testing.T, content string, enforce bool) *Engine {
	t.Helper()
	engine, err := NewEngine(writeTestPolicy(t, content), enforce)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestCheckEnforcementDisabled(t *testing.T) {
	engine := newTestEngine(t, testPolicy, false)

	decision := engine.Check("blocked_tool", true, nil)
	if !decision.Allowed {
		t.Error("expected allow when enforcement is off")
	}
	if decision.Reason != ReasonDisabled {
		t.Errorf("expected %s, got %s", ReasonDisabled, decision.Reason)
	}
}

func TestCheckMissingPolicy(t *testing.T) {
	engine, err := NewEngine(filepath.Join(t.TempDir(), "missing.yaml"), true)
	if err != nil {
		t.Fatalf("engine creation should tolerate a missing file: %v", err)
	}

	decision := engine.Check("echo", true, map[string]any{"message": "hi"})
	if decision.Allowed {
		t.Error("expected deny with no policy document")
	}
	if decision.Reason != ReasonMissing {
		t.Errorf("expected %s, got %s", ReasonMissing, decision.Reason)
	}
	if engine.Hash() != "" {
		t.Errorf("expected empty hash for missing document, got %q", engine.Hash())
	}
}

func TestCheckMalformedPolicyDeniesByDefault(t *testing.T) {
	engine := newTestEngine(t, "rules: [this is: not: yaml", true)

	decision := engine.Check("echo", true, nil)
	if decision.Allowed {
		t.Error("expected deny for malformed policy")
	}
	if decision.Reason != ReasonMissing {
		t.Errorf("expected %s, got %s", ReasonMissing, decision.Reason)
	}
	if engine.Hash() == "" {
		t.Error("malformed document should still have a hash")
	}
}

func TestCheckFirstMatchWins(t *testing.T) {
	engine := newTestEngine(t, testPolicy, true)

	decision := engine.Check("blocked_tool", true, nil)
	if decision.Allowed {
		t.Error("expected deny rule to win")
	}
	if decision.Reason != "explicitly_blocked" {
		t.Errorf("expected explicitly_blocked, got %s", decision.Reason)
	}
}

func TestCheckConditions(t *testing.T) {
	engine := newTestEngine(t, testPolicy, true)

	decision := engine.Check("echo", true, map[string]any{"message": "hi"})
	if !decision.Allowed {
		t.Errorf("expected allow for valid message, got %s", decision.Reason)
	}

	decision = engine.Check("echo", true, map[string]any{"message": "this message is far too long"})
	if decision.Allowed {
		t.Error("expected deny for over-length message")
	}
	if decision.Reason != ReasonConditionFailed {
		t.Errorf("expected %s, got %s", ReasonConditionFailed, decision.Reason)
	}

	// A missing parameter fails the condition too.
	decision = engine.Check("echo", true, nil)
	if decision.Reason != ReasonConditionFailed {
		t.Errorf("expected %s for missing param, got %s", ReasonConditionFailed, decision.Reason)
	}
}

func TestCheckRequireSafe(t *testing.T) {
	engine := newTestEngine(t, testPolicy, true)

	decision := engine.Check("unsafe_gate", false, nil)
	if decision.Allowed {
		t.Error("expected deny for unsafe tool behind require_safe")
	}
	if decision.Reason != ReasonRequiresSafe {
		t.Errorf("expected %s, got %s", ReasonRequiresSafe, decision.Reason)
	}

	decision = engine.Check("unsafe_gate", true, nil)
	if !decision.Allowed {
		t.Errorf("expected allow for safe tool, got %s", decision.Reason)
	}
}

func TestCheckDefaultDeny(t *testing.T) {
	engine := newTestEngine(t, testPolicy, true)

	decision := engine.Check("unlisted_tool", true, nil)
	if decision.Allowed {
		t.Error("expected default deny for unmatched tool")
	}
	if decision.Reason != ReasonDefaultDeny {
		t.Errorf("expected %s, got %s", ReasonDefaultDeny, decision.Reason)
	}
}

func TestHashScopedToEnforcement(t *testing.T) {
	raw := []byte(testPolicy)
	if ComputeHash(raw, true) == ComputeHash(raw, false) {
		t.Error("expected different hashes for different enforcement flags")
	}
	if len(ComputeHash(raw, true)) != 64 {
		t.Errorf("expected full sha256 hex, got %d chars", len(ComputeHash(raw, true)))
	}
}

func TestReloadFiresHooks(t *testing.T) {
	path := writeTestPolicy(t, testPolicy)
	engine, err := NewEngine(path, true)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	var gotOld, gotNew string
	engine.OnReload(func(oldHash, newHash string) {
		gotOld = oldHash
		gotNew = newHash
	})

	originalHash := engine.Hash()

	updated := testPolicy + "\n# revision 2\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("failed to rewrite policy: %v", err)
	}
	if err := engine.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if gotOld != originalHash {
		t.Errorf("hook old hash = %q, want %q", gotOld, originalHash)
	}
	if gotNew != engine.Hash() {
		t.Errorf("hook new hash = %q, want %q", gotNew, engine.Hash())
	}
	if gotOld == gotNew {
		t.Error("expected hash to change across reload")
	}
}

func TestSnapshotTier0Matching(t *testing.T) {
	engine := newTestEngine(t, testPolicy, true)
	snap := engine.Snapshot()

	if _, ok := snap.MatchDeny("please rm -rf /tmp"); !ok {
		t.Error("expected deny pattern to match")
	}
	if _, ok := snap.MatchDeny("harmless request"); ok {
		t.Error("did not expect deny pattern to match")
	}

	route, ok := snap.MatchRoute("echo something")
	if !ok {
		t.Fatal("expected route match")
	}
	if route.Tool != "echo" || route.Reason != "keyword_echo" {
		t.Errorf("unexpected route: %+v", route)
	}

	if _, ok := snap.MatchAllow("hello there"); !ok {
		t.Error("expected allow pattern to match")
	}

	if snap.HitlMessage() != "Needs a human." {
		t.Errorf("unexpected hitl message: %q", snap.HitlMessage())
	}
}
