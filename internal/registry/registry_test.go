package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Jdogg9/agent-admission-sidecar/internal/approval"
	"github.com/Jdogg9/agent-admission-sidecar/internal/policy"
	"github.com/Jdogg9/agent-admission-sidecar/internal/sandbox"
)

const registryTestPolicy = `
rules:
  - match: "^blocked_tool$"
    action: deny
    reason: explicitly_blocked
  - match: ".*"
    action: allow
    reason: allow_all
`

func newTestPolicyEngine(t *testing.T) *policy.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool_policy.yaml")
	if err := os.WriteFile(path, []byte(registryTestPolicy), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}
	engine, err := policy.NewEngine(path, true)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func newTestApprovalStore(t *testing.T) approval.Store {
	t.Helper()
	store, err := approval.NewSQLiteStore(filepath.Join(t.TempDir(), "approvals.db"))
	if err != nil {
		t.Fatalf("failed to create approval store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	runner := sandbox.NewRunner(sandbox.Config{Enabled: false})
	return New(newTestPolicyEngine(t), runner, newTestApprovalStore(t), nil, cfg)
}

func TestExecuteUnknownTool(t *testing.T) {
	reg := newTestRegistry(t, Config{})

	result := reg.Execute(context.Background(), "nope", "", nil)
	if result.Status != StatusError || result.Error != ErrUnknownTool {
		t.Errorf("expected unknown_tool error, got %+v", result)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := newTestRegistry(t, Config{})

	spec := ToolSpec{Name: "echo", Safe: true, Handler: echoHandler}
	if err := reg.Register(spec); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := reg.Register(spec); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestExecutePolicyDenied(t *testing.T) {
	reg := newTestRegistry(t, Config{})
	if err := reg.Register(ToolSpec{Name: "blocked_tool", Safe: true, Handler: echoHandler}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result := reg.Execute(context.Background(), "blocked_tool", "", nil)
	if result.Status != StatusError {
		t.Fatal("expected error status")
	}
	if result.Error != "policy_denied:explicitly_blocked" {
		t.Errorf("unexpected error: %s", result.Error)
	}
}

func TestExecuteInProcess(t *testing.T) {
	reg := newTestRegistry(t, Config{})
	if err := reg.Register(ToolSpec{Name: "echo", Safe: true, Handler: echoHandler}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result := reg.Execute(context.Background(), "echo", "", map[string]any{"message": "hi"})
	if result.Status != StatusOK {
		t.Fatalf("expected ok, got %+v", result)
	}
	if result.Result != "Echo: hi" {
		t.Errorf("unexpected result: %v", result.Result)
	}
}

func TestExecuteSandboxCommandMissing(t *testing.T) {
	reg := newTestRegistry(t, Config{SandboxRequired: true})
	if err := reg.Register(ToolSpec{Name: "py", Safe: false, RequiresSandbox: true}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result := reg.Execute(context.Background(), "py", "", nil)
	if result.Error != ErrSandboxCommandMissing {
		t.Errorf("expected %s, got %s", ErrSandboxCommandMissing, result.Error)
	}
}

func TestUnsandboxedFallbackRequiresBothFlags(t *testing.T) {
	spec := ToolSpec{
		Name:             "py",
		Safe:             false,
		RequiresSandbox:  true,
		SandboxCommand:   []string{"python", "/tools/py.py"},
		AllowUnsandboxed: true,
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			return "in-process", nil
		},
	}

	// Tool allows fallback but the operator flag is off: fail closed.
	reg := newTestRegistry(t, Config{SandboxFallback: false})
	if err := reg.Register(spec); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	result := reg.Execute(context.Background(), "py", "", nil)
	if result.Status != StatusError {
		t.Fatalf("expected sandbox failure without fallback, got %+v", result)
	}
	if result.Error != "sandbox_disabled" {
		t.Errorf("expected sandbox_disabled, got %s", result.Error)
	}

	// Both flags set: the logged fallback executes in-process.
	reg = newTestRegistry(t, Config{SandboxFallback: true})
	if err := reg.Register(spec); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	result = reg.Execute(context.Background(), "py", "", nil)
	if result.Status != StatusOK || result.Result != "in-process" {
		t.Errorf("expected fallback execution, got %+v", result)
	}

	// Operator flag alone is not enough either.
	noToolOptIn := spec
	noToolOptIn.AllowUnsandboxed = false
	reg = newTestRegistry(t, Config{SandboxFallback: true})
	if err := reg.Register(noToolOptIn); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	result = reg.Execute(context.Background(), "py", "", nil)
	if result.Status != StatusError {
		t.Errorf("expected failure without tool opt-in, got %+v", result)
	}
}

func TestExecuteGuarded(t *testing.T) {
	engine := newTestPolicyEngine(t)
	runner := sandbox.NewRunner(sandbox.Config{Enabled: false})
	approvals := newTestApprovalStore(t)
	reg := New(engine, runner, approvals, nil, Config{ApprovalEnforced: true})
	if err := reg.Register(ToolSpec{Name: "echo", Safe: true, Handler: echoHandler}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	ctx := context.Background()
	args := map[string]any{"message": "hi"}

	// No credential: fail closed.
	result := reg.ExecuteGuarded(ctx, "echo", "", args, "")
	if result.Error != ErrApprovalRequired {
		t.Fatalf("expected approval_required, got %+v", result)
	}
	if result.ApprovalReason != approval.ReasonMissingApproval {
		t.Errorf("expected %s, got %s", approval.ReasonMissingApproval, result.ApprovalReason)
	}

	// Valid credential: executes once.
	grant, err := approvals.Issue(ctx, "echo", args, 60)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	result = reg.ExecuteGuarded(ctx, "echo", "", args, grant.ApprovalID)
	if result.Status != StatusOK {
		t.Fatalf("expected ok, got %+v", result)
	}

	// The credential is single-use.
	result = reg.ExecuteGuarded(ctx, "echo", "", args, grant.ApprovalID)
	if result.ApprovalReason != approval.ReasonAlreadyConsumed {
		t.Errorf("expected %s, got %s", approval.ReasonAlreadyConsumed, result.ApprovalReason)
	}

	// A credential for different args never authorizes this call.
	grant, err = approvals.Issue(ctx, "echo", map[string]any{"message": "other"}, 60)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	result = reg.ExecuteGuarded(ctx, "echo", "", args, grant.ApprovalID)
	if result.ApprovalReason != approval.ReasonArgsHashMismatch {
		t.Errorf("expected %s, got %s", approval.ReasonArgsHashMismatch, result.ApprovalReason)
	}
}

func TestSanitizeOutput(t *testing.T) {
	clean, truncated := SanitizeOutput("token Bearer abc.def secret", 0)
	if !strings.Contains(clean.(string), "[REDACTED]") {
		t.Errorf("expected redaction, got %q", clean)
	}
	if truncated {
		t.Error("did not expect truncation")
	}

	clean, truncated = SanitizeOutput(strings.Repeat("x", 100), 10)
	if len(clean.(string)) != 10 || !truncated {
		t.Errorf("expected truncation to 10 chars, got %q (%v)", clean, truncated)
	}

	nested, truncated := SanitizeOutput(map[string]any{
		"list": []any{"ghp_" + strings.Repeat("a", 30)},
	}, 0)
	inner := nested.(map[string]any)["list"].([]any)[0].(string)
	if inner != "[REDACTED]" {
		t.Errorf("expected nested redaction, got %q", inner)
	}
	if truncated {
		t.Error("did not expect truncation")
	}

	clean, _ = SanitizeOutput("a\x00b\x1fc", 0)
	if clean.(string) != "abc" {
		t.Errorf("expected control chars stripped, got %q", clean)
	}
}

func TestEvaluateExpression(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"1+2", 3},
		{"2 * (3 + 4)", 14},
		{"-5 + 10", 5},
		{"10 / 4", 2.5},
		{"1.5 * 2", 3},
	}
	for _, tc := range cases {
		got, err := evaluateExpression(tc.expr)
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q = %v, want %v", tc.expr, got, tc.want)
		}
	}

	for _, bad := range []string{"", "1/0", "2 + x", "(1+2", "__import__('os')"} {
		if _, err := evaluateExpression(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestBuiltinSummarize(t *testing.T) {
	result, err := summarizeHandler(context.Background(), map[string]any{
		"text":          "First sentence. Second sentence. Third sentence. Fourth sentence.",
		"max_sentences": float64(2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary := result.(map[string]any)
	if summary["summary"] != "First sentence. Second sentence." {
		t.Errorf("unexpected summary: %v", summary["summary"])
	}
	if summary["sentences"] != 2 {
		t.Errorf("unexpected sentence count: %v", summary["sentences"])
	}

	if _, err := summarizeHandler(context.Background(), map[string]any{"text": "  "}); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := newTestRegistry(t, Config{})
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("builtins failed: %v", err)
	}

	names := make([]string, 0)
	for _, spec := range reg.List() {
		names = append(names, spec.Name)
	}
	want := []string{"echo", "python_eval", "python_exec", "safe_calc", "summarize_text"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("unexpected builtin set: %v", names)
	}
}
