package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Jdogg9/agent-admission-sidecar/internal/approval"
	"github.com/Jdogg9/agent-admission-sidecar/internal/policy"
	"github.com/Jdogg9/agent-admission-sidecar/internal/sandbox"
	"github.com/Jdogg9/agent-admission-sidecar/internal/trace"
)

// StepRecorder appends audit steps. Satisfied by trace.SQLiteStore.
type StepRecorder interface {
	RecordStep(ctx context.Context, traceID, stepType string, payload map[string]any) error
}

// Registry holds the invocable actions. Every execution is policy-checked
// and audited; unsafe actions route through the sandbox.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]ToolSpec
	policy    *policy.Engine
	sandbox   *sandbox.Runner
	approvals approval.Store
	recorder  StepRecorder
	cfg       Config
}

func New(pol *policy.Engine, sb *sandbox.Runner, approvals approval.Store, recorder StepRecorder, cfg Config) *Registry {
	if cfg.MaxOutputChars <= 0 {
		cfg.MaxOutputChars = 8000
	}
	return &Registry{
		tools:     make(map[string]ToolSpec),
		policy:    pol,
		sandbox:   sb,
		approvals: approvals,
		recorder:  recorder,
		cfg:       cfg,
	}
}

// Register adds a tool. Names are unique per registry instance.
func (r *Registry) Register(spec ToolSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool already registered: %s", spec.Name)
	}
	r.tools[spec.Name] = spec
	return nil
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]ToolSpec, 0, len(r.tools))
	for _, spec := range r.tools {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

func (r *Registry) Get(name string) (ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[name]
	return spec, ok
}

// Execute runs one tool invocation: policy check (always audited as a
// policy_snapshot step before anything runs), sandbox routing for unsafe
// tools, output sanitization.
func (r *Registry) Execute(ctx context.Context, name, traceID string, args map[string]any) Result {
	tool, ok := r.Get(name)
	if !ok {
		return Result{Status: StatusError, Error: ErrUnknownTool}
	}

	decision := r.policy.Check(name, tool.Safe, args)
	r.recordPolicySnapshot(ctx, traceID, name, decision)

	if !decision.Allowed {
		return Result{Status: StatusError, Tool: name, Error: "policy_denied:" + decision.Reason}
	}

	var result Result
	if !tool.Safe && tool.RequiresSandbox {
		result = r.executeSandboxed(ctx, tool, args)
	} else {
		result = r.executeInProcess(ctx, tool, args)
	}

	result = r.sanitizeResult(result)
	r.recordExecution(ctx, traceID, result)
	return result
}

// ExecuteGuarded validates and consumes a single-use approval credential
// before executing. Approval failures fail closed; execution is never
// silently substituted.
func (r *Registry) ExecuteGuarded(ctx context.Context, name, traceID string, args map[string]any, approvalToken string) Result {
	if r.cfg.ApprovalEnforced {
		argsHash := approval.HashToolArgs(args)
		ok, reason, _ := r.approvals.ValidateAndConsume(ctx, approvalToken, name, argsHash)

		r.recordApproval(ctx, traceID, name, ok, reason)
		if !ok {
			return Result{
				Status:         StatusError,
				Tool:           name,
				Error:          ErrApprovalRequired,
				ApprovalReason: reason,
			}
		}
	}

	return r.Execute(ctx, name, traceID, args)
}

func (r *Registry) executeSandboxed(ctx context.Context, tool ToolSpec, args map[string]any) Result {
	if len(tool.SandboxCommand) == 0 {
		if r.cfg.SandboxRequired {
			return Result{Status: StatusError, Tool: tool.Name, Error: ErrSandboxCommandMissing}
		}
		return r.fallbackOrFail(ctx, tool, args, ErrSandboxCommandMissing)
	}

	res := r.sandbox.Run(ctx, tool.SandboxCommand, args)
	switch res.Status {
	case sandbox.StatusOK:
		return Result{Status: StatusOK, Tool: tool.Name, Result: parseSandboxOutput(res.Stdout)}
	case sandbox.StatusTimeout:
		return Result{Status: StatusError, Tool: tool.Name, Error: "sandbox_timeout"}
	}

	if sandboxUnavailable(res.Stderr) {
		return r.fallbackOrFail(ctx, tool, args, res.Stderr)
	}
	return Result{Status: StatusError, Tool: tool.Name, Error: sandboxFailureCode(res)}
}

// fallbackOrFail permits unsandboxed execution only when the tool allows
// it AND the operator fallback flag is set. Both must hold; this is a
// deliberate, logged exception.
func (r *Registry) fallbackOrFail(ctx context.Context, tool ToolSpec, args map[string]any, cause string) Result {
	if tool.AllowUnsandboxed && r.cfg.SandboxFallback {
		log.Warn().Str("tool", tool.Name).Str("cause", cause).Msg("executing unsandboxed fallback")
		return r.executeInProcess(ctx, tool, args)
	}
	return Result{Status: StatusError, Tool: tool.Name, Error: cause}
}

func (r *Registry) executeInProcess(ctx context.Context, tool ToolSpec, args map[string]any) Result {
	if tool.Handler == nil {
		return Result{Status: StatusError, Tool: tool.Name, Error: "handler_missing"}
	}

	value, err := tool.Handler(ctx, args)
	if err != nil {
		clean, _ := SanitizeOutput(err.Error(), r.cfg.MaxOutputChars)
		return Result{Status: StatusError, Tool: tool.Name, Error: clean.(string)}
	}
	return Result{Status: StatusOK, Tool: tool.Name, Result: value}
}

func (r *Registry) sanitizeResult(result Result) Result {
	if result.Result != nil {
		clean, truncated := SanitizeOutput(result.Result, r.cfg.MaxOutputChars)
		result.Result = clean
		result.Truncated = truncated
	}
	if result.Error != "" {
		clean, _ := SanitizeOutput(result.Error, r.cfg.MaxOutputChars)
		result.Error = clean.(string)
	}
	return result
}

func (r *Registry) recordPolicySnapshot(ctx context.Context, traceID, tool string, decision policy.Decision) {
	if traceID == "" || r.recorder == nil {
		return
	}
	payload := map[string]any{
		"tool":            tool,
		"allowed":         decision.Allowed,
		"reason":          decision.Reason,
		"rule":            decision.Rule,
		"policy_hash":     r.policy.Hash(),
		"policy_enforced": r.policy.Enforced(),
	}
	if err := r.recorder.RecordStep(ctx, traceID, trace.StepPolicySnapshot, payload); err != nil {
		log.Warn().Err(err).Str("trace_id", traceID).Msg("policy snapshot step write failed")
	}
}

func (r *Registry) recordExecution(ctx context.Context, traceID string, result Result) {
	if traceID == "" || r.recorder == nil {
		return
	}
	payload := map[string]any{
		"tool":      result.Tool,
		"status":    result.Status,
		"error":     result.Error,
		"truncated": result.Truncated,
	}
	if err := r.recorder.RecordStep(ctx, traceID, trace.StepToolExecution, payload); err != nil {
		log.Warn().Err(err).Str("trace_id", traceID).Msg("execution step write failed")
	}
}

func (r *Registry) recordApproval(ctx context.Context, traceID, tool string, ok bool, reason string) {
	if traceID == "" || r.recorder == nil {
		return
	}
	payload := map[string]any{
		"tool":     tool,
		"approved": ok,
		"reason":   reason,
	}
	if err := r.recorder.RecordStep(ctx, traceID, trace.StepToolApproval, payload); err != nil {
		log.Warn().Err(err).Str("trace_id", traceID).Msg("approval step write failed")
	}
}

func parseSandboxOutput(stdout string) any {
	var parsed any
	if err := json.Unmarshal([]byte(stdout), &parsed); err != nil {
		return stdout
	}
	return parsed
}

func sandboxUnavailable(stderr string) bool {
	switch stderr {
	case "sandbox_disabled", "sandbox_unavailable", "sandbox_command_missing":
		return true
	}
	return false
}

func sandboxFailureCode(res sandbox.Result) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	return fmt.Sprintf("sandbox_exit_%d", res.ExitCode)
}
