package registry

import "context"

// Handler executes a tool in-process.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// ToolSpec describes one invocable action. Unsafe tools route through the
// sandbox; AllowUnsandboxed is the tool-level half of the two-flag
// fallback gate.
type ToolSpec struct {
	Name             string
	Description      string
	Handler          Handler
	Safe             bool
	RequiresSandbox  bool
	SandboxCommand   []string
	AllowUnsandboxed bool
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Stable execution error codes.
const (
	ErrUnknownTool           = "unknown_tool"
	ErrApprovalRequired      = "approval_required"
	ErrSandboxCommandMissing = "sandbox_command_missing"
	ErrSandboxRequired       = "sandbox_required"
)

// Result is the sanitized outcome of one tool invocation.
type Result struct {
	Status         string `json:"status"`
	Tool           string `json:"tool,omitempty"`
	Result         any    `json:"result,omitempty"`
	Error          string `json:"error,omitempty"`
	ApprovalReason string `json:"approval_reason,omitempty"`
	Truncated      bool   `json:"truncated,omitempty"`
}

// Config carries operator-level execution flags.
type Config struct {
	SandboxRequired  bool
	SandboxFallback  bool
	ApprovalEnforced bool
	MaxOutputChars   int
}
