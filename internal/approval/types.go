package approval

import "context"

const (
	StatusPending  = "pending"
	StatusConsumed = "consumed"
)

// Validation failure reasons. Stable strings: they appear in audit steps
// and API responses.
const (
	ReasonApproved         = "approved"
	ReasonMissingApproval  = "missing_approval"
	ReasonUnknownApproval  = "unknown_approval"
	ReasonAlreadyConsumed  = "already_consumed"
	ReasonToolMismatch     = "tool_mismatch"
	ReasonArgsHashMismatch = "args_hash_mismatch"
	ReasonExpired          = "expired"
)

// ToolApproval is a single-use credential authorizing one specific tool
// invocation, bound to a canonical hash of its arguments.
type ToolApproval struct {
	ApprovalID string `json:"approval_id"`
	ToolName   string `json:"tool_name"`
	ArgsHash   string `json:"args_hash"`
	CreatedAt  string `json:"created_at"`
	ExpiresAt  string `json:"expires_at"`
	ConsumedAt string `json:"consumed_at,omitempty"`
	Status     string `json:"status"`
}

// Store issues and consumes approval credentials. Consumption is
// exactly-once per approval id, even under concurrent validation.
type Store interface {
	Issue(ctx context.Context, toolName string, args map[string]any, ttlSeconds int) (*ToolApproval, error)
	ValidateAndConsume(ctx context.Context, approvalID, toolName, argsHash string) (bool, string, *ToolApproval)
	Close() error
}
