package trace

import (
	"context"
	"encoding/json"
)

// Step types appended by the admission core.
const (
	StepPolicySnapshot = "policy_snapshot"
	StepIntentRouter   = "intent_router"
	StepAmbiguityGuard = "semantic_ambiguity_guard"
	StepToolExecution  = "tool_execution"
	StepToolApproval   = "tool_approval"
)

// Trace groups the audit steps of one request.
type Trace struct {
	ID        string          `json:"trace_id"`
	CreatedAt string          `json:"created_at"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Step is one appended audit record. CreatedAt stays the stored string so
// hash chains recompute bit-for-bit.
type Step struct {
	ID        int64           `json:"id"`
	TraceID   string          `json:"trace_id"`
	StepType  string          `json:"step_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

// StepQuery filters step listings. Zero values mean no filter.
type StepQuery struct {
	TraceID   string
	StepTypes []string
	Limit     int
}

// Store is the append-only audit log. The core only appends; external
// consumers read.
type Store interface {
	StartTrace(ctx context.Context, metadata map[string]any) (string, error)
	RecordStep(ctx context.Context, traceID, stepType string, payload map[string]any) error
	GetTrace(ctx context.Context, traceID string) (*Trace, error)
	Steps(ctx context.Context, q StepQuery) ([]Step, error)
	Close() error
}
