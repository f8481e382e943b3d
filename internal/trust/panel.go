package trust

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Jdogg9/agent-admission-sidecar/internal/trace"
)

const (
	// ChainSeed anchors every trace's hash chain.
	ChainSeed = "0000000000000000000000000000000000000000000000000000000000000000"

	DefaultEventLimit    = 50
	MaxEventLimit        = 200
	DefaultMaxValueChars = 500
)

// AuditReader is the read side of the audit log.
type AuditReader interface {
	GetTrace(ctx context.Context, traceID string) (*trace.Trace, error)
	Steps(ctx context.Context, q trace.StepQuery) ([]trace.Step, error)
}

// Event is a sanitized, hash-stamped view of one audit step.
type Event struct {
	ID         int64          `json:"id"`
	TraceID    string         `json:"trace_id"`
	StepType   string         `json:"step_type"`
	CreatedAt  string         `json:"created_at"`
	Payload    map[string]any `json:"payload"`
	EventHash  string         `json:"event_hash"`
	ChainHash  string         `json:"chain_hash,omitempty"`
	Redactions int            `json:"redactions"`
}

// Report is the full chained view of one trace, oldest step first.
type Report struct {
	TraceID    string         `json:"trace_id"`
	CreatedAt  string         `json:"created_at"`
	Metadata   map[string]any `json:"metadata"`
	Events     []Event        `json:"events"`
	EventCount int            `json:"event_count"`
	ChainHash  string         `json:"chain_hash"`
}

// Verification is the result of recomputing a trace's hash chain.
type Verification struct {
	TraceID         string `json:"trace_id"`
	Valid           bool   `json:"valid"`
	EventCount      int    `json:"event_count"`
	ChainHash       string `json:"chain_hash"`
	ExpectedHash    string `json:"expected_hash,omitempty"`
	MatchesExpected *bool  `json:"matches_expected,omitempty"`
}

// Panel exposes the audit trail to operators: sanitized events, per-trace
// reports, and chain verification. It never writes to the log.
type Panel struct {
	reader        AuditReader
	maxValueChars int
}

func NewPanel(reader AuditReader) *Panel {
	return &Panel{reader: reader, maxValueChars: DefaultMaxValueChars}
}

// ListEvents returns recent audit steps, newest first, sanitized and
// stamped with their event hashes. Chain hashes only make sense within a
// single trace, so listings omit them.
func (p *Panel) ListEvents(ctx context.Context, q trace.StepQuery) ([]Event, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultEventLimit
	}
	if q.Limit > MaxEventLimit {
		q.Limit = MaxEventLimit
	}

	steps, err := p.reader.Steps(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list audit steps: %w", err)
	}

	events := make([]Event, 0, len(steps))
	for _, step := range steps {
		event, err := p.toEvent(step)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// TraceReport returns one trace with its steps in chronological order and
// the hash chain computed over them. Returns nil when the trace does not
// exist.
func (p *Panel) TraceReport(ctx context.Context, traceID string) (*Report, error) {
	t, err := p.reader.GetTrace(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("load trace: %w", err)
	}
	if t == nil {
		return nil, nil
	}

	events, chainHash, err := p.chainedEvents(ctx, traceID)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{}
	if len(t.Metadata) > 0 {
		if err := json.Unmarshal(t.Metadata, &metadata); err != nil {
			return nil, fmt.Errorf("decode trace metadata: %w", err)
		}
	}
	metadata, _ = SanitizePayload(metadata, p.maxValueChars)

	return &Report{
		TraceID:    t.ID,
		CreatedAt:  t.CreatedAt,
		Metadata:   metadata,
		Events:     events,
		EventCount: len(events),
		ChainHash:  chainHash,
	}, nil
}

// VerifyChain recomputes the hash chain for one trace. When expectedHash
// is non-empty the result also reports whether the recomputed head matches
// it.
func (p *Panel) VerifyChain(ctx context.Context, traceID, expectedHash string) (*Verification, error) {
	t, err := p.reader.GetTrace(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("load trace: %w", err)
	}
	if t == nil {
		return nil, nil
	}

	events, chainHash, err := p.chainedEvents(ctx, traceID)
	if err != nil {
		return nil, err
	}

	verification := &Verification{
		TraceID:    traceID,
		Valid:      true,
		EventCount: len(events),
		ChainHash:  chainHash,
	}
	if expectedHash != "" {
		matches := strings.EqualFold(expectedHash, chainHash)
		verification.ExpectedHash = expectedHash
		verification.MatchesExpected = &matches
		verification.Valid = matches
	}
	return verification, nil
}

func (p *Panel) chainedEvents(ctx context.Context, traceID string) ([]Event, string, error) {
	steps, err := p.reader.Steps(ctx, trace.StepQuery{TraceID: traceID, Limit: MaxEventLimit})
	if err != nil {
		return nil, "", fmt.Errorf("list trace steps: %w", err)
	}

	// Steps arrive newest-first; the chain runs oldest to newest.
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}

	events := make([]Event, 0, len(steps))
	chainHash := ChainSeed
	for _, step := range steps {
		event, err := p.toEvent(step)
		if err != nil {
			return nil, "", err
		}
		chainHash = nextChainHash(chainHash, event.EventHash)
		event.ChainHash = chainHash
		events = append(events, event)
	}
	return events, chainHash, nil
}

func (p *Panel) toEvent(step trace.Step) (Event, error) {
	payload := map[string]any{}
	if len(step.Payload) > 0 {
		if err := json.Unmarshal(step.Payload, &payload); err != nil {
			return Event{}, fmt.Errorf("decode step %d payload: %w", step.ID, err)
		}
	}
	sanitized, redactions := SanitizePayload(payload, p.maxValueChars)

	hash, err := eventHash(step.StepType, step.CreatedAt, sanitized)
	if err != nil {
		return Event{}, err
	}

	return Event{
		ID:         step.ID,
		TraceID:    step.TraceID,
		StepType:   step.StepType,
		CreatedAt:  step.CreatedAt,
		Payload:    sanitized,
		EventHash:  hash,
		Redactions: redactions,
	}, nil
}

// eventHash digests the canonical JSON form of one step. json.Marshal
// emits map keys in sorted order, which keeps the digest stable across
// recomputations.
func eventHash(stepType, createdAt string, payload map[string]any) (string, error) {
	canonical, err := json.Marshal(map[string]any{
		"step_type":  stepType,
		"created_at": createdAt,
		"payload":    payload,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize event: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func nextChainHash(prev, eventHash string) string {
	sum := sha256.Sum256([]byte(prev + eventHash))
	return hex.EncodeToString(sum[:])
}
