package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Jdogg9/agent-admission-sidecar/internal/storage"
)

const HitlStatusPending = "pending"

const (
	tableHitlQueue = `
		CREATE TABLE IF NOT EXISTS hitl_queue (
			request_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			status TEXT NOT NULL,
			payload_json TEXT NOT NULL
		)`

	queryInsertHitl = `
		INSERT INTO hitl_queue (request_id, created_at, status, payload_json)
		VALUES (?, ?, ?, ?)`

	querySelectPending = `
		SELECT request_id, created_at, status, payload_json
		FROM hitl_queue
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?`
)

// HitlRequest is one decision awaiting human review. The review workflow
// that resolves it is external; this queue only records and lists.
type HitlRequest struct {
	RequestID string         `json:"request_id"`
	CreatedAt string         `json:"created_at"`
	Status    string         `json:"status"`
	Payload   map[string]any `json:"payload"`
}

// HitlQueue is the durable queue of decisions requiring human review.
type HitlQueue struct {
	db       *sql.DB
	enabled  bool
	notifyCh chan struct{}
}

func NewHitlQueue(dbPath string, enabled bool) (*HitlQueue, error) {
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(tableHitlQueue); err != nil {
		db.Close()
		return nil, fmt.Errorf("execute schema: %w", err)
	}

	return &HitlQueue{db: db, enabled: enabled, notifyCh: make(chan struct{}, 100)}, nil
}

// Enqueue records an escalation and returns the opaque request id. A
// disabled queue returns nil without error.
func (q *HitlQueue) Enqueue(ctx context.Context, payload map[string]any) (*HitlRequest, error) {
	if !q.enabled {
		return nil, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req := &HitlRequest{
		RequestID: uuid.New().String(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Status:    HitlStatusPending,
		Payload:   payload,
	}

	err = storage.RetryBusy(func() error {
		_, execErr := q.db.ExecContext(ctx, queryInsertHitl, req.RequestID, req.CreatedAt, req.Status, string(raw))
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("insert hitl request: %w", err)
	}

	q.notifyWatchers()
	log.Info().Str("request_id", req.RequestID).Msg("hitl request enqueued")
	return req, nil
}

// Pending lists requests awaiting review, oldest first.
func (q *HitlQueue) Pending(ctx context.Context, limit int) ([]HitlRequest, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.db.QueryContext(ctx, querySelectPending, HitlStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var pending []HitlRequest
	for rows.Next() {
		var req HitlRequest
		var payload string
		if err := rows.Scan(&req.RequestID, &req.CreatedAt, &req.Status, &payload); err != nil {
			return nil, fmt.Errorf("scan hitl request: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &req.Payload); err != nil {
			req.Payload = map[string]any{}
		}
		pending = append(pending, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return pending, nil
}

// NotifyChannel signals watchers (the websocket hub) on every enqueue.
func (q *HitlQueue) NotifyChannel() <-chan struct{} {
	return q.notifyCh
}

func (q *HitlQueue) notifyWatchers() {
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}

func (q *HitlQueue) Close() error {
	return q.db.Close()
}
