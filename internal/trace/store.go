package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Jdogg9/agent-admission-sidecar/internal/storage"
)

const (
	queryInsertTrace = `
		INSERT INTO traces (id, created_at, metadata_json)
		VALUES (?, ?, ?)`

	queryInsertStep = `
		INSERT INTO trace_steps (trace_id, step_type, step_json, created_at)
		VALUES (?, ?, ?, ?)`

	querySelectTrace = `
		SELECT id, created_at, metadata_json
		FROM traces
		WHERE id = ?`
)

// SQLiteStore is the durable append-only audit log. Update/delete triggers
// reject mutation at the database layer.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) StartTrace(ctx context.Context, metadata map[string]any) (string, error) {
	traceID := uuid.New().String()
	payload, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	createdAt := now()
	err = storage.RetryBusy(func() error {
		_, execErr := s.db.ExecContext(ctx, queryInsertTrace, traceID, createdAt, string(payload))
		return execErr
	})
	if err != nil {
		return "", fmt.Errorf("insert trace: %w", err)
	}

	return traceID, nil
}

func (s *SQLiteStore) RecordStep(ctx context.Context, traceID, stepType string, payload map[string]any) error {
	if traceID == "" {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal step payload: %w", err)
	}

	err = storage.RetryBusy(func() error {
		_, execErr := s.db.ExecContext(ctx, queryInsertStep, traceID, stepType, string(raw), now())
		return execErr
	})
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTrace(ctx context.Context, traceID string) (*Trace, error) {
	var t Trace
	var metadata sql.NullString

	row := s.db.QueryRowContext(ctx, querySelectTrace, traceID)
	if err := row.Scan(&t.ID, &t.CreatedAt, &metadata); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan trace: %w", err)
	}
	if metadata.Valid {
		t.Metadata = json.RawMessage(metadata.String)
	}
	return &t, nil
}

func (s *SQLiteStore) Steps(ctx context.Context, q StepQuery) ([]Step, error) {
	query, args := buildStepQuery(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		var payload string
		if err := rows.Scan(&st.ID, &st.TraceID, &st.StepType, &payload, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Payload = json.RawMessage(payload)
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return steps, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initializeSchema() error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}
	return nil
}

// buildStepQuery returns newest-first so limits keep the most recent
// steps; readers needing chronological order reverse the slice.
func buildStepQuery(q StepQuery) (string, []any) {
	var conditions []string
	var args []any

	if q.TraceID != "" {
		conditions = append(conditions, "trace_id = ?")
		args = append(args, q.TraceID)
	}
	if len(q.StepTypes) > 0 {
		placeholders := strings.Repeat("?,", len(q.StepTypes))
		conditions = append(conditions, fmt.Sprintf("step_type IN (%s)", placeholders[:len(placeholders)-1]))
		for _, st := range q.StepTypes {
			args = append(args, st)
		}
	}

	query := "SELECT id, trace_id, step_type, step_json, created_at FROM trace_steps"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	query += " LIMIT ?"
	args = append(args, limit)

	return query, args
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
