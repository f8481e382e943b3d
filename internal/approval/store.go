package approval

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Jdogg9/agent-admission-sidecar/internal/storage"
)

const DefaultTTLSeconds = 900

const (
	tableApprovals = `
		CREATE TABLE IF NOT EXISTS tool_approvals (
			approval_id TEXT PRIMARY KEY,
			tool_name TEXT NOT NULL,
			args_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			consumed_at TEXT,
			status TEXT NOT NULL CHECK(status IN ('pending', 'consumed'))
		)`

	queryInsertApproval = `
		INSERT INTO tool_approvals
			(approval_id, tool_name, args_hash, created_at, expires_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`

	querySelectApproval = `
		SELECT approval_id, tool_name, args_hash, created_at, expires_at, consumed_at, status
		FROM tool_approvals
		WHERE approval_id = ?`

	queryConsumeApproval = `
		UPDATE tool_approvals
		SET status = 'consumed', consumed_at = ?
		WHERE approval_id = ? AND status = 'pending'`
)

// SQLiteStore persists approval credentials. The consume path is a
// compare-and-swap on status so two concurrent callers cannot both
// observe "pending".
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(tableApprovals); err != nil {
		db.Close()
		return nil, fmt.Errorf("execute schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Issue(ctx context.Context, toolName string, args map[string]any, ttlSeconds int) (*ToolApproval, error) {
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTTLSeconds
	}

	now := time.Now().UTC()
	approval := &ToolApproval{
		ApprovalID: uuid.New().String(),
		ToolName:   toolName,
		ArgsHash:   HashToolArgs(args),
		CreatedAt:  now.Format(time.RFC3339Nano),
		ExpiresAt:  now.Add(time.Duration(ttlSeconds) * time.Second).Format(time.RFC3339Nano),
		Status:     StatusPending,
	}

	err := storage.RetryBusy(func() error {
		_, execErr := s.db.ExecContext(ctx, queryInsertApproval,
			approval.ApprovalID, approval.ToolName, approval.ArgsHash,
			approval.CreatedAt, approval.ExpiresAt, approval.Status)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("insert approval: %w", err)
	}

	log.Info().Str("approval_id", approval.ApprovalID).Str("tool", toolName).Msg("approval issued")
	return approval, nil
}

// ValidateAndConsume fails closed: any mismatch, expiry, or replay returns
// ok=false with a stable reason. The pending->consumed transition happens
// at most once per id.
func (s *SQLiteStore) ValidateAndConsume(ctx context.Context, approvalID, toolName, argsHash string) (bool, string, *ToolApproval) {
	if approvalID == "" {
		return false, ReasonMissingApproval, nil
	}

	stored, err := s.get(ctx, approvalID)
	if err != nil {
		log.Warn().Err(err).Str("approval_id", approvalID).Msg("approval lookup failed")
		return false, ReasonUnknownApproval, nil
	}
	if stored == nil {
		return false, ReasonUnknownApproval, nil
	}

	if stored.Status != StatusPending {
		return false, ReasonAlreadyConsumed, stored
	}
	if stored.ToolName != toolName {
		return false, ReasonToolMismatch, stored
	}
	if stored.ArgsHash != argsHash {
		return false, ReasonArgsHashMismatch, stored
	}

	now := time.Now().UTC()
	expiresAt, err := time.Parse(time.RFC3339Nano, stored.ExpiresAt)
	if err != nil || !expiresAt.After(now) {
		return false, ReasonExpired, stored
	}

	consumedAt := now.Format(time.RFC3339Nano)
	var affected int64
	err = storage.RetryBusy(func() error {
		result, execErr := s.db.ExecContext(ctx, queryConsumeApproval, consumedAt, approvalID)
		if execErr != nil {
			return execErr
		}
		affected, execErr = result.RowsAffected()
		return execErr
	})
	if err != nil {
		log.Warn().Err(err).Str("approval_id", approvalID).Msg("approval consume failed")
		return false, ReasonUnknownApproval, stored
	}
	if affected == 0 {
		// Lost the race: another caller consumed it between read and CAS.
		return false, ReasonAlreadyConsumed, stored
	}

	stored.Status = StatusConsumed
	stored.ConsumedAt = consumedAt
	log.Info().Str("approval_id", approvalID).Str("tool", toolName).Msg("approval consumed")
	return true, ReasonApproved, stored
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) get(ctx context.Context, approvalID string) (*ToolApproval, error) {
	var a ToolApproval
	var consumedAt sql.NullString

	row := s.db.QueryRowContext(ctx, querySelectApproval, approvalID)
	err := row.Scan(&a.ApprovalID, &a.ToolName, &a.ArgsHash, &a.CreatedAt, &a.ExpiresAt, &consumedAt, &a.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan approval: %w", err)
	}
	if consumedAt.Valid {
		a.ConsumedAt = consumedAt.String
	}
	return &a, nil
}
