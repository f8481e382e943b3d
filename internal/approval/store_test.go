package approval

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "approvals.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIssueAndConsume(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	args := map[string]any{"path": "/tmp/report.txt"}

	grant, err := store.Issue(ctx, "file_write", args, 60)
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}
	if grant.Status != StatusPending {
		t.Errorf("expected pending status, got %s", grant.Status)
	}

	ok, reason, consumed := store.ValidateAndConsume(ctx, grant.ApprovalID, "file_write", HashToolArgs(args))
	if !ok {
		t.Fatalf("expected consume to succeed, got reason %s", reason)
	}
	if reason != ReasonApproved {
		t.Errorf("expected %s, got %s", ReasonApproved, reason)
	}
	if consumed.Status != StatusConsumed || consumed.ConsumedAt == "" {
		t.Errorf("expected consumed record, got %+v", consumed)
	}

	// Replay must fail.
	ok, reason, _ = store.ValidateAndConsume(ctx, grant.ApprovalID, "file_write", HashToolArgs(args))
	if ok {
		t.Fatal("expected replay to fail")
	}
	if reason != ReasonAlreadyConsumed {
		t.Errorf("expected %s, got %s", ReasonAlreadyConsumed, reason)
	}
}

func TestValidateFailsClosed(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	args := map[string]any{"query": "select 1"}

	grant, err := store.Issue(ctx, "db_query", args, 60)
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}
	argsHash := HashToolArgs(args)

	cases := []struct {
		name       string
		approvalID string
		tool       string
		argsHash   string
		wantReason string
	}{
		{"empty id", "", "db_query", argsHash, ReasonMissingApproval},
		{"unknown id", "does-not-exist", "db_query", argsHash, ReasonUnknownApproval},
		{"tool mismatch", grant.ApprovalID, "other_tool", argsHash, ReasonToolMismatch},
		{"args mismatch", grant.ApprovalID, "db_query", HashToolArgs(map[string]any{"query": "select 2"}), ReasonArgsHashMismatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason, _ := store.ValidateAndConsume(ctx, tc.approvalID, tc.tool, tc.argsHash)
			if ok {
				t.Fatal("expected validation to fail")
			}
			if reason != tc.wantReason {
				t.Errorf("expected %s, got %s", tc.wantReason, reason)
			}
		})
	}

	// Mismatches must not consume the credential.
	ok, reason, _ := store.ValidateAndConsume(ctx, grant.ApprovalID, "db_query", argsHash)
	if !ok {
		t.Fatalf("expected credential to remain consumable, got %s", reason)
	}
}

func TestExpiredApproval(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	grant, err := store.Issue(ctx, "echo", nil, 1)
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)

	ok, reason, _ := store.ValidateAndConsume(ctx, grant.ApprovalID, "echo", HashToolArgs(nil))
	if ok {
		t.Fatal("expected expired credential to fail")
	}
	if reason != ReasonExpired {
		t.Errorf("expected %s, got %s", ReasonExpired, reason)
	}
}

func TestConcurrentConsumeExactlyOnce(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	args := map[string]any{"n": float64(1)}

	grant, err := store.Issue(ctx, "echo", args, 60)
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}
	argsHash := HashToolArgs(args)

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, _ := store.ValidateAndConsume(ctx, grant.ApprovalID, "echo", argsHash)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for ok := range results {
		if ok {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("expected exactly one successful consume, got %d", successes)
	}
}

func TestHashToolArgs(t *testing.T) {
	if HashToolArgs(nil) != HashToolArgs(map[string]any{}) {
		t.Error("nil and empty args should hash identically")
	}

	a := HashToolArgs(map[string]any{"x": 1, "y": "two"})
	b := HashToolArgs(map[string]any{"y": "two", "x": 1})
	if a != b {
		t.Error("hash must not depend on key insertion order")
	}

	c := HashToolArgs(map[string]any{"x": 2, "y": "two"})
	if a == c {
		t.Error("different args must hash differently")
	}

	if len(a) != 64 {
		t.Errorf("expected sha256 hex, got %d chars", len(a))
	}
}
