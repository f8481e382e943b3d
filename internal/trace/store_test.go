package trace

import (
	"context"
	"path/filepath"
	"testing"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStartTraceAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	traceID, err := store.StartTrace(ctx, map[string]any{"endpoint": "/intent/route"})
	if err != nil {
		t.Fatalf("start trace failed: %v", err)
	}
	if traceID == "" {
		t.Fatal("expected a trace id")
	}

	trace, err := store.GetTrace(ctx, traceID)
	if err != nil {
		t.Fatalf("get trace failed: %v", err)
	}
	if trace == nil || trace.ID != traceID {
		t.Fatalf("unexpected trace: %+v", trace)
	}

	missing, err := store.GetTrace(ctx, "nope")
	if err != nil {
		t.Fatalf("get missing trace failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown trace")
	}
}

func TestRecordAndListSteps(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	traceID, err := store.StartTrace(ctx, nil)
	if err != nil {
		t.Fatalf("start trace failed: %v", err)
	}

	steps := []string{StepPolicySnapshot, StepIntentRouter, StepToolExecution}
	for i, stepType := range steps {
		if err := store.RecordStep(ctx, traceID, stepType, map[string]any{"seq": i}); err != nil {
			t.Fatalf("record step failed: %v", err)
		}
	}

	// Empty trace id is a silent no-op.
	if err := store.RecordStep(ctx, "", StepIntentRouter, nil); err != nil {
		t.Fatalf("empty trace id should no-op: %v", err)
	}

	listed, err := store.Steps(ctx, StepQuery{TraceID: traceID})
	if err != nil {
		t.Fatalf("list steps failed: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(listed))
	}

	// Newest first.
	if listed[0].StepType != StepToolExecution {
		t.Errorf("expected newest step first, got %s", listed[0].StepType)
	}

	filtered, err := store.Steps(ctx, StepQuery{TraceID: traceID, StepTypes: []string{StepIntentRouter}})
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].StepType != StepIntentRouter {
		t.Errorf("unexpected filtered steps: %+v", filtered)
	}

	limited, err := store.Steps(ctx, StepQuery{TraceID: traceID, Limit: 2})
	if err != nil {
		t.Fatalf("limited list failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 steps, got %d", len(limited))
	}
}

func TestStepsAreImmutable(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	traceID, err := store.StartTrace(ctx, nil)
	if err != nil {
		t.Fatalf("start trace failed: %v", err)
	}
	if err := store.RecordStep(ctx, traceID, StepIntentRouter, map[string]any{"v": 1}); err != nil {
		t.Fatalf("record step failed: %v", err)
	}

	if _, err := store.db.Exec("UPDATE trace_steps SET step_json = '{}'"); err == nil {
		t.Error("expected update on trace_steps to be rejected")
	}
	if _, err := store.db.Exec("DELETE FROM trace_steps"); err == nil {
		t.Error("expected delete on trace_steps to be rejected")
	}

	steps, err := store.Steps(ctx, StepQuery{TraceID: traceID})
	if err != nil {
		t.Fatalf("list steps failed: %v", err)
	}
	if len(steps) != 1 || string(steps[0].Payload) != `{"v":1}` {
		t.Errorf("step mutated: %+v", steps)
	}
}
