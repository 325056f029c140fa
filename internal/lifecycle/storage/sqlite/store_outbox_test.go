package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

func TestAppendEnqueuesOutboxRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mustAppend(t, store, "cp-1", 0,
		phaseSetEvent(t, "cp-1", "in_sales"),
		phaseSetEvent(t, "cp-1", "in_sales"),
	)

	summary, err := store.GetOutboxSummary(ctx)
	if err != nil {
		t.Fatalf("outbox summary: %v", err)
	}
	if summary.PendingCount != 2 {
		t.Fatalf("pending = %d, want 2", summary.PendingCount)
	}
	if summary.OldestPendingID != "cp-1" || summary.OldestPendingSeq != 1 {
		t.Fatalf("oldest pending = %s/%d, want cp-1/1", summary.OldestPendingID, summary.OldestPendingSeq)
	}
}

func TestAppendWithOutboxDisabled(t *testing.T) {
	store := openTestStore(t, WithOutboxEnabled(false))
	ctx := context.Background()

	mustAppend(t, store, "cp-1", 0, phaseSetEvent(t, "cp-1", "in_sales"))

	summary, err := store.GetOutboxSummary(ctx)
	if err != nil {
		t.Fatalf("outbox summary: %v", err)
	}
	if summary.PendingCount != 0 {
		t.Fatalf("pending = %d, want 0", summary.PendingCount)
	}
}

func TestProcessOutboxAppliesAndCompletes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mustAppend(t, store, "cp-1", 0, phaseSetEvent(t, "cp-1", "in_sales"))

	var applied []uint64
	processed, err := store.ProcessOutbox(ctx, time.Now().UTC(), 10, func(_ context.Context, evt event.Event) error {
		applied = append(applied, evt.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("process outbox: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
	if len(applied) != 1 || applied[0] != 1 {
		t.Fatalf("applied seqs = %v, want [1]", applied)
	}

	summary, err := store.GetOutboxSummary(ctx)
	if err != nil {
		t.Fatalf("outbox summary: %v", err)
	}
	if summary.PendingCount+summary.ProcessingCount+summary.FailedCount+summary.DeadCount != 0 {
		t.Fatalf("queue not empty after success: %+v", summary)
	}
}

func TestProcessOutboxRetriesWithBackoff(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mustAppend(t, store, "cp-1", 0, phaseSetEvent(t, "cp-1", "in_sales"))

	now := time.Now().UTC()
	processed, err := store.ProcessOutbox(ctx, now, 10, func(context.Context, event.Event) error {
		return fmt.Errorf("read model table locked")
	})
	if err != nil {
		t.Fatalf("process outbox: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	rows, err := store.ListOutboxRows(ctx, "failed", 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("failed rows = %d, want 1", len(rows))
	}
	if rows[0].AttemptCount != 1 {
		t.Fatalf("attempts = %d, want 1", rows[0].AttemptCount)
	}
	if !rows[0].NextAttemptAt.After(now) {
		t.Fatalf("next attempt %v not after %v", rows[0].NextAttemptAt, now)
	}

	// Not due yet.
	processed, err = store.ProcessOutbox(ctx, now, 10, func(context.Context, event.Event) error {
		t.Fatal("apply should not run before the backoff elapses")
		return nil
	})
	if err != nil {
		t.Fatalf("process outbox: %v", err)
	}
	if processed != 0 {
		t.Fatalf("processed = %d before backoff, want 0", processed)
	}

	// Due after the backoff window.
	processed, err = store.ProcessOutbox(ctx, now.Add(2*time.Second), 10, func(context.Context, event.Event) error {
		return nil
	})
	if err != nil {
		t.Fatalf("process outbox: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d after backoff, want 1", processed)
	}
}

func TestProcessOutboxQuarantinesMalformed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mustAppend(t, store, "cp-1", 0, phaseSetEvent(t, "cp-1", "in_sales"))

	processed, err := store.ProcessOutbox(ctx, time.Now().UTC(), 10, func(context.Context, event.Event) error {
		return fmt.Errorf("%w: bad variant", event.ErrMalformedPayload)
	})
	if err != nil {
		t.Fatalf("process outbox: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	dead, err := store.ListOutboxRows(ctx, "dead", 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("dead rows = %d, want 1", len(dead))
	}

	// Requeue brings the row back to pending with a reset attempt count.
	moved, err := store.RequeueDeadOutboxRows(ctx, 10, time.Now().UTC())
	if err != nil {
		t.Fatalf("requeue dead rows: %v", err)
	}
	if moved != 1 {
		t.Fatalf("requeued = %d, want 1", moved)
	}
	pending, err := store.ListOutboxRows(ctx, "pending", 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(pending) != 1 || pending[0].AttemptCount != 0 {
		t.Fatalf("pending after requeue = %+v", pending)
	}
}

func TestApplyEventExactlyOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stored := mustAppend(t, store, "cp-1", 0, phaseSetEvent(t, "cp-1", "in_sales"))
	evt := stored[0]

	calls := 0
	apply := func(_ context.Context, _ event.Event, _ storage.Stores) error {
		calls++
		return nil
	}

	applied, err := store.ApplyEventExactlyOnce(ctx, evt, apply)
	if err != nil {
		t.Fatalf("apply exactly once: %v", err)
	}
	if !applied || calls != 1 {
		t.Fatalf("first apply: applied=%v calls=%d, want true/1", applied, calls)
	}

	applied, err = store.ApplyEventExactlyOnce(ctx, evt, apply)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if applied || calls != 1 {
		t.Fatalf("second apply: applied=%v calls=%d, want false/1", applied, calls)
	}
}

func TestApplyEventExactlyOnceRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stored := mustAppend(t, store, "cp-1", 0, phaseSetEvent(t, "cp-1", "in_sales"))
	evt := stored[0]

	applyErr := errors.New("projection failed")
	_, err := store.ApplyEventExactlyOnce(ctx, evt, func(ctx context.Context, evt event.Event, stores storage.Stores) error {
		record := storage.ReadModelRecord{CompanyProductID: evt.CompanyProductID, LastAppliedSeq: evt.Seq}
		if err := stores.PutReadModel(ctx, record); err != nil {
			return err
		}
		return applyErr
	})
	if !errors.Is(err, applyErr) {
		t.Fatalf("err = %v, want %v", err, applyErr)
	}

	// The failed apply must leave no checkpoint and no read model row, so a
	// retry can run the full mutation again.
	if _, err := store.GetReadModel(ctx, "cp-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("read model err = %v, want ErrNotFound", err)
	}
	applied, err := store.ApplyEventExactlyOnce(ctx, evt, func(context.Context, event.Event, storage.Stores) error {
		return nil
	})
	if err != nil {
		t.Fatalf("retry apply: %v", err)
	}
	if !applied {
		t.Fatal("retry apply = false, want true")
	}
}
