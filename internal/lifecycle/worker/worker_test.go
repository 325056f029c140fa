package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/phase"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage/sqlite"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lifecycle.sqlite")
	store, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestDrainAppliesQueuedEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	raw, err := event.MarshalPayload(event.PhaseSetPayload{Phase: "in_sales"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	evt := event.Event{
		CompanyProductID: "cp-1",
		CompanyID:        "co-1",
		ProductID:        "prod-1",
		Type:             event.TypePhaseSet,
		ActorType:        event.ActorTypeSystem,
		PayloadJSON:      raw,
	}
	if _, err := store.AppendEvents(ctx, "cp-1", 0, []event.Event{evt}); err != nil {
		t.Fatalf("append events: %v", err)
	}

	w, err := New(store, nil, Config{BatchSize: 10})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	processed, err := w.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	record, err := store.GetReadModel(ctx, "cp-1")
	if err != nil {
		t.Fatalf("get read model: %v", err)
	}
	if record.CurrentPhase != phase.InSales || record.LastAppliedSeq != 1 {
		t.Fatalf("read model = %+v", record)
	}

	summary, err := store.GetOutboxSummary(ctx)
	if err != nil {
		t.Fatalf("outbox summary: %v", err)
	}
	if summary.PendingCount+summary.ProcessingCount+summary.FailedCount+summary.DeadCount != 0 {
		t.Fatalf("outbox not drained: %+v", summary)
	}
}

func TestNewClampsInterval(t *testing.T) {
	store := openTestStore(t)

	// Sub-second intervals would truncate to an "@every 0s" schedule.
	w, err := New(store, nil, Config{Interval: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if w.cfg.Interval != time.Second {
		t.Fatalf("interval = %s, want 1s", w.cfg.Interval)
	}

	w, err = New(store, nil, Config{Interval: 2500 * time.Millisecond})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if w.cfg.Interval != 2*time.Second {
		t.Fatalf("interval = %s, want 2s", w.cfg.Interval)
	}
}

func TestDrainQuarantinesMalformedEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	raw, err := event.MarshalPayload(event.PhaseSetPayload{Phase: "negotiating"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	// The phase value decodes but names no known phase; the projector
	// quarantines it instead of retrying forever.
	evt := event.Event{
		CompanyProductID: "cp-1",
		CompanyID:        "co-1",
		ProductID:        "prod-1",
		Type:             event.TypePhaseSet,
		ActorType:        event.ActorTypeSystem,
		PayloadJSON:      raw,
	}
	if _, err := store.AppendEvents(ctx, "cp-1", 0, []event.Event{evt}); err != nil {
		t.Fatalf("append events: %v", err)
	}

	w, err := New(store, nil, Config{BatchSize: 10})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if _, err := w.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	summary, err := store.GetOutboxSummary(ctx)
	if err != nil {
		t.Fatalf("outbox summary: %v", err)
	}
	if summary.DeadCount != 1 {
		t.Fatalf("dead = %d, want 1", summary.DeadCount)
	}
}
