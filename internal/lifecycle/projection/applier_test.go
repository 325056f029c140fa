package projection

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
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

func appendLifecycle(t *testing.T, store *sqlite.Store, companyProductID string, expectedSeq uint64, events ...event.Event) []event.Event {
	t.Helper()
	for i := range events {
		events[i].CompanyProductID = companyProductID
	}
	stored, err := store.AppendEvents(context.Background(), companyProductID, expectedSeq, events)
	if err != nil {
		t.Fatalf("append events: %v", err)
	}
	return stored
}

func saleEvents(t *testing.T) []event.Event {
	t.Helper()
	return []event.Event{
		foldEvent(t, 0, event.TypePhaseSet, event.PhaseSetPayload{Phase: "in_sales"}),
		foldEvent(t, 0, event.TypeProcessSet, event.ProcessSetPayload{
			ProcessID:         "proc-sales",
			ProcessType:       "sales",
			ProcessVersion:    1,
			InitialStageID:    "s1",
			InitialStageName:  "Qualify",
			InitialStageOrder: 1,
		}),
	}
}

func TestApplyMaintainsReadModelAndFacts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stored := appendLifecycle(t, store, "cp-1", 0, saleEvents(t)...)
	stored = append(stored, appendLifecycle(t, store, "cp-1", 2, foldEvent(t, 0, event.TypeStageAdvanced, event.StageAdvancedPayload{
		FromStageID: "s1",
		StageID:     "s2",
		StageName:   "Demo",
		StageOrder:  2,
	}))...)

	for _, evt := range stored {
		if err := Apply(ctx, evt, store); err != nil {
			t.Fatalf("apply %s/%d: %v", evt.Type, evt.Seq, err)
		}
	}

	record, err := store.GetReadModel(ctx, "cp-1")
	if err != nil {
		t.Fatalf("get read model: %v", err)
	}
	if record.CurrentStageID != "s2" || record.LastAppliedSeq != 3 {
		t.Fatalf("read model = %+v", record)
	}

	facts, err := store.ListStageFacts(ctx, "cp-1")
	if err != nil {
		t.Fatalf("list stage facts: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("facts = %d, want 2", len(facts))
	}
	if facts[0].ExitedAt == nil {
		t.Fatal("first fact should be closed")
	}
	if facts[1].ExitedAt != nil || facts[1].StageID != "s2" {
		t.Fatalf("open fact = %+v", facts[1])
	}
	if facts[1].ProcessID != "proc-sales" {
		t.Fatalf("advanced fact process = %s, want proc-sales", facts[1].ProcessID)
	}

	counts, err := store.ListStageCounts(ctx, "prod-1")
	if err != nil {
		t.Fatalf("list stage counts: %v", err)
	}
	byStage := map[string]int{}
	for _, count := range counts {
		byStage[count.StageID] = count.Count
	}
	if byStage["s1"] != 0 || byStage["s2"] != 1 {
		t.Fatalf("counts = %v, want s1=0 s2=1", byStage)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stored := appendLifecycle(t, store, "cp-1", 0, saleEvents(t)...)
	for _, evt := range stored {
		if err := Apply(ctx, evt, store); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	before, err := store.GetReadModel(ctx, "cp-1")
	if err != nil {
		t.Fatalf("get read model: %v", err)
	}
	factsBefore, err := store.ListStageFacts(ctx, "cp-1")
	if err != nil {
		t.Fatalf("list stage facts: %v", err)
	}

	// Replaying the same events must change nothing.
	for _, evt := range stored {
		if err := Apply(ctx, evt, store); err != nil {
			t.Fatalf("replay apply: %v", err)
		}
	}
	after, err := store.GetReadModel(ctx, "cp-1")
	if err != nil {
		t.Fatalf("get read model: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("read model changed on replay:\nbefore %+v\nafter  %+v", before, after)
	}
	factsAfter, err := store.ListStageFacts(ctx, "cp-1")
	if err != nil {
		t.Fatalf("list stage facts: %v", err)
	}
	if len(factsAfter) != len(factsBefore) {
		t.Fatalf("facts grew on replay: %d -> %d", len(factsBefore), len(factsAfter))
	}
}

func TestApplySequenceGap(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stored := appendLifecycle(t, store, "cp-1", 0, saleEvents(t)...)

	// Applying seq 2 before seq 1 is a retryable gap, not corruption.
	err := Apply(ctx, stored[1], store)
	if !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("err = %v, want ErrSequenceGap", err)
	}
	if _, err := store.GetReadModel(ctx, "cp-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("read model err = %v, want ErrNotFound", err)
	}
}

func TestProjectorCatchUpAndRebuild(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	appendLifecycle(t, store, "cp-1", 0, saleEvents(t)...)
	appendLifecycle(t, store, "cp-2", 0, saleEvents(t)...)

	projector := &Projector{
		Name:        "lifecycle",
		Journal:     store,
		Checkpoints: store,
		Store:       store,
	}

	applied, err := projector.CatchUp(ctx)
	if err != nil {
		t.Fatalf("catch up: %v", err)
	}
	if applied != 4 {
		t.Fatalf("applied = %d, want 4", applied)
	}

	// Second pass starts at the checkpoint and applies nothing.
	applied, err = projector.CatchUp(ctx)
	if err != nil {
		t.Fatalf("second catch up: %v", err)
	}
	if applied != 0 {
		t.Fatalf("second pass applied = %d, want 0", applied)
	}

	mismatches, err := VerifyReplayParity(ctx, store, store)
	if err != nil {
		t.Fatalf("verify parity: %v", err)
	}
	if len(mismatches) != 0 {
		t.Fatalf("unexpected mismatches: %v", mismatches)
	}

	// Drift one row, confirm verify catches it, then rebuild repairs it.
	drifted, err := store.GetReadModel(ctx, "cp-1")
	if err != nil {
		t.Fatalf("get read model: %v", err)
	}
	drifted.CurrentStageID = "s9"
	if err := store.PutReadModel(ctx, drifted); err != nil {
		t.Fatalf("put drifted row: %v", err)
	}
	mismatches, err = VerifyReplayParity(ctx, store, store)
	if err != nil {
		t.Fatalf("verify parity: %v", err)
	}
	if len(mismatches) == 0 {
		t.Fatal("expected mismatches after drift")
	}

	applied, err = projector.Rebuild(ctx, store)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if applied != 4 {
		t.Fatalf("rebuild applied = %d, want 4", applied)
	}
	mismatches, err = VerifyReplayParity(ctx, store, store)
	if err != nil {
		t.Fatalf("verify parity: %v", err)
	}
	if len(mismatches) != 0 {
		t.Fatalf("mismatches after rebuild: %v", mismatches)
	}
}
