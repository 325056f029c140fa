package sqlite

import (
	"context"
	"testing"

	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

func countFor(t *testing.T, store *Store, productID, stageID string) int {
	t.Helper()
	records, err := store.ListStageCounts(context.Background(), productID)
	if err != nil {
		t.Fatalf("list stage counts: %v", err)
	}
	for _, record := range records {
		if record.StageID == stageID {
			return record.Count
		}
	}
	return 0
}

func TestAdjustStageCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.AdjustStageCount(ctx, "prod-1", "s1", +1); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := store.AdjustStageCount(ctx, "prod-1", "s1", +1); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got := countFor(t, store, "prod-1", "s1"); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}

	if err := store.AdjustStageCount(ctx, "prod-1", "s1", -1); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if got := countFor(t, store, "prod-1", "s1"); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}

	// Counts floor at zero and decrementing an absent cell is a no-op.
	if err := store.AdjustStageCount(ctx, "prod-1", "s1", -5); err != nil {
		t.Fatalf("floor decrement: %v", err)
	}
	if got := countFor(t, store, "prod-1", "s1"); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
	if err := store.AdjustStageCount(ctx, "prod-1", "missing", -1); err != nil {
		t.Fatalf("absent decrement: %v", err)
	}
}

func TestRebuildStageCounts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rows := []storage.ReadModelRecord{
		{CompanyProductID: "cp-1", CompanyID: "co-1", ProductID: "prod-1", CurrentStageID: "s1"},
		{CompanyProductID: "cp-2", CompanyID: "co-2", ProductID: "prod-1", CurrentStageID: "s1"},
		{CompanyProductID: "cp-3", CompanyID: "co-3", ProductID: "prod-1", CurrentStageID: "s2"},
		{CompanyProductID: "cp-4", CompanyID: "co-4", ProductID: "prod-2", CurrentStageID: "s9"},
	}
	for _, row := range rows {
		if err := store.PutReadModel(ctx, row); err != nil {
			t.Fatalf("put read model: %v", err)
		}
	}
	// Seed a drifted cell; rebuild must replace it.
	if err := store.AdjustStageCount(ctx, "prod-1", "s1", +7); err != nil {
		t.Fatalf("seed drift: %v", err)
	}

	if err := store.RebuildStageCounts(ctx); err != nil {
		t.Fatalf("rebuild stage counts: %v", err)
	}

	if got := countFor(t, store, "prod-1", "s1"); got != 2 {
		t.Fatalf("prod-1/s1 = %d, want 2", got)
	}
	if got := countFor(t, store, "prod-1", "s2"); got != 1 {
		t.Fatalf("prod-1/s2 = %d, want 1", got)
	}
	if got := countFor(t, store, "prod-2", "s9"); got != 1 {
		t.Fatalf("prod-2/s9 = %d, want 1", got)
	}
}
