package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lifecycle.sqlite")
	store, err := Open(path, opts...)
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

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testEvent(t *testing.T, companyProductID string, typ event.Type, payload any) event.Event {
	t.Helper()
	raw, err := event.MarshalPayload(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return event.Event{
		CompanyProductID: companyProductID,
		CompanyID:        "co-1",
		ProductID:        "prod-1",
		Type:             typ,
		RequestID:        "req-1",
		ActorType:        event.ActorTypeSystem,
		OccurredAt:       testTime,
		PayloadJSON:      raw,
	}
}

func phaseSetEvent(t *testing.T, companyProductID, phase string) event.Event {
	t.Helper()
	return testEvent(t, companyProductID, event.TypePhaseSet, event.PhaseSetPayload{Phase: phase})
}

func mustAppend(t *testing.T, store *Store, companyProductID string, expectedSeq uint64, events ...event.Event) []event.Event {
	t.Helper()
	stored, err := store.AppendEvents(context.Background(), companyProductID, expectedSeq, events)
	if err != nil {
		t.Fatalf("append events: %v", err)
	}
	return stored
}
