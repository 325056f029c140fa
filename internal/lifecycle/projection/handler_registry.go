package projection

import (
	"context"
	"sort"

	"github.com/quotaflow/lifecycle/internal/lifecycle/catalog"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

// handlerEntry declares the stage-fact side effects for one event type. The
// read model fold and count adjustment are uniform across types and live in
// Apply; only stage visit bookkeeping differs per type.
type handlerEntry struct {
	apply func(ctx context.Context, evt event.Event, prior storage.ReadModelRecord, payload any, stores storage.Stores) error
}

// handlers maps each journal event type to its stage-fact handler.
var handlers = map[event.Type]handlerEntry{
	// phase_set moves the top-level phase only; stage visits are untouched.
	event.TypePhaseSet: {
		apply: func(context.Context, event.Event, storage.ReadModelRecord, any, storage.Stores) error {
			return nil
		},
	},
	event.TypeProcessSet: {
		apply: applyProcessSetFacts,
	},
	event.TypeStageAdvanced: {
		apply: applyStageAdvancedFacts,
	},
	event.TypeProcessCompleted: {
		apply: applyProcessCompletedFacts,
	},
}

// HandledTypes returns the sorted list of event types the projection layer
// handles. Derived from the handler registry so there is a single source of
// truth.
func HandledTypes() []event.Type {
	types := make([]event.Type, 0, len(handlers))
	for t := range handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		return string(types[i]) < string(types[j])
	})
	return types
}

func applyProcessSetFacts(ctx context.Context, evt event.Event, prior storage.ReadModelRecord, payload any, stores storage.Stores) error {
	p := payload.(event.ProcessSetPayload)
	occurred := ensureTimestamp(evt.OccurredAt)
	if err := stores.CloseOpenStageFact(ctx, evt.CompanyProductID, occurred); err != nil {
		return err
	}
	return stores.InsertStageFact(ctx, storage.StageFactRecord{
		CompanyProductID: evt.CompanyProductID,
		ProcessID:        p.ProcessID,
		ProcessType:      catalog.ProcessType(p.ProcessType),
		StageID:          p.InitialStageID,
		StageName:        p.InitialStageName,
		EnteredAt:        occurred,
		Seq:              evt.Seq,
	})
}

func applyStageAdvancedFacts(ctx context.Context, evt event.Event, prior storage.ReadModelRecord, payload any, stores storage.Stores) error {
	p := payload.(event.StageAdvancedPayload)
	occurred := ensureTimestamp(evt.OccurredAt)
	if err := stores.CloseOpenStageFact(ctx, evt.CompanyProductID, occurred); err != nil {
		return err
	}
	// The advanced stage belongs to the process the aggregate was already in.
	return stores.InsertStageFact(ctx, storage.StageFactRecord{
		CompanyProductID: evt.CompanyProductID,
		ProcessID:        prior.CurrentProcessID,
		ProcessType:      prior.CurrentProcessType,
		StageID:          p.StageID,
		StageName:        p.StageName,
		EnteredAt:        occurred,
		Seq:              evt.Seq,
	})
}

func applyProcessCompletedFacts(ctx context.Context, evt event.Event, prior storage.ReadModelRecord, payload any, stores storage.Stores) error {
	occurred := ensureTimestamp(evt.OccurredAt)
	return stores.CloseOpenStageFact(ctx, evt.CompanyProductID, occurred)
}
