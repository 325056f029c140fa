package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

// ErrSequenceGap indicates an event arrived ahead of the aggregate's
// projection watermark. The event is valid; earlier events just have not been
// applied yet, so the caller should retry after they land.
var ErrSequenceGap = errors.New("projection sequence gap")

// Apply folds one journal event into the read models through the given
// stores. Events at or below the aggregate's watermark are skipped; events
// more than one ahead return ErrSequenceGap.
//
// Callers are expected to pass transaction-scoped stores so the read model
// row, stage facts, and pipeline counts commit atomically per event.
func Apply(ctx context.Context, evt event.Event, stores storage.Stores) error {
	if stores == nil {
		return fmt.Errorf("projection stores are not configured")
	}

	handler, ok := handlers[evt.Type]
	if !ok {
		return fmt.Errorf("%w: no projection handler for event type %q", event.ErrMalformedPayload, evt.Type)
	}

	prior, err := stores.GetReadModel(ctx, evt.CompanyProductID)
	if errors.Is(err, storage.ErrNotFound) {
		prior = storage.ReadModelRecord{CompanyProductID: evt.CompanyProductID}
	} else if err != nil {
		return fmt.Errorf("load read model %s: %w", evt.CompanyProductID, err)
	}

	if evt.Seq <= prior.LastAppliedSeq {
		return nil
	}
	if evt.Seq != prior.LastAppliedSeq+1 {
		return fmt.Errorf("%w: aggregate %s at seq %d, event seq %d",
			ErrSequenceGap, evt.CompanyProductID, prior.LastAppliedSeq, evt.Seq)
	}

	payload, err := event.DecodePayload(evt)
	if err != nil {
		return err
	}

	next, err := foldPayload(prior, evt, payload)
	if err != nil {
		return err
	}

	if err := handler.apply(ctx, evt, prior, payload, stores); err != nil {
		return fmt.Errorf("apply stage facts for %s/%d: %w", evt.CompanyProductID, evt.Seq, err)
	}

	if err := adjustCounts(ctx, prior, next, stores); err != nil {
		return fmt.Errorf("adjust stage counts for %s/%d: %w", evt.CompanyProductID, evt.Seq, err)
	}

	if err := stores.PutReadModel(ctx, next); err != nil {
		return fmt.Errorf("put read model %s: %w", evt.CompanyProductID, err)
	}
	return nil
}

// adjustCounts moves the aggregate between pipeline count cells based on the
// read model's current-stage transition. An aggregate occupies at most one
// cell, so every event type reduces to leaving one cell and entering another.
func adjustCounts(ctx context.Context, prior, next storage.ReadModelRecord, stores storage.Stores) error {
	priorProduct, priorStage := prior.ProductID, prior.CurrentStageID
	nextProduct, nextStage := next.ProductID, next.CurrentStageID
	if priorProduct == nextProduct && priorStage == nextStage {
		return nil
	}
	if priorProduct != "" && priorStage != "" {
		if err := stores.AdjustStageCount(ctx, priorProduct, priorStage, -1); err != nil {
			return err
		}
	}
	if nextProduct != "" && nextStage != "" {
		if err := stores.AdjustStageCount(ctx, nextProduct, nextStage, +1); err != nil {
			return err
		}
	}
	return nil
}
