package projection

import (
	"fmt"
	"time"

	"github.com/quotaflow/lifecycle/internal/lifecycle/catalog"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/phase"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

// ensureTimestamp normalizes timestamps so projections always persist UTC,
// defaulting to now for events that do not set time.
func ensureTimestamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts.UTC()
}

// Fold applies one event to a read model row and returns the updated row.
// The fold is pure: it never touches storage, so replay verification can run
// it over a journal slice and compare the result against persisted rows.
//
// Undecodable payloads and invalid enum values return an error wrapping
// event.ErrMalformedPayload.
func Fold(current storage.ReadModelRecord, evt event.Event) (storage.ReadModelRecord, error) {
	payload, err := event.DecodePayload(evt)
	if err != nil {
		return storage.ReadModelRecord{}, err
	}
	return foldPayload(current, evt, payload)
}

// foldPayload is the decode-free fold body. Apply calls it directly with the
// payload it already decoded for the stage-fact handler.
func foldPayload(current storage.ReadModelRecord, evt event.Event, payload any) (storage.ReadModelRecord, error) {
	next := current
	next.CompanyProductID = evt.CompanyProductID
	if evt.CompanyID != "" {
		next.CompanyID = evt.CompanyID
	}
	if evt.ProductID != "" {
		next.ProductID = evt.ProductID
	}
	occurred := ensureTimestamp(evt.OccurredAt)

	switch p := payload.(type) {
	case event.PhaseSetPayload:
		parsed, err := phase.Parse(p.Phase)
		if err != nil {
			return storage.ReadModelRecord{}, fmt.Errorf("%w: %v", event.ErrMalformedPayload, err)
		}
		next.CurrentPhase = parsed
	case event.ProcessSetPayload:
		next.CurrentProcessID = p.ProcessID
		next.CurrentProcessType = catalog.ProcessType(p.ProcessType)
		next.CurrentProcessVersion = p.ProcessVersion
		next.CurrentStageID = p.InitialStageID
		next.CurrentStageName = p.InitialStageName
		next.CurrentStageOrder = p.InitialStageOrder
		next.StageEnteredAt = &occurred
	case event.StageAdvancedPayload:
		next.CurrentStageID = p.StageID
		next.CurrentStageName = p.StageName
		next.CurrentStageOrder = p.StageOrder
		next.StageEnteredAt = &occurred
	case event.ProcessCompletedPayload:
		// Completion records metadata only. The current stage fields are
		// moved by the process_set event committed in the same batch.
		next.LastCompletedProcessID = p.ProcessID
		next.LastCompletedProcessType = catalog.ProcessType(p.ProcessType)
		next.LastCompletedTerminal = catalog.TerminalType(p.TerminalType)
		next.LastCompletedAt = &occurred
	default:
		return storage.ReadModelRecord{}, fmt.Errorf("%w: no fold for event type %q", event.ErrMalformedPayload, evt.Type)
	}

	next.LastAppliedSeq = evt.Seq
	next.UpdatedAt = occurred
	return next, nil
}

// FoldAll folds a journal slice into the read model row it implies, starting
// from an empty row. Events must be ordered by sequence ascending.
func FoldAll(events []event.Event) (storage.ReadModelRecord, error) {
	var record storage.ReadModelRecord
	for _, evt := range events {
		folded, err := Fold(record, evt)
		if err != nil {
			return storage.ReadModelRecord{}, fmt.Errorf("fold event %s/%d: %w", evt.CompanyProductID, evt.Seq, err)
		}
		record = folded
	}
	return record, nil
}
