package projection

import (
	"context"
	"fmt"

	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

// Mismatch reports one field where a stored read model row disagrees with
// the row a clean replay of the aggregate's journal produces.
type Mismatch struct {
	CompanyProductID string
	Field            string
	Stored           string
	Replayed         string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: %s stored=%q replayed=%q", m.CompanyProductID, m.Field, m.Stored, m.Replayed)
}

// VerifyReplayParity folds every aggregate's journal in memory and compares
// the result against the persisted read model rows. An empty slice means the
// projections match the journal exactly.
//
// Timestamps and the raw update clock are excluded from comparison; parity is
// about lifecycle position, not wall-clock bookkeeping.
func VerifyReplayParity(ctx context.Context, journal storage.EventStore, readModels storage.ReadModelStore) ([]Mismatch, error) {
	if journal == nil || readModels == nil {
		return nil, fmt.Errorf("journal and read model stores are required")
	}

	rows, err := readModels.ListReadModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list read models: %w", err)
	}

	var mismatches []Mismatch
	for _, stored := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		replayed, err := replayAggregate(ctx, journal, stored.CompanyProductID)
		if err != nil {
			return nil, err
		}
		mismatches = append(mismatches, diffReadModels(stored, replayed)...)
	}
	return mismatches, nil
}

func replayAggregate(ctx context.Context, journal storage.EventStore, companyProductID string) (storage.ReadModelRecord, error) {
	const pageSize = 500

	record := storage.ReadModelRecord{CompanyProductID: companyProductID}
	afterSeq := uint64(0)
	for {
		events, err := journal.ListEvents(ctx, companyProductID, afterSeq, pageSize)
		if err != nil {
			return storage.ReadModelRecord{}, fmt.Errorf("list events for %s: %w", companyProductID, err)
		}
		if len(events) == 0 {
			return record, nil
		}
		for _, evt := range events {
			folded, err := Fold(record, evt)
			if err != nil {
				return storage.ReadModelRecord{}, fmt.Errorf("replay %s/%d: %w", companyProductID, evt.Seq, err)
			}
			record = folded
			afterSeq = evt.Seq
		}
	}
}

func diffReadModels(stored, replayed storage.ReadModelRecord) []Mismatch {
	var mismatches []Mismatch
	check := func(field, storedValue, replayedValue string) {
		if storedValue != replayedValue {
			mismatches = append(mismatches, Mismatch{
				CompanyProductID: stored.CompanyProductID,
				Field:            field,
				Stored:           storedValue,
				Replayed:         replayedValue,
			})
		}
	}

	check("company_id", stored.CompanyID, replayed.CompanyID)
	check("product_id", stored.ProductID, replayed.ProductID)
	check("current_phase", string(stored.CurrentPhase), string(replayed.CurrentPhase))
	check("current_process_id", stored.CurrentProcessID, replayed.CurrentProcessID)
	check("current_process_type", string(stored.CurrentProcessType), string(replayed.CurrentProcessType))
	check("current_process_version", fmt.Sprint(stored.CurrentProcessVersion), fmt.Sprint(replayed.CurrentProcessVersion))
	check("current_stage_id", stored.CurrentStageID, replayed.CurrentStageID)
	check("current_stage_name", stored.CurrentStageName, replayed.CurrentStageName)
	check("current_stage_order", fmt.Sprint(stored.CurrentStageOrder), fmt.Sprint(replayed.CurrentStageOrder))
	check("last_completed_process_id", stored.LastCompletedProcessID, replayed.LastCompletedProcessID)
	check("last_completed_process_type", string(stored.LastCompletedProcessType), string(replayed.LastCompletedProcessType))
	check("last_completed_terminal", string(stored.LastCompletedTerminal), string(replayed.LastCompletedTerminal))
	check("last_applied_sequence", fmt.Sprint(stored.LastAppliedSeq), fmt.Sprint(replayed.LastAppliedSeq))
	return mismatches
}
