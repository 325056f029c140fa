package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quotaflow/lifecycle/internal/lifecycle/catalog"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/phase"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

const readModelColumns = `company_product_id, company_id, product_id, current_phase,
current_process_id, current_process_type, current_process_version,
current_stage_id, current_stage_name, current_stage_order, stage_entered_at,
last_completed_process_id, last_completed_process_type, last_completed_terminal,
last_completed_at, last_applied_sequence, updated_at`

// GetReadModel returns the current-state row for one company-product.
func (s *Store) GetReadModel(ctx context.Context, companyProductID string) (storage.ReadModelRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ReadModelRecord{}, err
	}
	if strings.TrimSpace(companyProductID) == "" {
		return storage.ReadModelRecord{}, fmt.Errorf("company product id is required")
	}

	row := s.h().QueryRowContext(ctx,
		`SELECT `+readModelColumns+` FROM company_product_read_model WHERE company_product_id = ?`,
		companyProductID,
	)
	record, err := scanReadModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ReadModelRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ReadModelRecord{}, fmt.Errorf("get read model: %w", err)
	}
	return record, nil
}

// PutReadModel upserts the current-state row for one company-product.
func (s *Store) PutReadModel(ctx context.Context, record storage.ReadModelRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(record.CompanyProductID) == "" {
		return fmt.Errorf("company product id is required")
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	_, err := s.h().ExecContext(ctx,
		`INSERT INTO company_product_read_model (
		    company_product_id, company_id, product_id, current_phase,
		    current_process_id, current_process_type, current_process_version,
		    current_stage_id, current_stage_name, current_stage_order, stage_entered_at,
		    last_completed_process_id, last_completed_process_type, last_completed_terminal,
		    last_completed_at, last_applied_sequence, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_product_id) DO UPDATE SET
		    company_id = excluded.company_id,
		    product_id = excluded.product_id,
		    current_phase = excluded.current_phase,
		    current_process_id = excluded.current_process_id,
		    current_process_type = excluded.current_process_type,
		    current_process_version = excluded.current_process_version,
		    current_stage_id = excluded.current_stage_id,
		    current_stage_name = excluded.current_stage_name,
		    current_stage_order = excluded.current_stage_order,
		    stage_entered_at = excluded.stage_entered_at,
		    last_completed_process_id = excluded.last_completed_process_id,
		    last_completed_process_type = excluded.last_completed_process_type,
		    last_completed_terminal = excluded.last_completed_terminal,
		    last_completed_at = excluded.last_completed_at,
		    last_applied_sequence = excluded.last_applied_sequence,
		    updated_at = excluded.updated_at`,
		record.CompanyProductID,
		record.CompanyID,
		record.ProductID,
		string(record.CurrentPhase),
		record.CurrentProcessID,
		string(record.CurrentProcessType),
		record.CurrentProcessVersion,
		record.CurrentStageID,
		record.CurrentStageName,
		record.CurrentStageOrder,
		toNullMillis(record.StageEnteredAt),
		record.LastCompletedProcessID,
		string(record.LastCompletedProcessType),
		string(record.LastCompletedTerminal),
		toNullMillis(record.LastCompletedAt),
		int64(record.LastAppliedSeq),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put read model: %w", err)
	}
	return nil
}

// ListReadModels returns all read model rows ordered by company product id.
func (s *Store) ListReadModels(ctx context.Context) ([]storage.ReadModelRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.h().QueryContext(ctx,
		`SELECT `+readModelColumns+` FROM company_product_read_model ORDER BY company_product_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list read models: %w", err)
	}
	defer rows.Close()

	var records []storage.ReadModelRecord
	for rows.Next() {
		record, err := scanReadModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan read model: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate read models: %w", err)
	}
	return records, nil
}

func scanReadModel(scanner interface{ Scan(...any) error }) (storage.ReadModelRecord, error) {
	var (
		record           storage.ReadModelRecord
		currentPhase     string
		processType      string
		completedType    string
		completedTerm    string
		stageEnteredAt   sql.NullInt64
		lastCompletedAt  sql.NullInt64
		lastAppliedSeq   int64
		updatedAtMillis  int64
	)
	if err := scanner.Scan(
		&record.CompanyProductID,
		&record.CompanyID,
		&record.ProductID,
		&currentPhase,
		&record.CurrentProcessID,
		&processType,
		&record.CurrentProcessVersion,
		&record.CurrentStageID,
		&record.CurrentStageName,
		&record.CurrentStageOrder,
		&stageEnteredAt,
		&record.LastCompletedProcessID,
		&completedType,
		&completedTerm,
		&lastCompletedAt,
		&lastAppliedSeq,
		&updatedAtMillis,
	); err != nil {
		return storage.ReadModelRecord{}, err
	}
	record.CurrentPhase = phase.Phase(currentPhase)
	record.CurrentProcessType = catalog.ProcessType(processType)
	record.LastCompletedProcessType = catalog.ProcessType(completedType)
	record.LastCompletedTerminal = catalog.TerminalType(completedTerm)
	record.StageEnteredAt = fromNullMillis(stageEnteredAt)
	record.LastCompletedAt = fromNullMillis(lastCompletedAt)
	record.LastAppliedSeq = uint64(lastAppliedSeq)
	record.UpdatedAt = fromMillis(updatedAtMillis)
	return record, nil
}
