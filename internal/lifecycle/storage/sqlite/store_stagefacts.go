package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quotaflow/lifecycle/internal/lifecycle/catalog"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

const stageFactColumns = `id, company_product_id, process_id, process_type, stage_id, stage_name, entered_at, exited_at, sequence_number`

// GetOpenStageFact returns the aggregate's stage fact with no exit time.
// Returns storage.ErrNotFound when every visit is closed.
func (s *Store) GetOpenStageFact(ctx context.Context, companyProductID string) (storage.StageFactRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.StageFactRecord{}, err
	}
	if strings.TrimSpace(companyProductID) == "" {
		return storage.StageFactRecord{}, fmt.Errorf("company product id is required")
	}

	row := s.h().QueryRowContext(ctx,
		`SELECT `+stageFactColumns+` FROM company_product_stage_facts
		 WHERE company_product_id = ? AND exited_at IS NULL`,
		companyProductID,
	)
	record, err := scanStageFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.StageFactRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.StageFactRecord{}, fmt.Errorf("get open stage fact: %w", err)
	}
	return record, nil
}

// CloseOpenStageFact stamps the aggregate's open stage fact with an exit time.
// A missing open fact is not an error; the first process entry has none.
func (s *Store) CloseOpenStageFact(ctx context.Context, companyProductID string, exitedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(companyProductID) == "" {
		return fmt.Errorf("company product id is required")
	}
	if exitedAt.IsZero() {
		exitedAt = time.Now().UTC()
	}

	_, err := s.h().ExecContext(ctx,
		`UPDATE company_product_stage_facts
		 SET exited_at = ?
		 WHERE company_product_id = ? AND exited_at IS NULL`,
		toMillis(exitedAt),
		companyProductID,
	)
	if err != nil {
		return fmt.Errorf("close open stage fact: %w", err)
	}
	return nil
}

// InsertStageFact opens a new stage visit for the aggregate.
func (s *Store) InsertStageFact(ctx context.Context, record storage.StageFactRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(record.CompanyProductID) == "" {
		return fmt.Errorf("company product id is required")
	}
	if strings.TrimSpace(record.StageID) == "" {
		return fmt.Errorf("stage id is required")
	}
	if record.Seq == 0 {
		return fmt.Errorf("sequence number is required")
	}
	if record.EnteredAt.IsZero() {
		record.EnteredAt = time.Now().UTC()
	}

	_, err := s.h().ExecContext(ctx,
		`INSERT INTO company_product_stage_facts (
		    company_product_id, process_id, process_type, stage_id, stage_name,
		    entered_at, exited_at, sequence_number
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CompanyProductID,
		record.ProcessID,
		string(record.ProcessType),
		record.StageID,
		record.StageName,
		toMillis(record.EnteredAt),
		toNullMillis(record.ExitedAt),
		int64(record.Seq),
	)
	if err != nil {
		return fmt.Errorf("insert stage fact: %w", err)
	}
	return nil
}

// ListStageFacts returns an aggregate's stage history ordered by the causing
// event sequence.
func (s *Store) ListStageFacts(ctx context.Context, companyProductID string) ([]storage.StageFactRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(companyProductID) == "" {
		return nil, fmt.Errorf("company product id is required")
	}

	rows, err := s.h().QueryContext(ctx,
		`SELECT `+stageFactColumns+` FROM company_product_stage_facts
		 WHERE company_product_id = ?
		 ORDER BY sequence_number ASC`,
		companyProductID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage facts: %w", err)
	}
	defer rows.Close()

	var records []storage.StageFactRecord
	for rows.Next() {
		record, err := scanStageFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage fact: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage facts: %w", err)
	}
	return records, nil
}

func scanStageFact(scanner interface{ Scan(...any) error }) (storage.StageFactRecord, error) {
	var (
		record      storage.StageFactRecord
		processType string
		enteredAt   int64
		exitedAt    sql.NullInt64
		seq         int64
	)
	if err := scanner.Scan(
		&record.ID,
		&record.CompanyProductID,
		&record.ProcessID,
		&processType,
		&record.StageID,
		&record.StageName,
		&enteredAt,
		&exitedAt,
		&seq,
	); err != nil {
		return storage.StageFactRecord{}, err
	}
	record.ProcessType = catalog.ProcessType(processType)
	record.EnteredAt = fromMillis(enteredAt)
	record.ExitedAt = fromNullMillis(exitedAt)
	record.Seq = uint64(seq)
	return record, nil
}
