package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

// GetCheckpoint returns the catch-up checkpoint for a projector.
// Returns storage.ErrNotFound if the projector has never run.
func (s *Store) GetCheckpoint(ctx context.Context, projectorName string) (storage.Checkpoint, error) {
	projectorName = strings.TrimSpace(projectorName)
	if projectorName == "" {
		return storage.Checkpoint{}, fmt.Errorf("projector name is required")
	}

	row := s.h().QueryRowContext(ctx,
		`SELECT projector_name, last_global_id, updated_at FROM projection_checkpoints WHERE projector_name = ?`,
		projectorName,
	)
	var cp storage.Checkpoint
	var lastGlobalID, updatedAtMillis int64
	err := row.Scan(&cp.ProjectorName, &lastGlobalID, &updatedAtMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Checkpoint{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}
	cp.LastGlobalID = uint64(lastGlobalID)
	cp.UpdatedAt = fromMillis(updatedAtMillis)
	return cp, nil
}

// SaveCheckpoint upserts the catch-up checkpoint for a projector.
func (s *Store) SaveCheckpoint(ctx context.Context, cp storage.Checkpoint) error {
	cp.ProjectorName = strings.TrimSpace(cp.ProjectorName)
	if cp.ProjectorName == "" {
		return fmt.Errorf("projector name is required")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	_, err := s.h().ExecContext(ctx,
		`INSERT INTO projection_checkpoints (projector_name, last_global_id, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (projector_name) DO UPDATE SET
		     last_global_id = excluded.last_global_id,
		     updated_at = excluded.updated_at`,
		cp.ProjectorName,
		int64(cp.LastGlobalID),
		toMillis(cp.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// ResetProjections clears every derived table and checkpoint so the read
// models can be rebuilt by replaying the journal from empty state. The
// journal itself is never touched.
func (s *Store) ResetProjections(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"company_product_read_model",
		"company_product_stage_facts",
		"product_pipeline_stage_counts",
		"projection_checkpoints",
		"projection_apply_checkpoints",
		"projection_apply_outbox",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset tx: %w", err)
	}
	return nil
}
