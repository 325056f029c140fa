package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

// AdjustStageCount applies a delta to one pipeline count cell. Counts never
// go below zero; decrementing an absent or zero cell is a no-op so replays
// of partially projected state stay safe.
func (s *Store) AdjustStageCount(ctx context.Context, productID, stageID string, delta int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(productID) == "" {
		return fmt.Errorf("product id is required")
	}
	if strings.TrimSpace(stageID) == "" {
		return fmt.Errorf("stage id is required")
	}
	if delta == 0 {
		return nil
	}

	if delta > 0 {
		_, err := s.h().ExecContext(ctx,
			`INSERT INTO product_pipeline_stage_counts (product_id, stage_id, count)
			 VALUES (?, ?, ?)
			 ON CONFLICT (product_id, stage_id) DO UPDATE SET
			     count = count + excluded.count`,
			productID, stageID, delta,
		)
		if err != nil {
			return fmt.Errorf("increment stage count: %w", err)
		}
		return nil
	}

	_, err := s.h().ExecContext(ctx,
		`UPDATE product_pipeline_stage_counts
		 SET count = MAX(0, count + ?)
		 WHERE product_id = ? AND stage_id = ?`,
		delta, productID, stageID,
	)
	if err != nil {
		return fmt.Errorf("decrement stage count: %w", err)
	}
	return nil
}

// ListStageCounts returns a product's pipeline counts ordered by stage id.
// Zero-count cells are retained so dashboards can render empty stages.
func (s *Store) ListStageCounts(ctx context.Context, productID string) ([]storage.StageCountRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(productID) == "" {
		return nil, fmt.Errorf("product id is required")
	}

	rows, err := s.h().QueryContext(ctx,
		`SELECT product_id, stage_id, count FROM product_pipeline_stage_counts
		 WHERE product_id = ?
		 ORDER BY stage_id`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage counts: %w", err)
	}
	defer rows.Close()

	var records []storage.StageCountRecord
	for rows.Next() {
		var record storage.StageCountRecord
		if err := rows.Scan(&record.ProductID, &record.StageID, &record.Count); err != nil {
			return nil, fmt.Errorf("scan stage count: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage counts: %w", err)
	}
	return records, nil
}

// RebuildStageCounts recomputes the whole counts table from the read model
// rows in one transaction. Used by the rebuild tool and as a repair path
// when counts are suspected to have drifted.
func (s *Store) RebuildStageCounts(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild counts tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM product_pipeline_stage_counts`); err != nil {
		return fmt.Errorf("clear stage counts: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO product_pipeline_stage_counts (product_id, stage_id, count)
		 SELECT product_id, current_stage_id, COUNT(*)
		 FROM company_product_read_model
		 WHERE current_stage_id != '' AND product_id != ''
		 GROUP BY product_id, current_stage_id`,
	); err != nil {
		return fmt.Errorf("recompute stage counts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild counts tx: %w", err)
	}
	return nil
}
