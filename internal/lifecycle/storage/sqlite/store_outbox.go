package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

const (
	outboxDeadLetterThreshold = 8
	outboxProcessingLease     = 2 * time.Minute
)

func enqueueOutbox(ctx context.Context, tx *sql.Tx, evt event.Event) error {
	enqueuedAt := time.Now().UTC()
	const enqueueSQL = `
INSERT INTO projection_apply_outbox (
    company_product_id, seq, event_type, status, attempt_count, next_attempt_at, last_error, updated_at
) VALUES (?, ?, ?, 'pending', 0, ?, '', ?)
ON CONFLICT(company_product_id, seq) DO NOTHING
`
	if _, err := tx.ExecContext(
		ctx,
		enqueueSQL,
		evt.CompanyProductID,
		int64(evt.Seq),
		string(evt.Type),
		toMillis(enqueuedAt),
		toMillis(enqueuedAt),
	); err != nil {
		return fmt.Errorf("enqueue projection apply outbox: %w", err)
	}
	return nil
}

type outboxRow struct {
	CompanyProductID string
	Seq              uint64
	EventType        string
	AttemptCount     int
}

// OutboxSummary reports outbox depth and oldest retry-eligible row.
type OutboxSummary struct {
	PendingCount     int
	ProcessingCount  int
	FailedCount      int
	DeadCount        int
	OldestPendingID  string
	OldestPendingSeq uint64
	OldestPendingAt  time.Time
}

// OutboxEntry describes one outbox row for inspection tooling.
type OutboxEntry struct {
	CompanyProductID string
	Seq              uint64
	EventType        event.Type
	Status           string
	AttemptCount     int
	NextAttemptAt    time.Time
	LastError        string
	UpdatedAt        time.Time
}

// ApplyEventExactlyOnce applies one projection event inside a transaction and
// records a per-(aggregate, seq) checkpoint to dedupe retries. The apply
// callback receives a transaction-scoped store so every read-model mutation
// for the event commits atomically with the checkpoint.
//
// Returns (false, nil) when the event was already applied.
func (s *Store) ApplyEventExactlyOnce(
	ctx context.Context,
	evt event.Event,
	apply func(context.Context, event.Event, storage.Stores) error,
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if apply == nil {
		return false, fmt.Errorf("projection apply callback is required")
	}
	if strings.TrimSpace(evt.CompanyProductID) == "" {
		return false, fmt.Errorf("company product id is required")
	}
	if evt.Seq == 0 {
		return false, fmt.Errorf("event sequence must be greater than zero")
	}

	const (
		maxBusyRetries = 8
		retryBaseDelay = 10 * time.Millisecond
	)

	waitForRetry := func(attempt int) error {
		delay := time.Duration(attempt+1) * retryBaseDelay
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}

	var lastBusyErr error
	for attempt := 0; ; attempt++ {
		tx, err := s.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			if isBusyError(err) && attempt < maxBusyRetries {
				lastBusyErr = err
				if waitErr := waitForRetry(attempt); waitErr != nil {
					return false, waitErr
				}
				continue
			}
			return false, fmt.Errorf("begin projection apply tx: %w", err)
		}

		applied, retry, err := func() (bool, bool, error) {
			defer tx.Rollback()

			checkpointResult, err := tx.ExecContext(
				ctx,
				`INSERT OR IGNORE INTO projection_apply_checkpoints (company_product_id, seq, event_type, applied_at)
				 VALUES (?, ?, ?, ?)`,
				evt.CompanyProductID,
				int64(evt.Seq),
				string(evt.Type),
				toMillis(time.Now().UTC()),
			)
			if err != nil {
				if isBusyError(err) {
					lastBusyErr = err
					return false, true, nil
				}
				return false, false, fmt.Errorf("reserve projection apply checkpoint %s/%d: %w", evt.CompanyProductID, evt.Seq, err)
			}

			rowsAffected, err := checkpointResult.RowsAffected()
			if err != nil {
				return false, false, fmt.Errorf("inspect projection apply checkpoint %s/%d: %w", evt.CompanyProductID, evt.Seq, err)
			}
			if rowsAffected == 0 {
				return false, false, nil
			}

			if err := apply(ctx, evt, s.withTx(tx)); err != nil {
				return false, false, err
			}

			if err := tx.Commit(); err != nil {
				if isBusyError(err) {
					lastBusyErr = err
					return false, true, nil
				}
				return false, false, fmt.Errorf("commit projection apply tx: %w", err)
			}

			return true, false, nil
		}()
		if retry {
			if attempt < maxBusyRetries {
				if waitErr := waitForRetry(attempt); waitErr != nil {
					return false, waitErr
				}
				continue
			}
			if lastBusyErr != nil {
				return false, fmt.Errorf("projection apply checkpoint %s/%d remained busy: %w", evt.CompanyProductID, evt.Seq, lastBusyErr)
			}
			return false, fmt.Errorf("projection apply checkpoint %s/%d remained busy", evt.CompanyProductID, evt.Seq)
		}
		return applied, err
	}
}

// ProcessOutbox claims due outbox rows and applies projections through the
// provided callback. Successful rows are removed; transient failures retry
// with exponential backoff; malformed events are quarantined directly to the
// dead-letter state so they never block the queue.
func (s *Store) ProcessOutbox(
	ctx context.Context,
	now time.Time,
	limit int,
	apply func(context.Context, event.Event) error,
) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if apply == nil {
		return 0, fmt.Errorf("projection apply callback is required")
	}
	if limit <= 0 {
		return 0, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rows, err := s.claimOutboxDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, row := range rows {
		storedEvent, loadErr := s.GetEventBySeq(ctx, row.CompanyProductID, row.Seq)
		if loadErr != nil {
			attempt := row.AttemptCount + 1
			nextAttempt := now.Add(outboxRetryBackoff(attempt))
			if err := s.markOutboxRetry(ctx, row, now, attempt, nextAttempt, fmt.Sprintf("load event: %v", loadErr)); err != nil {
				return processed, err
			}
			processed++
			continue
		}

		if applyErr := apply(ctx, storedEvent); applyErr != nil {
			if errors.Is(applyErr, event.ErrMalformedPayload) {
				if err := s.quarantineOutboxRow(ctx, row, now, applyErr.Error()); err != nil {
					return processed, err
				}
				processed++
				continue
			}
			attempt := row.AttemptCount + 1
			nextAttempt := now.Add(outboxRetryBackoff(attempt))
			if err := s.markOutboxRetry(ctx, row, now, attempt, nextAttempt, fmt.Sprintf("apply projection: %v", applyErr)); err != nil {
				return processed, err
			}
			processed++
			continue
		}

		if err := s.completeOutboxRow(ctx, row); err != nil {
			return processed, err
		}
		processed++
	}

	return processed, nil
}

func (s *Store) claimOutboxDue(ctx context.Context, now time.Time, limit int) ([]outboxRow, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin outbox claim tx: %w", err)
	}
	defer tx.Rollback()

	staleBefore := now.Add(-outboxProcessingLease)
	rows, err := tx.QueryContext(
		ctx,
		`SELECT company_product_id, seq, event_type, attempt_count
		 FROM projection_apply_outbox
		 WHERE (
			 status IN ('pending', 'failed') AND next_attempt_at <= ?
		 ) OR (
			 status = 'processing' AND updated_at <= ?
		 )
		 ORDER BY next_attempt_at, seq
		 LIMIT ?`,
		toMillis(now),
		toMillis(staleBefore),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due outbox rows: %w", err)
	}
	defer rows.Close()

	candidates := make([]outboxRow, 0, limit)
	for rows.Next() {
		var row outboxRow
		var seq int64
		if err := rows.Scan(&row.CompanyProductID, &seq, &row.EventType, &row.AttemptCount); err != nil {
			return nil, fmt.Errorf("scan due outbox row: %w", err)
		}
		row.Seq = uint64(seq)
		candidates = append(candidates, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due outbox rows: %w", err)
	}

	claimed := make([]outboxRow, 0, len(candidates))
	for _, candidate := range candidates {
		result, err := tx.ExecContext(
			ctx,
			`UPDATE projection_apply_outbox
			 SET status = 'processing', updated_at = ?
			 WHERE company_product_id = ? AND seq = ?
			   AND (
			   	(status IN ('pending', 'failed') AND next_attempt_at <= ?)
			   	OR (status = 'processing' AND updated_at <= ?)
			   )`,
			toMillis(now),
			candidate.CompanyProductID,
			int64(candidate.Seq),
			toMillis(now),
			toMillis(staleBefore),
		)
		if err != nil {
			return nil, fmt.Errorf("claim outbox row %s/%d: %w", candidate.CompanyProductID, candidate.Seq, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim outbox row rows affected %s/%d: %w", candidate.CompanyProductID, candidate.Seq, err)
		}
		if affected == 1 {
			claimed = append(claimed, candidate)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit outbox claim tx: %w", err)
	}
	return claimed, nil
}

func (s *Store) markOutboxRetry(ctx context.Context, row outboxRow, now time.Time, attempt int, nextAttempt time.Time, lastError string) error {
	status := "failed"
	if attempt >= outboxDeadLetterThreshold {
		status = "dead"
	}
	return s.transitionOutboxRow(ctx, row, status, attempt, nextAttempt, lastError, now)
}

// quarantineOutboxRow moves a malformed event straight to the dead-letter
// state so the queue keeps draining behind it.
func (s *Store) quarantineOutboxRow(ctx context.Context, row outboxRow, now time.Time, lastError string) error {
	return s.transitionOutboxRow(ctx, row, "dead", row.AttemptCount+1, now, lastError, now)
}

func (s *Store) transitionOutboxRow(ctx context.Context, row outboxRow, status string, attempt int, nextAttempt time.Time, lastError string, now time.Time) error {
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE projection_apply_outbox
		 SET status = ?,
		     attempt_count = ?,
		     next_attempt_at = ?,
		     last_error = ?,
		     updated_at = ?
		 WHERE company_product_id = ? AND seq = ? AND status = 'processing'`,
		status,
		attempt,
		toMillis(nextAttempt),
		lastError,
		toMillis(now),
		row.CompanyProductID,
		int64(row.Seq),
	)
	if err != nil {
		return fmt.Errorf("transition outbox row %s/%d: %w", row.CompanyProductID, row.Seq, err)
	}
	return ensureOutboxSingleRow(result, row, "transition outbox row", "updated")
}

func (s *Store) completeOutboxRow(ctx context.Context, row outboxRow) error {
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM projection_apply_outbox
		 WHERE company_product_id = ? AND seq = ? AND status = 'processing'`,
		row.CompanyProductID,
		int64(row.Seq),
	)
	if err != nil {
		return fmt.Errorf("complete outbox row %s/%d: %w", row.CompanyProductID, row.Seq, err)
	}
	return ensureOutboxSingleRow(result, row, "complete outbox row", "deleted")
}

func ensureOutboxSingleRow(result sql.Result, row outboxRow, operation, verb string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected %s/%d: %w", operation, row.CompanyProductID, row.Seq, err)
	}
	if affected != 1 {
		return fmt.Errorf("%s %s/%d: expected 1 row %s, got %d", operation, row.CompanyProductID, row.Seq, verb, affected)
	}
	return nil
}

// GetOutboxSummary returns queue depth by status and the oldest pending row.
func (s *Store) GetOutboxSummary(ctx context.Context) (OutboxSummary, error) {
	if err := ctx.Err(); err != nil {
		return OutboxSummary{}, err
	}
	if s == nil || s.sqlDB == nil {
		return OutboxSummary{}, fmt.Errorf("storage is not configured")
	}

	summary := OutboxSummary{}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT status, COUNT(*)
		 FROM projection_apply_outbox
		 GROUP BY status`,
	)
	if err != nil {
		return OutboxSummary{}, fmt.Errorf("query outbox summary counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return OutboxSummary{}, fmt.Errorf("scan outbox summary count: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(status)) {
		case "pending":
			summary.PendingCount = count
		case "processing":
			summary.ProcessingCount = count
		case "failed":
			summary.FailedCount = count
		case "dead":
			summary.DeadCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return OutboxSummary{}, fmt.Errorf("iterate outbox summary counts: %w", err)
	}

	var (
		companyProductID string
		seq              int64
		nextAttempt      int64
	)
	err = s.sqlDB.QueryRowContext(
		ctx,
		`SELECT company_product_id, seq, next_attempt_at
		 FROM projection_apply_outbox
		 WHERE status IN ('pending', 'failed')
		 ORDER BY next_attempt_at ASC, seq ASC
		 LIMIT 1`,
	).Scan(&companyProductID, &seq, &nextAttempt)
	if err == nil {
		summary.OldestPendingID = companyProductID
		summary.OldestPendingSeq = uint64(seq)
		summary.OldestPendingAt = fromMillis(nextAttempt)
		return summary, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return summary, nil
	}
	return OutboxSummary{}, fmt.Errorf("query oldest pending outbox row: %w", err)
}

// ListOutboxRows lists outbox rows optionally filtered by status.
func (s *Store) ListOutboxRows(ctx context.Context, status string, limit int) ([]OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return []OutboxEntry{}, nil
	}

	normalizedStatus, err := normalizeOutboxStatus(status)
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if normalizedStatus == "" {
		rows, err = s.sqlDB.QueryContext(
			ctx,
			`SELECT company_product_id, seq, event_type, status, attempt_count, next_attempt_at, last_error, updated_at
			 FROM projection_apply_outbox
			 ORDER BY next_attempt_at ASC, seq ASC
			 LIMIT ?`,
			limit,
		)
	} else {
		rows, err = s.sqlDB.QueryContext(
			ctx,
			`SELECT company_product_id, seq, event_type, status, attempt_count, next_attempt_at, last_error, updated_at
			 FROM projection_apply_outbox
			 WHERE status = ?
			 ORDER BY next_attempt_at ASC, seq ASC
			 LIMIT ?`,
			normalizedStatus,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list outbox rows: %w", err)
	}
	defer rows.Close()

	entries := make([]OutboxEntry, 0, limit)
	for rows.Next() {
		var (
			entry       OutboxEntry
			seq         int64
			nextAttempt int64
			updatedAt   int64
			lastError   sql.NullString
		)
		if err := rows.Scan(
			&entry.CompanyProductID,
			&seq,
			&entry.EventType,
			&entry.Status,
			&entry.AttemptCount,
			&nextAttempt,
			&lastError,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		entry.Seq = uint64(seq)
		entry.NextAttemptAt = fromMillis(nextAttempt)
		entry.UpdatedAt = fromMillis(updatedAt)
		if lastError.Valid {
			entry.LastError = lastError.String
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return entries, nil
}

func normalizeOutboxStatus(status string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(status))
	if normalized == "" {
		return "", nil
	}
	switch normalized {
	case "pending", "processing", "failed", "dead":
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid outbox status %q", status)
	}
}

// RequeueDeadOutboxRows transitions up to limit dead outbox rows back to
// pending in deterministic retry order, returning how many moved.
func (s *Store) RequeueDeadOutboxRows(ctx context.Context, limit int, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return 0, fmt.Errorf("outbox requeue limit must be greater than zero")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`WITH to_requeue AS (
			SELECT company_product_id, seq
			FROM projection_apply_outbox
			WHERE status = 'dead'
			ORDER BY next_attempt_at ASC, seq ASC
			LIMIT ?
		)
		UPDATE projection_apply_outbox
		SET status = 'pending',
		    attempt_count = 0,
		    next_attempt_at = ?,
		    last_error = '',
		    updated_at = ?
		WHERE status = 'dead'
		  AND EXISTS (
			  SELECT 1
			  FROM to_requeue
			  WHERE to_requeue.company_product_id = projection_apply_outbox.company_product_id
			    AND to_requeue.seq = projection_apply_outbox.seq
		  )`,
		limit,
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue dead outbox rows: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue dead outbox rows affected: %w", err)
	}
	return int(affected), nil
}

func outboxRetryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	backoff := time.Second << (attempt - 1)
	if backoff > 5*time.Minute {
		return 5 * time.Minute
	}
	return backoff
}
