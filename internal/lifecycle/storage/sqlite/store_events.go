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

// AppendEvents atomically appends a command's events to the journal.
//
// Sequence numbers are allocated contiguously starting at expectedSeq+1. When
// the aggregate's committed sequence differs from expectedSeq the append is
// rejected with storage.ErrConcurrencyConflict and nothing is written. When
// the outbox is enabled, one projection-apply row is enqueued per event in
// the same transaction.
func (s *Store) AppendEvents(ctx context.Context, companyProductID string, expectedSeq uint64, events []event.Event) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	companyProductID = strings.TrimSpace(companyProductID)
	if companyProductID == "" {
		return nil, fmt.Errorf("company product id is required")
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("at least one event is required")
	}

	// Validate all events before opening a transaction.
	validated := make([]event.Event, len(events))
	for i, evt := range events {
		if evt.CompanyProductID != companyProductID {
			return nil, fmt.Errorf("event %d: aggregate mismatch %q != %q", i, evt.CompanyProductID, companyProductID)
		}
		if err := event.ValidateForAppend(evt); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		if evt.OccurredAt.IsZero() {
			evt.OccurredAt = time.Now().UTC()
		}
		evt.OccurredAt = evt.OccurredAt.UTC().Truncate(time.Millisecond)
		validated[i] = evt
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO event_seq (company_product_id, next_seq) VALUES (?, 1)`,
		companyProductID,
	); err != nil {
		return nil, fmt.Errorf("init event seq: %w", err)
	}

	var nextSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT next_seq FROM event_seq WHERE company_product_id = ?`,
		companyProductID,
	).Scan(&nextSeq); err != nil {
		return nil, fmt.Errorf("get event seq: %w", err)
	}

	currentSeq := uint64(nextSeq - 1)
	if currentSeq != expectedSeq {
		return nil, &storage.ConflictError{
			CompanyProductID: companyProductID,
			ExpectedSeq:      expectedSeq,
			ActualSeq:        currentSeq,
		}
	}

	stored := make([]event.Event, len(validated))
	for i, evt := range validated {
		evt.Seq = expectedSeq + 1 + uint64(i)

		result, err := tx.ExecContext(ctx,
			`INSERT INTO events (
			    aggregate_type, company_product_id, seq, event_type,
			    company_id, product_id, request_id, actor_type, actor_id,
			    occurred_at, payload_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			event.AggregateTypeCompanyProduct,
			evt.CompanyProductID,
			int64(evt.Seq),
			string(evt.Type),
			evt.CompanyID,
			evt.ProductID,
			evt.RequestID,
			string(evt.ActorType),
			evt.ActorID,
			toMillis(evt.OccurredAt),
			evt.PayloadJSON,
		)
		if err != nil {
			// A unique violation on (aggregate, seq) means another writer
			// committed between our seq read and this insert.
			if isConstraintError(err) {
				return nil, &storage.ConflictError{
					CompanyProductID: companyProductID,
					ExpectedSeq:      expectedSeq,
					ActualSeq:        evt.Seq,
				}
			}
			return nil, fmt.Errorf("append event %d: %w", i, err)
		}

		globalID, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("event %d global id: %w", i, err)
		}
		evt.GlobalID = uint64(globalID)

		if s.outboxEnabled {
			if err := enqueueOutbox(ctx, tx, evt); err != nil {
				return nil, err
			}
		}

		stored[i] = evt
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE event_seq SET next_seq = ? WHERE company_product_id = ?`,
		int64(expectedSeq)+int64(len(validated))+1,
		companyProductID,
	); err != nil {
		return nil, fmt.Errorf("update event seq: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return stored, nil
}

const eventColumns = `global_id, company_product_id, seq, event_type, company_id, product_id, request_id, actor_type, actor_id, occurred_at, payload_json`

func scanEvent(scanner interface{ Scan(...any) error }) (event.Event, error) {
	var (
		evt        event.Event
		globalID   int64
		seq        int64
		eventType  string
		actorType  string
		occurredAt int64
	)
	if err := scanner.Scan(
		&globalID,
		&evt.CompanyProductID,
		&seq,
		&eventType,
		&evt.CompanyID,
		&evt.ProductID,
		&evt.RequestID,
		&actorType,
		&evt.ActorID,
		&occurredAt,
		&evt.PayloadJSON,
	); err != nil {
		return event.Event{}, err
	}
	evt.GlobalID = uint64(globalID)
	evt.Seq = uint64(seq)
	evt.Type = event.Type(eventType)
	evt.ActorType = event.ActorType(actorType)
	evt.OccurredAt = fromMillis(occurredAt)
	return evt, nil
}

// ListEvents returns an aggregate's events ordered by sequence ascending.
func (s *Store) ListEvents(ctx context.Context, companyProductID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(companyProductID) == "" {
		return nil, fmt.Errorf("company product id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.h().QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE company_product_id = ? AND seq > ?
		 ORDER BY seq ASC LIMIT ?`,
		companyProductID, int64(afterSeq), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListEventsAfterGlobal returns events across aggregates ordered by global id.
func (s *Store) ListEventsAfterGlobal(ctx context.Context, afterGlobalID uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.h().QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE global_id > ?
		 ORDER BY global_id ASC LIMIT ?`,
		int64(afterGlobalID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events after global: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// GetEventBySeq retrieves a specific event by sequence number.
func (s *Store) GetEventBySeq(ctx context.Context, companyProductID string, seq uint64) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if strings.TrimSpace(companyProductID) == "" {
		return event.Event{}, fmt.Errorf("company product id is required")
	}

	row := s.h().QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE company_product_id = ? AND seq = ?`,
		companyProductID, int64(seq),
	)
	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, storage.ErrNotFound
	}
	if err != nil {
		return event.Event{}, fmt.Errorf("get event by seq: %w", err)
	}
	return evt, nil
}

// GetLatestSeq returns the highest committed sequence for an aggregate.
func (s *Store) GetLatestSeq(ctx context.Context, companyProductID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(companyProductID) == "" {
		return 0, fmt.Errorf("company product id is required")
	}

	var nextSeq int64
	err := s.h().QueryRowContext(ctx,
		`SELECT next_seq FROM event_seq WHERE company_product_id = ?`,
		companyProductID,
	).Scan(&nextSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get latest seq: %w", err)
	}
	return uint64(nextSeq - 1), nil
}
