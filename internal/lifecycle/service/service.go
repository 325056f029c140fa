package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/quotaflow/lifecycle/internal/lifecycle/catalog"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/command"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/projection"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

var tracer = otel.Tracer("lifecycle/service")

// Result is the uniform outcome of one lifecycle command.
type Result struct {
	// Success is true when the command's events committed.
	Success bool
	// Events holds the committed events with storage-assigned sequences.
	Events []event.Event
	// Rejections holds domain reasons the command was declined.
	Rejections []command.Rejection
}

// Identity names the aggregate a command targets. CompanyID and ProductID are
// denormalized onto every emitted event so projections stay catalog-free.
type Identity struct {
	CompanyProductID string
	CompanyID        string
	ProductID        string
}

func (id Identity) validate() error {
	if strings.TrimSpace(id.CompanyProductID) == "" {
		return fmt.Errorf("company product id is required")
	}
	if strings.TrimSpace(id.CompanyID) == "" {
		return fmt.Errorf("company id is required")
	}
	if strings.TrimSpace(id.ProductID) == "" {
		return fmt.Errorf("product id is required")
	}
	return nil
}

// Service validates and executes lifecycle commands against the journal.
type Service struct {
	Journal    storage.EventStore
	ReadModels storage.ReadModelStore
	Catalog    catalog.Catalog
	// Projection, when set, applies freshly committed events eagerly so read
	// models update without waiting for the outbox worker. Inline apply
	// failures are logged only; the outbox retries them.
	Projection projection.ExactlyOnceStore
	Logger     *zap.Logger
	// Clock supplies event timestamps. Defaults to time.Now.
	Clock func() time.Time
}

func (s *Service) ready() error {
	if s == nil {
		return fmt.Errorf("service is not configured")
	}
	if s.Journal == nil {
		return fmt.Errorf("journal is not configured")
	}
	if s.ReadModels == nil {
		return fmt.Errorf("read model store is not configured")
	}
	if s.Catalog == nil {
		return fmt.Errorf("catalog is not configured")
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func startSpan(ctx context.Context, name string, id Identity) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("lifecycle.company_product_id", id.CompanyProductID),
		attribute.String("lifecycle.product_id", id.ProductID),
	))
}

// loadReadModel returns the aggregate's read model row and whether it exists.
func (s *Service) loadReadModel(ctx context.Context, companyProductID string) (storage.ReadModelRecord, bool, error) {
	record, err := s.ReadModels.GetReadModel(ctx, companyProductID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ReadModelRecord{}, false, nil
	}
	if err != nil {
		return storage.ReadModelRecord{}, false, fmt.Errorf("load read model %s: %w", companyProductID, err)
	}
	return record, true, nil
}

func normalizeActor(actor event.Actor) event.Actor {
	if actor.Type == "" {
		actor.Type = event.ActorTypeSystem
	}
	return actor
}

func (s *Service) newEvent(id Identity, t event.Type, actor event.Actor, requestID string, occurredAt time.Time, payload any) (event.Event, error) {
	raw, err := event.MarshalPayload(payload)
	if err != nil {
		return event.Event{}, err
	}
	return event.Event{
		CompanyProductID: id.CompanyProductID,
		CompanyID:        id.CompanyID,
		ProductID:        id.ProductID,
		Type:             t,
		RequestID:        requestID,
		ActorType:        actor.Type,
		ActorID:          actor.ID,
		OccurredAt:       occurredAt,
		PayloadJSON:      raw,
	}, nil
}

func reject(code, format string, args ...any) Result {
	return Result{Rejections: []command.Rejection{{Code: code, Message: fmt.Sprintf(format, args...)}}}
}

func fromDecision(d command.Decision) Result {
	return Result{Rejections: d.Rejections}
}

// commit appends the batch with optimistic concurrency and runs the inline
// projection apply. A stale expected sequence surfaces as a conflict
// rejection with zero events written.
func (s *Service) commit(ctx context.Context, span trace.Span, id Identity, expectedSeq uint64, events []event.Event) (Result, error) {
	appended, err := s.Journal.AppendEvents(ctx, id.CompanyProductID, expectedSeq, events)
	if errors.Is(err, storage.ErrConcurrencyConflict) {
		span.SetAttributes(attribute.String("lifecycle.rejection", command.CodeConcurrencyConflict))
		return reject(command.CodeConcurrencyConflict, "%v", err), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("append events for %s: %w", id.CompanyProductID, err)
	}

	span.SetAttributes(attribute.Int("lifecycle.events_committed", len(appended)))
	s.applyInline(ctx, appended)
	return Result{Success: true, Events: appended}, nil
}

func (s *Service) applyInline(ctx context.Context, events []event.Event) {
	if s.Projection == nil {
		return
	}
	for _, evt := range events {
		if _, err := s.Projection.ApplyEventExactlyOnce(ctx, evt, projection.Apply); err != nil {
			s.logger().Warn("inline projection apply failed, outbox will retry",
				zap.String("company_product_id", evt.CompanyProductID),
				zap.Uint64("seq", evt.Seq),
				zap.String("event_type", string(evt.Type)),
				zap.Error(err),
			)
			return
		}
	}
}
