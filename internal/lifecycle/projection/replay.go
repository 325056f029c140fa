package projection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

const defaultBatchSize = 200

// ExactlyOnceStore runs one projection apply inside a transaction guarded by
// a per-(aggregate, seq) checkpoint.
type ExactlyOnceStore interface {
	ApplyEventExactlyOnce(ctx context.Context, evt event.Event, apply func(context.Context, event.Event, storage.Stores) error) (bool, error)
}

// Rebuilder clears and repairs derived state for full replays.
type Rebuilder interface {
	ResetProjections(ctx context.Context) error
	RebuildStageCounts(ctx context.Context) error
}

// Projector replays the journal into the read models in global order,
// tracking progress with a named catch-up checkpoint.
type Projector struct {
	// Name keys the catch-up checkpoint row.
	Name        string
	Journal     storage.EventStore
	Checkpoints storage.CheckpointStore
	Store       ExactlyOnceStore
	Logger      *zap.Logger
	// BatchSize bounds each journal page; defaults to 200.
	BatchSize int
}

func (p *Projector) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *Projector) batchSize() int {
	if p.BatchSize <= 0 {
		return defaultBatchSize
	}
	return p.BatchSize
}

// CatchUp applies every journal event after the projector's checkpoint and
// returns how many events it processed. Malformed events are logged and
// skipped so one poison event cannot wedge the replay; the outbox path owns
// quarantining them.
func (p *Projector) CatchUp(ctx context.Context) (int, error) {
	if p.Name == "" {
		return 0, fmt.Errorf("projector name is required")
	}
	if p.Journal == nil || p.Checkpoints == nil || p.Store == nil {
		return 0, fmt.Errorf("projector is not fully configured")
	}

	checkpoint, err := p.Checkpoints.GetCheckpoint(ctx, p.Name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("load projector checkpoint %q: %w", p.Name, err)
	}
	checkpoint.ProjectorName = p.Name

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		events, err := p.Journal.ListEventsAfterGlobal(ctx, checkpoint.LastGlobalID, p.batchSize())
		if err != nil {
			return processed, fmt.Errorf("list events after global %d: %w", checkpoint.LastGlobalID, err)
		}
		if len(events) == 0 {
			return processed, nil
		}

		for _, evt := range events {
			applied, err := p.Store.ApplyEventExactlyOnce(ctx, evt, Apply)
			if err != nil {
				if errors.Is(err, event.ErrMalformedPayload) {
					p.logger().Warn("skipping malformed event during catch-up",
						zap.String("company_product_id", evt.CompanyProductID),
						zap.Uint64("seq", evt.Seq),
						zap.String("event_type", string(evt.Type)),
						zap.Error(err),
					)
				} else {
					return processed, fmt.Errorf("apply event %s/%d: %w", evt.CompanyProductID, evt.Seq, err)
				}
			}
			if applied {
				processed++
			}
			checkpoint.LastGlobalID = evt.GlobalID
		}

		if err := p.Checkpoints.SaveCheckpoint(ctx, checkpoint); err != nil {
			return processed, fmt.Errorf("save projector checkpoint %q: %w", p.Name, err)
		}
	}
}

// Rebuild clears every derived table, replays the full journal from the
// start, then recomputes pipeline counts from the rebuilt read model. The
// journal is never modified.
func (p *Projector) Rebuild(ctx context.Context, rebuilder Rebuilder) (int, error) {
	if rebuilder == nil {
		return 0, fmt.Errorf("rebuilder is not configured")
	}

	if err := rebuilder.ResetProjections(ctx); err != nil {
		return 0, fmt.Errorf("reset projections: %w", err)
	}
	p.logger().Info("projection state cleared, replaying journal", zap.String("projector", p.Name))

	processed, err := p.CatchUp(ctx)
	if err != nil {
		return processed, err
	}

	if err := rebuilder.RebuildStageCounts(ctx); err != nil {
		return processed, fmt.Errorf("rebuild stage counts: %w", err)
	}
	p.logger().Info("projection rebuild complete",
		zap.String("projector", p.Name),
		zap.Int("events_applied", processed),
	)
	return processed, nil
}
