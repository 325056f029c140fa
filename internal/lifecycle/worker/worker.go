// Package worker drains the projection apply outbox on a schedule so read
// models converge even when inline apply is disabled or fails.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/projection"
)

// Store is the storage surface the worker drains: outbox claiming plus
// exactly-once projection apply.
type Store interface {
	projection.ExactlyOnceStore
	ProcessOutbox(ctx context.Context, now time.Time, limit int, apply func(context.Context, event.Event) error) (int, error)
}

// Config controls how frequently the outbox is drained.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// OutboxWorker applies queued projection events on a cron schedule.
type OutboxWorker struct {
	store  Store
	logger *zap.Logger
	cron   *cron.Cron
	cfg    Config
}

// New creates a worker with sane defaults: a 15 second interval and batches
// of 50 events. The cron schedule has whole-second resolution, so intervals
// are truncated to seconds with a floor of one second.
func New(store Store, logger *zap.Logger, cfg Config) (*OutboxWorker, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	cfg.Interval = cfg.Interval.Truncate(time.Second)
	if cfg.Interval < time.Second {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &OutboxWorker{
		store:  store,
		logger: logger,
		cfg:    cfg,
		cron:   cron.New(cron.WithSeconds()),
	}

	schedule := fmt.Sprintf("@every %ds", int(cfg.Interval.Seconds()))
	if _, err := w.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if _, err := w.Drain(ctx); err != nil {
			w.logger.Error("outbox drain failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule outbox drain every %s: %w", cfg.Interval, err)
	}

	return w, nil
}

// Start launches the cron scheduler.
func (w *OutboxWorker) Start() {
	if w == nil || w.cron == nil {
		return
	}
	w.cron.Start()
	w.logger.Info("outbox worker started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("batch_size", w.cfg.BatchSize),
	)
}

// Stop halts the scheduler and waits for an in-flight drain to finish.
func (w *OutboxWorker) Stop() {
	if w == nil || w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
	w.logger.Info("outbox worker stopped")
}

// Drain claims and applies due outbox rows until the queue is empty or the
// context ends, returning how many rows it processed.
func (w *OutboxWorker) Drain(ctx context.Context) (int, error) {
	if w == nil || w.store == nil {
		return 0, fmt.Errorf("worker store is not configured")
	}

	apply := func(ctx context.Context, evt event.Event) error {
		_, err := w.store.ApplyEventExactlyOnce(ctx, evt, projection.Apply)
		return err
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		processed, err := w.store.ProcessOutbox(ctx, time.Now().UTC(), w.cfg.BatchSize, apply)
		total += processed
		if err != nil {
			return total, fmt.Errorf("process outbox batch: %w", err)
		}
		if processed == 0 {
			if total > 0 {
				w.logger.Debug("outbox drained", zap.Int("rows", total))
			}
			return total, nil
		}
	}
}
