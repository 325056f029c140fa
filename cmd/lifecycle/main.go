// Command lifecycle operates the lifecycle journal and its read models:
// running the outbox worker, rebuilding projections from the journal,
// verifying replay parity, validating catalog definitions, and inspecting
// the projection apply outbox.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/quotaflow/lifecycle/internal/lifecycle/catalog"
	"github.com/quotaflow/lifecycle/internal/lifecycle/projection"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage/sqlite"
	"github.com/quotaflow/lifecycle/internal/lifecycle/worker"
	"github.com/quotaflow/lifecycle/internal/platform/config"
	"github.com/quotaflow/lifecycle/internal/platform/logging"
	platformotel "github.com/quotaflow/lifecycle/internal/platform/otel"
)

const projectorName = "lifecycle"

type appConfig struct {
	DBPath         string        `env:"DB_PATH" envDefault:"lifecycle.db"`
	CatalogPath    string        `env:"CATALOG_PATH" envDefault:"catalog.yaml"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogEncoding    string        `env:"LOG_ENCODING" envDefault:"json"`
	WorkerInterval time.Duration `env:"WORKER_INTERVAL" envDefault:"15s"`
	WorkerBatch    int           `env:"WORKER_BATCH_SIZE" envDefault:"50"`
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: lifecycle <command>

commands:
  worker                 run the projection outbox worker until interrupted
  rebuild                clear read models and replay the full journal
  verify                 compare read models against an in-memory replay
  catalog [path]         validate a catalog definition file
  outbox summary         show outbox queue depth by status
  outbox list [status]   list outbox rows, optionally filtered by status
  outbox requeue [n]     move up to n dead rows back to pending (default 10)`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	// Missing .env files are fine; the environment wins either way.
	_ = godotenv.Load()

	var cfg appConfig
	if err := config.ParseEnvPrefixed("LIFECYCLE_", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "lifecycle: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		fmt.Fprintf(os.Stderr, "lifecycle: build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := platformotel.Setup(ctx, "lifecycle")
	if err != nil {
		logger.Warn("tracing setup failed, continuing without traces", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(shutdownCtx)
		}()
	}

	if err := run(ctx, cfg, logger, os.Args[1:]); err != nil {
		logger.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, logger *zap.Logger, args []string) error {
	switch args[0] {
	case "worker":
		return runWorker(ctx, cfg, logger)
	case "rebuild":
		return runRebuild(ctx, cfg, logger)
	case "verify":
		return runVerify(ctx, cfg)
	case "catalog":
		path := cfg.CatalogPath
		if len(args) > 1 {
			path = args[1]
		}
		return runCatalogCheck(path, logger)
	case "outbox":
		return runOutbox(ctx, cfg, args[1:])
	default:
		usage()
		return nil
	}
}

func runWorker(ctx context.Context, cfg appConfig, logger *zap.Logger) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	w, err := worker.New(store, logger, worker.Config{
		Interval:  cfg.WorkerInterval,
		BatchSize: cfg.WorkerBatch,
	})
	if err != nil {
		return err
	}
	w.Start()
	defer w.Stop()

	<-ctx.Done()
	return nil
}

func runRebuild(ctx context.Context, cfg appConfig, logger *zap.Logger) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	projector := &projection.Projector{
		Name:        projectorName,
		Journal:     store,
		Checkpoints: store,
		Store:       store,
		Logger:      logger,
	}
	applied, err := projector.Rebuild(ctx, store)
	if err != nil {
		return err
	}
	fmt.Printf("rebuilt read models from %d events\n", applied)
	return nil
}

func runVerify(ctx context.Context, cfg appConfig) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	mismatches, err := projection.VerifyReplayParity(ctx, store, store)
	if err != nil {
		return err
	}
	if len(mismatches) == 0 {
		fmt.Println("read models match journal replay")
		return nil
	}
	for _, mismatch := range mismatches {
		fmt.Println(mismatch)
	}
	return fmt.Errorf("%d mismatches between read models and replay", len(mismatches))
}

func runCatalogCheck(path string, logger *zap.Logger) error {
	snapshot, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}
	logger.Info("catalog definition is valid",
		zap.String("path", path),
		zap.Int("processes", snapshot.Len()),
	)
	return nil
}

func runOutbox(ctx context.Context, cfg appConfig, args []string) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	sub := "summary"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "summary":
		summary, err := store.GetOutboxSummary(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pending=%d processing=%d failed=%d dead=%d\n",
			summary.PendingCount, summary.ProcessingCount, summary.FailedCount, summary.DeadCount)
		if summary.OldestPendingID != "" {
			fmt.Printf("oldest pending: %s/%d due %s\n",
				summary.OldestPendingID, summary.OldestPendingSeq, summary.OldestPendingAt.Format(time.RFC3339))
		}
		return nil
	case "list":
		status := ""
		if len(args) > 1 {
			status = args[1]
		}
		entries, err := store.ListOutboxRows(ctx, status, 100)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			fmt.Printf("%s/%d %s %s attempts=%d due=%s %s\n",
				entry.CompanyProductID, entry.Seq, entry.EventType, entry.Status,
				entry.AttemptCount, entry.NextAttemptAt.Format(time.RFC3339), entry.LastError)
		}
		return nil
	case "requeue":
		limit := 10
		if len(args) > 1 {
			parsed, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid requeue limit %q", args[1])
			}
			limit = parsed
		}
		moved, err := store.RequeueDeadOutboxRows(ctx, limit, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Printf("requeued %d dead outbox rows\n", moved)
		return nil
	default:
		usage()
		return nil
	}
}
