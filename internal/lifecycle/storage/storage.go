package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quotaflow/lifecycle/internal/lifecycle/catalog"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/phase"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrConcurrencyConflict indicates an append with a stale expected sequence.
// The caller must re-read state and retry the whole command.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ConflictError carries the sequence numbers involved in a rejected append.
type ConflictError struct {
	CompanyProductID string
	ExpectedSeq      uint64
	ActualSeq        uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("append to %s: expected seq %d, journal is at %d",
		e.CompanyProductID, e.ExpectedSeq, e.ActualSeq)
}

// Is lets callers match ConflictError with errors.Is(err, ErrConcurrencyConflict).
func (e *ConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// ReadModelRecord is the current-state snapshot row for one company-product.
type ReadModelRecord struct {
	CompanyProductID      string
	CompanyID             string
	ProductID             string
	CurrentPhase          phase.Phase
	CurrentProcessID      string
	CurrentProcessType    catalog.ProcessType
	CurrentProcessVersion int
	CurrentStageID        string
	CurrentStageName      string
	CurrentStageOrder     int
	StageEnteredAt        *time.Time
	// Completion metadata recorded by process_completed events.
	LastCompletedProcessID   string
	LastCompletedProcessType catalog.ProcessType
	LastCompletedTerminal    catalog.TerminalType
	LastCompletedAt          *time.Time
	// LastAppliedSeq is the projection watermark for this aggregate.
	LastAppliedSeq uint64
	UpdatedAt      time.Time
}

// StageFactRecord is one stage visit in the full cross-process history.
type StageFactRecord struct {
	ID               int64
	CompanyProductID string
	ProcessID        string
	ProcessType      catalog.ProcessType
	StageID          string
	StageName        string
	EnteredAt        time.Time
	// ExitedAt is nil while the visit is current. At most one open row may
	// exist per aggregate.
	ExitedAt *time.Time
	// Seq ties the fact to the event that opened it.
	Seq uint64
}

// StageCountRecord is one cell of the per-product pipeline dashboard counts.
type StageCountRecord struct {
	ProductID string
	StageID   string
	Count     int
}

// Checkpoint tracks the last globally-ordered event a projector has applied.
type Checkpoint struct {
	ProjectorName string
	LastGlobalID  uint64
	UpdatedAt     time.Time
}

// EventStore appends and reads the append-only company-product journal.
type EventStore interface {
	// AppendEvents appends a command's events atomically. expectedSeq is the
	// highest sequence the caller observed; a mismatch returns
	// ErrConcurrencyConflict and writes nothing.
	AppendEvents(ctx context.Context, companyProductID string, expectedSeq uint64, events []event.Event) ([]event.Event, error)
	// ListEvents returns an aggregate's events ordered by sequence ascending.
	ListEvents(ctx context.Context, companyProductID string, afterSeq uint64, limit int) ([]event.Event, error)
	// ListEventsAfterGlobal returns events across aggregates ordered by
	// global id, for projector catch-up.
	ListEventsAfterGlobal(ctx context.Context, afterGlobalID uint64, limit int) ([]event.Event, error)
	// GetLatestSeq returns the highest committed sequence for an aggregate,
	// zero when the aggregate has no events.
	GetLatestSeq(ctx context.Context, companyProductID string) (uint64, error)
}

// ReadModelStore persists the current-state read model rows.
type ReadModelStore interface {
	GetReadModel(ctx context.Context, companyProductID string) (ReadModelRecord, error)
	PutReadModel(ctx context.Context, record ReadModelRecord) error
	ListReadModels(ctx context.Context) ([]ReadModelRecord, error)
}

// StageFactStore persists the stage-visit history rows.
type StageFactStore interface {
	GetOpenStageFact(ctx context.Context, companyProductID string) (StageFactRecord, error)
	CloseOpenStageFact(ctx context.Context, companyProductID string, exitedAt time.Time) error
	InsertStageFact(ctx context.Context, record StageFactRecord) error
	ListStageFacts(ctx context.Context, companyProductID string) ([]StageFactRecord, error)
}

// StageCountStore persists the per-product pipeline stage counts.
type StageCountStore interface {
	AdjustStageCount(ctx context.Context, productID, stageID string, delta int) error
	ListStageCounts(ctx context.Context, productID string) ([]StageCountRecord, error)
}

// CheckpointStore persists projector catch-up checkpoints.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, projectorName string) (Checkpoint, error)
	SaveCheckpoint(ctx context.Context, checkpoint Checkpoint) error
}

// Stores bundles every projection-side store. Projection handlers receive a
// transaction-scoped Stores so all mutations for one event commit together.
type Stores interface {
	ReadModelStore
	StageFactStore
	StageCountStore
}
