package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/quotaflow/lifecycle/internal/lifecycle/catalog"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/command"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

// AdvanceStageInput moves a company-product to another stage of its current
// process.
type AdvanceStageInput struct {
	Identity
	ToStageID string
	// Reason is optional free-form context recorded on the event.
	Reason string
	Actor  event.Actor
}

// AdvanceStage emits a single stage_advanced event. The target stage must
// belong to the aggregate's current process; backward moves are rejected only
// when the process's advance policy forbids them.
func (s *Service) AdvanceStage(ctx context.Context, input AdvanceStageInput) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	if err := input.Identity.validate(); err != nil {
		return Result{}, err
	}
	if input.ToStageID == "" {
		return Result{}, fmt.Errorf("target stage id is required")
	}
	ctx, span := startSpan(ctx, "lifecycle.AdvanceStage", input.Identity)
	defer span.End()

	record, found, err := s.loadReadModel(ctx, input.CompanyProductID)
	if err != nil {
		return Result{}, err
	}

	decision, err := s.decideAdvanceStage(ctx, record, found, input)
	if err != nil {
		return Result{}, err
	}
	if decision.Rejected() {
		return rejected(span, fromDecision(decision)), nil
	}
	return s.commit(ctx, span, input.Identity, record.LastAppliedSeq, decision.Events)
}

func (s *Service) decideAdvanceStage(ctx context.Context, record storage.ReadModelRecord, found bool, input AdvanceStageInput) (command.Decision, error) {
	if !found || record.CurrentProcessID == "" {
		return command.Reject(command.Rejection{
			Code:    command.CodeNoCurrentProcess,
			Message: fmt.Sprintf("company product %s has no active process", input.CompanyProductID),
		}), nil
	}

	process, err := s.Catalog.GetProcess(ctx, record.CurrentProcessID)
	if err != nil {
		return command.Decision{}, fmt.Errorf("load current process %s: %w", record.CurrentProcessID, err)
	}

	stage, ok := process.StageByID(input.ToStageID)
	if !ok {
		return command.Reject(command.Rejection{
			Code:    command.CodeStageNotInProcess,
			Message: fmt.Sprintf("stage %q is not part of process %s", input.ToStageID, process.ID),
		}), nil
	}
	if process.AdvancePolicy == catalog.AdvanceForwardOnly && stage.Order < record.CurrentStageOrder {
		return command.Reject(command.Rejection{
			Code:    command.CodeBackwardMoveBlocked,
			Message: fmt.Sprintf("process %s only advances forward; stage %q has order %d, current is %d", process.ID, stage.ID, stage.Order, record.CurrentStageOrder),
		}), nil
	}

	advanced, err := s.newEvent(input.Identity, event.TypeStageAdvanced, normalizeActor(input.Actor), uuid.NewString(), s.now(), event.StageAdvancedPayload{
		FromStageID: record.CurrentStageID,
		StageID:     stage.ID,
		StageName:   stage.Name,
		StageOrder:  stage.Order,
		Reason:      input.Reason,
	})
	if err != nil {
		return command.Decision{}, err
	}
	return command.Accept(advanced), nil
}
