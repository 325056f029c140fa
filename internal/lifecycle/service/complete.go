package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/quotaflow/lifecycle/internal/lifecycle/catalog"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/command"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/phase"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

// CompleteInput completes the aggregate's current process and rolls it into
// the next one.
type CompleteInput struct {
	Identity
	// Notes is optional free-form context recorded on the completion event.
	Notes string
	Actor event.Actor
}

// CompleteSaleAndStartOnboarding closes a won sales process and opens the
// product's published onboarding process. The current stage must be terminal
// with terminal type won. Emits process_completed, phase_set, and process_set
// as one atomic batch.
func (s *Service) CompleteSaleAndStartOnboarding(ctx context.Context, input CompleteInput) (Result, error) {
	return s.completeAndStart(ctx, "lifecycle.CompleteSaleAndStartOnboarding", input, transition{
		fromPhase:    phase.InSales,
		wantTerminal: catalog.TerminalWon,
		nextPhase:    phase.Onboarding,
		nextType:     catalog.ProcessTypeOnboarding,
	})
}

// CompleteOnboardingAndStartEngagement closes a finished onboarding process
// and opens the product's published engagement process. The current stage
// must be terminal with terminal type completed.
func (s *Service) CompleteOnboardingAndStartEngagement(ctx context.Context, input CompleteInput) (Result, error) {
	return s.completeAndStart(ctx, "lifecycle.CompleteOnboardingAndStartEngagement", input, transition{
		fromPhase:    phase.Onboarding,
		wantTerminal: catalog.TerminalCompleted,
		nextPhase:    phase.Active,
		nextType:     catalog.ProcessTypeEngagement,
	})
}

// transition describes one complete-and-start rollover.
type transition struct {
	fromPhase    phase.Phase
	wantTerminal catalog.TerminalType
	nextPhase    phase.Phase
	nextType     catalog.ProcessType
}

func (s *Service) completeAndStart(ctx context.Context, spanName string, input CompleteInput, tr transition) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	if err := input.Identity.validate(); err != nil {
		return Result{}, err
	}
	ctx, span := startSpan(ctx, spanName, input.Identity)
	defer span.End()

	record, found, err := s.loadReadModel(ctx, input.CompanyProductID)
	if err != nil {
		return Result{}, err
	}

	decision, err := s.decideCompleteAndStart(ctx, record, found, input, tr)
	if err != nil {
		return Result{}, err
	}
	if decision.Rejected() {
		return rejected(span, fromDecision(decision)), nil
	}
	return s.commit(ctx, span, input.Identity, record.LastAppliedSeq, decision.Events)
}

func (s *Service) decideCompleteAndStart(ctx context.Context, record storage.ReadModelRecord, found bool, input CompleteInput, tr transition) (command.Decision, error) {
	if !found || record.CurrentProcessID == "" {
		return command.Reject(command.Rejection{
			Code:    command.CodeNoCurrentProcess,
			Message: fmt.Sprintf("company product %s has no active process", input.CompanyProductID),
		}), nil
	}
	if record.CurrentPhase != "" && record.CurrentPhase.Terminal() {
		return command.Reject(command.Rejection{
			Code:    command.CodeWrongPhase,
			Message: fmt.Sprintf("company product %s reached terminal phase %q", input.CompanyProductID, record.CurrentPhase),
		}), nil
	}
	if record.CurrentPhase != tr.fromPhase || !phase.CanTransition(record.CurrentPhase, tr.nextPhase) {
		return command.Reject(command.Rejection{
			Code:    command.CodeWrongPhase,
			Message: fmt.Sprintf("company product %s is in phase %q, want %q", input.CompanyProductID, record.CurrentPhase, tr.fromPhase),
		}), nil
	}

	process, err := s.Catalog.GetProcess(ctx, record.CurrentProcessID)
	if err != nil {
		return command.Decision{}, fmt.Errorf("load current process %s: %w", record.CurrentProcessID, err)
	}
	stage, ok := process.StageByID(record.CurrentStageID)
	if !ok {
		return command.Reject(command.Rejection{
			Code:    command.CodeStageNotInProcess,
			Message: fmt.Sprintf("current stage %q is not part of process %s", record.CurrentStageID, process.ID),
		}), nil
	}
	if !stage.IsTerminal {
		return command.Reject(command.Rejection{
			Code:    command.CodeStageNotTerminal,
			Message: fmt.Sprintf("stage %q is not terminal", stage.ID),
		}), nil
	}
	if stage.TerminalType != tr.wantTerminal {
		return command.Reject(command.Rejection{
			Code:    command.CodeTerminalTypeMismatch,
			Message: fmt.Sprintf("stage %q resolves as %q, want %q", stage.ID, stage.TerminalType, tr.wantTerminal),
		}), nil
	}

	next, rejection, err := s.resolveProcess(ctx, input.ProductID, "", tr.nextType)
	if err != nil {
		return command.Decision{}, err
	}
	if rejection != nil {
		return command.Reject(*rejection), nil
	}
	first, ok := next.FirstStage()
	if !ok {
		return command.Decision{}, fmt.Errorf("process %s has no stages", next.ID)
	}

	actor := normalizeActor(input.Actor)
	requestID := uuid.NewString()
	occurred := s.now()

	completed, err := s.newEvent(input.Identity, event.TypeProcessCompleted, actor, requestID, occurred, event.ProcessCompletedPayload{
		ProcessID:    process.ID,
		ProcessType:  string(process.Type),
		TerminalType: string(tr.wantTerminal),
		FinalStageID: stage.ID,
		Notes:        input.Notes,
	})
	if err != nil {
		return command.Decision{}, err
	}
	phaseSet, err := s.newEvent(input.Identity, event.TypePhaseSet, actor, requestID, occurred, event.PhaseSetPayload{
		Phase: string(tr.nextPhase),
	})
	if err != nil {
		return command.Decision{}, err
	}
	processSet, err := s.newEvent(input.Identity, event.TypeProcessSet, actor, requestID, occurred, event.ProcessSetPayload{
		ProcessID:         next.ID,
		ProcessType:       string(next.Type),
		ProcessVersion:    next.Version,
		InitialStageID:    first.ID,
		InitialStageName:  first.Name,
		InitialStageOrder: first.Order,
	})
	if err != nil {
		return command.Decision{}, err
	}
	return command.Accept(completed, phaseSet, processSet), nil
}
