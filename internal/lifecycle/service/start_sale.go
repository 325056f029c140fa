package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quotaflow/lifecycle/internal/lifecycle/catalog"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/command"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"
	"github.com/quotaflow/lifecycle/internal/lifecycle/domain/phase"
	"github.com/quotaflow/lifecycle/internal/lifecycle/storage"
)

// StartSaleInput starts the sales process for a company-product.
type StartSaleInput struct {
	Identity
	// ProcessID selects a specific sales process. When empty the published
	// sales process for the product is used.
	ProcessID string
	// InitialStageID overrides the process's first stage.
	InitialStageID string
	Actor          event.Actor
}

// StartSale moves a prospect into the sales phase and opens the sales
// process at its initial stage. Emits phase_set and process_set as one batch.
func (s *Service) StartSale(ctx context.Context, input StartSaleInput) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	if err := input.Identity.validate(); err != nil {
		return Result{}, err
	}
	ctx, span := startSpan(ctx, "lifecycle.StartSale", input.Identity)
	defer span.End()

	record, found, err := s.loadReadModel(ctx, input.CompanyProductID)
	if err != nil {
		return Result{}, err
	}

	decision, err := s.decideStartSale(ctx, record, found, input)
	if err != nil {
		return Result{}, err
	}
	if decision.Rejected() {
		return rejected(span, fromDecision(decision)), nil
	}
	return s.commit(ctx, span, input.Identity, record.LastAppliedSeq, decision.Events)
}

func (s *Service) decideStartSale(ctx context.Context, record storage.ReadModelRecord, found bool, input StartSaleInput) (command.Decision, error) {
	current := record.CurrentPhase
	if !found || current == "" {
		current = phase.Prospect
	}
	if !phase.CanTransition(current, phase.InSales) {
		return command.Reject(command.Rejection{
			Code:    command.CodeWrongPhase,
			Message: fmt.Sprintf("cannot start sale from phase %q", current),
		}), nil
	}

	process, rejection, err := s.resolveProcess(ctx, input.ProductID, input.ProcessID, catalog.ProcessTypeSales)
	if err != nil {
		return command.Decision{}, err
	}
	if rejection != nil {
		return command.Reject(*rejection), nil
	}

	stage, ok := process.FirstStage()
	if input.InitialStageID != "" {
		stage, ok = process.StageByID(input.InitialStageID)
	}
	if !ok {
		return command.Reject(command.Rejection{
			Code:    command.CodeStageNotInProcess,
			Message: fmt.Sprintf("stage %q is not part of process %s", input.InitialStageID, process.ID),
		}), nil
	}

	actor := normalizeActor(input.Actor)
	requestID := uuid.NewString()
	occurred := s.now()

	phaseSet, err := s.newEvent(input.Identity, event.TypePhaseSet, actor, requestID, occurred, event.PhaseSetPayload{
		Phase: string(phase.InSales),
	})
	if err != nil {
		return command.Decision{}, err
	}
	processSet, err := s.newEvent(input.Identity, event.TypeProcessSet, actor, requestID, occurred, event.ProcessSetPayload{
		ProcessID:         process.ID,
		ProcessType:       string(process.Type),
		ProcessVersion:    process.Version,
		InitialStageID:    stage.ID,
		InitialStageName:  stage.Name,
		InitialStageOrder: stage.Order,
	})
	if err != nil {
		return command.Decision{}, err
	}
	return command.Accept(phaseSet, processSet), nil
}

// resolveProcess loads the requested process or falls back to the published
// process of the wanted type for the product, checking publication status and
// type along the way.
func (s *Service) resolveProcess(ctx context.Context, productID, processID string, want catalog.ProcessType) (catalog.Process, *command.Rejection, error) {
	var (
		process catalog.Process
		err     error
	)
	if processID != "" {
		process, err = s.Catalog.GetProcess(ctx, processID)
	} else {
		process, err = s.Catalog.PublishedProcess(ctx, productID, want)
	}
	if errors.Is(err, catalog.ErrNotFound) {
		return catalog.Process{}, &command.Rejection{
			Code:    command.CodeProcessNotPublished,
			Message: fmt.Sprintf("no published %s process for product %s", want, productID),
		}, nil
	}
	if err != nil {
		return catalog.Process{}, nil, fmt.Errorf("resolve %s process for product %s: %w", want, productID, err)
	}

	if process.Type != want {
		return catalog.Process{}, &command.Rejection{
			Code:    command.CodeProcessTypeMismatch,
			Message: fmt.Sprintf("process %s is %q, want %q", process.ID, process.Type, want),
		}, nil
	}
	if process.Status != catalog.StatusPublished {
		return catalog.Process{}, &command.Rejection{
			Code:    command.CodeProcessNotPublished,
			Message: fmt.Sprintf("process %s is not published", process.ID),
		}, nil
	}
	if process.ProductID != productID {
		return catalog.Process{}, nil, fmt.Errorf("process %s belongs to product %s, not %s", process.ID, process.ProductID, productID)
	}
	return process, nil, nil
}

func rejected(span trace.Span, result Result) Result {
	if len(result.Rejections) > 0 {
		span.SetAttributes(attribute.String("lifecycle.rejection", result.Rejections[0].Code))
	}
	return result
}
