package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates a requested process or stage is missing.
var ErrNotFound = errors.New("catalog entry not found")

// ProcessType classifies a process within the lifecycle.
type ProcessType string

const (
	ProcessTypeSales      ProcessType = "sales"
	ProcessTypeOnboarding ProcessType = "onboarding"
	ProcessTypeSupport    ProcessType = "support"
	ProcessTypeEngagement ProcessType = "engagement"
)

// ParseProcessType validates a stored process type string.
func ParseProcessType(value string) (ProcessType, error) {
	switch pt := ProcessType(value); pt {
	case ProcessTypeSales, ProcessTypeOnboarding, ProcessTypeSupport, ProcessTypeEngagement:
		return pt, nil
	default:
		return "", fmt.Errorf("unknown process type %q", value)
	}
}

// Status marks a process version as usable or not.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// TerminalType is the resolution recorded when a terminal stage is reached.
type TerminalType string

const (
	TerminalWon       TerminalType = "won"
	TerminalLost      TerminalType = "lost"
	TerminalCompleted TerminalType = "completed"
)

// AdvancePolicy controls which stage moves a process permits.
type AdvancePolicy string

const (
	// AdvanceFree permits lateral and backward moves. Default.
	AdvanceFree AdvancePolicy = "free"
	// AdvanceForwardOnly rejects moves to a lower stage order.
	AdvanceForwardOnly AdvancePolicy = "forward_only"
)

// Stage is one step within a process.
type Stage struct {
	ID           string
	ProcessID    string
	Name         string
	Slug         string
	Order        int
	SLADays      *int
	IsTerminal   bool
	TerminalType TerminalType
}

// Process is a versioned, ordered workflow composed of stages.
type Process struct {
	ID            string
	ProductID     string
	Type          ProcessType
	Version       int
	Status        Status
	AdvancePolicy AdvancePolicy
	Stages        []Stage
}

// FirstStage returns the stage with the lowest order.
func (p Process) FirstStage() (Stage, bool) {
	if len(p.Stages) == 0 {
		return Stage{}, false
	}
	first := p.Stages[0]
	for _, stage := range p.Stages[1:] {
		if stage.Order < first.Order {
			first = stage
		}
	}
	return first, true
}

// StageByID returns the stage with the given id.
func (p Process) StageByID(stageID string) (Stage, bool) {
	for _, stage := range p.Stages {
		if stage.ID == stageID {
			return stage, true
		}
	}
	return Stage{}, false
}

// Catalog is the read-only process/stage reference consulted by command
// handlers. Implementations must never be mutated by the lifecycle core.
type Catalog interface {
	GetProcess(ctx context.Context, processID string) (Process, error)
	GetStage(ctx context.Context, stageID string) (Stage, error)
	ListStages(ctx context.Context, processID string) ([]Stage, error)
	// PublishedProcess resolves the published process of a type for a product.
	PublishedProcess(ctx context.Context, productID string, processType ProcessType) (Process, error)
}

// Validate checks structural invariants of a process definition.
func Validate(p Process) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("process id is required")
	}
	if strings.TrimSpace(p.ProductID) == "" {
		return fmt.Errorf("process %s: product id is required", p.ID)
	}
	if _, err := ParseProcessType(string(p.Type)); err != nil {
		return fmt.Errorf("process %s: %w", p.ID, err)
	}
	if p.Version <= 0 {
		return fmt.Errorf("process %s: version must be positive", p.ID)
	}
	switch p.Status {
	case StatusDraft, StatusPublished:
	default:
		return fmt.Errorf("process %s: unknown status %q", p.ID, p.Status)
	}
	switch p.AdvancePolicy {
	case AdvanceFree, AdvanceForwardOnly:
	default:
		return fmt.Errorf("process %s: unknown advance policy %q", p.ID, p.AdvancePolicy)
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("process %s: at least one stage is required", p.ID)
	}
	orders := make(map[int]string, len(p.Stages))
	ids := make(map[string]struct{}, len(p.Stages))
	for _, stage := range p.Stages {
		if strings.TrimSpace(stage.ID) == "" {
			return fmt.Errorf("process %s: stage id is required", p.ID)
		}
		if _, dup := ids[stage.ID]; dup {
			return fmt.Errorf("process %s: duplicate stage id %s", p.ID, stage.ID)
		}
		ids[stage.ID] = struct{}{}
		if stage.ProcessID != "" && stage.ProcessID != p.ID {
			return fmt.Errorf("process %s: stage %s references process %s", p.ID, stage.ID, stage.ProcessID)
		}
		if strings.TrimSpace(stage.Name) == "" {
			return fmt.Errorf("process %s: stage %s name is required", p.ID, stage.ID)
		}
		if other, dup := orders[stage.Order]; dup {
			return fmt.Errorf("process %s: stages %s and %s share order %d", p.ID, other, stage.ID, stage.Order)
		}
		orders[stage.Order] = stage.ID
		if stage.IsTerminal {
			switch stage.TerminalType {
			case TerminalWon, TerminalLost, TerminalCompleted:
			default:
				return fmt.Errorf("process %s: terminal stage %s needs a terminal type", p.ID, stage.ID)
			}
		} else if stage.TerminalType != "" {
			return fmt.Errorf("process %s: non-terminal stage %s carries terminal type %q", p.ID, stage.ID, stage.TerminalType)
		}
	}
	return nil
}
