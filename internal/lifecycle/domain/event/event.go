package event

import (
	"strings"
	"time"
)

// AggregateTypeCompanyProduct is the only aggregate type the core journals.
const AggregateTypeCompanyProduct = "company_product"

// Type identifies the type of a lifecycle event.
type Type string

// Lifecycle events.
const (
	// TypePhaseSet records a top-level lifecycle phase change.
	TypePhaseSet Type = "lifecycle.phase_set"
	// TypeProcessSet records a company-product entering a process.
	TypeProcessSet Type = "lifecycle.process_set"
	// TypeStageAdvanced records a stage move within the current process.
	TypeStageAdvanced Type = "lifecycle.stage_advanced"
	// TypeProcessCompleted records a process reaching a terminal stage.
	TypeProcessCompleted Type = "lifecycle.process_completed"
)

// ActorType identifies who or what triggered an event.
type ActorType string

const (
	// ActorTypeSystem indicates the event was triggered by the system.
	ActorTypeSystem ActorType = "system"
	// ActorTypeUser indicates the event was triggered by a user.
	ActorTypeUser ActorType = "user"
)

// Actor is the resolved identity a command executes as.
type Actor struct {
	Type ActorType
	ID   string
}

// Event represents an immutable entry in the company-product journal.
type Event struct {
	// CompanyProductID is the aggregate this event belongs to.
	CompanyProductID string
	// CompanyID and ProductID are denormalized onto the envelope so
	// projections never need a catalog lookup to scope read models.
	CompanyID string
	ProductID string
	// Seq is the event sequence number within the aggregate (starts at 1).
	// Assigned by storage on append.
	Seq uint64
	// GlobalID orders events across aggregates for projector catch-up.
	// Assigned by storage on append; never used for per-aggregate ordering.
	GlobalID uint64
	// Type identifies the kind of event.
	Type Type
	// RequestID correlates the events emitted by one command.
	RequestID string
	// ActorType identifies who triggered the event.
	ActorType ActorType
	// ActorID is the user id when ActorType is user.
	ActorID string
	// OccurredAt is when the event occurred.
	OccurredAt time.Time
	// PayloadJSON holds the type-specific payload as JSON.
	PayloadJSON []byte
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type (e.g., "lifecycle").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}
