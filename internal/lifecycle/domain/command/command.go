package command

import "github.com/quotaflow/lifecycle/internal/lifecycle/domain/event"

// Rejection codes surfaced in command results. Validation codes are not
// retryable; the conflict code asks the caller to re-read state and retry
// the whole command.
const (
	CodeWrongPhase           = "wrong_phase"
	CodeStageNotInProcess    = "stage_not_in_process"
	CodeStageNotTerminal     = "stage_not_terminal"
	CodeTerminalTypeMismatch = "terminal_type_mismatch"
	CodeProcessNotPublished  = "process_not_published"
	CodeProcessTypeMismatch  = "process_type_mismatch"
	CodeBackwardMoveBlocked  = "backward_move_blocked"
	CodeNoCurrentProcess     = "no_current_process"
	CodeConcurrencyConflict  = "concurrency_conflict"
)

// Rejection captures a domain-level reason a command was declined.
type Rejection struct {
	Code    string
	Message string
}

// Decision represents the pure outcome of deciding a command.
type Decision struct {
	Events     []event.Event
	Rejections []Rejection
}

// Accept returns a decision that emits the provided events.
func Accept(events ...event.Event) Decision {
	return Decision{Events: append([]event.Event(nil), events...)}
}

// Reject returns a decision that carries the provided rejections.
func Reject(rejections ...Rejection) Decision {
	return Decision{Rejections: append([]Rejection(nil), rejections...)}
}

// Rejected reports whether the decision declined the command.
func (d Decision) Rejected() bool {
	return len(d.Rejections) > 0
}
