package phase

import "fmt"

// Phase is the top-level lifecycle position of a company-product.
type Phase string

const (
	// Prospect is the initial phase before any process starts.
	Prospect Phase = "prospect"
	// InSales means an active sales process.
	InSales Phase = "in_sales"
	// Onboarding means the sale was won and onboarding is underway.
	Onboarding Phase = "onboarding"
	// Active means onboarding completed and engagement is running.
	Active Phase = "active"
	// Churned means the relationship ended.
	Churned Phase = "churned"
)

// transitions lists the permitted phase moves. Every phase may move to
// churned; churned is terminal.
var transitions = map[Phase][]Phase{
	Prospect:   {InSales, Churned},
	InSales:    {Onboarding, Churned},
	Onboarding: {Active, Churned},
	Active:     {Churned},
	Churned:    {},
}

// Parse validates a stored phase string.
func Parse(value string) (Phase, error) {
	p := Phase(value)
	if _, ok := transitions[p]; !ok {
		return "", fmt.Errorf("unknown phase %q", value)
	}
	return p, nil
}

// CanTransition reports whether moving from one phase to another is legal.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the phase has no outgoing transitions.
func (p Phase) Terminal() bool {
	return len(transitions[p]) == 0
}
