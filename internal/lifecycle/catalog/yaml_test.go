package catalog

import (
	"context"
	"strings"
	"testing"
)

const catalogYAML = `
processes:
  - id: proc-sales
    product_id: prod-1
    type: sales
    version: 1
    stages:
      - id: s1
        name: Qualify
        slug: qualify
        order: 1
        sla_days: 7
      - id: s2
        name: Won
        slug: won
        order: 2
        terminal: true
        terminal_type: won
  - id: proc-onb
    product_id: prod-1
    type: onboarding
    version: 1
    advance_policy: forward_only
    stages:
      - id: o1
        name: Kickoff
        slug: kickoff
        order: 1
      - id: o2
        name: Done
        slug: done
        order: 2
        terminal: true
        terminal_type: completed
`

func TestLoad(t *testing.T) {
	snap, err := Load(strings.NewReader(catalogYAML))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if snap.Len() != 2 {
		t.Fatalf("snapshot len = %d, want 2", snap.Len())
	}

	ctx := context.Background()
	sales, err := snap.GetProcess(ctx, "proc-sales")
	if err != nil {
		t.Fatalf("get sales process: %v", err)
	}
	// Omitted fields default to published and free.
	if sales.Status != StatusPublished {
		t.Fatalf("status = %s, want published", sales.Status)
	}
	if sales.AdvancePolicy != AdvanceFree {
		t.Fatalf("advance policy = %s, want free", sales.AdvancePolicy)
	}

	stage, err := snap.GetStage(ctx, "s1")
	if err != nil {
		t.Fatalf("get stage: %v", err)
	}
	if stage.ProcessID != "proc-sales" {
		t.Fatalf("stage process = %s, want proc-sales", stage.ProcessID)
	}
	if stage.SLADays == nil || *stage.SLADays != 7 {
		t.Fatalf("sla_days = %v, want 7", stage.SLADays)
	}

	onb, err := snap.GetProcess(ctx, "proc-onb")
	if err != nil {
		t.Fatalf("get onboarding process: %v", err)
	}
	if onb.AdvancePolicy != AdvanceForwardOnly {
		t.Fatalf("advance policy = %s, want forward_only", onb.AdvancePolicy)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"empty", "processes: []"},
		{"not yaml", "{{{"},
		{"invalid process", "processes:\n  - id: p1\n    type: sales\n"},
	}
	for _, tc := range cases {
		if _, err := Load(strings.NewReader(tc.yaml)); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
