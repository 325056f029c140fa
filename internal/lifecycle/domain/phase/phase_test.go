package phase

import "testing"

func TestParse(t *testing.T) {
	for _, value := range []string{"prospect", "in_sales", "onboarding", "active", "churned"} {
		got, err := Parse(value)
		if err != nil {
			t.Fatalf("parse %q: %v", value, err)
		}
		if string(got) != value {
			t.Fatalf("parse %q = %q", value, got)
		}
	}

	if _, err := Parse("negotiating"); err == nil {
		t.Fatal("expected error for unknown phase")
	}
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty phase")
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Phase }{
		{Prospect, InSales},
		{InSales, Onboarding},
		{Onboarding, Active},
		{Prospect, Churned},
		{InSales, Churned},
		{Onboarding, Churned},
		{Active, Churned},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}

	blocked := []struct{ from, to Phase }{
		{Prospect, Onboarding},
		{InSales, Active},
		{Onboarding, InSales},
		{Active, Prospect},
		{Churned, Prospect},
		{Churned, InSales},
	}
	for _, tc := range blocked {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tc.from, tc.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	if !Churned.Terminal() {
		t.Fatal("churned should be terminal")
	}
	for _, p := range []Phase{Prospect, InSales, Onboarding, Active} {
		if p.Terminal() {
			t.Errorf("%s should not be terminal", p)
		}
	}
}
