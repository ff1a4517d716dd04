package kpi

import (
	"reflect"
	"testing"
)

func snap(agents map[string]AgentStats) *Snapshot {
	return &Snapshot{Date: "2026-08-25", Agents: agents}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	cur := snap(map[string]AgentStats{
		"alice": {Spend: 150, Registrations: 12, FTD: 3},
		"bob":   {Spend: 90, Registrations: 5, FTD: 1},
		"new":   {Spend: 40, Registrations: 2, FTD: 0},
	})
	prev := snap(map[string]AgentStats{
		"alice": {Spend: 100, Registrations: 10, FTD: 3},
		"bob":   {Spend: 90, Registrations: 5, FTD: 1},
		"gone":  {Spend: 70, Registrations: 4, FTD: 2},
	})

	changes := Compare(cur, prev)
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	if c := changes["alice"]; c.SpendDiff != 50 || c.RegDiff != 2 || c.FTDDiff != 0 {
		t.Fatalf("alice change = %+v", c)
	}
	if c := changes["bob"]; c.HasChange() {
		t.Fatalf("bob should be unchanged, got %+v", c)
	}
	// Agents absent from prev diff against zero.
	if c := changes["new"]; c.SpendDiff != 40 || c.RegDiff != 2 {
		t.Fatalf("new agent change = %+v", c)
	}
	// Departed agents do not appear.
	if _, ok := changes["gone"]; ok {
		t.Fatal("departed agent should not appear in changes")
	}
}

func TestCompareNoPrevious(t *testing.T) {
	t.Parallel()

	cur := snap(map[string]AgentStats{"alice": {Spend: 1}})
	if got := Compare(cur, nil); got != nil {
		t.Fatalf("expected nil changes without previous snapshot, got %v", got)
	}
	if got := NoChangeAgents(nil); got != nil {
		t.Fatalf("expected no alerts without changes, got %v", got)
	}
}

func TestNoChangeAgents(t *testing.T) {
	t.Parallel()

	changes := map[string]Change{
		"zeta":  {},
		"alpha": {},
		"busy":  {SpendDiff: 10},
	}
	got := NoChangeAgents(changes)
	want := []string{"alpha", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NoChangeAgents = %v, want %v", got, want)
	}
}

func TestLowSpendAgents(t *testing.T) {
	t.Parallel()

	cur := snap(map[string]AgentStats{
		"alice": {Spend: 150},
		"bob":   {Spend: 45.5},
		"carol": {Spend: 99.99},
	})

	got := LowSpendAgents(cur, 100)
	want := []AgentSpend{{Name: "bob", Spend: 45.5}, {Name: "carol", Spend: 99.99}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("LowSpendAgents = %v, want %v", got, want)
	}

	if got := LowSpendAgents(cur, 0); got != nil {
		t.Fatalf("threshold 0 should disable the alert, got %v", got)
	}
}

func TestTotalsAndRates(t *testing.T) {
	t.Parallel()

	cur := snap(map[string]AgentStats{
		"alice": {Spend: 600, Registrations: 30, FTD: 6, Impressions: 10000, Clicks: 200},
		"bob":   {Spend: 400, Registrations: 10, FTD: 4, Impressions: 5000, Clicks: 100},
	})
	tot := cur.Totals()
	if tot.Spend != 1000 || tot.Registrations != 40 || tot.FTD != 10 {
		t.Fatalf("totals = %+v", tot)
	}
	if got := tot.ConvRate(); got != 25 {
		t.Fatalf("ConvRate = %v", got)
	}
	if got := tot.CPR(); got != 25 {
		t.Fatalf("CPR = %v", got)
	}
	if got := tot.CostPerFTD(); got != 100 {
		t.Fatalf("CostPerFTD = %v", got)
	}
	if got := tot.CTR(); got != 2 {
		t.Fatalf("CTR = %v", got)
	}

	// Division by zero renders as 0, not NaN.
	var zero TeamTotals
	if zero.ConvRate() != 0 || zero.CPR() != 0 || zero.CostPerFTD() != 0 || zero.CTR() != 0 {
		t.Fatal("zero totals should produce zero rates")
	}
}

func TestAgentsBySpend(t *testing.T) {
	t.Parallel()

	cur := snap(map[string]AgentStats{
		"mid":  {Spend: 50},
		"top":  {Spend: 100},
		"tieB": {Spend: 10},
		"tieA": {Spend: 10},
	})
	got := cur.AgentsBySpend()
	want := []string{"top", "mid", "tieA", "tieB"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AgentsBySpend = %v, want %v", got, want)
	}
}
