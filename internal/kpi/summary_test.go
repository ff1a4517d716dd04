package kpi

import (
	"strings"
	"testing"
	"time"
)

func TestSummaryContainsCoreSections(t *testing.T) {
	t.Parallel()

	cur := snap(map[string]AgentStats{
		"alice": {Spend: 7240, Registrations: 25, FTD: 6},
		"bob":   {Spend: 5100.4, Registrations: 16, FTD: 3},
	})
	prev := snap(map[string]AgentStats{
		"alice": {Spend: 7000, Registrations: 24, FTD: 6},
		"bob":   {Spend: 5100.4, Registrations: 16, FTD: 3},
	})

	now := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)
	s := Summarizer{Label: "TEST KPI", LowSpendUSD: 100, Mentions: []string{"@ops"}}
	text := s.Build(cur, prev, now)

	for _, want := range []string{
		"📊 <b>TEST KPI</b>",
		"📅 Aug 25, 2026 | 08:00 AM",
		"💰 <b>TEAM TOTALS</b>",
		"├ Spend: <b>$12,340.40</b>",
		"├ Register: <b>41</b>",
		"👥 <b>AGENT SUMMARY</b>",
		"<pre>",
		"</pre>",
		"@ops",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("summary missing %q:\n%s", want, text)
		}
	}

	// alice moved up, bob is flat.
	if !strings.Contains(text, "↑") {
		t.Fatalf("expected up indicator:\n%s", text)
	}
	if !strings.Contains(text, "─") {
		t.Fatalf("expected flat indicator:\n%s", text)
	}
	// bob had no movement at all; the stall alert names him.
	if !strings.Contains(text, "• <b>bob</b>: No change since last report") {
		t.Fatalf("expected no-change alert:\n%s", text)
	}
}

func TestSummaryWithoutPrevious(t *testing.T) {
	t.Parallel()

	cur := snap(map[string]AgentStats{"alice": {Spend: 500, Registrations: 10, FTD: 2}})
	text := Summarizer{}.Build(cur, nil, time.Now())

	if strings.Contains(text, "↑") || strings.Contains(text, "↓") || strings.Contains(text, "─") {
		t.Fatalf("first report should carry no change indicators:\n%s", text)
	}
	if strings.Contains(text, "No change since last report") {
		t.Fatalf("no-change alert needs a previous snapshot:\n%s", text)
	}
	if !strings.Contains(text, "<b>"+DefaultLabel+"</b>") {
		t.Fatalf("expected default label:\n%s", text)
	}
}

func TestSummaryLowSpendAlert(t *testing.T) {
	t.Parallel()

	cur := snap(map[string]AgentStats{
		"rich": {Spend: 900, Registrations: 20, FTD: 5},
		"poor": {Spend: 12.5, Registrations: 1, FTD: 0},
	})
	text := Summarizer{LowSpendUSD: 100}.Build(cur, nil, time.Now())

	if !strings.Contains(text, "⚠️ <b>ALERTS</b>") {
		t.Fatalf("expected alerts section:\n%s", text)
	}
	if !strings.Contains(text, "• <b>poor</b>: Low spend ($12.50)") {
		t.Fatalf("expected low-spend line:\n%s", text)
	}
	if strings.Contains(text, "<b>rich</b>: Low spend") {
		t.Fatalf("rich agent should not be flagged:\n%s", text)
	}
}

func TestSummaryEscapesAgentNames(t *testing.T) {
	t.Parallel()

	cur := snap(map[string]AgentStats{"a<b&c": {Spend: 10, Registrations: 1, FTD: 1}})
	text := Summarizer{LowSpendUSD: 100}.Build(cur, nil, time.Now())

	if strings.Contains(text, "a<b&c") {
		t.Fatalf("raw agent name leaked into HTML:\n%s", text)
	}
	if !strings.Contains(text, "a&lt;b&amp;c") {
		t.Fatalf("expected escaped agent name:\n%s", text)
	}
}

func TestSummaryAgentsOrderedBySpend(t *testing.T) {
	t.Parallel()

	cur := snap(map[string]AgentStats{
		"small": {Spend: 10},
		"big":   {Spend: 1000},
	})
	text := Summarizer{}.Build(cur, nil, time.Now())

	big := strings.Index(text, "big")
	small := strings.Index(text, "small")
	if big < 0 || small < 0 || big > small {
		t.Fatalf("agents out of order (big=%d small=%d):\n%s", big, small, text)
	}
}
