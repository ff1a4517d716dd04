package kpi

import (
	"sort"
	"time"
)

// AgentStats is one agent's aggregated numbers for the reporting period.
type AgentStats struct {
	Spend         float64 `json:"spend"`
	Registrations int     `json:"register"`
	FTD           int     `json:"ftd"`
	Impressions   int64   `json:"impressions,omitempty"`
	Clicks        int64   `json:"clicks,omitempty"`
}

// Snapshot is the metric state at one collection instant. The upstream data
// pipeline writes it as a JSON document keyed by agent name:
//
//	{
//	  "date": "2026-08-25",
//	  "agents": {
//	    "alice": { "spend": 1240.50, "register": 41, "ftd": 9 }
//	  }
//	}
//
// Unknown fields are ignored so the upstream side can evolve independently.
type Snapshot struct {
	// Date is the upstream data date (YYYY-MM-DD). It may lag CollectedAt
	// when the pipeline is behind.
	Date        string                `json:"date"`
	CollectedAt time.Time             `json:"collected_at,omitempty"`
	Agents      map[string]AgentStats `json:"agents"`
}

// TeamTotals aggregates all agents. Derived rates divide by zero as 0.
type TeamTotals struct {
	Spend         float64
	Registrations int
	FTD           int
	Impressions   int64
	Clicks        int64
}

func (t TeamTotals) ConvRate() float64 {
	if t.Registrations <= 0 {
		return 0
	}
	return float64(t.FTD) / float64(t.Registrations) * 100
}

// CPR is cost per registration.
func (t TeamTotals) CPR() float64 {
	if t.Registrations <= 0 {
		return 0
	}
	return t.Spend / float64(t.Registrations)
}

func (t TeamTotals) CostPerFTD() float64 {
	if t.FTD <= 0 {
		return 0
	}
	return t.Spend / float64(t.FTD)
}

func (t TeamTotals) CTR() float64 {
	if t.Impressions <= 0 {
		return 0
	}
	return float64(t.Clicks) / float64(t.Impressions) * 100
}

func (s *Snapshot) Totals() TeamTotals {
	var t TeamTotals
	if s == nil {
		return t
	}
	for _, a := range s.Agents {
		t.Spend += a.Spend
		t.Registrations += a.Registrations
		t.FTD += a.FTD
		t.Impressions += a.Impressions
		t.Clicks += a.Clicks
	}
	return t
}

// AgentsBySpend returns agent names ordered by spend descending, name
// ascending on ties, for stable report tables.
func (s *Snapshot) AgentsBySpend() []string {
	if s == nil || len(s.Agents) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.Agents))
	for name := range s.Agents {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := s.Agents[names[i]], s.Agents[names[j]]
		if a.Spend != b.Spend {
			return a.Spend > b.Spend
		}
		return names[i] < names[j]
	})
	return names
}

// dateLabel renders the upstream data date, falling back to now when the
// date is missing or malformed.
func (s *Snapshot) dateLabel(now time.Time) string {
	if s != nil && s.Date != "" {
		if d, err := time.Parse("2006-01-02", s.Date); err == nil {
			return d.Format("Jan 02, 2006")
		}
	}
	return now.Format("Jan 02, 2006")
}
