package kpi

import "sort"

// Change is one agent's movement since the previous delivered snapshot.
type Change struct {
	SpendDiff float64
	RegDiff   int
	FTDDiff   int
}

func (c Change) HasChange() bool {
	return c.SpendDiff != 0 || c.RegDiff != 0 || c.FTDDiff != 0
}

// Compare returns per-agent deltas of cur against prev. Agents absent from
// prev diff against zero. Returns nil when there is no previous snapshot,
// which disables change indicators and the no-change alert.
func Compare(cur, prev *Snapshot) map[string]Change {
	if cur == nil || prev == nil {
		return nil
	}
	changes := make(map[string]Change, len(cur.Agents))
	for name, now := range cur.Agents {
		was := prev.Agents[name]
		changes[name] = Change{
			SpendDiff: now.Spend - was.Spend,
			RegDiff:   now.Registrations - was.Registrations,
			FTDDiff:   now.FTD - was.FTD,
		}
	}
	return changes
}

// NoChangeAgents lists agents whose numbers did not move at all since the
// previous snapshot, sorted by name. A stalled upstream pipeline shows up
// here first.
func NoChangeAgents(changes map[string]Change) []string {
	if len(changes) == 0 {
		return nil
	}
	var names []string
	for name, c := range changes {
		if !c.HasChange() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AgentSpend pairs an agent with its period spend, for alert lines.
type AgentSpend struct {
	Name  string
	Spend float64
}

// LowSpendAgents lists agents spending below thresholdUSD, sorted by name.
// A zero or negative threshold disables the alert.
func LowSpendAgents(cur *Snapshot, thresholdUSD float64) []AgentSpend {
	if cur == nil || thresholdUSD <= 0 {
		return nil
	}
	var out []AgentSpend
	for name, a := range cur.Agents {
		if a.Spend < thresholdUSD {
			out = append(out, AgentSpend{Name: name, Spend: a.Spend})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
