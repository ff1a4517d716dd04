package kpi

import (
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
)

// DefaultLabel heads the report when config leaves kpi.label empty.
const DefaultLabel = "ADVERTISER KPI REPORT"

// Summarizer renders a snapshot pair into Telegram-flavored HTML: header,
// team totals, per-agent table with change indicators, alert lines, and
// mention tags. The same text serves as photo caption and text-only report.
type Summarizer struct {
	Label       string
	LowSpendUSD float64  // 0 disables low-spend alerts
	Mentions    []string // appended verbatim, e.g. "@ops_lead"
}

func (s Summarizer) Build(cur, prev *Snapshot, now time.Time) string {
	if cur == nil {
		return ""
	}

	changes := Compare(cur, prev)
	lowSpend := LowSpendAgents(cur, s.LowSpendUSD)
	noChange := NoChangeAgents(changes)
	totals := cur.Totals()

	label := strings.TrimSpace(s.Label)
	if label == "" {
		label = DefaultLabel
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>%s</b>\n", html.EscapeString(label))
	fmt.Fprintf(&b, "📅 %s | %s\n\n", cur.dateLabel(now), now.Format("03:04 PM"))

	b.WriteString("💰 <b>TEAM TOTALS</b>\n")
	fmt.Fprintf(&b, "├ Spend: <b>$%s</b>\n", money(totals.Spend))
	fmt.Fprintf(&b, "├ Register: <b>%s</b>\n", humanize.Comma(int64(totals.Registrations)))
	fmt.Fprintf(&b, "├ FTD: <b>%s</b>\n", humanize.Comma(int64(totals.FTD)))
	fmt.Fprintf(&b, "├ Conv Rate: <b>%.1f%%</b>\n", totals.ConvRate())
	fmt.Fprintf(&b, "├ CPR: <b>$%.2f</b>\n", totals.CPR())
	fmt.Fprintf(&b, "├ Cost/FTD: <b>$%.2f</b>\n", totals.CostPerFTD())
	fmt.Fprintf(&b, "└ CTR: <b>%.2f%%</b>\n\n", totals.CTR())

	b.WriteString("👥 <b>AGENT SUMMARY</b>\n")
	b.WriteString("<pre>")
	fmt.Fprintf(&b, "%-8s%9s%5s%5s%6s\n", "Agent", "Spend", "Reg", "FTD", "Conv")
	b.WriteString(strings.Repeat("-", 33) + "\n")

	for _, name := range cur.AgentsBySpend() {
		a := cur.Agents[name]
		conv := 0.0
		if a.Registrations > 0 {
			conv = float64(a.FTD) / float64(a.Registrations) * 100
		}
		indicator := " "
		if c, ok := changes[name]; ok {
			switch {
			case c.SpendDiff > 0:
				indicator = "↑"
			case c.SpendDiff < 0:
				indicator = "↓"
			default:
				indicator = "─"
			}
		}
		// Pad before escaping so plain names stay column-aligned.
		cell := fmt.Sprintf("%-8s", name)
		fmt.Fprintf(&b, "%s$%7s%s%5d%5d%5.1f%%\n",
			html.EscapeString(cell),
			humanize.Comma(int64(math.Round(a.Spend))),
			indicator, a.Registrations, a.FTD, conv,
		)
	}
	b.WriteString("</pre>\n\n")

	if len(lowSpend) > 0 || len(noChange) > 0 {
		b.WriteString("⚠️ <b>ALERTS</b>\n")
		for _, ls := range lowSpend {
			fmt.Fprintf(&b, "• <b>%s</b>: Low spend ($%.2f) - Focus and work hard!\n",
				html.EscapeString(ls.Name), ls.Spend)
		}
		for _, name := range noChange {
			fmt.Fprintf(&b, "• <b>%s</b>: No change since last report\n", html.EscapeString(name))
		}
		b.WriteString("\n")
	}

	if len(s.Mentions) > 0 {
		b.WriteString(strings.Join(s.Mentions, " "))
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// money renders a dollar amount with thousands separators and two decimals.
func money(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}
