package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/pario-ai/warden/pkg/models"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
)

func stateColor(s models.CircuitState) *color.Color {
	switch s {
	case models.CircuitClosed:
		return goodColor
	case models.CircuitHalfOpen:
		return warnColor
	default:
		return badColor
	}
}

func formatStatus(st models.Status) string {
	var b strings.Builder
	headerColor.Fprintf(&b, "Job %s\n", st.JobID)

	c := st.Cost
	fmt.Fprintf(&b, "  Total cost:  $%.6f of $%.2f (remaining $%.6f)\n", c.TotalCost, c.MaxCost, c.RemainingBudget)

	if len(c.UsageByModel) > 0 {
		fmt.Fprintf(&b, "\n  %-20s %8s %10s %10s %12s\n", "MODEL", "REQUESTS", "INPUT", "OUTPUT", "COST")
		for _, model := range sortedKeys(c.UsageByModel) {
			u := c.UsageByModel[model]
			fmt.Fprintf(&b, "  %-20s %8d %10d %10d $%11.6f\n", model, u.Requests, u.InputTokens, u.OutputTokens, u.Cost)
		}
	}

	if len(st.CircuitBreakers) > 0 {
		fmt.Fprintf(&b, "\n  %-20s %-10s %8s %8s\n", "BREAKER", "STATE", "FAILURES", "TRIALS")
		for _, model := range sortedKeys(st.CircuitBreakers) {
			s := st.CircuitBreakers[model]
			fmt.Fprintf(&b, "  %-20s %s %8d %8d\n", model,
				stateColor(s.State).Sprintf("%-10s", s.State), s.FailureCount, s.SuccessCount)
		}
	}
	return b.String()
}

func formatUsageSummaries(summaries []models.UsageSummary) string {
	if len(summaries) == 0 {
		return "No usage recorded.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-20s %8s %10s %10s %12s\n",
		"JOB", "MODEL", "REQUESTS", "INPUT", "OUTPUT", "COST")
	b.WriteString(strings.Repeat("-", 103) + "\n")

	var total float64
	for _, s := range summaries {
		fmt.Fprintf(&b, "%-38s %-20s %8d %10d %10d $%11.6f\n",
			s.JobID, s.Model, s.RequestCount, s.InputTokens, s.OutputTokens, s.TotalCost)
		total += s.TotalCost
	}
	b.WriteString(strings.Repeat("-", 103) + "\n")
	fmt.Fprintf(&b, "%90s $%11.6f\n", "TOTAL:", total)
	return b.String()
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-36s %-18s %-8s %-17s %9s %9s\n",
		"TIME", "REQUEST ID", "MODEL", "OUTCOME", "KIND", "WAIT", "LATENCY")
	b.WriteString(strings.Repeat("-", 123) + "\n")
	for _, e := range entries {
		outcome := goodColor.Sprintf("%-8s", e.Outcome)
		if e.Outcome != models.OutcomeSuccess {
			outcome = badColor.Sprintf("%-8s", e.Outcome)
		}
		fmt.Fprintf(&b, "%-20s %-36s %-18s %s %-17s %8dms %8dms\n",
			e.CreatedAt.Local().Format(time.DateTime),
			e.RequestID, e.Model, outcome,
			defaultStr(e.ErrorKind, "-"), e.WaitMs, e.LatencyMs)
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit data.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-20s %-8s %8s\n", "DAY", "MODEL", "OUTCOME", "COUNT")
	b.WriteString(strings.Repeat("-", 51) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-12s %-20s %-8s %8d\n", s.Day, s.Model, s.Outcome, s.Count)
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
