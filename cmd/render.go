package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/abhisek/pathwise/internal/analysis"
	"github.com/abhisek/pathwise/internal/progression"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/ui/components"
	"github.com/abhisek/pathwise/internal/ui/theme"
)

const reportWidth = 72

func renderOverview(ov *progression.CourseOverview) string {
	var b strings.Builder
	b.WriteString(theme.Title.Render(ov.Course.Title))
	b.WriteString("  ")
	b.WriteString(theme.Subtitle.Render(ov.Course.ContentID))
	b.WriteString("\n")

	pct := 0.0
	if ov.Total > 0 {
		pct = float64(ov.Completed) / float64(ov.Total)
	}
	b.WriteString(components.NewProgressBar(fmt.Sprintf("%d/%d", ov.Completed, ov.Total), pct, true, reportWidth).View())
	b.WriteString("\n\n")

	for _, it := range ov.Items {
		style := theme.State(it.StateLabel)
		line := fmt.Sprintf("%s %-12s %-34s %s", it.State.Icon(), it.ContentID, truncate(it.Title, 34), it.StateLabel)
		if it.Score != nil {
			line += fmt.Sprintf("  score %.0f", *it.Score)
		}
		b.WriteString(style.Render(line))
		if len(it.MissingPrerequisites) > 0 {
			b.WriteString(theme.Hint.Render("  needs " + strings.Join(it.MissingPrerequisites, ", ")))
		}
		b.WriteString("\n")
	}
	return theme.Card.Render(strings.TrimRight(b.String(), "\n"))
}

func renderGaps(gaps []store.KnowledgeGap) string {
	if len(gaps) == 0 {
		return theme.Hint.Render("No knowledge gaps recorded.")
	}
	sorted := append([]store.KnowledgeGap(nil), gaps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Severity > sorted[j].Severity })

	var b strings.Builder
	fmt.Fprintf(&b, "%-20s  %-10s  %8s  %-10s  %s\n", "Topic", "Subject", "Severity", "Status", "Detected")
	b.WriteString(strings.Repeat("─", reportWidth))
	b.WriteString("\n")
	for _, g := range sorted {
		status := "open"
		if g.Resolved {
			status = "resolved"
		}
		sev := theme.Severity(g.Severity).Render(fmt.Sprintf("%8.2f", g.Severity))
		fmt.Fprintf(&b, "%-20s  %-10s  %s  %-10s  %s\n",
			truncate(g.Topic, 20), g.SubjectArea, sev, status, g.CreatedAt.Local().Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderRecommendations(recs []store.Recommendation) string {
	if len(recs) == 0 {
		return theme.Hint.Render("Nothing to recommend right now.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%4s  %-16s  %-10s  %6s  %s\n", "Rank", "Content", "Type", "Score", "Top factor")
	b.WriteString(strings.Repeat("─", reportWidth))
	b.WriteString("\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "%4d  %-16s  %-10s  %6.3f  %s\n",
			r.Rank, r.ContentID, r.ContentType, r.Score, topFactor(r.Factors))
	}
	return strings.TrimRight(b.String(), "\n")
}

// topFactor names the factor with the largest contribution.
func topFactor(factors map[string]store.FactorScore) string {
	names := make([]string, 0, len(factors))
	for name := range factors {
		names = append(names, name)
	}
	sort.Strings(names)

	best, bestVal := "-", 0.0
	for _, name := range names {
		if c := factors[name].Contribution; c > bestVal {
			best, bestVal = name, c
		}
	}
	return best
}

func renderRoadmap(rm *store.Roadmap) string {
	var b strings.Builder
	b.WriteString(theme.Title.Render("Roadmap"))
	b.WriteString("  ")
	b.WriteString(theme.Subtitle.Render(fmt.Sprintf("%s · %s · %d min remaining", rm.StudentID, rm.Status, rm.TotalEstimatedMins)))
	b.WriteString("\n")

	f := rm.Factors
	if f.BudgetMins > 0 {
		b.WriteString(theme.Body.Render(fmt.Sprintf("Budget %d min over %d weeks (%.1f h/week)", f.BudgetMins, f.PlanningWeeks, f.HoursPerWeek)))
		b.WriteString("\n")
	}
	if f.OverBudget {
		msg := "Over budget: not every step fits the time available."
		if f.Reprioritized {
			msg += " Steps covering knowledge gaps were moved forward."
		}
		b.WriteString(theme.Warning.Render(msg))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for i, st := range rm.Steps {
		week := "  -"
		if st.Week > 0 {
			week = fmt.Sprintf("w%2d", st.Week)
		}
		line := fmt.Sprintf("%2d. %s  %-12s %-30s %4d min", i+1, week, st.ContentID, truncate(st.Title, 30), st.EstimatedMins)
		style := theme.State(st.CompletionStatus)
		if st.CompletionStatus != store.StatusCompleted && f.BudgetMins > 0 && !st.WithinBudget {
			style = theme.Warning
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	return theme.Card.Render(strings.TrimRight(b.String(), "\n"))
}

func renderAnalysis(res *analysis.Result) string {
	var b strings.Builder
	topics := "-"
	if len(res.Topics) > 0 {
		topics = strings.Join(res.Topics, ", ")
	}
	fmt.Fprintf(&b, "Topics:     %s\n", topics)
	fmt.Fprintf(&b, "Difficulty: %.2f\n", res.Difficulty)
	if res.Summary != "" {
		fmt.Fprintf(&b, "Summary:    %s\n", res.Summary)
	}
	analyzer := res.Analyzer
	if res.FallbackUsed {
		analyzer += fmt.Sprintf(" (fallback: %s)", res.FallbackReason)
	}
	b.WriteString(theme.Hint.Render("Analyzer:   " + analyzer))
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func formatCost(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}
