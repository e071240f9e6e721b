package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/similard/internal/indexer"
	"github.com/fyrsmithlabs/similard/internal/recommend"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func renderRecommendations(productID string, res recommend.Result) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Similar to %s", productID)))
	b.WriteString(" ")
	b.WriteString(sourceBadge(res.Source))
	b.WriteString("\n")

	if len(res.Items) == 0 {
		b.WriteString(dimStyle.Render("no similar products"))
		return boxStyle.Render(b.String())
	}

	width := 0
	for _, it := range res.Items {
		width = max(width, len(it.ProductID))
	}
	for i, it := range res.Items {
		fmt.Fprintf(&b, "%s %-*s  %s",
			dimStyle.Render(fmt.Sprintf("%2d.", i+1)),
			width, it.ProductID,
			labelStyle.Render(fmt.Sprintf("%.4f", it.Score)),
		)
		if i < len(res.Items)-1 {
			b.WriteString("\n")
		}
	}
	return boxStyle.Render(b.String())
}

func sourceBadge(src recommend.Source) string {
	if src == recommend.SourceVector {
		return okStyle.Render("[vector]")
	}
	return warnStyle.Render("[" + string(src) + "]")
}

func renderReport(rep *indexer.Report) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Sync %s (%s)", rep.RunID, rep.Mode)))
	b.WriteString("\n")
	row := func(label string, n int, style lipgloss.Style) {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", label)), style.Render(fmt.Sprint(n)))
	}
	row("synced", len(rep.Succeeded), okStyle)
	row("skipped", len(rep.Skipped), dimStyle)
	row("deleted", len(rep.Deleted), dimStyle)
	failStyle := dimStyle
	if len(rep.Failed)+len(rep.DeleteFailed) > 0 {
		failStyle = errStyle
	}
	row("failed", len(rep.Failed)+len(rep.DeleteFailed), failStyle)
	for _, f := range append(append([]indexer.Failure{}, rep.Failed...), rep.DeleteFailed...) {
		fmt.Fprintf(&b, "  %s %s %s\n", errStyle.Render(f.ProductID), f.Reason, dimStyle.Render(f.Detail))
	}
	fmt.Fprintf(&b, "%s %s", labelStyle.Render(fmt.Sprintf("%-10s", "took")), rep.Duration.Round(time.Millisecond))
	return boxStyle.Render(b.String())
}

func renderStatus(health string, components map[string]string, st indexer.Status) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("similard"))
	b.WriteString(" ")
	if health == "ok" {
		b.WriteString(okStyle.Render(health))
	} else {
		b.WriteString(errStyle.Render(health))
	}
	b.WriteString("\n")

	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", name)), components[name])
	}

	state := "idle"
	if st.Running {
		state = "running"
	}
	fmt.Fprintf(&b, "%s %s", labelStyle.Render(fmt.Sprintf("%-12s", "sync")), state)
	if !st.LastRunAt.IsZero() {
		fmt.Fprintf(&b, "\n%s %s", labelStyle.Render(fmt.Sprintf("%-12s", "last run")), st.LastRunAt.Format(time.RFC3339))
	}
	if st.LastReport != nil {
		fmt.Fprintf(&b, "\n%s %d synced, %d skipped, %d deleted, %d failed",
			labelStyle.Render(fmt.Sprintf("%-12s", "last report")),
			len(st.LastReport.Succeeded), len(st.LastReport.Skipped),
			len(st.LastReport.Deleted), len(st.LastReport.Failed)+len(st.LastReport.DeleteFailed))
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "\n%s %s", labelStyle.Render(fmt.Sprintf("%-12s", "last error")), errStyle.Render(st.LastError))
	}
	return boxStyle.Render(b.String())
}
