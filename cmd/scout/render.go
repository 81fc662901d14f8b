package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/steveyegge/scout/internal/types"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// statusLabel colors a run status: green for success, yellow for degraded
// or skipped, red for failure
func statusLabel(s types.RunStatus) string {
	switch s {
	case types.RunSucceeded:
		return color.New(color.FgGreen).Sprint("✓ " + string(s))
	case types.RunSucceededDegraded:
		return color.New(color.FgYellow).Sprint("⚠ " + string(s))
	case types.RunSkipped:
		return color.New(color.FgHiBlack).Sprint("○ " + string(s))
	default:
		return color.New(color.FgRed, color.Bold).Sprint("✗ " + string(s))
	}
}

func formatCost(usd float64) string {
	return fmt.Sprintf("$%.4f", usd)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatCounts renders call counts as "class=n" pairs in class order
func formatCounts(counts map[string]int64) string {
	if len(counts) == 0 {
		return "-"
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, counts[name])
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// printRun writes the outcome of one run
func printRun(w io.Writer, rec *types.RunRecord) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s\n\n", cyan(fmt.Sprintf("=== %s run %s ===", rec.Kind, rec.Key())))
	fmt.Fprintf(w, "Status:    %s\n", statusLabel(rec.Status))
	fmt.Fprintf(w, "Run ID:    %s\n", rec.ID)
	fmt.Fprintf(w, "Duration:  %v\n", rec.CompletedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	switch rec.Kind {
	case types.RunKindDigest:
		fmt.Fprintf(w, "Items:     %d fetched, %d failed\n", rec.ItemsFetched, rec.ItemsFailed)
		fmt.Fprintf(w, "Review:    %d revision(s)", rec.RevisionCount)
		if rec.ForcedApproval {
			fmt.Fprintf(w, " %s", yellow("(forced approval)"))
		}
		fmt.Fprintln(w)
	case types.RunKindDiscovery:
		fmt.Fprintf(w, "Mined:     %d pain points, %d opportunities\n", rec.ItemsFetched, rec.Opportunities)
	}
	fmt.Fprintf(w, "Calls:     %s\n", formatCounts(rec.CallCounts))
	if len(rec.DeniedCounts) > 0 {
		fmt.Fprintf(w, "Denied:    %s\n", yellow(formatCounts(rec.DeniedCounts)))
	}
	fmt.Fprintf(w, "Cost:      %s\n", formatCost(rec.CostEstimate))

	switch {
	case rec.DryRun:
		fmt.Fprintf(w, "Persisted: %s\n", gray("no (dry run)"))
	case rec.Persisted:
		fmt.Fprintf(w, "Persisted: %s\n", color.New(color.FgGreen).Sprint("yes"))
	case rec.PersistError != "":
		fmt.Fprintf(w, "Persisted: %s\n", color.New(color.FgRed).Sprint("no: "+rec.PersistError))
	}

	if len(rec.Errors) > 0 {
		fmt.Fprintf(w, "\n%s\n", yellow(fmt.Sprintf("Errors (%d):", len(rec.Errors))))
		for _, e := range rec.Errors {
			fmt.Fprintf(w, "  - %s\n", truncate(e, 160))
		}
	}
	fmt.Fprintln(w)
}
