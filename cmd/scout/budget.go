package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/scout/internal/cost"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show per-run call ceilings and pricing",
	Long: `Display the per-run budget every run starts from: the call ceiling, unit cost
and pacing for each resource class, including the per-source mining ceilings
discovery adds. Use "scout runs" to see what individual runs consumed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		budget := cost.DefaultConfig()
		if cfg.Budget != nil {
			budget = cfg.Budget.Clone()
		}
		cfg.Discovery.ApplyCeilings(budget)

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("\n%s\n\n", cyan("=== Per-Run Budget ==="))

		fmt.Println(renderTable(
			[]string{"Class", "Ceiling", "Unit Cost", "Rate/s", "Burst"},
			budgetRows(budget),
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
		))

		fmt.Printf("\n%s\n", yellow("Pricing (per 1M tokens):"))
		fmt.Printf("  Input:   $%.2f\n", budget.InputTokenCost)
		fmt.Printf("  Output:  $%.2f\n\n", budget.OutputTokenCost)
		return nil
	},
}

// budgetRows lists every class that has a ceiling, unit cost or rate, in
// class order; a zero ceiling is unlimited
func budgetRows(budget *cost.Config) [][]string {
	seen := make(map[cost.Resource]bool)
	for r := range budget.Ceilings {
		seen[r] = true
	}
	for r := range budget.UnitCosts {
		seen[r] = true
	}
	for r := range budget.RatePerSecond {
		seen[r] = true
	}
	classes := make([]cost.Resource, 0, len(seen))
	for r := range seen {
		classes = append(classes, r)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	rows := make([][]string, 0, len(classes))
	for _, r := range classes {
		ceiling := "unlimited"
		if c := budget.Ceilings[r]; c > 0 {
			ceiling = strconv.FormatInt(c, 10)
		}
		unit, rate, burst := "-", "-", "-"
		if u, ok := budget.UnitCosts[r]; ok {
			unit = fmt.Sprintf("$%.4f", u)
		}
		if rps, ok := budget.RatePerSecond[r]; ok && rps > 0 {
			rate = strconv.FormatFloat(rps, 'f', -1, 64)
			burst = "1"
			if b := budget.Burst[r]; b > 0 {
				burst = strconv.Itoa(b)
			}
		}
		rows = append(rows, []string{string(r), ceiling, unit, rate, burst})
	}
	return rows
}

func init() {
	rootCmd.AddCommand(budgetCmd)
}
