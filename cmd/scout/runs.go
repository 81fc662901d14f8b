package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/steveyegge/scout/internal/types"
)

var runsFlags struct {
	kind   string
	source string
	status string
	limit  int
	offset int
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent run records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		gw, err := openGateway(ctx)
		if err != nil {
			return err
		}
		defer gw.Close()

		runs, err := gw.ListRuns(ctx, types.RunFilter{
			Kind:       types.RunKind(runsFlags.kind),
			SourceType: types.SourceType(runsFlags.source),
			Status:     types.RunStatus(runsFlags.status),
			Limit:      runsFlags.limit,
			Offset:     runsFlags.offset,
		})
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			stored := "no"
			if r.Persisted {
				stored = "yes"
			}
			rows = append(rows, []string{
				formatTime(r.StartedAt),
				string(r.Kind),
				r.Key().String(),
				statusLabel(r.Status),
				strconv.Itoa(r.ItemsFetched),
				strconv.Itoa(len(r.Errors)),
				formatCost(r.CostEstimate),
				stored,
				r.ID,
			})
		}
		fmt.Println(renderTable(
			[]string{"Started", "Kind", "Key", "Status", "Items", "Errors", "Cost", "Stored", "Run ID"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
		))
		return nil
	},
}

func init() {
	f := runsCmd.Flags()
	f.StringVar(&runsFlags.kind, "kind", "", "Filter by kind: digest or discovery")
	f.StringVar(&runsFlags.source, "source", "", "Filter by source type")
	f.StringVar(&runsFlags.status, "status", "", "Filter by status")
	f.IntVar(&runsFlags.limit, "limit", 20, "Maximum runs to show")
	f.IntVar(&runsFlags.offset, "offset", 0, "Runs to skip")
	rootCmd.AddCommand(runsCmd)
}
