package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/steveyegge/scout/internal/runner"
	"github.com/steveyegge/scout/internal/types"
)

var historyFlags struct {
	source string
	period string
	date   string
	limit  int
	offset int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored digests, or show one",
	Long: `List the stored digests for a source, newest first. With --date, print the
briefing stored under (date, period, source) instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		gw, err := openGateway(ctx)
		if err != nil {
			return err
		}
		defer gw.Close()

		sourceType := types.SourceType(historyFlags.source)
		if !sourceType.IsValid() {
			return fmt.Errorf("invalid source %q", historyFlags.source)
		}

		if historyFlags.date != "" {
			key := types.NaturalKey{Date: historyFlags.date, Period: types.Period(historyFlags.period), SourceType: sourceType}
			d, err := gw.GetLatest(ctx, key)
			if errors.Is(err, types.ErrNotFound) {
				return fmt.Errorf("no digest stored for %s", key)
			}
			if err != nil {
				return err
			}
			return printDigest(d)
		}

		digests, err := gw.History(ctx, sourceType, historyFlags.limit, historyFlags.offset)
		if err != nil {
			return err
		}
		if len(digests) == 0 {
			fmt.Printf("No digests stored for %s.\n", sourceType)
			return nil
		}
		rows := make([][]string, 0, len(digests))
		for _, d := range digests {
			rows = append(rows, []string{
				d.Key.Date, string(d.Key.Period), formatTime(d.UpdatedAt), strconv.Itoa(len(d.Payload)), d.ID,
			})
		}
		fmt.Println(renderTable(
			[]string{"Date", "Period", "Updated", "Bytes", "ID"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		))
		return nil
	},
}

func printDigest(d *types.PersistedDigest) error {
	fmt.Printf("%s (updated %s)\n\n", d.Key, formatTime(d.UpdatedAt))
	if d.Key.SourceType == types.SourceDiscovery {
		var payload runner.DiscoveryPayload
		if err := json.Unmarshal(d.Payload, &payload); err != nil {
			return fmt.Errorf("failed to decode opportunities: %w", err)
		}
		printOpportunities(payload.Opportunities, 0)
		return nil
	}
	var payload runner.DigestPayload
	if err := json.Unmarshal(d.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode briefing: %w", err)
	}
	if payload.Briefing != nil {
		fmt.Println(payload.Briefing.Text)
	}
	return nil
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyFlags.source, "source", string(types.SourceNewsletter), "Source type")
	f.StringVar(&historyFlags.period, "period", string(types.PeriodDaily), "Period, with --date")
	f.StringVar(&historyFlags.date, "date", "", "Show the digest stored for this date")
	f.IntVar(&historyFlags.limit, "limit", 10, "Maximum digests to list")
	f.IntVar(&historyFlags.offset, "offset", 0, "Digests to skip")
	rootCmd.AddCommand(historyCmd)
}
