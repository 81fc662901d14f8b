package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/steveyegge/scout/internal/runner"
	"github.com/steveyegge/scout/internal/storage"
	"github.com/steveyegge/scout/internal/types"
)

var discoverFlags struct {
	date        string
	dryRun      bool
	concurrency int
	top         int
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Mine complaints and rank product opportunities",
	Long: `Run the discovery pipeline: mine pain points from every configured source, filter
them for viability, validate demand for each candidate, and rank the result.
The opportunity list is stored under (date, daily, discovery).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		gw, err := openGateway(ctx)
		if err != nil {
			return err
		}
		defer gw.Close()

		r, err := newRunner(gw)
		if err != nil {
			return err
		}

		rec, runErr := r.RunDiscovery(ctx, discoverFlags.date, runner.Options{
			DryRun:      discoverFlags.dryRun,
			Concurrency: discoverFlags.concurrency,
		})
		if rec == nil {
			return runErr
		}
		printRun(os.Stdout, rec)

		if rec.Payload != nil {
			var payload runner.DiscoveryPayload
			if err := json.Unmarshal(rec.Payload, &payload); err != nil {
				return fmt.Errorf("failed to decode opportunities: %w", err)
			}
			printOpportunities(payload.Opportunities, discoverFlags.top)
		}

		if runErr != nil && errors.Is(runErr, storage.ErrPersistFailed) {
			if err := r.Persist(ctx, rec); err != nil {
				return fmt.Errorf("opportunities computed but not stored: %w", err)
			}
			runErr = nil
		}
		if runErr != nil {
			return runErr
		}
		if rec.Status == types.RunFailed {
			return fmt.Errorf("discovery run %s failed", rec.ID)
		}
		return nil
	},
}

func printOpportunities(opps []types.Opportunity, top int) {
	if len(opps) == 0 {
		fmt.Println("No opportunities found.")
		return
	}
	if top > 0 && len(opps) > top {
		opps = opps[:top]
	}
	rows := make([][]string, 0, len(opps))
	for _, o := range opps {
		demand := "-"
		if o.Demand != nil {
			demand = fmt.Sprintf("%.0f %s", o.Demand.Score, o.Demand.Direction)
		}
		rows = append(rows, []string{
			strconv.Itoa(o.Rank),
			fmt.Sprintf("%.3f", o.OpportunityScore),
			truncate(o.Idea, 60),
			o.Source,
			demand,
			fmt.Sprintf("%.2f/%.2f/%.2f", o.DemandScore, o.ViralityScore, o.BuildabilityScore),
		})
	}
	fmt.Println(renderTable(
		[]string{"#", "Score", "Idea", "Source", "Trend", "D/V/B"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft, alignRight},
	))
}

func init() {
	f := discoverCmd.Flags()
	f.StringVar(&discoverFlags.date, "date", time.Now().UTC().Format(types.DateLayout), "Run date (YYYY-MM-DD)")
	f.BoolVar(&discoverFlags.dryRun, "dry-run", false, "Rank opportunities without storing them")
	f.IntVar(&discoverFlags.concurrency, "concurrency", 0, "Workers per phase (default from config)")
	f.IntVar(&discoverFlags.top, "top", 0, "Only print the first N opportunities")
	rootCmd.AddCommand(discoverCmd)
}
