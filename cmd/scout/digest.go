package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/scout/internal/runner"
	"github.com/steveyegge/scout/internal/storage"
	"github.com/steveyegge/scout/internal/types"
)

var digestFlags struct {
	period      string
	source      string
	date        string
	dryRun      bool
	force       bool
	concurrency int
	show        bool
}

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Build and store the briefing for one source and period",
	Long: `Fetch the items for a source, extract each one, aggregate them into a briefing,
review it, and store it under (date, period, source). Running again for the same
key replaces the stored briefing.`,
	Example: `  scout digest --period daily --source newsletter --date 2026-01-06
  scout digest --period weekly --source discussions --force --dry-run`,
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

		rec, runErr := r.RunDigest(ctx, digestFlags.date, types.Period(digestFlags.period),
			types.SourceType(digestFlags.source), runner.Options{
				DryRun:      digestFlags.dryRun,
				Force:       digestFlags.force,
				Concurrency: digestFlags.concurrency,
			})
		if rec == nil {
			return runErr
		}
		printRun(os.Stdout, rec)

		if runErr != nil && errors.Is(runErr, storage.ErrPersistFailed) {
			// One more attempt with the computed payload before giving up
			if err := r.Persist(ctx, rec); err != nil {
				return fmt.Errorf("briefing computed but not stored: %w", err)
			}
			fmt.Println(color.New(color.FgGreen).Sprint("✓ stored on retry"))
			runErr = nil
		}
		if runErr != nil {
			return runErr
		}

		if digestFlags.show && rec.Payload != nil {
			var payload runner.DigestPayload
			if err := json.Unmarshal(rec.Payload, &payload); err != nil {
				return fmt.Errorf("failed to decode briefing: %w", err)
			}
			fmt.Println(payload.Briefing.Text)
			fmt.Println()
		}
		if rec.Status == types.RunFailed {
			return fmt.Errorf("digest run %s failed", rec.ID)
		}
		return nil
	},
}

func init() {
	f := digestCmd.Flags()
	f.StringVar(&digestFlags.period, "period", string(types.PeriodDaily), "Period: daily or weekly")
	f.StringVar(&digestFlags.source, "source", string(types.SourceNewsletter), "Source: newsletter, launches, discussions, videos")
	f.StringVar(&digestFlags.date, "date", time.Now().UTC().Format(types.DateLayout), "Run date (YYYY-MM-DD)")
	f.BoolVar(&digestFlags.dryRun, "dry-run", false, "Compute the briefing without storing it")
	f.BoolVar(&digestFlags.force, "force", false, "Run even on a skipped weekday")
	f.IntVar(&digestFlags.concurrency, "concurrency", 0, "Extraction workers (default from config)")
	f.BoolVar(&digestFlags.show, "show", false, "Print the approved briefing")
	rootCmd.AddCommand(digestCmd)
}
