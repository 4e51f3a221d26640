package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/display"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

var statusRuns int

type statusOutput struct {
	DBPath              string              `json:"db_path"`
	Emails              int                 `json:"emails"`
	Markers             int                 `json:"markers"`
	ByTier              map[types.Tier]int  `json:"by_tier"`
	ByStatus            map[string]int      `json:"by_status"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastSuccessfulRun   string              `json:"last_successful_run,omitempty"`
	Runs                []*types.RunSummary `json:"runs"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline health and decision counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		byTier, err := store.DecisionCountByTier()
		if err != nil {
			return err
		}
		byStatus, err := store.DecisionCountByStatus()
		if err != nil {
			return err
		}
		failures, err := store.ConsecutiveFailures()
		if err != nil {
			return err
		}
		runs, err := store.RecentRuns(statusRuns)
		if err != nil {
			return err
		}
		out := statusOutput{
			DBPath:              store.Path(),
			Emails:              store.EmailCount(),
			Markers:             store.MarkerCount(),
			ByTier:              byTier,
			ByStatus:            byStatus,
			ConsecutiveFailures: failures,
			Runs:                runs,
		}
		if last, ok, err := store.LastSuccessfulRun(); err != nil {
			return err
		} else if ok {
			out.LastSuccessfulRun = last.Format(time.RFC3339)
		}

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), out)
		}

		w := cmd.OutOrStdout()
		now := time.Now()
		display.Header("Triage Status")
		fmt.Fprintln(w)

		lastErr := ""
		if len(runs) > 0 {
			lastErr = runs[0].Error
		}
		fmt.Fprintln(w, "  "+display.Health(failures, lastErr))
		if out.LastSuccessfulRun != "" {
			fmt.Fprintf(w, "  last healthy run %s\n", display.TimeAgoString(out.LastSuccessfulRun, now))
		}
		fmt.Fprintln(w)

		display.SubHeader("Decisions")
		for _, t := range []types.Tier{types.TierEscalate, types.TierHandle, types.TierDraft, types.TierFlag} {
			fmt.Fprintf(w, "  %s %s %d\n", display.TierDot(t), display.TierLabel(t), byTier[t])
		}
		fmt.Fprintf(w, "  %d done, %d failed, %d pending, %d reviewed\n",
			byStatus[types.StatusDone], byStatus[types.StatusFailed], byStatus[types.StatusPending], byStatus[types.StatusReviewed])
		fmt.Fprintln(w)

		display.SubHeader("Recent runs")
		if len(runs) == 0 {
			fmt.Fprintln(w, "  none yet")
		}
		for _, r := range runs {
			mark := display.Success.Render("✓")
			if !r.Healthy {
				mark = display.ErrStyle.Render("✗")
			}
			line := fmt.Sprintf("  %s %-14s %s  %d processed, %d failed", mark, r.Mode,
				display.Dim.Render(display.TimeAgoString(r.StartedAt, now)), r.Processed, r.Failures)
			if r.Error != "" {
				line += "  " + display.Dim.Render(display.Truncate(r.Error, 60))
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %s\n", display.Muted.Render(fmt.Sprintf("%d emails cached, %d side effects recorded, %s", out.Emails, out.Markers, out.DBPath)))
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusRuns, "runs", "n", 5, "Number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}
