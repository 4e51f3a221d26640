package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/config"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/display"
)

var costReset bool

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show the cost ledger and projections",
	Long: `Show accumulated engine and compute cost, per-email ratios and
linear projections. --reset zeroes the ledger after printing it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.ScopeLocal)
		if err != nil {
			return err
		}
		tracker, err := restoreTracker(store)
		if err != nil {
			return err
		}
		report := tracker.Report(time.Now().In(cfg.Location))

		if jsonOutput {
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else {
			display.CostReport(cmd.OutOrStdout(), report)
		}

		if costReset {
			tracker.Reset()
			if err := store.SaveCostSnapshot(tracker.Snapshot()); err != nil {
				return fmt.Errorf("reset ledger: %w", err)
			}
			if !quietFlag && !jsonOutput {
				display.SuccessMsg("Ledger reset")
			}
		}
		return nil
	},
}

func init() {
	costCmd.Flags().BoolVar(&costReset, "reset", false, "Zero the ledger after printing")
	rootCmd.AddCommand(costCmd)
}
