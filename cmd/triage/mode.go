package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/config"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/orchestrator"
)

var (
	modeAt   string
	modeHour int
)

type modeOutput struct {
	Mode      orchestrator.Mode `json:"mode"`
	Title     string            `json:"title"`
	HasDigest bool              `json:"has_digest"`
	LocalTime string            `json:"local_time"`
}

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Show which mode a run would use",
	Example: `  triage mode
  triage mode --hour 7
  triage mode --at 2026-03-02T22:00:00Z`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.ScopeLocal)
		if err != nil {
			return err
		}
		sched := schedule(cfg)

		at, err := parseNow(modeAt)
		if err != nil {
			return err
		}
		local := at.In(sched.Location)
		if cmd.Flags().Changed("hour") {
			if modeHour < 0 || modeHour > 23 {
				return fmt.Errorf("--hour must be 0..23")
			}
			local = time.Date(local.Year(), local.Month(), local.Day(), modeHour, 0, 0, 0, sched.Location)
		}

		mode := orchestrator.SelectMode(local, sched)
		out := modeOutput{
			Mode:      mode,
			Title:     mode.Title(),
			HasDigest: mode.HasDigest(),
			LocalTime: local.Format(time.RFC3339),
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), out)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) at %s\n", out.Mode, out.Title, local.Format("Mon 2 Jan 15:04 MST"))
		return nil
	},
}

func init() {
	modeCmd.Flags().StringVar(&modeAt, "at", "", "RFC 3339 time (default now)")
	modeCmd.Flags().IntVar(&modeHour, "hour", 0, "Local hour to check, overriding the hour of --at")
	rootCmd.AddCommand(modeCmd)
}
