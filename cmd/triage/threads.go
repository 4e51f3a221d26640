package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/display"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/orchestrator"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/thread"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

var (
	threadsLimit int
	threadsDays  int
)

type threadsOutput struct {
	Threads []*types.Thread `json:"threads"`
	Stats   thread.Stats    `json:"stats"`
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List recently active conversation threads",
	Long:  "Rebuild the thread index from stored mail and list the most recently active threads.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		d := thread.NewDetector(thread.Options{})
		if _, err := orchestrator.RestoreThreads(d, store, now.AddDate(0, 0, -threadsDays), 0); err != nil {
			return fmt.Errorf("load threads: %w", err)
		}
		threads := d.Active(threadsLimit)

		if jsonOutput {
			for _, t := range threads {
				t.Emails = nil
			}
			return writeJSON(cmd.OutOrStdout(), threadsOutput{Threads: threads, Stats: d.Statistics()})
		}

		w := cmd.OutOrStdout()
		if len(threads) == 0 {
			fmt.Fprintf(w, "No threads in the last %d days.\n", threadsDays)
			return nil
		}
		for _, t := range threads {
			fmt.Fprintf(w, "%s  %s  %s\n",
				display.Dim.Render(t.ThreadID),
				display.Bold.Render(display.Truncate(t.Subject, 60)),
				display.Dim.Render(display.TimeAgo(t.LastActivityAt, now)))
			fmt.Fprintf(w, "  %d emails  ·  %s\n", t.EmailCount, display.Truncate(strings.Join(t.Participants, ", "), 70))
		}
		st := d.Statistics()
		fmt.Fprintln(w)
		display.SubHeader(fmt.Sprintf("%d threads, %d emails, %.1f emails per thread", st.TotalThreads, st.TotalEmails, st.AvgThreadLength))
		return nil
	},
}

func init() {
	threadsCmd.Flags().IntVarP(&threadsLimit, "limit", "n", 20, "Maximum threads to show (0 for all)")
	threadsCmd.Flags().IntVar(&threadsDays, "days", 30, "Only consider mail from the last N days")
	rootCmd.AddCommand(threadsCmd)
}
