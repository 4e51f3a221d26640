package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/display"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

var showNoBody bool

type showOutput struct {
	ThreadID  string            `json:"thread_id"`
	Subject   string            `json:"subject"`
	Emails    []*types.Message  `json:"emails"`
	Decisions []*types.Decision `json:"decisions,omitempty"`
}

var showCmd = &cobra.Command{
	Use:   "show THREAD_ID",
	Short: "Display a thread with its emails and triage decisions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID := args[0]

		emails, err := store.ThreadEmails(threadID)
		if err != nil {
			return fmt.Errorf("fetch emails: %w", err)
		}
		if len(emails) == 0 {
			return fmt.Errorf("thread %q not found", threadID)
		}

		decisions := make(map[string]*types.Decision, len(emails))
		out := showOutput{ThreadID: threadID, Subject: emails[0].Subject, Emails: emails}
		for _, e := range emails {
			dec, err := store.GetDecision(e.ID)
			if err != nil {
				return fmt.Errorf("fetch decision for %s: %w", e.ID, err)
			}
			if dec != nil {
				decisions[e.ID] = dec
				out.Decisions = append(out.Decisions, dec)
			}
		}

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), out)
		}

		w := cmd.OutOrStdout()
		now := time.Now()
		display.Header(out.Subject)
		display.SubHeader(fmt.Sprintf("%s  ·  %d emails", threadID, len(emails)))
		fmt.Fprintln(w)
		for i, e := range emails {
			m := *e
			if showNoBody {
				m.BodyText = ""
			}
			display.ThreadTree(w, display.Connector(i, len(emails)), &m, now)
			if dec, ok := decisions[e.ID]; ok {
				fmt.Fprintf(w, "     %s  %s  %s\n",
					display.TierBadge(dec.Tier, dec.Action),
					display.StatusLabel(dec.Status),
					display.Dim.Render(dec.Reason))
			}
		}
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showNoBody, "no-body", false, "Hide email bodies")
	rootCmd.AddCommand(showCmd)
}
