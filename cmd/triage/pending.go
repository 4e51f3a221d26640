package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/display"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

var (
	pendingLimit int
	reviewNote   string
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List drafts and flags awaiting review",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := store.PendingApproval(pendingLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			if list == nil {
				list = []*types.Decision{}
			}
			return writeJSON(cmd.OutOrStdout(), list)
		}

		w := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(w, "Nothing waiting for review.")
			return nil
		}
		now := time.Now()
		for _, d := range list {
			fmt.Fprintf(w, "%s  %s  %s\n", display.TierBadge(d.Tier, d.Action),
				display.Bold.Render(display.Truncate(d.Subject, 50)),
				display.Dim.Render(display.TimeAgoString(d.DecidedAt, now)))
			fmt.Fprintf(w, "  %s  ·  %s  ·  %s\n", d.MessageID, d.From, display.Dim.Render(d.Reason))
			if d.Note != "" {
				fmt.Fprintf(w, "  %s\n", display.Muted.Render(d.Note))
			}
		}
		fmt.Fprintln(w)
		display.SubHeader(fmt.Sprintf("%d awaiting review. Mark one with: triage pending review MESSAGE_ID", len(list)))
		return nil
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review MESSAGE_ID",
	Short: "Mark a draft or flag as reviewed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		dec, err := store.GetDecision(id)
		if err != nil {
			return err
		}
		if dec == nil {
			return fmt.Errorf("no decision for message %q", id)
		}
		if dec.Action != types.ActionDraftForApproval && dec.Action != types.ActionFlagOnly {
			return fmt.Errorf("message %q is tier %d (%s), nothing to review", id, dec.Tier, dec.Action)
		}
		if err := store.UpdateDecisionStatus(id, types.StatusReviewed, reviewNote); err != nil {
			return err
		}
		if !quietFlag {
			display.SuccessMsg("Reviewed %s: %s", id, dec.Subject)
		}
		return nil
	},
}

func init() {
	pendingCmd.Flags().IntVarP(&pendingLimit, "limit", "n", 50, "Maximum items to show")
	reviewCmd.Flags().StringVar(&reviewNote, "note", "", "Note to keep with the decision")
	pendingCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(pendingCmd)
}
