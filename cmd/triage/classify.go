package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/classify"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/config"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/display"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

var (
	classifyFrom      string
	classifySubject   string
	classifyBody      string
	classifyStdin     bool
	classifyFirstTime bool
	classifyFollowUp  bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify one email without touching the mailbox",
	Long: `Run the tier classifier on an email given on the command line.
The rules are the built-in set plus OFF_LIMITS_CONTACTS and RULES_FILE.`,
	Example: `  triage classify --from ceo@bigclient.com --subject "Lunch?"
  triage classify --from news@x.com --subject "Weekly digest" --body "..."
  cat body.txt | triage classify --from a@x.com --subject "Offer" --stdin --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.ScopeLocal)
		if err != nil {
			return err
		}
		c, err := newClassifier(cfg)
		if err != nil {
			return err
		}

		body := classifyBody
		if classifyStdin {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			body = string(b)
		}

		msg := &types.Message{
			ID:         "cli",
			From:       classifyFrom,
			Subject:    classifySubject,
			BodyText:   body,
			ReceivedAt: time.Now().UTC(),
		}
		dec := c.Classify(msg, classify.Context{
			FirstTimeSender: classifyFirstTime,
			FollowUp:        classifyFollowUp,
		})

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), dec)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, display.TierBadge(dec.Tier, dec.AllowedAction))
		fmt.Fprintf(w, "  category  %s\n", dec.MatchedRuleCategory)
		fmt.Fprintf(w, "  labels    %s\n", strings.Join(dec.Label.All(), ", "))
		fmt.Fprintf(w, "  reason    %s\n", dec.Reason)
		if dec.Reply {
			fmt.Fprintln(w, "  "+display.Success.Render("auto-reply allowed"))
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyFrom, "from", "", "Sender address")
	classifyCmd.Flags().StringVar(&classifySubject, "subject", "", "Subject line")
	classifyCmd.Flags().StringVar(&classifyBody, "body", "", "Body text")
	classifyCmd.Flags().BoolVar(&classifyStdin, "stdin", false, "Read the body from stdin")
	classifyCmd.Flags().BoolVar(&classifyFirstTime, "first-time", false, "Treat the sender as never seen before")
	classifyCmd.Flags().BoolVar(&classifyFollowUp, "follow-up", false, "Treat the email as a follow-up on a stale thread")
	classifyCmd.MarkFlagRequired("from")
	classifyCmd.MarkFlagsMutuallyExclusive("body", "stdin")
	rootCmd.AddCommand(classifyCmd)
}
