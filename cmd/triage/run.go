package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/auth"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/config"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/display"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/engine"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/mailbox"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/notify"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/orchestrator"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

var (
	runNow       string
	runDryRun    bool
	runDigestOut string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scheduled triage invocation",
	Long: `Fetch messages received since the stored cursor, classify each one,
and act on it: escalate (tier 1), label and reply (tier 2), draft (tier 3)
or flag (tier 4). At the briefing, check and report hours a digest is built.

Every side effect is recorded, so a repeated run never sends twice.`,
	Example: `  triage run
  triage run --dry-run --json
  triage run --now 2026-03-02T12:00:00Z --digest-out brief.html`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		now, err := parseNow(runNow)
		if err != nil {
			return err
		}
		cfg, err := config.Load(config.ScopeRun)
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		classifier, err := newClassifier(cfg)
		if err != nil {
			return err
		}
		tracker, err := restoreTracker(store)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := auth.NewService(ctx, cfg.CredentialsPath, log)
		if err != nil {
			return err
		}

		var escalator orchestrator.Escalator = notify.NewWebhook(cfg.WebhookURL)
		if runDryRun {
			escalator = notify.Log{Log: log.Child("component", "notify")}
		}

		o := orchestrator.New(orchestrator.Deps{
			Mail:      mailbox.New(svc, log.Child("component", "mailbox")),
			Escalator: escalator,
			Engine: &engine.Runner{
				Command: cfg.EngineCommand,
				Args:    cfg.EngineArgs,
				Model:   cfg.EngineModel,
				Timeout: cfg.EngineTimeout,
				Grace:   cfg.EngineKillGrace,
				Log:     log.Child("component", "engine"),
			},
			Store:      store,
			Detector:   newDetector(cfg, log),
			Classifier: classifier,
			Tracker:    tracker,
			Log:        log,
		}, orchestrator.Options{
			Channel:            cfg.Channel,
			Model:              cfg.EngineModel,
			ComputeMemoryMB:    cfg.ComputeMemoryMB,
			AlertAfterFailures: cfg.AlertAfterFailures,
			HistoryWindow:      historyWindow,
			HistoryLimit:       cfg.ThreadCapacity,
			Schedule:           schedule(cfg),
			Retry:              cfg.RetryOptions(),
			DryRun:             runDryRun,
		})

		res, runErr := o.Run(ctx, now)
		if res == nil {
			return runErr
		}
		if err := writeDigest(res); err != nil {
			return err
		}

		if jsonOutput {
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		} else if !quietFlag {
			printRun(cmd, res)
		}

		if runErr != nil {
			return runErr
		}
		if !res.Summary.Healthy {
			return fmt.Errorf("run unhealthy: %s", res.Summary.Error)
		}
		return nil
	},
}

func writeDigest(res *orchestrator.RunResult) error {
	if runDigestOut == "" || res.Digest == nil {
		return nil
	}
	if err := os.WriteFile(runDigestOut, []byte(res.Digest.HTML), 0o644); err != nil {
		return fmt.Errorf("write digest: %w", err)
	}
	return nil
}

func printRun(cmd *cobra.Command, res *orchestrator.RunResult) {
	w := cmd.OutOrStdout()
	s := res.Summary
	fmt.Fprintf(w, "%s  %s\n", display.Bold.Render(orchestrator.Mode(s.Mode).Title()), display.Dim.Render(s.RunID))
	fmt.Fprintf(w, "  window since %s\n\n", res.Since.Format("Mon 2 Jan 15:04 MST"))

	for _, out := range res.Outcomes {
		fmt.Fprintf(w, "  %s  %s  %s\n",
			display.TierBadge(out.Decision.Tier, out.Decision.AllowedAction),
			display.Truncate(out.Subject, 50),
			display.StatusLabel(out.Status))
		if out.Error != "" {
			fmt.Fprintf(w, "      %s\n", display.ErrStyle.Render(out.Error))
		}
	}
	if len(res.Outcomes) > 0 {
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "  %d processed, %d failed", s.Processed, s.Failures)
	for _, t := range []types.Tier{types.TierEscalate, types.TierHandle, types.TierDraft, types.TierFlag} {
		if n := s.ByTier[t]; n > 0 {
			fmt.Fprintf(w, ", %d %s", n, t)
		}
	}
	fmt.Fprintln(w)
	if res.Alerted {
		fmt.Fprintln(w, "  "+display.ErrStyle.Render("pipeline alert sent"))
	}
	if res.Digest != nil {
		dest := "use --digest-out to save it"
		if runDigestOut != "" {
			dest = "written to " + runDigestOut
		}
		fmt.Fprintf(w, "  digest: %d pending approval, %s\n", res.Digest.Pending, dest)
	}
}

func init() {
	runCmd.Flags().StringVar(&runNow, "now", "", "Run as if at this RFC 3339 time (selects the mode)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Classify without side effects or a run record")
	runCmd.Flags().StringVar(&runDigestOut, "digest-out", "", "Write the digest HTML to this file")
	rootCmd.AddCommand(runCmd)
}

// Compile-time checks that the adapters satisfy the orchestrator.
var (
	_ orchestrator.MailSource = (*mailbox.Source)(nil)
	_ orchestrator.Escalator  = (*notify.Webhook)(nil)
	_ orchestrator.Escalator  = notify.Log{}
	_ orchestrator.Engine     = (*engine.Runner)(nil)
)
