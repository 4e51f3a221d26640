package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/config"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/mcp"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/orchestrator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the triage tools over MCP (stdio)",
	Long: `Start an MCP server on stdin/stdout exposing triage_classify, triage_mode,
triage_cost_report and triage_threads. The thread index is rebuilt from
stored mail and the cost ledger from its last snapshot. Counters changed
through the tools are not written back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.ScopeLocal)
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
		detector := newDetector(cfg, log)
		n, err := orchestrator.RestoreThreads(detector, store, time.Now().Add(-historyWindow), cfg.ThreadCapacity)
		if err != nil {
			log.Warn("could not rebuild thread index", "error", err.Error())
		}
		log.Info("mcp server starting", "emails_restored", n, "tools", mcp.AllToolNames())

		return mcp.Run(mcp.Deps{
			Classifier: classifier,
			Detector:   detector,
			Tracker:    tracker,
			Schedule:   schedule(cfg),
		}, Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
