package main

import (
	"fmt"
	"os"
	"time"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/classify"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/config"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/cost"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/db"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/logging"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/orchestrator"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/thread"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

// historyWindow bounds the stored mail replayed into a fresh thread index.
const historyWindow = 30 * 24 * time.Hour

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(os.Stderr, "triage", logging.ParseLevel(cfg.LogLevel))
}

// newClassifier builds the rule set from the built-in rules, the configured
// off-limits list and RULES_FILE if set.
func newClassifier(cfg *config.Config) (*classify.Classifier, error) {
	rs := classify.DefaultRuleSet(cfg.OffLimits)
	if cfg.RulesFile != "" {
		var err error
		rs, err = classify.LoadRules(cfg.RulesFile, rs)
		if err != nil {
			return nil, err
		}
	}
	return classify.New(rs)
}

func newDetector(cfg *config.Config, log *logging.Logger) *thread.Detector {
	return thread.NewDetector(thread.Options{
		FollowUpThreshold: cfg.FollowUpThreshold(),
		Capacity:          cfg.ThreadCapacity,
		OnEvict: func(t *types.Thread) {
			log.Debug("thread evicted", "thread_id", t.ThreadID, "emails", t.EmailCount)
		},
	})
}

func schedule(cfg *config.Config) orchestrator.Schedule {
	return orchestrator.Schedule{
		Location:     cfg.Location,
		BriefingHour: cfg.BriefingHour,
		CheckHour:    cfg.CheckHour,
		ReportHour:   cfg.ReportHour,
	}
}

// restoreTracker rebuilds the cost ledger from the latest snapshot.
func restoreTracker(s *db.DB) (*cost.Tracker, error) {
	tr := cost.New(cost.DefaultPricing())
	if s == nil {
		return tr, nil
	}
	snap, err := s.LatestCostSnapshot()
	if err != nil {
		return nil, fmt.Errorf("load cost snapshot: %w", err)
	}
	if snap != nil {
		tr.Restore(*snap)
	}
	return tr, nil
}

// parseNow reads an RFC 3339 --now flag, defaulting to the wall clock.
func parseNow(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--now must be RFC 3339: %w", err)
	}
	return t, nil
}
