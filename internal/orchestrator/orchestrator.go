// Package orchestrator runs one triage invocation: fetch new mail, classify
// each message, perform the tier action at most once, and record run health.
//
// Every side effect goes through once, which checks a durable marker before
// acting, retries only the action itself, and sets the marker after success.
// An action that succeeded is never attempted again in the same invocation,
// even when its marker could not be written. A message is marked processed
// only when all of its actions succeeded; anything else is re-offered by the
// next invocation.
//
// The fetch window starts at the previous run's cursor: the receipt time of
// the newest message triaged before the first failure. A source that caps a
// fetch returns the oldest messages, so a backlog drains over several runs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/classify"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/cost"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/db"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/digest"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/engine"
	terrors "github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/errors"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/logging"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/retry"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/thread"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

// MailSource is the mailbox the pipeline reads and acts on.
type MailSource interface {
	FetchNewMessages(ctx context.Context, since time.Time) ([]*types.Message, error)
	ApplyLabel(ctx context.Context, messageID, label string) error
	SendReply(ctx context.Context, messageID, body string) error
	SaveDraft(ctx context.Context, messageID, body string) error
}

// Escalator delivers out-of-band alerts.
type Escalator interface {
	Notify(ctx context.Context, channel, message string) error
}

// Engine writes reply and draft bodies.
type Engine interface {
	Run(ctx context.Context, p engine.Payload) (*engine.Result, error)
}

// MarkerStore records which side effects already happened.
type MarkerStore interface {
	HasMarker(messageID, action string) (bool, error)
	SetMarker(messageID, action, detail string) error
}

// RunStore records invocation health and the cost ledger.
type RunStore interface {
	StartRun(r *types.RunSummary) error
	FinishRun(r *types.RunSummary) error
	FetchCursor() (time.Time, bool, error)
	ConsecutiveFailures() (int, error)
	RecentRuns(limit int) ([]*types.RunSummary, error)
	SaveCostSnapshot(s cost.Snapshot) error
}

// DecisionStore keeps fetched mail and classification outcomes.
type DecisionStore interface {
	InsertEmail(m *types.Message, threadID string) error
	SetEmailLabels(id string, labels []string) error
	RecentEmails(since time.Time, limit int) ([]db.StoredEmail, error)
	SaveDecision(d *types.Decision) error
	UpdateDecisionStatus(messageID, status, note string) error
	DecisionsSince(since time.Time) ([]*types.Decision, error)
	PendingApproval(limit int) ([]*types.Decision, error)
}

// Store is everything the orchestrator persists. *db.DB implements it.
type Store interface {
	MarkerStore
	RunStore
	DecisionStore
}

// Marker action names.
const (
	markerProcessed = "processed"
	markerEscalate  = "escalate"
	markerReply     = "reply"
	markerDraft     = "draft"
	markerAlert     = "pipeline_alert"
)

// Options tunes a run.
type Options struct {
	Channel            string
	Model              string
	ComputeMemoryMB    int
	AlertAfterFailures int
	// InitialLookback is the fetch window when no run recorded a cursor.
	InitialLookback time.Duration
	// HistoryWindow and HistoryLimit bound the stored mail used to rebuild
	// the thread index before the first run.
	HistoryWindow time.Duration
	HistoryLimit  int
	Schedule      Schedule
	Retry         retry.Options
	DryRun        bool
}

func (o Options) withDefaults() Options {
	if o.Channel == "" {
		o.Channel = "sms"
	}
	if o.ComputeMemoryMB <= 0 {
		o.ComputeMemoryMB = 1024
	}
	if o.AlertAfterFailures <= 0 {
		o.AlertAfterFailures = 3
	}
	if o.InitialLookback <= 0 {
		o.InitialLookback = 72 * time.Hour
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 30 * 24 * time.Hour
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 5000
	}
	if o.Schedule.Location == nil {
		o.Schedule = DefaultSchedule()
	}
	return o
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Mail       MailSource
	Escalator  Escalator
	Engine     Engine
	Store      Store
	Detector   *thread.Detector
	Classifier *classify.Classifier
	Tracker    *cost.Tracker
	Log        *logging.Logger
}

// Orchestrator executes invocations. It is not safe for concurrent Run calls.
type Orchestrator struct {
	Deps
	opts   Options
	// acted holds side effects performed by this process, keyed by
	// message ID and action.
	acted map[string]bool
	seeded bool
}

// New creates an Orchestrator.
func New(d Deps, opts Options) *Orchestrator {
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	return &Orchestrator{Deps: d, opts: opts.withDefaults(), acted: make(map[string]bool)}
}

// Outcome is what happened to one message.
type Outcome struct {
	MessageID string             `json:"message_id"`
	ThreadID  string             `json:"thread_id,omitempty"`
	Subject   string             `json:"subject"`
	Decision  types.TierDecision `json:"decision"`
	Status    string             `json:"status"`
	Note      string             `json:"note,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Outcome status values beyond the decision statuses.
const (
	OutcomeSkipped = "skipped"
	OutcomeDryRun  = "dry_run"
)

// RunResult summarises one invocation.
type RunResult struct {
	Summary  types.RunSummary `json:"summary"`
	Since    time.Time        `json:"since"`
	Outcomes []Outcome        `json:"outcomes"`
	Digest   *digest.Digest   `json:"digest,omitempty"`
	Alerted  bool             `json:"alerted"`
}

// Run performs one invocation at now. It returns an error only when the run
// as a whole could not proceed; per-message failures are reported in the
// result and in the run record.
func (o *Orchestrator) Run(ctx context.Context, now time.Time) (*RunResult, error) {
	start := time.Now()
	mode := SelectMode(now, o.opts.Schedule)
	res := &RunResult{Summary: types.RunSummary{
		Mode:      string(mode),
		StartedAt: db.FormatTime(now),
		ByTier:    make(map[types.Tier]int, 4),
	}}
	run := &res.Summary

	if o.opts.DryRun {
		run.RunID = "dry-run"
	} else if err := o.Store.StartRun(run); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	log := o.Log.Child("run_id", run.RunID, "mode", string(mode))
	log.Info("run started", "dry_run", o.opts.DryRun)
	o.Tracker.StartDay(now.In(o.opts.Schedule.Location))

	if err := o.seed(now); err != nil {
		log.Warn("could not rebuild thread index", "error", err.Error())
	}

	since, ok, err := o.Store.FetchCursor()
	if err != nil {
		return nil, fmt.Errorf("fetch cursor: %w", err)
	}
	if !ok {
		since = now.Add(-o.opts.InitialLookback)
	}
	res.Since = since

	msgs, fetchErr := retry.Do(ctx, func(ctx context.Context) ([]*types.Message, error) {
		return o.Mail.FetchNewMessages(ctx, since.Add(-fetchOverlap))
	}, o.retryOptions(log, "fetch"))
	if fetchErr != nil {
		log.Error("fetch failed", "error", fetchErr)
		run.Error = fmt.Sprintf("fetch new messages: %v", fetchErr)
	}

	cursor, blocked := since, false
	for _, msg := range msgs {
		if ctx.Err() != nil {
			run.Error = ctx.Err().Error()
			break
		}
		out := o.process(ctx, log, mode, now, msg)
		res.Outcomes = append(res.Outcomes, out)
		switch out.Status {
		case types.StatusDone, OutcomeDryRun:
			run.Processed++
		case types.StatusFailed:
			run.Failures++
			blocked = true
		}
		if out.Decision.Tier.IsValid() {
			run.ByTier[out.Decision.Tier]++
		}
		if !blocked && msg.ReceivedAt.After(cursor) {
			cursor = msg.ReceivedAt
		}
	}
	run.FetchedThrough = db.FormatTime(cursor)
	if run.Failures > 0 && run.Error == "" {
		run.Error = fmt.Sprintf("%d messages failed", run.Failures)
	}
	run.Healthy = run.Error == ""

	o.Tracker.TrackLambdaInvocation(time.Since(start).Milliseconds(), int64(o.opts.ComputeMemoryMB))

	if !o.opts.DryRun {
		if err := o.Store.FinishRun(run); err != nil {
			log.Error("could not record run", "error", err)
		}
		if err := o.Store.SaveCostSnapshot(o.Tracker.Snapshot()); err != nil {
			log.Error("could not save cost ledger", "error", err)
		}
		if !run.Healthy {
			res.Alerted = o.maybeAlert(ctx, log, run)
		}
	}

	if mode.HasDigest() {
		d, err := o.buildDigest(mode, now)
		if err != nil {
			log.Error("digest failed", "error", err)
		}
		res.Digest = d
	}

	log.Info("run finished", "processed", run.Processed, "failures", run.Failures,
		"healthy", run.Healthy, "elapsed_ms", time.Since(start).Milliseconds())

	if fetchErr != nil {
		return res, terrors.NewExecutionFailed("fetch new messages", fetchErr)
	}
	return res, nil
}

// fetchOverlap widens each fetch below the cursor. Gmail's after: has
// one-second resolution; messages seen twice are skipped by their marker.
const fetchOverlap = time.Second

// seed rebuilds the thread index from stored mail once per Orchestrator.
func (o *Orchestrator) seed(now time.Time) error {
	if o.seeded {
		return nil
	}
	o.seeded = true
	_, err := RestoreThreads(o.Detector, o.Store, now.Add(-o.opts.HistoryWindow), o.opts.HistoryLimit)
	return err
}

// RestoreThreads loads stored mail received since since into d, keeping the
// thread IDs it was filed under. It returns the number of emails restored.
func RestoreThreads(d *thread.Detector, s DecisionStore, since time.Time, limit int) (int, error) {
	stored, err := s.RecentEmails(since, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range stored {
		if e.ThreadID != "" {
			d.Restore(e.ThreadID, e.Message)
			n++
		}
	}
	return n, nil
}

func (o *Orchestrator) process(ctx context.Context, runLog *logging.Logger, mode Mode, now time.Time, msg *types.Message) Outcome {
	out := Outcome{MessageID: msg.ID, Subject: msg.Subject}
	log := runLog.Child("message_id", msg.ID)

	if !o.opts.DryRun {
		done, err := o.Store.HasMarker(msg.ID, markerProcessed)
		if err != nil {
			log.Error("marker lookup failed", "error", err)
			out.Status, out.Error = types.StatusFailed, err.Error()
			return out
		}
		if done {
			out.Status = OutcomeSkipped
			return out
		}
	}

	threadID := o.Detector.Detect(msg)
	cctx := classify.ContextFor(o.Detector, msg, threadID)
	dec := o.Classifier.Classify(msg, cctx)
	o.Tracker.TrackClassification()
	o.Tracker.TrackEmailProcessed()
	out.ThreadID, out.Decision = threadID, dec

	log = log.Child("thread_id", threadID, "tier", int(dec.Tier), "category", string(dec.MatchedRuleCategory))
	log.Info("classified", "action", string(dec.AllowedAction), "reason", dec.Reason)

	if o.opts.DryRun {
		out.Status = OutcomeDryRun
		return out
	}

	if err := o.Store.InsertEmail(msg, threadID); err != nil {
		log.Warn("could not cache email", "error", err.Error())
	}
	record := &types.Decision{
		MessageID: msg.ID,
		ThreadID:  threadID,
		Subject:   msg.Subject,
		From:      msg.From,
		Tier:      dec.Tier,
		Category:  dec.MatchedRuleCategory,
		Label:     dec.Label.Primary,
		Action:    dec.AllowedAction,
		Reason:    dec.Reason,
		Status:    types.StatusPending,
		DecidedAt: db.FormatTime(now),
	}
	if err := o.Store.SaveDecision(record); err != nil {
		log.Error("could not save decision", "error", err)
	}

	note, err := o.act(ctx, log, mode, msg, threadID, dec)
	if err != nil {
		log.Error("action failed", "error", err)
		out.Status, out.Error = types.StatusFailed, err.Error()
		if uerr := o.Store.UpdateDecisionStatus(msg.ID, types.StatusFailed, err.Error()); uerr != nil {
			log.Error("could not update decision", "error", uerr)
		}
		return out
	}

	out.Status, out.Note = types.StatusDone, note
	if err := o.Store.UpdateDecisionStatus(msg.ID, types.StatusDone, note); err != nil {
		log.Error("could not update decision", "error", err)
	}
	if err := o.Store.SetMarker(msg.ID, markerProcessed, string(dec.AllowedAction)); err != nil {
		log.Error("could not mark processed", "error", err)
	}
	return out
}

// act performs the tier action and applies labels. Both are attempted even
// if the other fails.
func (o *Orchestrator) act(ctx context.Context, log *logging.Logger, mode Mode, msg *types.Message, threadID string, dec types.TierDecision) (string, error) {
	var note string
	var actErr error

	switch dec.Tier {
	case types.TierEscalate:
		note = "escalated via " + o.opts.Channel
		actErr = o.once(ctx, log, msg.ID, markerEscalate, func(ctx context.Context) (string, error) {
			return o.opts.Channel, o.Escalator.Notify(ctx, o.opts.Channel, EscalationText(msg, dec))
		})
	case types.TierHandle:
		if dec.Reply && dec.AllowedAction == types.ActionAutoRespond {
			note = "auto-replied"
			actErr = o.respond(ctx, log, mode, msg, threadID, dec, engine.TaskReply, markerReply, o.Mail.SendReply)
		} else {
			note = "labeled"
		}
	case types.TierDraft:
		note = "draft saved for approval"
		actErr = o.respond(ctx, log, mode, msg, threadID, dec, engine.TaskDraft, markerDraft, o.Mail.SaveDraft)
	case types.TierFlag:
		note = FlagSummary(msg, dec)
	default:
		actErr = terrors.NewInternal(fmt.Errorf("unknown tier %d", dec.Tier))
	}

	labelErr := o.applyLabels(ctx, log, msg, dec.Label)
	if err := o.Store.SetEmailLabels(msg.ID, msg.Labels); err != nil {
		log.Warn("could not cache labels", "error", err.Error())
	}
	return note, errors.Join(actErr, labelErr)
}

func (o *Orchestrator) applyLabels(ctx context.Context, log *logging.Logger, msg *types.Message, label types.Label) error {
	var errs []error
	for _, l := range label.All() {
		if msg.HasLabel(l) {
			continue
		}
		err := o.once(ctx, log, msg.ID, "label:"+l, func(ctx context.Context) (string, error) {
			return l, o.Mail.ApplyLabel(ctx, msg.ID, l)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("apply label %q: %w", l, err))
			continue
		}
		msg.AddLabel(l)
	}
	return errors.Join(errs...)
}

// respond generates a body with the engine and hands it to deliver. The
// engine is not called when the side effect is already marked.
func (o *Orchestrator) respond(ctx context.Context, log *logging.Logger, mode Mode, msg *types.Message, threadID string,
	dec types.TierDecision, task engine.Task, marker string, deliver func(ctx context.Context, messageID, body string) error) error {
	if o.acted[msg.ID+"\x00"+marker] {
		return nil
	}
	done, err := o.Store.HasMarker(msg.ID, marker)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if o.Engine == nil {
		return terrors.NewExecutionFailed("no reasoning engine configured", nil)
	}

	p := o.payload(mode, task, msg, threadID, dec)
	result, err := retry.Do(ctx, func(ctx context.Context) (*engine.Result, error) {
		return o.Engine.Run(ctx, p)
	}, o.retryOptions(log, "engine"))
	if err != nil {
		return err
	}
	o.Tracker.TrackClaudeUsage(result.Model, result.Usage.InputTokens, result.Usage.OutputTokens)
	o.Tracker.TrackResponseGenerated()
	if strings.TrimSpace(result.Body) == "" {
		return terrors.NewExecutionFailed("engine returned an empty body", nil)
	}

	return o.once(ctx, log, msg.ID, marker, func(ctx context.Context) (string, error) {
		return string(task), deliver(ctx, msg.ID, result.Body)
	})
}

// once runs act under retry unless the side effect is already recorded, then
// records it. A marker that cannot be written is logged; the action still
// counts as done and is not repeated by this process.
func (o *Orchestrator) once(ctx context.Context, log *logging.Logger, messageID, action string, act func(ctx context.Context) (string, error)) error {
	key := messageID + "\x00" + action
	if o.acted[key] {
		return nil
	}
	done, err := o.Store.HasMarker(messageID, action)
	if err != nil {
		return err
	}
	if done {
		log.Debug("already done", "action", action)
		return nil
	}

	var detail string
	err = retry.Run(ctx, func(ctx context.Context) error {
		var err error
		detail, err = act(ctx)
		return err
	}, o.retryOptions(log, action))
	if err != nil {
		return err
	}
	o.acted[key] = true
	if err := o.Store.SetMarker(messageID, action, detail); err != nil {
		log.Error("side effect done but not recorded", "action", action, "error", err)
	}
	return nil
}

const maxThreadContext = 5

func (o *Orchestrator) payload(mode Mode, task engine.Task, msg *types.Message, threadID string, dec types.TierDecision) engine.Payload {
	p := engine.Payload{
		Task:         task,
		Mode:         string(mode),
		Model:        o.opts.Model,
		Tier:         int(dec.Tier),
		Category:     string(dec.MatchedRuleCategory),
		From:         msg.From,
		Subject:      msg.Subject,
		Body:         msg.BodyText,
		Instructions: instructions(task, dec.MatchedRuleCategory),
	}
	if t, ok := o.Detector.Get(threadID); ok {
		var prior []engine.ThreadEntry
		for _, e := range t.Emails {
			if e.ID == msg.ID {
				continue
			}
			prior = append(prior, engine.ThreadEntry{
				From:       e.From,
				Subject:    e.Subject,
				ReceivedAt: e.ReceivedAt,
				Body:       clip(e.BodyText, 2000),
			})
		}
		if len(prior) > maxThreadContext {
			prior = prior[len(prior)-maxThreadContext:]
		}
		p.Thread = prior
	}
	return p
}

func instructions(task engine.Task, cat types.Category) string {
	switch cat {
	case types.CategoryDecline:
		return "Draft a polite decline. Do not commit to alternatives."
	case types.CategoryWaitingFor:
		return "Draft a short acknowledgement that the follow-up was received."
	case types.CategoryFirstTimeSender:
		return "Draft a brief, neutral reply to a first-time sender."
	case types.CategoryMalformedInput, types.CategoryAmbiguous:
		return "Draft a short reply asking for clarification."
	}
	if task == engine.TaskReply {
		return fmt.Sprintf("Write a short routine reply for a %s message.", strings.ReplaceAll(string(cat), "_", " "))
	}
	return "Draft a reply for review. It will not be sent without approval."
}

func (o *Orchestrator) retryOptions(log *logging.Logger, op string) retry.Options {
	opts := o.opts.Retry
	if opts.OnRetry == nil {
		opts.OnRetry = func(attempt int, err error) {
			log.Warn("retrying", "op", op, "attempt", attempt, "error", err.Error())
		}
	}
	return opts
}

// maybeAlert notifies the escalation channel when the unhealthy streak hits
// a multiple of AlertAfterFailures.
func (o *Orchestrator) maybeAlert(ctx context.Context, log *logging.Logger, run *types.RunSummary) bool {
	n, err := o.Store.ConsecutiveFailures()
	if err != nil {
		log.Error("could not count failed runs", "error", err)
		return false
	}
	every := o.opts.AlertAfterFailures
	if n < every || n%every != 0 {
		return false
	}
	text := fmt.Sprintf("Triage pipeline unhealthy: %d consecutive failed runs. Last error: %s", n, run.Error)
	err = o.once(ctx, log, run.RunID, markerAlert, func(ctx context.Context) (string, error) {
		return o.opts.Channel, o.Escalator.Notify(ctx, o.opts.Channel, text)
	})
	if err != nil {
		log.Error("pipeline alert failed", "error", err)
		return false
	}
	log.Warn("pipeline alert sent", "consecutive_failures", n)
	return true
}

func (o *Orchestrator) buildDigest(mode Mode, now time.Time) (*digest.Digest, error) {
	decisions, err := o.Store.DecisionsSince(now.Add(-24 * time.Hour))
	if err != nil {
		return nil, err
	}
	pending, err := o.Store.PendingApproval(50)
	if err != nil {
		return nil, err
	}
	failures, err := o.Store.ConsecutiveFailures()
	if err != nil {
		return nil, err
	}
	in := digest.Input{
		Title:               mode.Title(),
		Now:                 now,
		Location:            o.opts.Schedule.Location,
		Decisions:           decisions,
		Pending:             pending,
		ConsecutiveFailures: failures,
	}
	if runs, err := o.Store.RecentRuns(1); err == nil && len(runs) > 0 {
		in.LastRun = runs[0]
	}
	if mode == ModeEODReport {
		rep := o.Tracker.Report(now.In(o.opts.Schedule.Location))
		in.Cost = &rep
	}
	return digest.Build(in)
}

// EscalationText is the out-of-band message for a Tier 1 decision.
func EscalationText(msg *types.Message, dec types.TierDecision) string {
	subject := msg.Subject
	if strings.TrimSpace(subject) == "" {
		subject = "(no subject)"
	}
	return fmt.Sprintf("Tier 1: %s from %s (%s)", subject, types.NormalizeAddress(msg.From), dec.Reason)
}

// FlagSummary is the note recorded for a Tier 4 decision.
func FlagSummary(msg *types.Message, dec types.TierDecision) string {
	return fmt.Sprintf("flagged %s: %s from %s", dec.MatchedRuleCategory, msg.Subject, types.NormalizeAddress(msg.From))
}

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
