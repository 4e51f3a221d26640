package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/classify"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/cost"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/db"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/engine"
	terrors "github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/errors"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/retry"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/thread"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

var (
	nyc, _ = time.LoadLocation("America/New_York")
	// 10:00 in New York: routine mode.
	routineNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
)

var errTransient = errors.New("connection reset by peer")

// --- fakes ---

type fakeMail struct {
	mu       sync.Mutex
	msgs     []*types.Message
	fetchErr error
	labelErr error
	// limit caps a fetch to its oldest messages, as the Gmail source does.
	limit   int
	since    []time.Time
	labels   map[string][]string
	replies  map[string][]string
	drafts   map[string][]string
}

func newFakeMail(msgs ...*types.Message) *fakeMail {
	return &fakeMail{
		msgs:    msgs,
		labels:  map[string][]string{},
		replies: map[string][]string{},
		drafts:  map[string][]string{},
	}
}

func (f *fakeMail) FetchNewMessages(_ context.Context, since time.Time) ([]*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, since)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]*types.Message, 0, len(f.msgs))
	for _, m := range f.msgs {
		if m.ReceivedAt.Before(since) {
			continue
		}
		c := *m
		c.Labels = append(append([]string(nil), m.Labels...), f.labels[m.ID]...)
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if f.limit > 0 && len(out) > f.limit {
		out = out[:f.limit]
	}
	return out, nil
}

func (f *fakeMail) ApplyLabel(_ context.Context, id, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.labelErr != nil {
		return f.labelErr
	}
	f.labels[id] = append(f.labels[id], label)
	return nil
}

func (f *fakeMail) SendReply(_ context.Context, id, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[id] = append(f.replies[id], body)
	return nil
}

func (f *fakeMail) SaveDraft(_ context.Context, id, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts[id] = append(f.drafts[id], body)
	return nil
}

type fakeEscalator struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeEscalator) Notify(_ context.Context, channel, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, channel+": "+message)
	return nil
}

type fakeEngine struct {
	mu       sync.Mutex
	payloads []engine.Payload
	err      error
}

func (f *fakeEngine) Run(_ context.Context, p engine.Payload) (*engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Result{
		Body:  "generated " + string(p.Task) + " for " + p.Subject,
		Model: "sonnet",
		Usage: engine.Usage{InputTokens: 1000, OutputTokens: 200},
	}, nil
}

func (f *fakeEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

// flakyMarkers fails SetMarker for one action a fixed number of times.
type flakyMarkers struct {
	*db.DB
	action   string
	failures int
}

func (f *flakyMarkers) SetMarker(messageID, action, detail string) error {
	if action == f.action && f.failures > 0 {
		f.failures--
		return errTransient
	}
	return f.DB.SetMarker(messageID, action, detail)
}

// --- harness ---

type harness struct {
	store   *db.DB
	// wrapped replaces store as the orchestrator's Store when set.
	wrapped Store
	mail    *fakeMail
	esc     *fakeEscalator
	eng     *fakeEngine
	tracker *cost.Tracker
	opts    Options
}

func newHarness(t *testing.T, msgs ...*types.Message) *harness {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), ".triage", "triage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &harness{
		store:   store,
		mail:    newFakeMail(msgs...),
		esc:     &fakeEscalator{},
		eng:     &fakeEngine{},
		tracker: cost.New(cost.DefaultPricing()),
		opts: Options{
			Channel:            "sms",
			Model:              "sonnet",
			AlertAfterFailures: 3,
			Schedule:           Schedule{Location: nyc, BriefingHour: 7, CheckHour: 13, ReportHour: 17},
			Retry: retry.Options{
				MaxRetries:   3,
				InitialDelay: time.Millisecond,
				MaxDelay:     2 * time.Millisecond,
				Condition:    retry.Transient(),
			},
		},
	}
}

// orchestrator builds a fresh Orchestrator, as a new process would.
func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	c, err := classify.New(classify.DefaultRuleSet([]string{"ceo@bigclient.com"}))
	require.NoError(t, err)
	var store Store = h.store
	if h.wrapped != nil {
		store = h.wrapped
	}
	return New(Deps{
		Mail:       h.mail,
		Escalator:  h.esc,
		Engine:     h.eng,
		Store:      store,
		Detector:   thread.NewDetector(thread.Options{}),
		Classifier: c,
		Tracker:    h.tracker,
	}, h.opts)
}

func (h *harness) run(t *testing.T, now time.Time) *RunResult {
	t.Helper()
	res, err := h.orchestrator(t).Run(context.Background(), now)
	require.NoError(t, err)
	return res
}

func mail(id, from, subject string) *types.Message {
	return &types.Message{
		ID:                id,
		ProtocolMessageID: "<" + id + "@mail>",
		From:              from,
		To:                "me@example.com",
		Subject:           subject,
		ReceivedAt:        routineNow.Add(-time.Hour),
	}
}

func outcome(t *testing.T, res *RunResult, id string) Outcome {
	t.Helper()
	for _, o := range res.Outcomes {
		if o.MessageID == id {
			return o
		}
	}
	t.Fatalf("no outcome for %s", id)
	return Outcome{}
}

// --- tests ---

func TestRun_TierActions(t *testing.T) {
	h := newHarness(t,
		mail("esc", "CEO <ceo@bigclient.com>", "Quick question"),
		mail("news", "news@publisher.io", "Newsletter unsubscribe request"),
		mail("decline", "pat@example.org", "Please decline Thursday's meeting for me"),
		mail("sched", "alice@example.com", "Can we schedule a call?"),
		mail("flag", "sec@example.com", "Board meeting minutes"),
	)
	res := h.run(t, routineNow)

	sum := res.Summary
	assert.Equal(t, string(ModeRoutine), sum.Mode)
	assert.True(t, sum.Healthy)
	assert.Equal(t, 5, sum.Processed)
	assert.Equal(t, 0, sum.Failures)
	assert.Equal(t, map[types.Tier]int{types.TierEscalate: 1, types.TierHandle: 2, types.TierDraft: 1, types.TierFlag: 1}, sum.ByTier)

	// Tier 1: one escalation, never a reply or draft.
	require.Len(t, h.esc.sent, 1)
	assert.Contains(t, h.esc.sent[0], "sms: Tier 1: Quick question from ceo@bigclient.com")
	assert.Empty(t, h.mail.replies["esc"])
	assert.Empty(t, h.mail.drafts["esc"])
	assert.ElementsMatch(t, []string{"VIP", "Triage/Escalate"}, h.mail.labels["esc"])

	// Tier 2 without a reply template: labels only.
	assert.ElementsMatch(t, []string{"Newsletters", "Triage/Handled"}, h.mail.labels["news"])
	assert.Empty(t, h.mail.replies["news"])
	assert.Equal(t, types.ActionAutoRespond, outcome(t, res, "news").Decision.AllowedAction)

	// Tier 2 with a reply template: one reply.
	assert.Equal(t, []string{"generated reply for Can we schedule a call?"}, h.mail.replies["sched"])

	// Tier 3: a draft, nothing sent.
	assert.Equal(t, []string{"generated draft for Please decline Thursday's meeting for me"}, h.mail.drafts["decline"])
	assert.Empty(t, h.mail.replies["decline"])

	// Tier 4: labels and a recorded summary only.
	flag := outcome(t, res, "flag")
	assert.Equal(t, types.TierFlag, flag.Decision.Tier)
	assert.Contains(t, flag.Note, "flagged governance: Board meeting minutes")
	assert.Empty(t, h.mail.replies["flag"])
	assert.Empty(t, h.mail.drafts["flag"])

	assert.Equal(t, 2, h.eng.calls())
	c := h.tracker.Costs()
	assert.Equal(t, int64(5), c.Metrics.EmailsProcessed)
	assert.Equal(t, int64(5), c.Metrics.ClassificationsPerformed)
	assert.Equal(t, int64(2), c.Metrics.ResponsesGenerated)
	assert.Equal(t, int64(2000), c.Usage.ClaudeInputTokens)
	assert.Equal(t, int64(1), c.Usage.LambdaInvocations)

	d, err := h.store.GetDecision("decline")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, d.Status)
	assert.Equal(t, "draft saved for approval", d.Note)

	snap, err := h.store.LatestCostSnapshot()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, h.tracker.Snapshot(), *snap)
}

func TestRun_SecondRunHasNoSideEffects(t *testing.T) {
	h := newHarness(t,
		mail("esc", "ceo@bigclient.com", "Quick question"),
		mail("sched", "alice@example.com", "Can we schedule a call?"),
		mail("decline", "pat@example.org", "Regrets for Friday"),
	)
	h.run(t, routineNow)
	second := h.run(t, routineNow.Add(time.Hour))

	for _, o := range second.Outcomes {
		assert.Equal(t, OutcomeSkipped, o.Status, o.MessageID)
	}
	assert.Len(t, h.esc.sent, 1)
	assert.Len(t, h.mail.replies["sched"], 1)
	assert.Len(t, h.mail.drafts["decline"], 1)
	assert.Equal(t, 2, h.eng.calls())
	assert.True(t, second.Summary.Healthy)
	assert.Equal(t, 0, second.Summary.Processed)
}

func TestRun_FailedMessageIsReofferedWithoutRepeatingDoneActions(t *testing.T) {
	h := newHarness(t, mail("sched", "alice@example.com", "Can we schedule a call?"))
	h.mail.labelErr = errTransient

	first := h.run(t, routineNow)
	o := outcome(t, first, "sched")
	assert.Equal(t, types.StatusFailed, o.Status)
	assert.False(t, first.Summary.Healthy)
	assert.Equal(t, 1, first.Summary.Failures)
	assert.Len(t, h.mail.replies["sched"], 1, "reply went out before labeling failed")

	done, err := h.store.HasMarker("sched", markerProcessed)
	require.NoError(t, err)
	assert.False(t, done)
	d, _ := h.store.GetDecision("sched")
	assert.Equal(t, types.StatusFailed, d.Status)

	h.mail.labelErr = nil
	second := h.run(t, routineNow.Add(time.Hour))

	assert.Equal(t, types.StatusDone, outcome(t, second, "sched").Status)
	assert.Len(t, h.mail.replies["sched"], 1, "reply is not sent twice")
	assert.Equal(t, 1, h.eng.calls(), "engine is not asked again")
	assert.ElementsMatch(t, []string{"Meetings", "Triage/Handled"}, h.mail.labels["sched"])
	window := routineNow.Add(-72*time.Hour - fetchOverlap)
	assert.Equal(t, []time.Time{window, window}, h.mail.since,
		"the cursor does not pass a failed message")
}

func TestRun_UnrecordedSideEffectIsNotRepeated(t *testing.T) {
	h := newHarness(t, mail("sched", "alice@example.com", "Can we schedule a call?"))
	h.wrapped = &flakyMarkers{DB: h.store, action: markerReply, failures: 1}

	first := h.run(t, routineNow)

	assert.Equal(t, types.StatusDone, outcome(t, first, "sched").Status)
	assert.Len(t, h.mail.replies["sched"], 1, "marker write is not retried with the send")
	assert.Equal(t, 1, h.eng.calls())
	done, err := h.store.HasMarker("sched", markerReply)
	require.NoError(t, err)
	assert.False(t, done)

	second := h.run(t, routineNow.Add(time.Hour))
	assert.Equal(t, OutcomeSkipped, outcome(t, second, "sched").Status)
	assert.Len(t, h.mail.replies["sched"], 1)
}

func TestRun_BacklogDrainsAcrossRuns(t *testing.T) {
	var msgs []*types.Message
	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		m := mail(id, "news@publisher.io", "Weekly newsletter "+id)
		m.ReceivedAt = routineNow.Add(-10*time.Hour + time.Duration(i)*time.Hour)
		msgs = append(msgs, m)
	}
	h := newHarness(t, msgs...)
	h.mail.limit = 2

	first := h.run(t, routineNow)
	assert.Len(t, first.Outcomes, 2)
	assert.Equal(t, "m1", first.Outcomes[0].MessageID)
	assert.Equal(t, db.FormatTime(msgs[1].ReceivedAt), first.Summary.FetchedThrough)

	for i := 1; i <= 3; i++ {
		h.run(t, routineNow.Add(time.Duration(i)*time.Minute))
	}
	for _, m := range msgs {
		done, err := h.store.HasMarker(m.ID, markerProcessed)
		require.NoError(t, err)
		assert.True(t, done, m.ID)
	}
	assert.Contains(t, h.mail.labels["m5"], "Newsletters")
}

func TestRun_LabelsAreCached(t *testing.T) {
	h := newHarness(t, mail("news", "news@publisher.io", "Weekly newsletter"))
	h.run(t, routineNow)

	emails, err := h.store.RecentEmails(routineNow.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.ElementsMatch(t, h.mail.labels["news"], emails[0].Message.Labels)
}

func TestRun_EscalationFailureDoesNotAbortBatch(t *testing.T) {
	h := newHarness(t,
		mail("esc", "ceo@bigclient.com", "Quick question"),
		mail("news", "news@publisher.io", "Weekly newsletter"),
	)
	h.esc.err = terrors.NewNotifyFailed("sms", 503, "unavailable")

	res := h.run(t, routineNow)

	assert.Equal(t, types.StatusFailed, outcome(t, res, "esc").Status)
	assert.Contains(t, outcome(t, res, "esc").Error, "NOTIFY_FAILED")
	assert.Equal(t, types.StatusDone, outcome(t, res, "news").Status)
	assert.Equal(t, 1, res.Summary.Failures)
	assert.Equal(t, 1, res.Summary.Processed)
	assert.False(t, res.Summary.Healthy)
	assert.Equal(t, "1 messages failed", res.Summary.Error)
	assert.ElementsMatch(t, []string{"VIP", "Triage/Escalate"}, h.mail.labels["esc"], "labels still applied")
}

func TestRun_PipelineAlertAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t)
	h.opts.AlertAfterFailures = 2
	h.mail.fetchErr = errTransient

	var alerted []bool
	for i := 0; i < 4; i++ {
		res, err := h.orchestrator(t).Run(context.Background(), routineNow.Add(time.Duration(i)*time.Hour))
		require.Error(t, err)
		assert.True(t, terrors.Is(err, terrors.ErrExecutionFailed))
		require.NotNil(t, res)
		assert.False(t, res.Summary.Healthy)
		alerted = append(alerted, res.Alerted)
	}

	assert.Equal(t, []bool{false, true, false, true}, alerted)
	require.Len(t, h.esc.sent, 2)
	assert.Contains(t, h.esc.sent[0], "Triage pipeline unhealthy: 2 consecutive failed runs")
	assert.Contains(t, h.esc.sent[1], "4 consecutive failed runs")

	// A healthy run resets the streak.
	h.mail.fetchErr = nil
	res := h.run(t, routineNow.Add(5*time.Hour))
	assert.True(t, res.Summary.Healthy)
	n, err := h.store.ConsecutiveFailures()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRun_FetchWindowFollowsCursor(t *testing.T) {
	h := newHarness(t)
	first := h.run(t, routineNow)
	assert.Equal(t, routineNow.Add(-72*time.Hour), first.Since)

	second := h.run(t, routineNow.Add(time.Hour))
	assert.Equal(t, first.Since, second.Since, "an empty fetch keeps the cursor")

	h.mail.msgs = []*types.Message{mail("news", "news@publisher.io", "Weekly newsletter")}
	h.run(t, routineNow.Add(2*time.Hour))
	fourth := h.run(t, routineNow.Add(3*time.Hour))
	assert.Equal(t, routineNow.Add(-time.Hour), fourth.Since)
	assert.Equal(t, routineNow.Add(-time.Hour-fetchOverlap), h.mail.since[3])
}

func TestRun_EngineTimeoutIsRetriedThenFails(t *testing.T) {
	h := newHarness(t, mail("decline", "pat@example.org", "Regrets for Friday"))
	h.eng.err = terrors.NewExecutionTimeout("engine", time.Minute)

	res := h.run(t, routineNow)

	o := outcome(t, res, "decline")
	assert.Equal(t, types.StatusFailed, o.Status)
	assert.Contains(t, o.Error, "EXECUTION_TIMEOUT")
	assert.Equal(t, 3, h.eng.calls())
	assert.Empty(t, h.mail.drafts)
}

func TestRun_DryRunHasNoSideEffects(t *testing.T) {
	h := newHarness(t,
		mail("esc", "ceo@bigclient.com", "Quick question"),
		mail("sched", "alice@example.com", "Can we schedule a call?"),
	)
	h.opts.DryRun = true

	res := h.run(t, routineNow)

	assert.Equal(t, "dry-run", res.Summary.RunID)
	for _, o := range res.Outcomes {
		assert.Equal(t, OutcomeDryRun, o.Status)
	}
	assert.Equal(t, types.TierEscalate, outcome(t, res, "esc").Decision.Tier)
	assert.Empty(t, h.esc.sent)
	assert.Empty(t, h.mail.labels)
	assert.Empty(t, h.mail.replies)
	assert.Zero(t, h.eng.calls())
	assert.Zero(t, h.store.MarkerCount())

	runs, err := h.store.RecentRuns(5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_ThreadIndexSurvivesRestart(t *testing.T) {
	first := mail("a", "alice@example.com", "Budget")
	h := newHarness(t, first)
	res := h.run(t, routineNow)
	threadID := outcome(t, res, "a").ThreadID
	require.NotEmpty(t, threadID)

	reply := mail("b", "bob@example.com", "Something else entirely")
	reply.InReplyTo = first.ProtocolMessageID
	h.mail.msgs = []*types.Message{reply}

	res = h.run(t, routineNow.Add(time.Hour))
	assert.Equal(t, threadID, outcome(t, res, "b").ThreadID)
}

func TestRun_DigestModes(t *testing.T) {
	h := newHarness(t, mail("esc", "ceo@bigclient.com", "Quick question"))

	// 07:00 EST
	brief := h.run(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, string(ModeMorningBrief), brief.Summary.Mode)
	require.NotNil(t, brief.Digest)
	assert.Equal(t, "Morning brief", brief.Digest.Title)
	assert.Equal(t, 1, brief.Digest.ByTier[1])
	assert.Contains(t, brief.Digest.HTML, "Tier 1 Escalated: 1")
	assert.Nil(t, brief.Digest.Cost)

	// 17:00 EST
	eod := h.run(t, time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC))
	require.NotNil(t, eod.Digest)
	assert.Equal(t, "End of day report", eod.Digest.Title)
	require.NotNil(t, eod.Digest.Cost)
	assert.Contains(t, eod.Digest.Markdown, "## Cost")

	routine := h.run(t, routineNow)
	assert.Nil(t, routine.Digest)
}

func TestRun_PayloadCarriesThreadContext(t *testing.T) {
	first := mail("a", "pat@example.org", "Offsite")
	first.BodyText = "Are you coming?"
	second := mail("b", "pat@example.org", "Re: Offsite")
	second.InReplyTo = first.ProtocolMessageID
	second.BodyText = "Sorry, I have to decline."
	second.ReceivedAt = first.ReceivedAt.Add(time.Minute)

	h := newHarness(t, first, second)
	h.run(t, routineNow)

	var last engine.Payload
	for _, p := range h.eng.payloads {
		if p.Subject == "Re: Offsite" {
			last = p
		}
	}
	assert.Equal(t, engine.TaskDraft, last.Task)
	assert.Equal(t, string(types.CategoryDecline), last.Category)
	require.Len(t, last.Thread, 1)
	assert.Equal(t, "Are you coming?", last.Thread[0].Body)
	assert.Contains(t, last.Instructions, "decline")
}

func TestSelectMode(t *testing.T) {
	s := Schedule{Location: nyc, BriefingHour: 7, CheckHour: 13, ReportHour: 17}
	tests := []struct {
		utc  time.Time
		want Mode
	}{
		{time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), ModeMorningBrief}, // 07:00 EST
		{time.Date(2026, 3, 2, 12, 59, 0, 0, time.UTC), ModeMorningBrief},
		{time.Date(2026, 3, 2, 18, 30, 0, 0, time.UTC), ModeMiddayCheck}, // 13:30 EST
		{time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC), ModeEODReport},    // 17:00 EST
		{time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), ModeRoutine},
		{time.Date(2026, 7, 1, 11, 0, 0, 0, time.UTC), ModeMorningBrief}, // 07:00 EDT
		{time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC), ModeRoutine},      // 08:00 EDT
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SelectMode(tt.utc, s), tt.utc.String())
	}

	assert.Equal(t, ModeMorningBrief, SelectMode(time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC), Schedule{BriefingHour: 7, CheckHour: 13, ReportHour: 17}),
		"nil location means UTC")
	assert.True(t, ModeEODReport.HasDigest())
	assert.False(t, ModeRoutine.HasDigest())
	assert.True(t, IsValidMode("midday_check"))
	assert.False(t, IsValidMode("nightly"))
}

func TestClip_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "caf", clip("café au lait", 4), "é spans bytes 3 and 4")
	assert.Equal(t, "café", clip("café au lait", 5))
	assert.Equal(t, "", clip("日本", 2))
}
