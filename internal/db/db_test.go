package db

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/cost"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), ".triage", "triage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestEmails_InsertAndRecent(t *testing.T) {
	d := openTest(t)
	for i, id := range []string{"a", "b", "c"} {
		m := &types.Message{
			ID: id, From: "x@example.com", Subject: "s " + id,
			ReceivedAt: t0.Add(time.Duration(i) * time.Hour),
			Labels:     []string{"INBOX", "UNREAD"},
		}
		require.NoError(t, d.InsertEmail(m, "T1"))
	}
	// Duplicate insert is ignored.
	require.NoError(t, d.InsertEmail(&types.Message{ID: "a", From: "other", Subject: "dup", ReceivedAt: t0}, "T2"))

	assert.Equal(t, 3, d.EmailCount())

	recent, err := d.RecentEmails(t0.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Message.ID)
	assert.Equal(t, "c", recent[1].Message.ID)
	assert.Equal(t, "T1", recent[0].ThreadID)
	assert.Equal(t, []string{"INBOX", "UNREAD"}, recent[0].Message.Labels)

	capped, err := d.RecentEmails(time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
	assert.Equal(t, "b", capped[0].Message.ID, "cap keeps the newest, returned oldest first")

	require.NoError(t, d.SetEmailLabels("c", []string{"INBOX", "Triage/Handled"}))
	msgs, err := d.ThreadEmails("T1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "s a", msgs[0].Subject, "duplicate insert must not overwrite")
	assert.Equal(t, []string{"INBOX", "Triage/Handled"}, msgs[2].Labels)
}

func TestDecisions_SaveUpdatePending(t *testing.T) {
	d := openTest(t)
	draft := &types.Decision{
		MessageID: "m1", ThreadID: "T1", Subject: "Please decline", From: "a@x.com",
		Tier: types.TierDraft, Category: types.CategoryDecline, Label: "Decline",
		Action: types.ActionDraftForApproval,
	}
	require.NoError(t, d.SaveDecision(draft))
	assert.Equal(t, types.StatusPending, draft.Status)

	flag := &types.Decision{
		MessageID: "m2", ThreadID: "T2", Subject: "Board meeting", Tier: types.TierFlag,
		Category: types.CategoryGovernance, Action: types.ActionFlagOnly, Status: types.StatusDone,
	}
	require.NoError(t, d.SaveDecision(flag))

	pending, err := d.PendingApproval(0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "m2", pending[0].MessageID)

	require.NoError(t, d.UpdateDecisionStatus("m1", types.StatusDone, "draft r-123"))
	pending, err = d.PendingApproval(10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "m1", pending[0].MessageID, "tier 3 sorts before tier 4")

	got, err := d.GetDecision("m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "draft r-123", got.Note)
	assert.Equal(t, types.CategoryDecline, got.Category)

	require.NoError(t, d.UpdateDecisionStatus("m1", types.StatusReviewed, ""))
	got, _ = d.GetDecision("m1")
	assert.Equal(t, types.StatusReviewed, got.Status)
	assert.Equal(t, "draft r-123", got.Note, "empty note keeps the previous one")

	assert.Error(t, d.UpdateDecisionStatus("missing", types.StatusDone, ""))
	none, err := d.GetDecision("missing")
	require.NoError(t, err)
	assert.Nil(t, none)

	byTier, err := d.DecisionCountByTier()
	require.NoError(t, err)
	assert.Equal(t, 1, byTier[types.TierDraft])
	assert.Equal(t, 1, byTier[types.TierFlag])
	assert.Equal(t, 0, byTier[types.TierEscalate])

	byStatus, err := d.DecisionCountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, byStatus[types.StatusReviewed])
	assert.Equal(t, 1, byStatus[types.StatusDone])
}

func TestMarkers(t *testing.T) {
	d := openTest(t)
	has, err := d.HasMarker("m1", "escalate")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, d.SetMarker("m1", "escalate", "sms"))
	require.NoError(t, d.SetMarker("m1", "escalate", "again"))

	has, err = d.HasMarker("m1", "escalate")
	require.NoError(t, err)
	assert.True(t, has)
	has, _ = d.HasMarker("m1", "reply")
	assert.False(t, has)
	assert.Equal(t, 1, d.MarkerCount())
}

func TestRuns_HealthTracking(t *testing.T) {
	d := openTest(t)

	_, ok, err := d.LastSuccessfulRun()
	require.NoError(t, err)
	assert.False(t, ok)

	record := func(start time.Time, healthy bool) {
		r := &types.RunSummary{Mode: "routine", StartedAt: FormatTime(start)}
		require.NoError(t, d.StartRun(r))
		require.NotEmpty(t, r.RunID)
		r.Healthy = healthy
		if !healthy {
			r.Failures = 1
			r.Error = "boom"
		}
		require.NoError(t, d.FinishRun(r))
	}
	record(t0, true)
	record(t0.Add(time.Hour), false)
	record(t0.Add(2*time.Hour), false)

	last, ok, err := d.LastSuccessfulRun()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0, last)

	n, err := d.ConsecutiveFailures()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// An unfinished run does not count either way.
	require.NoError(t, d.StartRun(&types.RunSummary{Mode: "routine", StartedAt: FormatTime(t0.Add(3 * time.Hour))}))
	n, _ = d.ConsecutiveFailures()
	assert.Equal(t, 2, n)

	record(t0.Add(4*time.Hour), true)
	n, _ = d.ConsecutiveFailures()
	assert.Equal(t, 0, n)

	runs, err := d.RecentRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].Healthy)
	assert.Empty(t, runs[1].FinishedAt)

	assert.Error(t, d.FinishRun(&types.RunSummary{RunID: "nope"}))
}

func TestFetchCursor(t *testing.T) {
	d := openTest(t)
	_, ok, err := d.FetchCursor()
	require.NoError(t, err)
	assert.False(t, ok)

	// Runs without a cursor fall back to the newest healthy start.
	legacy := &types.RunSummary{Mode: "routine", StartedAt: FormatTime(t0), Healthy: true}
	require.NoError(t, d.StartRun(legacy))
	require.NoError(t, d.FinishRun(legacy))
	at, ok, err := d.FetchCursor()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0, at)

	// An unhealthy run still moves the cursor it recorded.
	r := &types.RunSummary{Mode: "routine", StartedAt: FormatTime(t0.Add(time.Hour)),
		Error: "1 messages failed", FetchedThrough: FormatTime(t0.Add(30 * time.Minute))}
	require.NoError(t, d.StartRun(r))
	require.NoError(t, d.FinishRun(r))
	at, _, err = d.FetchCursor()
	require.NoError(t, err)
	assert.Equal(t, t0.Add(30*time.Minute), at)

	// An unfinished run is ignored.
	require.NoError(t, d.StartRun(&types.RunSummary{Mode: "routine", StartedAt: FormatTime(t0.Add(2 * time.Hour))}))
	at, _, _ = d.FetchCursor()
	assert.Equal(t, t0.Add(30*time.Minute), at)

	runs, err := d.RecentRuns(3)
	require.NoError(t, err)
	assert.Equal(t, FormatTime(t0.Add(30*time.Minute)), runs[1].FetchedThrough)
}

func TestOpen_MigratesOlderRunsTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = conn.Exec(`CREATE TABLE runs (id TEXT PRIMARY KEY, mode TEXT NOT NULL, started_at TEXT NOT NULL,
		finished_at TEXT, processed INTEGER DEFAULT 0, failures INTEGER DEFAULT 0, healthy INTEGER, error TEXT)`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	d, err := Open(path)
	require.NoError(t, err)
	defer d.Close()
	r := &types.RunSummary{Mode: "routine", StartedAt: FormatTime(t0), FetchedThrough: FormatTime(t0)}
	require.NoError(t, d.StartRun(r))
	require.NoError(t, d.FinishRun(r))

	// Reopening an up-to-date database is a no-op.
	again, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestCostSnapshots(t *testing.T) {
	d := openTest(t)
	none, err := d.LatestCostSnapshot()
	require.NoError(t, err)
	assert.Nil(t, none)

	tr := cost.New(cost.DefaultPricing())
	tr.TrackClaudeUsage("sonnet", 1000, 500)
	require.NoError(t, d.SaveCostSnapshot(tr.Snapshot()))
	tr.TrackEmailProcessed()
	require.NoError(t, d.SaveCostSnapshot(tr.Snapshot()))

	got, err := d.LatestCostSnapshot()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tr.Snapshot(), *got)
}
