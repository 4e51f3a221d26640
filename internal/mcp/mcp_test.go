package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/classify"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/cost"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/orchestrator"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/thread"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

var fixedNow = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC) // 13:00 in New York

func testHandlers(t *testing.T) (*Handlers, Deps) {
	t.Helper()
	c, err := classify.New(classify.DefaultRuleSet([]string{"ceo@bigclient.com"}))
	require.NoError(t, err)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	deps := Deps{
		Classifier: c,
		Detector:   thread.NewDetector(thread.Options{}),
		Tracker:    cost.New(cost.DefaultPricing()),
		Schedule:   orchestrator.Schedule{Location: ny, BriefingHour: 7, CheckHour: 13, ReportHour: 17},
		Now:        func() time.Time { return fixedNow },
	}
	return NewHandlers(deps), deps
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "first content is text")
	return text.Text
}

func unmarshalResult[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, res.IsError, resultText(t, res))
	var out T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	return out
}

func errorCode(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, res.IsError)
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &payload))
	return payload.Error.Code
}

func TestAllToolNames(t *testing.T) {
	assert.Equal(t, []string{"triage_classify", "triage_cost_report", "triage_mode", "triage_threads"}, AllToolNames())
	for name, entry := range toolRegistry {
		assert.Equal(t, name, entry.def.Name)
	}
}

func TestHandleClassify(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]any
		wantTier types.Tier
		wantCat  types.Category
	}{
		{
			name:     "off-limits sender escalates",
			args:     map[string]any{"from": "CEO <ceo@bigclient.com>", "subject": "Lunch?"},
			wantTier: types.TierEscalate,
			wantCat:  types.CategoryOffLimits,
		},
		{
			name:     "newsletter is handled",
			args:     map[string]any{"from": "news@x.com", "subject": "Weekly newsletter", "body": "Top stories"},
			wantTier: types.TierHandle,
			wantCat:  types.CategoryNewsletter,
		},
		{
			name:     "unknown sender with no match is drafted",
			args:     map[string]any{"from": "stranger@x.com", "subject": "Hello there"},
			wantTier: types.TierDraft,
			wantCat:  types.CategoryFirstTimeSender,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := testHandlers(t)
			res, err := h.HandleClassify(context.Background(), makeRequest(tt.args))
			require.NoError(t, err)

			out := unmarshalResult[ClassifyResponse](t, res)
			assert.Equal(t, tt.wantTier, out.Decision.Tier)
			assert.Equal(t, tt.wantCat, out.Decision.MatchedRuleCategory)
			assert.Equal(t, tt.wantTier.String(), out.TierName)
			assert.Contains(t, out.Labels, classify.TierLabel(tt.wantTier))
			assert.True(t, strings.HasPrefix(out.MessageID, "mcp-"))
			assert.Empty(t, out.ThreadID, "not recorded")
		})
	}
}

func TestHandleClassify_RecordJoinsThreadIndex(t *testing.T) {
	h, deps := testHandlers(t)
	ctx := context.Background()

	first := map[string]any{
		"from": "alice@x.com", "to": "me@x.com", "subject": "Hello there",
		"message_id": "a1", "received_at": "2026-03-02T09:00:00Z", "record": true,
	}
	res, err := h.HandleClassify(ctx, makeRequest(first))
	require.NoError(t, err)
	out1 := unmarshalResult[ClassifyResponse](t, res)
	assert.NotEmpty(t, out1.ThreadID)
	assert.True(t, out1.FirstTimeSender)

	second := map[string]any{
		"from": "alice@x.com", "to": "me@x.com", "subject": "Re: Hello there",
		"message_id": "a2", "received_at": "2026-03-02T10:00:00Z", "record": true,
	}
	res, err = h.HandleClassify(ctx, makeRequest(second))
	require.NoError(t, err)
	out2 := unmarshalResult[ClassifyResponse](t, res)
	assert.Equal(t, out1.ThreadID, out2.ThreadID)
	assert.False(t, out2.FirstTimeSender)

	assert.Equal(t, 2, deps.Detector.Statistics().TotalEmails)
	assert.Equal(t, int64(2), deps.Tracker.Costs().Metrics.ClassificationsPerformed)
}

func TestHandleClassify_FollowUpWithoutRecording(t *testing.T) {
	h, deps := testHandlers(t)
	ctx := context.Background()

	first := map[string]any{
		"from": "vendor@x.com", "to": "me@x.com", "subject": "Invoice 42",
		"message_id": "v1", "received_at": "2026-02-20T09:00:00Z", "record": true,
	}
	res, err := h.HandleClassify(ctx, makeRequest(first))
	require.NoError(t, err)
	out1 := unmarshalResult[ClassifyResponse](t, res)

	nudge := map[string]any{
		"from": "vendor@x.com", "to": "me@x.com", "subject": "Re: Invoice 42",
		"received_at": "2026-03-02T09:00:00Z",
	}
	res, err = h.HandleClassify(ctx, makeRequest(nudge))
	require.NoError(t, err)
	out := unmarshalResult[ClassifyResponse](t, res)
	assert.True(t, out.FollowUp)
	assert.Equal(t, out1.ThreadID, out.ThreadID)
	assert.Equal(t, types.CategoryWaitingFor, out.Decision.MatchedRuleCategory)
	assert.Equal(t, 1, deps.Detector.Statistics().TotalEmails, "not recorded")
}

func TestHandleClassify_InvalidInput(t *testing.T) {
	h, _ := testHandlers(t)
	ctx := context.Background()

	res, err := h.HandleClassify(ctx, makeRequest(map[string]any{"subject": "x"}))
	require.NoError(t, err)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, res))

	res, err = h.HandleClassify(ctx, makeRequest(map[string]any{"from": "a@x.com", "subject": "x", "received_at": "yesterday"}))
	require.NoError(t, err)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, res))

	res, err = h.HandleClassify(ctx, makeRequest(map[string]any{"from": 42}))
	require.NoError(t, err)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, res))
}

func TestHandleMode(t *testing.T) {
	h, _ := testHandlers(t)
	ctx := context.Background()

	res, err := h.HandleMode(ctx, makeRequest(nil))
	require.NoError(t, err)
	out := unmarshalResult[ModeResponse](t, res)
	assert.Equal(t, orchestrator.ModeMiddayCheck, out.Mode)
	assert.Equal(t, "Midday check", out.Title)
	assert.True(t, out.HasDigest)
	assert.Equal(t, "2026-03-02T13:00:00-05:00", out.LocalTime)

	res, err = h.HandleMode(ctx, makeRequest(map[string]any{"at": "2026-03-02T12:00:00Z"}))
	require.NoError(t, err)
	out = unmarshalResult[ModeResponse](t, res)
	assert.Equal(t, orchestrator.ModeMorningBrief, out.Mode)

	res, err = h.HandleMode(ctx, makeRequest(map[string]any{"at": "noon"}))
	require.NoError(t, err)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, res))
}

func TestHandleCostReport(t *testing.T) {
	h, deps := testHandlers(t)
	deps.Tracker.TrackClaudeUsage("sonnet", 1_000_000, 0)
	deps.Tracker.TrackEmailProcessed()

	res, err := h.HandleCostReport(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	out := unmarshalResult[cost.Report](t, res)
	assert.InDelta(t, 3.0, out.Costs.Breakdown.Total, 1e-9)
	assert.InDelta(t, 90.0, out.Projection.Monthly, 1e-9)
	assert.Equal(t, cost.ProjectionNote, out.Projection.Note)
	assert.True(t, fixedNow.Equal(out.GeneratedAt))
}

func TestHandleCostReport_DayFollowsScheduleTimezone(t *testing.T) {
	h, deps := testHandlers(t)
	evening := time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC) // 21:00 on the 2nd in New York
	h.deps.Now = func() time.Time { return evening }
	deps.Tracker.StartDay(evening.In(deps.Schedule.Location))
	deps.Tracker.TrackClaudeUsage("sonnet", 1_000_000, 0)

	res, err := h.HandleCostReport(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	out := unmarshalResult[cost.Report](t, res)
	assert.InDelta(t, 3.0, out.Projection.Daily, 1e-9)
}

func TestHandleCostReport_NoTracker(t *testing.T) {
	h := NewHandlers(Deps{})
	res, err := h.HandleCostReport(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "NOT_FOUND", errorCode(t, res))
}

func TestHandleThreads(t *testing.T) {
	h, deps := testHandlers(t)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i, subj := range []string{"Budget", "Offsite", "Hiring"} {
		deps.Detector.Detect(&types.Message{
			ID: subj, From: "a@x.com", To: "me@x.com", Subject: subj,
			ReceivedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	ctx := context.Background()

	res, err := h.HandleThreads(ctx, makeRequest(map[string]any{"limit": 2}))
	require.NoError(t, err)
	out := unmarshalResult[ThreadsResponse](t, res)
	require.Len(t, out.Threads, 2)
	assert.Equal(t, "Hiring", out.Threads[0].Subject)
	assert.Empty(t, out.Threads[0].Emails)
	assert.Equal(t, 3, out.Stats.TotalThreads)

	res, err = h.HandleThreads(ctx, makeRequest(map[string]any{"limit": 0, "include_emails": true}))
	require.NoError(t, err)
	out = unmarshalResult[ThreadsResponse](t, res)
	require.Len(t, out.Threads, 3)
	assert.Len(t, out.Threads[2].Emails, 1)

	res, err = h.HandleThreads(ctx, makeRequest(map[string]any{"limit": -1}))
	require.NoError(t, err)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, res))

	// Emails are stripped from copies, not from the index.
	th := deps.Detector.Active(1)
	assert.Len(t, th[0].Emails, 1)
}

func TestNewServer(t *testing.T) {
	_, deps := testHandlers(t)
	assert.NotNil(t, NewServer(deps, "test"))
}
