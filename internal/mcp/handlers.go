package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/classify"
	terrors "github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/errors"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/orchestrator"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/thread"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

// DefaultThreadLimit is used when triage_threads gets no limit.
const DefaultThreadLimit = 20

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps) *Handlers {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handlers{deps: deps}
}

// ClassifyRequest represents the arguments for triage_classify.
type ClassifyRequest struct {
	From       string `json:"from"`
	Subject    string `json:"subject"`
	Body       string `json:"body,omitempty"`
	To         string `json:"to,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	InReplyTo  string `json:"in_reply_to,omitempty"`
	ReceivedAt string `json:"received_at,omitempty"`
	Record     bool   `json:"record,omitempty"`
}

// ClassifyResponse is the triage_classify result.
type ClassifyResponse struct {
	MessageID       string             `json:"message_id"`
	ThreadID        string             `json:"thread_id,omitempty"`
	TierName        string             `json:"tier_name"`
	Decision        types.TierDecision `json:"decision"`
	Labels          []string           `json:"labels"`
	FollowUp        bool               `json:"follow_up"`
	FirstTimeSender bool               `json:"first_time_sender"`
}

// ModeRequest represents the arguments for triage_mode.
type ModeRequest struct {
	At string `json:"at,omitempty"`
}

// ModeResponse is the triage_mode result.
type ModeResponse struct {
	Mode      orchestrator.Mode `json:"mode"`
	Title     string            `json:"title"`
	HasDigest bool              `json:"has_digest"`
	LocalTime string            `json:"local_time"`
}

// ThreadsRequest represents the arguments for triage_threads.
type ThreadsRequest struct {
	Limit         *int `json:"limit,omitempty"`
	IncludeEmails bool `json:"include_emails,omitempty"`
}

// ThreadsResponse is the triage_threads result.
type ThreadsResponse struct {
	Threads []*types.Thread `json:"threads"`
	Stats   thread.Stats    `json:"stats"`
}

// HandleClassify handles the triage_classify tool call. Without record the
// message is classified against the index without joining it.
func (h *Handlers) HandleClassify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClassifyRequest](req)
	if err != nil {
		return errorResult(terrors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.From) == "" {
		return errorResult(terrors.NewInvalidRequest("from is required")), nil
	}
	if h.deps.Classifier == nil {
		return errorResult(terrors.NewInternal(nil)), nil
	}

	received := h.deps.Now().UTC()
	if input.ReceivedAt != "" {
		t, err := time.Parse(time.RFC3339, input.ReceivedAt)
		if err != nil {
			return errorResult(terrors.NewInvalidRequest("received_at must be RFC 3339")), nil
		}
		received = t.UTC()
	}
	id := input.MessageID
	if id == "" {
		id = "mcp-" + uuid.NewString()
	}
	msg := &types.Message{
		ID:         id,
		InReplyTo:  input.InReplyTo,
		Subject:    input.Subject,
		From:       input.From,
		To:         input.To,
		ReceivedAt: received,
		BodyText:   input.Body,
	}

	resp := ClassifyResponse{MessageID: id}
	var cctx classify.Context
	switch d := h.deps.Detector; {
	case d != nil && input.Record:
		resp.ThreadID = d.Detect(msg)
		cctx = classify.ContextFor(d, msg, resp.ThreadID)
	case d != nil:
		cctx.FirstTimeSender = !d.SenderSeen(msg.From, "")
		if threadID, ok := d.Match(msg); ok {
			resp.ThreadID = threadID
			cctx.FollowUp = d.IsFollowUp(msg, threadID)
			cctx.Thread, _ = d.Get(threadID)
		}
	default:
		cctx.FirstTimeSender = true
	}

	dec := h.deps.Classifier.Classify(msg, cctx)
	if h.deps.Tracker != nil {
		h.deps.Tracker.TrackClassification()
	}

	resp.TierName = dec.Tier.String()
	resp.Decision = dec
	resp.Labels = dec.Label.All()
	resp.FollowUp = cctx.FollowUp
	resp.FirstTimeSender = cctx.FirstTimeSender
	return successResult(resp)
}

// HandleMode handles the triage_mode tool call.
func (h *Handlers) HandleMode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ModeRequest](req)
	if err != nil {
		return errorResult(terrors.NewInvalidRequest(err.Error())), nil
	}
	at := h.deps.Now()
	if input.At != "" {
		at, err = time.Parse(time.RFC3339, input.At)
		if err != nil {
			return errorResult(terrors.NewInvalidRequest("at must be RFC 3339")), nil
		}
	}

	loc := h.deps.Schedule.Location
	if loc == nil {
		loc = time.UTC
	}
	mode := orchestrator.SelectMode(at, h.deps.Schedule)
	return successResult(ModeResponse{
		Mode:      mode,
		Title:     mode.Title(),
		HasDigest: mode.HasDigest(),
		LocalTime: at.In(loc).Format(time.RFC3339),
	})
}

// HandleCostReport handles the triage_cost_report tool call.
func (h *Handlers) HandleCostReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.deps.Tracker == nil {
		return errorResult(terrors.NewNotFound("cost ledger", "tracker")), nil
	}
	loc := h.deps.Schedule.Location
	if loc == nil {
		loc = time.UTC
	}
	return successResult(h.deps.Tracker.Report(h.deps.Now().In(loc)))
}

// HandleThreads handles the triage_threads tool call.
func (h *Handlers) HandleThreads(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadsRequest](req)
	if err != nil {
		return errorResult(terrors.NewInvalidRequest(err.Error())), nil
	}
	if h.deps.Detector == nil {
		return successResult(ThreadsResponse{Threads: []*types.Thread{}})
	}

	limit := DefaultThreadLimit
	if input.Limit != nil {
		if *input.Limit < 0 {
			return errorResult(terrors.NewInvalidRequest("limit must be >= 0")), nil
		}
		limit = *input.Limit
	}
	threads := h.deps.Detector.Active(limit)
	if !input.IncludeEmails {
		for _, t := range threads {
			t.Emails = nil
		}
	}
	return successResult(ThreadsResponse{Threads: threads, Stats: h.deps.Detector.Statistics()})
}

// errorResult creates an MCP error result. Internal error details are not
// exposed.
func errorResult(err error) *mcp.CallToolResult {
	errorObj := map[string]any{
		"code":    string(terrors.ErrInternal),
		"message": "an internal error occurred",
	}
	if tErr, ok := err.(*terrors.TriageError); ok && tErr.Code != terrors.ErrInternal {
		errorObj["code"] = string(tErr.Code)
		errorObj["message"] = tErr.Message
		if tErr.Details != nil {
			errorObj["details"] = tErr.Details
		}
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
