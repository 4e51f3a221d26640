package mcp

import "github.com/mark3labs/mcp-go/mcp"

var classifyToolDef = mcp.NewTool("triage_classify",
	mcp.WithDescription("Classify an email into tiers 1-4 (escalate, handle, draft, flag) and return the label and allowed action."),
	mcp.WithString("from", mcp.Required(), mcp.Description("Sender, bare address or \"Name <addr>\"")),
	mcp.WithString("subject", mcp.Required(), mcp.Description("Subject line")),
	mcp.WithString("body", mcp.Description("Plain text body")),
	mcp.WithString("to", mcp.Description("Recipients, comma separated")),
	mcp.WithString("message_id", mcp.Description("Mail source ID; generated when empty")),
	mcp.WithString("in_reply_to", mcp.Description("Protocol Message-ID this email replies to")),
	mcp.WithString("received_at", mcp.Description("RFC 3339 receipt time; defaults to now")),
	mcp.WithBoolean("record", mcp.Description("Add the email to the thread index before classifying")),
)

var modeToolDef = mcp.NewTool("triage_mode",
	mcp.WithDescription("Report which mode (morning_brief, midday_check, eod_report, routine) a run at the given time would use."),
	mcp.WithString("at", mcp.Description("RFC 3339 time; defaults to now")),
)

var costReportToolDef = mcp.NewTool("triage_cost_report",
	mcp.WithDescription("Return the cost ledger with per-email ratios and daily/monthly/yearly projections."),
)

var threadsToolDef = mcp.NewTool("triage_threads",
	mcp.WithDescription("List the most recently active conversation threads."),
	mcp.WithNumber("limit", mcp.Description("Maximum threads to return (default 20, 0 for all)")),
	mcp.WithBoolean("include_emails", mcp.Description("Include each thread's emails")),
)
