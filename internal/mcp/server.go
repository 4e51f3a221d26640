// Package mcp exposes the triage core as MCP tools over stdio.
package mcp

import (
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/classify"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/cost"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/orchestrator"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/thread"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var toolRegistry = map[string]toolEntry{
	"triage_classify": {
		def:     classifyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleClassify },
	},
	"triage_mode": {
		def:     modeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMode },
	},
	"triage_cost_report": {
		def:     costReportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCostReport },
	},
	"triage_threads": {
		def:     threadsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreads },
	},
}

// AllToolNames returns the registered tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Deps are the shared components the tools read and update.
type Deps struct {
	Classifier *classify.Classifier
	Detector   *thread.Detector
	Tracker    *cost.Tracker
	Schedule   orchestrator.Schedule
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewServer creates an MCP server with every triage tool registered.
func NewServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"triage",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(deps)
	for _, name := range AllToolNames() {
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves the tools on stdin/stdout until the client disconnects.
func Run(deps Deps, version string) error {
	return server.ServeStdio(NewServer(deps, version))
}
