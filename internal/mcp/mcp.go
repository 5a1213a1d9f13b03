// Package mcp implements the Model Context Protocol server for shiko.
//
// The MCP server exposes the tree controller through tools, resources and
// prompts so that an MCP-compatible agent can drive a Tree-of-Thought
// search: start a run, expand its frontier with scored candidates and
// finalize the best reasoning path.
package mcp

import (
	"log/slog"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/shiko/internal/service/tree"
)

// DefaultNudgeWindow is how long a frontier request counts as recent.
const DefaultNudgeWindow = 30 * time.Minute

// Server wraps the MCP server with the tree controller.
type Server struct {
	mcpServer       *mcpserver.MCPServer
	tree            *tree.Controller
	logger          *slog.Logger
	version         string
	frontierTracker *frontierTracker
}

// New creates and configures a new MCP server with all resources, tools and
// prompts. A zero nudgeWindow uses DefaultNudgeWindow.
func New(ctrl *tree.Controller, logger *slog.Logger, version string, nudgeWindow time.Duration) *Server {
	if nudgeWindow <= 0 {
		nudgeWindow = DefaultNudgeWindow
	}
	s := &Server{
		tree:            ctrl,
		logger:          logger,
		version:         version,
		frontierTracker: newFrontierTracker(nudgeWindow),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"shiko",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

const serverInstructions = `shiko keeps the state of a Tree-of-Thought search. You generate the thoughts; shiko scores them, keeps the tree within budget and tells you which nodes to expand next.

Loop: tot_start_run -> tot_request_samples -> tot_submit_samples -> repeat until the frontier is empty or the budget is spent -> tot_get_best_path.`
