package mcp

import (
	"context"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
)

// Server wraps the mark3labs/mcp-go MCPServer and its StreamableHTTPServer.
// [SRP] HTTP server lifecycle only (start, stop, session open/close).
//
//	Tools are registered in tools.go, prompts in prompts.go, watch state in registry.go.
type Server struct {
	httpSrv *mcpserver.StreamableHTTPServer
	reg     *WatchRegistry
}

func New(reg *WatchRegistry, coord portcoord.Coordinator, version string) *Server {
	s := &Server{reg: reg}

	hooks := &mcpserver.Hooks{}
	hooks.OnUnregisterSession = append(hooks.OnUnregisterSession, s.onSessionClose)

	mcpSrv := mcpserver.NewMCPServer(
		"task-mesh",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithHooks(hooks),
	)
	reg.SetMCPServer(mcpSrv)

	RegisterTools(mcpSrv, reg, coord)
	RegisterPrompts(mcpSrv, coord)

	s.httpSrv = mcpserver.NewStreamableHTTPServer(mcpSrv)
	return s
}

// Handler returns an http.Handler that serves the MCP endpoint.
func (s *Server) Handler() http.Handler {
	return s.httpSrv
}

func (s *Server) Registry() *WatchRegistry {
	return s.reg
}

func (s *Server) onSessionClose(ctx context.Context, session mcpserver.ClientSession) {
	if n := s.reg.Unregister(session.SessionID()); n > 0 {
		slog.InfoContext(ctx, "mcp: session closed, dropping watches", "session_id", session.SessionID(), "watches", n)
	}
}
