package tools

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

const instructions = `Convert programming chats into Moodle courses.
Call create_intelligent_course with the transcript. If the result has status in_progress,
call continue_course_session with the returned session_id until the status is completed.
Use analyze_content_complexity first to preview how large content will be split.`

// NewServer registers every tool on a new MCP server.
func NewServer(svc Service) *server.MCPServer {
	s := server.NewMCPServer(
		"chat2course",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	create := NewCreateTool(svc)
	s.AddTool(create.Definition(), create.Handle)

	cont := NewContinueTool(svc)
	s.AddTool(cont.Definition(), cont.Handle)

	status := NewStatusTool(svc)
	s.AddTool(status.Definition(), status.Handle)

	analyze := NewAnalyzeTool(svc)
	s.AddTool(analyze.Definition(), analyze.Handle)

	analytics := NewAnalyticsTool(svc)
	s.AddTool(analytics.Definition(), analytics.Handle)

	return s
}

// ServeStdio serves the tools over stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
