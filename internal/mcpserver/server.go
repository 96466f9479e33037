package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Gatewarden tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("gatewarden", "1.0.0")
	client := NewGatewardenClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolEvaluateLogin, h.HandleEvaluateLogin)
	s.AddTool(ToolAuthorizeAction, h.HandleAuthorizeAction)
	s.AddTool(ToolGetUserBaseline, h.HandleGetUserBaseline)
	s.AddTool(ToolListDecisions, h.HandleListDecisions)

	return s
}
