// Package mcp exposes PostForge runs to MCP clients as tools and resources.
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/PostForge/internal/domain/analytics"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
)

// RunAPI is the subset of the run service the MCP tools call.
type RunAPI interface {
	ListRuns(ctx context.Context) ([]run.Run, error)
	GetRun(ctx context.Context, id string) (*run.Run, error)
	CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error)
	RetryStep(ctx context.Context, runID string, step steplog.StepName) (*run.Run, error)
	Analytics(ctx context.Context) (*analytics.Summary, error)
}

// ServerConfig holds the advertised server identity.
type ServerConfig struct {
	Name    string
	Version string
}

// Server wraps the mcp-go server with PostForge's run tools.
type Server struct {
	mcpServer *mcpserver.MCPServer
	runs      RunAPI
}

// NewServer creates an MCP server with all tools and resources registered.
// runs may be nil; every tool then reports that it is not configured.
func NewServer(cfg ServerConfig, runs RunAPI) *Server {
	s := &Server{runs: runs}
	s.mcpServer = mcpserver.NewMCPServer(
		cfg.Name,
		cfg.Version,
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithToolCapabilities(false),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP transport, guarded by apiKey when set.
func (s *Server) Handler(apiKey string) http.Handler {
	return AuthMiddleware(apiKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}
