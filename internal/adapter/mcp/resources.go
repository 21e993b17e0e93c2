package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const recentRunsLimit = 20

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"postforge://runs/recent",
			"Recent Runs",
			mcplib.WithResourceDescription("The most recent content runs"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentRunsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"postforge://analytics",
			"Run Analytics",
			mcplib.WithResourceDescription("Aggregate run analytics"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAnalyticsResource,
	)
}

func (s *Server) handleRecentRunsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.runs == nil {
		return jsonResource(req.Params.URI, `{"error":"run service not configured"}`), nil
	}
	runs, err := s.runs.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) > recentRunsLimit {
		runs = runs[:recentRunsLimit]
	}
	data, err := json.Marshal(runs)
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, string(data)), nil
}

func (s *Server) handleAnalyticsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.runs == nil {
		return jsonResource(req.Params.URI, `{"error":"run service not configured"}`), nil
	}
	summary, err := s.runs.Analytics(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, string(data)), nil
}

func jsonResource(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}
