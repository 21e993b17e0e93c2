package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listRunsTool(),
		s.getRunTool(),
		s.createRunTool(),
		s.retryStepTool(),
		s.getAnalyticsTool(),
	)
}

func stepNames() []string {
	names := make([]string, len(steplog.Steps))
	for i, st := range steplog.Steps {
		names[i] = string(st)
	}
	return names
}

func (s *Server) listRunsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_runs",
		mcplib.WithDescription("List all content runs, newest first"),
		mcplib.WithString("status", mcplib.Description("Only return runs in this status")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListRuns}
}

func (s *Server) getRunTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_run",
		mcplib.WithDescription("Get a content run with its draft, assets and delivery record"),
		mcplib.WithString("run_id",
			mcplib.Required(),
			mcplib.Description("The run ID to look up"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetRun}
}

func (s *Server) createRunTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("create_run",
		mcplib.WithDescription("Queue a new manual content run"),
		mcplib.WithString("category",
			mcplib.Required(),
			mcplib.Enum(string(run.CategoryIndustryNews), string(run.CategoryThoughtLeadership),
				string(run.CategoryCaseStudy), string(run.CategoryTipsAndInsights)),
			mcplib.Description("Content angle"),
		),
		mcplib.WithString("tone",
			mcplib.Enum(string(run.ToneProfessional), string(run.ToneConversational),
				string(run.ToneBold), string(run.ToneEducational)),
			mcplib.Description("Voice of the copy (default professional)"),
		),
		mcplib.WithString("idea", mcplib.Description("Manual idea text; skips topic discovery")),
		mcplib.WithString("topic", mcplib.Description("Topic hint passed to discovery")),
		mcplib.WithBoolean("video", mcplib.Description("Also generate a video")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCreateRun}
}

func (s *Server) retryStepTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("retry_step",
		mcplib.WithDescription("Retry a finished run. teams_delivery re-posts; any other step re-runs the pipeline"),
		mcplib.WithString("run_id", mcplib.Required(), mcplib.Description("The run ID to retry")),
		mcplib.WithString("step",
			mcplib.Required(),
			mcplib.Enum(stepNames()...),
			mcplib.Description("The step to retry"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleRetryStep}
}

func (s *Server) getAnalyticsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_analytics",
		mcplib.WithDescription("Success rate, average runtime and per-tone/category/step counts over all runs"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetAnalytics}
}

func (s *Server) handleListRuns(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.runs == nil {
		return mcplib.NewToolResultError("run service not configured"), nil
	}
	runs, err := s.runs.ListRuns(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list runs", err), nil
	}
	if status := req.GetString("status", ""); status != "" {
		filtered := make([]run.Run, 0, len(runs))
		for i := range runs {
			if string(runs[i].Status) == status {
				filtered = append(filtered, runs[i])
			}
		}
		runs = filtered
	}
	return toolResultJSON(runs, "runs")
}

func (s *Server) handleGetRun(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.runs == nil {
		return mcplib.NewToolResultError("run service not configured"), nil
	}
	runID := req.GetString("run_id", "")
	if runID == "" {
		return mcplib.NewToolResultError("run_id is required"), nil
	}
	r, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get run %s", runID), err), nil
	}
	return toolResultJSON(r, "run")
}

func (s *Server) handleCreateRun(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.runs == nil {
		return mcplib.NewToolResultError("run service not configured"), nil
	}
	create := run.CreateRequest{
		SourceType: run.SourceManual,
		Tone:       run.Tone(req.GetString("tone", "")),
		Category:   run.Category(req.GetString("category", "")),
		Input: run.Input{
			ManualIdeaText:    req.GetString("idea", ""),
			SelectedNewsTopic: req.GetString("topic", ""),
		},
	}
	if req.GetBool("video", false) {
		create.Input.RequestedMedia = run.MediaImageAndVideo
	}
	r, err := s.runs.CreateRun(ctx, create)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to create run", err), nil
	}
	return toolResultJSON(r, "run")
}

func (s *Server) handleRetryStep(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.runs == nil {
		return mcplib.NewToolResultError("run service not configured"), nil
	}
	runID := req.GetString("run_id", "")
	step := req.GetString("step", "")
	if runID == "" || step == "" {
		return mcplib.NewToolResultError("run_id and step are required"), nil
	}
	r, err := s.runs.RetryStep(ctx, runID, steplog.StepName(step))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to retry %s on run %s", step, runID), err), nil
	}
	return toolResultJSON(r, "run")
}

func (s *Server) handleGetAnalytics(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.runs == nil {
		return mcplib.NewToolResultError("run service not configured"), nil
	}
	summary, err := s.runs.Analytics(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to compute analytics", err), nil
	}
	return toolResultJSON(summary, "analytics")
}

func toolResultJSON(v any, what string) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal "+what, err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
