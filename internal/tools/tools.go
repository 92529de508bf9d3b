// Package tools exposes course building as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rcliao/chat2course/internal/analyzer"
	"github.com/rcliao/chat2course/internal/model"
	"github.com/rcliao/chat2course/internal/orchestrator"
	"github.com/rcliao/chat2course/internal/store"
)

// Service is the course-building surface the tools call into.
type Service interface {
	CreateOrResume(ctx context.Context, content, courseName string, continuePrevious bool) (*orchestrator.Response, error)
	Continue(ctx context.Context, id, additional string) (*orchestrator.Response, error)
	Status(ctx context.Context, id string) (*orchestrator.Snapshot, error)
	Analyze(text string) model.Analysis
	Analytics(ctx context.Context) (*orchestrator.Report, error)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// responseResult marks unsuccessful terminal responses as tool errors so the caller
// sees them as failures, while still returning the full structured body.
func responseResult(resp *orchestrator.Response) (*mcp.CallToolResult, error) {
	res, err := jsonResult(resp)
	if err != nil {
		return nil, err
	}
	switch resp.Status {
	case orchestrator.StatusFailed, orchestrator.StatusNotFound:
		res.IsError = true
	}
	return res, nil
}

// CreateTool handles create_intelligent_course.
type CreateTool struct{ svc Service }

func NewCreateTool(svc Service) *CreateTool { return &CreateTool{svc: svc} }

func (t *CreateTool) Definition() mcp.Tool {
	return mcp.NewTool("create_intelligent_course",
		mcp.WithDescription("Turn a chat transcript into a Moodle course. Small content is built immediately; larger content returns a session id and a plan to finish with continue_course_session."),
		mcp.WithString("content", mcp.Required(), mcp.Description("The chat transcript, including fenced code blocks")),
		mcp.WithString("course_name", mcp.Description("Course name; derived from the content when omitted")),
		mcp.WithBoolean("continue_previous", mcp.Description("Return the existing session for the same content (default). Set false to start over")),
	)
}

func (t *CreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := t.svc.CreateOrResume(ctx, content, req.GetString("course_name", ""), req.GetBool("continue_previous", true))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create course: %v", err)), nil
	}
	return responseResult(resp)
}

// ContinueTool handles continue_course_session.
type ContinueTool struct{ svc Service }

func NewContinueTool(svc Service) *ContinueTool { return &ContinueTool{svc: svc} }

func (t *ContinueTool) Definition() mcp.Tool {
	return mcp.NewTool("continue_course_session",
		mcp.WithDescription("Build the next part of a course session. Call repeatedly until the status is completed."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id returned by create_intelligent_course")),
		mcp.WithString("additional_content", mcp.Description("More chat content to add to the course before continuing")),
	)
}

func (t *ContinueTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := t.svc.Continue(ctx, id, req.GetString("additional_content", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("continue session: %v", err)), nil
	}
	return responseResult(resp)
}

// StatusTool handles get_session_status.
type StatusTool struct{ svc Service }

func NewStatusTool(svc Service) *StatusTool { return &StatusTool{svc: svc} }

func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("get_session_status",
		mcp.WithDescription("Show the state and progress of a course session without changing it."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, err := t.svc.Status(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("session %q does not exist or has expired", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session status: %v", err)), nil
	}
	return jsonResult(snap)
}

// AnalyzeTool handles analyze_content_complexity.
type AnalyzeTool struct{ svc Service }

func NewAnalyzeTool(svc Service) *AnalyzeTool { return &AnalyzeTool{svc: svc} }

func (t *AnalyzeTool) Definition() mcp.Tool {
	return mcp.NewTool("analyze_content_complexity",
		mcp.WithDescription("Estimate how a transcript would be processed (strategy, chunks, time) without creating anything."),
		mcp.WithString("content", mcp.Required(), mcp.Description("The chat transcript to analyze")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func (t *AnalyzeTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a := t.svc.Analyze(content)
	return jsonResult(struct {
		model.Analysis
		Summary string `json:"summary"`
	}{a, analyzer.Summary(a)})
}

// AnalyticsTool handles get_processing_analytics.
type AnalyticsTool struct{ svc Service }

func NewAnalyticsTool(svc Service) *AnalyticsTool { return &AnalyticsTool{svc: svc} }

func (t *AnalyticsTool) Definition() mcp.Tool {
	return mcp.NewTool("get_processing_analytics",
		mcp.WithDescription("Report success rates per strategy, the current adaptive limits and recent limit changes."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func (t *AnalyticsTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := t.svc.Analytics(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analytics: %v", err)), nil
	}
	return jsonResult(report)
}
