// Package mcp provides an MCP (Model Context Protocol) server that exposes
// task synchronization as MCP tools for AI coding assistants.
package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/internal/observability"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// Server wraps the sync service and exposes it as MCP tools.
type Server struct {
	server      *gomcp.Server
	svc         core.SyncService
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
}

// NewServer creates a new MCP server backed by svc. metricsCalc and
// alertEngine may be nil if the event log is disabled.
func NewServer(svc core.SyncService, metricsCalc observability.MetricsCalculator, alertEngine observability.AlertEngine, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		svc:         svc,
		metricsCalc: metricsCalc,
		alertEngine: alertEngine,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "tasksync", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client
// disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type workspaceInput struct {
	Workspace string `json:"workspace,omitempty" jsonschema:"workspace key (e.g. file:///home/me/project). Defaults to the server's workspace."`
}

type loadTasksInput struct {
	Workspace  string `json:"workspace,omitempty" jsonschema:"workspace key. Defaults to the server's workspace."`
	FolderPath string `json:"folder_path,omitempty" jsonschema:"absolute path of the folder containing the PRD directory"`
}

type updateTaskStatusInput struct {
	Workspace  string `json:"workspace,omitempty" jsonschema:"workspace key. Defaults to the server's workspace."`
	FolderPath string `json:"folder_path,omitempty" jsonschema:"absolute path of the folder containing the PRD directory"`
	TaskID     string `json:"task_id,omitempty" jsonschema:"composite task address (e.g. PRD2-US1-TASK3)"`
	Status     string `json:"status,omitempty" jsonschema:"the new status (e.g. Pending, Completed)"`
}

type snapshotOutput struct {
	Loaded       bool           `json:"loaded"`
	WorkspaceKey string         `json:"workspace_key"`
	FolderPath   string         `json:"folder_path"`
	Timestamp    string         `json:"timestamp,omitempty"`
	TaskCount    int            `json:"task_count"`
	StatusCounts map[string]int `json:"status_counts"`
	Stories      []models.Story `json:"stories"`
}

type resetTasksOutput struct {
	Message string `json:"message"`
}

type updateTaskStatusOutput struct {
	Message        string `json:"message"`
	TaskID         string `json:"task_id"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
}

type requestBuildOutput struct {
	Delivered int `json:"delivered"`
}

type getMetricsInput struct {
	Workspace string `json:"workspace,omitempty" jsonschema:"restrict metrics to one workspace key. Defaults to all workspaces."`
	Since     string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	Loads            int            `json:"loads"`
	Resets           int            `json:"resets"`
	StatusChanges    int            `json:"status_changes"`
	StatusFailures   int            `json:"status_failures"`
	TasksByStatus    map[string]int `json:"tasks_by_status"`
	ObserversJoined  int            `json:"observers_joined"`
	ObserversLeft    int            `json:"observers_left"`
	ObserversEvicted int            `json:"observers_evicted"`
	BuildRequests    int            `json:"build_requests"`
	AvgLoadMillis    float64        `json:"avg_load_ms"`
	EventCount       int            `json:"event_count"`
	OldestEvent      string         `json:"oldest_event,omitempty"`
	NewestEvent      string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Workspace   string `json:"workspace,omitempty"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
	Observed    int    `json:"observed"`
	Limit       int    `json:"limit"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_tasks",
		Description: "Get the current task snapshot of a workspace: stories and their tasks with status. Returns loaded=false if nothing was loaded.",
	}, s.handleGetTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "load_tasks",
		Description: "Load the requirement documents under <folder_path>/PRD, make them the workspace's current snapshot and notify all observers.",
	}, s.handleLoadTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "refresh_tasks",
		Description: "Reload the folder used by the last load of the workspace and notify all observers.",
	}, s.handleRefreshTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "reset_tasks",
		Description: "Clear the workspace's current snapshot and remembered folder. Task documents are not modified.",
	}, s.handleResetTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "update_task_status",
		Description: "Set the status of one task (addressed as PRD<r>-US<s>-TASK<t>) in its requirement document, then reload and notify observers.",
	}, s.handleUpdateTaskStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "request_build",
		Description: "Notify build-request observers of the workspace that a task list build was requested.",
	}, s.handleRequestBuild)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get aggregated sync metrics from the event log: loads, status changes, observer churn and load latency.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (observer churn, failing status updates, stale snapshots).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleGetTasks(ctx context.Context, _ *gomcp.CallToolRequest, input workspaceInput) (*gomcp.CallToolResult, snapshotOutput, error) {
	ctx = withWorkspace(ctx, input.Workspace)
	snap := s.svc.Current(ctx)
	if snap == nil {
		return nil, emptySnapshotOutput(), nil
	}
	return nil, snapshotToOutput(snap), nil
}

func (s *Server) handleLoadTasks(ctx context.Context, _ *gomcp.CallToolRequest, input loadTasksInput) (*gomcp.CallToolResult, snapshotOutput, error) {
	if input.FolderPath == "" {
		return errorResult("folder_path is required"), emptySnapshotOutput(), nil
	}

	snap, err := s.svc.Load(withWorkspace(ctx, input.Workspace), input.FolderPath)
	if err != nil {
		return errorResult(fmt.Sprintf("loading tasks: %s", err)), emptySnapshotOutput(), nil
	}
	return nil, snapshotToOutput(snap), nil
}

func (s *Server) handleRefreshTasks(ctx context.Context, _ *gomcp.CallToolRequest, input workspaceInput) (*gomcp.CallToolResult, snapshotOutput, error) {
	snap, err := s.svc.Refresh(withWorkspace(ctx, input.Workspace))
	if err != nil {
		return errorResult(fmt.Sprintf("refreshing tasks: %s", err)), emptySnapshotOutput(), nil
	}
	return nil, snapshotToOutput(snap), nil
}

func (s *Server) handleResetTasks(ctx context.Context, _ *gomcp.CallToolRequest, input workspaceInput) (*gomcp.CallToolResult, resetTasksOutput, error) {
	if err := s.svc.Reset(withWorkspace(ctx, input.Workspace)); err != nil {
		return errorResult(fmt.Sprintf("resetting tasks: %s", err)), resetTasksOutput{}, nil
	}
	return nil, resetTasksOutput{Message: "tasks reset"}, nil
}

func (s *Server) handleUpdateTaskStatus(ctx context.Context, _ *gomcp.CallToolRequest, input updateTaskStatusInput) (*gomcp.CallToolResult, updateTaskStatusOutput, error) {
	if input.FolderPath == "" {
		return errorResult("folder_path is required"), updateTaskStatusOutput{}, nil
	}
	if input.TaskID == "" {
		return errorResult("task_id is required"), updateTaskStatusOutput{}, nil
	}
	if input.Status == "" {
		return errorResult("status is required"), updateTaskStatusOutput{}, nil
	}

	change, err := s.svc.UpdateStatus(withWorkspace(ctx, input.Workspace), input.FolderPath, input.TaskID, models.TaskStatus(input.Status))
	if err != nil {
		return errorResult(fmt.Sprintf("updating task %s status: %s", input.TaskID, err)), updateTaskStatusOutput{}, nil
	}

	out := updateTaskStatusOutput{
		Message:        change.Message,
		TaskID:         change.Address,
		PreviousStatus: string(change.PreviousStatus),
		Status:         string(change.Status),
	}
	return nil, out, nil
}

func (s *Server) handleRequestBuild(ctx context.Context, _ *gomcp.CallToolRequest, input workspaceInput) (*gomcp.CallToolResult, requestBuildOutput, error) {
	res := s.svc.RequestBuild(withWorkspace(ctx, input.Workspace))
	return nil, requestBuildOutput{Delivered: res.Delivered}, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (event log may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := parseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.metricsCalc.Calculate(sinceTime, input.Workspace)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		Loads:            metrics.Loads,
		Resets:           metrics.Resets,
		StatusChanges:    metrics.StatusChanges,
		StatusFailures:   metrics.StatusFailures,
		TasksByStatus:    metrics.TasksByStatus,
		ObserversJoined:  metrics.ObserversJoined,
		ObserversLeft:    metrics.ObserversLeft,
		ObserversEvicted: metrics.ObserversEvicted,
		BuildRequests:    metrics.BuildRequests,
		AvgLoadMillis:    metrics.AvgLoadMillis,
		EventCount:       metrics.EventCount,
	}
	if out.TasksByStatus == nil {
		out.TasksByStatus = make(map[string]int)
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (event log may be disabled)"), getAlertsOutput{Alerts: []alertOutput{}}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{Alerts: []alertOutput{}}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Workspace:   a.Workspace,
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
			Observed:    a.Observed,
			Limit:       a.Limit,
		}
	}

	return nil, out, nil
}

// --- Helpers ---

func withWorkspace(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return core.WithWorkspaceKey(ctx, key)
}

func snapshotToOutput(snap *models.Snapshot) snapshotOutput {
	out := emptySnapshotOutput()
	out.Loaded = true
	out.WorkspaceKey = snap.WorkspaceKey
	out.FolderPath = snap.FolderPath
	out.TaskCount = snap.TaskCount()
	if !snap.GeneratedAt.IsZero() {
		out.Timestamp = snap.GeneratedAt.UTC().Format(time.RFC3339)
	}
	for status, n := range snap.StatusCounts() {
		out.StatusCounts[string(status)] = n
	}
	if snap.Stories != nil {
		out.Stories = snap.Stories
	}
	return out
}

func emptySnapshotOutput() snapshotOutput {
	return snapshotOutput{
		StatusCounts: make(map[string]int),
		Stories:      []models.Story{},
	}
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		TasksByStatus: make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// parseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time in the past.
func parseSince(s string) (time.Time, error) {
	now := time.Now().UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
