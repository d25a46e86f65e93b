package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"taskcron/internal/core"
	"taskcron/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the task operations as MCP tools.
type MCPServer struct {
	svc    *service.Service
	logger *slog.Logger
	server *server.MCPServer
}

const defaultHistoryLimit = 20

// NewMCPServer creates a new MCP server instance with every tool registered.
func NewMCPServer(svc *service.Service, logger *slog.Logger) *MCPServer {
	s := &MCPServer{svc: svc, logger: logger}
	s.server = server.NewMCPServer(
		"taskcron",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTools(s.server)
	return s
}

// Run serves MCP over stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// HTTPHandler serves MCP over streamable HTTP.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	scheduleOptions := []mcp.ToolOption{
		mcp.WithString("type",
			mcp.Description("Recurrence model"),
			mcp.Enum("interval", "daily", "cron"),
		),
		mcp.WithString("interval_value",
			mcp.Description("Interval code for type=interval"),
			mcp.Enum(core.IntervalCodes()...),
		),
		mcp.WithString("daily_time",
			mcp.Description("Wall-clock time HH:MM for type=daily"),
		),
		mcp.WithString("cron_expression",
			mcp.Description("5-field cron expression for type=cron, e.g. '0 9 * * 1-5'"),
		),
		mcp.WithString("name",
			mcp.Description("Display name"),
		),
		mcp.WithString("command",
			mcp.Description("Shell command to run"),
		),
		mcp.WithBoolean("enabled",
			mcp.Description("Whether the task is scheduled"),
		),
	}

	createOpts := append([]mcp.ToolOption{
		mcp.WithDescription("Create a scheduled shell command task"),
	}, scheduleOptions...)
	mcpServer.AddTool(mcp.NewTool("task_create", createOpts...), s.handleCreateTask)

	mcpServer.AddTool(mcp.NewTool("task_list",
		mcp.WithDescription("List all tasks"),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("task_get",
		mcp.WithDescription("Show one task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
	), s.handleGetTask)

	updateOpts := append([]mcp.ToolOption{
		mcp.WithDescription("Update fields of a task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
	}, scheduleOptions...)
	mcpServer.AddTool(mcp.NewTool("task_update", updateOpts...), s.handleUpdateTask)

	mcpServer.AddTool(mcp.NewTool("task_delete",
		mcp.WithDescription("Delete a task; its history is kept"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
	), s.handleDeleteTask)

	mcpServer.AddTool(mcp.NewTool("task_run",
		mcp.WithDescription("Run a task now and wait for the result"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
	), s.handleRunTask)

	mcpServer.AddTool(mcp.NewTool("history_list",
		mcp.WithDescription("Show execution history, newest first"),
		mcp.WithString("task_id", mcp.Description("Only entries for this task")),
		mcp.WithNumber("limit",
			mcp.Description("Number of entries, default 20"),
			mcp.Min(1),
			mcp.Max(500),
		),
	), s.handleListHistory)

	mcpServer.AddTool(mcp.NewTool("history_clear",
		mcp.WithDescription("Delete all execution history"),
	), s.handleClearHistory)

	mcpServer.AddTool(mcp.NewTool("config_get",
		mcp.WithDescription("Show settings"),
	), s.handleGetConfig)

	mcpServer.AddTool(mcp.NewTool("config_update",
		mcp.WithDescription("Update settings"),
		mcp.WithNumber("max_history_items", mcp.Description("History cap"), mcp.Min(1)),
		mcp.WithNumber("max_output_length", mcp.Description("Per-stream output truncation length"), mcp.Min(1)),
		mcp.WithBoolean("enable_logging", mcp.Description("Diagnostic logging")),
	), s.handleUpdateConfig)

	mcpServer.AddTool(mcp.NewTool("scheduler_status",
		mcp.WithDescription("Show scheduler state and armed tasks"),
	), s.handleSchedulerStatus)

	mcpServer.AddTool(mcp.NewTool("scheduler_reload",
		mcp.WithDescription("Rebuild all timers from stored tasks"),
	), s.handleSchedulerReload)

	mcpServer.AddTool(mcp.NewTool("cron_preview",
		mcp.WithDescription("Preview the next fire times of a cron expression"),
		mcp.WithString("cron", mcp.Required(), mcp.Description("Cron expression")),
		mcp.WithNumber("count",
			mcp.Description("Number of fire times, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handleCronPreview)

	s.logger.Info("MCP tools registered", "count", 13)
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in := core.TaskInput{
		Name:           mcp.ParseString(request, "name", ""),
		Type:           core.ScheduleType(mcp.ParseString(request, "type", "")),
		IntervalValue:  mcp.ParseString(request, "interval_value", ""),
		DailyTime:      mcp.ParseString(request, "daily_time", ""),
		CronExpression: mcp.ParseString(request, "cron_expression", ""),
		Command:        mcp.ParseString(request, "command", ""),
	}
	if v, ok := request.GetArguments()["enabled"].(bool); ok {
		in.Enabled = &v
	}
	res, err := s.svc.CreateTask(ctx, in)
	if err != nil {
		return toolError("create task", err), nil
	}
	return mcp.NewToolResultText("Task created\n" + formatTask(res.Task) + formatWarnings(res.Warnings)), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.svc.ListTasks(ctx)
	if err != nil {
		return toolError("list tasks", err), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d tasks:\n\n", len(tasks))
	for _, t := range tasks {
		b.WriteString(formatTask(t))
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := s.svc.GetTask(ctx, mcp.ParseString(request, "task_id", ""))
	if err != nil {
		return toolError("get task", err), nil
	}
	return mcp.NewToolResultText(formatTask(task) + formatWarnings(core.Diagnose(task))), nil
}

func (s *MCPServer) handleUpdateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	args := request.GetArguments()

	var patch core.TaskPatch
	if v, ok := args["name"].(string); ok {
		patch.Name = &v
	}
	if v, ok := args["type"].(string); ok {
		st := core.ScheduleType(v)
		patch.Type = &st
	}
	if v, ok := args["interval_value"].(string); ok {
		patch.IntervalValue = &v
	}
	if v, ok := args["daily_time"].(string); ok {
		patch.DailyTime = &v
	}
	if v, ok := args["cron_expression"].(string); ok {
		patch.CronExpression = &v
	}
	if v, ok := args["command"].(string); ok {
		patch.Command = &v
	}
	if v, ok := args["enabled"].(bool); ok {
		patch.Enabled = &v
	}

	res, err := s.svc.UpdateTask(ctx, taskID, patch)
	if err != nil {
		return toolError("update task", err), nil
	}
	return mcp.NewToolResultText("Task updated\n" + formatTask(res.Task) + formatWarnings(res.Warnings)), nil
}

func (s *MCPServer) handleDeleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	removed, err := s.svc.DeleteTask(ctx, taskID)
	if err != nil {
		return toolError("delete task", err), nil
	}
	if !removed {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task deleted: %s", taskID)), nil
}

func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entry, err := s.svc.ExecuteTaskNow(ctx, mcp.ParseString(request, "task_id", ""))
	if err != nil {
		return toolError("run task", err), nil
	}
	return mcp.NewToolResultText(formatEntry(entry, true)), nil
}

func (s *MCPServer) handleListHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", defaultHistoryLimit))
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var (
		entries []*core.HistoryEntry
		err     error
	)
	if taskID != "" {
		entries, err = s.svc.TaskHistory(ctx, taskID, limit)
	} else {
		entries, err = s.svc.ListHistory(ctx)
		if len(entries) > limit {
			entries = entries[:limit]
		}
	}
	if err != nil {
		return toolError("list history", err), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("No history"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d entries:\n\n", len(entries))
	for _, e := range entries {
		b.WriteString(formatEntry(e, false))
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleClearHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.svc.ClearHistory(ctx); err != nil {
		return toolError("clear history", err), nil
	}
	return mcp.NewToolResultText("History cleared"), nil
}

func (s *MCPServer) handleGetConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatSettings(s.svc.GetConfig(ctx))), nil
}

func (s *MCPServer) handleUpdateConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	var patch core.SettingsPatch
	if v, ok := args["max_history_items"].(float64); ok {
		n := int(v)
		patch.MaxHistoryItems = &n
	}
	if v, ok := args["max_output_length"].(float64); ok {
		n := int(v)
		patch.MaxOutputLength = &n
	}
	if v, ok := args["enable_logging"].(bool); ok {
		patch.EnableLogging = &v
	}
	settings, err := s.svc.UpdateConfig(ctx, patch)
	if err != nil {
		return toolError("update config", err), nil
	}
	return mcp.NewToolResultText("Settings updated\n" + formatSettings(settings)), nil
}

func (s *MCPServer) handleSchedulerStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatStatus(s.svc.SchedulerStatus(ctx))), nil
}

func (s *MCPServer) handleSchedulerReload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.svc.ReloadScheduler(ctx); err != nil {
		return toolError("reload scheduler", err), nil
	}
	return mcp.NewToolResultText(formatStatus(s.svc.SchedulerStatus(ctx))), nil
}

func (s *MCPServer) handleCronPreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cronExpr := mcp.ParseString(request, "cron", "")
	count := int(mcp.ParseFloat64(request, "count", 5))

	nextTimes, err := s.svc.PreviewCron(cronExpr, time.Now(), count)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cron expression: %s\n", cronExpr)
	fmt.Fprintf(&b, "Time zone: %s\n\n", s.svc.Location())
	b.WriteString("Next fire times:\n")
	for i, t := range nextTimes {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, t.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func toolError(op string, err error) *mcp.CallToolResult {
	if errors.Is(err, core.ErrTaskNotFound) {
		return mcp.NewToolResultError("task not found")
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", op, err))
}
