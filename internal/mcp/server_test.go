package mcp

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"taskcron/internal/core"
	"taskcron/internal/logging"
	"taskcron/internal/service"
	"taskcron/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct{}

func (stubExecutor) Execute(context.Context, string) (*core.ExecResult, error) {
	return &core.ExecResult{Success: true, Stdout: "pong\n"}, nil
}

func setupTestMCP(t *testing.T) (*MCPServer, *service.Service) {
	t.Helper()
	logger, level := logging.NewWithWriter(io.Discard, "info")
	kv := store.NewMemory()
	settings := store.NewSettingsStore(kv, logger)
	tasks := store.NewTaskStore(kv, logger)
	history := store.NewHistoryStore(kv, settings, logger)
	scheduler := core.NewScheduler(tasks, history, stubExecutor{}, core.Calculator{Location: time.UTC}, nil, logger)
	svc := service.New(service.Deps{
		KV: kv, Tasks: tasks, History: history, Settings: settings,
		Scheduler: scheduler, Level: level, Logger: logger, Location: time.UTC,
	})
	require.NoError(t, svc.StartScheduler(context.Background()))
	t.Cleanup(func() { <-scheduler.Stop().Done() })
	return NewMCPServer(svc, logger), svc
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func TestTaskTools(t *testing.T) {
	s, svc := setupTestMCP(t)
	ctx := context.Background()

	res, err := s.handleCreateTask(ctx, call(map[string]any{
		"name": "ping", "type": "interval", "interval_value": "15m", "command": "echo pong",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "every 15m")

	tasks, err := svc.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	id := tasks[0].ID

	res, err = s.handleListTasks(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), id)

	res, err = s.handleUpdateTask(ctx, call(map[string]any{"task_id": id, "enabled": false}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	got, err := svc.GetTask(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "ping", got.Name, "omitted arguments are left unchanged")

	res, err = s.handleRunTask(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "pong")

	res, err = s.handleListHistory(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "1 entries")

	res, err = s.handleDeleteTask(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = s.handleGetTask(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "task not found", text(t, res))
}

func TestCreateTaskTool_Warnings(t *testing.T) {
	s, _ := setupTestMCP(t)

	res, err := s.handleCreateTask(context.Background(), call(map[string]any{
		"type": "cron", "cron_expression": "whenever", "command": "ls",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "Warnings:")

	res, err = s.handleCreateTask(context.Background(), call(map[string]any{"type": "daily", "command": "ls"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestConfigTools(t *testing.T) {
	s, svc := setupTestMCP(t)
	ctx := context.Background()

	res, err := s.handleUpdateConfig(ctx, call(map[string]any{"max_history_items": float64(25), "enable_logging": false}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, 25, svc.GetConfig(ctx).MaxHistoryItems)
	assert.False(t, svc.GetConfig(ctx).EnableLogging)

	res, err = s.handleGetConfig(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "maxHistoryItems: 25")
}

func TestSchedulerAndCronTools(t *testing.T) {
	s, _ := setupTestMCP(t)
	ctx := context.Background()

	res, err := s.handleSchedulerStatus(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "Running: true")

	res, err = s.handleSchedulerReload(ctx, call(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = s.handleCronPreview(ctx, call(map[string]any{"cron": "0 9 * * *", "count": float64(3)}))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "3. ")
	assert.Equal(t, 3, strings.Count(out, ":00:00"))

	res, err = s.handleCronPreview(ctx, call(map[string]any{"cron": "@daily"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListHistoryTool_Limit(t *testing.T) {
	s, svc := setupTestMCP(t)
	ctx := context.Background()

	created, err := svc.CreateTask(ctx, core.TaskInput{Type: core.ScheduleInterval, IntervalValue: "1h", Command: "echo pong"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := svc.ExecuteTaskNow(ctx, created.Task.ID)
		require.NoError(t, err)
	}

	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{"negative falls back to default", map[string]any{"limit": float64(-1)}, "3 entries"},
		{"zero falls back to default", map[string]any{"limit": float64(0)}, "3 entries"},
		{"positive caps", map[string]any{"limit": float64(2)}, "2 entries"},
		{"per task zero", map[string]any{"task_id": created.Task.ID, "limit": float64(0)}, "3 entries"},
		{"per task negative", map[string]any{"task_id": created.Task.ID, "limit": float64(-5)}, "3 entries"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := s.handleListHistory(ctx, call(tc.args))
			require.NoError(t, err)
			assert.False(t, res.IsError)
			assert.Contains(t, text(t, res), tc.want)
		})
	}
}

func TestServer_RecoversToolPanic(t *testing.T) {
	s, _ := setupTestMCP(t)
	s.server.AddTool(mcp.NewTool("explode"), func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		panic("kaboom")
	})

	resp := s.server.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"explode"}}`))

	rpcErr, ok := resp.(mcp.JSONRPCError)
	require.True(t, ok, "expected JSON-RPC error, got %T", resp)
	assert.Contains(t, rpcErr.Error.Message, "kaboom")
}
