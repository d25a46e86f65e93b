package service

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"taskcron/internal/core"
	"taskcron/internal/logging"
	"taskcron/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct{}

func (stubExecutor) Execute(context.Context, string) (*core.ExecResult, error) {
	return &core.ExecResult{Success: true, Stdout: "ok\n", Platform: core.PlatformLinux}, nil
}

func setupTestService(t *testing.T, start bool) (*Service, *logging.Level) {
	t.Helper()
	return newTestService(t, stubExecutor{}, core.Calculator{Location: time.UTC}, start)
}

func newTestService(t *testing.T, executor core.Executor, recurrence core.Recurrence, start bool) (*Service, *logging.Level) {
	t.Helper()
	logger, level := logging.NewWithWriter(io.Discard, "info")
	kv := store.NewMemory()
	settings := store.NewSettingsStore(kv, logger)
	tasks := store.NewTaskStore(kv, logger)
	history := store.NewHistoryStore(kv, settings, logger)
	scheduler := core.NewScheduler(tasks, history, executor, recurrence, nil, logger)

	svc := New(Deps{
		KV:        kv,
		Tasks:     tasks,
		History:   history,
		Settings:  settings,
		Scheduler: scheduler,
		Level:     level,
		Logger:    logger,
		Location:  time.UTC,
	})
	if start {
		require.NoError(t, svc.StartScheduler(context.Background()))
	}
	t.Cleanup(func() { <-scheduler.Stop().Done() })
	return svc, level
}

func ptr[T any](v T) *T { return &v }

func hourly(name string) core.TaskInput {
	return core.TaskInput{Name: name, Type: core.ScheduleInterval, IntervalValue: "1h", Command: "echo " + name}
}

func TestCreateTask_ArmsWhenRunning(t *testing.T) {
	svc, _ := setupTestService(t, true)
	ctx := context.Background()

	res, err := svc.CreateTask(ctx, core.TaskInput{Name: "  padded  ", Type: core.ScheduleInterval, IntervalValue: "1h", Command: "  echo hi  "})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "padded", res.Task.Name)
	assert.Equal(t, "echo hi", res.Task.Command)
	require.NotNil(t, res.Task.NextExecutionAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *res.Task.NextExecutionAt, 5*time.Second)
	assert.True(t, svc.scheduler.IsArmed(res.Task.ID))
}

func TestCreateTask_SchedulerStopped(t *testing.T) {
	svc, _ := setupTestService(t, false)

	res, err := svc.CreateTask(context.Background(), hourly("a"))
	require.NoError(t, err)
	assert.Nil(t, res.Task.NextExecutionAt)
	assert.False(t, svc.scheduler.IsArmed(res.Task.ID))
}

func TestCreateTask_Disabled(t *testing.T) {
	svc, _ := setupTestService(t, true)
	in := hourly("a")
	in.Enabled = ptr(false)

	res, err := svc.CreateTask(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Task.Enabled)
	assert.Nil(t, res.Task.NextExecutionAt)
	assert.False(t, svc.scheduler.IsArmed(res.Task.ID))
}

func TestCreateTask_ScheduleDiagnostics(t *testing.T) {
	svc, _ := setupTestService(t, true)
	ctx := context.Background()

	badCron, err := svc.CreateTask(ctx, core.TaskInput{Type: core.ScheduleCron, CronExpression: "every tuesday", Command: "ls"})
	require.NoError(t, err, "invalid cron is stored")
	assert.NotEmpty(t, badCron.Warnings)
	assert.Nil(t, badCron.Task.NextExecutionAt)
	assert.False(t, svc.scheduler.IsArmed(badCron.Task.ID))

	badDaily, err := svc.CreateTask(ctx, core.TaskInput{Type: core.ScheduleDaily, DailyTime: "25:99", Command: "ls"})
	require.NoError(t, err)
	assert.NotEmpty(t, badDaily.Warnings)
	assert.True(t, svc.scheduler.IsArmed(badDaily.Task.ID), "bad daily time falls back to 24 hours")
	require.NotNil(t, badDaily.Task.NextExecutionAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *badDaily.Task.NextExecutionAt, 5*time.Second)

	_, err = svc.CreateTask(ctx, core.TaskInput{Type: core.ScheduleDaily, Command: "ls"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestUpdateTask_DisableAndReenable(t *testing.T) {
	svc, _ := setupTestService(t, true)
	ctx := context.Background()
	created, err := svc.CreateTask(ctx, hourly("a"))
	require.NoError(t, err)
	id := created.Task.ID

	res, err := svc.UpdateTask(ctx, id, core.TaskPatch{Enabled: ptr(false)})
	require.NoError(t, err)
	assert.False(t, svc.scheduler.IsArmed(id))
	assert.Nil(t, res.Task.NextExecutionAt)
	stored, err := svc.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, stored.NextExecutionAt)

	res, err = svc.UpdateTask(ctx, id, core.TaskPatch{Enabled: ptr(true), IntervalValue: ptr("15m")})
	require.NoError(t, err)
	assert.True(t, svc.scheduler.IsArmed(id))
	require.NotNil(t, res.Task.NextExecutionAt)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), *res.Task.NextExecutionAt, 5*time.Second)
	assert.Equal(t, 1, svc.scheduler.Armed())

	_, err = svc.UpdateTask(ctx, "missing", core.TaskPatch{Name: ptr("x")})
	assert.ErrorIs(t, err, core.ErrTaskNotFound)
}

func TestDeleteTask_KeepsHistory(t *testing.T) {
	svc, _ := setupTestService(t, true)
	ctx := context.Background()
	created, err := svc.CreateTask(ctx, hourly("a"))
	require.NoError(t, err)
	id := created.Task.ID

	_, err = svc.ExecuteTaskNow(ctx, id)
	require.NoError(t, err)

	removed, err := svc.DeleteTask(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, svc.scheduler.IsArmed(id))

	removed, err = svc.DeleteTask(ctx, id)
	require.NoError(t, err)
	assert.False(t, removed)

	history, err := svc.TaskHistory(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestExecuteTaskNow(t *testing.T) {
	svc, _ := setupTestService(t, false)
	ctx := context.Background()
	created, err := svc.CreateTask(ctx, hourly("a"))
	require.NoError(t, err)

	events, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	entry, err := svc.ExecuteTaskNow(ctx, created.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.HistorySuccess, entry.Status)
	assert.Equal(t, "echo a", entry.Command)
	assert.Equal(t, "a", entry.TaskName)

	select {
	case ev := <-events:
		assert.Equal(t, created.Task.ID, ev.TaskID)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	task, err := svc.GetTask(ctx, created.Task.ID)
	require.NoError(t, err)
	assert.NotNil(t, task.LastExecutedAt)

	all, err := svc.ListHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	require.NoError(t, svc.ClearHistory(ctx))
	all, err = svc.ListHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = svc.ExecuteTaskNow(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrTaskNotFound)
}

func TestUpdateConfig_TogglesLogging(t *testing.T) {
	svc, level := setupTestService(t, false)
	ctx := context.Background()

	settings, err := svc.UpdateConfig(ctx, core.SettingsPatch{EnableLogging: ptr(false), MaxHistoryItems: ptr(10)})
	require.NoError(t, err)
	assert.False(t, settings.EnableLogging)
	assert.Equal(t, 10, settings.MaxHistoryItems)
	assert.Equal(t, slog.LevelWarn, level.Level())

	_, err = svc.UpdateConfig(ctx, core.SettingsPatch{EnableLogging: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level.Level())
	assert.Equal(t, 10, svc.GetConfig(ctx).MaxHistoryItems)

	_, err = svc.UpdateConfig(ctx, core.SettingsPatch{MaxOutputLength: ptr(-5)})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestSchedulerLifecycle(t *testing.T) {
	svc, _ := setupTestService(t, false)
	ctx := context.Background()
	_, err := svc.CreateTask(ctx, hourly("a"))
	require.NoError(t, err)
	_, err = svc.CreateTask(ctx, hourly("b"))
	require.NoError(t, err)

	status := svc.SchedulerStatus(ctx)
	assert.False(t, status.Running)
	assert.Nil(t, status.BgState)

	require.NoError(t, svc.StartScheduler(ctx))
	status = svc.SchedulerStatus(ctx)
	assert.True(t, status.Running)
	assert.Len(t, status.Armed, 2)
	require.NotNil(t, status.BgState)
	assert.True(t, status.BgState.Running)
	assert.Equal(t, 2, status.BgState.TaskCount)

	<-svc.StopScheduler(ctx).Done()
	status = svc.SchedulerStatus(ctx)
	assert.False(t, status.Running)
	assert.Empty(t, status.Armed)
	require.NotNil(t, status.BgState)
	assert.False(t, status.BgState.Running)

	require.NoError(t, svc.ReloadScheduler(ctx))
	assert.Len(t, svc.SchedulerStatus(ctx).Armed, 2)
}

func TestPreviewCron(t *testing.T) {
	svc, _ := setupTestService(t, false)
	from := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

	times, err := svc.PreviewCron("0 * * * *", from, 0)
	require.NoError(t, err)
	require.Len(t, times, 5)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), times[0])

	times, err = svc.PreviewCron("0 * * * *", from, 2)
	require.NoError(t, err)
	assert.Len(t, times, 2)

	_, err = svc.PreviewCron("bad", from, 3)
	assert.ErrorIs(t, err, core.ErrInvalidCron)
}

// fastRecurrence validates like the production calculator but fires after delay.
type fastRecurrence struct {
	delay time.Duration
}

func (r fastRecurrence) Plan(task *core.Task, now time.Time) (core.Plan, error) {
	if _, err := (core.Calculator{Location: time.UTC}).Plan(task, now); err != nil {
		return core.Plan{}, err
	}
	return core.Plan{Delay: r.delay, Next: now.Add(r.delay)}, nil
}

func TestScheduledRunEndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found in PATH")
	}
	logger, _ := logging.NewWithWriter(io.Discard, "info")
	executor := core.NewShellExecutor(store.NewSettingsStore(store.NewMemory(), logger), logger, 5*time.Second)
	svc, _ := newTestService(t, executor, fastRecurrence{delay: 50 * time.Millisecond}, true)
	ctx := context.Background()

	events, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	res, err := svc.CreateTask(ctx, core.TaskInput{Type: core.ScheduleInterval, IntervalValue: "1m", Command: "echo hi"})
	require.NoError(t, err)
	require.NotNil(t, res.Task.NextExecutionAt)
	firstNext := *res.Task.NextExecutionAt

	select {
	case ev := <-events:
		assert.Equal(t, res.Task.ID, ev.TaskID)
	case <-time.After(5 * time.Second):
		t.Fatal("task did not fire")
	}

	history, err := svc.TaskHistory(ctx, res.Task.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, strings.Contains(history[0].Stdout, "hi"))
	assert.Equal(t, 0, history[0].ExitCode)
	assert.Equal(t, core.HistorySuccess, history[0].Status)

	assert.Eventually(t, func() bool {
		task, err := svc.GetTask(ctx, res.Task.ID)
		return err == nil && task.LastExecutedAt != nil &&
			task.NextExecutionAt != nil && task.NextExecutionAt.After(firstNext)
	}, 2*time.Second, 10*time.Millisecond, "next execution recomputed after the run")
}

func TestDeleteThenReload(t *testing.T) {
	svc, _ := setupTestService(t, true)
	ctx := context.Background()
	keep, err := svc.CreateTask(ctx, hourly("keep"))
	require.NoError(t, err)
	gone, err := svc.CreateTask(ctx, hourly("gone"))
	require.NoError(t, err)

	_, err = svc.DeleteTask(ctx, gone.Task.ID)
	require.NoError(t, err)
	require.NoError(t, svc.ReloadScheduler(ctx))

	assert.False(t, svc.scheduler.IsArmed(gone.Task.ID))
	assert.True(t, svc.scheduler.IsArmed(keep.Task.ID))
	tasks, err := svc.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, keep.Task.ID, tasks[0].ID)
}
