// Package service exposes the task, history, settings and scheduler
// operations shared by the HTTP and MCP transports.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskcron/internal/core"
	"taskcron/internal/logging"
	"taskcron/internal/store"
)

// Deps wires a Service.
type Deps struct {
	KV        store.KV
	Tasks     *store.TaskStore
	History   *store.HistoryStore
	Settings  *store.SettingsStore
	Scheduler *core.Scheduler
	Level     *logging.Level
	Logger    *slog.Logger
	Location  *time.Location
}

// Service is the single entry point for task mutations. Every mutation keeps
// the scheduler's live timer for the affected task in step with the store.
type Service struct {
	kv        store.KV
	tasks     *store.TaskStore
	history   *store.HistoryStore
	settings  *store.SettingsStore
	scheduler *core.Scheduler
	level     *logging.Level
	logger    *slog.Logger
	location  *time.Location
}

// TaskResult is a stored task plus non-fatal schedule diagnostics.
type TaskResult struct {
	Task     *core.Task `json:"task"`
	Warnings []string   `json:"warnings,omitempty"`
}

// SchedulerStatus summarizes the scheduler for callers.
type SchedulerStatus struct {
	Running   bool             `json:"running"`
	Armed     []core.ArmedTask `json:"armed"`
	Listeners int              `json:"listeners"`
	BgState   *store.BgState   `json:"bgState,omitempty"`
}

func New(d Deps) *Service {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		kv:        d.KV,
		tasks:     d.Tasks,
		history:   d.History,
		settings:  d.Settings,
		scheduler: d.Scheduler,
		level:     d.Level,
		logger:    d.Logger,
		location:  loc,
	}
}

func (s *Service) ListTasks(ctx context.Context) ([]*core.Task, error) {
	return s.tasks.List(ctx)
}

func (s *Service) GetTask(ctx context.Context, id string) (*core.Task, error) {
	return s.tasks.Get(ctx, id)
}

// CreateTask persists a new task and arms it when the scheduler is running.
func (s *Service) CreateTask(ctx context.Context, in core.TaskInput) (*TaskResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Command = strings.TrimSpace(in.Command)
	in.DailyTime = strings.TrimSpace(in.DailyTime)
	in.CronExpression = strings.TrimSpace(in.CronExpression)
	task, err := s.tasks.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.Info("task created", "task_id", task.ID, "type", task.Type)
	return s.reschedule(ctx, task)
}

// UpdateTask merges patch into the task and re-arms or unschedules it.
func (s *Service) UpdateTask(ctx context.Context, id string, patch core.TaskPatch) (*TaskResult, error) {
	trim(patch.Name)
	trim(patch.Command)
	trim(patch.DailyTime)
	trim(patch.CronExpression)
	task, err := s.tasks.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.logger.Info("task updated", "task_id", task.ID)
	return s.reschedule(ctx, task)
}

// DeleteTask removes the task and its live timer. History entries are kept.
func (s *Service) DeleteTask(ctx context.Context, id string) (bool, error) {
	removed, err := s.tasks.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	s.scheduler.Unschedule(id)
	if removed {
		s.logger.Info("task deleted", "task_id", id)
	}
	return removed, nil
}

func (s *Service) ListHistory(ctx context.Context) ([]*core.HistoryEntry, error) {
	return s.history.List(ctx)
}

func (s *Service) TaskHistory(ctx context.Context, taskID string, limit int) ([]*core.HistoryEntry, error) {
	return s.history.ListByTask(ctx, taskID, limit)
}

func (s *Service) ClearHistory(ctx context.Context) error {
	return s.history.Clear(ctx)
}

func (s *Service) GetConfig(ctx context.Context) core.Settings {
	return s.settings.Get(ctx)
}

// UpdateConfig persists the settings and applies enableLogging to the live
// log level.
func (s *Service) UpdateConfig(ctx context.Context, patch core.SettingsPatch) (core.Settings, error) {
	settings, err := s.settings.Update(ctx, patch)
	if err != nil {
		return core.Settings{}, err
	}
	s.ApplyLogging(settings)
	return settings, nil
}

// ApplyLogging aligns the log level with settings.EnableLogging.
func (s *Service) ApplyLogging(settings core.Settings) {
	if s.level != nil {
		s.level.SetDiagnostics(settings.EnableLogging)
	}
}

func (s *Service) StartScheduler(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return err
	}
	now := time.Now()
	s.saveBgState(ctx, store.BgState{Running: true, TaskCount: s.scheduler.Armed(), StartedAt: &now})
	return nil
}

// StopScheduler cancels all timers without waiting for commands already
// running. The returned context is done once every timer loop has exited.
func (s *Service) StopScheduler(ctx context.Context) context.Context {
	done := s.scheduler.Stop()
	s.saveBgState(ctx, store.BgState{Running: false})
	return done
}

func (s *Service) ReloadScheduler(ctx context.Context) error {
	if err := s.scheduler.Reload(ctx); err != nil {
		return err
	}
	now := time.Now()
	s.saveBgState(ctx, store.BgState{Running: true, TaskCount: s.scheduler.Armed(), StartedAt: &now})
	return nil
}

// ExecuteTaskNow runs the task immediately, independent of its timer.
func (s *Service) ExecuteTaskNow(ctx context.Context, id string) (*core.HistoryEntry, error) {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.scheduler.ExecuteNow(ctx, task)
}

// Subscribe attaches a taskExecuted listener.
func (s *Service) Subscribe() (<-chan core.Event, func()) {
	return s.scheduler.Events().Subscribe()
}

func (s *Service) SchedulerStatus(ctx context.Context) SchedulerStatus {
	bg, err := store.LoadBgState(ctx, s.kv)
	if err != nil {
		s.logger.Warn("read background state", "err", err)
	}
	return SchedulerStatus{
		Running:   s.scheduler.Running(),
		Armed:     s.scheduler.Snapshot(),
		Listeners: s.scheduler.Events().Subscribers(),
		BgState:   bg,
	}
}

// PreviewCron returns the next count fire times of expr in the service location.
func (s *Service) PreviewCron(expr string, from time.Time, count int) ([]time.Time, error) {
	schedule, err := core.ParseCron(expr)
	if err != nil {
		return nil, err
	}
	if count <= 0 || count > 10 {
		count = 5
	}
	return core.NextOccurrences(schedule, from.In(s.location), count), nil
}

// Location is where daily and cron schedules are evaluated.
func (s *Service) Location() *time.Location {
	return s.location
}

func (s *Service) reschedule(ctx context.Context, task *core.Task) (*TaskResult, error) {
	res := &TaskResult{Task: task, Warnings: core.Diagnose(task)}
	if !task.Enabled || !s.scheduler.Running() {
		s.scheduler.Unschedule(task.ID)
		return s.clearNext(ctx, res)
	}
	if err := s.scheduler.Arm(ctx, task); err != nil {
		if errors.Is(err, core.ErrSchedulerStopped) {
			return res, nil
		}
		s.logger.Warn("task not scheduled", "task_id", task.ID, "err", err)
		return s.clearNext(ctx, res)
	}
	if fresh, err := s.tasks.Get(ctx, task.ID); err == nil {
		res.Task = fresh
	}
	return res, nil
}

func (s *Service) clearNext(ctx context.Context, res *TaskResult) (*TaskResult, error) {
	if res.Task.NextExecutionAt == nil {
		return res, nil
	}
	if err := s.tasks.SetNextExecution(ctx, res.Task.ID, nil); err != nil {
		return nil, fmt.Errorf("clear next execution: %w", err)
	}
	res.Task.NextExecutionAt = nil
	return res, nil
}

func (s *Service) saveBgState(ctx context.Context, state store.BgState) {
	if err := store.SaveBgState(ctx, s.kv, state); err != nil {
		s.logger.Warn("save background state", "err", err)
	}
}

func trim(v *string) {
	if v != nil {
		*v = strings.TrimSpace(*v)
	}
}
