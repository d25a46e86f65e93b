package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTaskNotFound is returned by task lookups for an unknown id.
var ErrTaskNotFound = errors.New("task not found")

// ErrSchedulerStopped is returned when arming a task while the scheduler is stopped.
var ErrSchedulerStopped = errors.New("scheduler is not running")

// TaskRepository is the part of the task store the scheduler depends on.
type TaskRepository interface {
	List(ctx context.Context) ([]*Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	MarkExecuted(ctx context.Context, id string, at time.Time) error
	SetNextExecution(ctx context.Context, id string, next *time.Time) error
}

// HistoryRecorder appends execution records.
type HistoryRecorder interface {
	Append(ctx context.Context, entry *HistoryEntry) (*HistoryEntry, error)
}

// TaskState describes what the scheduler is doing with a task.
type TaskState string

const (
	TaskStateArmed   TaskState = "armed"
	TaskStateRunning TaskState = "running"
)

// ArmedTask is a snapshot of one live timer.
type ArmedTask struct {
	TaskID string    `json:"taskId"`
	State  TaskState `json:"state"`
	NextAt time.Time `json:"nextAt"`
}

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
	state  TaskState
	next   time.Time
}

// Scheduler owns one timer loop per enabled task. The timer map lives only in
// memory and is rebuilt from the task store on every Start.
type Scheduler struct {
	tasks      TaskRepository
	history    HistoryRecorder
	executor   Executor
	recurrence Recurrence
	events     *Broadcaster
	logger     *slog.Logger
	now        func() time.Time

	// persistMu orders nextExecutionAt writes; mu is never held across I/O.
	persistMu sync.Mutex

	mu      sync.Mutex
	running bool
	entries map[string]*entry
	loops   atomic.Int64
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(tasks TaskRepository, history HistoryRecorder, executor Executor, recurrence Recurrence, events *Broadcaster, logger *slog.Logger) *Scheduler {
	if events == nil {
		events = NewBroadcaster()
	}
	return &Scheduler{
		tasks:      tasks,
		history:    history,
		executor:   executor,
		recurrence: recurrence,
		events:     events,
		logger:     logger,
		now:        time.Now,
		entries:    make(map[string]*entry),
	}
}

// Events returns the broadcaster used for taskExecuted notifications.
func (s *Scheduler) Events() *Broadcaster {
	return s.events
}

// Start loads all tasks and arms every enabled one. It is a no-op when the
// scheduler is already running. ctx is only used for the initial load.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting scheduler")
	tasks, err := s.tasks.List(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("list tasks: %w", err)
	}
	for _, task := range tasks {
		if !task.Enabled {
			continue
		}
		if err := s.Arm(ctx, task); err != nil {
			s.logger.Error("schedule task", "task_id", task.ID, "err", err)
		}
	}
	s.logger.Info("scheduler started", "armed", s.Armed(), "tasks", len(tasks))
	return nil
}

// Stop cancels every live timer and clears the timer map. Commands already
// running are not interrupted. The returned context is done once every
// cancelled timer loop has exited, which may take as long as the slowest
// in-flight command.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	pending := make([]chan struct{}, 0, len(s.entries))
	for id, e := range s.entries {
		e.cancel()
		pending = append(pending, e.done)
		delete(s.entries, id)
	}
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if wasRunning {
		s.logger.Info("scheduler stopped")
	}
	done, cancel := context.WithCancel(context.Background())
	go func() {
		for _, ch := range pending {
			<-ch
		}
		cancel()
	}()
	return done
}

// Reload stops and restarts the scheduler so that it picks up persisted task changes.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// Running reports whether the scheduler has been started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Arm replaces any live timer for task with a fresh one. Disabled tasks are
// left unscheduled. A recurrence error leaves the task unscheduled and is
// returned to the caller.
func (s *Scheduler) Arm(ctx context.Context, task *Task) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.cancelLocked(task.ID)
	if !task.Enabled {
		s.mu.Unlock()
		return nil
	}

	plan, err := s.recurrence.Plan(task, s.now())
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("task left unscheduled", "task_id", task.ID, "type", task.Type, "err", err)
		return fmt.Errorf("plan task %s: %w", task.ID, err)
	}

	next := plan.Next
	loopCtx, cancel := context.WithCancel(context.Background())
	e := &entry{cancel: cancel, done: make(chan struct{}), state: TaskStateArmed, next: next}
	s.entries[task.ID] = e
	snapshot := *task
	go s.loop(loopCtx, e, &snapshot, plan.Delay)
	s.mu.Unlock()

	s.warnPlan(task, plan)
	s.persistNext(ctx, e, task.ID, next)
	s.logger.Debug("task armed", "task_id", task.ID, "delay", plan.Delay, "next", next)
	return nil
}

// Unschedule cancels the live timer for id, if any.
func (s *Scheduler) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelLocked(id) {
		s.logger.Info("task unscheduled", "task_id", id)
	}
}

// Armed returns the number of live timers.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// IsArmed reports whether id has a live timer.
func (s *Scheduler) IsArmed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Snapshot lists the live timers ordered by next fire time.
func (s *Scheduler) Snapshot() []ArmedTask {
	s.mu.Lock()
	out := make([]ArmedTask, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, ArmedTask{TaskID: id, State: e.state, NextAt: e.next})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].NextAt.Before(out[j].NextAt) })
	return out
}

// ExecuteNow runs the task's command, records a history entry, marks the task
// as executed and publishes a taskExecuted event. An unexpected executor fault
// is still recorded as a failed entry, but no event is published. The returned
// error reports only a failure to persist the history entry.
func (s *Scheduler) ExecuteNow(ctx context.Context, task *Task) (*HistoryEntry, error) {
	s.logger.Info("executing task", "task_id", task.ID)
	startedAt := s.now()

	result, execErr := s.executor.Execute(ctx, task.Command)
	if execErr != nil {
		s.logger.Error("task execution error", "task_id", task.ID, "err", execErr)
		entry, err := s.history.Append(ctx, &HistoryEntry{
			TaskID:     task.ID,
			TaskName:   task.Name,
			Command:    task.Command,
			ExecutedAt: startedAt,
			Status:     HistoryFailure,
			ExitCode:   failedExitCode,
			Stderr:     execErr.Error(),
			DurationMS: s.now().Sub(startedAt).Milliseconds(),
		})
		if err != nil {
			return nil, fmt.Errorf("record history: %w", err)
		}
		return entry, nil
	}

	status := HistorySuccess
	if !result.Success {
		status = HistoryFailure
	}
	entry, err := s.history.Append(ctx, &HistoryEntry{
		TaskID:          task.ID,
		TaskName:        task.Name,
		Command:         task.Command,
		ExecutedAt:      startedAt,
		Status:          status,
		ExitCode:        result.ExitCode,
		Stdout:          result.Stdout,
		Stderr:          result.Stderr,
		DurationMS:      result.DurationMS,
		OutputTruncated: result.Truncated,
	})
	if err != nil {
		return nil, fmt.Errorf("record history: %w", err)
	}
	if err := s.tasks.MarkExecuted(ctx, task.ID, startedAt); err != nil && !errors.Is(err, ErrTaskNotFound) {
		s.logger.Warn("update last execution", "task_id", task.ID, "err", err)
	}

	s.events.Publish(Event{Type: EventTaskExecuted, TaskID: task.ID, Result: result, At: s.now()})
	s.logger.Info("task executed", "task_id", task.ID, "status", status, "exit_code", result.ExitCode, "duration_ms", result.DurationMS)
	return entry, nil
}

// loop waits for the timer, executes the task and re-plans from the
// post-execution time until cancelled, disabled, deleted or unplannable.
func (s *Scheduler) loop(ctx context.Context, e *entry, task *Task, delay time.Duration) {
	defer close(e.done)
	defer s.release(task.ID, e)
	s.loops.Add(1)
	defer s.loops.Add(-1)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.setState(e, TaskStateRunning)
		if _, err := s.ExecuteNow(context.WithoutCancel(ctx), task); err != nil {
			s.logger.Error("execute task", "task_id", task.ID, "err", err)
		}
		if ctx.Err() != nil {
			return
		}

		fresh, err := s.tasks.Get(ctx, task.ID)
		switch {
		case errors.Is(err, ErrTaskNotFound):
			s.logger.Info("task deleted, not rescheduling", "task_id", task.ID)
			return
		case err != nil:
			s.logger.Warn("reload task, keeping previous definition", "task_id", task.ID, "err", err)
		default:
			task = fresh
		}
		if !task.Enabled {
			s.clearNext(ctx, task.ID)
			return
		}

		plan, err := s.recurrence.Plan(task, s.now())
		if err != nil {
			s.logger.Error("task left unscheduled", "task_id", task.ID, "type", task.Type, "err", err)
			return
		}
		s.warnPlan(task, plan)
		if !s.commit(ctx, e, task.ID, plan.Next) {
			return
		}
		timer.Reset(plan.Delay)
	}
}

// commit records the next fire time unless the loop has been cancelled.
func (s *Scheduler) commit(ctx context.Context, e *entry, id string, next time.Time) bool {
	s.mu.Lock()
	if ctx.Err() != nil || s.entries[id] != e {
		s.mu.Unlock()
		return false
	}
	e.state = TaskStateArmed
	e.next = next
	s.mu.Unlock()

	s.persistNext(ctx, e, id, next)
	return true
}

// persistNext writes next unless e has since been replaced or has moved on to
// a later fire time, so a slow write never lands over a newer commitment.
func (s *Scheduler) persistNext(ctx context.Context, e *entry, id string, next time.Time) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	current := s.entries[id] == e && e.next.Equal(next)
	s.mu.Unlock()
	if !current {
		return
	}
	if err := s.tasks.SetNextExecution(ctx, id, &next); err != nil {
		s.logger.Warn("update next execution", "task_id", id, "err", err)
	}
}

func (s *Scheduler) clearNext(ctx context.Context, id string) {
	if err := s.tasks.SetNextExecution(ctx, id, nil); err != nil && !errors.Is(err, ErrTaskNotFound) {
		s.logger.Warn("clear next execution", "task_id", id, "err", err)
	}
}

func (s *Scheduler) warnPlan(task *Task, plan Plan) {
	if plan.Warning != nil {
		s.logger.Error("invalid schedule, using fallback delay", "task_id", task.ID, "delay", plan.Delay, "err", plan.Warning)
	}
}

func (s *Scheduler) setState(e *entry, state TaskState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.state = state
}

func (s *Scheduler) release(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[id] == e {
		delete(s.entries, id)
	}
}

func (s *Scheduler) cancelLocked(id string) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.cancel()
	delete(s.entries, id)
	return true
}
