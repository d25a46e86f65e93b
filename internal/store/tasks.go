package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"taskcron/internal/core"
)

var ErrTaskNotFound = core.ErrTaskNotFound

// TaskStore persists task definitions as a single ordered collection.
// Read-modify-write cycles are serialized so concurrent mutations in this
// process cannot lose each other's updates.
type TaskStore struct {
	kv     KV
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewTaskStore creates a task store on top of kv.
func NewTaskStore(kv KV, logger *slog.Logger) *TaskStore {
	return &TaskStore{kv: kv, logger: logger, now: time.Now}
}

// List returns all tasks in insertion order. A read failure degrades to an
// empty list.
func (s *TaskStore) List(ctx context.Context) ([]*core.Task, error) {
	tasks, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("read tasks", "err", err)
		return []*core.Task{}, nil
	}
	return tasks, nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (*core.Task, error) {
	tasks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, ErrTaskNotFound
}

// Create assigns an id and timestamps, defaults enabled to true and persists
// the task.
func (s *TaskStore) Create(ctx context.Context, in core.TaskInput) (*core.Task, error) {
	now := s.now()
	task := &core.Task{
		ID:             core.NewID("task"),
		Name:           in.Name,
		Type:           in.Type,
		IntervalValue:  in.IntervalValue,
		DailyTime:      in.DailyTime,
		CronExpression: in.CronExpression,
		Command:        in.Command,
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Enabled != nil {
		task.Enabled = *in.Enabled
	}
	if err := core.ValidateTask(task); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	tasks = append(tasks, task)
	if err := s.save(ctx, tasks); err != nil {
		return nil, err
	}
	return task, nil
}

// Update merges patch over the stored task, keeping its id and refreshing
// updatedAt.
func (s *TaskStore) Update(ctx context.Context, id string, patch core.TaskPatch) (*core.Task, error) {
	return s.mutate(ctx, id, func(t *core.Task) error {
		patch.Apply(t)
		t.ID = id
		if err := core.ValidateTask(t); err != nil {
			return err
		}
		t.UpdatedAt = s.now()
		return nil
	})
}

// Delete removes the task and reports whether it existed.
func (s *TaskStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	kept := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(tasks) {
		return false, nil
	}
	if err := s.save(ctx, kept); err != nil {
		return false, err
	}
	return true, nil
}

// MarkExecuted records the start time of the latest execution.
func (s *TaskStore) MarkExecuted(ctx context.Context, id string, at time.Time) error {
	_, err := s.mutate(ctx, id, func(t *core.Task) error {
		t.LastExecutedAt = &at
		return nil
	})
	return err
}

// SetNextExecution records the scheduler's committed fire time; nil clears it.
func (s *TaskStore) SetNextExecution(ctx context.Context, id string, next *time.Time) error {
	_, err := s.mutate(ctx, id, func(t *core.Task) error {
		t.NextExecutionAt = next
		return nil
	})
	return err
}

func (s *TaskStore) mutate(ctx context.Context, id string, fn func(*core.Task) error) (*core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for i, t := range tasks {
		if t.ID != id {
			continue
		}
		updated := *t
		if err := fn(&updated); err != nil {
			return nil, err
		}
		tasks[i] = &updated
		if err := s.save(ctx, tasks); err != nil {
			return nil, err
		}
		return &updated, nil
	}
	return nil, ErrTaskNotFound
}

func (s *TaskStore) load(ctx context.Context) ([]*core.Task, error) {
	var tasks []*core.Task
	if _, err := getJSON(ctx, s.kv, KeyTasks, &tasks); err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	if tasks == nil {
		tasks = []*core.Task{}
	}
	return tasks, nil
}

func (s *TaskStore) save(ctx context.Context, tasks []*core.Task) error {
	if tasks == nil {
		tasks = []*core.Task{}
	}
	if err := setJSON(ctx, s.kv, KeyTasks, tasks); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	return nil
}
