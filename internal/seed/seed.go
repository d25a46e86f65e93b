// Package seed imports an initial set of tasks from a YAML file.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"taskcron/internal/core"
	"taskcron/internal/service"

	yaml "go.yaml.in/yaml/v3"
)

// File is the on-disk layout of a seed file.
//
//	tasks:
//	  - name: backup
//	    type: daily
//	    daily_time: "02:30"
//	    command: ./backup.sh
type File struct {
	Tasks []Task `yaml:"tasks"`
}

// Task is one seed entry.
type Task struct {
	Name           string `yaml:"name"`
	Type           string `yaml:"type"`
	Interval       string `yaml:"interval"`
	DailyTime      string `yaml:"daily_time"`
	CronExpression string `yaml:"cron"`
	Command        string `yaml:"command"`
	Enabled        *bool  `yaml:"enabled"`
}

// Target is what Import writes into. *service.Service satisfies it.
type Target interface {
	ListTasks(ctx context.Context) ([]*core.Task, error)
	CreateTask(ctx context.Context, in core.TaskInput) (*service.TaskResult, error)
}

// Load reads and decodes the seed file at path. Unknown keys are rejected.
func Load(path string) ([]core.TaskInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Decode(data)
}

// Decode parses seed YAML into task inputs.
func Decode(data []byte) ([]core.TaskInput, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	inputs := make([]core.TaskInput, 0, len(f.Tasks))
	for i, t := range f.Tasks {
		if t.Command == "" {
			return nil, fmt.Errorf("seed task %d: command is required", i)
		}
		typ := core.ScheduleType(t.Type)
		if typ == "" {
			typ = core.ScheduleInterval
		}
		inputs = append(inputs, core.TaskInput{
			Name:           t.Name,
			Type:           typ,
			IntervalValue:  t.Interval,
			DailyTime:      t.DailyTime,
			CronExpression: t.CronExpression,
			Command:        t.Command,
			Enabled:        t.Enabled,
		})
	}
	return inputs, nil
}

// Import creates inputs through target when it holds no tasks yet, so a
// restart never duplicates the seed. It returns the number of tasks created.
// Entries that fail validation are logged and skipped.
func Import(ctx context.Context, target Target, inputs []core.TaskInput, logger *slog.Logger) (int, error) {
	existing, err := target.ListTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tasks: %w", err)
	}
	if len(existing) > 0 {
		logger.Debug("seed skipped, tasks already present", "count", len(existing))
		return 0, nil
	}

	created := 0
	for _, in := range inputs {
		res, err := target.CreateTask(ctx, in)
		if errors.Is(err, core.ErrValidation) {
			logger.Warn("skip seed task", "name", in.Name, "err", err)
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create seed task %q: %w", in.Name, err)
		}
		for _, w := range res.Warnings {
			logger.Warn("seed task schedule", "task_id", res.Task.ID, "warning", w)
		}
		created++
	}
	logger.Info("seed imported", "created", created)
	return created, nil
}
