package core

import (
	"time"
)

// ScheduleType selects which recurrence payload of a task is meaningful.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleDaily    ScheduleType = "daily"
	ScheduleCron     ScheduleType = "cron"
)

// Valid reports whether t is one of the known schedule types.
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleInterval, ScheduleDaily, ScheduleCron:
		return true
	}
	return false
}

// HistoryStatus is the outcome recorded for one execution attempt.
type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "success"
	HistoryFailure HistoryStatus = "failure"
)

// Task represents a scheduled shell command.
type Task struct {
	ID              string       `json:"id"`
	Name            string       `json:"name,omitempty"`
	Type            ScheduleType `json:"type"`
	IntervalValue   string       `json:"intervalValue,omitempty"`
	DailyTime       string       `json:"dailyTime,omitempty"`
	CronExpression  string       `json:"cronExpression,omitempty"`
	Command         string       `json:"command"`
	Enabled         bool         `json:"enabled"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	LastExecutedAt  *time.Time   `json:"lastExecutedAt,omitempty"`
	NextExecutionAt *time.Time   `json:"nextExecutionAt,omitempty"`
}

// DisplayName returns the task name, or its id when unnamed.
func (t *Task) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

// TaskInput carries the caller-supplied fields of a new task.
// A nil Enabled means the task starts enabled.
type TaskInput struct {
	Name           string       `json:"name"`
	Type           ScheduleType `json:"type"`
	IntervalValue  string       `json:"intervalValue"`
	DailyTime      string       `json:"dailyTime"`
	CronExpression string       `json:"cronExpression"`
	Command        string       `json:"command"`
	Enabled        *bool        `json:"enabled"`
}

// TaskPatch carries a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Name           *string       `json:"name"`
	Type           *ScheduleType `json:"type"`
	IntervalValue  *string       `json:"intervalValue"`
	DailyTime      *string       `json:"dailyTime"`
	CronExpression *string       `json:"cronExpression"`
	Command        *string       `json:"command"`
	Enabled        *bool         `json:"enabled"`
}

// Apply merges the non-nil fields of p into t.
func (p TaskPatch) Apply(t *Task) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.IntervalValue != nil {
		t.IntervalValue = *p.IntervalValue
	}
	if p.DailyTime != nil {
		t.DailyTime = *p.DailyTime
	}
	if p.CronExpression != nil {
		t.CronExpression = *p.CronExpression
	}
	if p.Command != nil {
		t.Command = *p.Command
	}
	if p.Enabled != nil {
		t.Enabled = *p.Enabled
	}
}

// HistoryEntry is the immutable record of one execution attempt. TaskName and
// Command are snapshots taken at execution time.
type HistoryEntry struct {
	ID              string        `json:"id"`
	TaskID          string        `json:"taskId"`
	TaskName        string        `json:"taskName,omitempty"`
	Command         string        `json:"command"`
	ExecutedAt      time.Time     `json:"executedAt"`
	Status          HistoryStatus `json:"status"`
	ExitCode        int           `json:"exitCode"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	DurationMS      int64         `json:"duration"`
	OutputTruncated bool          `json:"outputTruncated"`
}

// ExecResult is what the executor reports for a single command run.
type ExecResult struct {
	Success    bool     `json:"success"`
	ExitCode   int      `json:"exitCode"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
	DurationMS int64    `json:"duration"`
	Truncated  bool     `json:"truncated"`
	Platform   Platform `json:"platform"`
}

// Settings are the process-wide options persisted alongside tasks.
type Settings struct {
	MaxHistoryItems int  `json:"maxHistoryItems"`
	MaxOutputLength int  `json:"maxOutputLength"`
	EnableLogging   bool `json:"enableLogging"`
}

const (
	DefaultMaxHistoryItems = 500
	DefaultMaxOutputLength = 10000
)

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		MaxHistoryItems: DefaultMaxHistoryItems,
		MaxOutputLength: DefaultMaxOutputLength,
		EnableLogging:   true,
	}
}

// SettingsPatch carries a partial settings update.
type SettingsPatch struct {
	MaxHistoryItems *int  `json:"maxHistoryItems"`
	MaxOutputLength *int  `json:"maxOutputLength"`
	EnableLogging   *bool `json:"enableLogging"`
}

// Apply merges the non-nil fields of p into s.
func (p SettingsPatch) Apply(s *Settings) {
	if p.MaxHistoryItems != nil {
		s.MaxHistoryItems = *p.MaxHistoryItems
	}
	if p.MaxOutputLength != nil {
		s.MaxOutputLength = *p.MaxOutputLength
	}
	if p.EnableLogging != nil {
		s.EnableLogging = *p.EnableLogging
	}
}

// Normalize replaces non-positive limits with their defaults.
func (s Settings) Normalize() Settings {
	if s.MaxHistoryItems <= 0 {
		s.MaxHistoryItems = DefaultMaxHistoryItems
	}
	if s.MaxOutputLength <= 0 {
		s.MaxOutputLength = DefaultMaxOutputLength
	}
	return s
}
