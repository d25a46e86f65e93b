package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks input rejected before persistence.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownScheduleType is returned for a task whose type is not recognised.
	ErrUnknownScheduleType = errors.New("unknown schedule type")
)

// ValidateTask checks the fields that must be present for the task's type.
// A malformed daily time is not rejected here; it soft-fails at scheduling time.
func ValidateTask(t *Task) error {
	if strings.TrimSpace(t.Command) == "" {
		return fmt.Errorf("%w: command is required", ErrValidation)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: type must be interval, daily or cron, got %q", ErrValidation, t.Type)
	}
	switch t.Type {
	case ScheduleDaily:
		if strings.TrimSpace(t.DailyTime) == "" {
			return fmt.Errorf("%w: daily time is required", ErrValidation)
		}
	case ScheduleCron:
		if strings.TrimSpace(t.CronExpression) == "" {
			return fmt.Errorf("%w: cron expression is required", ErrValidation)
		}
	}
	return nil
}

// Diagnose reports schedule problems that do not block persistence. Each
// message says how the scheduler will treat the task.
func Diagnose(t *Task) []string {
	var warnings []string
	switch t.Type {
	case ScheduleInterval:
		if _, ok := intervals[t.IntervalValue]; !ok {
			warnings = append(warnings, fmt.Sprintf("unknown interval %q, falling back to %s", t.IntervalValue, defaultInterval))
		}
	case ScheduleDaily:
		if _, _, err := parseDailyTime(t.DailyTime); err != nil {
			warnings = append(warnings, fmt.Sprintf("%v, task will run every 24 hours", err))
		}
	case ScheduleCron:
		if _, err := ParseCron(t.CronExpression); err != nil {
			warnings = append(warnings, fmt.Sprintf("%v, task will not be scheduled", err))
		}
	}
	return warnings
}
