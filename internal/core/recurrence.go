package core

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidCron is terminal: a task carrying it is left unscheduled.
	ErrInvalidCron = errors.New("invalid cron expression")
	// ErrInvalidDailyTime is a soft failure: the task falls back to a 24 hour cycle.
	ErrInvalidDailyTime = errors.New("invalid daily time")
)

const (
	defaultInterval   = "1m"
	dailyFallbackWait = 24 * time.Hour
)

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
}

var dailyPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// IntervalCodes lists the accepted interval codes, shortest first.
func IntervalCodes() []string {
	return []string{"1m", "15m", "30m", "1h"}
}

// IntervalDelay maps an interval code to its fixed delay. Unknown codes fall
// back to the shortest interval.
func IntervalDelay(code string) time.Duration {
	if d, ok := intervals[code]; ok {
		return d
	}
	return intervals[defaultInterval]
}

func parseDailyTime(hhmm string) (int, int, error) {
	m := dailyPattern.FindStringSubmatch(hhmm)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q, expected HH:MM", ErrInvalidDailyTime, hhmm)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	return hour, minute, nil
}

// DailyDelay returns the wait until the next HH:MM wall-clock time strictly
// after now, in now's location. When today's occurrence is at or before now it
// rolls to tomorrow. Malformed input yields a 24 hour delay together with an
// ErrInvalidDailyTime diagnostic.
func DailyDelay(hhmm string, now time.Time) (time.Duration, error) {
	hour, minute, err := parseDailyTime(hhmm)
	if err != nil {
		return dailyFallbackWait, err
	}
	y, mo, d := now.Date()
	target := time.Date(y, mo, d, hour, minute, 0, 0, now.Location())
	if !target.After(now) {
		target = time.Date(y, mo, d+1, hour, minute, 0, 0, now.Location())
	}
	return target.Sub(now), nil
}

// ParseCron ensures the expression is a valid 5-field cron definition and returns the underlying schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: expression is empty", ErrInvalidCron)
	}
	if strings.HasPrefix(trimmed, "@") {
		return nil, fmt.Errorf("%w: only 5-field cron expressions are supported", ErrInvalidCron)
	}
	schedule, err := cronParser.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return schedule, nil
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		if next.IsZero() {
			break
		}
		times = append(times, next)
	}
	return times
}

// CronDelay returns the wait until the expression's next fire time strictly
// after now, evaluated in now's location.
func CronDelay(expr string, now time.Time) (time.Duration, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return 0, err
	}
	next := schedule.Next(now)
	if next.IsZero() {
		return 0, fmt.Errorf("%w: %q never fires", ErrInvalidCron, expr)
	}
	return next.Sub(now), nil
}

// Plan is the outcome of a recurrence computation. Warning carries a soft
// diagnostic when the delay is a fallback rather than the rule's own answer.
type Plan struct {
	Delay   time.Duration
	Next    time.Time
	Warning error
}

// Recurrence computes when a task fires next.
type Recurrence interface {
	Plan(task *Task, now time.Time) (Plan, error)
}

// Calculator is the Recurrence used in production. Daily and cron rules are
// evaluated in Location, time.Local when nil.
type Calculator struct {
	Location *time.Location
}

// Plan dispatches on the task type. An error means the task must not be armed.
func (c Calculator) Plan(task *Task, now time.Time) (Plan, error) {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	var plan Plan
	switch task.Type {
	case ScheduleInterval:
		plan.Delay = IntervalDelay(task.IntervalValue)
	case ScheduleDaily:
		plan.Delay, plan.Warning = DailyDelay(task.DailyTime, now)
	case ScheduleCron:
		delay, err := CronDelay(task.CronExpression, now)
		if err != nil {
			return Plan{}, err
		}
		plan.Delay = delay
	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownScheduleType, task.Type)
	}
	plan.Next = now.Add(plan.Delay)
	return plan, nil
}
