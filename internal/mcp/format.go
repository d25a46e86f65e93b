package mcp

import (
	"fmt"
	"strings"
	"time"

	"taskcron/internal/core"
	"taskcron/internal/service"
)

func formatTask(t *core.Task) string {
	var b strings.Builder
	icon := "▶️"
	if !t.Enabled {
		icon = "⏸️"
	}
	fmt.Fprintf(&b, "%s %s\n", icon, t.ID)
	if t.Name != "" {
		fmt.Fprintf(&b, "  Name: %s\n", t.Name)
	}
	fmt.Fprintf(&b, "  Schedule: %s\n", describeSchedule(t))
	fmt.Fprintf(&b, "  Command: %s\n", truncateString(t.Command, 80))
	if t.LastExecutedAt != nil {
		fmt.Fprintf(&b, "  Last run: %s\n", formatTime(t.LastExecutedAt))
	}
	if t.NextExecutionAt != nil {
		fmt.Fprintf(&b, "  Next run: %s\n", formatTime(t.NextExecutionAt))
	}
	return b.String()
}

func describeSchedule(t *core.Task) string {
	switch t.Type {
	case core.ScheduleInterval:
		return "every " + t.IntervalValue
	case core.ScheduleDaily:
		return "daily at " + t.DailyTime
	case core.ScheduleCron:
		return "cron " + t.CronExpression
	}
	return string(t.Type)
}

func formatWarnings(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	return "Warnings:\n  - " + strings.Join(warnings, "\n  - ") + "\n"
}

func formatEntry(e *core.HistoryEntry, withOutput bool) string {
	var b strings.Builder
	icon := "✅"
	if e.Status != core.HistorySuccess {
		icon = "❌"
	}
	fmt.Fprintf(&b, "[%s] %s (task %s)\n", icon, e.ID, e.TaskID)
	fmt.Fprintf(&b, "    Executed: %s\n", formatTime(&e.ExecutedAt))
	fmt.Fprintf(&b, "    Exit code: %d, duration: %dms\n", e.ExitCode, e.DurationMS)
	if withOutput {
		if e.Stdout != "" {
			fmt.Fprintf(&b, "    Stdout:\n%s\n", e.Stdout)
		}
		if e.Stderr != "" {
			fmt.Fprintf(&b, "    Stderr:\n%s\n", e.Stderr)
		}
	}
	return b.String()
}

func formatSettings(s core.Settings) string {
	return fmt.Sprintf("maxHistoryItems: %d\nmaxOutputLength: %d\nenableLogging: %t\n",
		s.MaxHistoryItems, s.MaxOutputLength, s.EnableLogging)
}

func formatStatus(st service.SchedulerStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Running: %t\nArmed tasks: %d\nEvent listeners: %d\n", st.Running, len(st.Armed), st.Listeners)
	for _, a := range st.Armed {
		fmt.Fprintf(&b, "  %s %s next %s\n", a.TaskID, a.State, formatTime(&a.NextAt))
	}
	return b.String()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
