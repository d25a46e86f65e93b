package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"taskcron/internal/core"
)

const (
	sendTimeout  = 10 * time.Second
	bodyExcerpt  = 200
	defaultBurst = 3
)

// TaskLookup resolves a task id to its current definition.
type TaskLookup interface {
	GetTask(ctx context.Context, id string) (*core.Task, error)
}

// Forwarder turns taskExecuted events into push notifications. Sends beyond
// the rate limit are dropped.
type Forwarder struct {
	notifier  Notifier
	tasks     TaskLookup
	limiter   *rate.Limiter
	onSuccess bool
	logger    *slog.Logger
}

// NewForwarder creates a forwarder allowing perMinute notifications per
// minute. Successful runs are only reported when onSuccess is set.
func NewForwarder(notifier Notifier, tasks TaskLookup, perMinute int, onSuccess bool, logger *slog.Logger) *Forwarder {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &Forwarder{
		notifier:  notifier,
		tasks:     tasks,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), defaultBurst),
		onSuccess: onSuccess,
		logger:    logger,
	}
}

// Run consumes events until ctx is done or the channel closes.
func (f *Forwarder) Run(ctx context.Context, events <-chan core.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			f.handle(ctx, ev)
		}
	}
}

func (f *Forwarder) handle(ctx context.Context, ev core.Event) {
	if ev.Type != core.EventTaskExecuted || ev.Result == nil {
		return
	}
	if ev.Result.Success && !f.onSuccess {
		return
	}
	if !f.limiter.Allow() {
		f.logger.Debug("notification rate limited", "task_id", ev.TaskID)
		return
	}
	title, body := f.compose(ctx, ev)
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := f.notifier.Send(sendCtx, title, body); err != nil {
		f.logger.Warn("send notification", "task_id", ev.TaskID, "err", err)
	}
}

func (f *Forwarder) compose(ctx context.Context, ev core.Event) (string, string) {
	name := ev.TaskID
	if task, err := f.tasks.GetTask(ctx, ev.TaskID); err == nil {
		name = task.DisplayName()
	}
	res := ev.Result
	status := "succeeded"
	if !res.Success {
		status = "failed"
	}
	title := fmt.Sprintf("%s %s", name, status)

	var b strings.Builder
	fmt.Fprintf(&b, "exit code %d in %dms", res.ExitCode, res.DurationMS)
	detail := res.Stderr
	if res.Success || detail == "" {
		detail = res.Stdout
	}
	if detail = strings.TrimSpace(detail); detail != "" {
		excerpt, _ := core.TruncateOutput(detail, bodyExcerpt)
		b.WriteString("\n")
		b.WriteString(excerpt)
	}
	return title, b.String()
}
