package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unicode/utf8"
)

// Platform names the shell family a command runs under.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "macos"
)

const (
	DefaultCommandTimeout = 5 * time.Minute
	// DefaultMaxCapture bounds the bytes kept per stream, independent of the
	// display truncation length.
	DefaultMaxCapture = 10 * 1024 * 1024
	defaultKillGrace  = 5 * time.Second

	truncationMarker = "\n\n... (output truncated)"
	failedExitCode   = -1
)

// ErrUnsupportedPlatform is returned when no shell family matches the host OS.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Executor runs a single shell command to completion or timeout. Command
// failures are reported in the result; the error return is reserved for faults
// that prevent an attempt from being made at all.
type Executor interface {
	Execute(ctx context.Context, command string) (*ExecResult, error)
}

// SettingsSource supplies the current settings.
type SettingsSource interface {
	Get(ctx context.Context) Settings
}

// ShellExecutor runs commands through the platform shell.
type ShellExecutor struct {
	settings   SettingsSource
	logger     *slog.Logger
	timeout    time.Duration
	maxCapture int
	killGrace  time.Duration
	goos       string
}

// NewShellExecutor creates an executor. A non-positive timeout selects DefaultCommandTimeout.
func NewShellExecutor(settings SettingsSource, logger *slog.Logger, timeout time.Duration) *ShellExecutor {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &ShellExecutor{
		settings:   settings,
		logger:     logger,
		timeout:    timeout,
		maxCapture: DefaultMaxCapture,
		killGrace:  defaultKillGrace,
		goos:       runtime.GOOS,
	}
}

// Execute runs command and reports its outcome. Cancelling ctx does not stop a
// command that has already started; only the executor's own timeout does.
func (e *ShellExecutor) Execute(ctx context.Context, command string) (*ExecResult, error) {
	platform, name, args, err := shellFor(e.goos, command)
	if err != nil {
		return nil, err
	}
	maxLen := e.settings.Get(ctx).Normalize().MaxOutputLength

	cmdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	var overflowed atomic.Bool
	onOverflow := func() {
		if overflowed.CompareAndSwap(false, true) {
			cancel()
		}
	}
	stdout := &cappedBuffer{limit: e.maxCapture, onOverflow: onOverflow}
	stderr := &cappedBuffer{limit: e.maxCapture, onOverflow: onOverflow}

	cmd := exec.CommandContext(cmdCtx, name, args...) // #nosec G204
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return sendTermination(cmd.Process)
	}
	cmd.WaitDelay = e.killGrace

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	overflow := overflowed.Load()
	result := &ExecResult{
		Success:    runErr == nil && !overflow,
		DurationMS: duration.Milliseconds(),
		Platform:   platform,
	}
	errText := ""
	switch {
	case overflow:
		result.ExitCode = failedExitCode
		errText = fmt.Sprintf("output exceeded %d bytes, command stopped", e.maxCapture)
	case runErr == nil:
		result.ExitCode = 0
	case errors.Is(cmdCtx.Err(), context.DeadlineExceeded):
		result.ExitCode = failedExitCode
		errText = fmt.Sprintf("command timed out after %s", e.timeout)
		e.logger.Warn("command exceeded timeout", "timeout", e.timeout, "platform", platform)
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = failedExitCode
			errText = runErr.Error()
		}
	}

	rawErr := stderr.String()
	if errText != "" {
		if rawErr != "" && rawErr[len(rawErr)-1] != '\n' {
			rawErr += "\n"
		}
		rawErr += errText
	}

	var outCut, errCut bool
	result.Stdout, outCut = TruncateOutput(stdout.String(), maxLen)
	result.Stderr, errCut = TruncateOutput(rawErr, maxLen)
	result.Truncated = outCut || errCut
	return result, nil
}

// TruncateOutput caps s at maxLen characters, appending a marker when cut.
func TruncateOutput(s string, maxLen int) (string, bool) {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + truncationMarker, true
}

// PlatformFor maps a GOOS value to its shell family.
func PlatformFor(goos string) (Platform, error) {
	switch goos {
	case "windows":
		return PlatformWindows, nil
	case "linux":
		return PlatformLinux, nil
	case "darwin":
		return PlatformMacOS, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
}

func shellFor(goos, command string) (Platform, string, []string, error) {
	platform, err := PlatformFor(goos)
	if err != nil {
		return "", "", nil, err
	}
	switch platform {
	case PlatformWindows:
		return platform, "cmd.exe", []string{"/C", command}, nil
	case PlatformMacOS:
		return platform, "/bin/bash", []string{"-c", command}, nil
	default:
		if path, err := exec.LookPath("bash"); err == nil {
			return platform, path, []string{"-c", command}, nil
		}
		return platform, "/bin/sh", []string{"-c", command}, nil
	}
}

// cappedBuffer keeps at most limit bytes and reports the first overflow.
type cappedBuffer struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	limit      int
	onOverflow func()
	full       bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return len(p), nil
	}
	room := c.limit - c.buf.Len()
	if len(p) <= room {
		return c.buf.Write(p)
	}
	if room > 0 {
		c.buf.Write(p[:room])
	}
	c.full = true
	if c.onOverflow != nil {
		c.onOverflow()
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func sendTermination(process *os.Process) error {
	if process == nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		return process.Kill()
	}
	return process.Signal(syscall.SIGTERM)
}
