package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// SuperviseOptions bounds a supervised run.
type SuperviseOptions struct {
	// Timeout is the wall-clock deadline measured from spawn.
	Timeout time.Duration
	// PollInterval is how often the deadline is checked and the process sampled.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// ExitResult describes how a supervised process ended.
type ExitResult struct {
	ExitCode int
	// TimedOut is set when the deadline passed and the process was killed.
	TimedOut bool
	// Canceled is set when ctx ended first and the process was killed.
	Canceled bool
	Duration time.Duration
	Stats    ProcessStats
	// WaitErr is the error from waiting on the process, if any.
	WaitErr error
}

// Success reports a clean, unforced, zero exit.
func (r *ExitResult) Success() bool {
	return !r.TimedOut && !r.Canceled && r.ExitCode == 0 && r.WaitErr == nil
}

// RunSupervised starts the command and blocks until it exits. Exit is
// observed by a waiter goroutine while a ticker samples resource usage and
// enforces the deadline. When the deadline passes or ctx is done the
// process is killed and reaped before RunSupervised returns, so no process
// outlives the call.
//
// The returned error is non-nil only when the process could not be started.
func (c *Command) RunSupervised(ctx context.Context, opts SuperviseOptions) (*ExitResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	pid := c.PID()
	start := time.Now()
	monitor := NewProcessMonitor(pid)

	done := make(chan error, 1)
	go func() {
		done <- c.Wait()
	}()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	result := &ExitResult{}
	var waitErr error

loop:
	for {
		select {
		case waitErr = <-done:
			break loop

		case <-ticker.C:
			_ = monitor.Sample(ctx)
			if opts.Timeout > 0 && time.Since(start) >= opts.Timeout {
				logger.Warn("ffmpeg deadline exceeded, killing process",
					slog.Int("pid", pid),
					slog.Duration("timeout", opts.Timeout),
				)
				result.TimedOut = true
				waitErr = c.killAndReap(done, logger)
				break loop
			}

		case <-ctx.Done():
			logger.Warn("ffmpeg run interrupted, killing process",
				slog.Int("pid", pid),
				slog.String("reason", context.Cause(ctx).Error()),
			)
			result.Canceled = true
			waitErr = c.killAndReap(done, logger)
			break loop
		}
	}

	result.Duration = time.Since(start)
	result.Stats = monitor.Stats()
	result.ExitCode, result.WaitErr = exitStatus(waitErr)
	return result, nil
}

func (c *Command) killAndReap(done <-chan error, logger *slog.Logger) error {
	if err := c.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Error("failed to kill ffmpeg", slog.String("error", err.Error()))
	}
	return <-done
}

// exitStatus splits a Wait error into an exit code and a residual error.
// A process killed by a signal reports -1.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
