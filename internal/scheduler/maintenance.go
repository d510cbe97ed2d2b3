package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Task names.
const (
	TaskSweepSessions = "sweep_sessions"
	TaskSweepLeases   = "sweep_leases"
	TaskPruneHistory  = "prune_history"
)

// SessionSweeper removes expired session directories.
type SessionSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// LeaseSweeper removes abandoned admission leases.
type LeaseSweeper interface {
	Sweep() (int, error)
}

// HistoryPruner deletes job records older than a retention period.
type HistoryPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// SweepSessionsTask removes expired sessions on schedule.
func SweepSessionsTask(schedule string, sweeper SessionSweeper, logger *slog.Logger) Task {
	return Task{
		Name:     TaskSweepSessions,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			n, err := sweeper.SweepExpired(ctx)
			if err != nil {
				return fmt.Errorf("sweeping sessions: %w", err)
			}
			if n > 0 {
				logger.InfoContext(ctx, "expired sessions removed", slog.Int("count", n))
			}
			return nil
		},
	}
}

// SweepLeasesTask removes stale admission leases on schedule.
func SweepLeasesTask(schedule string, sweeper LeaseSweeper, logger *slog.Logger) Task {
	return Task{
		Name:     TaskSweepLeases,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			n, err := sweeper.Sweep()
			if err != nil {
				return fmt.Errorf("sweeping leases: %w", err)
			}
			if n > 0 {
				logger.InfoContext(ctx, "stale leases removed", slog.Int("count", n))
			}
			return nil
		},
	}
}

// PruneHistoryTask deletes old job records on schedule.
func PruneHistoryTask(schedule string, retention time.Duration, pruner HistoryPruner) Task {
	return Task{
		Name:     TaskPruneHistory,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := pruner.Prune(ctx, retention)
			return err
		},
	}
}
