// Package scheduler runs restorr's periodic maintenance on cron schedules:
// expired session removal, stale admission lease sweeps and job history
// pruning.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a named unit of maintenance work.
type Task struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// TaskStatus reports the last outcome of a task.
type TaskStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	LastRun  time.Time `json:"last_run,omitempty"`
	LastErr  string    `json:"last_error,omitempty"`
	NextRun  time.Time `json:"next_run,omitempty"`
	Runs     int       `json:"runs"`
}

type entry struct {
	task   Task
	id     cron.EntryID
	status TaskStatus
}

// Scheduler manages maintenance tasks using cron expressions.
type Scheduler struct {
	mu sync.RWMutex

	cron    *cron.Cron
	parser  cron.Parser
	entries map[string]*entry
	logger  *slog.Logger

	// Running state
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewScheduler creates a new scheduler. Schedules use five-field cron
// syntax and also accept descriptors such as "@every 1m" or "@daily".
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Scheduler{
		parser:  parser,
		entries: make(map[string]*entry),
		logger:  slog.Default(),
	}
	s.cron = s.newCron()
	return s
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
	return s
}

func (s *Scheduler) log() *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

func (s *Scheduler) newCron() *cron.Cron {
	cl := cronLogger{s: s}
	return cron.New(
		cron.WithParser(s.parser),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
}

// ValidateCron checks a schedule expression.
func (s *Scheduler) ValidateCron(expr string) error {
	if _, err := s.parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRun returns the next activation of expr after now.
func (s *Scheduler) NextRun(expr string, now time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(now), nil
}

// Add registers a task. Tasks must be added before Start.
func (s *Scheduler) Add(task Task) error {
	if task.Name == "" || task.Run == nil {
		return fmt.Errorf("task requires a name and a run function")
	}
	if err := s.ValidateCron(task.Schedule); err != nil {
		return fmt.Errorf("task %s: %w", task.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if _, exists := s.entries[task.Name]; exists {
		return fmt.Errorf("task %s already registered", task.Name)
	}

	e := &entry{task: task, status: TaskStatus{Name: task.Name, Schedule: task.Schedule}}
	id, err := s.cron.AddFunc(task.Schedule, func() { s.execute(e) })
	if err != nil {
		return fmt.Errorf("scheduling task %s: %w", task.Name, err)
	}
	e.id = id
	s.entries[task.Name] = e
	return nil
}

// Start begins running scheduled tasks. Tasks see a context derived from
// ctx that is canceled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()

	s.logger.Info("scheduler started", slog.Int("tasks", len(s.entries)))
	return nil
}

// Stop halts scheduling and waits for running tasks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.started = false
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.log().Info("scheduler stopped")
}

// RunNow executes a registered task immediately in the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task %s not registered", name)
	}
	return s.run(ctx, e)
}

// Status returns the state of every task.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.RLock()
	started := s.started
	out := make([]TaskStatus, 0, len(s.entries))
	ids := make([]cron.EntryID, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.status)
		ids = append(ids, e.id)
	}
	s.mu.RUnlock()

	// The cron run loop logs through s.log, so it is queried unlocked.
	if started {
		for i, id := range ids {
			out[i].NextRun = s.cron.Entry(id).Next
		}
	}
	return out
}

func (s *Scheduler) execute(e *entry) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	_ = s.run(ctx, e)
}

func (s *Scheduler) run(ctx context.Context, e *entry) error {
	start := time.Now()
	err := e.task.Run(ctx)

	s.mu.Lock()
	e.status.LastRun = start
	e.status.Runs++
	e.status.LastErr = ""
	if err != nil {
		e.status.LastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log().Error("maintenance task failed",
			slog.String("task", e.task.Name),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return err
	}
	s.log().Debug("maintenance task completed",
		slog.String("task", e.task.Name),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// cronLogger adapts the scheduler's slog logger to cron.Logger.
type cronLogger struct {
	s *Scheduler
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.log().Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.log().Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
