// Package job runs one restoration transcode under admission control and a
// wall-clock deadline.
//
// A job holds exactly one admission slot from acquisition until its ffmpeg
// process has exited. On every failure path both encodings are purged so a
// session never contains a half-written artifact.
package job

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jmylchreest/restorr/internal/admission"
	"github.com/jmylchreest/restorr/internal/apperr"
	"github.com/jmylchreest/restorr/internal/ffmpeg"
	"github.com/jmylchreest/restorr/internal/filtergraph"
	"github.com/jmylchreest/restorr/internal/models"
	"github.com/jmylchreest/restorr/internal/storage"
)

// Output extensions written for every job.
const (
	PreviewExt  = ".mp3"
	ArchiveExt  = ".mp2"
	WaveformExt = ".png"
)

const stderrTailLines = 10

// Admitter grants and releases admission slots.
type Admitter interface {
	TryAcquire(ctx context.Context) (*admission.Slot, error)
	Release(s *admission.Slot) error
}

// History persists job records.
type History interface {
	Create(ctx context.Context, job *models.ProcessingJob) error
}

// Config holds the engine settings for an Executor.
type Config struct {
	FFmpegPath      string
	Timeout         time.Duration
	PollInterval    time.Duration
	WaveformTimeout time.Duration
	WaveformSize    string
	SampleRate      int
}

// Job is a single restoration request against a session directory.
type Job struct {
	SessionID string
	Sandbox   *storage.Sandbox
	// Input is the source artifact, relative to Sandbox.
	Input         string
	Chain         filtergraph.Chain
	InputChannels int
	// OutputStem names the outputs: <stem>.mp3, <stem>.mp2 and <stem>.png.
	OutputStem string
}

// Result describes the artifacts of a completed job.
type Result struct {
	ID         models.ULID
	Preview    string
	Archive    string
	Waveform   string
	WaveformOK bool
	Chain      string
	Duration   time.Duration
	Stats      ffmpeg.ProcessStats
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithHistory records every run, including rejected ones.
func WithHistory(h History) Option {
	return func(e *Executor) {
		e.history = h
	}
}

// WithLifetime sets the context that bounds running processes. It should
// end only on server shutdown; request contexts are deliberately not used
// so that a client disconnect never kills a transcode.
func WithLifetime(ctx context.Context) Option {
	return func(e *Executor) {
		e.lifetime = ctx
	}
}

// Executor runs restoration jobs.
type Executor struct {
	cfg      Config
	admit    Admitter
	history  History
	lifetime context.Context
	logger   *slog.Logger
	now      func() time.Time
}

// NewExecutor creates an executor that draws slots from admit.
func NewExecutor(cfg Config, admit Admitter, opts ...Option) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.WaveformTimeout <= 0 {
		cfg.WaveformTimeout = 60 * time.Second
	}
	if cfg.WaveformSize == "" {
		cfg.WaveformSize = "-1x100"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	e := &Executor{
		cfg:      cfg,
		admit:    admit,
		lifetime: context.Background(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TimeoutMessage is the client-facing message for a job killed at the deadline.
func (e *Executor) TimeoutMessage() string {
	return fmt.Sprintf("Timeout processing file (%ds); try a shorter input or fewer filters",
		int(e.cfg.Timeout/time.Second))
}

// Run executes j and blocks until its outputs are published or purged.
// ctx carries request-scoped values for logging and history; it does not
// bound the process.
func (e *Executor) Run(ctx context.Context, j Job) (result *Result, err error) {
	chain := j.Chain.String()
	rec := &models.ProcessingJob{
		SessionID:     j.SessionID,
		OutputStem:    j.OutputStem,
		Chain:         chain,
		InputChannels: j.InputChannels,
		StartedAt:     e.now(),
	}
	rec.ID = models.NewULIDAt(rec.StartedAt)

	logger := e.logger.With(
		slog.String("job_id", rec.ID.String()),
		slog.String("session", j.SessionID),
		slog.String("stem", j.OutputStem),
	)

	defer func() {
		if !rec.IsFinished() {
			status := models.JobStatusFailed
			if errors.Is(err, apperr.ErrTimeout) {
				status = models.JobStatusTimedOut
			}
			if errors.Is(err, apperr.ErrCapacity) {
				status = models.JobStatusRejected
			}
			rec.Finish(status, e.now(), err)
		}
		e.record(ctx, logger, rec)
	}()

	preview, archive, waveform, err := e.outputs(j)
	if err != nil {
		return nil, err
	}
	inputPath, err := j.Sandbox.ResolveExisting(j.Input)
	if err != nil {
		if errors.Is(err, storage.ErrPathEscapes) {
			return nil, apperr.Access("job.run", "input %q is outside the session", j.Input)
		}
		return nil, apperr.NotFound("job.run", "input %q not found", j.Input)
	}

	slot, err := e.admit.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	rec.Status = models.JobStatusAdmitted

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			if rerr := e.admit.Release(slot); rerr != nil {
				logger.Error("failed to release admission slot", slog.String("error", rerr.Error()))
			}
		})
	}
	defer release()

	cmd := ffmpeg.NewRestoreCommand(e.cfg.FFmpegPath, inputPath, chain, preview, archive, e.cfg.SampleRate)
	logger.Debug("starting ffmpeg", slog.String("command", cmd.String()))

	exit, err := cmd.RunSupervised(e.lifetime, ffmpeg.SuperviseOptions{
		Timeout:      e.cfg.Timeout,
		PollInterval: e.cfg.PollInterval,
		Logger:       logger,
	})
	release()
	if err != nil {
		e.purge(logger, preview, archive)
		return nil, apperr.Spawn("job.run", err)
	}
	rec.Status = models.JobStatusSpawned
	rec.SetExitCode(exit.ExitCode)
	rec.PeakRSSBytes = exit.Stats.PeakRSSBytes
	rec.CPUSeconds = exit.Stats.CPUSeconds

	logger = logger.With(
		slog.Int("exit_code", exit.ExitCode),
		slog.Duration("duration", exit.Duration),
	)

	switch {
	case exit.TimedOut:
		e.purge(logger, preview, archive)
		logger.Warn("restoration timed out")
		return nil, apperr.Timeout("job.run", e.TimeoutMessage())

	case exit.Canceled:
		e.purge(logger, preview, archive)
		return nil, apperr.Processing("job.run", "processing interrupted by server shutdown", context.Cause(e.lifetime))

	case !exit.Success():
		e.purge(logger, preview, archive)
		tail := cmd.StderrTail(stderrTailLines)
		logger.Error("ffmpeg failed", slog.String("stderr", tail))
		return nil, apperr.Processing("job.run",
			fmt.Sprintf("ffmpeg exited with status %d", exit.ExitCode),
			errors.Join(exit.WaitErr, errors.New(tail)))
	}

	if info, serr := os.Stat(preview); serr != nil || info.Size() == 0 {
		e.purge(logger, preview, archive)
		return nil, apperr.Processing("job.run", "ffmpeg produced no preview output", serr)
	}

	for _, p := range []string{preview, archive} {
		if cerr := os.Chmod(p, 0o644); cerr != nil {
			logger.Warn("failed to set output permissions", slog.String("path", p), slog.String("error", cerr.Error()))
		}
	}

	result = &Result{
		ID:       rec.ID,
		Preview:  j.OutputStem + PreviewExt,
		Archive:  j.OutputStem + ArchiveExt,
		Waveform: j.OutputStem + WaveformExt,
		Chain:    chain,
		Duration: exit.Duration,
		Stats:    exit.Stats,
	}
	result.WaveformOK = e.renderWaveform(logger, preview, waveform)
	rec.Waveform = result.WaveformOK

	rec.Finish(models.JobStatusCompleted, e.now(), nil)
	logger.Info("restoration completed",
		slog.Bool("waveform", result.WaveformOK),
		slog.Uint64("peak_rss_bytes", exit.Stats.PeakRSSBytes),
	)
	return result, nil
}

// outputs resolves the three output paths for j.
func (e *Executor) outputs(j Job) (preview, archive, waveform string, err error) {
	if j.Sandbox == nil {
		return "", "", "", apperr.Validation("job.run", "job has no session directory")
	}
	if j.OutputStem == "" {
		return "", "", "", apperr.Validation("job.run", "output name is required")
	}
	paths := make([]string, 3)
	for i, ext := range []string{PreviewExt, ArchiveExt, WaveformExt} {
		p, rerr := j.Sandbox.ResolvePath(j.OutputStem + ext)
		if rerr != nil {
			return "", "", "", apperr.Validation("job.run", "invalid output name %q", j.OutputStem)
		}
		paths[i] = p
	}
	return paths[0], paths[1], paths[2], nil
}

// renderWaveform draws the waveform picture. Failure is logged only.
func (e *Executor) renderWaveform(logger *slog.Logger, preview, waveform string) bool {
	ctx, cancel := context.WithTimeout(e.lifetime, e.cfg.WaveformTimeout)
	defer cancel()

	cmd := ffmpeg.NewWaveformCommand(e.cfg.FFmpegPath, preview, waveform, e.cfg.WaveformSize)
	if err := cmd.Run(ctx); err != nil {
		logger.Warn("waveform generation failed",
			slog.String("error", err.Error()),
			slog.String("stderr", cmd.StderrTail(stderrTailLines)),
		)
		_ = os.Remove(waveform)
		return false
	}
	if err := os.Chmod(waveform, 0o644); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to set waveform permissions", slog.String("error", err.Error()))
	}
	return true
}

// purge removes partial outputs. Errors are logged and never returned.
func (e *Executor) purge(logger *slog.Logger, paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to remove partial output", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
}

func (e *Executor) record(ctx context.Context, logger *slog.Logger, rec *models.ProcessingJob) {
	if e.history == nil {
		return
	}
	if err := e.history.Create(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("failed to record job history", slog.String("error", err.Error()))
	}
}
