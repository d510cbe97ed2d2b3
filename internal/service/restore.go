package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/restorr/internal/apperr"
	"github.com/jmylchreest/restorr/internal/ffmpeg"
	"github.com/jmylchreest/restorr/internal/filtergraph"
	"github.com/jmylchreest/restorr/internal/job"
	"github.com/jmylchreest/restorr/internal/session"
)

// JobRunner executes a restoration job.
type JobRunner interface {
	Run(ctx context.Context, j job.Job) (*job.Result, error)
}

// RestoreRequest asks for one restoration pass over a session's original.
type RestoreRequest struct {
	SessionID        string
	OriginalFilename string
	// Suffix numbers successive passes; zero means 1.
	Suffix int
	// Filters is the client's filter configuration as JSON.
	Filters []byte
}

// RestoreResult names the artifacts of a completed pass.
type RestoreResult struct {
	SessionID  string
	JobID      string
	Preview    string
	Archive    string
	Waveform   string
	WaveformOK bool
	Chain      string
}

// RestoreService glues a session to the compiler and the job executor.
type RestoreService struct {
	sessions *session.Store
	compiler *filtergraph.Compiler
	prober   *ffmpeg.Prober
	runner   JobRunner
	logger   *slog.Logger
}

// NewRestoreService creates a new RestoreService.
func NewRestoreService(sessions *session.Store, compiler *filtergraph.Compiler, prober *ffmpeg.Prober, runner JobRunner) *RestoreService {
	return &RestoreService{
		sessions: sessions,
		compiler: compiler,
		prober:   prober,
		runner:   runner,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *RestoreService) WithLogger(logger *slog.Logger) *RestoreService {
	s.logger = logger
	return s
}

// OutputStem returns <filename>_<suffix> after validating both parts.
func OutputStem(filename string, suffix int) (string, error) {
	if suffix == 0 {
		suffix = 1
	}
	if suffix < 1 {
		return "", apperr.Validation("restore", "suffix must be at least 1, got %d", suffix)
	}
	if filename == "" {
		return "", apperr.Validation("restore", "original filename is required")
	}
	stem := fmt.Sprintf("%s_%d", filename, suffix)
	if err := session.ValidateID(stem); err != nil {
		return "", apperr.Validation("restore", "invalid original filename %q", filename)
	}
	return stem, nil
}

// Restore validates req, compiles its filters for the original's channel
// count and runs the job.
func (s *RestoreService) Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	h, err := s.sessions.Lookup(req.SessionID)
	if err != nil {
		return nil, err
	}

	stem, err := OutputStem(req.OriginalFilename, req.Suffix)
	if err != nil {
		return nil, err
	}

	cfg, err := filtergraph.ParseConfig(req.Filters)
	if err != nil {
		return nil, err
	}

	sb, err := s.sessions.Sandbox(h)
	if err != nil {
		return nil, err
	}
	originalPath, err := sb.ResolveExisting(OriginalName)
	if err != nil {
		return nil, apperr.NotFound("restore", "original file not found; upload a file first")
	}

	channels := s.prober.Channels(ctx, originalPath)
	chain := s.compiler.Compile(channels, cfg)

	s.logger.DebugContext(ctx, "filter chain compiled",
		slog.String("session", h.ID),
		slog.Int("channels", channels),
		slog.String("chain", chain.String()),
	)

	res, err := s.runner.Run(ctx, job.Job{
		SessionID:     h.ID,
		Sandbox:       sb,
		Input:         OriginalName,
		Chain:         chain,
		InputChannels: channels,
		OutputStem:    stem,
	})
	if err != nil {
		return nil, err
	}

	return &RestoreResult{
		SessionID:  h.ID,
		JobID:      res.ID.String(),
		Preview:    res.Preview,
		Archive:    res.Archive,
		Waveform:   res.Waveform,
		WaveformOK: res.WaveformOK,
		Chain:      res.Chain,
	}, nil
}
