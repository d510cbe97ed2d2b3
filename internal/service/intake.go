package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jmylchreest/restorr/internal/apperr"
	"github.com/jmylchreest/restorr/internal/ffmpeg"
	"github.com/jmylchreest/restorr/internal/observability"
	"github.com/jmylchreest/restorr/internal/session"
)

// Fixed artifact names inside a session directory.
const (
	UploadName       = "original_uploaded"
	ResampleTempName = "original_temp.wav"
	OriginalName     = "original.wav"
	OriginalPreview  = "original.mp3"
	OriginalWaveform = "original.png"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeFilename reduces a client file name to a safe output stem. The
// extension is dropped, accents are folded to ASCII and every remaining
// character outside [A-Za-z0-9_-] becomes "_". Names with nothing usable
// left fall back to audio_<unix seconds>.
func SanitizeFilename(name string, now time.Time) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))

	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(folder, base); err == nil {
		base = folded
	}

	base = unsafeNameChars.ReplaceAllString(base, "_")
	if strings.Trim(base, "_") == "" {
		return fmt.Sprintf("audio_%d", now.Unix())
	}
	return base
}

// IntakeResult describes a prepared original.
type IntakeResult struct {
	SessionID  string
	Filename   string
	Preview    string
	Waveform   string
	WaveformOK bool
	Duration   time.Duration
	Channels   int
	SampleRate int
}

// IntakeConfig holds the engine settings used during intake.
type IntakeConfig struct {
	FFmpegPath      string
	SampleRate      int
	Timeout         time.Duration
	WaveformTimeout time.Duration
	WaveformSize    string
}

// IntakeService stores an upload in its session and prepares the 48 kHz
// PCM original, its preview and its waveform.
type IntakeService struct {
	sessions *session.Store
	prober   *ffmpeg.Prober
	cfg      IntakeConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewIntakeService creates a new IntakeService.
func NewIntakeService(sessions *session.Store, prober *ffmpeg.Prober, cfg IntakeConfig) *IntakeService {
	return &IntakeService{
		sessions: sessions,
		prober:   prober,
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *IntakeService) WithLogger(logger *slog.Logger) *IntakeService {
	s.logger = logger
	return s
}

// Intake saves r as the session's new original. The upload is probed and
// rejected when it has no audio stream, resampled through a temporary file
// that is renamed into place, then encoded as the preview. The waveform is
// best effort.
func (s *IntakeService) Intake(ctx context.Context, sessionID, clientName string, r io.Reader) (result *IntakeResult, err error) {
	const op = "intake"
	defer observability.TimedOperationWithError(ctx, s.logger, op, &err)()

	h, err := s.sessions.Lookup(sessionID)
	if err != nil {
		return nil, err
	}
	sb, err := s.sessions.Sandbox(h)
	if err != nil {
		return nil, err
	}

	name := SanitizeFilename(clientName, s.now())
	logger := s.logger.With(slog.String("session", h.ID), slog.String("filename", name))

	if _, err := sb.AtomicWriteReader(UploadName, r); err != nil {
		return nil, fmt.Errorf("saving upload: %w", err)
	}
	defer func() {
		if rerr := sb.RemoveAll(UploadName); rerr != nil {
			logger.Warn("failed to remove upload", slog.String("error", rerr.Error()))
		}
	}()

	uploadPath, err := sb.ResolvePath(UploadName)
	if err != nil {
		return nil, err
	}

	info, err := s.prober.ProbeAudio(ctx, uploadPath)
	if err != nil {
		if errors.Is(err, ffmpeg.ErrNoAudioStream) {
			return nil, apperr.Validation(op, "uploaded file contains no audio")
		}
		logger.Warn("probe failed", slog.String("error", err.Error()))
		return nil, apperr.Validation(op, "uploaded file is not a readable audio file")
	}

	tempPath, err := sb.ResolvePath(ResampleTempName)
	if err != nil {
		return nil, err
	}
	resample := ffmpeg.NewResampleCommand(s.cfg.FFmpegPath, uploadPath, tempPath, s.cfg.SampleRate)
	if err := s.run(ctx, resample, s.cfg.Timeout); err != nil {
		_ = sb.RemoveAll(ResampleTempName)
		logger.Error("resample failed", slog.String("error", err.Error()), slog.String("stderr", resample.StderrTail(10)))
		return nil, apperr.Processing(op, "failed to convert audio", err)
	}
	if err := sb.Rename(ResampleTempName, OriginalName); err != nil {
		_ = sb.RemoveAll(ResampleTempName)
		return nil, fmt.Errorf("publishing original: %w", err)
	}

	originalPath, err := sb.ResolvePath(OriginalName)
	if err != nil {
		return nil, err
	}
	previewPath, err := sb.ResolvePath(OriginalPreview)
	if err != nil {
		return nil, err
	}
	preview := ffmpeg.NewPreviewCommand(s.cfg.FFmpegPath, originalPath, previewPath)
	if err := s.run(ctx, preview, s.cfg.Timeout); err != nil {
		_ = sb.RemoveAll(OriginalPreview)
		logger.Error("preview encode failed", slog.String("error", err.Error()), slog.String("stderr", preview.StderrTail(10)))
		return nil, apperr.Processing(op, "failed to create preview", err)
	}

	result = &IntakeResult{
		SessionID:  h.ID,
		Filename:   name,
		Preview:    OriginalPreview,
		Waveform:   OriginalWaveform,
		Duration:   info.Duration,
		Channels:   info.Channels,
		SampleRate: s.cfg.SampleRate,
	}

	waveformPath, err := sb.ResolvePath(OriginalWaveform)
	if err != nil {
		return nil, err
	}
	waveform := ffmpeg.NewWaveformCommand(s.cfg.FFmpegPath, previewPath, waveformPath, s.cfg.WaveformSize)
	if werr := s.run(ctx, waveform, s.cfg.WaveformTimeout); werr != nil {
		_ = sb.RemoveAll(OriginalWaveform)
		logger.Warn("waveform generation failed", slog.String("error", werr.Error()))
	} else {
		result.WaveformOK = true
	}

	logger.Info("upload prepared",
		slog.Int("channels", info.Channels),
		slog.Int("source_sample_rate", info.SampleRate),
		slog.Duration("duration", info.Duration),
	)
	return result, nil
}

func (s *IntakeService) run(ctx context.Context, cmd *ffmpeg.Command, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return cmd.Run(ctx)
}
