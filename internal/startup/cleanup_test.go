package startup

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/restorr/internal/filtergraph"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0o640))
	ts := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func TestCleanupOrphanedTempFiles(t *testing.T) {
	t.Run("removes old temporaries and keeps artifacts", func(t *testing.T) {
		logger := newTestLogger()
		base := t.TempDir()
		session := filepath.Join(base, "10.0.0.1_1700000000")
		require.NoError(t, os.Mkdir(session, 0o750))

		writeAged(t, filepath.Join(session, "original_temp.wav"), 2*time.Hour)
		writeAged(t, filepath.Join(session, "original_uploaded"), 2*time.Hour)
		writeAged(t, filepath.Join(session, ".original_uploaded.0a1b2c3d.tmp"), 2*time.Hour)
		writeAged(t, filepath.Join(session, "original.wav"), 2*time.Hour)
		writeAged(t, filepath.Join(session, "voice_1.mp3"), 2*time.Hour)

		count, err := CleanupOrphanedTempFiles(logger, base, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		assert.NoFileExists(t, filepath.Join(session, "original_temp.wav"))
		assert.NoFileExists(t, filepath.Join(session, "original_uploaded"))
		assert.NoFileExists(t, filepath.Join(session, ".original_uploaded.0a1b2c3d.tmp"))
		assert.FileExists(t, filepath.Join(session, "original.wav"))
		assert.FileExists(t, filepath.Join(session, "voice_1.mp3"))
	})

	t.Run("preserves recent temporaries", func(t *testing.T) {
		logger := newTestLogger()
		base := t.TempDir()
		session := filepath.Join(base, "10.0.0.2_1700000000")
		require.NoError(t, os.Mkdir(session, 0o750))
		writeAged(t, filepath.Join(session, "original_temp.wav"), 10*time.Minute)

		count, err := CleanupOrphanedTempFiles(logger, base, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.FileExists(t, filepath.Join(session, "original_temp.wav"))
	})

	t.Run("ignores files at the sessions root", func(t *testing.T) {
		logger := newTestLogger()
		base := t.TempDir()
		writeAged(t, filepath.Join(base, "original_temp.wav"), 2*time.Hour)

		count, err := CleanupOrphanedTempFiles(logger, base, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("missing sessions directory", func(t *testing.T) {
		count, err := CleanupOrphanedTempFiles(newTestLogger(), filepath.Join(t.TempDir(), "absent"), time.Hour)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestValidateNoiseModels(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cb.rnnn"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sh.rnnn"), nil, 0o644))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	missing := ValidateNoiseModels(logger, filtergraph.NewCompiler(dir))
	assert.Equal(t, 2, missing)
	assert.Contains(t, buf.String(), "model=broadband")
	assert.Contains(t, buf.String(), "model=musicAmbient")
	assert.NotContains(t, buf.String(), "model=general")
}
