// Package startup provides utilities for application startup tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/restorr/internal/filtergraph"
)

// DefaultCleanupAge is the default maximum age for orphaned temp files (1 hour).
const DefaultCleanupAge = 1 * time.Hour

// orphanNames are intermediate files that only exist while a request is in
// flight; a crash between write and rename leaves them behind.
var orphanNames = map[string]bool{
	"original_uploaded": true,
	"original_temp.wav": true,
}

// isOrphanCandidate reports whether name is an in-flight temporary: an
// intake intermediate or a hidden atomic-write temp file (".<name>.<hex>.tmp").
func isOrphanCandidate(name string) bool {
	if orphanNames[name] {
		return true
	}
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
}

// CleanupOrphanedTempFiles removes in-flight temporaries older than maxAge
// from every session directory under sessionsDir.
//
// Returns the number of files removed and any error encountered.
func CleanupOrphanedTempFiles(logger *slog.Logger, sessionsDir string, maxAge time.Duration) (int, error) {
	// Check if the sessions directory exists
	if _, err := os.Stat(sessionsDir); os.IsNotExist(err) {
		logger.Debug("sessions directory does not exist, skipping cleanup",
			"path", sessionsDir,
		)
		return 0, nil
	}

	sessions, err := os.ReadDir(sessionsDir)
	if err != nil {
		logger.Error("failed to read directory for cleanup",
			"path", sessionsDir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, session := range sessions {
		if !session.IsDir() {
			continue
		}
		dir := filepath.Join(sessionsDir, session.Name())

		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("failed to read session directory",
				"path", dir,
				"error", err,
			)
			continue
		}

		for _, entry := range entries {
			if !entry.Type().IsRegular() || !isOrphanCandidate(entry.Name()) {
				continue
			}
			path := filepath.Join(dir, entry.Name())

			info, err := entry.Info()
			if err != nil {
				logger.Warn("failed to get file info",
					"path", path,
					"error", err,
				)
				continue
			}

			if info.ModTime().After(cutoff) {
				logger.Debug("preserving recent temp file",
					"path", path,
					"age", time.Since(info.ModTime()).Round(time.Second),
				)
				continue
			}

			if err := os.Remove(path); err != nil {
				logger.Warn("failed to remove orphaned temp file",
					"path", path,
					"error", err,
				)
				continue
			}

			logger.Info("removed orphaned temp file",
				"path", path,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			removed++
		}
	}

	return removed, nil
}

// ModelLister reports noise model availability.
type ModelLister interface {
	Models() []filtergraph.ModelStatus
}

// ValidateNoiseModels logs a warning for every registered noise model whose
// file is missing. Restoration still runs without them; the noise
// suppression stage is skipped for a missing model.
//
// Returns the number of missing models.
func ValidateNoiseModels(logger *slog.Logger, models ModelLister) int {
	var missing int
	for _, m := range models.Models() {
		if m.Available {
			continue
		}
		logger.Warn("noise model not installed",
			"model", m.Name,
			"path", m.Path,
		)
		missing++
	}
	if missing == 0 {
		logger.Debug("all noise models installed")
	}
	return missing
}
