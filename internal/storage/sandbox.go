// Package storage provides sandboxed file operations for restorr.
// Session directories, uploads and artifacts are all addressed relative to a
// Sandbox so that client-supplied names can never reach outside it.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscapes is returned when a path resolves outside the sandbox.
var ErrPathEscapes = errors.New("path escapes sandbox")

// DirPerm is the mode used for directories created inside a sandbox.
const DirPerm os.FileMode = 0o750

// maxLinkHops bounds how many symlinks a dangling chain is followed through.
const maxLinkHops = 40

// Sandbox provides file operations confined to a base directory.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates a new Sandbox rooted at the given base directory.
// The base directory is created if it doesn't exist. Symlinks in the base
// path itself are resolved once so later containment checks compare like
// with like.
func NewSandbox(baseDir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, DirPerm); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	realPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("resolving base directory: %w", err)
	}

	return &Sandbox{baseDir: realPath}, nil
}

// BaseDir returns the absolute path to the sandbox base directory.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// Contains reports whether absPath is the base directory or lies beneath it.
func (s *Sandbox) Contains(absPath string) bool {
	clean := filepath.Clean(absPath)
	return clean == s.baseDir || strings.HasPrefix(clean, s.baseDir+string(filepath.Separator))
}

// ResolvePath lexically resolves a relative path within the sandbox.
// Absolute paths and paths that climb out with ".." are rejected with
// ErrPathEscapes. The target does not need to exist.
func (s *Sandbox) ResolvePath(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("%w: %s (absolute paths not allowed)", ErrPathEscapes, relativePath)
	}

	fullPath := filepath.Join(s.baseDir, filepath.Clean(relativePath))
	if !s.Contains(fullPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, relativePath)
	}

	return fullPath, nil
}

// ResolveExisting resolves a relative path and follows any symlinks, then
// checks the real path is still inside the sandbox. Escapes are reported as
// ErrPathEscapes even when the link target is missing; a contained path that
// does not exist is reported as fs.ErrNotExist.
func (s *Sandbox) ResolveExisting(relativePath string) (string, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return "", err
	}

	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("resolving path: %w", err)
		}
		// Dangling symlink: judge it by where each hop points.
		if s.linkChainEscapes(path) {
			return "", fmt.Errorf("%w: %s", ErrPathEscapes, relativePath)
		}
		return "", fmt.Errorf("%s: %w", relativePath, fs.ErrNotExist)
	}

	if !s.Contains(realPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, relativePath)
	}

	return realPath, nil
}

// linkChainEscapes follows the symlink chain starting at path one hop at a
// time and reports whether any hop points outside the sandbox. A chain
// longer than maxLinkHops counts as an escape.
func (s *Sandbox) linkChainEscapes(path string) bool {
	for range maxLinkHops {
		target, err := os.Readlink(path)
		if err != nil {
			return false
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		if !s.Contains(target) {
			return true
		}
		path = target
	}
	return true
}

// SubSandbox returns a Sandbox rooted at an existing subdirectory.
// Unlike NewSandbox it never creates the directory. A path that is not a
// directory is reported as fs.ErrNotExist.
func (s *Sandbox) SubSandbox(relativePath string) (*Sandbox, error) {
	path, err := s.ResolveExisting(relativePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("getting directory info: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory: %w", relativePath, fs.ErrNotExist)
	}

	return &Sandbox{baseDir: path}, nil
}

// MkdirAll creates a directory and all parent directories within the sandbox.
func (s *Sandbox) MkdirAll(relativePath string) (string, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(path, DirPerm); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}
	return path, nil
}

// RemoveAll removes a path and all its contents within the sandbox.
// A path that is already gone is not an error.
func (s *Sandbox) RemoveAll(relativePath string) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	if path == s.baseDir {
		return fmt.Errorf("cannot remove sandbox base directory")
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing path: %w", err)
	}
	return nil
}

// Rename renames a file within the sandbox, replacing any existing target.
func (s *Sandbox) Rename(oldPath, newPath string) error {
	oldAbs, err := s.ResolvePath(oldPath)
	if err != nil {
		return fmt.Errorf("resolving old path: %w", err)
	}

	newAbs, err := s.ResolvePath(newPath)
	if err != nil {
		return fmt.Errorf("resolving new path: %w", err)
	}

	if err := os.Rename(oldAbs, newAbs); err != nil {
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}

// AtomicWriteReader copies r into a file within the sandbox. Data lands in a
// hidden temporary file first and is renamed over the target once complete,
// so readers never observe a partial file. Returns the number of bytes written.
func (s *Sandbox) AtomicWriteReader(relativePath string, r io.Reader) (int64, error) {
	targetPath, err := s.ResolvePath(relativePath)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return 0, fmt.Errorf("creating parent directory: %w", err)
	}

	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(targetPath), randomHex(8)))
	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("creating temporary file: %w", err)
	}

	n, err := io.Copy(tempFile, r)
	closeErr := tempFile.Close()

	if err != nil {
		_ = os.Remove(tempPath)
		return n, fmt.Errorf("writing to temporary file: %w", err)
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return n, fmt.Errorf("closing temporary file: %w", closeErr)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		_ = os.Remove(tempPath)
		return n, fmt.Errorf("renaming to target: %w", err)
	}

	return n, nil
}

// List returns the entries of a directory within the sandbox.
func (s *Sandbox) List(relativePath string) ([]os.DirEntry, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	return entries, nil
}

// Stat returns file info for a path within the sandbox.
func (s *Sandbox) Stat(relativePath string) (os.FileInfo, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("getting file info: %w", err)
	}
	return info, nil
}

// randomHex generates a random hex string of the specified length.
func randomHex(n int) string {
	b := make([]byte, n/2+1)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(b)[:n]
}
