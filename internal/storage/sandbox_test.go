package storage

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	sb, err := NewSandbox(filepath.Join(t.TempDir(), "sandbox"))
	require.NoError(t, err)
	return sb
}

func TestNewSandbox(t *testing.T) {
	sandboxDir := filepath.Join(t.TempDir(), "sandbox")

	sb, err := NewSandbox(sandboxDir)
	require.NoError(t, err)
	require.NotNil(t, sb)

	info, err := os.Stat(sandboxDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(sb.BaseDir()))
}

func TestSandbox_ResolvePath(t *testing.T) {
	sb := setupTestSandbox(t)

	tests := []struct {
		name        string
		path        string
		shouldError bool
	}{
		{"simple file", "original.wav", false},
		{"nested path", "10.0.0.1_1700000000/original.wav", false},
		{"current dir", ".", false},
		{"parent escape attempt", "../escape.txt", true},
		{"nested parent escape", "subdir/../../escape.txt", true},
		{"deep traversal", "../../etc/passwd", true},
		{"absolute path escape", "/etc/passwd", true},
		{"hidden file", ".hidden", false},
		{"dot dot name", "..test", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := sb.ResolvePath(tt.path)
			if tt.shouldError {
				assert.ErrorIs(t, err, ErrPathEscapes)
			} else {
				assert.NoError(t, err)
				assert.True(t, strings.HasPrefix(resolved, sb.BaseDir()))
			}
		})
	}
}

func TestSandbox_Contains(t *testing.T) {
	sb := setupTestSandbox(t)

	assert.True(t, sb.Contains(sb.BaseDir()))
	assert.True(t, sb.Contains(filepath.Join(sb.BaseDir(), "a", "b")))
	assert.False(t, sb.Contains(filepath.Dir(sb.BaseDir())))
	// Sibling sharing the prefix is not contained.
	assert.False(t, sb.Contains(sb.BaseDir()+"-other"))
}

func TestSandbox_ResolveExisting(t *testing.T) {
	sb := setupTestSandbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(sb.BaseDir(), "take.mp3"), []byte("x"), 0o600))

	path, err := sb.ResolveExisting("take.mp3")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.BaseDir(), "take.mp3"), path)

	_, err = sb.ResolveExisting("missing.mp3")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.False(t, errors.Is(err, ErrPathEscapes))

	_, err = sb.ResolveExisting("../../etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscapes)
}

func TestSandbox_ResolveExisting_SymlinkEscape(t *testing.T) {
	sb := setupTestSandbox(t)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))

	require.NoError(t, os.Symlink(outside, filepath.Join(sb.BaseDir(), "link.mp3")))
	_, err := sb.ResolveExisting("link.mp3")
	assert.ErrorIs(t, err, ErrPathEscapes)

	// A dangling link pointing outside is still an escape, not a missing file.
	require.NoError(t, os.Symlink(filepath.Join(t.TempDir(), "nope"), filepath.Join(sb.BaseDir(), "dangling.mp3")))
	_, err = sb.ResolveExisting("dangling.mp3")
	assert.ErrorIs(t, err, ErrPathEscapes)
}

func TestSandbox_ResolveExisting_DanglingChain(t *testing.T) {
	sb := setupTestSandbox(t)
	base := sb.BaseDir()

	// link.mp3 -> hop.mp3 (inside) -> missing file outside.
	require.NoError(t, os.Symlink(filepath.Join(t.TempDir(), "gone"), filepath.Join(base, "hop.mp3")))
	require.NoError(t, os.Symlink("hop.mp3", filepath.Join(base, "link.mp3")))
	_, err := sb.ResolveExisting("link.mp3")
	assert.ErrorIs(t, err, ErrPathEscapes)

	// A chain that stays inside and ends at a missing file is not found.
	require.NoError(t, os.Symlink("absent.mp3", filepath.Join(base, "inner.mp3")))
	require.NoError(t, os.Symlink("inner.mp3", filepath.Join(base, "outer.mp3")))
	_, err = sb.ResolveExisting("outer.mp3")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NotErrorIs(t, err, ErrPathEscapes)
}

func TestSandbox_ResolveExisting_SymlinkInside(t *testing.T) {
	sb := setupTestSandbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(sb.BaseDir(), "real.png"), []byte("png"), 0o600))
	require.NoError(t, os.Symlink("real.png", filepath.Join(sb.BaseDir(), "alias.png")))

	path, err := sb.ResolveExisting("alias.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.BaseDir(), "real.png"), path)
}

func TestSandbox_SubSandbox(t *testing.T) {
	sb := setupTestSandbox(t)

	_, err := sb.SubSandbox("session_1")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = sb.MkdirAll("session_1")
	require.NoError(t, err)

	sub, err := sb.SubSandbox("session_1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.BaseDir(), "session_1"), sub.BaseDir())

	_, err = sub.ResolvePath("../other")
	assert.ErrorIs(t, err, ErrPathEscapes)
}

func TestSandbox_SubSandbox_NotDirectory(t *testing.T) {
	sb := setupTestSandbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(sb.BaseDir(), "file"), nil, 0o600))

	_, err := sb.SubSandbox("file")
	assert.Error(t, err)
}

func TestSandbox_RemoveAll(t *testing.T) {
	sb := setupTestSandbox(t)
	dir, err := sb.MkdirAll("session/nested")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp3"), []byte("a"), 0o600))

	require.NoError(t, sb.RemoveAll("session"))
	_, err = os.Stat(filepath.Join(sb.BaseDir(), "session"))
	assert.True(t, os.IsNotExist(err))

	// Idempotent
	assert.NoError(t, sb.RemoveAll("session"))
}

func TestSandbox_RemoveAll_CannotRemoveBase(t *testing.T) {
	sb := setupTestSandbox(t)
	assert.Error(t, sb.RemoveAll("."))
	assert.Error(t, sb.RemoveAll("../"))
}

func TestSandbox_Rename(t *testing.T) {
	sb := setupTestSandbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(sb.BaseDir(), "tmp.wav"), []byte("pcm"), 0o600))

	require.NoError(t, sb.Rename("tmp.wav", "original.wav"))

	data, err := os.ReadFile(filepath.Join(sb.BaseDir(), "original.wav"))
	require.NoError(t, err)
	assert.Equal(t, "pcm", string(data))

	assert.ErrorIs(t, sb.Rename("original.wav", "../escape.wav"), ErrPathEscapes)
}

func TestSandbox_AtomicWriteReader(t *testing.T) {
	sb := setupTestSandbox(t)
	content := []byte("uploaded audio bytes")

	n, err := sb.AtomicWriteReader("session/upload.bin", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)

	data, err := os.ReadFile(filepath.Join(sb.BaseDir(), "session", "upload.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, data)

	// No temporary files left behind
	entries, err := sb.List("session")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSandbox_AtomicWriteReader_Escape(t *testing.T) {
	sb := setupTestSandbox(t)
	_, err := sb.AtomicWriteReader("../evil", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrPathEscapes)
}

func TestSandbox_ListAndStat(t *testing.T) {
	sb := setupTestSandbox(t)
	for _, name := range []string{"a.mp3", "b.mp2"} {
		require.NoError(t, os.WriteFile(filepath.Join(sb.BaseDir(), name), []byte(name), 0o600))
	}

	entries, err := sb.List(".")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	info, err := sb.Stat("a.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	_, err = sb.Stat("missing")
	assert.Error(t, err)
}
