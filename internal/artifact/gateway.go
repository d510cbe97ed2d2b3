// Package artifact resolves session artifacts for playback and download.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/restorr/internal/apperr"
	"github.com/jmylchreest/restorr/internal/session"
	"github.com/jmylchreest/restorr/internal/storage"
)

// DefaultContentType is used for extensions with no known mapping.
const DefaultContentType = "application/octet-stream"

var contentTypes = map[string]string{
	".mp3": "audio/mpeg",
	".mp2": "audio/mp2",
	".wav": "audio/wav",
	".png": "image/png",
}

// ContentTypeFor returns the MIME type served for a file name.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return DefaultContentType
}

// Artifact is a resolved, contained file in a session directory.
type Artifact struct {
	SessionID   string
	Name        string
	Path        string
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Gateway performs path-validated artifact lookups beneath the sessions root.
type Gateway struct {
	root *storage.Sandbox
}

// NewGateway creates a gateway over the sessions root sandbox.
func NewGateway(root *storage.Sandbox) *Gateway {
	return &Gateway{root: root}
}

// Resolve validates both identifiers and locates filename inside the
// session's own directory. Symlinks are followed before the containment
// check, so a link pointing elsewhere is an access error whether or not its
// target exists.
func (g *Gateway) Resolve(sessionID, filename string) (*Artifact, error) {
	const op = "artifact.resolve"

	if err := session.ValidateID(sessionID); err != nil {
		return nil, err
	}
	if err := session.ValidateID(filename); err != nil {
		return nil, err
	}

	dir, err := g.root.SubSandbox(sessionID)
	if err != nil {
		return nil, classify(op, err, "session %q", sessionID)
	}

	path, err := dir.ResolveExisting(filename)
	if err != nil {
		return nil, classify(op, err, "file %q", filename)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, classify(op, err, "file %q", filename)
	}
	// Hidden names are in-flight temporaries.
	if !info.Mode().IsRegular() || strings.HasPrefix(filename, ".") {
		return nil, apperr.NotFound(op, "file %q not found", filename)
	}

	return &Artifact{
		SessionID:   sessionID,
		Name:        filename,
		Path:        path,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: ContentTypeFor(filename),
	}, nil
}

// Open opens a resolved artifact for reading.
func (g *Gateway) Open(a *Artifact) (*os.File, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, classify("artifact.open", err, "file %q", a.Name)
	}
	return f, nil
}

func classify(op string, err error, format string, args ...any) error {
	subject := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, storage.ErrPathEscapes):
		return apperr.New(apperr.ErrAccess, op, subject+" is outside its session", err)
	case errors.Is(err, fs.ErrNotExist):
		return apperr.New(apperr.ErrNotFound, op, subject+" not found", err)
	default:
		return fmt.Errorf("%s: %s: %w", op, subject, err)
	}
}
