// Package session manages per-client working directories.
//
// A session directory is named <identity>_<epochSeconds> and anchors one
// upload plus every artifact derived from it. Sessions expire after a fixed
// TTL; expired directories are removed lazily on the next resolution for the
// same identity, on lookup, or by the periodic sweep.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/restorr/internal/apperr"
	"github.com/jmylchreest/restorr/internal/storage"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateID checks that a session ID or artifact name is a single safe
// path segment.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || !idPattern.MatchString(id) {
		return apperr.Validation("session.validate", "invalid identifier %q", id)
	}
	return nil
}

// NormalizeIdentity maps a client identity onto the safe character class.
// Bytes outside [A-Za-z0-9_.] are escaped as "-" plus two lowercase hex
// digits, "-" included, so distinct identities never share a directory
// prefix: "fe80::1" becomes "fe80-3a-3a1" and "fe80--1" becomes "fe80-2d-2d1".
func NormalizeIdentity(identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "unknown"
	}
	if identity == "." || identity == ".." {
		return strings.Repeat("-2e", len(identity))
	}
	const hexDigits = "0123456789abcdef"
	var b strings.Builder
	b.Grow(len(identity))
	for i := 0; i < len(identity); i++ {
		c := identity[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.':
			b.WriteByte(c)
		default:
			b.WriteByte('-')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}

// Handle identifies a session directory.
type Handle struct {
	ID        string
	Identity  string
	CreatedAt time.Time
	Dir       string
}

// Info describes a live session.
type Info struct {
	ID        string
	Age       time.Duration
	ExpiresIn time.Duration
	Files     []string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store creates, resolves and expires session directories beneath a root
// sandbox.
type Store struct {
	root   *storage.Sandbox
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
	group  singleflight.Group
}

// NewStore creates a session store rooted at root.
func NewStore(root *storage.Sandbox, ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		root:   root,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// ResolveOrCreate returns the live session for a client identity, creating
// one if none exists. An expired session is destroyed before its
// replacement is created. Concurrent calls for one identity share a result.
func (s *Store) ResolveOrCreate(ctx context.Context, identity string) (*Handle, error) {
	identity = NormalizeIdentity(identity)

	v, err, _ := s.group.Do(identity, func() (any, error) {
		return s.resolveOrCreate(ctx, identity)
	})
	if err != nil {
		return nil, err
	}
	h := *v.(*Handle)
	return &h, nil
}

func (s *Store) resolveOrCreate(ctx context.Context, identity string) (*Handle, error) {
	existing, err := s.findForIdentity(identity)
	if err != nil {
		return nil, err
	}

	// Newest first.
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].CreatedAt.After(existing[j].CreatedAt)
	})

	for i, h := range existing {
		if i == 0 && s.IsLive(h) {
			s.logger.DebugContext(ctx, "reusing session",
				slog.String("session_id", h.ID),
				slog.Duration("age", s.now().Sub(h.CreatedAt)),
			)
			return h, nil
		}
		if s.IsLive(h) {
			continue
		}
		if err := s.Destroy(h); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "expired session removed", slog.String("session_id", h.ID))
	}

	created := s.now()
	id := fmt.Sprintf("%s_%d", identity, created.Unix())
	dir, err := s.root.MkdirAll(id)
	if err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	s.logger.InfoContext(ctx, "session created", slog.String("session_id", id))

	return &Handle{
		ID:        id,
		Identity:  identity,
		CreatedAt: time.Unix(created.Unix(), 0),
		Dir:       dir,
	}, nil
}

// Lookup resolves an existing, live session by ID.
// An expired session is destroyed and reported as not found.
func (s *Store) Lookup(id string) (*Handle, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	h, ok := s.parse(id)
	if !ok {
		return nil, apperr.NotFound("session.lookup", "session %s not found", id)
	}

	info, err := os.Stat(h.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("session.lookup", "session %s not found", id)
		}
		return nil, fmt.Errorf("checking session directory: %w", err)
	}
	if !info.IsDir() {
		return nil, apperr.NotFound("session.lookup", "session %s not found", id)
	}

	if !s.IsLive(h) {
		if err := s.Destroy(h); err != nil {
			s.logger.Warn("failed to remove expired session",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperr.NotFound("session.lookup", "session %s has expired", id)
	}

	return h, nil
}

// IsLive reports whether the session is younger than the TTL.
func (s *Store) IsLive(h *Handle) bool {
	return s.now().Sub(h.CreatedAt) < s.ttl
}

// Destroy removes the session directory and everything in it.
// Destroying a session that no longer exists succeeds.
func (s *Store) Destroy(h *Handle) error {
	if err := s.root.RemoveAll(h.ID); err != nil {
		return fmt.Errorf("destroying session %s: %w", h.ID, err)
	}
	return nil
}

// DestroyID validates id and destroys the matching session directory.
func (s *Store) DestroyID(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	return s.Destroy(&Handle{ID: id})
}

// Sandbox returns a sandbox confined to the session directory.
func (s *Store) Sandbox(h *Handle) (*storage.Sandbox, error) {
	sb, err := s.root.SubSandbox(h.ID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("session.sandbox", "session %s not found", h.ID)
		}
		return nil, err
	}
	return sb, nil
}

// Info reports the session's age, remaining lifetime and visible files.
func (s *Store) Info(h *Handle) (Info, error) {
	age := s.now().Sub(h.CreatedAt)
	info := Info{
		ID:        h.ID,
		Age:       age,
		ExpiresIn: max(s.ttl-age, 0),
		Files:     []string{},
	}

	entries, err := s.root.List(h.ID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return info, nil
		}
		return info, err
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info.Files = append(info.Files, e.Name())
	}
	return info, nil
}

// SweepExpired removes every expired session directory under the root.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	entries, err := s.root.List(".")
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !e.IsDir() {
			continue
		}
		h, ok := s.parse(e.Name())
		if !ok || s.IsLive(h) {
			continue
		}
		if err := s.Destroy(h); err != nil {
			s.logger.WarnContext(ctx, "failed to remove expired session",
				slog.String("session_id", h.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.InfoContext(ctx, "expired sessions swept", slog.Int("removed", removed))
	}
	return removed, nil
}

// findForIdentity lists the session directories belonging to identity.
func (s *Store) findForIdentity(identity string) ([]*Handle, error) {
	entries, err := s.root.List(".")
	if err != nil {
		return nil, err
	}

	var out []*Handle
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		h, ok := s.parse(e.Name())
		if ok && h.Identity == identity {
			out = append(out, h)
		}
	}
	return out, nil
}

// parse splits a directory name into identity and creation time.
func (s *Store) parse(name string) (*Handle, bool) {
	idx := strings.LastIndexByte(name, '_')
	if idx <= 0 || idx == len(name)-1 {
		return nil, false
	}
	ts, err := strconv.ParseInt(name[idx+1:], 10, 64)
	if err != nil || ts < 0 {
		return nil, false
	}
	dir, err := s.root.ResolvePath(name)
	if err != nil {
		return nil, false
	}
	return &Handle{
		ID:        name,
		Identity:  name[:idx],
		CreatedAt: time.Unix(ts, 0),
		Dir:       dir,
	}, true
}
