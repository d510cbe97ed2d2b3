// Package admission bounds the number of concurrent transcode jobs.
//
// The controller is a counting semaphore whose state lives on disk: each
// outstanding lease is a marker file slot-NN.lease in a shared directory.
// Markers are created with O_EXCL so two acquirers can never hold the same
// slot, which keeps the ceiling exact across goroutines and across processes
// sharing the directory.
package admission

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/restorr/internal/apperr"
)

const (
	markerPrefix = "slot-"
	markerSuffix = ".lease"
)

// marker is the on-disk content of a lease file.
type marker struct {
	ID         string    `json:"id"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Slot is one held unit of the concurrency budget.
type Slot struct {
	ID         string
	Index      int
	AcquiredAt time.Time

	path     string
	released atomic.Bool
}

// Status is a point-in-time view of the admission budget.
type Status struct {
	Active    int
	Max       int
	CanAccept bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithClock overrides the time source used for lease timestamps and staleness.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller grants and releases admission slots.
type Controller struct {
	dir    string
	max    int
	stale  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewController creates a controller storing lease markers in dir.
// Markers older than stale are considered abandoned by a crashed worker.
func NewController(dir string, maxConcurrent int, stale time.Duration, opts ...Option) (*Controller, error) {
	if maxConcurrent < 1 {
		return nil, fmt.Errorf("max concurrent must be at least 1, got %d", maxConcurrent)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	c := &Controller{
		dir:    dir,
		max:    maxConcurrent,
		stale:  stale,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Max returns the concurrency ceiling.
func (c *Controller) Max() int {
	return c.max
}

// TryAcquire claims a free slot or fails immediately with an
// apperr.ErrCapacity error. It never blocks waiting for capacity.
func (c *Controller) TryAcquire(ctx context.Context) (*Slot, error) {
	now := c.now()
	m := marker{
		ID:         ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		PID:        os.Getpid(),
		AcquiredAt: now.UTC(),
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding lease marker: %w", err)
	}

	for i := 0; i < c.max; i++ {
		path := c.slotPath(i)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return nil, fmt.Errorf("creating lease marker: %w", err)
		}

		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(path)
			return nil, fmt.Errorf("writing lease marker: %w", errors.Join(werr, cerr))
		}

		c.logger.DebugContext(ctx, "admission slot acquired",
			slog.Int("slot", i),
			slog.String("lease_id", m.ID),
		)
		return &Slot{ID: m.ID, Index: i, AcquiredAt: now, path: path}, nil
	}

	active, err := c.ActiveCount()
	if err != nil {
		active = c.max
	}
	c.logger.WarnContext(ctx, "admission rejected",
		slog.Int("active", active),
		slog.Int("max", c.max),
	)
	return nil, apperr.Capacity("admission.acquire",
		fmt.Sprintf("%d jobs being processed; try again in a few minutes", active))
}

// Release returns a slot to the pool. Only the first call for a slot removes
// its marker; later calls are no-ops. A marker that was swept as stale and
// re-acquired by another job is left untouched.
func (c *Controller) Release(s *Slot) error {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return nil
	}

	m, err := readMarker(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading lease marker: %w", err)
	}
	if m.ID != s.ID {
		c.logger.Warn("lease marker reassigned before release",
			slog.Int("slot", s.Index),
			slog.String("lease_id", s.ID),
		)
		return nil
	}

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing lease marker: %w", err)
	}

	c.logger.Debug("admission slot released",
		slog.Int("slot", s.Index),
		slog.Duration("held", c.now().Sub(s.AcquiredAt)),
	)
	return nil
}

// ActiveCount returns the number of outstanding lease markers.
func (c *Controller) ActiveCount() (int, error) {
	names, err := c.markers()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Sweep removes lease markers older than the staleness threshold and
// returns how many were removed.
func (c *Controller) Sweep() (int, error) {
	names, err := c.markers()
	if err != nil {
		return 0, err
	}

	now := c.now()
	removed := 0
	for _, name := range names {
		path := filepath.Join(c.dir, name)
		acquired, err := markerTime(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			c.logger.Warn("unreadable lease marker", slog.String("marker", name), slog.String("error", err.Error()))
			continue
		}
		if now.Sub(acquired) <= c.stale {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("failed to remove stale lease marker", slog.String("marker", name), slog.String("error", err.Error()))
			continue
		}
		c.logger.Warn("stale lease marker removed",
			slog.String("marker", name),
			slog.Duration("age", now.Sub(acquired)),
		)
		removed++
	}
	return removed, nil
}

// Status sweeps stale markers and reports the current budget.
func (c *Controller) Status() (Status, error) {
	if _, err := c.Sweep(); err != nil {
		return Status{}, err
	}
	active, err := c.ActiveCount()
	if err != nil {
		return Status{}, err
	}
	return Status{
		Active:    active,
		Max:       c.max,
		CanAccept: active < c.max,
	}, nil
}

func (c *Controller) slotPath(i int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s%02d%s", markerPrefix, i, markerSuffix))
}

// markers lists lease marker file names in the lock directory.
func (c *Controller) markers() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("reading lock directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, markerPrefix) && strings.HasSuffix(name, markerSuffix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func readMarker(path string) (marker, error) {
	var m marker
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decoding lease marker: %w", err)
	}
	return m, nil
}

// markerTime returns when a marker was acquired, falling back to the file's
// modification time when the content is missing or corrupt.
func markerTime(path string) (time.Time, error) {
	m, err := readMarker(path)
	if err == nil && !m.AcquiredAt.IsZero() {
		return m.AcquiredAt, nil
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		return time.Time{}, statErr
	}
	return info.ModTime(), nil
}
