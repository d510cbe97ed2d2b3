package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/restorr/internal/apperr"
	"github.com/jmylchreest/restorr/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	root, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return NewStore(root, 900*time.Second, WithClock(clock.Now)), clock
}

func TestValidateID(t *testing.T) {
	valid := []string{"10.0.0.1_1700000000", "original.mp3", "take_2-final.mp2", "a"}
	for _, id := range valid {
		assert.NoError(t, ValidateID(id), id)
	}

	invalid := []string{"", ".", "..", "../../etc/passwd", "a/b", "a b", "x;rm", "fe80::1", "café"}
	for _, id := range invalid {
		err := ValidateID(id)
		assert.ErrorIs(t, err, apperr.ErrValidation, id)
	}
}

func TestNormalizeIdentity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.10", "192.168.1.10"},
		{"2001:db8::1", "2001-3adb8-3a-3a1"},
		{"fe80::1%eth0", "fe80-3a-3a1-25eth0"},
		{"fe80--1", "fe80-2d-2d1"},
		{"", "unknown"},
		{"..", "-2e-2e"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeIdentity(tt.in)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, ValidateID(got))
		})
	}
}

func TestNormalizeIdentity_Distinct(t *testing.T) {
	pairs := [][2]string{
		{"fe80::1", "fe80--1"},
		{"fe80::1", "fe80-3a-3a1"},
		{"a:b", "a-b"},
		{"..", "-2e-2e"},
	}
	for _, p := range pairs {
		assert.NotEqual(t, NormalizeIdentity(p[0]), NormalizeIdentity(p[1]), "%q vs %q", p[0], p[1])
	}
}

func TestStore_ResolveOrCreate_ColonAndDashIdentitiesSeparate(t *testing.T) {
	store, _ := newTestStore(t)

	colon, err := store.ResolveOrCreate(context.Background(), "fe80::1")
	require.NoError(t, err)
	dashed, err := store.ResolveOrCreate(context.Background(), "fe80--1")
	require.NoError(t, err)

	assert.NotEqual(t, colon.ID, dashed.ID)
	assert.NotEqual(t, colon.Dir, dashed.Dir)
}

func TestStore_ResolveOrCreate_CreatesDirectory(t *testing.T) {
	store, _ := newTestStore(t)

	h, err := store.ResolveOrCreate(context.Background(), "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1_1700000000", h.ID)
	assert.Equal(t, "10.0.0.1", h.Identity)
	info, err := os.Stat(h.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStore_ResolveOrCreate_ReusesLiveSession(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	first, err := store.ResolveOrCreate(ctx, "10.0.0.1")
	require.NoError(t, err)

	clock.Advance(899 * time.Second)
	second, err := store.ResolveOrCreate(ctx, "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestStore_ResolveOrCreate_ReplacesExpiredSession(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	first, err := store.ResolveOrCreate(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(first.Dir, "original.wav"), []byte("pcm"), 0o600))

	clock.Advance(900 * time.Second)
	second, err := store.ResolveOrCreate(ctx, "10.0.0.1")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "10.0.0.1_1700000900", second.ID)
	_, err = os.Stat(first.Dir)
	assert.True(t, os.IsNotExist(err), "expired session directory should be removed")
}

func TestStore_ResolveOrCreate_PicksMostRecent(t *testing.T) {
	store, _ := newTestStore(t)
	root := store.root.BaseDir()

	// An older live directory and a newer live directory for the same client.
	require.NoError(t, os.Mkdir(filepath.Join(root, "10.0.0.1_1699999500"), 0o750))
	require.NoError(t, os.Mkdir(filepath.Join(root, "10.0.0.1_1699999900"), 0o750))
	// Another identity sharing the prefix must be ignored.
	require.NoError(t, os.Mkdir(filepath.Join(root, "10.0.0.10_1699999990"), 0o750))

	h, err := store.ResolveOrCreate(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1_1699999900", h.ID)
}

func TestStore_ResolveOrCreate_ConcurrentSameIdentity(t *testing.T) {
	store, _ := newTestStore(t)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := store.ResolveOrCreate(context.Background(), "10.0.0.2")
			if assert.NoError(t, err) {
				ids[i] = h.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	entries, err := os.ReadDir(store.root.BaseDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_Lookup(t *testing.T) {
	store, clock := newTestStore(t)
	h, err := store.ResolveOrCreate(context.Background(), "10.0.0.1")
	require.NoError(t, err)

	got, err := store.Lookup(h.ID)
	require.NoError(t, err)
	assert.Equal(t, h.Dir, got.Dir)

	_, err = store.Lookup("../../etc")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = store.Lookup("10.0.0.9_1700000000")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = store.Lookup("nounderscore")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	clock.Advance(time.Hour)
	_, err = store.Lookup(h.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, statErr := os.Stat(h.Dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_Destroy_Idempotent(t *testing.T) {
	store, _ := newTestStore(t)
	h, err := store.ResolveOrCreate(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(h.Dir, "take_1.mp3"), []byte("mp3"), 0o600))

	require.NoError(t, store.Destroy(h))
	_, err = os.Stat(h.Dir)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Destroy(h))
	assert.NoError(t, store.DestroyID("never_1"))
	assert.ErrorIs(t, store.DestroyID("../x"), apperr.ErrValidation)
}

func TestStore_Info(t *testing.T) {
	store, clock := newTestStore(t)
	h, err := store.ResolveOrCreate(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(h.Dir, "original.wav"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(h.Dir, ".original.wav.abcd.tmp"), nil, 0o600))

	clock.Advance(100 * time.Second)
	info, err := store.Info(h)
	require.NoError(t, err)

	assert.Equal(t, 100*time.Second, info.Age)
	assert.Equal(t, 800*time.Second, info.ExpiresIn)
	assert.Equal(t, []string{"original.wav"}, info.Files)
}

func TestStore_SweepExpired(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	old, err := store.ResolveOrCreate(ctx, "10.0.0.1")
	require.NoError(t, err)
	clock.Advance(600 * time.Second)
	fresh, err := store.ResolveOrCreate(ctx, "10.0.0.2")
	require.NoError(t, err)
	clock.Advance(400 * time.Second)

	// Unrelated directories are left alone.
	require.NoError(t, os.Mkdir(filepath.Join(store.root.BaseDir(), "not-a-session"), 0o750))

	removed, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old.Dir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Dir)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(store.root.BaseDir(), "not-a-session"))
	assert.NoError(t, err)
}

func TestStore_Sandbox(t *testing.T) {
	store, _ := newTestStore(t)
	h, err := store.ResolveOrCreate(context.Background(), "10.0.0.1")
	require.NoError(t, err)

	sb, err := store.Sandbox(h)
	require.NoError(t, err)
	assert.Equal(t, h.Dir, sb.BaseDir())

	require.NoError(t, store.Destroy(h))
	_, err = store.Sandbox(h)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
