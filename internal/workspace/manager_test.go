package workspace

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charmbracelet/weft/internal/cache"
	"github.com/charmbracelet/weft/internal/db"
	"github.com/charmbracelet/weft/internal/proto"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, clock *fakeClock, maxLive int) *Manager {
	t.Helper()
	return NewManager(Options{
		MaxLive: maxLive,
		IdleTTL: time.Minute,
		Now:     clock.Now,
	})
}

func TestManager_ChildCreatesOnce(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := newTestManager(t, clock, 4)

	st1, state := m.Child("/work/a")
	require.NotNil(t, st1)
	require.True(t, state.Booting)

	st2, _ := m.Child("/work/a")
	require.Same(t, st1, st2)
	require.Equal(t, 1, m.Len())
}

func TestManager_EvictionBound(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := newTestManager(t, clock, 3)

	for i := range 6 {
		dir := fmt.Sprintf("/work/%d", i)
		m.Child(dir)
		m.SetBooting(dir, false)
		clock.Advance(2 * time.Minute)
	}
	m.RunEviction()

	require.LessOrEqual(t, m.Len(), 3)
	// The most recently accessed directories survive.
	_, ok := m.State("/work/5")
	require.True(t, ok)
	_, ok = m.State("/work/0")
	require.False(t, ok)
}

func TestManager_YoungStoresAreNotEvicted(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := newTestManager(t, clock, 2)

	for i := range 4 {
		dir := fmt.Sprintf("/work/%d", i)
		m.Child(dir)
		m.SetBooting(dir, false)
	}
	m.RunEviction()

	// Over the cap, but nothing is past the idle TTL.
	require.Equal(t, 4, m.Len())
}

func TestManager_PinnedStoresAreNeverEvicted(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := newTestManager(t, clock, 1)

	m.Child("/work/pinned")
	m.SetBooting("/work/pinned", false)
	m.Pin("/work/pinned")

	clock.Advance(time.Hour)
	m.Child("/work/other")
	m.SetBooting("/work/other", false)
	clock.Advance(time.Hour)
	m.RunEviction()

	_, ok := m.State("/work/pinned")
	require.True(t, ok)

	m.Unpin("/work/pinned")
	m.RunEviction()
	_, ok = m.State("/work/pinned")
	require.False(t, ok)
}

func TestManager_BootingAndLoadingStoresAreNeverEvicted(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := newTestManager(t, clock, 1)

	m.Child("/work/booting")
	m.Child("/work/loading")
	m.SetBooting("/work/loading", false)
	m.SetLoadingSessions("/work/loading", true)

	clock.Advance(time.Hour)
	m.Child("/work/fresh")
	m.SetBooting("/work/fresh", false)
	clock.Advance(time.Hour)
	m.RunEviction()

	_, ok := m.State("/work/booting")
	require.True(t, ok)
	_, ok = m.State("/work/loading")
	require.True(t, ok)
}

func TestManager_OnEvictRuns(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	var evicted []string
	m := NewManager(Options{
		MaxLive: 1,
		IdleTTL: time.Minute,
		Now:     clock.Now,
		OnEvict: func(dir string) { evicted = append(evicted, dir) },
	})

	m.Child("/work/a")
	m.SetBooting("/work/a", false)
	clock.Advance(time.Hour)
	m.Child("/work/b")
	m.SetBooting("/work/b", false)
	clock.Advance(time.Hour)
	m.RunEviction()

	require.Equal(t, []string{"/work/a"}, evicted)
}

func TestManager_PersistAndRestoreThroughCache(t *testing.T) {
	t.Parallel()

	conn := db.SetupTestDB(t)
	c, err := cache.New(db.New(conn), 16, 1<<20, []string{"v1"})
	require.NoError(t, err)

	clock := newFakeClock()
	m := NewManager(Options{
		MaxLive: 4,
		IdleTTL: time.Minute,
		Cache:   c,
		Now:     clock.Now,
	})

	st, _ := m.Child("/work/a")
	st.UpsertSession(proto.Session{ID: "s1", Title: "persisted"})
	require.NoError(t, m.Persist(context.Background(), "/work/a"))

	m.Dispose("/work/a")
	require.Equal(t, 0, m.Len())

	restored, _ := m.Child("/work/a")
	sess, ok := restored.Session("s1")
	require.True(t, ok)
	require.Equal(t, "persisted", sess.Title)
}
