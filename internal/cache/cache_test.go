package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charmbracelet/weft/internal/db"
)

func newTestCache(t *testing.T, maxEntries int, maxBytes int64, versions []string) (*Cache, db.Querier) {
	t.Helper()
	q := db.New(db.SetupTestDB(t))
	c, err := New(q, maxEntries, maxBytes, versions)
	require.NoError(t, err)
	return c, q
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, 16, 1<<20, []string{"v1", "v2"})
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, GlobalScope(), "settings", []byte(`{"a":1}`)))

	data, version, ok := c.Get(ctx, GlobalScope(), "settings")
	require.True(t, ok)
	require.Equal(t, "v2", version)
	require.JSONEq(t, `{"a":1}`, string(data))
}

func TestCache_ReadsFallBackToOlderVersions(t *testing.T) {
	t.Parallel()

	c, q := newTestCache(t, 16, 1<<20, []string{"v1", "v2"})
	ctx := context.Background()

	// An entry written by an older build exists only under v1.
	payload := []byte("legacy")
	require.NoError(t, q.UpsertCacheEntry(ctx, db.UpsertCacheEntryParams{
		Scope:    GlobalScope().String(),
		Key:      "settings",
		Version:  "v1",
		Data:     payload,
		Checksum: Checksum(payload),
		Size:     int64(len(payload)),
	}))

	data, version, ok := c.Get(ctx, GlobalScope(), "settings")
	require.True(t, ok)
	require.Equal(t, "v1", version)
	require.Equal(t, payload, data)
}

func TestCache_CorruptEntryFallsThrough(t *testing.T) {
	t.Parallel()

	c, q := newTestCache(t, 16, 1<<20, []string{"v1", "v2"})
	ctx := context.Background()

	old := []byte("good old data")
	require.NoError(t, q.UpsertCacheEntry(ctx, db.UpsertCacheEntryParams{
		Scope:    GlobalScope().String(),
		Key:      "snapshot",
		Version:  "v1",
		Data:     old,
		Checksum: Checksum(old),
		Size:     int64(len(old)),
	}))
	// Newest version has a bad checksum.
	require.NoError(t, q.UpsertCacheEntry(ctx, db.UpsertCacheEntryParams{
		Scope:    GlobalScope().String(),
		Key:      "snapshot",
		Version:  "v2",
		Data:     []byte("corrupt"),
		Checksum: "deadbeef",
		Size:     7,
	}))

	data, version, ok := c.Get(ctx, GlobalScope(), "snapshot")
	require.True(t, ok)
	require.Equal(t, "v1", version)
	require.Equal(t, old, data)
}

func TestCache_MissingKeyReadsAsAbsent(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, 16, 1<<20, []string{"v1"})

	_, _, ok := c.Get(context.Background(), GlobalScope(), "nope")
	require.False(t, ok)
}

func TestCache_WorkspaceScopesNeverCollide(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, 16, 1<<20, []string{"v1"})
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, WorkspaceScope("/work/a"), "snapshot", []byte("a")))
	require.NoError(t, c.Put(ctx, WorkspaceScope("/work/b"), "snapshot", []byte("b")))

	data, _, ok := c.Get(ctx, WorkspaceScope("/work/a"), "snapshot")
	require.True(t, ok)
	require.Equal(t, []byte("a"), data)
	data, _, ok = c.Get(ctx, WorkspaceScope("/work/b"), "snapshot")
	require.True(t, ok)
	require.Equal(t, []byte("b"), data)
}

func TestCache_EntryCountEvictsLRU(t *testing.T) {
	t.Parallel()

	c, q := newTestCache(t, 2, 1<<20, []string{"v1"})
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, GlobalScope(), "a", []byte("1")))
	require.NoError(t, c.Put(ctx, GlobalScope(), "b", []byte("2")))
	require.NoError(t, c.Put(ctx, GlobalScope(), "c", []byte("3")))

	// "a" was least recently used; it is gone from durable storage too.
	entries, err := q.ListCacheEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	_, _, ok := c.Get(ctx, GlobalScope(), "a")
	require.False(t, ok)
}

func TestCache_ByteBudgetEvictsLRU(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, 16, 10, []string{"v1"})
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, GlobalScope(), "a", []byte("aaaaaa")))
	require.NoError(t, c.Put(ctx, GlobalScope(), "b", []byte("bbbbbb")))

	_, _, ok := c.Get(ctx, GlobalScope(), "a")
	require.False(t, ok)
	_, _, ok = c.Get(ctx, GlobalScope(), "b")
	require.True(t, ok)
}

func TestCache_LastWriteWins(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, 16, 1<<20, []string{"v1"})
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, GlobalScope(), "k", []byte("first")))
	require.NoError(t, c.Put(ctx, GlobalScope(), "k", []byte("second")))

	data, _, ok := c.Get(ctx, GlobalScope(), "k")
	require.True(t, ok)
	require.Equal(t, []byte("second"), data)
}

func TestCache_PruneRestoresBudgets(t *testing.T) {
	t.Parallel()

	c, q := newTestCache(t, 2, 1<<20, []string{"v1"})
	ctx := context.Background()

	// Simulate a previous run that wrote more entries than the budget.
	for i := range 5 {
		payload := []byte(fmt.Sprintf("payload-%d", i))
		require.NoError(t, q.UpsertCacheEntry(ctx, db.UpsertCacheEntryParams{
			Scope:     GlobalScope().String(),
			Key:       fmt.Sprintf("k%d", i),
			Version:   "v1",
			Data:      payload,
			Checksum:  Checksum(payload),
			Size:      int64(len(payload)),
			UpdatedAt: int64(i),
		}))
	}

	require.NoError(t, c.Prune(ctx))

	entries, err := q.ListCacheEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Oldest written entries went first.
	require.Equal(t, "k3", entries[0].Key)
	require.Equal(t, "k4", entries[1].Key)
}
