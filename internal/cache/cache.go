// Package cache is the durable, versioned blob cache behind workspace
// persistence. Entries are keyed by (scope, key, version); readers walk the
// version list newest to oldest so older snapshots survive format
// migrations, and writers always write the newest tag.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"

	"github.com/charmbracelet/weft/internal/db"
)

// Scope namespaces cache keys.
type Scope struct {
	kind string
	ref  string
}

func GlobalScope() Scope {
	return Scope{kind: "global"}
}

// WorkspaceScope keys entries to a workspace directory. The directory path
// is folded into a checksum so distinct workspaces can never collide on the
// same key.
func WorkspaceScope(directory string) Scope {
	return Scope{kind: "workspace", ref: Checksum([]byte(directory))}
}

func SessionScope(sessionID string) Scope {
	return Scope{kind: "session", ref: sessionID}
}

func (s Scope) String() string {
	if s.ref == "" {
		return s.kind
	}
	return s.kind + ":" + s.ref
}

// Checksum returns a fast, order-sensitive, non-cryptographic hash of data
// in hex.
func Checksum(data []byte) string {
	return strconv.FormatUint(xxh3.Hash(data), 16)
}

// Cache layers an in-memory LRU over the sqlite-backed entry table. Both
// layers are bounded: at most maxEntries live entries and maxBytes of blob
// data, evicting least-recently-used entries past either limit. Writes are
// idempotent, last write wins per key.
type Cache struct {
	q          db.Querier
	mem        *lru.Cache[string, []byte]
	bytes      int64
	maxEntries int
	maxBytes   int64
	versions   []string
	now        func() int64
}

// New builds a cache over q. versions is ordered oldest to newest; the last
// element is the current write tag.
func New(q db.Querier, maxEntries int, maxBytes int64, versions []string) (*Cache, error) {
	if len(versions) == 0 {
		return nil, errors.New("cache: at least one version tag is required")
	}
	c := &Cache{
		q:          q,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		versions:   versions,
		now:        func() int64 { return time.Now().UnixMilli() },
	}
	mem, err := lru.NewWithEvict(maxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c.mem = mem
	return c, nil
}

func (c *Cache) onEvict(memKey string, data []byte) {
	c.bytes -= int64(len(data))
	scope, key, version, ok := splitMemKey(memKey)
	if !ok {
		return
	}
	// Evicted entries leave durable storage too; that is what bounds it.
	err := c.q.DeleteCacheEntry(context.Background(), db.DeleteCacheEntryParams{
		Scope:   scope,
		Key:     key,
		Version: version,
	})
	if err != nil {
		slog.Debug("Failed to delete evicted cache entry", "scope", scope, "key", key, "error", err)
	}
}

// Get reads the freshest readable copy of (scope, key): it tries the newest
// version tag first and falls back through older tags when an entry is
// missing or fails its checksum. It never returns an error; an unreadable
// key just reads as absent.
func (c *Cache) Get(ctx context.Context, scope Scope, key string) (data []byte, version string, ok bool) {
	for i := len(c.versions) - 1; i >= 0; i-- {
		version := c.versions[i]
		memKey := memKey(scope.String(), key, version)
		if data, ok := c.mem.Get(memKey); ok {
			return data, version, true
		}
		entry, err := c.q.GetCacheEntry(ctx, db.GetCacheEntryParams{
			Scope:   scope.String(),
			Key:     key,
			Version: version,
		})
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				slog.Debug("Cache read failed", "scope", scope.String(), "key", key, "version", version, "error", err)
			}
			continue
		}
		if Checksum(entry.Data) != entry.Checksum {
			slog.Warn("Cache entry failed checksum, trying older version",
				"scope", scope.String(), "key", key, "version", version)
			continue
		}
		c.admit(memKey, entry.Data)
		return entry.Data, version, true
	}
	return nil, "", false
}

// Put writes data under the newest version tag.
func (c *Cache) Put(ctx context.Context, scope Scope, key string, data []byte) error {
	version := c.versions[len(c.versions)-1]
	err := c.q.UpsertCacheEntry(ctx, db.UpsertCacheEntryParams{
		Scope:     scope.String(),
		Key:       key,
		Version:   version,
		Data:      data,
		Checksum:  Checksum(data),
		Size:      int64(len(data)),
		UpdatedAt: c.now(),
	})
	if err != nil {
		return fmt.Errorf("cache: write %s/%s: %w", scope.String(), key, err)
	}
	c.admit(memKey(scope.String(), key, version), data)
	return nil
}

// Delete removes every version of (scope, key).
func (c *Cache) Delete(ctx context.Context, scope Scope, key string) {
	for _, version := range c.versions {
		c.mem.Remove(memKey(scope.String(), key, version))
		// Remove already deleted the durable row via onEvict; this covers
		// rows that were never admitted to memory.
		_ = c.q.DeleteCacheEntry(ctx, db.DeleteCacheEntryParams{
			Scope:   scope.String(),
			Key:     key,
			Version: version,
		})
	}
}

// Prune brings durable storage back under the entry and byte budgets after a
// restart, deleting the least recently written entries first.
func (c *Cache) Prune(ctx context.Context) error {
	entries, err := c.q.ListCacheEntries(ctx)
	if err != nil {
		return fmt.Errorf("cache: prune: %w", err)
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	count := len(entries)
	for _, e := range entries { // oldest first
		if count <= c.maxEntries && total <= c.maxBytes {
			break
		}
		if err := c.q.DeleteCacheEntry(ctx, db.DeleteCacheEntryParams{
			Scope:   e.Scope,
			Key:     e.Key,
			Version: e.Version,
		}); err != nil {
			return fmt.Errorf("cache: prune: %w", err)
		}
		total -= e.Size
		count--
	}
	return nil
}

func (c *Cache) admit(memKey string, data []byte) {
	if prev, ok := c.mem.Peek(memKey); ok {
		c.bytes -= int64(len(prev))
	}
	c.bytes += int64(len(data))
	c.mem.Add(memKey, data)
	for c.bytes > c.maxBytes && c.mem.Len() > 1 {
		c.mem.RemoveOldest()
	}
}

func memKey(scope, key, version string) string {
	return scope + "\x1f" + key + "\x1f" + version
}

func splitMemKey(memKey string) (scope, key, version string, ok bool) {
	first := strings.IndexByte(memKey, '\x1f')
	last := strings.LastIndexByte(memKey, '\x1f')
	if first < 0 || last <= first {
		return "", "", "", false
	}
	return memKey[:first], memKey[first+1 : last], memKey[last+1:], true
}
