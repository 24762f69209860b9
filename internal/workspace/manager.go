// Package workspace owns one normalized store per open workspace directory
// and keeps the live set bounded: least-recently-used stores past an idle
// TTL are persisted and dropped, except those pinned by their owner or still
// loading.
package workspace

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/weft/internal/cache"
	"github.com/charmbracelet/weft/internal/store"
)

const snapshotKey = "snapshot"

// DirState is the per-directory metadata controlling eviction eligibility.
type DirState struct {
	LastAccessAt    time.Time
	Pinned          bool
	Booting         bool
	LoadingSessions bool
}

type entry struct {
	store *store.Store
	state DirState
}

// Options tunes the manager. Cache is optional; without it stores are purely
// in-memory. OnEvict runs just before a store is dropped so its owner can
// clear timers that would otherwise mutate a removed store.
type Options struct {
	MaxLive int
	IdleTTL time.Duration
	Cache   *cache.Cache
	OnEvict func(directory string)
	Now     func() time.Time
}

type Manager struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]*entry
}

func NewManager(opts Options) *Manager {
	if opts.MaxLive <= 0 {
		opts.MaxLive = 8
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		opts:    opts,
		entries: make(map[string]*entry),
	}
}

// Child returns the store for directory, creating it on first access. A new
// store is restored from the durable cache when a snapshot is readable and
// starts in the booting state; every access refreshes the idle clock.
// Creation of a new directory is also the opportunistic moment to evict.
func (m *Manager) Child(directory string) (*store.Store, DirState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[directory]; ok {
		e.state.LastAccessAt = m.opts.Now()
		return e.store, e.state
	}

	e := &entry{
		store: m.restore(directory),
		state: DirState{
			LastAccessAt: m.opts.Now(),
			Booting:      true,
		},
	}
	m.entries[directory] = e
	m.runEvictionLocked()
	return e.store, e.state
}

func (m *Manager) restore(directory string) *store.Store {
	if m.opts.Cache == nil {
		return store.New()
	}
	data, version, ok := m.opts.Cache.Get(context.Background(), cache.WorkspaceScope(directory), snapshotKey)
	if !ok {
		return store.New()
	}
	var snap store.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("Discarding unreadable workspace snapshot", "directory", directory, "version", version, "error", err)
		return store.New()
	}
	return store.FromSnapshot(snap)
}

// Persist writes the directory's snapshot to the durable cache. The snapshot
// is marshaled before the manager lock is released; callers that mutate
// stores under their own lock must hold it across Persist so the marshal
// sees a quiescent store.
func (m *Manager) Persist(ctx context.Context, directory string) error {
	m.mu.Lock()
	e, ok := m.entries[directory]
	if !ok || m.opts.Cache == nil {
		m.mu.Unlock()
		return nil
	}
	data, err := json.Marshal(e.store.Snapshot())
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.opts.Cache.Put(ctx, cache.WorkspaceScope(directory), snapshotKey, data)
}

// Pin exempts the directory from eviction regardless of age.
func (m *Manager) Pin(directory string) {
	m.setFlag(directory, func(s *DirState) { s.Pinned = true })
}

func (m *Manager) Unpin(directory string) {
	m.setFlag(directory, func(s *DirState) { s.Pinned = false })
}

// SetBooting marks whether the directory's bootstrap load is in flight.
func (m *Manager) SetBooting(directory string, booting bool) {
	m.setFlag(directory, func(s *DirState) { s.Booting = booting })
}

// SetLoadingSessions marks whether a session load is in flight.
func (m *Manager) SetLoadingSessions(directory string, loading bool) {
	m.setFlag(directory, func(s *DirState) { s.LoadingSessions = loading })
}

func (m *Manager) setFlag(directory string, fn func(*DirState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[directory]; ok {
		fn(&e.state)
	}
}

// State returns the directory's current metadata.
func (m *Manager) State(directory string) (DirState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[directory]
	if !ok {
		return DirState{}, false
	}
	return e.state, true
}

// Len returns the live-store count.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Directories lists the live directories in no particular order.
func (m *Manager) Directories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	dirs := make([]string, 0, len(m.entries))
	for dir := range m.entries {
		dirs = append(dirs, dir)
	}
	return dirs
}

// RunEviction drops idle stores until the live count is at or below the cap.
func (m *Manager) RunEviction() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runEvictionLocked()
}

func (m *Manager) runEvictionLocked() {
	if len(m.entries) <= m.opts.MaxLive {
		return
	}
	cutoff := m.opts.Now().Add(-m.opts.IdleTTL)

	type candidate struct {
		directory string
		e         *entry
	}
	var candidates []candidate
	for dir, e := range m.entries {
		if !e.state.Pinned && e.state.LastAccessAt.Before(cutoff) {
			candidates = append(candidates, candidate{dir, e})
		}
	}
	slices.SortFunc(candidates, func(a, b candidate) int {
		return a.e.state.LastAccessAt.Compare(b.e.state.LastAccessAt)
	})

	for _, c := range candidates {
		if len(m.entries) <= m.opts.MaxLive {
			return
		}
		// Never dispose mid-load.
		if c.e.state.Booting || c.e.state.LoadingSessions {
			continue
		}
		m.disposeLocked(c.directory)
	}
}

// Dispose explicitly persists and drops the directory's store.
func (m *Manager) Dispose(directory string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[directory]; !ok {
		return
	}
	m.disposeLocked(directory)
}

func (m *Manager) disposeLocked(directory string) {
	e := m.entries[directory]
	if m.opts.Cache != nil {
		data, err := json.Marshal(e.store.Snapshot())
		if err == nil {
			err = m.opts.Cache.Put(context.Background(), cache.WorkspaceScope(directory), snapshotKey, data)
		}
		if err != nil {
			slog.Warn("Failed to persist workspace snapshot on eviction", "directory", directory, "error", err)
		}
	}
	delete(m.entries, directory)
	if m.opts.OnEvict != nil {
		m.opts.OnEvict(directory)
	}
}
