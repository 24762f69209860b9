// Package engine wires the synchronization core together: one coalescer and
// reconciler per open workspace, a cache-managed store behind each, and a
// pure projection pipeline on top. Consumers feed it transport events,
// subscribe to change notifications, and pull turns.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/weft/internal/cache"
	"github.com/charmbracelet/weft/internal/coalesce"
	"github.com/charmbracelet/weft/internal/config"
	"github.com/charmbracelet/weft/internal/db"
	"github.com/charmbracelet/weft/internal/log"
	"github.com/charmbracelet/weft/internal/optimistic"
	"github.com/charmbracelet/weft/internal/proto"
	"github.com/charmbracelet/weft/internal/pubsub"
	"github.com/charmbracelet/weft/internal/store"
	"github.com/charmbracelet/weft/internal/turn"
	"github.com/charmbracelet/weft/internal/workspace"
)

// Change announces that a session's derived state may have changed.
// Subscribers re-run the projection; the notification carries no state.
type Change struct {
	Directory string `json:"directory"`
	SessionID string `json:"session_id"`
}

// Engine is the conversation synchronization core for all open workspaces.
// All store mutation is serialized through its mutex; the projection
// pipeline under Turns is pure and synchronous.
type Engine struct {
	mu sync.Mutex

	cfg        config.Config
	workspaces *workspace.Manager
	cache      *cache.Cache
	conn       *sql.DB

	coalescers    map[string]*coalesce.Coalescer
	reconcilers   map[string]*optimistic.Reconciler
	stabilizers   map[string]*turn.Stabilizer
	bootstrapping map[string]bool

	broker *pubsub.Broker[Change]
	sched  coalesce.Scheduler
	loader Loader
	now    func() int64
}

type Option func(*Engine)

// WithLoader sets the transport collaborator used for bootstrap loads.
func WithLoader(l Loader) Option {
	return func(e *Engine) { e.loader = l }
}

// WithScheduler replaces the wall-clock flush scheduler, for tests.
func WithScheduler(s coalesce.Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

// WithNow replaces the wall clock (milliseconds), for tests.
func WithNow(now func() int64) Option {
	return func(e *Engine) { e.now = now }
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:           cfg,
		coalescers:    make(map[string]*coalesce.Coalescer),
		reconcilers:   make(map[string]*optimistic.Reconciler),
		stabilizers:   make(map[string]*turn.Stabilizer),
		bootstrapping: make(map[string]bool),
		broker:        pubsub.NewBroker[Change](),
		sched:         coalesce.WallClock(),
		now:           func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.DataDirectory != "" {
		log.Setup(filepath.Join(cfg.DataDirectory, "weft.log"), cfg.Debug)
		conn, err := db.Connect(ctx, cfg.DataDirectory)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		c, err := cache.New(db.New(conn), cfg.CacheMaxEntries, cfg.CacheMaxBytes, config.SnapshotVersions)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("engine: %w", err)
		}
		if err := c.Prune(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.conn = conn
		e.cache = c
	}

	e.workspaces = workspace.NewManager(workspace.Options{
		MaxLive: cfg.MaxLiveWorkspaces,
		IdleTTL: cfg.WorkspaceIdleTTL,
		Cache:   e.cache,
		OnEvict: e.onEvict,
	})
	return e, nil
}

// Subscribe returns change notifications until ctx is done.
func (e *Engine) Subscribe(ctx context.Context) <-chan pubsub.Event[Change] {
	return e.broker.Subscribe(ctx)
}

// Open ensures the workspace directory has a live store, bootstrapping it in
// the background when a loader is configured. At most one bootstrap runs per
// directory; concurrent opens of a still-booting directory are no-ops.
func (e *Engine) Open(ctx context.Context, directory string) {
	e.mu.Lock()
	_, state := e.workspaces.Child(directory)
	fresh := state.Booting && !e.bootstrapping[directory]
	if fresh {
		e.bootstrapping[directory] = true
	}
	e.mu.Unlock()

	if !fresh {
		return
	}
	if e.loader == nil {
		e.finishBootstrap(directory)
		return
	}
	go e.bootstrap(ctx, directory)
}

// finishBootstrap clears both the manager's booting flag and the engine's
// in-flight marker, making the directory evictable and re-bootstrappable.
func (e *Engine) finishBootstrap(directory string) {
	e.workspaces.SetBooting(directory, false)
	e.mu.Lock()
	delete(e.bootstrapping, directory)
	e.mu.Unlock()
}

// Pin exempts the workspace from eviction; Unpin lifts the exemption.
func (e *Engine) Pin(directory string)   { e.workspaces.Pin(directory) }
func (e *Engine) Unpin(directory string) { e.workspaces.Unpin(directory) }

// RunEviction applies the live-store cap and idle TTL now.
func (e *Engine) RunEviction() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workspaces.RunEviction()
}

// Persist writes the workspace's snapshot to the durable cache. The engine
// mutex is held across the snapshot so no concurrent event flush mutates the
// store mid-marshal.
func (e *Engine) Persist(ctx context.Context, directory string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workspaces.Persist(ctx, directory)
}

// Turns projects the session's current state into ordered turns. Returned
// turns are stabilized: an unchanged turn is the same pointer the previous
// call returned, and must be treated as immutable.
func (e *Engine) Turns(directory, sessionID string) []*turn.Turn {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, _ := e.workspaces.Child(directory)
	snap := turn.Snapshot{
		Messages:          st.Messages(sessionID),
		Parts:             st.PartsBySession(sessionID),
		Status:            st.Status(sessionID),
		LastUserMessageID: st.LastUserMessageID(sessionID),
		Now:               e.now(),
	}
	turns := turn.Project(snap)
	return e.stabilizerFor(directory, sessionID).Stabilize(turns)
}

// SendMessage optimistically inserts a user message before server
// confirmation and announces the change.
func (e *Engine) SendMessage(directory, sessionID, text string) proto.Message {
	e.mu.Lock()
	st, _ := e.workspaces.Child(directory)
	msg := e.reconcilerFor(directory, st).Predict(sessionID, text, e.now())
	e.mu.Unlock()

	e.broker.Publish(pubsub.UpdatedEvent, Change{Directory: directory, SessionID: sessionID})
	return msg
}

// Close flushes nothing: buffered events for a closing engine are dropped,
// but every live workspace snapshot is persisted first.
func (e *Engine) Close() error {
	e.mu.Lock()
	for dir, c := range e.coalescers {
		c.Close()
		delete(e.coalescers, dir)
	}
	for _, dir := range e.workspaces.Directories() {
		e.workspaces.Dispose(dir)
	}
	e.mu.Unlock()

	e.broker.Shutdown()
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func (e *Engine) stabilizerFor(directory, sessionID string) *turn.Stabilizer {
	key := directory + "\x1f" + sessionID
	s, ok := e.stabilizers[key]
	if !ok {
		s = turn.NewStabilizer()
		e.stabilizers[key] = s
	}
	return s
}

func (e *Engine) reconcilerFor(directory string, st *store.Store) *optimistic.Reconciler {
	r, ok := e.reconcilers[directory]
	if !ok {
		r = optimistic.New(st)
		e.reconcilers[directory] = r
	}
	return r
}

// onEvict runs while the workspace manager drops a store: the directory's
// coalescer timer must be cleared so no buffered flush mutates a removed
// store, and its per-directory state goes with it.
func (e *Engine) onEvict(directory string) {
	if c, ok := e.coalescers[directory]; ok {
		c.Close()
		delete(e.coalescers, directory)
	}
	delete(e.reconcilers, directory)
	delete(e.bootstrapping, directory)
	for key := range e.stabilizers {
		if dir, _, ok := strings.Cut(key, "\x1f"); ok && dir == directory {
			delete(e.stabilizers, key)
		}
	}
}
