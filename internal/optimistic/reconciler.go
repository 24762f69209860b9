// Package optimistic applies client-predicted mutations ahead of server
// confirmation and reconciles them once the authoritative event arrives.
package optimistic

import (
	"slices"

	"github.com/google/uuid"

	"github.com/charmbracelet/weft/internal/proto"
	"github.com/charmbracelet/weft/internal/store"
)

// Reconciler tracks provisional entries per session, oldest first, so sends
// may overlap before their confirmations arrive. It is exclusively owned by
// the engine that owns the store and shares its locking.
type Reconciler struct {
	store   *store.Store
	pending map[string][]string
}

func New(s *store.Store) *Reconciler {
	return &Reconciler{
		store:   s,
		pending: make(map[string][]string),
	}
}

// Predict inserts a provisional user message with a single text part into
// the store, at its correctly sorted timeline position. UUIDv7 ids are
// time-ordered, so the provisional entry lands at the tail like a
// server-assigned one would.
func (r *Reconciler) Predict(sessionID, text string, now int64) proto.Message {
	msg := proto.Message{
		ID:        newID(),
		SessionID: sessionID,
		Role:      proto.User,
		CreatedAt: now,
	}
	r.store.UpsertMessage(msg)
	r.store.UpsertPart(proto.Part{
		ID:        newID(),
		MessageID: msg.ID,
		SessionID: sessionID,
		CreatedAt: now,
		Content:   proto.TextContent{Text: text},
	})
	r.pending[sessionID] = append(r.pending[sessionID], msg.ID)
	return msg
}

// Observe reconciles an authoritative user-message event against the
// session's outstanding provisional entries, consuming exactly one per
// event. A matching id means the upsert replaces that provisional message in
// place; a server-assigned id means the oldest outstanding provisional is
// the one being confirmed and must go, so neither a duplicate nor an orphan
// survives a completed round trip even when sends overlap. Called before the
// event is applied to the store.
func (r *Reconciler) Observe(ev proto.UpdateEvent) {
	if ev.Type != proto.EventMessageUpdated || ev.Message == nil {
		return
	}
	m := ev.Message
	if m.Role != proto.User {
		return
	}
	ids := r.pending[m.SessionID]
	if len(ids) == 0 {
		return
	}
	if i := slices.Index(ids, m.ID); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
	} else {
		r.store.RemoveMessage(ids[0])
		ids = ids[1:]
	}
	if len(ids) == 0 {
		delete(r.pending, m.SessionID)
	} else {
		r.pending[m.SessionID] = ids
	}
}

// HasPending reports whether the session has an unconfirmed provisional
// message.
func (r *Reconciler) HasPending(sessionID string) bool {
	return len(r.pending[sessionID]) > 0
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
