package store

import "github.com/charmbracelet/weft/internal/proto"

// Snapshot is the serializable form of a [Store], used by the durable cache
// layer. Live session status and pending requests are transient and not part
// of it.
type Snapshot struct {
	Sessions []proto.Session `json:"sessions"`
	Messages []proto.Message `json:"messages"`
	Parts    []proto.Part    `json:"parts"`
}

// Snapshot copies the store's persistent collections out.
func (s *Store) Snapshot() Snapshot {
	var snap Snapshot
	snap.Sessions = append(snap.Sessions, s.sessions.Items()...)
	for _, session := range snap.Sessions {
		for _, m := range s.Messages(session.ID) {
			snap.Messages = append(snap.Messages, m)
			snap.Parts = append(snap.Parts, s.Parts(m.ID)...)
		}
	}
	return snap
}

// FromSnapshot rebuilds a store from a persisted snapshot. Parts whose
// owning message is missing from the snapshot are dropped, same as on the
// live path.
func FromSnapshot(snap Snapshot) *Store {
	s := New()
	for _, session := range snap.Sessions {
		s.UpsertSession(session)
	}
	for _, m := range snap.Messages {
		s.UpsertMessage(m)
	}
	for _, p := range snap.Parts {
		s.UpsertPart(p)
	}
	return s
}
