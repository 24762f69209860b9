package store

import (
	"slices"

	"github.com/charmbracelet/weft/internal/proto"
)

// Store is the normalized conversation state for one workspace directory:
// sessions, messages grouped by session, parts grouped by message, and
// pending permission/question requests, each kept in ascending key order.
// The store has no network or timer awareness; it only mutates its own
// collections.
type Store struct {
	sessions *Sorted[proto.Session]
	messages map[string]*Sorted[proto.Message]
	parts    map[string]*Sorted[proto.Part]
	requests *Sorted[proto.Request]
	status   map[string]proto.SessionStatus
	msgOwner map[string]string
}

func New() *Store {
	return &Store{
		sessions: NewSorted(func(s proto.Session) string { return s.ID }),
		messages: make(map[string]*Sorted[proto.Message]),
		parts:    make(map[string]*Sorted[proto.Part]),
		requests: NewSorted(func(r proto.Request) string { return r.ID }),
		status:   make(map[string]proto.SessionStatus),
		msgOwner: make(map[string]string),
	}
}

func (s *Store) UpsertSession(session proto.Session) {
	s.sessions.Upsert(session)
}

func (s *Store) Session(id string) (proto.Session, bool) {
	return s.sessions.Get(id)
}

func (s *Store) Sessions() []proto.Session {
	return s.sessions.Items()
}

// RemoveSession deletes the session and cascades to its messages, parts,
// pending requests, and live status.
func (s *Store) RemoveSession(id string) bool {
	if !s.sessions.Remove(id) {
		return false
	}
	if msgs, ok := s.messages[id]; ok {
		for _, m := range msgs.Items() {
			delete(s.parts, m.ID)
			delete(s.msgOwner, m.ID)
		}
		delete(s.messages, id)
	}
	var stale []string
	for _, r := range s.requests.Items() {
		if r.SessionID == id {
			stale = append(stale, r.ID)
		}
	}
	for _, rid := range stale {
		s.requests.Remove(rid)
	}
	delete(s.status, id)
	return true
}

// UpsertMessage inserts the message at its sorted position within its
// session, or replaces it in place. A message's role is immutable once set;
// replacements keep the stored role.
func (s *Store) UpsertMessage(m proto.Message) {
	msgs, ok := s.messages[m.SessionID]
	if !ok {
		msgs = NewSorted(func(m proto.Message) string { return m.ID })
		s.messages[m.SessionID] = msgs
	}
	if existing, ok := msgs.Get(m.ID); ok && existing.Role != "" {
		m.Role = existing.Role
	}
	msgs.Upsert(m)
	s.msgOwner[m.ID] = m.SessionID
}

// Message looks a message up by id alone.
func (s *Store) Message(id string) (proto.Message, bool) {
	sessionID, ok := s.msgOwner[id]
	if !ok {
		return proto.Message{}, false
	}
	return s.messages[sessionID].Get(id)
}

// Messages returns the session's messages in ascending id order, which for
// time-ordered ids is creation order.
func (s *Store) Messages(sessionID string) []proto.Message {
	msgs, ok := s.messages[sessionID]
	if !ok {
		return nil
	}
	return msgs.Items()
}

func (s *Store) RemoveMessage(id string) bool {
	sessionID, ok := s.msgOwner[id]
	if !ok {
		return false
	}
	removed := s.messages[sessionID].Remove(id)
	if removed {
		delete(s.parts, id)
		delete(s.msgOwner, id)
	}
	return removed
}

// UpsertPart inserts or replaces a part. Parts whose owning message is not
// in the store are silently dropped: the live stream may be inconsistent and
// projection is best effort.
func (s *Store) UpsertPart(p proto.Part) bool {
	if _, ok := s.msgOwner[p.MessageID]; !ok {
		return false
	}
	parts, ok := s.parts[p.MessageID]
	if !ok {
		parts = NewSorted(func(p proto.Part) string { return p.ID })
		s.parts[p.MessageID] = parts
	}
	parts.Upsert(p)
	return true
}

// AppendPartDelta appends streamed text to an existing part and records the
// event sequence number. Deltas for unknown parts are dropped.
func (s *Store) AppendPartDelta(messageID, partID, delta string, seq, updatedAt int64) bool {
	parts, ok := s.parts[messageID]
	if !ok {
		return false
	}
	return parts.Update(partID, func(p *proto.Part) {
		p.AppendDelta(delta)
		if seq > p.Seq {
			p.Seq = seq
		}
		p.UpdatedAt = updatedAt
	})
}

func (s *Store) RemovePart(messageID, partID string) bool {
	parts, ok := s.parts[messageID]
	if !ok {
		return false
	}
	return parts.Remove(partID)
}

// Parts returns the message's parts ordered by their Order field, with id as
// the tiebreak.
func (s *Store) Parts(messageID string) []proto.Part {
	parts, ok := s.parts[messageID]
	if !ok {
		return nil
	}
	ordered := slices.Clone(parts.Items())
	slices.SortStableFunc(ordered, func(a, b proto.Part) int {
		if a.Order != b.Order {
			if a.Order < b.Order {
				return -1
			}
			return 1
		}
		return 0
	})
	return ordered
}

// PartsBySession returns every message's ordered parts for a session.
func (s *Store) PartsBySession(sessionID string) map[string][]proto.Part {
	out := make(map[string][]proto.Part)
	for _, m := range s.Messages(sessionID) {
		if parts := s.Parts(m.ID); len(parts) > 0 {
			out[m.ID] = parts
		}
	}
	return out
}

func (s *Store) UpsertRequest(r proto.Request) {
	s.requests.Upsert(r)
}

// AnswerRequest marks a pending request answered and drops it from the
// pending set.
func (s *Store) AnswerRequest(id string) bool {
	return s.requests.Remove(id)
}

func (s *Store) Request(id string) (proto.Request, bool) {
	return s.requests.Get(id)
}

// PendingRequests returns the session's unanswered requests in id order.
func (s *Store) PendingRequests(sessionID string) []proto.Request {
	var out []proto.Request
	for _, r := range s.requests.Items() {
		if r.SessionID == sessionID && r.Status == proto.RequestPending {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) SetStatus(sessionID string, status proto.SessionStatus) {
	s.status[sessionID] = status
}

func (s *Store) Status(sessionID string) proto.SessionStatus {
	status, ok := s.status[sessionID]
	if !ok {
		return proto.SessionStatus{State: proto.SessionIdle}
	}
	return status
}

// LastUserMessageID returns the id of the most recent user-role message in
// the session's timeline, or "".
func (s *Store) LastUserMessageID(sessionID string) string {
	msgs := s.Messages(sessionID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == proto.User {
			return msgs[i].ID
		}
	}
	return ""
}
