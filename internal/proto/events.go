package proto

// EventType identifies an inbound update event from the transport.
type EventType string

const (
	EventMessageUpdated    EventType = "message.updated"
	EventPartUpdated       EventType = "message.part.updated"
	EventPartRemoved       EventType = "message.part.removed"
	EventSessionUpdated    EventType = "session.updated"
	EventSessionDeleted    EventType = "session.deleted"
	EventSessionStatus     EventType = "session.status"
	EventPermissionAsked   EventType = "permission.asked"
	EventPermissionReplied EventType = "permission.replied"
	EventQuestionAsked     EventType = "question.asked"
	EventQuestionReplied   EventType = "question.replied"
)

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

func (t *EventType) UnmarshalText(data []byte) error {
	*t = EventType(data)
	return nil
}

// UpdateEvent is the discriminated union delivered by the transport. Which
// payload fields are set depends on Type; the identifying fields are always
// present for events that need them.
type UpdateEvent struct {
	Type      EventType `json:"type"`
	Directory string    `json:"directory"`
	SessionID string    `json:"session_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	PartID    string    `json:"part_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`

	Message *Message       `json:"message,omitempty"`
	Part    *Part          `json:"part,omitempty"`
	Delta   string         `json:"delta,omitempty"`
	Session *Session       `json:"session,omitempty"`
	Status  *SessionStatus `json:"status,omitempty"`
	Request *Request       `json:"request,omitempty"`
}

// CoalesceKey returns the key under which rapid-fire updates to the same
// logical target collapse to the most recent one, or "" for events that must
// all be applied. Delta part updates carry incremental text, so dropping an
// earlier one would lose content; they never coalesce.
func (e UpdateEvent) CoalesceKey() string {
	switch e.Type {
	case EventMessageUpdated:
		return string(e.Type) + ":" + e.Directory + ":" + e.MessageID
	case EventPartUpdated:
		if e.Delta != "" {
			return ""
		}
		return string(e.Type) + ":" + e.Directory + ":" + e.MessageID + ":" + e.PartID
	case EventPartRemoved:
		return string(e.Type) + ":" + e.Directory + ":" + e.MessageID + ":" + e.PartID
	case EventSessionUpdated:
		return string(e.Type) + ":" + e.Directory + ":" + e.SessionID
	case EventSessionStatus:
		return string(e.Type) + ":" + e.Directory + ":" + e.SessionID
	default:
		return ""
	}
}
