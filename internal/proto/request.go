package proto

// RequestKind distinguishes the two kinds of interactive requests an agent
// can raise mid-turn.
type RequestKind string

const (
	RequestPermission RequestKind = "permission"
	RequestQuestion   RequestKind = "question"
)

func (k RequestKind) MarshalText() ([]byte, error) {
	return []byte(k), nil
}

func (k *RequestKind) UnmarshalText(data []byte) error {
	*k = RequestKind(data)
	return nil
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAnswered RequestStatus = "answered"
)

func (s RequestStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

func (s *RequestStatus) UnmarshalText(data []byte) error {
	*s = RequestStatus(data)
	return nil
}

// Request is a pending permission or question raised by the agent. It is
// created by an asked event and terminated by the matching replied event.
type Request struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	MessageID   string        `json:"message_id"`
	Kind        RequestKind   `json:"kind"`
	Status      RequestStatus `json:"status"`
	ToolName    string        `json:"tool_name,omitempty"`
	Description string        `json:"description,omitempty"`
	CreatedAt   int64         `json:"created_at"`
}
