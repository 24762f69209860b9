package proto

type Session struct {
	ID           string `json:"id"`
	ParentID     string `json:"parent_id,omitempty"`
	Title        string `json:"title"`
	Summary      string `json:"summary,omitempty"`
	ShareURL     string `json:"share_url,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	LastAccessed int64  `json:"last_accessed"`
}

// SessionState identifies what a session is currently doing.
type SessionState string

const (
	SessionIdle     SessionState = "idle"
	SessionBusy     SessionState = "busy"
	SessionRetrying SessionState = "retry"
)

// MarshalText implements the [encoding.TextMarshaler] interface.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText implements the [encoding.TextUnmarshaler] interface.
func (s *SessionState) UnmarshalText(data []byte) error {
	*s = SessionState(data)
	return nil
}

// RetryStatus describes an in-progress provider retry.
type RetryStatus struct {
	Attempt int    `json:"attempt"`
	Message string `json:"message,omitempty"`
	Next    int64  `json:"next,omitempty"`
}

// SessionStatus is the live status reported by the server for a session.
// Retry is only set while State is [SessionRetrying].
type SessionStatus struct {
	State SessionState `json:"state"`
	Retry *RetryStatus `json:"retry,omitempty"`
}

// Busy reports whether the session is actively producing output.
func (s SessionStatus) Busy() bool {
	return s.State == SessionBusy || s.State == SessionRetrying
}
