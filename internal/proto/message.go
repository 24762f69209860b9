package proto

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

type Message struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	ParentID    string          `json:"parent_id,omitempty"`
	Role        MessageRole     `json:"role"`
	CreatedAt   int64           `json:"created_at"`
	CompletedAt int64           `json:"completed_at,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
}

type MessageRole string

const (
	Assistant MessageRole = "assistant"
	User      MessageRole = "user"
	System    MessageRole = "system"
)

func (r MessageRole) MarshalText() ([]byte, error) {
	return []byte(r), nil
}

func (r *MessageRole) UnmarshalText(data []byte) error {
	*r = MessageRole(data)
	return nil
}

// ErrorText extracts a human-readable error from the message's raw error
// payload. Servers report errors in several shapes, so it prefers
// error.data.message, then error.message, then a bare string value.
func (m *Message) ErrorText() string {
	if len(m.Error) == 0 {
		return ""
	}
	if v := gjson.GetBytes(m.Error, "data.message"); v.Exists() {
		return v.String()
	}
	if v := gjson.GetBytes(m.Error, "message"); v.Exists() {
		return v.String()
	}
	parsed := gjson.ParseBytes(m.Error)
	if parsed.Type == gjson.String {
		return parsed.String()
	}
	return ""
}

type PartType string

const (
	PartTypeText      PartType = "text"
	PartTypeReasoning PartType = "reasoning"
	PartTypeTool      PartType = "tool"
	PartTypeFile      PartType = "file"
)

func (t PartType) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

func (t *PartType) UnmarshalText(data []byte) error {
	*t = PartType(data)
	return nil
}

// Part is one piece of a message's content. Parts are ordered within their
// owning message and may be updated incrementally while streaming.
type Part struct {
	ID        string      `json:"id"`
	MessageID string      `json:"message_id"`
	SessionID string      `json:"session_id"`
	Order     int64       `json:"order"`
	Seq       int64       `json:"seq"`
	CreatedAt int64       `json:"created_at"`
	UpdatedAt int64       `json:"updated_at,omitempty"`
	Content   PartContent `json:"content"`
}

type PartContent interface {
	isPartContent()
}

type TextContent struct {
	Text string `json:"text"`
}

func (tc TextContent) String() string {
	return tc.Text
}

func (TextContent) isPartContent() {}

type ReasoningContent struct {
	Thinking   string `json:"thinking"`
	StartedAt  int64  `json:"started_at,omitempty"`
	FinishedAt int64  `json:"finished_at,omitempty"`
}

func (rc ReasoningContent) String() string {
	return rc.Thinking
}

func (ReasoningContent) isPartContent() {}

type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

func (s ToolStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

func (s *ToolStatus) UnmarshalText(data []byte) error {
	*s = ToolStatus(data)
	return nil
}

type ToolState struct {
	Status     ToolStatus `json:"status"`
	StartedAt  int64      `json:"started_at,omitempty"`
	FinishedAt int64      `json:"finished_at,omitempty"`
	Output     string     `json:"output,omitempty"`
}

type ToolContent struct {
	Name  string    `json:"name"`
	Input string    `json:"input,omitempty"`
	State ToolState `json:"state"`
}

func (ToolContent) isPartContent() {}

type FileContent struct {
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

func (FileContent) isPartContent() {}

// Type reports the part's content type.
func (p Part) Type() PartType {
	switch p.Content.(type) {
	case TextContent:
		return PartTypeText
	case ReasoningContent:
		return PartTypeReasoning
	case ToolContent:
		return PartTypeTool
	case FileContent:
		return PartTypeFile
	default:
		return ""
	}
}

// Text returns the part's streaming text body, if it has one.
func (p Part) Text() string {
	switch c := p.Content.(type) {
	case TextContent:
		return c.Text
	case ReasoningContent:
		return c.Thinking
	default:
		return ""
	}
}

// AppendDelta appends streamed text to a text or reasoning part. Deltas for
// other content types are ignored.
func (p *Part) AppendDelta(delta string) {
	switch c := p.Content.(type) {
	case TextContent:
		p.Content = TextContent{Text: c.Text + delta}
	case ReasoningContent:
		p.Content = ReasoningContent{
			Thinking:   c.Thinking + delta,
			StartedAt:  c.StartedAt,
			FinishedAt: c.FinishedAt,
		}
	}
}

type contentWrapper struct {
	Type PartType    `json:"type"`
	Data PartContent `json:"data"`
}

// MarshalJSON implements the [json.Marshaler] interface.
func (p Part) MarshalJSON() ([]byte, error) {
	// The Content field is a PartContent interface which can't be directly
	// marshaled by the standard JSON package, so wrap it with its type tag.
	content, err := json.Marshal(contentWrapper{Type: p.Type(), Data: p.Content})
	if err != nil {
		return nil, err
	}

	// Create an alias to avoid infinite recursion
	type Alias Part
	return json.Marshal(&struct {
		Content json.RawMessage `json:"content"`
		*Alias
	}{
		Content: json.RawMessage(content),
		Alias:   (*Alias)(&p),
	})
}

// UnmarshalJSON implements the [json.Unmarshaler] interface.
func (p *Part) UnmarshalJSON(data []byte) error {
	// Create an alias to avoid infinite recursion
	type Alias Part
	aux := &struct {
		Content json.RawMessage `json:"content"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	content, err := UnmarshalContent([]byte(aux.Content))
	if err != nil {
		return err
	}

	p.Content = content
	return nil
}

// UnmarshalContent decodes a type-tagged part content payload.
func UnmarshalContent(data []byte) (PartContent, error) {
	var wrapper struct {
		Type PartType        `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}

	switch wrapper.Type {
	case PartTypeText:
		content := TextContent{}
		if err := json.Unmarshal(wrapper.Data, &content); err != nil {
			return nil, err
		}
		return content, nil
	case PartTypeReasoning:
		content := ReasoningContent{}
		if err := json.Unmarshal(wrapper.Data, &content); err != nil {
			return nil, err
		}
		return content, nil
	case PartTypeTool:
		content := ToolContent{}
		if err := json.Unmarshal(wrapper.Data, &content); err != nil {
			return nil, err
		}
		return content, nil
	case PartTypeFile:
		content := FileContent{}
		if err := json.Unmarshal(wrapper.Data, &content); err != nil {
			return nil, err
		}
		return content, nil
	default:
		return nil, fmt.Errorf("unknown part content type: %s", wrapper.Type)
	}
}
