// Package turn folds a normalized conversation snapshot into render-ready
// turns: one per user message, with every assistant message and part
// attributed to it, plus derived status, duration, and error.
package turn

import (
	"slices"
	"time"

	"github.com/charmbracelet/weft/internal/proto"
)

// Turn is one user message plus everything the assistant produced in
// response. Turns are derived, never persisted, and must be treated as
// immutable by consumers.
type Turn struct {
	UserMessage       proto.Message
	UserParts         []proto.Part
	AssistantMessages []proto.Message
	AssistantParts    map[string][]proto.Part
	FinalTextPart     *proto.Part
	ReasoningParts    []proto.Part
	ToolParts         []proto.Part
	IsActiveTurn      bool
	Working           bool
	Error             string
	DurationMs        int64
	StatusLabel       string
	Retry             *proto.RetryStatus
}

// Snapshot is the input to a projection pass: the session's timeline in
// input order, each message's ordered parts, the live session status, and
// the id of the most recent user message. Now is injectable for tests; zero
// means wall clock.
type Snapshot struct {
	Messages          []proto.Message
	Parts             map[string][]proto.Part
	Status            proto.SessionStatus
	LastUserMessageID string
	Now               int64
}

// Project folds the snapshot into ordered turns. It is a pure function of
// its input: no network, no timers, no shared state.
func Project(snap Snapshot) []*Turn {
	now := snap.Now
	if now == 0 {
		now = time.Now().UnixMilli()
	}

	var turns []*Turn
	for i, m := range snap.Messages {
		if m.Role != proto.User {
			continue
		}
		turns = append(turns, projectTurn(snap, i, now))
	}

	// Ascending by the user message's creation time; missing times sort
	// first. The sort is stable so equal timestamps keep timeline order.
	slices.SortStableFunc(turns, func(a, b *Turn) int {
		at, bt := a.UserMessage.CreatedAt, b.UserMessage.CreatedAt
		switch {
		case at < bt:
			return -1
		case at > bt:
			return 1
		default:
			return 0
		}
	})
	return turns
}

func projectTurn(snap Snapshot, userIdx int, now int64) *Turn {
	user := snap.Messages[userIdx]
	t := &Turn{
		UserMessage:    user,
		UserParts:      snap.Parts[user.ID],
		AssistantParts: make(map[string][]proto.Part),
		IsActiveTurn:   user.ID == snap.LastUserMessageID,
	}
	t.Working = t.IsActiveTurn && snap.Status.Busy()
	if t.IsActiveTurn {
		t.Retry = snap.Status.Retry
	}

	t.AssistantMessages = attributeAssistants(snap.Messages, userIdx)

	var allParts []proto.Part
	for _, a := range t.AssistantMessages {
		parts := snap.Parts[a.ID]
		t.AssistantParts[a.ID] = parts
		allParts = append(allParts, parts...)
	}

	for i := len(allParts) - 1; i >= 0; i-- {
		if allParts[i].Type() == proto.PartTypeText {
			part := allParts[i]
			t.FinalTextPart = &part
			break
		}
	}
	for _, p := range allParts {
		switch p.Type() {
		case proto.PartTypeReasoning:
			t.ReasoningParts = append(t.ReasoningParts, p)
		case proto.PartTypeTool:
			t.ToolParts = append(t.ToolParts, p)
		}
	}

	if n := len(t.AssistantMessages); n > 0 {
		t.Error = t.AssistantMessages[n-1].ErrorText()
	}
	t.DurationMs = duration(user, t.AssistantMessages, now)
	if t.Working {
		t.StatusLabel = statusLabel(allParts)
	}
	return t
}

// attributeAssistants collects the assistant messages belonging to the user
// message at userIdx: every assistant strictly between it and the next user
// message (the window set), plus every assistant anywhere in the timeline
// whose parent id is this user message (the linked set, which recovers
// assistants persisted out of order). The union is deduplicated and returned
// in original timeline position, not discovery order. Assistants before the
// first user message with no parent link are orphans and never attributed;
// a parent id naming a missing or non-user message counts as absent,
// leaving only the window set.
func attributeAssistants(messages []proto.Message, userIdx int) []proto.Message {
	if userIdx < 0 || userIdx >= len(messages) || messages[userIdx].Role != proto.User {
		return nil
	}
	user := messages[userIdx]

	attributed := make(map[int]struct{})
	for i := userIdx + 1; i < len(messages); i++ {
		if messages[i].Role == proto.User {
			break
		}
		if messages[i].Role == proto.Assistant {
			attributed[i] = struct{}{}
		}
	}
	for i, m := range messages {
		if m.Role == proto.Assistant && m.ParentID == user.ID {
			attributed[i] = struct{}{}
		}
	}

	indexes := make([]int, 0, len(attributed))
	for i := range attributed {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)

	out := make([]proto.Message, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, i := range indexes {
		if _, dup := seen[messages[i].ID]; dup {
			continue
		}
		seen[messages[i].ID] = struct{}{}
		out = append(out, messages[i])
	}
	return out
}

func duration(user proto.Message, assistants []proto.Message, now int64) int64 {
	if user.CreatedAt == 0 {
		return 0
	}
	completed := now
	if n := len(assistants); n > 0 && assistants[n-1].CompletedAt != 0 {
		completed = assistants[n-1].CompletedAt
	}
	return max(0, completed-user.CreatedAt)
}

// statusLabel derives a short activity label from the last attributed
// assistant part.
func statusLabel(parts []proto.Part) string {
	if len(parts) == 0 {
		return ""
	}
	last := parts[len(parts)-1]
	switch c := last.Content.(type) {
	case proto.ReasoningContent:
		return "Thinking"
	case proto.ToolContent:
		return toolLabel(c.Name)
	case proto.TextContent:
		return "Gathering thoughts"
	default:
		return ""
	}
}

func toolLabel(name string) string {
	switch name {
	case "read", "list", "grep", "glob":
		return "Gathering context"
	case "edit", "write":
		return "Making edits"
	case "bash":
		return "Running commands"
	case "question", "permission":
		return "Waiting for input"
	default:
		return "Working"
	}
}
