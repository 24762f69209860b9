package turn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charmbracelet/weft/internal/proto"
)

func user(id string, createdAt int64) proto.Message {
	return proto.Message{ID: id, SessionID: "s1", Role: proto.User, CreatedAt: createdAt}
}

func assistant(id, parentID string, createdAt int64) proto.Message {
	return proto.Message{ID: id, SessionID: "s1", ParentID: parentID, Role: proto.Assistant, CreatedAt: createdAt}
}

func ids(msgs []proto.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestProject_WindowAttribution(t *testing.T) {
	t.Parallel()

	turns := Project(Snapshot{
		Messages: []proto.Message{
			user("u1", 100),
			assistant("a1", "", 110),
			assistant("a2", "", 120),
			user("u2", 200),
			assistant("a3", "", 210),
		},
		Now: 1000,
	})

	require.Len(t, turns, 2)
	require.Equal(t, []string{"a1", "a2"}, ids(turns[0].AssistantMessages))
	require.Equal(t, []string{"a3"}, ids(turns[1].AssistantMessages))
}

func TestProject_LinkedAssistantsKeepTimelineOrder(t *testing.T) {
	t.Parallel()

	// a2 and a1 were persisted out of creation-time order; attribution must
	// keep timeline position, not parent-link discovery order or time order.
	turns := Project(Snapshot{
		Messages: []proto.Message{
			user("u1", 50),
			assistant("a2", "u1", 200),
			assistant("a1", "u1", 100),
			assistant("a3", "u1", 300),
		},
		Now: 1000,
	})

	require.Len(t, turns, 1)
	require.Equal(t, []string{"a2", "a1", "a3"}, ids(turns[0].AssistantMessages))
}

func TestProject_LinkedAssistantBeforeParent(t *testing.T) {
	t.Parallel()

	// An assistant that appears before its parent user message is still
	// recovered through the parent link.
	turns := Project(Snapshot{
		Messages: []proto.Message{
			assistant("a1", "u1", 90),
			user("u1", 100),
		},
		Now: 1000,
	})

	require.Len(t, turns, 1)
	require.Equal(t, []string{"a1"}, ids(turns[0].AssistantMessages))
}

func TestProject_OrphansAreNeverAttributed(t *testing.T) {
	t.Parallel()

	turns := Project(Snapshot{
		Messages: []proto.Message{
			assistant("a0", "", 90),
			user("u1", 100),
			assistant("a1", "", 110),
		},
		Now: 1000,
	})

	require.Len(t, turns, 1)
	require.Equal(t, []string{"a1"}, ids(turns[0].AssistantMessages))
}

func TestProject_DanglingParentFallsBackToWindow(t *testing.T) {
	t.Parallel()

	turns := Project(Snapshot{
		Messages: []proto.Message{
			user("u1", 100),
			assistant("a1", "nonexistent", 110),
		},
		Now: 1000,
	})

	require.Len(t, turns, 1)
	require.Equal(t, []string{"a1"}, ids(turns[0].AssistantMessages))
}

func TestProject_ActiveTurnAndStatusLabel(t *testing.T) {
	t.Parallel()

	parts := map[string][]proto.Part{
		"a1": {
			{ID: "p1", MessageID: "a1", Content: proto.TextContent{Text: "done reading"}},
			{ID: "p2", MessageID: "a1", Content: proto.ToolContent{
				Name:  "bash",
				State: proto.ToolState{Status: proto.ToolRunning},
			}},
		},
	}
	turns := Project(Snapshot{
		Messages:          []proto.Message{user("u1", 100), assistant("a1", "u1", 110)},
		Parts:             parts,
		Status:            proto.SessionStatus{State: proto.SessionBusy},
		LastUserMessageID: "u1",
		Now:               1000,
	})

	require.Len(t, turns, 1)
	tr := turns[0]
	require.True(t, tr.IsActiveTurn)
	require.True(t, tr.Working)
	require.Equal(t, "Running commands", tr.StatusLabel)
	require.GreaterOrEqual(t, tr.DurationMs, int64(0))
	require.EqualValues(t, 900, tr.DurationMs)
	require.NotNil(t, tr.FinalTextPart)
	require.Equal(t, "p1", tr.FinalTextPart.ID)
	require.Len(t, tr.ToolParts, 1)
}

func TestProject_StatusLabelMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		content proto.PartContent
		label   string
	}{
		{proto.ReasoningContent{Thinking: "hmm"}, "Thinking"},
		{proto.ToolContent{Name: "grep"}, "Gathering context"},
		{proto.ToolContent{Name: "edit"}, "Making edits"},
		{proto.ToolContent{Name: "question"}, "Waiting for input"},
		{proto.ToolContent{Name: "webfetch"}, "Working"},
		{proto.TextContent{Text: "so"}, "Gathering thoughts"},
	}
	for _, tc := range cases {
		turns := Project(Snapshot{
			Messages: []proto.Message{user("u1", 100), assistant("a1", "u1", 110)},
			Parts: map[string][]proto.Part{
				"a1": {{ID: "p1", MessageID: "a1", Content: tc.content}},
			},
			Status:            proto.SessionStatus{State: proto.SessionBusy},
			LastUserMessageID: "u1",
			Now:               1000,
		})
		require.Len(t, turns, 1)
		require.Equal(t, tc.label, turns[0].StatusLabel)
	}
}

func TestProject_NoLabelWhenIdle(t *testing.T) {
	t.Parallel()

	turns := Project(Snapshot{
		Messages: []proto.Message{user("u1", 100), assistant("a1", "u1", 110)},
		Parts: map[string][]proto.Part{
			"a1": {{ID: "p1", MessageID: "a1", Content: proto.ReasoningContent{Thinking: "x"}}},
		},
		Status:            proto.SessionStatus{State: proto.SessionIdle},
		LastUserMessageID: "u1",
		Now:               1000,
	})

	require.Len(t, turns, 1)
	require.False(t, turns[0].Working)
	require.Empty(t, turns[0].StatusLabel)
}

func TestProject_ErrorExtractionChain(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want string
	}{
		{`{"data":{"message":"rate limited"},"message":"outer"}`, "rate limited"},
		{`{"message":"boom"}`, "boom"},
		{`"plain failure"`, "plain failure"},
		{`{"code":500}`, ""},
	}
	for _, tc := range cases {
		a := assistant("a1", "u1", 110)
		a.Error = json.RawMessage(tc.raw)
		turns := Project(Snapshot{
			Messages: []proto.Message{user("u1", 100), a},
			Now:      1000,
		})
		require.Len(t, turns, 1)
		require.Equal(t, tc.want, turns[0].Error, "raw %s", tc.raw)
	}
}

func TestProject_Duration(t *testing.T) {
	t.Parallel()

	// Completed assistant bounds the duration.
	a := assistant("a1", "u1", 110)
	a.CompletedAt = 450
	turns := Project(Snapshot{
		Messages: []proto.Message{user("u1", 100), a},
		Now:      9000,
	})
	require.Len(t, turns, 1)
	require.EqualValues(t, 350, turns[0].DurationMs)

	// No creation time means no duration.
	turns = Project(Snapshot{
		Messages: []proto.Message{user("u1", 0), a},
		Now:      9000,
	})
	require.EqualValues(t, 0, turns[0].DurationMs)

	// Clock skew never yields a negative duration.
	turns = Project(Snapshot{
		Messages: []proto.Message{user("u1", 500), a},
		Now:      9000,
	})
	require.EqualValues(t, 0, turns[0].DurationMs)
}

func TestProject_TurnsSortedByUserCreationTime(t *testing.T) {
	t.Parallel()

	turns := Project(Snapshot{
		Messages: []proto.Message{
			user("u2", 200),
			user("u1", 100),
			user("u3", 0),
		},
		Now: 1000,
	})

	require.Len(t, turns, 3)
	require.Equal(t, "u3", turns[0].UserMessage.ID)
	require.Equal(t, "u1", turns[1].UserMessage.ID)
	require.Equal(t, "u2", turns[2].UserMessage.ID)
}

func TestProject_EqualTimestampsKeepTimelineOrder(t *testing.T) {
	t.Parallel()

	turns := Project(Snapshot{
		Messages: []proto.Message{
			user("u1", 100),
			user("u2", 100),
		},
		Now: 1000,
	})

	require.Len(t, turns, 2)
	require.Equal(t, "u1", turns[0].UserMessage.ID)
	require.Equal(t, "u2", turns[1].UserMessage.ID)
}
