package turn

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/weft/internal/proto"
)

// Stabilizer memoizes projection output per user message. When a re-projected
// turn's fingerprint matches the cached one, the previously returned *Turn is
// handed back, so consumers can use pointer identity to skip re-rendering
// unchanged turns. A stabilizer serves one session and is not safe for
// concurrent use.
type Stabilizer struct {
	cache map[string]stabEntry
}

type stabEntry struct {
	fingerprint string
	turn        *Turn
}

func NewStabilizer() *Stabilizer {
	return &Stabilizer{cache: make(map[string]stabEntry)}
}

// Stabilize swaps freshly projected turns for their cached equivalents where
// the fingerprint is unchanged. The cache is replaced atomically at the end
// of the pass, dropping entries for turns no longer present.
func (s *Stabilizer) Stabilize(turns []*Turn) []*Turn {
	next := make(map[string]stabEntry, len(turns))
	out := make([]*Turn, len(turns))
	for i, t := range turns {
		fp := Fingerprint(t)
		key := t.UserMessage.ID
		if prev, ok := s.cache[key]; ok && prev.fingerprint == fp {
			out[i] = prev.turn
		} else {
			out[i] = t
		}
		next[key] = stabEntry{fingerprint: fp, turn: out[i]}
	}
	s.cache = next
	return out
}

// Fingerprint summarizes a turn's observable content. Equal fingerprints
// must mean identical observable content; over-invalidating is allowed but
// wasteful. Part text contributes only its length to keep fingerprints cheap
// under high-frequency appends.
func Fingerprint(t *Turn) string {
	var b strings.Builder
	b.WriteString(t.UserMessage.ID)
	sep(&b)
	b.WriteString(strconv.FormatBool(t.IsActiveTurn))
	sep(&b)
	b.WriteString(strconv.FormatBool(t.Working))
	sep(&b)
	b.WriteString(t.StatusLabel)
	sep(&b)
	b.WriteString(t.Error)
	sep(&b)
	if t.Retry != nil {
		b.WriteString(strconv.Itoa(t.Retry.Attempt))
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(t.Retry.Next, 10))
		b.WriteByte(':')
		b.WriteString(t.Retry.Message)
	}
	for _, m := range t.AssistantMessages {
		sep(&b)
		b.WriteString(m.ID)
	}
	for _, p := range t.UserParts {
		partFingerprint(&b, p)
	}
	for _, m := range t.AssistantMessages {
		for _, p := range t.AssistantParts[m.ID] {
			partFingerprint(&b, p)
		}
	}
	return b.String()
}

func partFingerprint(b *strings.Builder, p proto.Part) {
	sep(b)
	b.WriteString(p.ID)
	b.WriteByte(':')
	b.WriteString(string(p.Type()))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(p.Seq, 10))
	switch c := p.Content.(type) {
	case proto.ReasoningContent:
		span(b, c.StartedAt, c.FinishedAt)
	case proto.ToolContent:
		span(b, c.State.StartedAt, c.State.FinishedAt)
		b.WriteByte(':')
		b.WriteString(string(c.State.Status))
	}
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(len(p.Text())))
}

func span(b *strings.Builder, start, end int64) {
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(start, 10))
	b.WriteByte('-')
	b.WriteString(strconv.FormatInt(end, 10))
}

func sep(b *strings.Builder) {
	b.WriteByte('\x1f')
}
