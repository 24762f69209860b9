package engine

import (
	"log/slog"

	"github.com/charmbracelet/weft/internal/coalesce"
	"github.com/charmbracelet/weft/internal/optimistic"
	"github.com/charmbracelet/weft/internal/proto"
	"github.com/charmbracelet/weft/internal/pubsub"
	"github.com/charmbracelet/weft/internal/store"
)

// HandleEvent feeds one transport event into the directory's coalescing
// buffer. Events with no usable identity are logged and dropped here; one
// bad event never blocks the queue.
func (e *Engine) HandleEvent(ev proto.UpdateEvent) {
	if ev.Type == "" || ev.Directory == "" {
		slog.Warn("Dropping unidentifiable update event", "type", ev.Type, "directory", ev.Directory)
		return
	}
	e.coalescerFor(ev.Directory).Offer(ev)
}

func (e *Engine) coalescerFor(directory string) *coalesce.Coalescer {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.coalescers[directory]
	if !ok {
		c = coalesce.New(e.cfg.CoalesceWindow, e.sched, func(batch []proto.UpdateEvent) {
			e.applyBatch(directory, batch)
		})
		e.coalescers[directory] = c
	}
	return c
}

// applyBatch applies one flushed window of events to the directory's store
// in arrival order, then announces each touched session once.
func (e *Engine) applyBatch(directory string, batch []proto.UpdateEvent) {
	e.mu.Lock()
	st, _ := e.workspaces.Child(directory)
	recon := e.reconcilerFor(directory, st)

	touched := make(map[string]struct{})
	for _, ev := range batch {
		sessionID, ok := apply(st, recon, ev, e.now())
		if ok && sessionID != "" {
			touched[sessionID] = struct{}{}
		}
	}
	e.mu.Unlock()

	for sessionID := range touched {
		e.broker.Publish(pubsub.UpdatedEvent, Change{Directory: directory, SessionID: sessionID})
	}
}

// apply routes a single event into the store. Malformed events are logged
// and skipped; missing references resolve by silent omission.
func apply(st *store.Store, recon *optimistic.Reconciler, ev proto.UpdateEvent, now int64) (string, bool) {
	switch ev.Type {
	case proto.EventMessageUpdated:
		if ev.Message == nil {
			return malformed(ev)
		}
		recon.Observe(ev)
		st.UpsertMessage(*ev.Message)
		return ev.Message.SessionID, true

	case proto.EventPartUpdated:
		if ev.MessageID == "" || ev.PartID == "" {
			return malformed(ev)
		}
		if ev.Delta != "" {
			var seq int64
			if ev.Part != nil {
				seq = ev.Part.Seq
			}
			if !st.AppendPartDelta(ev.MessageID, ev.PartID, ev.Delta, seq, now) && ev.Part != nil {
				// First delta for a part we have not seen yet: seed the
				// part with the delta already applied so no text is lost.
				p := *ev.Part
				if p.Content == nil {
					p.Content = proto.TextContent{}
				}
				p.AppendDelta(ev.Delta)
				p.UpdatedAt = now
				st.UpsertPart(p)
			}
			return ev.SessionID, true
		}
		if ev.Part == nil {
			return malformed(ev)
		}
		st.UpsertPart(*ev.Part)
		return ev.SessionID, true

	case proto.EventPartRemoved:
		if ev.MessageID == "" || ev.PartID == "" {
			return malformed(ev)
		}
		st.RemovePart(ev.MessageID, ev.PartID)
		return ev.SessionID, true

	case proto.EventSessionUpdated:
		if ev.Session == nil {
			return malformed(ev)
		}
		st.UpsertSession(*ev.Session)
		return ev.Session.ID, true

	case proto.EventSessionDeleted:
		if ev.SessionID == "" {
			return malformed(ev)
		}
		st.RemoveSession(ev.SessionID)
		return ev.SessionID, true

	case proto.EventSessionStatus:
		if ev.SessionID == "" || ev.Status == nil {
			return malformed(ev)
		}
		st.SetStatus(ev.SessionID, *ev.Status)
		return ev.SessionID, true

	case proto.EventPermissionAsked, proto.EventQuestionAsked:
		if ev.Request == nil {
			return malformed(ev)
		}
		req := *ev.Request
		if req.Kind == "" {
			req.Kind = proto.RequestPermission
			if ev.Type == proto.EventQuestionAsked {
				req.Kind = proto.RequestQuestion
			}
		}
		if req.Status == "" {
			req.Status = proto.RequestPending
		}
		st.UpsertRequest(req)
		return req.SessionID, true

	case proto.EventPermissionReplied, proto.EventQuestionReplied:
		id := ev.RequestID
		if id == "" && ev.Request != nil {
			id = ev.Request.ID
		}
		if id == "" {
			return malformed(ev)
		}
		st.AnswerRequest(id)
		return ev.SessionID, true

	default:
		slog.Warn("Dropping unknown update event", "type", ev.Type)
		return "", false
	}
}

func malformed(ev proto.UpdateEvent) (string, bool) {
	slog.Warn("Dropping malformed update event",
		"type", ev.Type,
		"session_id", ev.SessionID,
		"message_id", ev.MessageID,
		"part_id", ev.PartID,
	)
	return "", false
}
