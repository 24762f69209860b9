package engine

import (
	"context"
	"log/slog"

	"github.com/charmbracelet/weft/internal/log"
	"github.com/charmbracelet/weft/internal/proto"
	"github.com/charmbracelet/weft/internal/pubsub"
	"github.com/charmbracelet/weft/internal/retry"
)

// Loader is the transport collaborator the engine bootstraps workspaces
// from. Calls are wrapped in bounded retries; implementations just issue
// the request.
type Loader interface {
	LoadSessions(ctx context.Context, directory string) ([]proto.Session, error)
	LoadMessages(ctx context.Context, directory, sessionID string) ([]proto.Message, []proto.Part, error)
}

func (e *Engine) retryOptions() retry.Options {
	opts := retry.DefaultOptions()
	if e.cfg.RetryAttempts > 0 {
		opts.Attempts = e.cfg.RetryAttempts
	}
	if e.cfg.RetryDelay > 0 {
		opts.Delay = e.cfg.RetryDelay
	}
	return opts
}

// bootstrap hydrates a freshly opened workspace from the server. Failures
// degrade to whatever the restored snapshot already held; the booting flag
// is always cleared so the store can eventually be evicted.
func (e *Engine) bootstrap(ctx context.Context, directory string) {
	defer log.RecoverPanic("bootstrap", nil)
	defer e.finishBootstrap(directory)

	sessions, err := retry.Do(ctx, e.retryOptions(), func(ctx context.Context) ([]proto.Session, error) {
		return e.loader.LoadSessions(ctx, directory)
	})
	if err != nil {
		slog.Error("Workspace bootstrap failed", "directory", directory, "error", err)
		return
	}

	e.mu.Lock()
	st, _ := e.workspaces.Child(directory)
	for _, session := range sessions {
		st.UpsertSession(session)
	}
	e.mu.Unlock()

	e.workspaces.SetLoadingSessions(directory, true)
	defer e.workspaces.SetLoadingSessions(directory, false)

	type sessionPayload struct {
		messages []proto.Message
		parts    []proto.Part
	}
	for _, session := range sessions {
		payload, err := retry.Do(ctx, e.retryOptions(), func(ctx context.Context) (sessionPayload, error) {
			m, p, err := e.loader.LoadMessages(ctx, directory, session.ID)
			return sessionPayload{messages: m, parts: p}, err
		})
		if err != nil {
			slog.Error("Session load failed", "directory", directory, "session_id", session.ID, "error", err)
			continue
		}

		e.mu.Lock()
		st, _ := e.workspaces.Child(directory)
		for _, m := range payload.messages {
			st.UpsertMessage(m)
		}
		for _, p := range payload.parts {
			st.UpsertPart(p)
		}
		e.mu.Unlock()

		e.broker.Publish(pubsub.UpdatedEvent, Change{Directory: directory, SessionID: session.ID})
	}
}
