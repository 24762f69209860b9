package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/charmbracelet/weft/internal/proto"
)

// Handler consumes update events from the server stream. The engine
// satisfies it.
type Handler interface {
	HandleEvent(proto.UpdateEvent)
}

// Stream subscribes to the server's update-event stream and delivers every
// decoded event to h until ctx is done or the stream ends. Undecodable lines
// are logged and skipped; one bad event never ends the stream.
func (c *Client) Stream(ctx context.Context, h Handler) error {
	rsp, err := c.get(ctx, "/events", nil, http.Header{
		"Accept":        []string{"text/event-stream"},
		"Cache-Control": []string{"no-cache"},
		"Connection":    []string{"keep-alive"},
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to subscribe to events: status code %d", rsp.StatusCode)
	}

	scr := bufio.NewReader(rsp.Body)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := scr.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			slog.Error("reading from events stream", "error", err)
			time.Sleep(2 * time.Second)
			continue
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			// End of an event
			continue
		}

		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			slog.Warn("invalid event format", "line", string(line))
			continue
		}

		var event proto.UpdateEvent
		if err := json.Unmarshal(bytes.TrimSpace(data), &event); err != nil {
			slog.Error("unmarshaling event", "error", err)
			continue
		}
		h.HandleEvent(event)
	}
}
