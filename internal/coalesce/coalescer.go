// Package coalesce buffers rapid-fire update events for a short window and
// collapses repeated updates to the same logical target, so downstream state
// is touched at most ~60 times a second no matter how fast events arrive.
package coalesce

import (
	"sync"
	"time"

	"github.com/charmbracelet/weft/internal/proto"
)

// DefaultWindow matches one frame at 60fps.
const DefaultWindow = 16 * time.Millisecond

// state machine: empty -> buffering (flush scheduled) -> flushing -> empty.
type state int

const (
	stateEmpty state = iota
	stateBuffering
	stateFlushing
)

// Coalescer queues events and flushes them in arrival order after a fixed
// window. Two events sharing a coalesce key within one window collapse to
// the most recent, applied at the earlier event's queue position being
// vacated and the later one kept; events with distinct keys never reorder
// relative to each other.
type Coalescer struct {
	mu     sync.Mutex
	window time.Duration
	sched  Scheduler
	flush  func([]proto.UpdateEvent)

	queue  []*proto.UpdateEvent
	keyed  map[string]int
	timer  Timer
	state  state
	closed bool
}

// New returns a coalescer that delivers each flushed batch to flush. The
// batch callback runs on the scheduler's timer goroutine, outside the
// coalescer's lock.
func New(window time.Duration, sched Scheduler, flush func([]proto.UpdateEvent)) *Coalescer {
	if window <= 0 {
		window = DefaultWindow
	}
	if sched == nil {
		sched = WallClock()
	}
	return &Coalescer{
		window: window,
		sched:  sched,
		flush:  flush,
		keyed:  make(map[string]int),
	}
}

// Offer enqueues an event. If the event's coalesce key already has a queued
// slot, that slot is vacated and the new event appended, so only the most
// recent survives the window. The first event into an empty queue schedules
// the flush; later arrivals within the window do not reschedule it.
func (c *Coalescer) Offer(ev proto.UpdateEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if key := ev.CoalesceKey(); key != "" {
		if idx, ok := c.keyed[key]; ok {
			c.queue[idx] = nil
		}
		c.keyed[key] = len(c.queue)
	}
	c.queue = append(c.queue, &ev)

	if c.state == stateEmpty {
		c.state = stateBuffering
		c.timer = c.sched.AfterFunc(c.window, c.onTimer)
	}
}

func (c *Coalescer) onTimer() {
	c.mu.Lock()
	if c.closed || c.state != stateBuffering {
		c.mu.Unlock()
		return
	}
	c.state = stateFlushing
	queue := c.queue
	c.queue = nil
	c.keyed = make(map[string]int)
	c.timer = nil
	c.mu.Unlock()

	batch := make([]proto.UpdateEvent, 0, len(queue))
	for _, ev := range queue {
		if ev == nil {
			continue
		}
		batch = append(batch, *ev)
	}
	if len(batch) > 0 && c.flush != nil {
		c.flush(batch)
	}

	c.mu.Lock()
	if c.state == stateFlushing {
		c.state = stateEmpty
		// Events offered during the flush start a fresh window.
		if len(c.queue) > 0 && !c.closed {
			c.state = stateBuffering
			c.timer = c.sched.AfterFunc(c.window, c.onTimer)
		}
	}
	c.mu.Unlock()
}

// Pending returns the number of occupied queue slots.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.queue {
		if ev != nil {
			n++
		}
	}
	return n
}

// Close stops the pending timer and discards any buffered events. A closed
// coalescer must never mutate a disposed store, so buffered events are
// dropped rather than flushed.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.queue = nil
	c.keyed = nil
	c.state = stateEmpty
}
