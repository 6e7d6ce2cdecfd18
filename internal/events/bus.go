package events

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// subscriberBuffer is the per-subscriber channel depth. A subscriber
	// that falls this far behind starts losing events instead of blocking
	// the workflow.
	subscriberBuffer = 50

	// DefaultRecentLimit is how many events the bus retains for replay.
	DefaultRecentLimit = 100
)

// Bus fans events out to subscribers and keeps a bounded history for
// late joiners. Emitters never block: a full subscriber channel drops
// events for that subscriber only.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	recent []Event
	limit  int
	closed bool

	sequence atomic.Uint64
	dropped  atomic.Uint64
}

// subscriber pairs a delivery channel with its run filter. An empty
// runID receives events from every run.
type subscriber struct {
	ch    chan Event
	runID string
}

// NewBus creates a bus retaining DefaultRecentLimit events.
func NewBus() *Bus {
	return &Bus{limit: DefaultRecentLimit}
}

// SetRecentLimit changes how many events are retained for replay.
// Values below one are ignored.
func (b *Bus) SetRecentLimit(n int) {
	if n < 1 {
		return
	}
	b.mu.Lock()
	b.limit = n
	if len(b.recent) > n {
		b.recent = append([]Event(nil), b.recent[len(b.recent)-n:]...)
	}
	b.mu.Unlock()
}

// Subscribe returns a channel receiving events for runID, or for all runs
// when runID is empty. The channel is buffered so emitters never block.
func (b *Bus) Subscribe(runID string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subs = append(b.subs, &subscriber{ch: ch, runID: runID})
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	if ch == nil {
		return
	}
	target := reflect.ValueOf(ch).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if reflect.ValueOf(sub.ch).Pointer() == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			break
		}
	}
}

// Emit stamps the event with a sequence number and timestamp, records it
// in the replay buffer and dispatches it. Safe to call from any goroutine.
func (b *Bus) Emit(event Event) {
	event.ID = b.sequence.Add(1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.recent) == b.limit {
		copy(b.recent, b.recent[1:])
		b.recent = b.recent[:b.limit-1]
	}
	b.recent = append(b.recent, event)

	for _, sub := range b.subs {
		if sub.runID != "" && sub.runID != event.RunID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	b.mu.Unlock()
}

// Recent returns up to n retained events, oldest first. A non-empty runID
// restricts the result to that run. n below one means no limit.
func (b *Bus) Recent(n int, runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, e := range b.recent {
		if runID != "" && e.RunID != runID {
			continue
		}
		out = append(out, e)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Close shuts the bus down and closes every subscriber channel. Emit and
// Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}

// Stats reports bus counters for diagnostics.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BusStats{
		Subscribers:  len(b.subs),
		Retained:     len(b.recent),
		TotalEmitted: b.sequence.Load(),
		Dropped:      b.dropped.Load(),
	}
}

// BusStats holds bus counters.
type BusStats struct {
	Subscribers  int
	Retained     int
	TotalEmitted uint64
	Dropped      uint64
}
