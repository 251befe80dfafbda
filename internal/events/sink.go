package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Sink accepts outbound events. Publish is fire-and-forget from the
// domain's point of view: errors are counted and logged, never retried.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Named is a sink with a label for logs and metrics.
type Named struct {
	Name string
	Sink Sink
	// Types restricts the sink to some event types; empty means all.
	Types []Type
}

func (n Named) accepts(t Type) bool {
	if len(n.Types) == 0 {
		return true
	}
	for _, x := range n.Types {
		if x == t {
			return true
		}
	}
	return false
}

// Observer is told the outcome of each delivery.
type Observer func(sink string, err error)

// MultiSink delivers each event to every accepting sink in order.
type MultiSink struct {
	sinks    []Named
	observer Observer
}

// NewMultiSink returns a fan-out over sinks. observer may be nil.
func NewMultiSink(observer Observer, sinks ...Named) *MultiSink {
	return &MultiSink{sinks: sinks, observer: observer}
}

// Publish sends ev to every accepting sink and joins their errors.
func (m *MultiSink) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m.sinks {
		if !s.accepts(ev.Type) {
			continue
		}
		err := s.Sink.Publish(ctx, ev)
		if m.observer != nil {
			m.observer(s.Name, err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Hub fans events out to in-process subscribers such as websocket and gRPC
// streams. A subscriber that falls behind loses events rather than
// blocking the publisher.
type Hub struct {
	buffer int

	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

// NewHub returns a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{buffer: buffer, subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish offers ev to every subscriber without blocking.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}
