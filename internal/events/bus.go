package events

import (
	"log"
	"sync"
)

// Handler is a function that handles events.
type Handler func(Event)

// eventBuffer bounds the publish queue and every fan-out channel.
const eventBuffer = 100

// Bus is a goroutine-safe event bus. Every published event reaches
// every subscribed handler and every channel handed out by Channel;
// consumers never steal events from one another.
type Bus struct {
	mu       sync.Mutex
	handlers []Handler
	chans    []chan Event
	closed   bool

	in   chan Event
	done chan struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	b := &Bus{
		in:   make(chan Event, eventBuffer), // Buffer to prevent blocking publishers
		done: make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	for {
		select {
		case event := <-b.in:
			b.dispatch(event)
		case <-b.done:
			b.mu.Lock()
			chans := b.chans
			b.chans = nil
			b.mu.Unlock()
			for _, ch := range chans {
				close(ch)
			}
			return
		}
	}
}

// dispatch delivers one event to every handler, then to every fan-out
// channel. A full channel drops just its own copy.
func (b *Bus) dispatch(event Event) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	chans := make([]chan Event, len(b.chans))
	copy(chans, b.chans)
	b.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			h(event)
		}
	}
	for _, ch := range chans {
		select {
		case ch <- event:
		default:
			log.Printf("events: channel consumer lagging, dropping event type=%s", event.Type())
		}
	}
}

// Subscribe registers a handler to receive events.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	idx := len(b.handlers) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		// Mark as nil rather than removing to preserve indices
		if idx < len(b.handlers) {
			b.handlers[idx] = nil
		}
	}
}

// Channel returns a channel receiving its own copy of every event.
// Useful for Bubble Tea integration alongside Subscribe consumers. The
// channel is closed when the bus closes.
func (b *Bus) Channel() <-chan Event {
	ch := make(chan Event, eventBuffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.chans = append(b.chans, ch)
	b.mu.Unlock()
	return ch
}

// Publish sends an event to all consumers.
// This is non-blocking due to the buffered queue.
func (b *Bus) Publish(event Event) {
	select {
	case b.in <- event:
	default:
		// Queue full, drop event (should be rare with buffer)
		log.Printf("events: dropping event type=%s", event.Type())
	}
}

// Close shuts down the event bus and closes every fan-out channel.
// Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.done)
}
