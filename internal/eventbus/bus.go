// Package eventbus queues button events between the input poller goroutine
// and the scheduling loop. Handlers always run on the goroutine that calls
// Dispatch, so they may touch loop-owned state without locking.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/flickerd/internal/input"
)

// DefaultQueueSize bounds the number of undispatched events.
const DefaultQueueSize = 64

// Handler handles one event.
type Handler func(input.Event)

// Bus routes events to per-button handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[input.Button][]Handler
	any      []Handler

	queue chan input.Event

	// Closing this channel signals publishers to stop.
	closing   chan struct{}
	closeOnce sync.Once

	dropped atomic.Uint64
	onDrop  func(input.Event)
}

// New creates a bus with the default queue size.
func New() *Bus {
	return NewWithSize(DefaultQueueSize)
}

// NewWithSize creates a bus holding at most queueSize pending events.
func NewWithSize(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	log.Debug().Int("queue_size", queueSize).Msg("Event bus created")
	return &Bus{
		handlers: make(map[input.Button][]Handler),
		queue:    make(chan input.Event, queueSize),
		closing:  make(chan struct{}),
	}
}

// Subscribe registers a handler for events of one button.
func (b *Bus) Subscribe(button input.Button, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[button] = append(b.handlers[button], handler)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.any = append(b.any, handler)
}

// OnDrop sets a callback run for every dropped event. Set it before
// publishing starts.
func (b *Bus) OnDrop(fn func(input.Event)) {
	b.onDrop = fn
}

// Publish queues an event. It never blocks: when the queue is full or the
// bus is closing the event is dropped and false is returned.
func (b *Bus) Publish(ev input.Event) bool {
	select {
	case <-b.closing:
		log.Warn().Str("event", ev.String()).Msg("Event bus closing, dropping event")
		b.drop(ev)
		return false
	default:
	}

	select {
	case b.queue <- ev:
		return true
	default:
		log.Warn().Str("event", ev.String()).Msg("Event bus queue full, dropping event")
		b.drop(ev)
		return false
	}
}

func (b *Bus) drop(ev input.Event) {
	b.dropped.Add(1)
	if b.onDrop != nil {
		b.onDrop(ev)
	}
}

// Dispatch delivers up to limit queued events (all pending ones if limit <= 0)
// on the calling goroutine and returns how many were delivered.
func (b *Bus) Dispatch(limit int) int {
	n := 0
	for limit <= 0 || n < limit {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
			n++
		default:
			return n
		}
	}
	return n
}

func (b *Bus) deliver(ev input.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[ev.Button])+len(b.any))
	handlers = append(handlers, b.handlers[ev.Button]...)
	handlers = append(handlers, b.any...)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event", ev.String()).
						Msg("Event handler panicked")
				}
			}()
			h(ev)
		}()
	}
}

// Pending is the number of queued events.
func (b *Bus) Pending() int {
	return len(b.queue)
}

// Dropped is the number of events dropped so far.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events. Pending events can still be dispatched.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.closing)
	})
}
