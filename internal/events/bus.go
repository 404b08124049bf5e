package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultQueueSize is the number of finished events the bus buffers before
// Publish starts dropping.
const DefaultQueueSize = 1024

// HandlerFunc consumes a finished Event.
type HandlerFunc func(ctx context.Context, event Event) error

// ErrorHook is told about every handler failure.
type ErrorHook func(handler string, err error)

// Bus hands finished Events from connection goroutines to exporters.
// Publish never blocks: connection teardown must not wait on export.
// A single dispatcher drains the queue and runs every handler for an
// event in its own goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers []handlerEntry
	queue    chan Event
	stopped  bool
	started  bool
	onError  ErrorHook

	ctx    context.Context
	cancel context.CancelFunc

	dispatchDone chan struct{}
	wg           sync.WaitGroup
	dropped      atomic.Uint64
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewBus creates a bus with the given queue capacity.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		queue:        make(chan Event, queueSize),
		ctx:          ctx,
		cancel:       cancel,
		dispatchDone: make(chan struct{}),
	}
}

// Subscribe registers a handler. The name is used for logging.
func (b *Bus) Subscribe(name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = append(b.handlers, handlerEntry{name: name, handler: handler})

	log.Debug().Str("handler", name).Msg("subscribed to capture events")
}

// Unsubscribe removes a named handler.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	filtered := make([]handlerEntry, 0, len(b.handlers))
	for _, h := range b.handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	b.handlers = filtered
}

// OnError installs a hook called whenever a handler returns an error or panics.
func (b *Bus) OnError(hook ErrorHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = hook
}

// HandlerCount returns the number of registered handlers.
func (b *Bus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Start launches the dispatcher. Calling it twice is a no-op.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return
	}
	b.started = true
	go b.dispatch()
}

// Publish queues an event for export. It returns false if the bus is
// stopped or the queue is full; the event is dropped in that case.
func (b *Bus) Publish(event Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		b.dropped.Add(1)
		return false
	}

	select {
	case b.queue <- event:
		return true
	default:
		b.dropped.Add(1)
		log.Warn().
			Str("session", event.ID).
			Int("queue", cap(b.queue)).
			Msg("capture queue full, dropping event")
		return false
	}
}

// Dropped returns how many events were not accepted by Publish.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Pending returns the number of queued events not yet dispatched.
func (b *Bus) Pending() int {
	return len(b.queue)
}

func (b *Bus) dispatch() {
	defer close(b.dispatchDone)

	for event := range b.queue {
		b.mu.RLock()
		handlers := make([]handlerEntry, len(b.handlers))
		copy(handlers, b.handlers)
		b.mu.RUnlock()

		log.Trace().
			Str("session", event.ID).
			Int("handlers", len(handlers)).
			Msg("dispatching capture event")

		for _, h := range handlers {
			b.wg.Add(1)
			go b.run(h, event)
		}
	}
}

func (b *Bus) run(h handlerEntry, event Event) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("handler", h.name).
				Str("session", event.ID).
				Interface("panic", r).
				Msg("handler panicked")
			b.reportError(h.name, nil)
		}
	}()

	if err := h.handler(b.ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("handler", h.name).
			Str("session", event.ID).
			Msg("handler returned error")
		b.reportError(h.name, err)
	}
}

func (b *Bus) reportError(name string, err error) {
	b.mu.RLock()
	hook := b.onError
	b.mu.RUnlock()
	if hook != nil {
		hook(name, err)
	}
}

// Stop refuses new events, drains the queue and waits up to timeout for
// running handlers. Handlers still running after that see their context
// cancelled.
func (b *Bus) Stop(timeout time.Duration) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.queue)
	if !b.started {
		// Nothing will ever drain the queue otherwise.
		b.started = true
		go b.dispatch()
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-b.dispatchDone
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Uint64("dropped", b.Dropped()).Msg("capture bus stopped")
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("capture bus stop timed out, cancelling exporters")
	}
	b.cancel()
}
