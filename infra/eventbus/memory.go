package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/amirasaad/coopcredit/pkg/eventbus"
)

// MaxPublished bounds the events a MemoryEventBus remembers; older ones are dropped.
const MaxPublished = 1000

// MemoryEventBus dispatches events synchronously to handlers in the same process.
type MemoryEventBus struct {
	handlers  map[string][]eventbus.HandlerFunc
	mu        sync.RWMutex
	logger    *slog.Logger
	published []eventbus.Event
}

// NewWithMemory creates a new in-memory event bus.
func NewWithMemory(logger *slog.Logger) *MemoryEventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryEventBus{
		handlers:  make(map[string][]eventbus.HandlerFunc),
		logger:    logger.With("bus", "memory"),
		published: make([]eventbus.Event, 0),
	}
}

// Register registers a handler for a specific event type.
func (b *MemoryEventBus) Register(eventType string, handler eventbus.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit records the event, keeping the last MaxPublished, and runs every
// handler registered for its type. Handler errors are logged; they do not
// fail the emitter.
func (b *MemoryEventBus) Emit(ctx context.Context, event eventbus.Event) error {
	eventType := event.Type()
	b.mu.Lock()
	if len(b.published) >= MaxPublished {
		n := copy(b.published, b.published[len(b.published)-MaxPublished+1:])
		b.published = b.published[:n]
	}
	b.published = append(b.published, event)
	handlers := append([]eventbus.HandlerFunc(nil), b.handlers[eventType]...)
	b.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			b.logger.Error("handler error", "event_type", eventType, "error", err)
		}
	}
	return nil
}

// ClearPublished clears the list of published events.
func (b *MemoryEventBus) ClearPublished() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = make([]eventbus.Event, 0)
}

// Published returns a copy of the most recent events, oldest first.
func (b *MemoryEventBus) Published() []eventbus.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]eventbus.Event(nil), b.published...)
}

var _ eventbus.Bus = (*MemoryEventBus)(nil)

type queued struct {
	ctx   context.Context
	event eventbus.Event
}

// MemoryAsyncEventBus queues events and dispatches them on a background goroutine.
type MemoryAsyncEventBus struct {
	handlers map[string][]eventbus.HandlerFunc
	mu       sync.RWMutex
	eventCh  chan queued
	done     chan struct{}
	once     sync.Once
	log      *slog.Logger
}

// NewWithMemoryAsync creates an asynchronous in-memory event bus with a
// queue of the given size.
func NewWithMemoryAsync(logger *slog.Logger, size int) *MemoryAsyncEventBus {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 100
	}
	b := &MemoryAsyncEventBus{
		handlers: make(map[string][]eventbus.HandlerFunc),
		eventCh:  make(chan queued, size),
		done:     make(chan struct{}),
		log:      logger.With("bus", "memory-async"),
	}
	go b.process()
	return b
}

func (b *MemoryAsyncEventBus) Register(eventType string, handler eventbus.HandlerFunc) {
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
}

// Emit enqueues the event, waiting for room until ctx is done.
func (b *MemoryAsyncEventBus) Emit(ctx context.Context, event eventbus.Event) error {
	select {
	case b.eventCh <- queued{ctx: context.WithoutCancel(ctx), event: event}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for the queue to drain.
func (b *MemoryAsyncEventBus) Close() error {
	b.once.Do(func() { close(b.eventCh) })
	<-b.done
	return nil
}

func (b *MemoryAsyncEventBus) process() {
	defer close(b.done)
	for w := range b.eventCh {
		b.mu.RLock()
		handlers := append([]eventbus.HandlerFunc{}, b.handlers[w.event.Type()]...)
		b.mu.RUnlock()
		for _, handler := range handlers {
			func() {
				defer func() {
					if r := recover(); r != nil {
						b.log.Error("panic recovered in event handler", "type", w.event.Type(), "panic", r)
					}
				}()
				if err := handler(w.ctx, w.event); err != nil {
					b.log.Error("failed to process event", "type", w.event.Type(), "error", err)
				}
			}()
		}
	}
}

var _ eventbus.Bus = (*MemoryAsyncEventBus)(nil)
