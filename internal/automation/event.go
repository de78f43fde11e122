package automation

import (
	"context"
	"fmt"
	"sync"

	"github.com/spooni01/ha-automation-of-todo/internal/events"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
	"github.com/spooni01/ha-automation-of-todo/internal/telemetry"
)

// StateEventHandler processes one state change. A returned error is logged
// by the bus; it never stops delivery of later events.
type StateEventHandler func(ctx context.Context, event *events.StateChangedEvent) error

// BusOption configures a StateEventBus.
type BusOption func(*StateEventBus)

// WithBufferSize sets the event channel capacity. Values below 1 keep the
// default.
func WithBufferSize(n int) BusOption {
	return func(b *StateEventBus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithDropHook registers fn to run whenever an event is dropped because the
// buffer is full.
func WithDropHook(fn func()) BusOption {
	return func(b *StateEventBus) {
		b.onDrop = fn
	}
}

// WithReporter sends handler errors and panics to r.
func WithReporter(r telemetry.Reporter) BusOption {
	return func(b *StateEventBus) {
		if r != nil {
			b.reporter = r
		}
	}
}

// StateEventBus delivers state changes to handlers from a single worker
// goroutine, so handler invocations never overlap. Publish never blocks the
// event source.
type StateEventBus struct {
	handlers   []StateEventHandler
	mu         sync.RWMutex
	bufferSize int
	eventCh    chan *events.StateChangedEvent
	stopCh     chan struct{}
	doneCh     chan struct{}
	stopOnce   sync.Once
	onDrop     func()
	reporter   telemetry.Reporter
	log        logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStateEventBus creates a bus and starts its worker.
func NewStateEventBus(log logger.Logger, opts ...BusOption) *StateEventBus {
	b := &StateEventBus{
		bufferSize: defaultBusBufferSize,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		reporter:   telemetry.Nop(),
		log:        log,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.eventCh = make(chan *events.StateChangedEvent, b.bufferSize)
	b.ctx, b.cancel = context.WithCancel(context.Background())
	go b.processLoop()
	return b
}

// Subscribe registers a handler.
func (b *StateEventBus) Subscribe(handler StateEventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues event and reports whether it was accepted. Events are
// dropped when the buffer is full or the bus is stopped.
func (b *StateEventBus) Publish(event *events.StateChangedEvent) bool {
	if event == nil {
		return false
	}
	// Stop closes stopCh under the write lock, so an accepted event is
	// always in eventCh before the worker drains it.
	b.mu.RLock()
	defer b.mu.RUnlock()
	select {
	case <-b.stopCh:
		return false
	default:
	}

	select {
	case b.eventCh <- event:
		return true
	default:
		b.log.Warn("state event dropped, bus buffer full",
			logger.String("entity_id", event.EntityID),
			logger.Int("buffer_size", b.bufferSize))
		if b.onDrop != nil {
			b.onDrop()
		}
		return false
	}
}

// Stop stops accepting events, waits for queued events to be handled and
// then cancels the handler context. Safe to call multiple times.
func (b *StateEventBus) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		close(b.stopCh)
		b.mu.Unlock()
	})
	<-b.doneCh
	b.cancel()
}

func (b *StateEventBus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *StateEventBus) dispatch(event *events.StateChangedEvent) {
	b.mu.RLock()
	handlers := make([]StateEventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := b.safeCall(handler, event); err != nil {
			b.log.Error("state event handler failed",
				logger.String("entity_id", event.EntityID),
				logger.Error(err))
			b.reporter.CaptureError(err, map[string]string{"entity_id": event.EntityID})
		}
	}
}

// safeCall turns a handler panic into an error so the worker survives.
func (b *StateEventBus) safeCall(handler StateEventHandler, event *events.StateChangedEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("state event handler panicked: %v", r)
		}
	}()
	return handler(b.ctx, event)
}
