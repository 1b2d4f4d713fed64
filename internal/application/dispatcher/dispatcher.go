package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/spend-reconciliation/internal/domain/event"
)

// Dispatcher routes reconciliation events to registered handlers
type Dispatcher interface {
	// Subscribe registers a handler for an event type
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler with a name for debugging
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// SubscribeAll registers a handler that receives every event type
	SubscribeAll(name string, handler Handler)

	// Dispatch sends event to all registered handlers synchronously.
	// Returns the first error encountered (handlers run in order).
	Dispatch(ctx context.Context, evt *event.Event) error

	// Publish sends event to handlers asynchronously, without waiting
	Publish(ctx context.Context, evt *event.Event)

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close shuts down the dispatcher and waits for async handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	wildcard []HandlerInfo
	logger   Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]HandlerInfo),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Subscribe registers a handler for an event type with an auto-generated name
func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.mu.RLock()
	name := fmt.Sprintf("%s-%d", eventType, len(d.handlers[eventType]))
	d.mu.RUnlock()

	d.SubscribeNamed(eventType, name, handler)
}

// SubscribeNamed registers a handler with a specific name
func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("Handler registered", "event_type", eventType, "handler_name", name)
	}
}

// SubscribeAll registers a handler that runs after the typed handlers of every event
func (d *eventDispatcher) SubscribeAll(name string, handler Handler) {
	d.mu.Lock()
	d.wildcard = append(d.wildcard, HandlerInfo{Name: name, Handler: handler})
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("Wildcard handler registered", "handler_name", name)
	}
}

func (d *eventDispatcher) handlersFor(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	typed := d.handlers[eventType]
	all := make([]HandlerInfo, 0, len(typed)+len(d.wildcard))
	all = append(all, typed...)
	return append(all, d.wildcard...)
}

// Dispatch sends event to all registered handlers synchronously
func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	for _, info := range d.handlersFor(evt.Type) {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			if d.logger != nil {
				d.logger.Error("Handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", info.Name,
					"error", err,
				)
			}
			return fmt.Errorf("handler %s failed: %w", info.Name, err)
		}
	}

	return nil
}

// Publish sends event to handlers asynchronously. Handlers get a context
// detached from the caller's cancellation since publishing happens after commit.
func (d *eventDispatcher) Publish(ctx context.Context, evt *event.Event) {
	if d.closed.Load() {
		if d.logger != nil {
			d.logger.Error("Cannot publish event, dispatcher is closed",
				"event_type", evt.Type,
				"event_id", evt.ID,
			)
		}
		return
	}

	hctx := context.WithoutCancel(ctx)
	for _, info := range d.handlersFor(evt.Type) {
		d.wg.Add(1)
		go func(h HandlerInfo) {
			defer d.wg.Done()

			if err := d.safeExecute(hctx, evt, h); err != nil && d.logger != nil {
				d.logger.Error("Async handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", h.Name,
					"error", err,
				)
			}
		}(info)
	}
}

// ListHandlers returns registered handlers for an event type, without their funcs
func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[eventType]
	result := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		result[i] = HandlerInfo{
			Name:        h.Name,
			EventType:   h.EventType,
			Description: h.Description,
		}
	}

	return result
}

// Close shuts down the dispatcher and waits for async handlers to complete
func (d *eventDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}

	d.wg.Wait()

	if d.logger != nil {
		d.logger.Info("Dispatcher closed")
	}

	return nil
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			if d.logger != nil {
				d.logger.Error("Handler panic recovered",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", info.Name,
					"panic", r,
				)
			}
		}
	}()

	return info.Handler(ctx, evt)
}
