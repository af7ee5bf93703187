// Package messaging delivers progression events after their transaction
// commits. Delivery is best-effort: a failing subscriber or broker never
// undoes a committed change.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/redmansion/progression-engine/internal/domain/shared"
	"github.com/redmansion/progression-engine/pkg/logger"
)

var (
	// ErrEventBusClosed is returned after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNilEvent is returned when publishing a nil event.
	ErrNilEvent = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus fans events out to in-process subscribers.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	asyncMode   bool
	workerPool  chan struct{}
	log         *logger.Logger
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on a bounded worker pool instead of inline.
	AsyncMode bool

	// WorkerPoolSize bounds concurrent handlers in async mode.
	WorkerPoolSize int

	Logger *logger.Logger
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}

	return &InMemoryEventBus{
		handlers:   make(map[shared.EventType][]shared.EventHandler),
		asyncMode:  config.AsyncMode,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		log:        config.Logger.With(logger.Component("event_bus")),
		closeCh:    make(chan struct{}),
	}
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// SubscribeAll registers a handler for all events.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}
	b.allHandlers = append(b.allHandlers, handler)
	return nil
}

// Publish sends an event to all subscribed handlers. Handler errors are
// logged, never returned.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if b.asyncMode {
			b.executeAsync(event, handler)
			continue
		}
		if err := b.execute(event, handler); err != nil {
			b.log.Error("event handler failed",
				logger.String("event_type", string(event.EventType())),
				logger.UserID(event.AggregateID()),
				logger.Err(err),
			)
		}
	}
	return nil
}

func (b *InMemoryEventBus) executeAsync(event shared.Event, handler shared.EventHandler) {
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()

		select {
		case b.workerPool <- struct{}{}:
			defer func() { <-b.workerPool }()
		case <-b.closeCh:
			return
		}

		start := time.Now()
		if err := b.execute(event, handler); err != nil {
			b.log.Error("async event handler failed",
				logger.String("event_type", string(event.EventType())),
				logger.UserID(event.AggregateID()),
				logger.Latency(time.Since(start)),
				logger.Err(err),
			)
		}
	}()
}

// execute runs one handler and turns a panic into an error.
func (b *InMemoryEventBus) execute(event shared.Event, handler shared.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panic recovered",
				logger.String("event_type", string(event.EventType())),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(event)
}

// Close stops accepting events and waits for in-flight handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	close(b.closeCh)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS PUBLISHER
// ══════════════════════════════════════════════════════════════════════════════

// ChannelPublisher is the broker side of RedisPublisher.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

// RedisPublisher sends every event as a shared.EventEnvelope to a Redis
// channel and then to the local bus, if any.
type RedisPublisher struct {
	client  ChannelPublisher
	channel string
	local   shared.EventPublisher
	timeout time.Duration
	log     *logger.Logger
}

// RedisPublisherConfig contains configuration for RedisPublisher.
type RedisPublisherConfig struct {
	Client  ChannelPublisher
	Channel string

	// Local receives every event after the broker publish. Optional.
	Local shared.EventPublisher

	// Timeout bounds one broker publish.
	Timeout time.Duration

	Logger *logger.Logger
}

// NewRedisPublisher creates a new RedisPublisher.
func NewRedisPublisher(config RedisPublisherConfig) (*RedisPublisher, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Channel == "" {
		config.Channel = "progression:events"
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	return &RedisPublisher{
		client:  config.Client,
		channel: config.Channel,
		local:   config.Local,
		timeout: config.Timeout,
		log:     config.Logger.With(logger.Component("redis_publisher")),
	}, nil
}

// Publish implements shared.EventPublisher. A broker failure is returned
// only after local delivery has been attempted.
func (p *RedisPublisher) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	envelope, err := NewEnvelope(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	brokerErr := p.client.Publish(ctx, p.channel, envelope)
	if brokerErr != nil {
		p.log.Warn("failed to publish event to redis",
			logger.String("event_type", string(event.EventType())),
			logger.UserID(event.AggregateID()),
			logger.Err(brokerErr),
		)
		brokerErr = fmt.Errorf("redis publish: %w", brokerErr)
	}

	if p.local != nil {
		if err := p.local.Publish(event); err != nil {
			return errors.Join(brokerErr, err)
		}
	}
	return brokerErr
}

// NewEnvelope wraps event for transport.
func NewEnvelope(event shared.Event) (shared.EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return shared.EventEnvelope{}, fmt.Errorf("marshal event payload: %w", err)
	}

	env := shared.EventEnvelope{
		ID:          uuid.NewString(),
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if c, ok := event.(interface{ Correlation() string }); ok {
		env.CorrelationID = c.Correlation()
	}
	return env, nil
}
