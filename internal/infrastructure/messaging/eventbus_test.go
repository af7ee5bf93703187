package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmansion/progression-engine/internal/domain/shared"
)

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
	defer bus.Close()

	var levelUps, all int
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error {
		levelUps++
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		all++
		return errors.New("ignored")
	}))
	require.NoError(t, bus.Subscribe(shared.EventXPAwarded, func(shared.Event) error {
		panic("boom")
	}))

	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u-1", 0, 2, nil, nil)))
	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("u-1", 10, "reading", "chapter-1", "read", 10)))

	assert.Equal(t, 1, levelUps)
	assert.Equal(t, 2, all)
}

func TestInMemoryEventBus_AsyncDeliveryCompletesOnClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var delivered atomic.Int64
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		delivered.Add(1)
		return nil
	}))
	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(shared.NewWelcomeGrantedEvent("u-1", 100)))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int64(20), delivered.Load())
	assert.ErrorIs(t, bus.Publish(shared.NewWelcomeGrantedEvent("u-1", 100)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_Rejects(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

type fakeChannel struct {
	mu       sync.Mutex
	err      error
	channels []string
	messages []any
}

func (f *fakeChannel) Publish(_ context.Context, channel string, message any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, message)
	return f.err
}

func TestRedisPublisher_PublishesEnvelope(t *testing.T) {
	broker := &fakeChannel{}
	local := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
	defer local.Close()

	var localSeen int
	require.NoError(t, local.SubscribeAll(func(shared.Event) error {
		localSeen++
		return nil
	}))

	pub, err := NewRedisPublisher(RedisPublisherConfig{Client: broker, Local: local})
	require.NoError(t, err)

	ev := shared.NewXPAwardedEvent("u-1", 25, "reading", "chapter-3", "read", 125)
	ev.BaseEvent = ev.BaseEvent.WithCorrelationID("req-9")
	require.NoError(t, pub.Publish(ev))

	require.Len(t, broker.messages, 1)
	assert.Equal(t, "progression:events", broker.channels[0])

	env, ok := broker.messages[0].(shared.EventEnvelope)
	require.True(t, ok)
	assert.Equal(t, shared.EventXPAwarded, env.Type)
	assert.Equal(t, "u-1", env.AggregateID)
	assert.Equal(t, "req-9", env.CorrelationID)
	assert.NotEmpty(t, env.ID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "chapter-3", payload["source_id"])
	assert.Equal(t, 1, localSeen)
}

func TestRedisPublisher_BrokerFailureStillDeliversLocally(t *testing.T) {
	broker := &fakeChannel{err: errors.New("connection refused")}
	local := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
	defer local.Close()

	var localSeen int
	require.NoError(t, local.SubscribeAll(func(shared.Event) error {
		localSeen++
		return nil
	}))

	pub, err := NewRedisPublisher(RedisPublisherConfig{Client: broker, Local: local})
	require.NoError(t, err)

	err = pub.Publish(shared.NewLevelUpEvent("u-1", 1, 2, nil, nil))
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 1, localSeen)
}

func TestNewRedisPublisher_RequiresClient(t *testing.T) {
	_, err := NewRedisPublisher(RedisPublisherConfig{})
	assert.Error(t, err)
}
