package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRedisDown = errors.New("redis: connection refused")

func fail(context.Context) error { return errRedisDown }
func ok(context.Context) error   { return nil }

func TestCircuitBreaker_OpensAfterTrip(t *testing.T) {
	var transitions []State
	cb := New(Settings{
		Name:          "test",
		Trip:          2,
		Cooldown:      time.Hour,
		OnStateChange: func(name string, from, to State) { transitions = append(transitions, to) },
	})

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errRedisDown)
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errRedisDown)

	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrCircuitOpen)
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	cb := New(Settings{Trip: 2})

	_ = cb.Execute(context.Background(), fail)
	require.NoError(t, cb.Execute(context.Background(), ok))
	_ = cb.Execute(context.Background(), fail)

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ProbeAfterCooldown(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	cb := New(Settings{Trip: 1, Cooldown: time.Minute})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(30 * time.Second)
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrCircuitOpen)

	// A failed probe re-opens for a full cool-down.
	now = now.Add(31 * time.Second)
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errRedisDown)
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_SingleProbeInFlight(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	cb := New(Settings{Trip: 1, Cooldown: time.Minute})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), fail)
	now = now.Add(2 * time.Minute)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		assert.Equal(t, StateHalfOpen, cb.State())
		return cb.Execute(ctx, ok)
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestUserLockBreaker_IgnoresContention(t *testing.T) {
	errBusy := errors.New("lock busy")
	cb := UserLockBreaker(func(err error) bool { return !errors.Is(err, errBusy) }, nil)

	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errBusy })
	}
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, "open", cb.State().String())
}
