package eventhandler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/redmansion/progression-engine/internal/application/command"
	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
	"github.com/redmansion/progression-engine/internal/infrastructure/messaging"
	"github.com/redmansion/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/redmansion/progression-engine/pkg/logger"
)

type fakeRecorder struct {
	calls []command.RecordCompletionCommand
	err   error
}

func (f *fakeRecorder) Handle(_ context.Context, cmd command.RecordCompletionCommand) (*command.RecordCompletionResult, error) {
	f.calls = append(f.calls, cmd)
	if f.err != nil {
		return nil, f.err
	}
	return &command.RecordCompletionResult{UserID: cmd.UserID, CurrentStreak: 1, StreakChanged: true}, nil
}

func TestOnXPAwarded_OnlyConfiguredSources(t *testing.T) {
	rec := &fakeRecorder{}
	h := NewOnXPAwardedHandler(rec, XPAwardedConfig{
		StreakSources: []progression.Source{progression.SourceDailyTask, progression.SourceStreakBonus},
	}, nil)
	require.True(t, h.Enabled())
	assert.Equal(t, shared.EventXPAwarded, h.EventType())

	daily := shared.NewXPAwardedEvent("u-1", 30, "daily_task", "task-2026-10-18", "graded", 30)
	daily.BaseEvent = daily.BaseEvent.WithCorrelationID("req-1")

	require.NoError(t, h.Handle(daily))
	require.NoError(t, h.Handle(shared.NewXPAwardedEvent("u-1", 10, "reading", "chapter-1", "read", 40)))
	require.NoError(t, h.Handle(shared.NewXPAwardedEvent("u-1", 50, "streak_bonus", "streak:u-1:7:2026-10-18", "bonus", 90)))
	require.NoError(t, h.Handle(shared.NewLevelUpEvent("u-1", 0, 1, nil, nil)))

	require.Len(t, rec.calls, 1)
	assert.Equal(t, "u-1", rec.calls[0].UserID)
	assert.Equal(t, "req-1", rec.calls[0].CorrelationID)
	assert.Equal(t, daily.Timestamp, rec.calls[0].CompletedAt)
}

func TestOnXPAwarded_DisabledWithoutSources(t *testing.T) {
	h := NewOnXPAwardedHandler(&fakeRecorder{}, XPAwardedConfig{
		StreakSources: []progression.Source{progression.SourceStreakBonus},
	}, nil)
	assert.False(t, h.Enabled())
}

func TestOnXPAwarded_PropagatesRecorderError(t *testing.T) {
	h := NewOnXPAwardedHandler(&fakeRecorder{err: errors.New("store down")}, XPAwardedConfig{
		StreakSources: []progression.Source{progression.SourceDailyTask},
	}, nil)

	err := h.Handle(shared.NewXPAwardedEvent("u-1", 30, "daily_task", "task-1", "graded", 30))
	assert.ErrorContains(t, err, "store down")
}

func TestOnXPAwarded_AdvancesStreakThroughBus(t *testing.T) {
	store := memory.NewStore()
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{AsyncMode: false})
	defer bus.Close()

	deps := command.Deps{Store: store, Publisher: bus}
	award := command.NewAwardXPHandler(deps, command.DefaultAwardXPHandlerConfig())
	complete := command.NewRecordCompletionHandler(deps, award, command.DefaultRecordCompletionHandlerConfig())

	h := NewOnXPAwardedHandler(complete, XPAwardedConfig{
		StreakSources: []progression.Source{progression.SourceDailyTask},
	}, nil)
	require.NoError(t, bus.Subscribe(h.EventType(), h.Handle))

	ctx := context.Background()
	_, err := award.Handle(ctx, command.AwardXPCommand{
		UserID: "reader-1", Amount: 20, Reason: "graded", Source: progression.SourceDailyTask, SourceID: "task-1",
	})
	require.NoError(t, err)

	// The duplicate publishes nothing, so the streak is not touched again.
	dup, err := award.Handle(ctx, command.AwardXPCommand{
		UserID: "reader-1", Amount: 20, Reason: "graded", Source: progression.SourceDailyTask, SourceID: "task-1",
	})
	require.NoError(t, err)
	require.True(t, dup.IsDuplicate)

	profile, err := store.GetProfile(ctx, "reader-1")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.Streak.Current)
	assert.Equal(t, int64(20), profile.TotalXP)
}

func TestEventLogger_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewEventLogger(logger.NewFromZap(zap.New(core)))

	ev := shared.NewXPAwardedEvent("u-1", 10, "reading", "chapter-1", "read", 10)
	ev.BaseEvent = ev.BaseEvent.WithCorrelationID("req-7")
	require.NoError(t, l.Handle(ev))
	require.NoError(t, l.Handle(shared.NewAccountResetEvent("u-1", false, 3, 10)))

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "events", fields["component"])
	assert.Equal(t, "req-7", fields["correlation_id"])
	assert.Equal(t, string(shared.EventXPAwarded), fields["event_type"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}
