package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
	"github.com/redmansion/progression-engine/internal/infrastructure/persistence/memory"
)

func seed(t *testing.T, store *memory.Store, p *progression.Profile) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.RunInTransaction(ctx, p.UserID, func(tx progression.Tx) error {
		return tx.SaveProfile(ctx, p)
	}))
}

func TestGetProfile_Existing(t *testing.T) {
	store := memory.NewStore()
	curve := progression.DefaultLevelCurve()

	p := progression.NewProfile("u-1", time.Now())
	p.ApplyXP(curve, 200, nil)
	p.CompleteMilestone("chapter-1")
	p.Streak = progression.Streak{Current: 2, Longest: 5, LastCompletionDate: "2026-10-18"}
	seed(t, store, p)

	view, err := NewGetProfileHandler(store, curve).Handle(context.Background(), GetProfileQuery{UserID: "u-1"})
	require.NoError(t, err)

	assert.True(t, view.Exists)
	assert.Equal(t, int64(200), view.TotalXP)
	assert.Equal(t, 1, view.Level)
	assert.Equal(t, "Reader", view.LevelTitle)
	assert.Equal(t, int64(300), view.NextLevelXP)
	assert.Equal(t, int64(100), view.XPToNextLevel)
	assert.InDelta(t, 50.0, view.ProgressPercent, 0.001)
	assert.False(t, view.IsMaxLevel)
	assert.Equal(t, []string{"chapter-1"}, view.CompletedMilestones)
	assert.Equal(t, []string{"chapters-1-10"}, view.UnlockedContent)
	assert.Equal(t, 2, view.CurrentStreak)
	assert.Equal(t, 5, view.LongestStreak)
}

func TestGetProfile_MissingReturnsDefaultsWithoutCreating(t *testing.T) {
	store := memory.NewStore()

	view, err := NewGetProfileHandler(store, nil).Handle(context.Background(), GetProfileQuery{UserID: "ghost"})
	require.NoError(t, err)

	assert.False(t, view.Exists)
	assert.Equal(t, int64(0), view.TotalXP)
	assert.Equal(t, 0, view.Level)
	assert.Equal(t, int64(100), view.XPToNextLevel)
	assert.Equal(t, 0, store.UserCount())
}

func TestGetProfile_MaxLevel(t *testing.T) {
	store := memory.NewStore()
	curve := progression.DefaultLevelCurve()

	p := progression.NewProfile("u-1", time.Now())
	p.ApplyXP(curve, 10_000, nil)
	seed(t, store, p)

	view, err := NewGetProfileHandler(store, curve).Handle(context.Background(), GetProfileQuery{UserID: "u-1"})
	require.NoError(t, err)
	assert.True(t, view.IsMaxLevel)
	assert.Equal(t, curve.MaxLevel(), view.Level)
	assert.Equal(t, int64(0), view.XPToNextLevel)
	assert.Equal(t, 100.0, view.ProgressPercent)
}

func TestGetProfile_Validation(t *testing.T) {
	_, err := NewGetProfileHandler(memory.NewStore(), nil).Handle(context.Background(), GetProfileQuery{})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
}
