package command

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
)

func TestResetAccount_ClearsGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reset := NewResetAccountHandler(h.deps)
	chapter := AwardXPCommand{UserID: "u-1", Amount: 60, Reason: "chapter", Source: progression.SourceReading, SourceID: "chapter-1"}

	_, err := h.award.Handle(ctx, chapter)
	require.NoError(t, err)
	dup, err := h.award.Handle(ctx, chapter)
	require.NoError(t, err)
	require.True(t, dup.IsDuplicate)

	res, err := reset.ResetAccount(ctx, ResetAccountCommand{UserID: "u-1", DisplayName: " Daiyu ", Email: "daiyu@example.com"})
	require.NoError(t, err)
	assert.True(t, res.ProfileExisted)
	assert.Equal(t, 1, res.GuardsReleased)
	assert.Equal(t, int64(60), res.PreviousTotalXP)
	assert.Equal(t, int64(0), res.Profile.TotalXP)

	p := h.profile(t, "u-1")
	assert.Equal(t, int64(0), p.TotalXP)
	assert.Equal(t, 0, p.CurrentLevel)
	assert.Empty(t, p.MilestoneIDs())
	assert.Empty(t, p.UnlockedContent)
	assert.Equal(t, "Daiyu", p.DisplayName)
	assert.False(t, p.IsGuest)
	assert.Equal(t, 0, h.store.GuardCount("u-1"))

	again, err := h.award.Handle(ctx, chapter)
	require.NoError(t, err)
	assert.False(t, again.IsDuplicate)
	assert.False(t, again.ProfileCreated)
	assert.Equal(t, int64(60), again.NewTotalXP)

	assert.Contains(t, h.publisher.types(), shared.EventAccountReset)
}

func TestResetAccount_ClearsWelcomeFlagAndStreak(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tracker := NewRecordCompletionHandler(h.deps, h.award, DefaultRecordCompletionHandlerConfig())
	welcome := NewGrantWelcomeBonusHandler(h.deps, h.award, 10)
	reset := NewResetAccountHandler(h.deps)

	_, err := welcome.Handle(ctx, GrantWelcomeBonusCommand{UserID: "u-1"})
	require.NoError(t, err)
	complete(t, tracker, "u-1", 2026, 10, 1)

	_, err = reset.ResetGuestAccount(ctx, ResetAccountCommand{UserID: "u-1"})
	require.NoError(t, err)

	p := h.profile(t, "u-1")
	assert.False(t, p.HasReceivedWelcomeBonus)
	assert.Equal(t, progression.Streak{}, p.Streak)
	assert.True(t, p.IsGuest)
}

func TestResetAccount_NoExistingProfile(t *testing.T) {
	h := newHarness(t)
	reset := NewResetAccountHandler(h.deps)

	res, err := reset.ResetGuestAccount(context.Background(), ResetAccountCommand{UserID: "guest-42", DisplayName: "Guest"})
	require.NoError(t, err)
	assert.False(t, res.ProfileExisted)
	assert.Zero(t, res.GuardsReleased)
	assert.True(t, h.profile(t, "guest-42").IsGuest)
}

func TestResetAccount_Validation(t *testing.T) {
	h := newHarness(t)
	reset := NewResetAccountHandler(h.deps)
	ctx := context.Background()

	_, err := reset.ResetAccount(ctx, ResetAccountCommand{UserID: "u-1"})
	assert.ErrorIs(t, err, shared.ErrEmailRequired)

	_, err = reset.ResetGuestAccount(ctx, ResetAccountCommand{})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)

	assert.Equal(t, 0, h.store.UserCount())
}

func TestResetAccount_FailureKeepsOldState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.award.Handle(ctx, AwardXPCommand{UserID: "u-1", Amount: 60, Reason: "chapter", Source: progression.SourceReading, SourceID: "chapter-1"})
	require.NoError(t, err)

	deps := h.deps
	deps.Store = &failingStore{Store: h.store, failSave: true}
	reset := NewResetAccountHandler(deps)

	_, err = reset.ResetAccount(ctx, ResetAccountCommand{UserID: "u-1", Email: "u1@example.com"})
	require.Error(t, err)
	assert.True(t, shared.IsPersistence(err))

	assert.Equal(t, int64(60), h.profile(t, "u-1").TotalXP)
	assert.Equal(t, 1, h.store.GuardCount("u-1"))
}

func TestResetAccount_RacingAwardsKeepGuardsAndXPInStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reset := NewResetAccountHandler(h.deps)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.award.Handle(ctx, AwardXPCommand{
				UserID: "u-1", Amount: 1, Reason: "chapter",
				Source: progression.SourceReading, SourceID: fmt.Sprintf("chapter-%d", i),
			})
			assert.NoError(t, err)
			if i%20 == 0 {
				_, err := reset.ResetGuestAccount(ctx, ResetAccountCommand{UserID: "u-1"})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	// Every surviving guard is exactly one applied point; nothing half-reset.
	p := h.profile(t, "u-1")
	guards := h.store.GuardCount("u-1")
	assert.Equal(t, int64(guards), p.TotalXP)
	assert.Len(t, p.MilestoneIDs(), guards)
	assert.Equal(t, h.deps.Curve.LevelFor(p.TotalXP), p.CurrentLevel)
}
