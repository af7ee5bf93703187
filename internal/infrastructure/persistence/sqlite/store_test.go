package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmansion/progression-engine/internal/application/command"
	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "progression.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func guardFor(user, sourceID string) progression.GuardRecord {
	key := progression.GuardKey{UserID: user, Source: progression.SourceReading, SourceID: sourceID}
	return progression.NewGuardRecord(key, 10, "chapter", time.Now())
}

func TestStore_ProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	curve := progression.DefaultLevelCurve()

	p := progression.NewProfile("u-1", time.Date(2026, 10, 18, 4, 0, 0, 0, time.UTC))
	_, err := p.ApplyXP(curve, 320, map[string]int{shared.AttributeAnalytical: 2})
	require.NoError(t, err)
	p.CompleteMilestone("chapter-2")
	p.CompleteMilestone("chapter-1")
	p.Streak = progression.Streak{Current: 3, Longest: 9, LastCompletionDate: "2026-10-18"}
	p.HasReceivedWelcomeBonus = true
	p.DisplayName = "Baoyu"
	p.Email = "baoyu@example.com"
	p.Touch(p.CreatedAt.Add(time.Minute))

	require.NoError(t, s.RunInTransaction(ctx, "u-1", func(tx progression.Tx) error {
		return tx.SaveProfile(ctx, p)
	}))

	got, err := s.GetProfile(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(320), got.TotalXP)
	assert.Equal(t, 2, got.CurrentLevel)
	assert.Equal(t, p.Attributes, got.Attributes)
	assert.Equal(t, []string{"chapter-1", "chapter-2"}, got.MilestoneIDs())
	assert.ElementsMatch(t, p.UnlockedContent, got.UnlockedContent)
	assert.ElementsMatch(t, p.UnlockedPermissions, got.UnlockedPermissions)
	assert.Equal(t, p.Streak, got.Streak)
	assert.True(t, got.HasReceivedWelcomeBonus)
	assert.Equal(t, "Baoyu", got.DisplayName)
	assert.False(t, got.IsGuest)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, p.UpdatedAt.Equal(got.UpdatedAt))
	assert.Equal(t, int64(1), got.Version)
}

func TestStore_MissingProfile(t *testing.T) {
	_, err := openStore(t).GetProfile(context.Background(), "nobody")
	assert.ErrorIs(t, err, shared.ErrProfileNotFound)
}

func TestStore_ClaimGuardOnce(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	claim := func(r progression.GuardRecord) bool {
		var claimed bool
		require.NoError(t, s.RunInTransaction(ctx, r.Key.UserID, func(tx progression.Tx) error {
			var err error
			claimed, err = tx.ClaimGuard(ctx, r)
			return err
		}))
		return claimed
	}

	assert.True(t, claim(guardFor("u-1", "chapter-1")))
	assert.False(t, claim(guardFor("u-1", "chapter-1")))
	assert.True(t, claim(guardFor("u-2", "chapter-1")))
}

func TestStore_RollbackDiscardsGuardAndProfile(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	boom := errors.New("boom")

	err := s.RunInTransaction(ctx, "u-1", func(tx progression.Tx) error {
		if _, err := tx.ClaimGuard(ctx, guardFor("u-1", "chapter-1")); err != nil {
			return err
		}
		if err := tx.SaveProfile(ctx, progression.NewProfile("u-1", time.Now())); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetProfile(ctx, "u-1")
	assert.ErrorIs(t, err, shared.ErrProfileNotFound)

	require.NoError(t, s.RunInTransaction(ctx, "u-1", func(tx progression.Tx) error {
		n, err := tx.CountGuards(ctx, "u-1")
		assert.Zero(t, n)
		return err
	}))
}

func TestStore_ResetFlow(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.RunInTransaction(ctx, "u-1", func(tx progression.Tx) error {
		for _, id := range []string{"chapter-1", "chapter-2"} {
			if _, err := tx.ClaimGuard(ctx, guardFor("u-1", id)); err != nil {
				return err
			}
		}
		return tx.SaveProfile(ctx, progression.NewProfile("u-1", time.Now()))
	}))

	var existed bool
	var released int
	require.NoError(t, s.RunInTransaction(ctx, "u-1", func(tx progression.Tx) error {
		var err error
		if existed, err = tx.DeleteProfile(ctx, "u-1"); err != nil {
			return err
		}
		if released, err = tx.ReleaseGuards(ctx, "u-1"); err != nil {
			return err
		}
		fresh := progression.NewProfile("u-1", time.Now())
		fresh.IsGuest = true
		return tx.SaveProfile(ctx, fresh)
	}))

	assert.True(t, existed)
	assert.Equal(t, 2, released)

	got, err := s.GetProfile(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, got.IsGuest)
	assert.Zero(t, got.TotalXP)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progression.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	p := progression.NewProfile("u-1", time.Now())
	p.TotalXP = 42
	require.NoError(t, s.RunInTransaction(ctx, "u-1", func(tx progression.Tx) error {
		return tx.SaveProfile(ctx, p)
	}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetProfile(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.TotalXP)
}

func TestStore_ResetRacingAwards(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	deps := command.Deps{Store: s}
	award := command.NewAwardXPHandler(deps, command.DefaultAwardXPHandlerConfig())
	reset := command.NewResetAccountHandler(deps)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := award.Handle(ctx, command.AwardXPCommand{
				UserID: "u-1", Amount: 1, Reason: "chapter",
				Source: progression.SourceReading, SourceID: fmt.Sprintf("chapter-%d", i),
			})
			assert.NoError(t, err)
			if i%10 == 0 {
				_, err := reset.ResetAccount(ctx, command.ResetAccountCommand{UserID: "u-1", Email: "u-1@example.com"})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	var guards int
	require.NoError(t, s.RunInTransaction(ctx, "u-1", func(tx progression.Tx) error {
		var err error
		guards, err = tx.CountGuards(ctx, "u-1")
		return err
	}))
	p, err := s.GetProfile(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(guards), p.TotalXP)
	assert.Len(t, p.MilestoneIDs(), guards)
}
