package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
	"github.com/redmansion/progression-engine/pkg/logger"
)

// DefaultWelcomeBonusXP is the one-time bonus for a new profile.
const DefaultWelcomeBonusXP int64 = 100

// GrantWelcomeBonusCommand grants the one-time welcome bonus.
type GrantWelcomeBonusCommand struct {
	UserID        string
	CorrelationID string
}

// GrantWelcomeBonusHandler awards the welcome bonus once per profile
// lifetime. A reset clears both the flag and the guard, so a reset user can
// receive it again.
type GrantWelcomeBonusHandler struct {
	deps   Deps
	award  *AwardXPHandler
	amount int64
}

// NewGrantWelcomeBonusHandler creates the handler. A non-positive amount
// falls back to DefaultWelcomeBonusXP.
func NewGrantWelcomeBonusHandler(deps Deps, award *AwardXPHandler, amount int64) *GrantWelcomeBonusHandler {
	if amount <= 0 {
		amount = DefaultWelcomeBonusXP
	}
	return &GrantWelcomeBonusHandler{deps: deps.withDefaults(), award: award, amount: amount}
}

// Handle grants the bonus, or reports a duplicate when the flag is set.
func (h *GrantWelcomeBonusHandler) Handle(ctx context.Context, cmd GrantWelcomeBonusCommand) (result *AwardResult, err error) {
	ctx, span := startSpan(ctx, "progression.welcome_bonus", cmd.UserID)
	defer func() { endSpan(span, err) }()

	award := AwardXPCommand{
		UserID:        cmd.UserID,
		Amount:        h.amount,
		Reason:        "welcome bonus",
		Source:        progression.SourceAchievement,
		SourceID:      progression.WelcomeBonusSourceID,
		CorrelationID: cmd.CorrelationID,
	}
	if err := award.Validate(); err != nil {
		return nil, fmt.Errorf("welcome_bonus: validation failed: %w", err)
	}

	unlock := lockUser(ctx, h.deps, cmd.UserID)
	defer unlock()

	now := h.deps.Now()
	var progress progression.LevelProgress

	err = h.deps.Store.RunInTransaction(ctx, cmd.UserID, func(tx progression.Tx) error {
		profile, err := tx.GetProfile(ctx, cmd.UserID)
		if err != nil && !errors.Is(err, shared.ErrProfileNotFound) {
			return shared.PersistenceError("WelcomeBonus", "load profile", err)
		}
		if profile != nil && profile.HasReceivedWelcomeBonus {
			result = duplicateResult(profile, now)
			return nil
		}

		var txErr error
		result, progress, txErr = h.award.apply(ctx, tx, award, now)
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("welcome_bonus: %w", h.award.fail(award, err))
	}

	if result.IsDuplicate {
		return result, nil
	}

	h.deps.Metrics.AwardApplied(string(award.Source), result.LeveledUp)
	h.deps.Logger.Info("welcome bonus granted",
		logger.UserID(cmd.UserID),
		logger.XPAmount(h.amount),
		logger.Int64("total_xp", result.NewTotalXP),
	)

	welcome := shared.NewWelcomeGrantedEvent(cmd.UserID, h.amount)
	welcome.BaseEvent = welcome.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	publish(h.deps, append([]shared.Event{welcome}, h.award.events(award, progress)...)...)

	return result, nil
}
