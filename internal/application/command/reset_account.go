package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
	"github.com/redmansion/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESET ACCOUNT COMMAND
// Destroys a profile with every guard record of the user and recreates a
// default profile, all in one transaction. An award racing with a reset
// either commits before it (and is wiped) or after it (against the new
// profile); it never sees a half-reset user.
// ══════════════════════════════════════════════════════════════════════════════

// ResetAccountCommand contains the data to reset an account.
type ResetAccountCommand struct {
	UserID      string
	DisplayName string
	Email       string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command. Guest accounts may omit the email.
func (c ResetAccountCommand) Validate(guest bool) error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if !guest && strings.TrimSpace(c.Email) == "" {
		return shared.ErrEmailRequired
	}
	return nil
}

// ResetResult contains the result of a reset.
type ResetResult struct {
	UserID string

	// ProfileExisted is false when there was nothing to delete.
	ProfileExisted bool

	// GuardsReleased is how many guard records were deleted.
	GuardsReleased int

	// PreviousTotalXP is the XP the destroyed profile had.
	PreviousTotalXP int64

	// Profile is the freshly created default profile.
	Profile *progression.Profile

	ResetAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ResetAccountHandler handles regular and guest resets.
type ResetAccountHandler struct {
	deps  Deps
	guard *IdempotencyGuard
}

// NewResetAccountHandler creates a new ResetAccountHandler.
func NewResetAccountHandler(deps Deps) *ResetAccountHandler {
	return &ResetAccountHandler{
		deps:  deps.withDefaults(),
		guard: NewIdempotencyGuard(),
	}
}

// ResetAccount resets a registered account. Email is required.
func (h *ResetAccountHandler) ResetAccount(ctx context.Context, cmd ResetAccountCommand) (*ResetResult, error) {
	return h.reset(ctx, cmd, false)
}

// ResetGuestAccount resets an ephemeral guest account.
func (h *ResetAccountHandler) ResetGuestAccount(ctx context.Context, cmd ResetAccountCommand) (*ResetResult, error) {
	return h.reset(ctx, cmd, true)
}

func (h *ResetAccountHandler) reset(ctx context.Context, cmd ResetAccountCommand, guest bool) (result *ResetResult, err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "progression.reset_account", cmd.UserID, attribute.Bool("guest", guest))
	defer func() {
		h.deps.Metrics.ObserveDuration("reset_account", time.Since(start))
		endSpan(span, err)
	}()

	if err := cmd.Validate(guest); err != nil {
		return nil, fmt.Errorf("reset_account: validation failed: %w", err)
	}

	unlock := lockUser(ctx, h.deps, cmd.UserID)
	defer unlock()

	now := h.deps.Now()
	result = &ResetResult{UserID: cmd.UserID, ResetAt: now}

	err = h.deps.Store.RunInTransaction(ctx, cmd.UserID, func(tx progression.Tx) error {
		old, err := tx.GetProfile(ctx, cmd.UserID)
		switch {
		case err == nil:
			result.PreviousTotalXP = old.TotalXP
		case errors.Is(err, shared.ErrProfileNotFound):
		default:
			return shared.PersistenceError("Reset", "load profile", err)
		}

		existed, err := tx.DeleteProfile(ctx, cmd.UserID)
		if err != nil {
			return shared.PersistenceError("Reset", "delete profile", err)
		}
		result.ProfileExisted = existed

		released, err := h.guard.ReleaseAllForUser(ctx, tx, cmd.UserID)
		if err != nil {
			return shared.PersistenceError("Reset", "release guards", err)
		}
		result.GuardsReleased = released

		fresh := progression.NewProfileWithRewards(cmd.UserID, h.deps.Curve, now)
		fresh.DisplayName = strings.TrimSpace(cmd.DisplayName)
		fresh.Email = strings.TrimSpace(cmd.Email)
		fresh.IsGuest = guest
		fresh.Touch(now)
		if err := tx.SaveProfile(ctx, fresh); err != nil {
			return shared.PersistenceError("Reset", "save profile", err)
		}
		result.Profile = fresh
		return nil
	})
	if err != nil {
		if shared.IsInconsistentState(err) {
			reportIncident(h.deps, "reset_account", cmd.UserID, err)
		} else if !shared.IsPersistence(err) {
			err = shared.PersistenceError("Reset", "transaction failed", err)
		}
		return nil, fmt.Errorf("reset_account: %w", err)
	}

	h.deps.Metrics.AccountReset(guest)
	h.deps.Logger.Info("account reset",
		logger.UserID(cmd.UserID),
		logger.Bool("guest", guest),
		logger.Bool("profile_existed", result.ProfileExisted),
		logger.Int("guards_released", result.GuardsReleased),
		logger.Int64("previous_total_xp", result.PreviousTotalXP),
	)

	event := shared.NewAccountResetEvent(cmd.UserID, guest, result.GuardsReleased, result.PreviousTotalXP)
	event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	publish(h.deps, event)

	return result, nil
}
