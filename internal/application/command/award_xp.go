package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
	"github.com/redmansion/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD XP COMMAND
// Applies an XP award exactly once per (user, source, source id). The guard
// claim, the level resolution and the profile write share one transaction.
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPCommand contains the data of one award.
type AwardXPCommand struct {
	// UserID is the opaque id of the user receiving the award.
	UserID string

	// Amount is the XP to add. Must be positive.
	Amount int64

	// Reason is a free-text audit string.
	Reason string

	// Source is the kind of action that produced the award.
	Source progression.Source

	// SourceID scopes idempotency. Empty means the award is repeatable.
	SourceID string

	// Attributes are optional per-award attribute points.
	Attributes map[string]int

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command. It never touches state.
func (c AwardXPCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if c.Amount <= 0 {
		return shared.ErrNonPositiveXP
	}
	if c.Amount > shared.MaxXP.Int64() {
		return shared.ValidationError("Award", "amount exceeds the maximum award")
	}
	if !c.Source.IsValid() {
		return shared.ErrUnknownSource
	}
	for name, points := range c.Attributes {
		if name == "" || points < 0 {
			return shared.ErrNegativeAttrib
		}
	}
	return nil
}

// key returns the guard key of the command.
func (c AwardXPCommand) key() progression.GuardKey {
	return progression.GuardKey{UserID: c.UserID, Source: c.Source, SourceID: c.SourceID}
}

// AwardResult contains the outcome of an award. A duplicate is a successful
// result with IsDuplicate set and the current, unmodified totals.
type AwardResult struct {
	// Success is true for applied and duplicate awards alike.
	Success bool

	// UserID is the user that received the award.
	UserID string

	// NewTotalXP is the total after the award (or the current total for a duplicate).
	NewTotalXP int64

	// NewLevel is the level after the award.
	NewLevel int

	// FromLevel is the level before the award.
	FromLevel int

	// LeveledUp is NewLevel > FromLevel.
	LeveledUp bool

	// LevelsGained is NewLevel - FromLevel.
	LevelsGained int

	// UnlockedContent is the union over every level crossed.
	UnlockedContent []string

	// UnlockedPermissions is the union over every level crossed.
	UnlockedPermissions []string

	// UnlockedAttributes are the level reward attribute points granted.
	UnlockedAttributes map[string]int

	// IsDuplicate reports that the award was already granted earlier.
	IsDuplicate bool

	// ProfileCreated reports that this award lazily created the profile.
	ProfileCreated bool

	// AwardedAt is when the award was processed.
	AwardedAt time.Time
}

// duplicateResult reports the current state of profile without changes.
func duplicateResult(profile *progression.Profile, now time.Time) *AwardResult {
	return &AwardResult{
		Success:             true,
		UserID:              profile.UserID,
		NewTotalXP:          profile.TotalXP,
		NewLevel:            profile.CurrentLevel,
		FromLevel:           profile.CurrentLevel,
		UnlockedContent:     []string{},
		UnlockedPermissions: []string{},
		IsDuplicate:         true,
		AwardedAt:           now,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPHandlerConfig contains configuration for the handler.
type AwardXPHandlerConfig struct {
	// MilestoneSources are the sources whose source ids are recorded as
	// completed milestones.
	MilestoneSources []progression.Source
}

// DefaultAwardXPHandlerConfig returns default configuration.
func DefaultAwardXPHandlerConfig() AwardXPHandlerConfig {
	return AwardXPHandlerConfig{
		MilestoneSources: progression.DefaultMilestoneSources(),
	}
}

// AwardXPHandler handles the AwardXPCommand.
type AwardXPHandler struct {
	deps             Deps
	guard            *IdempotencyGuard
	milestoneSources map[progression.Source]bool
}

// NewAwardXPHandler creates a new AwardXPHandler.
func NewAwardXPHandler(deps Deps, config AwardXPHandlerConfig) *AwardXPHandler {
	if config.MilestoneSources == nil {
		config = DefaultAwardXPHandlerConfig()
	}

	milestones := make(map[progression.Source]bool, len(config.MilestoneSources))
	for _, s := range config.MilestoneSources {
		milestones[s] = true
	}

	deps = deps.withDefaults()
	return &AwardXPHandler{
		deps:             deps,
		guard:            NewIdempotencyGuard(),
		milestoneSources: milestones,
	}
}

// Handle executes the award command.
func (h *AwardXPHandler) Handle(ctx context.Context, cmd AwardXPCommand) (result *AwardResult, err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "progression.award_xp", cmd.UserID,
		attribute.String("source", string(cmd.Source)),
		attribute.Int64("amount", cmd.Amount),
	)
	defer func() {
		h.deps.Metrics.ObserveDuration("award_xp", time.Since(start))
		if err != nil {
			h.deps.Metrics.AwardFailed(string(cmd.Source), errorKind(err))
		}
		endSpan(span, err)
	}()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("award_xp: validation failed: %w", err)
	}

	unlock := lockUser(ctx, h.deps, cmd.UserID)
	defer unlock()

	now := h.deps.Now()
	var progress progression.LevelProgress

	err = h.deps.Store.RunInTransaction(ctx, cmd.UserID, func(tx progression.Tx) error {
		var txErr error
		result, progress, txErr = h.apply(ctx, tx, cmd, now)
		return txErr
	})
	if err != nil {
		return nil, h.fail(cmd, err)
	}

	log := h.deps.Logger.With(
		logger.UserID(cmd.UserID),
		logger.Source(string(cmd.Source)),
		logger.SourceID(cmd.SourceID),
	)

	if result.IsDuplicate {
		h.deps.Metrics.AwardDuplicate(string(cmd.Source))
		log.Debug("duplicate award ignored", logger.Int64("total_xp", result.NewTotalXP))
		return result, nil
	}

	h.deps.Metrics.AwardApplied(string(cmd.Source), result.LeveledUp)
	log.Info("xp awarded",
		logger.XPAmount(cmd.Amount),
		logger.Int64("total_xp", result.NewTotalXP),
		logger.LevelNum(result.NewLevel),
		logger.Bool("leveled_up", result.LeveledUp),
		logger.Bool("profile_created", result.ProfileCreated),
	)

	publish(h.deps, h.events(cmd, progress)...)
	return result, nil
}

// apply runs the award inside tx. It is shared with the welcome bonus flow,
// which needs the award and its own precondition in one transaction.
func (h *AwardXPHandler) apply(
	ctx context.Context,
	tx progression.Tx,
	cmd AwardXPCommand,
	now time.Time,
) (*AwardResult, progression.LevelProgress, error) {
	var progress progression.LevelProgress

	// Step 1: claim
	record := progression.NewGuardRecord(cmd.key(), cmd.Amount, cmd.Reason, now)
	claimed, err := h.guard.TryClaim(ctx, tx, record)
	if err != nil {
		return nil, progress, shared.PersistenceError("Award", "claim guard", err)
	}
	if !claimed {
		profile, err := tx.GetProfile(ctx, cmd.UserID)
		if errors.Is(err, shared.ErrProfileNotFound) {
			return nil, progress, shared.InconsistentStateError("Award",
				fmt.Sprintf("guard %s/%s has no profile", cmd.Source, cmd.SourceID), shared.ErrOrphanedGuard)
		}
		if err != nil {
			return nil, progress, shared.PersistenceError("Award", "load profile", err)
		}
		profile.SyncLevel(h.deps.Curve)
		return duplicateResult(profile, now), progress, nil
	}

	// Step 2: load or lazily create
	profile, created, err := h.loadOrCreate(ctx, tx, cmd.UserID, now)
	if err != nil {
		return nil, progress, err
	}

	// Steps 3-4: apply and resolve levels. An overflow rolls the guard back.
	progress, err = profile.ApplyXP(h.deps.Curve, cmd.Amount, cmd.Attributes)
	if err != nil {
		return nil, progress, err
	}

	// Step 5: milestone bookkeeping
	switch {
	case cmd.Source == progression.SourceAchievement && cmd.SourceID == progression.WelcomeBonusSourceID:
		profile.HasReceivedWelcomeBonus = true
	case cmd.SourceID != "" && h.milestoneSources[cmd.Source]:
		profile.CompleteMilestone(cmd.SourceID)
	}

	// Step 6: persist together with the guard claimed above
	profile.Touch(now)
	if err := tx.SaveProfile(ctx, profile); err != nil {
		return nil, progress, shared.PersistenceError("Award", "save profile", err)
	}

	return &AwardResult{
		Success:             true,
		UserID:              cmd.UserID,
		NewTotalXP:          progress.NewTotalXP,
		NewLevel:            progress.ToLevel,
		FromLevel:           progress.FromLevel,
		LeveledUp:           progress.LeveledUp(),
		LevelsGained:        progress.LevelsGained,
		UnlockedContent:     nonNil(progress.Rewards.Content),
		UnlockedPermissions: nonNil(progress.Rewards.Permissions),
		UnlockedAttributes:  progress.Rewards.Attributes,
		ProfileCreated:      created,
		AwardedAt:           now,
	}, progress, nil
}

// loadOrCreate reads the profile, or builds a default one when the user has
// none. A stored level that disagrees with the current curve is rewritten
// from the total; that happens after LEVEL_CURVE_FILE changes.
func (h *AwardXPHandler) loadOrCreate(ctx context.Context, tx progression.Tx, userID string, now time.Time) (*progression.Profile, bool, error) {
	profile, err := tx.GetProfile(ctx, userID)
	if errors.Is(err, shared.ErrProfileNotFound) {
		return progression.NewProfileWithRewards(userID, h.deps.Curve, now), true, nil
	}
	if err != nil {
		return nil, false, shared.PersistenceError("Award", "load profile", err)
	}
	if stored, changed := profile.SyncLevel(h.deps.Curve); changed {
		h.deps.Logger.Warn("stored level does not match level curve, resyncing",
			logger.UserID(userID),
			logger.Int64("total_xp", profile.TotalXP),
			logger.Int("stored_level", stored),
			logger.LevelNum(profile.CurrentLevel),
		)
	}
	return profile, false, nil
}

// fail classifies a transaction error and logs integrity incidents.
func (h *AwardXPHandler) fail(cmd AwardXPCommand, err error) error {
	switch {
	case shared.IsInconsistentState(err):
		reportIncident(h.deps, "award_xp", cmd.UserID, err,
			logger.Source(string(cmd.Source)),
			logger.SourceID(cmd.SourceID),
		)
	case shared.IsPersistence(err), shared.IsValidation(err):
	default:
		err = shared.PersistenceError("Award", "transaction failed", err)
	}
	return fmt.Errorf("award_xp: %w", err)
}

func (h *AwardXPHandler) events(cmd AwardXPCommand, progress progression.LevelProgress) []shared.Event {
	awarded := shared.NewXPAwardedEvent(cmd.UserID, cmd.Amount, string(cmd.Source), cmd.SourceID, cmd.Reason, progress.NewTotalXP)
	awarded.BaseEvent = awarded.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	events := []shared.Event{awarded}

	if progress.LeveledUp() {
		levelUp := shared.NewLevelUpEvent(cmd.UserID, progress.FromLevel, progress.ToLevel,
			progress.Rewards.Content, progress.Rewards.Permissions)
		levelUp.BaseEvent = levelUp.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		events = append(events, levelUp)
	}
	return events
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
