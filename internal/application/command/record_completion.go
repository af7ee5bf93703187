package command

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
	"github.com/redmansion/progression-engine/pkg/logger"
	"github.com/redmansion/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD COMPLETION COMMAND (STREAK TRACKER)
// Updates the daily streak for a qualifying completion and issues milestone
// bonuses through the award handler. Days are reference-zone day keys so all
// users share the same day boundary.
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionCommand contains the data of one qualifying completion.
type RecordCompletionCommand struct {
	// UserID is the user who completed something.
	UserID string

	// CompletedAt defaults to now if zero.
	CompletedAt time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordCompletionCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	return nil
}

// RecordCompletionResult contains the streak after the completion.
type RecordCompletionResult struct {
	UserID string

	// DayKey is the reference-zone day of the completion.
	DayKey string

	CurrentStreak  int
	LongestStreak  int
	PreviousStreak int

	// StreakChanged is false for a repeat completion on the same day.
	StreakChanged bool

	// StreakBroken is true when a gap restarted the streak at 1.
	StreakBroken bool

	// Stale is true when the completion predates the last recorded day.
	Stale bool

	// MilestoneReached is the milestone the current streak sits on, or 0.
	MilestoneReached int

	// BonusAward is the milestone bonus result. A duplicate means the bonus
	// was already granted today.
	BonusAward *AwardResult

	// BonusPending is true when the bonus award failed. The next completion
	// on the same day retries it.
	BonusPending bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionHandlerConfig contains configuration for the handler.
type RecordCompletionHandlerConfig struct {
	// Milestones maps streak length to bonus XP.
	Milestones progression.StreakMilestones

	// BonusEnabled gates milestone bonuses per user. Nil means enabled.
	BonusEnabled func(userID string) bool
}

// DefaultRecordCompletionHandlerConfig returns default configuration.
func DefaultRecordCompletionHandlerConfig() RecordCompletionHandlerConfig {
	return RecordCompletionHandlerConfig{
		Milestones: progression.DefaultStreakMilestones(),
	}
}

// RecordCompletionHandler handles the RecordCompletionCommand.
type RecordCompletionHandler struct {
	deps   Deps
	award  *AwardXPHandler
	config RecordCompletionHandlerConfig
}

// NewRecordCompletionHandler creates a new RecordCompletionHandler. Bonuses
// go through award so they share its guard.
func NewRecordCompletionHandler(deps Deps, award *AwardXPHandler, config RecordCompletionHandlerConfig) *RecordCompletionHandler {
	if config.Milestones == nil {
		config.Milestones = progression.DefaultStreakMilestones()
	}
	if config.BonusEnabled == nil {
		config.BonusEnabled = func(string) bool { return true }
	}

	return &RecordCompletionHandler{
		deps:   deps.withDefaults(),
		award:  award,
		config: config,
	}
}

// Handle executes the record completion command.
func (h *RecordCompletionHandler) Handle(ctx context.Context, cmd RecordCompletionCommand) (result *RecordCompletionResult, err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "progression.record_completion", cmd.UserID)
	defer func() {
		h.deps.Metrics.ObserveDuration("record_completion", time.Since(start))
		endSpan(span, err)
	}()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_completion: validation failed: %w", err)
	}

	completedAt := cmd.CompletedAt
	if completedAt.IsZero() {
		completedAt = h.deps.Now()
	}
	dayKey := timeutil.DayKey(completedAt)
	span.SetAttributes(attribute.String("day_key", dayKey))

	var (
		change  progression.StreakChange
		lastDay string
	)

	unlock := lockUser(ctx, h.deps, cmd.UserID)
	err = h.deps.Store.RunInTransaction(ctx, cmd.UserID, func(tx progression.Tx) error {
		now := h.deps.Now()
		profile, created, err := h.award.loadOrCreate(ctx, tx, cmd.UserID, now)
		if err != nil {
			return err
		}

		change, err = profile.Streak.Record(dayKey)
		if err != nil {
			return shared.InconsistentStateError("RecordCompletion", "stored streak date is unreadable", err)
		}
		lastDay = profile.Streak.LastCompletionDate

		if !change.Changed && !created {
			return nil
		}
		profile.Touch(now)
		if err := tx.SaveProfile(ctx, profile); err != nil {
			return shared.PersistenceError("RecordCompletion", "save profile", err)
		}
		return nil
	})
	unlock()
	if err != nil {
		if shared.IsInconsistentState(err) {
			reportIncident(h.deps, "record_completion", cmd.UserID, err, logger.String("day_key", dayKey))
		} else if !shared.IsPersistence(err) {
			err = shared.PersistenceError("RecordCompletion", "transaction failed", err)
		}
		return nil, fmt.Errorf("record_completion: %w", err)
	}

	result = &RecordCompletionResult{
		UserID:         cmd.UserID,
		DayKey:         dayKey,
		CurrentStreak:  change.Current,
		LongestStreak:  change.Longest,
		PreviousStreak: change.Previous,
		StreakChanged:  change.Changed,
		StreakBroken:   change.Broken,
		Stale:          change.Stale,
	}

	log := h.deps.Logger.With(logger.UserID(cmd.UserID), logger.String("day_key", dayKey))

	if change.Changed {
		h.deps.Metrics.StreakRecorded(change.Broken)
		log.Info("streak updated",
			logger.Int("current_streak", change.Current),
			logger.Int("longest_streak", change.Longest),
			logger.Bool("broken", change.Broken),
		)
		event := shared.NewStreakUpdatedEvent(cmd.UserID, dayKey, change.Current, change.Longest, change.Previous, change.Broken)
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		publish(h.deps, event)
	}

	// The bonus is re-issued on every completion of the milestone day; the
	// guard keeps it to one award.
	bonus, ok := h.config.Milestones.BonusFor(change.Current)
	if !ok || lastDay != dayKey || !h.config.BonusEnabled(cmd.UserID) {
		return result, nil
	}
	result.MilestoneReached = change.Current

	award, err := h.award.Handle(ctx, AwardXPCommand{
		UserID:        cmd.UserID,
		Amount:        bonus,
		Reason:        fmt.Sprintf("%d-day streak", change.Current),
		Source:        progression.SourceStreakBonus,
		SourceID:      progression.StreakBonusSourceID(cmd.UserID, change.Current, dayKey),
		CorrelationID: cmd.CorrelationID,
	})
	if err != nil {
		// The streak is committed; only the bonus is outstanding.
		result.BonusPending = true
		log.Error("streak bonus award failed",
			logger.Int("milestone", change.Current),
			logger.Err(err),
		)
		return result, nil
	}

	result.BonusAward = award
	if !award.IsDuplicate {
		h.deps.Metrics.StreakBonusGranted(change.Current)
	}
	return result, nil
}
