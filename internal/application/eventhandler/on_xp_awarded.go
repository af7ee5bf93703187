// Package eventhandler contains subscribers to progression events.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/redmansion/progression-engine/internal/application/command"
	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
	"github.com/redmansion/progression-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON XP AWARDED HANDLER
// Turns applied awards from configured sources into qualifying completions,
// so e.g. a graded daily task also advances the daily streak. Only awards
// that actually applied publish the event, so a duplicate never counts.
// ═══════════════════════════════════════════════════════════════════════════

// CompletionRecorder records one qualifying completion.
type CompletionRecorder interface {
	Handle(ctx context.Context, cmd command.RecordCompletionCommand) (*command.RecordCompletionResult, error)
}

// XPAwardedConfig contains configuration for the handler.
type XPAwardedConfig struct {
	// StreakSources are the award sources that count as completions.
	StreakSources []progression.Source

	// Timeout bounds one streak update.
	Timeout time.Duration
}

// OnXPAwardedHandler handles shared.EventXPAwarded.
type OnXPAwardedHandler struct {
	recorder CompletionRecorder
	sources  map[progression.Source]struct{}
	timeout  time.Duration
	log      *logger.Logger
}

// NewOnXPAwardedHandler creates the handler. streak_bonus is never a
// qualifying source; a bonus must not extend the streak that granted it.
func NewOnXPAwardedHandler(recorder CompletionRecorder, config XPAwardedConfig, log *logger.Logger) *OnXPAwardedHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	sources := make(map[progression.Source]struct{}, len(config.StreakSources))
	for _, s := range config.StreakSources {
		if s == progression.SourceStreakBonus {
			continue
		}
		sources[s] = struct{}{}
	}

	return &OnXPAwardedHandler{
		recorder: recorder,
		sources:  sources,
		timeout:  config.Timeout,
		log:      log.With(logger.Component("on_xp_awarded")),
	}
}

// Enabled reports whether any source qualifies. Callers skip subscribing
// the handler when it would ignore every event.
func (h *OnXPAwardedHandler) Enabled() bool {
	return len(h.sources) > 0
}

// EventType returns the event this handler subscribes to.
func (h *OnXPAwardedHandler) EventType() shared.EventType {
	return shared.EventXPAwarded
}

// Handle implements shared.EventHandler.
func (h *OnXPAwardedHandler) Handle(event shared.Event) error {
	awarded, ok := event.(shared.XPAwardedEvent)
	if !ok {
		h.log.Warn("unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}
	if _, ok := h.sources[progression.Source(awarded.Source)]; !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	result, err := h.recorder.Handle(ctx, command.RecordCompletionCommand{
		UserID:        awarded.AggregateID(),
		CompletedAt:   awarded.OccurredAt(),
		CorrelationID: awarded.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("record completion for %s award: %w", awarded.Source, err)
	}

	h.log.WithCorrelationID(awarded.CorrelationID).Debug("award counted as completion",
		logger.UserID(awarded.AggregateID()),
		logger.Source(awarded.Source),
		logger.SourceID(awarded.SourceID),
		logger.Int("current_streak", result.CurrentStreak),
		logger.Bool("streak_changed", result.StreakChanged),
	)
	return nil
}
