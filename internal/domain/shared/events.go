// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types published after a progression change commits.
const (
	EventXPAwarded      EventType = "progression.xp_awarded"
	EventLevelUp        EventType = "progression.level_up"
	EventStreakUpdated  EventType = "progression.streak_updated"
	EventStreakBroken   EventType = "progression.streak_broken"
	EventAccountReset   EventType = "progression.account_reset"
	EventWelcomeGranted EventType = "progression.welcome_granted"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// Correlation returns the correlation ID, empty if none was set.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// XPAwardedEvent is emitted after a non-duplicate award commits.
type XPAwardedEvent struct {
	BaseEvent
	Amount     int64  `json:"amount"`
	Source     string `json:"source"`
	SourceID   string `json:"source_id,omitempty"`
	Reason     string `json:"reason"`
	NewTotalXP int64  `json:"new_total_xp"`
}

// Payload implements Event interface.
func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"amount":       e.Amount,
		"source":       e.Source,
		"source_id":    e.SourceID,
		"reason":       e.Reason,
		"new_total_xp": e.NewTotalXP,
	}
}

// NewXPAwardedEvent creates a new XPAwardedEvent.
func NewXPAwardedEvent(userID string, amount int64, source, sourceID, reason string, newTotal int64) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent:  NewBaseEvent(EventXPAwarded, userID),
		Amount:     amount,
		Source:     source,
		SourceID:   sourceID,
		Reason:     reason,
		NewTotalXP: newTotal,
	}
}

// LevelUpEvent is emitted when an award crosses one or more level thresholds.
type LevelUpEvent struct {
	BaseEvent
	FromLevel           int      `json:"from_level"`
	ToLevel             int      `json:"to_level"`
	UnlockedContent     []string `json:"unlocked_content,omitempty"`
	UnlockedPermissions []string `json:"unlocked_permissions,omitempty"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from_level":           e.FromLevel,
		"to_level":             e.ToLevel,
		"unlocked_content":     e.UnlockedContent,
		"unlocked_permissions": e.UnlockedPermissions,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, from, to int, content, permissions []string) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent:           NewBaseEvent(EventLevelUp, userID),
		FromLevel:           from,
		ToLevel:             to,
		UnlockedContent:     content,
		UnlockedPermissions: permissions,
	}
}

// StreakUpdatedEvent is emitted when a completion changes the daily streak.
type StreakUpdatedEvent struct {
	BaseEvent
	DayKey         string `json:"day_key"`
	CurrentStreak  int    `json:"current_streak"`
	LongestStreak  int    `json:"longest_streak"`
	PreviousStreak int    `json:"previous_streak"`
	Broken         bool   `json:"broken"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"day_key":         e.DayKey,
		"current_streak":  e.CurrentStreak,
		"longest_streak":  e.LongestStreak,
		"previous_streak": e.PreviousStreak,
		"broken":          e.Broken,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent. A broken streak is
// published under EventStreakBroken so subscribers can filter on it.
func NewStreakUpdatedEvent(userID, dayKey string, current, longest, previous int, broken bool) StreakUpdatedEvent {
	eventType := EventStreakUpdated
	if broken {
		eventType = EventStreakBroken
	}
	return StreakUpdatedEvent{
		BaseEvent:      NewBaseEvent(eventType, userID),
		DayKey:         dayKey,
		CurrentStreak:  current,
		LongestStreak:  longest,
		PreviousStreak: previous,
		Broken:         broken,
	}
}

// AccountResetEvent is emitted after a profile is wiped and recreated.
type AccountResetEvent struct {
	BaseEvent
	Guest           bool  `json:"guest"`
	GuardsReleased  int   `json:"guards_released"`
	PreviousTotalXP int64 `json:"previous_total_xp"`
}

// Payload implements Event interface.
func (e AccountResetEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"guest":             e.Guest,
		"guards_released":   e.GuardsReleased,
		"previous_total_xp": e.PreviousTotalXP,
	}
}

// NewAccountResetEvent creates a new AccountResetEvent.
func NewAccountResetEvent(userID string, guest bool, guardsReleased int, previousXP int64) AccountResetEvent {
	return AccountResetEvent{
		BaseEvent:       NewBaseEvent(EventAccountReset, userID),
		Guest:           guest,
		GuardsReleased:  guardsReleased,
		PreviousTotalXP: previousXP,
	}
}

// WelcomeGrantedEvent is emitted once per profile lifetime.
type WelcomeGrantedEvent struct {
	BaseEvent
	Amount int64 `json:"amount"`
}

// Payload implements Event interface.
func (e WelcomeGrantedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"amount": e.Amount}
}

// NewWelcomeGrantedEvent creates a new WelcomeGrantedEvent.
func NewWelcomeGrantedEvent(userID string, amount int64) WelcomeGrantedEvent {
	return WelcomeGrantedEvent{
		BaseEvent: NewBaseEvent(EventWelcomeGranted, userID),
		Amount:    amount,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
