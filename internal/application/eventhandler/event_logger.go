package eventhandler

import (
	"github.com/redmansion/progression-engine/internal/domain/shared"
	"github.com/redmansion/progression-engine/pkg/logger"
)

// EventLogger writes every published event to the log as an audit trail.
type EventLogger struct {
	log *logger.Logger
}

// NewEventLogger creates an EventLogger.
func NewEventLogger(log *logger.Logger) *EventLogger {
	if log == nil {
		log = logger.Nop()
	}
	return &EventLogger{log: log.With(logger.Component("events"))}
}

// Handle implements shared.EventHandler. Account resets and broken streaks
// are logged at warn so they stand out.
func (l *EventLogger) Handle(event shared.Event) error {
	log := l.log
	if c, ok := event.(interface{ Correlation() string }); ok {
		log = log.WithCorrelationID(c.Correlation())
	}
	fields := []logger.Field{
		logger.String("event_type", string(event.EventType())),
		logger.UserID(event.AggregateID()),
		logger.Any("payload", event.Payload()),
	}

	switch event.EventType() {
	case shared.EventAccountReset, shared.EventStreakBroken:
		log.Warn("progression event", fields...)
	default:
		log.Info("progression event", fields...)
	}
	return nil
}
