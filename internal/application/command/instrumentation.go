// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
	"github.com/redmansion/progression-engine/pkg/logger"
)

var tracer = otel.Tracer("progression.command")

// Metrics receives counters from the command handlers. The prometheus
// implementation lives in internal/infrastructure/metrics.
type Metrics interface {
	AwardApplied(source string, leveledUp bool)
	AwardDuplicate(source string)
	AwardFailed(source, kind string)
	StreakRecorded(broken bool)
	StreakBonusGranted(milestone int)
	AccountReset(guest bool)
	IntegrityIncident(op string)
	ObserveDuration(op string, d time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) AwardApplied(string, bool)             {}
func (NopMetrics) AwardDuplicate(string)                 {}
func (NopMetrics) AwardFailed(string, string)            {}
func (NopMetrics) StreakRecorded(bool)                   {}
func (NopMetrics) StreakBonusGranted(int)                {}
func (NopMetrics) AccountReset(bool)                     {}
func (NopMetrics) IntegrityIncident(string)              {}
func (NopMetrics) ObserveDuration(string, time.Duration) {}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS SHARED BY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// Deps groups the collaborators every handler needs.
type Deps struct {
	Store     progression.Store
	Curve     *progression.LevelCurve
	Publisher shared.EventPublisher
	Locker    progression.UserLocker
	Metrics   Metrics
	Logger    *logger.Logger
	// Now is replaceable in tests.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Curve == nil {
		d.Curve = progression.DefaultLevelCurve()
	}
	if d.Publisher == nil {
		d.Publisher = shared.NopPublisher{}
	}
	if d.Locker == nil {
		d.Locker = progression.NopLocker{}
	}
	if d.Metrics == nil {
		d.Metrics = NopMetrics{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

func startSpan(ctx context.Context, name, userID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("user_id", userID))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// lockUser takes the optional cross-process lock. A locker failure is logged
// and the store transaction alone provides atomicity.
func lockUser(ctx context.Context, d Deps, userID string) func() {
	unlock, err := d.Locker.Lock(ctx, userID)
	if err != nil {
		d.Logger.Warn("user lock unavailable, relying on store transaction",
			logger.UserID(userID),
			logger.Err(err),
		)
		return func() {}
	}
	return unlock
}

// publish sends events after commit. Failures never fail the command.
func publish(d Deps, events ...shared.Event) {
	for _, e := range events {
		if err := d.Publisher.Publish(e); err != nil {
			d.Logger.Warn("failed to publish event",
				logger.String("event_type", string(e.EventType())),
				logger.UserID(e.AggregateID()),
				logger.Err(err),
			)
		}
	}
}

// reportIncident logs a data-integrity incident loudly.
func reportIncident(d Deps, op, userID string, err error, fields ...logger.Field) {
	d.Metrics.IntegrityIncident(op)
	fields = append(fields,
		logger.Operation(op),
		logger.UserID(userID),
		logger.Bool("integrity_incident", true),
		logger.Err(err),
	)
	d.Logger.Error("progression integrity incident", fields...)
}

// errorKind is the metrics label for a failed command.
func errorKind(err error) string {
	switch {
	case shared.IsValidation(err):
		return "validation"
	case shared.IsInconsistentState(err):
		return "inconsistent_state"
	case shared.IsPersistence(err):
		return "persistence"
	default:
		return "other"
	}
}
