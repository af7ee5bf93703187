// Package metrics exports progression counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/redmansion/progression-engine/internal/application/command"
)

const namespace = "progression"

// Prometheus implements command.Metrics.
type Prometheus struct {
	awards         *prometheus.CounterVec
	levelUps       *prometheus.CounterVec
	awardFailures  *prometheus.CounterVec
	streaks        *prometheus.CounterVec
	streakBonuses  *prometheus.CounterVec
	resets         *prometheus.CounterVec
	incidents      *prometheus.CounterVec
	handlerLatency *prometheus.HistogramVec
}

var _ command.Metrics = (*Prometheus)(nil)

// New registers the progression collectors with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)

	return &Prometheus{
		awards: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "awards_total",
			Help:      "XP award requests by source and outcome (applied, duplicate).",
		}, []string{"source", "outcome"}),
		levelUps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ups_total",
			Help:      "Applied awards that crossed at least one level threshold.",
		}, []string{"source"}),
		awardFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "award_failures_total",
			Help:      "Failed XP awards by source and error kind.",
		}, []string{"source", "kind"}),
		streaks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streak_updates_total",
			Help:      "Streak changes by whether the streak was broken.",
		}, []string{"broken"}),
		streakBonuses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streak_bonuses_total",
			Help:      "Streak milestone bonuses granted by milestone length.",
		}, []string{"milestone"}),
		resets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_resets_total",
			Help:      "Account resets by kind (account, guest).",
		}, []string{"kind"}),
		incidents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_incidents_total",
			Help:      "Inconsistent state detected by operation.",
		}, []string{"op"}),
		handlerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Command handler latency.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
	}
}

func (p *Prometheus) AwardApplied(source string, leveledUp bool) {
	p.awards.WithLabelValues(source, "applied").Inc()
	if leveledUp {
		p.levelUps.WithLabelValues(source).Inc()
	}
}

func (p *Prometheus) AwardDuplicate(source string) {
	p.awards.WithLabelValues(source, "duplicate").Inc()
}

func (p *Prometheus) AwardFailed(source, kind string) {
	p.awardFailures.WithLabelValues(source, kind).Inc()
}

func (p *Prometheus) StreakRecorded(broken bool) {
	p.streaks.WithLabelValues(strconv.FormatBool(broken)).Inc()
}

func (p *Prometheus) StreakBonusGranted(milestone int) {
	p.streakBonuses.WithLabelValues(strconv.Itoa(milestone)).Inc()
}

func (p *Prometheus) AccountReset(guest bool) {
	kind := "account"
	if guest {
		kind = "guest"
	}
	p.resets.WithLabelValues(kind).Inc()
}

func (p *Prometheus) IntegrityIncident(op string) {
	p.incidents.WithLabelValues(op).Inc()
}

func (p *Prometheus) ObserveDuration(op string, d time.Duration) {
	p.handlerLatency.WithLabelValues(op).Observe(d.Seconds())
}
