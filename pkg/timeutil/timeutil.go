// Package timeutil provides day-boundary helpers in the platform's reference
// timezone. Streaks are counted on reference-zone calendar days so every user
// shares the same "today" regardless of client locale.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// DefaultZoneName is the default reference timezone (UTC+8, no DST).
const DefaultZoneName = "Asia/Taipei"

// DayKeyLayout is the layout of a day key (YYYY-MM-DD).
const DayKeyLayout = "2006-01-02"

var (
	mu sync.RWMutex
	// referenceTZ is the zone every day key is computed in.
	referenceTZ = time.FixedZone(DefaultZoneName, 8*60*60)
)

// SetReferenceZone replaces the reference zone. Called once at startup.
func SetReferenceZone(loc *time.Location) {
	if loc == nil {
		return
	}
	mu.Lock()
	referenceTZ = loc
	mu.Unlock()
}

// LoadReferenceZone resolves a zone name, falling back to a fixed UTC+8 zone
// for the default name when tzdata is unavailable.
func LoadReferenceZone(name string) (*time.Location, error) {
	if name == "" || name == DefaultZoneName {
		if loc, err := time.LoadLocation(DefaultZoneName); err == nil {
			return loc, nil
		}
		return time.FixedZone(DefaultZoneName, 8*60*60), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// ReferenceZone returns the current reference zone.
func ReferenceZone() *time.Location {
	mu.RLock()
	defer mu.RUnlock()
	return referenceTZ
}

// ToReference converts a time to the reference zone.
func ToReference(t time.Time) time.Time {
	return t.In(ReferenceZone())
}

// Date creates midnight of the given date in the reference zone.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, ReferenceZone())
}

// ─────────────────────────────────────────────────────────────────────────────
// Day keys
// ─────────────────────────────────────────────────────────────────────────────

// DayKey returns the reference-zone calendar day of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return ToReference(t).Format(DayKeyLayout)
}

// ParseDayKey parses a YYYY-MM-DD key as midnight in the reference zone.
func ParseDayKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(DayKeyLayout, key, ReferenceZone())
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: invalid day key %q: %w", key, err)
	}
	return t, nil
}

// DaysBetweenKeys returns to - from in calendar days. Negative when to is
// before from.
func DaysBetweenKeys(from, to string) (int, error) {
	a, err := ParseDayKey(from)
	if err != nil {
		return 0, err
	}
	b, err := ParseDayKey(to)
	if err != nil {
		return 0, err
	}
	// Calendar arithmetic in UTC sidesteps DST-length days in non-fixed zones.
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24), nil
}
