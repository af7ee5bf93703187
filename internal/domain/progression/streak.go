package progression

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/redmansion/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY STREAK
// ══════════════════════════════════════════════════════════════════════════════

// Streak tracks consecutive reference-zone days with a qualifying completion.
type Streak struct {
	Current int `json:"current_streak"`
	Longest int `json:"longest_streak"`
	// LastCompletionDate is a YYYY-MM-DD day key; empty before the first completion.
	LastCompletionDate string `json:"last_completion_date,omitempty"`
}

// StreakChange is the outcome of recording one completion.
type StreakChange struct {
	DayKey   string
	Previous int
	Current  int
	Longest  int
	// Changed is false for a repeat completion on the same day.
	Changed bool
	// Broken is true when a gap reset a running streak to 1.
	Broken bool
	// Stale is true when the completion predates the last recorded day.
	Stale bool
}

// Record applies a completion on dayKey:
//
//	first completion ever      -> 1
//	last completion yesterday  -> +1
//	older last completion      -> 1
//	same day                   -> unchanged
//	day before last completion -> unchanged, Stale
func (s *Streak) Record(dayKey string) (StreakChange, error) {
	change := StreakChange{DayKey: dayKey, Previous: s.Current}

	if _, err := timeutil.ParseDayKey(dayKey); err != nil {
		return change, err
	}

	if s.LastCompletionDate == "" {
		s.Current = 1
		s.LastCompletionDate = dayKey
		change.Changed = true
	} else {
		gap, err := timeutil.DaysBetweenKeys(s.LastCompletionDate, dayKey)
		if err != nil {
			return change, fmt.Errorf("streak: stored date: %w", err)
		}
		switch {
		case gap == 0:
			// already counted today
		case gap < 0:
			change.Stale = true
		case gap == 1:
			s.Current++
			s.LastCompletionDate = dayKey
			change.Changed = true
		default:
			change.Broken = s.Current > 0
			s.Current = 1
			s.LastCompletionDate = dayKey
			change.Changed = true
		}
	}

	if s.Current > s.Longest {
		s.Longest = s.Current
	}
	change.Current = s.Current
	change.Longest = s.Longest
	return change, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Milestones
// ─────────────────────────────────────────────────────────────────────────────

// StreakMilestones maps a streak length to its bonus XP.
type StreakMilestones map[int]int64

// DefaultStreakMilestones returns the 7/30/100 day bonuses.
func DefaultStreakMilestones() StreakMilestones {
	return StreakMilestones{7: 50, 30: 200, 100: 1000}
}

// BonusFor returns the bonus for a streak of exactly days.
func (m StreakMilestones) BonusFor(days int) (int64, bool) {
	bonus, ok := m[days]
	return bonus, ok && bonus > 0
}

// ParseStreakMilestones parses "7:50,30:200,100:1000".
func ParseStreakMilestones(raw string) (StreakMilestones, error) {
	out := StreakMilestones{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		days, bonus, found := strings.Cut(part, ":")
		if !found {
			return nil, fmt.Errorf("streak milestone %q: expected days:bonus", part)
		}
		d, err := strconv.Atoi(strings.TrimSpace(days))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("streak milestone %q: invalid day count", part)
		}
		b, err := strconv.ParseInt(strings.TrimSpace(bonus), 10, 64)
		if err != nil || b <= 0 {
			return nil, fmt.Errorf("streak milestone %q: invalid bonus", part)
		}
		out[d] = b
	}
	return out, nil
}

// StreakBonusSourceID scopes a milestone bonus to (user, milestone, day).
func StreakBonusSourceID(userID string, milestone int, dayKey string) string {
	return fmt.Sprintf("streak:%s:%d:%s", userID, milestone, dayKey)
}
