package progression

import (
	"slices"
	"strings"
)

// Source identifies the kind of action that produced an award.
type Source string

const (
	SourceReading       Source = "reading"
	SourceDailyTask     Source = "daily_task"
	SourceCommunity     Source = "community"
	SourceNote          Source = "note"
	SourceAchievement   Source = "achievement"
	SourceAdmin         Source = "admin"
	SourceAIInteraction Source = "ai_interaction"
	// SourceStreakBonus is reserved for streak milestone bonuses.
	SourceStreakBonus Source = "streak_bonus"
)

// AllSources lists every accepted source in a stable order.
func AllSources() []Source {
	return []Source{
		SourceReading,
		SourceDailyTask,
		SourceCommunity,
		SourceNote,
		SourceAchievement,
		SourceAdmin,
		SourceAIInteraction,
		SourceStreakBonus,
	}
}

// IsValid reports whether s is one of the enumerated sources.
func (s Source) IsValid() bool {
	return slices.Contains(AllSources(), s)
}

// String returns the string representation.
func (s Source) String() string {
	return string(s)
}

// ParseSource normalizes and validates a source name.
func ParseSource(raw string) (Source, bool) {
	s := Source(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.IsValid()
}

// DefaultMilestoneSources are the sources whose source ids count as completed
// one-time milestones (e.g. "chapter-1").
func DefaultMilestoneSources() []Source {
	return []Source{SourceReading, SourceAchievement}
}

// WelcomeBonusSourceID is the source id of the one-time welcome bonus.
const WelcomeBonusSourceID = "welcome-bonus"
