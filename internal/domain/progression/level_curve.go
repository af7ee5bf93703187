package progression

import (
	"fmt"
	"sort"

	"github.com/redmansion/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

// LevelDefinition is one row of the static level table.
type LevelDefinition struct {
	Level               int            `json:"level" yaml:"level"`
	Title               string         `json:"title,omitempty" yaml:"title,omitempty"`
	XPThreshold         int64          `json:"xp_threshold" yaml:"xp_threshold"`
	UnlockedPermissions []string       `json:"unlocked_permissions,omitempty" yaml:"unlocked_permissions,omitempty"`
	UnlockedContent     []string       `json:"unlocked_content,omitempty" yaml:"unlocked_content,omitempty"`
	AttributeRewards    map[string]int `json:"attribute_rewards,omitempty" yaml:"attribute_rewards,omitempty"`
}

func (d LevelDefinition) clone() LevelDefinition {
	out := d
	out.UnlockedPermissions = append([]string(nil), d.UnlockedPermissions...)
	out.UnlockedContent = append([]string(nil), d.UnlockedContent...)
	if d.AttributeRewards != nil {
		out.AttributeRewards = make(map[string]int, len(d.AttributeRewards))
		for k, v := range d.AttributeRewards {
			out.AttributeRewards[k] = v
		}
	}
	return out
}

// Rewards is the union of unlocks across one or more levels.
type Rewards struct {
	Permissions []string
	Content     []string
	Attributes  map[string]int
}

func (r *Rewards) add(d LevelDefinition) {
	r.Permissions = appendUnique(r.Permissions, d.UnlockedPermissions...)
	r.Content = appendUnique(r.Content, d.UnlockedContent...)
	if len(d.AttributeRewards) > 0 {
		r.Attributes = shared.MergeAttributes(r.Attributes, d.AttributeRewards)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL CURVE
// ══════════════════════════════════════════════════════════════════════════════

// LevelCurve maps cumulative XP to levels. It is immutable after construction
// and safe for concurrent use.
type LevelCurve struct {
	levels []LevelDefinition
}

// NewLevelCurve validates defs and builds a curve. Definitions may arrive in
// any order; they must cover levels 0..n without gaps, level 0 must start at
// 0 XP and thresholds must strictly increase.
func NewLevelCurve(defs []LevelDefinition) (*LevelCurve, error) {
	if len(defs) == 0 {
		return nil, shared.WrapError("levels", "Validate", shared.ErrValidation, "level table is empty", shared.ErrInvalidLevelCurve)
	}

	levels := make([]LevelDefinition, len(defs))
	for i, d := range defs {
		levels[i] = d.clone()
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })

	for i, d := range levels {
		if d.Level != i {
			return nil, invalidCurve(fmt.Sprintf("expected level %d, got %d", i, d.Level))
		}
		if i == 0 && d.XPThreshold != 0 {
			return nil, invalidCurve("level 0 must have a threshold of 0")
		}
		if i > 0 && d.XPThreshold <= levels[i-1].XPThreshold {
			return nil, invalidCurve(fmt.Sprintf("threshold of level %d must exceed level %d", i, i-1))
		}
		for name, points := range d.AttributeRewards {
			if name == "" || points < 0 {
				return nil, invalidCurve(fmt.Sprintf("level %d has an invalid attribute reward %q=%d", i, name, points))
			}
		}
	}

	return &LevelCurve{levels: levels}, nil
}

func invalidCurve(msg string) error {
	return shared.WrapError("levels", "Validate", shared.ErrValidation, msg, shared.ErrInvalidLevelCurve)
}

// MustLevelCurve is NewLevelCurve for static tables known to be valid.
func MustLevelCurve(defs []LevelDefinition) *LevelCurve {
	c, err := NewLevelCurve(defs)
	if err != nil {
		panic(err)
	}
	return c
}

// LevelFor returns the highest level whose threshold is <= totalXP.
func (c *LevelCurve) LevelFor(totalXP int64) int {
	if totalXP <= 0 {
		return 0
	}
	// First level whose threshold exceeds totalXP, minus one.
	i := sort.Search(len(c.levels), func(i int) bool {
		return c.levels[i].XPThreshold > totalXP
	})
	return i - 1
}

// ConfigFor returns the definition of level, or ErrUnknownLevel when the level
// is outside the table. Production callers clamp with Clamp first.
func (c *LevelCurve) ConfigFor(level int) (LevelDefinition, error) {
	if level < 0 || level >= len(c.levels) {
		return LevelDefinition{}, fmt.Errorf("level %d: %w", level, shared.ErrUnknownLevel)
	}
	return c.levels[level].clone(), nil
}

// NextThreshold returns the threshold of level+1. ok is false at or beyond the
// maximum level.
func (c *LevelCurve) NextThreshold(level int) (threshold int64, ok bool) {
	next := level + 1
	if next <= 0 {
		next = 1
	}
	if next >= len(c.levels) {
		return 0, false
	}
	return c.levels[next].XPThreshold, true
}

// MaxLevel returns the highest configured level.
func (c *LevelCurve) MaxLevel() int {
	return len(c.levels) - 1
}

// Clamp limits level to the configured range.
func (c *LevelCurve) Clamp(level int) int {
	switch {
	case level < 0:
		return 0
	case level > c.MaxLevel():
		return c.MaxLevel()
	default:
		return level
	}
}

// Levels returns a copy of the table.
func (c *LevelCurve) Levels() []LevelDefinition {
	out := make([]LevelDefinition, len(c.levels))
	for i, d := range c.levels {
		out[i] = d.clone()
	}
	return out
}

// RewardsBetween returns the union of rewards of every level in (from, to].
func (c *LevelCurve) RewardsBetween(from, to int) Rewards {
	var r Rewards
	from, to = c.Clamp(from), c.Clamp(to)
	for lvl := from + 1; lvl <= to; lvl++ {
		r.add(c.levels[lvl])
	}
	return r
}

// ─────────────────────────────────────────────────────────────────────────────
// Default table
// ─────────────────────────────────────────────────────────────────────────────

// DefaultLevels is the built-in level table used when no file is configured.
func DefaultLevels() []LevelDefinition {
	return []LevelDefinition{
		{Level: 0, Title: "Newcomer", XPThreshold: 0},
		{
			Level: 1, Title: "Reader", XPThreshold: 100,
			UnlockedPermissions: []string{"community.comment"},
			UnlockedContent:     []string{"chapters-1-10"},
		},
		{
			Level: 2, Title: "Apprentice Scholar", XPThreshold: 300,
			UnlockedPermissions: []string{"community.post"},
			UnlockedContent:     []string{"chapters-11-30", "character-map"},
			AttributeRewards:    map[string]int{shared.AttributeLiterary: 5},
		},
		{
			Level: 3, Title: "Poetry Club Member", XPThreshold: 700,
			UnlockedPermissions: []string{"notes.share"},
			UnlockedContent:     []string{"chapters-31-60", "poetry-society"},
			AttributeRewards:    map[string]int{shared.AttributeCultural: 5},
		},
		{
			Level: 4, Title: "Garden Scholar", XPThreshold: 1500,
			UnlockedPermissions: []string{"ai.deep_questions"},
			UnlockedContent:     []string{"chapters-61-80", "grand-view-garden"},
			AttributeRewards:    map[string]int{shared.AttributeAnalytical: 5},
		},
		{
			Level: 5, Title: "Red Chamber Master", XPThreshold: 3000,
			UnlockedPermissions: []string{"community.moderate"},
			UnlockedContent:     []string{"chapters-81-120", "commentary-editions"},
			AttributeRewards: map[string]int{
				shared.AttributeLiterary:   10,
				shared.AttributeCultural:   10,
				shared.AttributeAnalytical: 10,
			},
		},
	}
}

// DefaultLevelCurve builds the curve from DefaultLevels.
func DefaultLevelCurve() *LevelCurve {
	return MustLevelCurve(DefaultLevels())
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v == "" || containsString(dst, v) {
			continue
		}
		dst = append(dst, v)
	}
	return dst
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
