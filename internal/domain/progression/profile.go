package progression

import (
	"sort"
	"time"

	"github.com/redmansion/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE AGGREGATE
// ══════════════════════════════════════════════════════════════════════════════

// Profile is the per-user progression aggregate and the unit of atomic
// read-modify-write.
type Profile struct {
	UserID string `json:"user_id"`

	TotalXP int64 `json:"total_xp"`

	// CurrentLevel is derived from TotalXP; only ApplyXP, SyncLevel and NewProfile set it.
	CurrentLevel int `json:"current_level"`

	Attributes          map[string]int  `json:"attributes"`
	CompletedMilestones map[string]bool `json:"completed_milestones"`
	UnlockedPermissions []string        `json:"unlocked_permissions"`
	UnlockedContent     []string        `json:"unlocked_content"`

	Streak Streak `json:"streak"`

	HasReceivedWelcomeBonus bool `json:"has_received_welcome_bonus"`

	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	IsGuest     bool   `json:"is_guest"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// NewProfile creates the default profile: level 0, zero XP.
func NewProfile(userID string, now time.Time) *Profile {
	now = now.UTC()
	return &Profile{
		UserID:              userID,
		Attributes:          make(map[string]int),
		CompletedMilestones: make(map[string]bool),
		UnlockedPermissions: []string{},
		UnlockedContent:     []string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// NewProfileWithRewards creates the default profile and grants the unlocks of
// level 0, if the curve defines any.
func NewProfileWithRewards(userID string, curve *LevelCurve, now time.Time) *Profile {
	p := NewProfile(userID, now)
	if def, err := curve.ConfigFor(0); err == nil {
		p.UnlockedPermissions = appendUnique(p.UnlockedPermissions, def.UnlockedPermissions...)
		p.UnlockedContent = appendUnique(p.UnlockedContent, def.UnlockedContent...)
		p.Attributes = shared.MergeAttributes(p.Attributes, def.AttributeRewards)
	}
	return p
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Attributes = make(map[string]int, len(p.Attributes))
	for k, v := range p.Attributes {
		out.Attributes[k] = v
	}
	out.CompletedMilestones = make(map[string]bool, len(p.CompletedMilestones))
	for k, v := range p.CompletedMilestones {
		out.CompletedMilestones[k] = v
	}
	out.UnlockedPermissions = append([]string{}, p.UnlockedPermissions...)
	out.UnlockedContent = append([]string{}, p.UnlockedContent...)
	return &out
}

// Normalize fills nil collections after decoding from storage.
func (p *Profile) Normalize() {
	if p.Attributes == nil {
		p.Attributes = make(map[string]int)
	}
	if p.CompletedMilestones == nil {
		p.CompletedMilestones = make(map[string]bool)
	}
	if p.UnlockedPermissions == nil {
		p.UnlockedPermissions = []string{}
	}
	if p.UnlockedContent == nil {
		p.UnlockedContent = []string{}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Applying XP
// ─────────────────────────────────────────────────────────────────────────────

// LevelProgress describes what one ApplyXP call changed.
type LevelProgress struct {
	FromLevel    int
	ToLevel      int
	PreviousXP   int64
	NewTotalXP   int64
	LevelsGained int
	// Rewards is the union of rewards of every level crossed.
	Rewards Rewards
}

// LeveledUp reports whether at least one threshold was crossed.
func (lp LevelProgress) LeveledUp() bool {
	return lp.ToLevel > lp.FromLevel
}

// ApplyXP adds amount to the total, merges per-award attribute points and
// grants the rewards of every level crossed. The starting level is derived
// from the stored total, not read from CurrentLevel, so a profile saved under
// an older curve resolves against the current one. Non-positive amounts
// leave the profile untouched; a total past shared.MaxXP is rejected.
func (p *Profile) ApplyXP(curve *LevelCurve, amount int64, attributes map[string]int) (LevelProgress, error) {
	p.Normalize()

	from := curve.LevelFor(p.TotalXP)
	progress := LevelProgress{
		FromLevel:  from,
		ToLevel:    from,
		PreviousXP: p.TotalXP,
		NewTotalXP: p.TotalXP,
	}
	if amount <= 0 {
		return progress, nil
	}

	total, err := shared.XP(p.TotalXP).Add(amount)
	if err != nil {
		return progress, err
	}

	to := curve.LevelFor(total.Int64())
	progress.Rewards = curve.RewardsBetween(from, to)

	p.TotalXP = total.Int64()
	p.CurrentLevel = to
	p.Attributes = shared.MergeAttributes(p.Attributes, attributes)
	p.Attributes = shared.MergeAttributes(p.Attributes, progress.Rewards.Attributes)
	p.UnlockedPermissions = appendUnique(p.UnlockedPermissions, progress.Rewards.Permissions...)
	p.UnlockedContent = appendUnique(p.UnlockedContent, progress.Rewards.Content...)

	progress.ToLevel = to
	progress.NewTotalXP = p.TotalXP
	progress.LevelsGained = to - from
	return progress, nil
}

// SyncLevel rewrites CurrentLevel from TotalXP under curve and returns the
// level that was stored. No rewards are granted for the correction.
func (p *Profile) SyncLevel(curve *LevelCurve) (stored int, changed bool) {
	stored = p.CurrentLevel
	p.CurrentLevel = curve.LevelFor(p.TotalXP)
	return stored, stored != p.CurrentLevel
}

// ─────────────────────────────────────────────────────────────────────────────
// Milestones
// ─────────────────────────────────────────────────────────────────────────────

// CompleteMilestone records a one-time milestone. Returns false if it was
// already recorded.
func (p *Profile) CompleteMilestone(id string) bool {
	if id == "" {
		return false
	}
	p.Normalize()
	if p.HasCompleted(id) {
		return false
	}
	p.CompletedMilestones[id] = true
	return true
}

// HasCompleted reports whether the milestone was recorded.
func (p *Profile) HasCompleted(id string) bool {
	return p.CompletedMilestones[id]
}

// MilestoneIDs returns the completed milestones sorted for stable output.
func (p *Profile) MilestoneIDs() []string {
	ids := make([]string, 0, len(p.CompletedMilestones))
	for id, done := range p.CompletedMilestones {
		if done {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Touch bumps the audit fields before a save.
func (p *Profile) Touch(now time.Time) {
	p.UpdatedAt = now.UTC()
	p.Version++
}
