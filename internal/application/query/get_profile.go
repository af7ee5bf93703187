// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROFILE QUERY
// Reads the latest committed profile for dashboards and achievement pages.
// The read goes straight to the store and never creates state.
// ══════════════════════════════════════════════════════════════════════════════

// GetProfileQuery contains the parameters of the query.
type GetProfileQuery struct {
	UserID string
}

// Validate validates the query.
func (q GetProfileQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return err
	}
	return nil
}

// ProfileView is the read model of a profile.
type ProfileView struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Identity
	// ─────────────────────────────────────────────────────────────────────────

	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	IsGuest     bool   `json:"is_guest"`

	// Exists is false when the user has no profile yet; the rest of the
	// view then shows the defaults a first award would create.
	Exists bool `json:"exists"`

	// ─────────────────────────────────────────────────────────────────────────
	// XP and level
	// ─────────────────────────────────────────────────────────────────────────

	TotalXP    int64  `json:"total_xp"`
	Level      int    `json:"level"`
	LevelTitle string `json:"level_title,omitempty"`

	// NextLevelXP is the threshold of the next level, 0 at max level.
	NextLevelXP int64 `json:"next_level_xp"`

	// XPToNextLevel is how much XP is missing to level up.
	XPToNextLevel int64 `json:"xp_to_next_level"`

	// ProgressPercent is the progress within the current level (0-100).
	ProgressPercent float64 `json:"progress_percent"`

	IsMaxLevel bool `json:"is_max_level"`

	// ─────────────────────────────────────────────────────────────────────────
	// Rewards
	// ─────────────────────────────────────────────────────────────────────────

	Attributes          map[string]int `json:"attributes"`
	CompletedMilestones []string       `json:"completed_milestones"`
	UnlockedPermissions []string       `json:"unlocked_permissions"`
	UnlockedContent     []string       `json:"unlocked_content"`

	HasReceivedWelcomeBonus bool `json:"has_received_welcome_bonus"`

	// ─────────────────────────────────────────────────────────────────────────
	// Streak
	// ─────────────────────────────────────────────────────────────────────────

	CurrentStreak      int    `json:"current_streak"`
	LongestStreak      int    `json:"longest_streak"`
	LastCompletionDate string `json:"last_completion_date,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// GetProfileHandler handles the GetProfileQuery.
type GetProfileHandler struct {
	store progression.Store
	curve *progression.LevelCurve
}

// NewGetProfileHandler creates a new GetProfileHandler.
func NewGetProfileHandler(store progression.Store, curve *progression.LevelCurve) *GetProfileHandler {
	if curve == nil {
		curve = progression.DefaultLevelCurve()
	}
	return &GetProfileHandler{store: store, curve: curve}
}

// Handle executes the query.
func (h *GetProfileHandler) Handle(ctx context.Context, q GetProfileQuery) (*ProfileView, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_profile: validation failed: %w", err)
	}

	profile, err := h.store.GetProfile(ctx, q.UserID)
	exists := true
	switch {
	case errors.Is(err, shared.ErrProfileNotFound):
		profile = progression.NewProfileWithRewards(q.UserID, h.curve, time.Time{})
		exists = false
	case err != nil:
		if !shared.IsPersistence(err) {
			err = shared.PersistenceError("GetProfile", "load profile", err)
		}
		return nil, fmt.Errorf("get_profile: %w", err)
	}

	return h.toView(profile, exists), nil
}

func (h *GetProfileHandler) toView(p *progression.Profile, exists bool) *ProfileView {
	level := h.curve.Clamp(h.curve.LevelFor(p.TotalXP))

	view := &ProfileView{
		UserID:                  p.UserID,
		DisplayName:             p.DisplayName,
		IsGuest:                 p.IsGuest,
		Exists:                  exists,
		TotalXP:                 p.TotalXP,
		Level:                   level,
		Attributes:              p.Attributes,
		CompletedMilestones:     p.MilestoneIDs(),
		UnlockedPermissions:     p.UnlockedPermissions,
		UnlockedContent:         p.UnlockedContent,
		HasReceivedWelcomeBonus: p.HasReceivedWelcomeBonus,
		CurrentStreak:           p.Streak.Current,
		LongestStreak:           p.Streak.Longest,
		LastCompletionDate:      p.Streak.LastCompletionDate,
		UpdatedAt:               p.UpdatedAt,
	}

	def, err := h.curve.ConfigFor(level)
	if err == nil {
		view.LevelTitle = def.Title
	}

	next, ok := h.curve.NextThreshold(level)
	if !ok {
		view.IsMaxLevel = true
		view.ProgressPercent = 100
		return view
	}

	view.NextLevelXP = next
	view.XPToNextLevel = next - p.TotalXP
	if span := next - def.XPThreshold; span > 0 {
		view.ProgressPercent = float64(p.TotalXP-def.XPThreshold) / float64(span) * 100
	}
	return view
}
