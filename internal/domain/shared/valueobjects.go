// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"math"
	"strings"
	"unicode/utf8"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// MaxUserIDLength bounds user identifiers accepted by the engine.
const MaxUserIDLength = 128

// UserID is an opaque user identifier issued by the auth layer.
type UserID string

// IsValid checks that the ID is non-blank and of sane length.
func (u UserID) IsValid() bool {
	s := strings.TrimSpace(string(u))
	return s != "" && utf8.RuneCountInString(s) <= MaxUserIDLength
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
// Ids are stored verbatim, so surrounding whitespace is rejected instead of
// trimmed; " u" and "u" would otherwise be two users.
func NewUserID(id string) (UserID, error) {
	u := UserID(id)
	if !u.IsValid() {
		return "", ErrInvalidUserID
	}
	if strings.TrimSpace(id) != id {
		return "", ErrPaddedUserID
	}
	return u, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP is a cumulative, non-negative experience point total.
type XP int64

const (
	// MinXP is the floor of any XP total.
	MinXP XP = 0
	// MaxXP caps totals far below int64 overflow.
	MaxXP XP = math.MaxInt64 / 2
)

// IsValid checks if the XP value is within valid range.
func (x XP) IsValid() bool {
	return x >= MinXP && x <= MaxXP
}

// Int64 returns the underlying value.
func (x XP) Int64() int64 {
	return int64(x)
}

// Add adds a positive amount. A sum above MaxXP is rejected with
// ErrXPOverflow rather than capped, so the caller can roll the award back.
func (x XP) Add(amount int64) (XP, error) {
	if amount <= 0 {
		return x, nil
	}
	if int64(MaxXP)-int64(x) < amount {
		return x, ErrXPOverflow
	}
	return x + XP(amount), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Attribute Points
// ═══════════════════════════════════════════════════════════════════════════

// Well-known attribute names. The engine accepts any non-empty name.
const (
	AttributeAnalytical = "analytical"
	AttributeCultural   = "cultural"
	AttributeLiterary   = "literary"
	AttributeSocial     = "social"
)

// MergeAttributes adds every non-negative value of src into dst and returns dst.
// A nil dst is allocated.
func MergeAttributes(dst map[string]int, src map[string]int) map[string]int {
	if dst == nil {
		dst = make(map[string]int, len(src))
	}
	for name, points := range src {
		if name == "" || points <= 0 {
			continue
		}
		dst[name] += points
	}
	return dst
}
