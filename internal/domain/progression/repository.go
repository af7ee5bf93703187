package progression

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// The contract for progression storage. Implementations live in
// infrastructure/persistence (memory, sqlite, postgres).
// ══════════════════════════════════════════════════════════════════════════════

// Store is the transactional progression store.
type Store interface {
	// RunInTransaction executes fn atomically for userID. Writes made through
	// tx become visible only if fn returns nil and the commit succeeds.
	// Implementations serialize transactions of the same user.
	RunInTransaction(ctx context.Context, userID string, fn func(tx Tx) error) error

	// GetProfile returns the latest committed profile.
	// Returns shared.ErrProfileNotFound if the user has none.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// Tx is the view of the store inside one transaction.
type Tx interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Profiles
	// ─────────────────────────────────────────────────────────────────────────

	// GetProfile returns the profile as seen by this transaction.
	// Returns shared.ErrProfileNotFound if the user has none.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// SaveProfile inserts or replaces the profile.
	SaveProfile(ctx context.Context, profile *Profile) error

	// DeleteProfile removes the profile. Reports whether one existed.
	DeleteProfile(ctx context.Context, userID string) (bool, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Idempotency guards
	// ─────────────────────────────────────────────────────────────────────────

	// ClaimGuard atomically creates the record. Returns false, with no side
	// effects, if a record with the same key already exists.
	ClaimGuard(ctx context.Context, record GuardRecord) (bool, error)

	// ReleaseGuards deletes every guard record of the user and returns the count.
	ReleaseGuards(ctx context.Context, userID string) (int, error)

	// CountGuards returns how many guard records the user has.
	CountGuards(ctx context.Context, userID string) (int, error)
}

// UserLocker serializes work on one user across processes. Implementations
// return an unlock func that is safe to call more than once.
type UserLocker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

// NopLocker is a UserLocker that never blocks.
type NopLocker struct{}

// Lock implements UserLocker.
func (NopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}
