package command

import (
	"context"
	"fmt"

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IDEMPOTENCY GUARD
// Prevents a (user, source, source id) triple from taking effect twice.
// Both operations run inside the caller's store transaction, so a claim is
// only durable if the award it protects is committed with it.
// ══════════════════════════════════════════════════════════════════════════════

// IdempotencyGuard claims and releases guard records.
type IdempotencyGuard struct{}

// NewIdempotencyGuard creates a guard.
func NewIdempotencyGuard() *IdempotencyGuard {
	return &IdempotencyGuard{}
}

// TryClaim creates the guard record for record.Key.
//
// An empty SourceID bypasses the guard: the award is repeatable, nothing is
// written and claimed is true. Otherwise claimed is false when a record with
// the same key already exists.
func (g *IdempotencyGuard) TryClaim(ctx context.Context, tx progression.Tx, record progression.GuardRecord) (bool, error) {
	if record.Key.UserID == "" || record.Key.Source == "" {
		return false, shared.ErrGuardKeyRequired
	}
	if record.Key.Bypassed() {
		return true, nil
	}

	claimed, err := tx.ClaimGuard(ctx, record)
	if err != nil {
		return false, fmt.Errorf("guard: claim %s/%s: %w", record.Key.Source, record.Key.SourceID, err)
	}
	return claimed, nil
}

// ReleaseAllForUser deletes every guard record of userID. Only the reset
// flow calls it.
func (g *IdempotencyGuard) ReleaseAllForUser(ctx context.Context, tx progression.Tx, userID string) (int, error) {
	if userID == "" {
		return 0, shared.ErrInvalidUserID
	}
	n, err := tx.ReleaseGuards(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("guard: release for %s: %w", userID, err)
	}
	return n, nil
}
