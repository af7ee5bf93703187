package postgres

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION STORE
// ══════════════════════════════════════════════════════════════════════════════

// ProgressionStore implements progression.Store on PostgreSQL.
type ProgressionStore struct {
	conn *Connection
}

var _ progression.Store = (*ProgressionStore)(nil)

// NewProgressionStore creates a store over an open connection.
func NewProgressionStore(conn *Connection) *ProgressionStore {
	return &ProgressionStore{conn: conn}
}

// AdvisoryLockKey maps a user id onto the int64 key space of
// pg_advisory_xact_lock.
func AdvisoryLockKey(userID string) int64 {
	sum := blake2b.Sum256([]byte("progression:" + userID))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// RunInTransaction implements progression.Store. The user's advisory lock is
// held until commit or rollback.
func (s *ProgressionStore) RunInTransaction(ctx context.Context, userID string, fn func(tx progression.Tx) error) error {
	err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, AdvisoryLockKey(userID)); err != nil {
			return classify("RunInTransaction", "advisory lock", err)
		}
		return fn(&pgTx{tx: tx})
	})
	return transactionError(err)
}

// transactionError maps a WithTx result onto the domain kinds. A failed
// rollback outranks whatever fn returned.
func transactionError(err error) error {
	if err == nil {
		return nil
	}
	var rb *RollbackError
	if errors.As(err, &rb) {
		return shared.InconsistentStateError("RunInTransaction", "rollback failed", errors.Join(rb.Err, rb.Rollback))
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return classify("RunInTransaction", "transaction", err)
}

// GetProfile implements progression.Store.
func (s *ProgressionStore) GetProfile(ctx context.Context, userID string) (*progression.Profile, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, shared.PersistenceError("GetProfile", "pool", err)
	}
	return selectProfile(ctx, q, userID)
}

// classify turns a driver error into the matching domain error kind.
func classify(op, message string, err error) error {
	if IsSerializationFailure(err) {
		return shared.WrapError("progression", op, shared.ErrConcurrentModification, message, err)
	}
	return shared.PersistenceError(op, message, err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Transaction
// ─────────────────────────────────────────────────────────────────────────────

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetProfile(ctx context.Context, userID string) (*progression.Profile, error) {
	return selectProfile(ctx, t.tx, userID)
}

func (t *pgTx) SaveProfile(ctx context.Context, p *progression.Profile) error {
	if p == nil || p.UserID == "" {
		return shared.ErrInvalidUserID
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO progression_profiles (
			user_id, total_xp, current_level, attributes,
			completed_milestones, unlocked_permissions, unlocked_content,
			streak_current, streak_longest, streak_last_date, welcome_bonus,
			display_name, email, is_guest, created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (user_id) DO UPDATE SET
			total_xp = EXCLUDED.total_xp,
			current_level = EXCLUDED.current_level,
			attributes = EXCLUDED.attributes,
			completed_milestones = EXCLUDED.completed_milestones,
			unlocked_permissions = EXCLUDED.unlocked_permissions,
			unlocked_content = EXCLUDED.unlocked_content,
			streak_current = EXCLUDED.streak_current,
			streak_longest = EXCLUDED.streak_longest,
			streak_last_date = EXCLUDED.streak_last_date,
			welcome_bonus = EXCLUDED.welcome_bonus,
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			is_guest = EXCLUDED.is_guest,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version`,
		p.UserID, p.TotalXP, p.CurrentLevel, attributesOrEmpty(p.Attributes),
		p.MilestoneIDs(), stringsOrEmpty(p.UnlockedPermissions), stringsOrEmpty(p.UnlockedContent),
		p.Streak.Current, p.Streak.Longest, p.Streak.LastCompletionDate, p.HasReceivedWelcomeBonus,
		p.DisplayName, p.Email, p.IsGuest, p.CreatedAt, p.UpdatedAt, p.Version,
	)
	if err != nil {
		return classify("SaveProfile", "upsert profile", err)
	}
	return nil
}

func (t *pgTx) DeleteProfile(ctx context.Context, userID string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM progression_profiles WHERE user_id = $1`, userID)
	if err != nil {
		return false, classify("DeleteProfile", "delete profile", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) ClaimGuard(ctx context.Context, r progression.GuardRecord) (bool, error) {
	if r.Key.UserID == "" || r.Key.Source == "" {
		return false, shared.ErrGuardKeyRequired
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO progression_guards (id, user_id, source, source_id, amount, reason, claimed_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, source, source_id) DO NOTHING`,
		r.ID, r.Key.UserID, string(r.Key.Source), r.Key.SourceID, r.Amount, r.Reason, r.ClaimedAt,
	)
	if err != nil {
		return false, classify("ClaimGuard", "insert guard", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ReleaseGuards(ctx context.Context, userID string) (int, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM progression_guards WHERE user_id = $1`, userID)
	if err != nil {
		return 0, classify("ReleaseGuards", "delete guards", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) CountGuards(ctx context.Context, userID string) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM progression_guards WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, classify("CountGuards", "count guards", err)
	}
	return n, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Row mapping
// ─────────────────────────────────────────────────────────────────────────────

func selectProfile(ctx context.Context, q Querier, userID string) (*progression.Profile, error) {
	var (
		p                    progression.Profile
		milestones           []string
		createdAt, updatedAt time.Time
	)
	err := q.QueryRow(ctx, `
		SELECT user_id, total_xp, current_level, attributes,
			completed_milestones, unlocked_permissions, unlocked_content,
			streak_current, streak_longest, streak_last_date, welcome_bonus,
			display_name, email, is_guest, created_at, updated_at, version
		FROM progression_profiles WHERE user_id = $1`, userID,
	).Scan(
		&p.UserID, &p.TotalXP, &p.CurrentLevel, &p.Attributes,
		&milestones, &p.UnlockedPermissions, &p.UnlockedContent,
		&p.Streak.Current, &p.Streak.Longest, &p.Streak.LastCompletionDate, &p.HasReceivedWelcomeBonus,
		&p.DisplayName, &p.Email, &p.IsGuest, &createdAt, &updatedAt, &p.Version,
	)
	if IsNoRows(err) {
		return nil, shared.ErrProfileNotFound
	}
	if err != nil {
		return nil, classify("GetProfile", "select profile", err)
	}

	p.CompletedMilestones = make(map[string]bool, len(milestones))
	for _, id := range milestones {
		p.CompletedMilestones[id] = true
	}
	p.CreatedAt = createdAt.UTC()
	p.UpdatedAt = updatedAt.UTC()
	p.Normalize()
	return &p, nil
}

func attributesOrEmpty(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
