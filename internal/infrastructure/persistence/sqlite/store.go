// Package sqlite implements the progression store on an embedded SQLite file
// using the pure-Go modernc driver. A single connection serializes writers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/redmansion/progression-engine/internal/domain/progression"
	"github.com/redmansion/progression-engine/internal/domain/shared"
)

const schema = `
CREATE TABLE IF NOT EXISTS progression_profiles (
	user_id            TEXT PRIMARY KEY,
	total_xp           INTEGER NOT NULL DEFAULT 0 CHECK (total_xp >= 0),
	current_level      INTEGER NOT NULL DEFAULT 0,
	attributes         TEXT NOT NULL DEFAULT '{}',
	milestones         TEXT NOT NULL DEFAULT '[]',
	permissions        TEXT NOT NULL DEFAULT '[]',
	content            TEXT NOT NULL DEFAULT '[]',
	streak_current     INTEGER NOT NULL DEFAULT 0,
	streak_longest     INTEGER NOT NULL DEFAULT 0,
	streak_last_date   TEXT NOT NULL DEFAULT '',
	welcome_bonus      INTEGER NOT NULL DEFAULT 0,
	display_name       TEXT NOT NULL DEFAULT '',
	email              TEXT NOT NULL DEFAULT '',
	is_guest           INTEGER NOT NULL DEFAULT 0,
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL,
	version            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS progression_guards (
	id          TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	source      TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	amount      INTEGER NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	claimed_at  INTEGER NOT NULL,
	PRIMARY KEY (user_id, source, source_id)
);
`

// Store is a progression.Store backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

var _ progression.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "progression.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA journal_mode = WAL`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// RunInTransaction implements progression.Store.
func (s *Store) RunInTransaction(ctx context.Context, _ string, fn func(tx progression.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return shared.PersistenceError("RunInTransaction", "begin", err)
	}

	defer func() {
		if err == nil {
			return
		}
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = shared.InconsistentStateError("RunInTransaction", "rollback failed", errors.Join(err, rbErr))
		}
	}()

	if err = fn(&transaction{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return shared.PersistenceError("RunInTransaction", "commit", err)
	}
	return nil
}

// GetProfile implements progression.Store.
func (s *Store) GetProfile(ctx context.Context, userID string) (*progression.Profile, error) {
	return getProfile(ctx, s.db, userID)
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type transaction struct {
	tx *sql.Tx
}

func (t *transaction) GetProfile(ctx context.Context, userID string) (*progression.Profile, error) {
	return getProfile(ctx, t.tx, userID)
}

func (t *transaction) SaveProfile(ctx context.Context, p *progression.Profile) error {
	if p == nil || p.UserID == "" {
		return shared.ErrInvalidUserID
	}
	cols, err := encodeCollections(p)
	if err != nil {
		return shared.PersistenceError("SaveProfile", "encode profile", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO progression_profiles (
			user_id, total_xp, current_level, attributes, milestones, permissions, content,
			streak_current, streak_longest, streak_last_date, welcome_bonus,
			display_name, email, is_guest, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			total_xp = excluded.total_xp,
			current_level = excluded.current_level,
			attributes = excluded.attributes,
			milestones = excluded.milestones,
			permissions = excluded.permissions,
			content = excluded.content,
			streak_current = excluded.streak_current,
			streak_longest = excluded.streak_longest,
			streak_last_date = excluded.streak_last_date,
			welcome_bonus = excluded.welcome_bonus,
			display_name = excluded.display_name,
			email = excluded.email,
			is_guest = excluded.is_guest,
			updated_at = excluded.updated_at,
			version = excluded.version`,
		p.UserID, p.TotalXP, p.CurrentLevel, cols.attributes, cols.milestones, cols.permissions, cols.content,
		p.Streak.Current, p.Streak.Longest, p.Streak.LastCompletionDate, p.HasReceivedWelcomeBonus,
		p.DisplayName, p.Email, p.IsGuest, p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano(), p.Version,
	)
	if err != nil {
		return shared.PersistenceError("SaveProfile", "upsert profile", err)
	}
	return nil
}

func (t *transaction) DeleteProfile(ctx context.Context, userID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM progression_profiles WHERE user_id = ?`, userID)
	if err != nil {
		return false, shared.PersistenceError("DeleteProfile", "delete profile", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, shared.PersistenceError("DeleteProfile", "rows affected", err)
	}
	return n > 0, nil
}

func (t *transaction) ClaimGuard(ctx context.Context, r progression.GuardRecord) (bool, error) {
	if r.Key.UserID == "" || r.Key.Source == "" {
		return false, shared.ErrGuardKeyRequired
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO progression_guards (id, user_id, source, source_id, amount, reason, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, source, source_id) DO NOTHING`,
		r.ID, r.Key.UserID, string(r.Key.Source), r.Key.SourceID, r.Amount, r.Reason, r.ClaimedAt.UnixNano(),
	)
	if err != nil {
		return false, shared.PersistenceError("ClaimGuard", "insert guard", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, shared.PersistenceError("ClaimGuard", "rows affected", err)
	}
	return n == 1, nil
}

func (t *transaction) ReleaseGuards(ctx context.Context, userID string) (int, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM progression_guards WHERE user_id = ?`, userID)
	if err != nil {
		return 0, shared.PersistenceError("ReleaseGuards", "delete guards", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, shared.PersistenceError("ReleaseGuards", "rows affected", err)
	}
	return int(n), nil
}

func (t *transaction) CountGuards(ctx context.Context, userID string) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM progression_guards WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, shared.PersistenceError("CountGuards", "count guards", err)
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func getProfile(ctx context.Context, q querier, userID string) (*progression.Profile, error) {
	var (
		p                                            progression.Profile
		attributes, milestones, permissions, content string
		createdAt, updatedAt                         int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT user_id, total_xp, current_level, attributes, milestones, permissions, content,
			streak_current, streak_longest, streak_last_date, welcome_bonus,
			display_name, email, is_guest, created_at, updated_at, version
		FROM progression_profiles WHERE user_id = ?`, userID,
	).Scan(
		&p.UserID, &p.TotalXP, &p.CurrentLevel, &attributes, &milestones, &permissions, &content,
		&p.Streak.Current, &p.Streak.Longest, &p.Streak.LastCompletionDate, &p.HasReceivedWelcomeBonus,
		&p.DisplayName, &p.Email, &p.IsGuest, &createdAt, &updatedAt, &p.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrProfileNotFound
	}
	if err != nil {
		return nil, shared.PersistenceError("GetProfile", "select profile", err)
	}

	if err := decodeCollections(&p, attributes, milestones, permissions, content); err != nil {
		return nil, shared.InconsistentStateError("GetProfile", "stored profile is unreadable", err)
	}
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	p.Normalize()
	return &p, nil
}

type collections struct {
	attributes, milestones, permissions, content string
}

func encodeCollections(p *progression.Profile) (collections, error) {
	var out collections
	for _, f := range []struct {
		dst *string
		v   any
	}{
		{&out.attributes, nonNilMap(p.Attributes)},
		{&out.milestones, p.MilestoneIDs()},
		{&out.permissions, nonNilSlice(p.UnlockedPermissions)},
		{&out.content, nonNilSlice(p.UnlockedContent)},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return out, err
		}
		*f.dst = string(b)
	}
	return out, nil
}

func decodeCollections(p *progression.Profile, attributes, milestones, permissions, content string) error {
	if err := json.Unmarshal([]byte(attributes), &p.Attributes); err != nil {
		return fmt.Errorf("attributes: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(milestones), &ids); err != nil {
		return fmt.Errorf("milestones: %w", err)
	}
	p.CompletedMilestones = make(map[string]bool, len(ids))
	for _, id := range ids {
		p.CompletedMilestones[id] = true
	}
	if err := json.Unmarshal([]byte(permissions), &p.UnlockedPermissions); err != nil {
		return fmt.Errorf("permissions: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &p.UnlockedContent); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	return nil
}

func nonNilMap(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
