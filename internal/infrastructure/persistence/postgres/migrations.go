package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

const migrationsTable = "progression_schema_migrations"

// Migration is one embedded schema change.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: Migrations()}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	q, err := m.conn.querier()
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	q, err := m.conn.querier()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `SELECT version, applied_at FROM `+migrationsTable+` ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			version   int
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies every pending migration and returns how many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if mig.UpSQL == "" {
			return ran, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO `+migrationsTable+` (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if IsUniqueViolation(err) {
			// Another instance recorded this version first; our copy rolled back.
			continue
		}
		if err != nil {
			return ran, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		ran++
	}
	return ran, nil
}

// Rollback reverts the most recently applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		last = max(last, v)
	}
	if last == 0 {
		return nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, `DELETE FROM `+migrationsTable+` WHERE version = $1`, last)
		return err
	})
}

// Status lists embedded migrations with their applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Migrations returns the embedded migrations in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_progression_profiles", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_progression_guards", UpSQL: migration002Up, DownSQL: migration002Down},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// 001: profiles
// ─────────────────────────────────────────────────────────────────────────────

const migration001Up = `
CREATE TABLE IF NOT EXISTS progression_profiles (
    user_id              TEXT PRIMARY KEY,
    total_xp             BIGINT NOT NULL DEFAULT 0,
    current_level        INTEGER NOT NULL DEFAULT 0,
    attributes           JSONB NOT NULL DEFAULT '{}'::jsonb,
    completed_milestones TEXT[] NOT NULL DEFAULT '{}',
    unlocked_permissions TEXT[] NOT NULL DEFAULT '{}',
    unlocked_content     TEXT[] NOT NULL DEFAULT '{}',
    streak_current       INTEGER NOT NULL DEFAULT 0,
    streak_longest       INTEGER NOT NULL DEFAULT 0,
    streak_last_date     VARCHAR(10) NOT NULL DEFAULT '',
    welcome_bonus        BOOLEAN NOT NULL DEFAULT FALSE,
    display_name         VARCHAR(100) NOT NULL DEFAULT '',
    email                VARCHAR(255) NOT NULL DEFAULT '',
    is_guest             BOOLEAN NOT NULL DEFAULT FALSE,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    version              BIGINT NOT NULL DEFAULT 0,

    CONSTRAINT valid_total_xp CHECK (total_xp >= 0),
    CONSTRAINT valid_level CHECK (current_level >= 0),
    CONSTRAINT valid_streak CHECK (streak_current >= 0 AND streak_longest >= streak_current)
);

CREATE INDEX IF NOT EXISTS idx_progression_profiles_level ON progression_profiles(current_level);
`

const migration001Down = `
DROP TABLE IF EXISTS progression_profiles;
`

// ─────────────────────────────────────────────────────────────────────────────
// 002: idempotency guards
// ─────────────────────────────────────────────────────────────────────────────

const migration002Up = `
CREATE TABLE IF NOT EXISTS progression_guards (
    id         UUID NOT NULL,
    user_id    TEXT NOT NULL,
    source     VARCHAR(32) NOT NULL,
    source_id  TEXT NOT NULL,
    amount     BIGINT NOT NULL,
    reason     TEXT NOT NULL DEFAULT '',
    claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, source, source_id)
);

CREATE INDEX IF NOT EXISTS idx_progression_guards_claimed_at ON progression_guards(claimed_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS progression_guards;
`
