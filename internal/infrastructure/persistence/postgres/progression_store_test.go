package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmansion/progression-engine/internal/domain/shared"
)

func TestAdvisoryLockKey(t *testing.T) {
	assert.Equal(t, AdvisoryLockKey("u-1"), AdvisoryLockKey("u-1"))
	assert.NotEqual(t, AdvisoryLockKey("u-1"), AdvisoryLockKey("u-2"))

	seen := make(map[int64]string)
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("user-%d", i)
		key := AdvisoryLockKey(id)
		prev, dup := seen[key]
		require.False(t, dup, "%s collides with %s", id, prev)
		seen[key] = id
	}
}

func TestErrorClassification(t *testing.T) {
	serialization := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40001"})
	deadlock := &pgconn.PgError{Code: "40P01"}
	unique := &pgconn.PgError{Code: "23505"}

	assert.True(t, IsSerializationFailure(serialization))
	assert.True(t, IsSerializationFailure(deadlock))
	assert.False(t, IsSerializationFailure(unique))
	assert.True(t, IsUniqueViolation(unique))
	assert.True(t, IsNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)))

	err := classify("SaveProfile", "upsert profile", serialization)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)
	assert.True(t, shared.IsRetryable(err))

	err = classify("SaveProfile", "upsert profile", unique)
	assert.True(t, shared.IsPersistence(err))
	assert.True(t, shared.IsRetryable(err))
}

func TestMigrations_Ordered(t *testing.T) {
	migs := Migrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL, m.Name)
		assert.NotEmpty(t, m.DownSQL, m.Name)
	}
	assert.True(t, strings.Contains(migs[1].UpSQL, "PRIMARY KEY (user_id, source, source_id)"))
}

func TestPoolConfig_AppliesDefaults(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://app@localhost:5432/progression")
	require.NoError(t, err)

	PoolConfig{MaxConns: 4, MinConns: 9}.apply(cfg)
	assert.Equal(t, int32(4), cfg.MaxConns)
	assert.Equal(t, int32(0), cfg.MinConns)
	assert.Equal(t, time.Hour, cfg.MaxConnLifetime)
	assert.Equal(t, time.Minute, cfg.HealthCheckPeriod)
}

func TestTransactionError(t *testing.T) {
	assert.NoError(t, transactionError(nil))

	saveFailed := shared.PersistenceError("SaveProfile", "upsert profile", errors.New("disk full"))
	assert.Same(t, saveFailed, transactionError(saveFailed))

	err := transactionError(&RollbackError{Err: saveFailed, Rollback: errors.New("conn reset")})
	assert.True(t, shared.IsInconsistentState(err))
	assert.False(t, shared.IsRetryable(err))
	assert.ErrorContains(t, err, "conn reset")
	assert.ErrorContains(t, err, "disk full")

	err = transactionError(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}))
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)
}
