package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmansion/progression-engine/internal/domain/progression"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "APP_TIMEZONE", "STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH",
		"LEVEL_CURVE_FILE", "STREAK_MILESTONES", "WELCOME_BONUS_XP", "MILESTONE_SOURCES",
		"STREAK_SOURCES",
		"BATCH_CONCURRENCY", "BATCH_RATE_PER_SECOND", "LOG_FORMAT", "REDIS_DISABLED", "REDIS_HOST",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, "Asia/Taipei", cfg.App.Timezone)
	require.NotNil(t, cfg.App.Location)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "data/progression.db", cfg.Store.SQLitePath)
	assert.True(t, cfg.Redis.Disabled)
	assert.Equal(t, int64(100), cfg.Progression.WelcomeBonusXP)
	assert.Equal(t, progression.DefaultStreakMilestones(), cfg.Progression.StreakMilestones)
	assert.Equal(t, progression.DefaultMilestoneSources(), cfg.Progression.MilestoneSources)
	assert.Empty(t, cfg.Progression.StreakSources)
	assert.Equal(t, 5, cfg.Progression.Curve.MaxLevel())
	assert.Equal(t, "json", cfg.Observability.LogFormat)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://app@localhost/progression")
	t.Setenv("STREAK_MILESTONES", "3:10, 14:80")
	t.Setenv("MILESTONE_SOURCES", "reading, note")
	t.Setenv("STREAK_SOURCES", "daily_task")
	t.Setenv("WELCOME_BONUS_XP", "250")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, progression.StreakMilestones{3: 10, 14: 80}, cfg.Progression.StreakMilestones)
	assert.Equal(t, []progression.Source{progression.SourceReading, progression.SourceNote}, cfg.Progression.MilestoneSources)
	assert.Equal(t, []progression.Source{progression.SourceDailyTask}, cfg.Progression.StreakSources)
	assert.Equal(t, int64(250), cfg.Progression.WelcomeBonusXP)
}

func TestLoad_RejectsStreakBonusAsStreakSource(t *testing.T) {
	clearEnv(t)
	t.Setenv("STREAK_SOURCES", "daily_task,streak_bonus")

	_, err := Load()
	assert.ErrorContains(t, err, "STREAK_SOURCES cannot include streak_bonus")
}

func TestLoad_CollectsErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("STREAK_MILESTONES", "seven:50")
	t.Setenv("MILESTONE_SOURCES", "reading,telepathy")
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "STREAK_MILESTONES")
	assert.ErrorContains(t, err, "telepathy")
	assert.ErrorContains(t, err, "APP_TIMEZONE")
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("WELCOME_BONUS_XP")
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("WELCOME_BONUS_XP=42\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("WELCOME_BONUS_XP") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.Progression.WelcomeBonusXP)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			App:           AppConfig{Environment: EnvDevelopment},
			Store:         StoreConfig{Driver: DriverMemory},
			Redis:         RedisConfig{Disabled: true},
			Progression:   ProgressionConfig{Curve: progression.DefaultLevelCurve(), WelcomeBonusXP: 100, BatchConcurrency: 4},
			Observability: ObservabilityConfig{LogFormat: "json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "STORE_DRIVER"},
		{"postgres without url", func(c *Config) { c.Store.Driver = DriverPostgres }, "DATABASE_URL"},
		{"memory in production", func(c *Config) { c.App.Environment = EnvProduction }, "not allowed in production"},
		{"zero welcome bonus", func(c *Config) { c.Progression.WelcomeBonusXP = 0 }, "WELCOME_BONUS_XP"},
		{"bad log format", func(c *Config) { c.Observability.LogFormat = "xml" }, "LOG_FORMAT"},
		{"redis without host", func(c *Config) { c.Redis.Disabled = false }, "REDIS_HOST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
