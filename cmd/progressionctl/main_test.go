package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmansion/progression-engine/internal/domain/progression"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "progression.db"))
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LEVEL_CURVE_FILE", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m), out)
	return m
}

func TestCLI_AwardIsIdempotentAcrossInvocations(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "award", "reader-1", "--amount", "40", "--source", "reading", "--source-id", "chapter-1")
	require.NoError(t, err)
	first := decode(t, out)
	assert.Equal(t, float64(40), first["NewTotalXP"])
	assert.Equal(t, false, first["IsDuplicate"])

	out, err = execute(t, "award", "reader-1", "--amount", "40", "--source", "reading", "--source-id", "chapter-1")
	require.NoError(t, err)
	second := decode(t, out)
	assert.Equal(t, float64(40), second["NewTotalXP"])
	assert.Equal(t, true, second["IsDuplicate"])

	out, err = execute(t, "profile", "reader-1")
	require.NoError(t, err)
	view := decode(t, out)
	assert.Equal(t, float64(40), view["total_xp"])
	assert.Equal(t, true, view["exists"])
}

func TestCLI_RejectsUnknownSource(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "award", "reader-1", "--amount", "5", "--source", "trading", "--source-id", "")
	assert.ErrorContains(t, err, "unknown source")
}

func TestCLI_Reseed(t *testing.T) {
	dir := setupEnv(t)

	path := filepath.Join(dir, "awards.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
awards:
  - user_id: reader-2
    amount: 10
    source: reading
    source_id: chapter-1
  - user_id: reader-2
    amount: 10
    source: reading
    source_id: chapter-1
  - user_id: reader-3
    amount: 25
    source: note
`), 0o600))

	out, err := execute(t, "reseed", path)
	require.NoError(t, err)
	summary := decode(t, out)
	assert.Equal(t, float64(3), summary["total"])
	assert.Equal(t, float64(2), summary["applied"])
	assert.Equal(t, float64(1), summary["duplicates"])
	assert.Equal(t, float64(0), summary["failed"])
}

func TestCLI_MigrateIsNoopForSQLite(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, `nothing to migrate for driver "sqlite"`)
}

func TestCLI_LevelsPrintsCurve(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "levels")
	require.NoError(t, err)
	assert.Contains(t, out, "levels:")
	assert.Contains(t, out, "xp_threshold")
}

func TestParseReseedFile(t *testing.T) {
	cmds, err := parseReseedFile([]byte(`
awards:
  - user_id: reader-1
    amount: 50
    source: Reading
    source_id: chapter-2
    attributes: {insight: 1}
`))
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, progression.SourceReading, cmds[0].Source)
	assert.Equal(t, "reseed", cmds[0].Reason)
	assert.Equal(t, map[string]int{"insight": 1}, cmds[0].Attributes)
}

func TestParseReseedFile_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", "", "empty"},
		{"no awards", "awards: []\n", "no awards"},
		{"unknown field", "awards:\n  - user_id: a\n    amount: 1\n    source: reading\n    bonus: 3\n", "decode"},
		{"unknown source", "awards:\n  - user_id: a\n    amount: 1\n    source: trading\n", "unknown source"},
		{"non-positive amount", "awards:\n  - user_id: a\n    amount: 0\n    source: reading\n", "award 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseReseedFile([]byte(tt.data))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
