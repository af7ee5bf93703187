package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayKey_UsesReferenceZone(t *testing.T) {
	// 17:30 UTC is already the next day at UTC+8.
	utc := time.Date(2026, 10, 17, 17, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-10-18", DayKey(utc))

	// 15:59 UTC is still the same day at UTC+8.
	utc = time.Date(2026, 10, 17, 15, 59, 0, 0, time.UTC)
	assert.Equal(t, "2026-10-17", DayKey(utc))
}

func TestDaysBetweenKeys(t *testing.T) {
	tests := []struct {
		from, to string
		want     int
	}{
		{"2026-10-18", "2026-10-18", 0},
		{"2026-10-17", "2026-10-18", 1},
		{"2026-10-10", "2026-10-18", 8},
		{"2026-10-18", "2026-10-17", -1},
		{"2024-02-28", "2024-03-01", 2},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			got, err := DaysBetweenKeys(tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadReferenceZone(t *testing.T) {
	loc, err := LoadReferenceZone("")
	require.NoError(t, err)
	assert.NotNil(t, loc)

	_, err = LoadReferenceZone("Mars/Olympus_Mons")
	assert.Error(t, err)
}
