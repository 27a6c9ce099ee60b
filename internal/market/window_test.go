package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	for _, tf := range Timeframes() {
		got, err := ParseTimeframe(string(tf))
		require.NoError(t, err)
		assert.Equal(t, tf, got)
	}

	got, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, TF1h, got)

	_, err = ParseTimeframe("2h")
	assert.Error(t, err)
}

func TestChangeWindow(t *testing.T) {
	tests := []struct {
		tf       Timeframe
		interval string
		limit    int
	}{
		{TF5m, "1", 5},
		{TF15m, "1", 15},
		{TF1h, "1", 60},
		{TF4h, "15", 16},
		{TF1d, "60", 24},
	}
	for _, tt := range tests {
		t.Run(string(tt.tf), func(t *testing.T) {
			w := ChangeWindow(tt.tf)
			assert.Equal(t, tt.interval, w.Interval)
			assert.Equal(t, tt.limit, w.Limit)
			assert.True(t, w.End.IsZero(), "change windows end now")
		})
	}
}

func TestVolumeWindow(t *testing.T) {
	now := time.Date(2025, 3, 14, 13, 47, 22, 0, time.UTC)

	tests := []struct {
		tf       Timeframe
		interval string
		limit    int
		end      time.Time
	}{
		{TF5m, "1", 5, time.Date(2025, 3, 14, 13, 45, 0, 0, time.UTC)},
		{TF15m, "5", 3, time.Date(2025, 3, 14, 13, 45, 0, 0, time.UTC)},
		{TF1h, "15", 4, time.Date(2025, 3, 14, 13, 0, 0, 0, time.UTC)},
		{TF4h, "60", 4, time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)},
		{TF1d, "D", 1, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.tf), func(t *testing.T) {
			w := VolumeWindow(tt.tf, now)
			assert.Equal(t, tt.interval, w.Interval)
			assert.Equal(t, tt.limit, w.Limit)
			assert.Equal(t, tt.end.Add(-time.Millisecond), w.End)
		})
	}
}

func TestCutoff_NonUTCInput(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	now := time.Date(2025, 3, 15, 3, 0, 0, 0, loc) // 2025-03-14 18:00 UTC

	assert.Equal(t,
		time.Date(2025, 3, 13, 23, 59, 59, int(999*time.Millisecond), time.UTC),
		Cutoff(TF1d, now))
}

func TestStartOfDay(t *testing.T) {
	got := StartOfDay(time.Date(2025, 1, 1, 23, 59, 59, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), got)
}
