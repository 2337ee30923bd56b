package services

import (
	"testing"
	"time"

	apperrors "github.com/aihub/usage-core/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		expr   string
		window time.Duration
		days   int
	}{
		{"30 days", 30 * day, 30},
		{"7d", 7 * day, 7},
		{"24h", 24 * time.Hour, 1},
		{"36 hours", 36 * time.Hour, 2},
		{"2 weeks", 14 * day, 14},
		{"1 month", 30 * day, 30},
		{"1 Year", 365 * day, 365},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			p, err := ParsePeriod(tt.expr, fixedNow)
			require.NoError(t, err)
			assert.Equal(t, fixedNow.Add(-tt.window), p.Since)
			assert.Equal(t, fixedNow, p.Until)
			assert.Equal(t, tt.days, p.Days)
		})
	}
}

func TestParsePeriod_Today(t *testing.T) {
	p, err := ParsePeriod("today", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), p.Since)
	assert.Equal(t, 1, p.Days)
	assert.Equal(t, []string{"2026-03-10"}, p.SeriesDays(0))
}

func TestParsePeriod_Invalid(t *testing.T) {
	for _, expr := range []string{"", "days", "0 days", "-3 days", "5 fortnights", "thirty days", "300 years", "101 years", "9999999 hours"} {
		_, err := ParsePeriod(expr, fixedNow)
		assert.True(t, apperrors.IsValidation(err), "expr %q", expr)
	}
}

func TestParsePeriod_LongestWindow(t *testing.T) {
	p, err := ParsePeriod("100 years", fixedNow)
	require.NoError(t, err)
	assert.True(t, p.Since.Before(p.Until))
	assert.Equal(t, fixedNow.Add(-100*365*day), p.Since)
}

func TestPeriod_SeriesDays(t *testing.T) {
	p, err := ParsePeriod("3 days", fixedNow)
	require.NoError(t, err)

	assert.Equal(t, []string{"2026-03-08", "2026-03-09", "2026-03-10"}, p.SeriesDays(0))
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), p.SeriesStart(0))

	assert.Equal(t, []string{"2026-03-09", "2026-03-10"}, p.SeriesDays(2))
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), p.SeriesStart(2))
}
