package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kst = 9 * time.Hour

func TestPeriodOf(t *testing.T) {
	tests := []struct {
		name   string
		at     time.Time
		offset time.Duration
		want   string
	}{
		{"mid month", time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC), kst, "2024-03"},
		{"utc evening is next civil month", time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC), kst, "2024-04"},
		{"just before civil midnight", time.Date(2024, 3, 31, 14, 59, 59, 0, time.UTC), kst, "2024-03"},
		{"year rollover", time.Date(2023, 12, 31, 16, 0, 0, 0, time.UTC), kst, "2024-01"},
		{"negative offset", time.Date(2024, 4, 1, 2, 0, 0, 0, time.UTC), -5 * time.Hour, "2024-03"},
		{"zero offset", time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC), 0, "2024-10"},
		{"input zone ignored", time.Date(2024, 3, 31, 23, 0, 0, 0, time.FixedZone("X", 9*3600)), kst, "2024-03"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PeriodOf(tt.at, tt.offset).ID())
		})
	}
}

func TestPeriodFormatting(t *testing.T) {
	p := Period{Year: 2024, Month: time.March}
	assert.Equal(t, "2024-03", p.ID())
	assert.Equal(t, "monthly_2024_03", p.BadgePrefix())
	assert.Equal(t, "2024 03", p.Label())
}

func TestPeriodPreviousAndNext(t *testing.T) {
	assert.Equal(t, Period{Year: 2023, Month: time.December}, Period{Year: 2024, Month: time.January}.Previous())
	assert.Equal(t, Period{Year: 2024, Month: time.February}, Period{Year: 2024, Month: time.March}.Previous())
	assert.Equal(t, Period{Year: 2025, Month: time.January}, Period{Year: 2024, Month: time.December}.Next())

	// March 31st must not normalize into March when stepping back.
	now := time.Date(2024, 3, 31, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-02", PeriodOf(now, kst).Previous().ID())
}

func TestPeriodStart(t *testing.T) {
	p := Period{Year: 2024, Month: time.April}
	start := p.Start(kst)
	assert.Equal(t, time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC), start)
	assert.Equal(t, p, PeriodOf(start, kst))
	assert.Equal(t, p.Previous(), PeriodOf(start.Add(-time.Nanosecond), kst))
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("2024-03")
	require.NoError(t, err)
	assert.Equal(t, Period{Year: 2024, Month: time.March}, p)

	for _, bad := range []string{"", "2024-13", "2024/03", "march"} {
		_, err := ParsePeriod(bad)
		assert.ErrorIs(t, err, ErrInvalidPeriod, bad)
	}
}
