package domain

import (
	"fmt"
	"time"
)

// Period identifies one monthly ranking bucket in the civil timezone.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period the instant falls in once shifted by the civil offset.
func PeriodOf(t time.Time, offset time.Duration) Period {
	civil := t.UTC().Add(offset)
	return Period{Year: civil.Year(), Month: civil.Month()}
}

// ParsePeriod parses an identifier of the form "2024-03".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// ID returns the bucket identifier, e.g. "2024-03".
func (p Period) ID() string {
	return fmt.Sprintf("%d-%02d", p.Year, int(p.Month))
}

// String implements fmt.Stringer
func (p Period) String() string {
	return p.ID()
}

// BadgePrefix returns the badge key prefix for the period, e.g. "monthly_2024_03".
func (p Period) BadgePrefix() string {
	return fmt.Sprintf("%s%d_%02d", MonthlyBadgePrefix, p.Year, int(p.Month))
}

// Label is the year/month fragment every summary of this period contains.
func (p Period) Label() string {
	return fmt.Sprintf("%d %02d", p.Year, int(p.Month))
}

// Previous returns the period one civil month earlier.
func (p Period) Previous() Period {
	if p.Month == time.January {
		return Period{Year: p.Year - 1, Month: time.December}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// Next returns the period one civil month later.
func (p Period) Next() Period {
	if p.Month == time.December {
		return Period{Year: p.Year + 1, Month: time.January}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// Before reports whether p is an earlier month than o.
func (p Period) Before(o Period) bool {
	return p.Year < o.Year || (p.Year == o.Year && p.Month < o.Month)
}

// Start returns the first instant of the period for the given civil offset.
func (p Period) Start(offset time.Duration) time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC).Add(-offset)
}
