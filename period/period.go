// Package period models chart collection intervals and plans which of them
// are missing from a dataset.
package period

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the length of one collection interval.
type Granularity int

const (
	Monthly Granularity = iota + 1
	Daily
	Weekly
)

// ParseGranularity maps a configuration value to a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monthly", "month":
		return Monthly, nil
	case "daily", "day":
		return Daily, nil
	case "weekly", "week":
		return Weekly, nil
	default:
		return 0, fmt.Errorf("unknown granularity %q", s)
	}
}

func (g Granularity) String() string {
	switch g {
	case Monthly:
		return "monthly"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	default:
		return "unknown"
	}
}

// DefaultLayout returns the time layout used to label periods of g.
func (g Granularity) DefaultLayout() string {
	switch g {
	case Monthly:
		return "2006-01"
	case Weekly:
		return "20060102"
	default:
		return "2006-01-02"
	}
}

// Period is one collection interval, identified by its first day (UTC).
type Period struct {
	Start       time.Time
	Granularity Granularity
}

// New builds the period of granularity g containing t. Weekly periods are
// not truncated: they stay anchored on the weekday of t.
func New(g Granularity, t time.Time) Period {
	day := Date(t)
	if g == Monthly {
		day = time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return Period{Start: day, Granularity: g}
}

// Month is shorthand for the monthly period of year/month.
func Month(year int, month time.Month) Period {
	return New(Monthly, time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
}

// Day is shorthand for a daily period.
func Day(year int, month time.Month, day int) Period {
	return New(Daily, time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// Week is shorthand for a weekly period starting on the given day.
func Week(year int, month time.Month, day int) Period {
	return New(Weekly, time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// Parse reads a period label written with layout.
func Parse(g Granularity, layout, value string) (Period, error) {
	t, err := time.ParseInLocation(layout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return Period{}, fmt.Errorf("parse %s period %q: %w", g, value, err)
	}
	return New(g, t), nil
}

// Date truncates t to midnight UTC of its calendar day in its own location.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether p is the zero Period.
func (p Period) IsZero() bool {
	return p.Start.IsZero()
}

// Next returns the period immediately after p.
func (p Period) Next() Period {
	return p.shift(1)
}

// Prev returns the period immediately before p.
func (p Period) Prev() Period {
	return p.shift(-1)
}

func (p Period) shift(n int) Period {
	switch p.Granularity {
	case Monthly:
		return Period{Start: p.Start.AddDate(0, n, 0), Granularity: p.Granularity}
	case Weekly:
		return Period{Start: p.Start.AddDate(0, 0, 7*n), Granularity: p.Granularity}
	default:
		return Period{Start: p.Start.AddDate(0, 0, n), Granularity: p.Granularity}
	}
}

// End returns the last calendar day covered by p.
func (p Period) End() time.Time {
	return p.Next().Start.AddDate(0, 0, -1)
}

// Compare returns -1, 0 or +1 depending on whether p starts before, at or
// after o.
func (p Period) Compare(o Period) int {
	return p.Start.Compare(o.Start)
}

func (p Period) Before(o Period) bool { return p.Compare(o) < 0 }
func (p Period) After(o Period) bool  { return p.Compare(o) > 0 }
func (p Period) Equal(o Period) bool  { return p.Compare(o) == 0 }

// Year of the period start.
func (p Period) Year() int {
	return p.Start.Year()
}

// Month of the period start.
func (p Period) Month() time.Month {
	return p.Start.Month()
}

// Format labels p with layout.
func (p Period) Format(layout string) string {
	return p.Start.Format(layout)
}

func (p Period) String() string {
	if p.IsZero() {
		return "<none>"
	}
	return p.Format(p.Granularity.DefaultLayout())
}

// Max returns the later of a and b.
func Max(a, b Period) Period {
	if a.IsZero() || b.After(a) {
		return b
	}
	return a
}
