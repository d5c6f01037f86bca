package period

import "time"

// Planner computes the ordered list of periods missing from a dataset.
//
// Lag is the publication delay counted in months for monthly sources and in
// days otherwise: a period is collectable once its start is on or before
// the cutoff returned by Cutoff.
type Planner struct {
	Granularity Granularity
	Lag         int
}

// Cutoff returns the start of the latest collectable period for today.
func (pl Planner) Cutoff(today time.Time) time.Time {
	day := Date(today)
	if pl.Granularity == Monthly {
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first.AddDate(0, -pl.Lag, 0)
	}
	return day.AddDate(0, 0, -pl.Lag)
}

// Plan returns every period strictly after last whose start is not after
// the cutoff, in increasing order. The result is empty when the dataset is
// already up to date.
func (pl Planner) Plan(last Period, today time.Time) []Period {
	if last.IsZero() {
		return nil
	}
	if last.Granularity == 0 {
		last.Granularity = pl.Granularity
	}

	cutoff := pl.Cutoff(today)
	var out []Period
	for cur := last.Next(); !cur.Start.After(cutoff); cur = cur.Next() {
		out = append(out, cur)
	}
	return out
}
