// Package pipeline merges normalized chart records into persisted datasets
// and drives incremental synchronization runs.
package pipeline

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aluiziolira/go-chart-sync/models"
	"github.com/aluiziolira/go-chart-sync/period"
)

// MergeStats counts what one merge did to a dataset.
type MergeStats struct {
	Inserted   int
	Updated    int
	Duplicates int
}

// AlbumDataset is a cumulative dataset: one record per (Artist, Album)
// holding the sales summed over every merged period.
type AlbumDataset struct {
	Records []models.AlbumSale
	index   map[models.AlbumKey]int
}

// NewAlbumDataset indexes records by key. Records sharing a key are
// collapsed into one.
func NewAlbumDataset(records []models.AlbumSale) *AlbumDataset {
	d := &AlbumDataset{index: make(map[models.AlbumKey]int, len(records))}
	d.Merge(records)
	return d
}

// Len returns the number of records.
func (d *AlbumDataset) Len() int {
	return len(d.Records)
}

// Merge adds records into the dataset. Sales of an existing key are summed
// and its period advances to the latest contributing period; unseen keys
// are appended.
func (d *AlbumDataset) Merge(records []models.AlbumSale) MergeStats {
	if d.index == nil {
		d.index = make(map[models.AlbumKey]int, len(records))
	}

	var stats MergeStats
	for _, rec := range records {
		key := rec.Key()
		i, ok := d.index[key]
		if !ok {
			d.index[key] = len(d.Records)
			d.Records = append(d.Records, rec)
			stats.Inserted++
			continue
		}

		existing := &d.Records[i]
		existing.Sales += rec.Sales
		if albumPeriodAfter(rec, *existing) {
			existing.Year = rec.Year
			existing.Month = rec.Month
		}
		stats.Updated++
	}
	return stats
}

func albumPeriodAfter(a, b models.AlbumSale) bool {
	if a.Year != b.Year {
		return a.Year > b.Year
	}
	return a.Month > b.Month
}

// RecomputeDerived refreshes Year_Month and Date of every record from its
// Year and Month. Date is the last day of that month.
func (d *AlbumDataset) RecomputeDerived() {
	for i := range d.Records {
		rec := &d.Records[i]
		rec.YearMonth = fmt.Sprintf("%04d-%02d", rec.Year, rec.Month)
		rec.Date = period.Month(rec.Year, time.Month(rec.Month)).End()
	}
}

// LastCovered returns the latest period present in the dataset, or the
// zero Period when it is empty. Records with an invalid month are ignored;
// a non-empty dataset without any valid period is a PlanningError.
func (d *AlbumDataset) LastCovered() (period.Period, error) {
	var last period.Period
	invalid := 0
	for _, rec := range d.Records {
		if rec.Month < 1 || rec.Month > 12 || rec.Year < 1 {
			invalid++
			continue
		}
		last = period.Max(last, period.Month(rec.Year, time.Month(rec.Month)))
	}
	if last.IsZero() && invalid > 0 {
		return period.Period{}, &PlanningError{Err: fmt.Errorf("%d records without a valid year and month", invalid)}
	}
	return last, nil
}

// Sales returns the cumulative sales for key.
func (d *AlbumDataset) Sales(key models.AlbumKey) (int64, bool) {
	i, ok := d.index[key]
	if !ok {
		return 0, false
	}
	return d.Records[i].Sales, true
}

// Table returns the dataset as a header and string rows.
func (d *AlbumDataset) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(d.Records))
	for _, rec := range d.Records {
		rows = append(rows, albumRecord(rec))
	}
	return slices.Clone(models.AlbumColumns), rows
}

const keySep = "\x1f"

// ChartDataset is a snapshot dataset: immutable per-period rows unique by
// the configured key columns.
type ChartDataset struct {
	Header     []string
	Rows       [][]string
	KeyColumns []string
	index      map[string]struct{}
}

// NewChartDataset indexes rows by keys. Rows repeating a key are dropped,
// keeping the first occurrence.
func NewChartDataset(header []string, rows [][]string, keys []string) *ChartDataset {
	d := &ChartDataset{
		Header:     slices.Clone(header),
		KeyColumns: slices.Clone(keys),
		index:      make(map[string]struct{}, len(rows)),
	}
	d.Merge(models.ChartBatch{Header: header, Rows: rows})
	return d
}

// Len returns the number of rows.
func (d *ChartDataset) Len() int {
	return len(d.Rows)
}

// Merge appends the batch rows whose key is not yet present. Columns the
// dataset does not know are added to its header; rows missing a column
// hold an empty value.
func (d *ChartDataset) Merge(batch models.ChartBatch) MergeStats {
	if d.index == nil {
		d.index = make(map[string]struct{}, len(batch.Rows))
	}
	d.extendHeader(batch.Header)

	positions := make([]int, len(batch.Header))
	for i, col := range batch.Header {
		positions[i] = slices.Index(d.Header, col)
	}

	var stats MergeStats
	for _, src := range batch.Rows {
		row := make([]string, len(d.Header))
		for i, v := range src {
			if i < len(positions) {
				row[positions[i]] = v
			}
		}

		key := d.key(row)
		if _, seen := d.index[key]; seen {
			stats.Duplicates++
			continue
		}
		d.index[key] = struct{}{}
		d.Rows = append(d.Rows, row)
		stats.Inserted++
	}
	return stats
}

func (d *ChartDataset) extendHeader(cols []string) {
	var added int
	for _, col := range cols {
		if !slices.Contains(d.Header, col) {
			d.Header = append(d.Header, col)
			added++
		}
	}
	if added == 0 {
		return
	}
	for i := range d.Rows {
		d.Rows[i] = append(d.Rows[i], make([]string, added)...)
	}
}

func (d *ChartDataset) key(row []string) string {
	parts := make([]string, len(d.KeyColumns))
	for i, col := range d.KeyColumns {
		if j := slices.Index(d.Header, col); j >= 0 {
			parts[i] = row[j]
		}
	}
	return strings.Join(parts, keySep)
}

// Contains reports whether a row with the given key values exists.
func (d *ChartDataset) Contains(values ...string) bool {
	_, ok := d.index[strings.Join(values, keySep)]
	return ok
}

// LastCovered returns the latest period found in column dateCol, parsed
// with layout, or the zero Period when the dataset is empty. Unparsable
// values are ignored; a non-empty dataset without any parsable value is a
// PlanningError.
func (d *ChartDataset) LastCovered(dateCol string, g period.Granularity, layout string) (period.Period, error) {
	if len(d.Rows) == 0 {
		return period.Period{}, nil
	}
	col := slices.Index(d.Header, dateCol)
	if col < 0 {
		return period.Period{}, &PlanningError{Err: fmt.Errorf("column %q not found", dateCol)}
	}

	var (
		last     period.Period
		firstErr error
	)
	for _, row := range d.Rows {
		p, err := period.Parse(g, layout, row[col])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		last = period.Max(last, p)
	}
	if last.IsZero() {
		return period.Period{}, &PlanningError{Err: firstErr}
	}
	return last, nil
}

// Table returns the dataset as a header and string rows.
func (d *ChartDataset) Table() ([]string, [][]string) {
	return d.Header, d.Rows
}
