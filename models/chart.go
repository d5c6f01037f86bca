// Package models defines data structures shared by the chart pipelines.
package models

import (
	"fmt"
	"time"
)

// RawRow is one line of source output before normalization.
type RawRow struct {
	Line   int
	Fields []string
	// Text holds the unsplit line for sources whose free-text fields may
	// contain the field delimiter.
	Text string
}

// AlbumKey is the natural key of a cumulative album record.
type AlbumKey struct {
	Artist string
	Album  string
}

func (k AlbumKey) String() string {
	return fmt.Sprintf("%s / %s", k.Artist, k.Album)
}

// AlbumSale is a cumulative record: running sales of one album across every
// period merged so far.
type AlbumSale struct {
	Artist    string    `csv:"Artist" json:"artist"`
	Album     string    `csv:"Album" json:"album"`
	Year      int       `csv:"Year" json:"year"`
	Month     int       `csv:"Month" json:"month"`
	Sales     int64     `csv:"Sales" json:"sales"`
	YearMonth string    `csv:"Year_Month" json:"year_month"`
	Date      time.Time `csv:"Date" json:"date"`
}

// Key returns the natural key of the record.
func (a *AlbumSale) Key() AlbumKey {
	return AlbumKey{Artist: a.Artist, Album: a.Album}
}

// AlbumColumns is the persisted column order of cumulative datasets.
var AlbumColumns = []string{"Artist", "Album", "Year", "Month", "Sales", "Year_Month", "Date"}

// Outcome is the user-visible end state of a synchronization run.
type Outcome string

const (
	OutcomeUpToDate Outcome = "up_to_date"
	OutcomeSaved    Outcome = "saved"
	OutcomeFailed   Outcome = "failed"
)

// PeriodFailure records why one period did not contribute to the dataset.
type PeriodFailure struct {
	Period string
	Step   string
	Error  string
}

// SyncResult holds the overall result of a synchronization run.
type SyncResult struct {
	Source        string
	Outcome       Outcome
	StartTime     time.Time
	EndTime       time.Time
	LastCovered   string
	Planned       []string
	Merged        []string
	Failed        []PeriodFailure
	RowsAccepted  int
	RowsDropped   int
	DroppedByType map[string]int
	Inserted      int
	Updated       int
	Duplicates    int
	AuthRetries   int
	FetchRetries  int
	DatasetSize   int
	Saved         bool
	DatasetPath   string
	Exports       []string
}

// ChartBatch is one period of normalized snapshot rows. Rows are aligned to
// Header, which always includes the period column.
type ChartBatch struct {
	Period string
	Header []string
	Rows   [][]string
}
