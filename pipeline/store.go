package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-chart-sync/models"
	"github.com/aluiziolira/go-chart-sync/parser"
)

const (
	utf8BOM    = "\ufeff"
	dateLayout = "2006-01-02"
)

// Store loads and persists one dataset. A missing file loads as an empty
// dataset. Save replaces the file atomically.
type Store[D any] interface {
	Load(ctx context.Context) (D, error)
	Save(ctx context.Context, d D) error
}

// AlbumStore persists a cumulative album dataset as CSV with the columns
// Artist,Album,Year,Month,Sales,Year_Month,Date.
type AlbumStore struct {
	Path string
	BOM  bool
}

// Load reads the dataset. Corrupt numeric values fail the load so a run
// never overwrites accumulated history with partial data.
func (s *AlbumStore) Load(ctx context.Context) (*AlbumDataset, error) {
	header, rows, err := readCSV(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewAlbumDataset(nil), nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.Path, Err: err}
	}
	if header == nil {
		return NewAlbumDataset(nil), nil
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[h] = i
	}
	for _, required := range []string{"Artist", "Album", "Year", "Month", "Sales"} {
		if _, ok := cols[required]; !ok {
			return nil, &PersistenceError{Op: "load", Path: s.Path, Err: fmt.Errorf("missing column %q", required)}
		}
	}

	records := make([]models.AlbumSale, 0, len(rows))
	for i, row := range rows {
		rec, err := parseAlbumRecord(row, cols)
		if err != nil {
			return nil, &PersistenceError{Op: "load", Path: s.Path, Err: fmt.Errorf("row %d: %w", i+2, err)}
		}
		records = append(records, rec)
	}
	return NewAlbumDataset(records), nil
}

func parseAlbumRecord(row []string, cols map[string]int) (models.AlbumSale, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	year, err := strconv.Atoi(field("Year"))
	if err != nil {
		return models.AlbumSale{}, &parser.NumericParseError{Field: "Year", Value: field("Year"), Err: err}
	}
	month, err := strconv.Atoi(field("Month"))
	if err != nil {
		return models.AlbumSale{}, &parser.NumericParseError{Field: "Month", Value: field("Month"), Err: err}
	}
	sales, err := parser.ParseCount(field("Sales"))
	if err != nil {
		var numErr *parser.NumericParseError
		if errors.As(err, &numErr) {
			numErr.Field = "Sales"
		}
		return models.AlbumSale{}, err
	}

	rec := models.AlbumSale{
		Artist:    field("Artist"),
		Album:     field("Album"),
		Year:      year,
		Month:     month,
		Sales:     sales,
		YearMonth: field("Year_Month"),
	}
	if raw := field("Date"); raw != "" {
		if t, err := time.Parse(dateLayout, raw); err == nil {
			rec.Date = t
		}
	}
	return rec, nil
}

// Save writes the dataset atomically.
func (s *AlbumStore) Save(ctx context.Context, d *AlbumDataset) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "save", Path: s.Path, Err: err}
	}
	header, rows := d.Table()
	if err := writeCSV(s.Path, s.BOM, header, rows); err != nil {
		return &PersistenceError{Op: "save", Path: s.Path, Err: err}
	}
	return nil
}

func albumRecord(rec models.AlbumSale) []string {
	date := ""
	if !rec.Date.IsZero() {
		date = rec.Date.Format(dateLayout)
	}
	return []string{
		rec.Artist,
		rec.Album,
		strconv.Itoa(rec.Year),
		strconv.Itoa(rec.Month),
		strconv.FormatInt(rec.Sales, 10),
		rec.YearMonth,
		date,
	}
}

// ChartStore persists a snapshot dataset as CSV with its own header.
type ChartStore struct {
	Path       string
	BOM        bool
	KeyColumns []string
}

// Load reads the dataset.
func (s *ChartStore) Load(ctx context.Context) (*ChartDataset, error) {
	header, rows, err := readCSV(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewChartDataset(nil, nil, s.KeyColumns), nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.Path, Err: err}
	}
	for _, k := range s.KeyColumns {
		if len(header) > 0 && !slices.Contains(header, k) {
			return nil, &PersistenceError{Op: "load", Path: s.Path, Err: fmt.Errorf("missing key column %q", k)}
		}
	}
	return NewChartDataset(header, rows, s.KeyColumns), nil
}

// Save writes the dataset atomically.
func (s *ChartStore) Save(ctx context.Context, d *ChartDataset) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "save", Path: s.Path, Err: err}
	}
	header, rows := d.Table()
	if err := writeCSV(s.Path, s.BOM, header, rows); err != nil {
		return &PersistenceError{Op: "save", Path: s.Path, Err: err}
	}
	return nil
}

func readCSV(path string) ([]string, [][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	data = bytes.TrimPrefix(data, []byte(utf8BOM))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read rows: %w", err)
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func writeCSV(path string, bom bool, header []string, rows [][]string) error {
	return writeTmpThenMove(path, func(w io.Writer) error {
		if bom {
			if _, err := io.WriteString(w, utf8BOM); err != nil {
				return fmt.Errorf("write bom: %w", err)
			}
		}
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("write csv records: %w", err)
		}
		return nil
	})
}
