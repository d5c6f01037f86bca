// Package parser normalizes raw chart rows into canonical records.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-chart-sync/models"
	"github.com/aluiziolira/go-chart-sync/period"
)

// Delimiters of the composite album chart fields.
const (
	TitleArtistSep = "\n"
	SalesSep       = " / "
)

var decorativeSuffix = regexp.MustCompile(`\s*\(.*\)`)

// StripDecorative removes parenthetical annotations ("(Deluxe Edition)")
// so cosmetic variation does not split one album into several keys.
func StripDecorative(s string) string {
	return strings.TrimSpace(decorativeSuffix.ReplaceAllString(s, ""))
}

// ParseCount parses an integer that may carry thousands separators.
func ParseCount(s string) (int64, error) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	n, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, &NumericParseError{Value: s, Err: err}
	}
	return n, nil
}

// SplitComposite splits a combined text field into exactly want parts.
func SplitComposite(field, sep string, want int) ([]string, error) {
	parts := strings.Split(strings.TrimSpace(field), sep)
	if len(parts) != want {
		return nil, &MalformedRowError{
			Reason: fmt.Sprintf("split %q on %q", field, sep),
			Got:    len(parts),
			Want:   want,
		}
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

// Normalizer turns raw rows into canonical records, memoizing cleaned
// titles across periods.
type Normalizer struct {
	titles *lru.Cache[string, string]
}

// NewNormalizer builds a normalizer whose title cache holds size entries.
func NewNormalizer(size int) (*Normalizer, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create title cache: %w", err)
	}
	return &Normalizer{titles: cache}, nil
}

// Title returns the cleaned form of a raw album title.
func (n *Normalizer) Title(raw string) string {
	if cleaned, ok := n.titles.Get(raw); ok {
		return cleaned
	}
	cleaned := StripDecorative(raw)
	n.titles.Add(raw, cleaned)
	return cleaned
}

// AlbumSales normalizes one period of album chart rows. Each row carries
// the "Title\nArtist" field followed by the "Sales / Other" field. Rows
// sharing a key within the period are summed. Rows that fail to parse are
// skipped and returned as errors.
func (n *Normalizer) AlbumSales(rows []models.RawRow, p period.Period) ([]models.AlbumSale, []error) {
	var (
		out     []models.AlbumSale
		dropped []error
		index   = make(map[models.AlbumKey]int)
	)

	for _, row := range rows {
		rec, err := n.albumSale(row, p)
		if err != nil {
			dropped = append(dropped, err)
			continue
		}
		if i, ok := index[rec.Key()]; ok {
			out[i].Sales += rec.Sales
			continue
		}
		index[rec.Key()] = len(out)
		out = append(out, rec)
	}
	return out, dropped
}

func (n *Normalizer) albumSale(row models.RawRow, p period.Period) (models.AlbumSale, error) {
	if len(row.Fields) < 2 {
		return models.AlbumSale{}, &MalformedRowError{Line: row.Line, Reason: "missing album or sales field", Got: len(row.Fields), Want: 2}
	}

	info, err := SplitComposite(row.Fields[0], TitleArtistSep, 2)
	if err != nil {
		return models.AlbumSale{}, withLine(err, row.Line)
	}
	counts, err := SplitComposite(row.Fields[1], SalesSep, 2)
	if err != nil {
		return models.AlbumSale{}, withLine(err, row.Line)
	}
	sales, err := ParseCount(counts[0])
	if err != nil {
		return models.AlbumSale{}, withField(err, row.Line, "Sales")
	}

	album := n.Title(info[0])
	artist := info[1]
	if album == "" || artist == "" {
		return models.AlbumSale{}, &MalformedRowError{Line: row.Line, Reason: "empty album or artist"}
	}

	return models.AlbumSale{
		Artist: artist,
		Album:  album,
		Year:   p.Year(),
		Month:  int(p.Month()),
		Sales:  sales,
	}, nil
}

// ChartSpec describes how snapshot rows of one source are validated.
type ChartSpec struct {
	DateColumn     string
	DateLayout     string
	KeyColumns     []string
	NumericColumns []string
	// Layout, when set, splits RawRow.Text instead of using RawRow.Fields.
	Layout *LineLayout
}

// ChartRows normalizes one period of snapshot rows. The period column is
// placed first in the header. Rows with the wrong field count, an empty
// key column or a non-numeric numeric column are skipped and returned as
// errors.
func (n *Normalizer) ChartRows(header []string, rows []models.RawRow, p period.Period, spec ChartSpec) (models.ChartBatch, []error) {
	label := p.Format(spec.DateLayout)
	cols := normalizeHeader(header)

	dateIdx := slices.Index(cols, spec.DateColumn)
	outHeader := cols
	if dateIdx < 0 {
		outHeader = append([]string{spec.DateColumn}, cols...)
	}

	keyIdx := make([]int, 0, len(spec.KeyColumns))
	for _, k := range spec.KeyColumns {
		keyIdx = append(keyIdx, slices.Index(outHeader, k))
	}
	numIdx := make([]int, 0, len(spec.NumericColumns))
	for _, k := range spec.NumericColumns {
		numIdx = append(numIdx, slices.Index(outHeader, k))
	}

	batch := models.ChartBatch{Period: label, Header: outHeader}
	var dropped []error

	for _, row := range rows {
		fields, err := rowFields(row, spec.Layout)
		if err != nil {
			dropped = append(dropped, withLine(err, row.Line))
			continue
		}
		if len(fields) != len(cols) {
			dropped = append(dropped, &MalformedRowError{Line: row.Line, Reason: "field count does not match header", Got: len(fields), Want: len(cols)})
			continue
		}

		values := make([]string, 0, len(outHeader))
		if dateIdx < 0 {
			values = append(values, label)
		}
		for _, f := range fields {
			values = append(values, strings.TrimSpace(f))
		}
		if dateIdx >= 0 {
			values[dateIdx] = label
		}

		if err := checkRow(values, outHeader, keyIdx, numIdx, row.Line); err != nil {
			dropped = append(dropped, err)
			continue
		}
		batch.Rows = append(batch.Rows, values)
	}
	return batch, dropped
}

func checkRow(values, header []string, keyIdx, numIdx []int, line int) error {
	for _, i := range keyIdx {
		if i < 0 {
			return &MalformedRowError{Line: line, Reason: "key column missing from header"}
		}
		if values[i] == "" {
			return &MalformedRowError{Line: line, Reason: fmt.Sprintf("empty key column %q", header[i])}
		}
	}
	for _, i := range numIdx {
		if i < 0 {
			continue
		}
		if _, err := ParseCount(values[i]); err != nil {
			return withField(err, line, header[i])
		}
	}
	return nil
}

func rowFields(row models.RawRow, layout *LineLayout) ([]string, error) {
	if layout != nil && row.Text != "" {
		return layout.Split(row.Text)
	}
	return row.Fields, nil
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		out[i] = strings.TrimSpace(h)
	}
	return out
}

func withLine(err error, line int) error {
	var m *MalformedRowError
	if errors.As(err, &m) {
		m.Line = line
	}
	return err
}

func withField(err error, line int, field string) error {
	var n *NumericParseError
	if errors.As(err, &n) {
		n.Line = line
		n.Field = field
	}
	return err
}
