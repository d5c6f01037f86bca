package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/aluiziolira/go-chart-sync/config"
	"github.com/aluiziolira/go-chart-sync/parser"
	"github.com/aluiziolira/go-chart-sync/period"
	"github.com/aluiziolira/go-chart-sync/scraper"
)

// target is the dataset of one run: the working copy the periods are
// merged into, and the store it is loaded from and saved to.
type target interface {
	load(ctx context.Context) error
	lastCovered() (period.Period, error)
	// apply normalizes one fetched period completely, then merges it.
	apply(p period.Period, res scraper.FetchResult) (stats MergeStats, accepted int, dropped []error, err error)
	finalize()
	save(ctx context.Context) error
	size() int
	table() Table
}

func (s *Syncer) newTarget() target {
	if s.cfg.Mode == config.ModeCumulative {
		return &albumTarget{
			store:      &AlbumStore{Path: s.cfg.DatasetPath, BOM: s.cfg.WriteBOM},
			normalizer: s.normalizer,
		}
	}

	spec := parser.ChartSpec{
		DateColumn:     s.cfg.DateColumn,
		DateLayout:     s.cfg.PeriodLayout,
		KeyColumns:     s.cfg.KeyColumns,
		NumericColumns: s.cfg.NumericColumns,
	}
	if s.cfg.LineFormat == config.LineFormatAnchored {
		spec.Layout = &parser.LineLayout{Delimiter: ",", Leading: s.cfg.AnchorLeading, Trailing: s.cfg.AnchorTrailing}
	}
	return &chartTarget{
		store:       &ChartStore{Path: s.cfg.DatasetPath, BOM: s.cfg.WriteBOM, KeyColumns: s.cfg.KeyColumns},
		normalizer:  s.normalizer,
		spec:        spec,
		granularity: s.cfg.Granularity,
	}
}

type albumTarget struct {
	store      Store[*AlbumDataset]
	normalizer *parser.Normalizer
	data       *AlbumDataset
}

func (t *albumTarget) load(ctx context.Context) error {
	data, err := t.store.Load(ctx)
	if err != nil {
		return err
	}
	t.data = data
	return nil
}

func (t *albumTarget) lastCovered() (period.Period, error) {
	return t.data.LastCovered()
}

func (t *albumTarget) apply(p period.Period, res scraper.FetchResult) (MergeStats, int, []error, error) {
	records, dropped := t.normalizer.AlbumSales(res.Rows, p)
	if len(records) == 0 && len(dropped) > 0 {
		return MergeStats{}, 0, dropped, fmt.Errorf("all %d rows of %s failed to parse: %w", len(dropped), p, dropped[0])
	}
	return t.data.Merge(records), len(records), dropped, nil
}

func (t *albumTarget) finalize() {
	t.data.RecomputeDerived()
}

func (t *albumTarget) save(ctx context.Context) error {
	return t.store.Save(ctx, t.data)
}

func (t *albumTarget) size() int {
	return t.data.Len()
}

func (t *albumTarget) table() Table {
	return t.data
}

type chartTarget struct {
	store       Store[*ChartDataset]
	normalizer  *parser.Normalizer
	spec        parser.ChartSpec
	granularity period.Granularity
	data        *ChartDataset
}

func (t *chartTarget) load(ctx context.Context) error {
	data, err := t.store.Load(ctx)
	if err != nil {
		return err
	}
	t.data = data
	return nil
}

func (t *chartTarget) lastCovered() (period.Period, error) {
	return t.data.LastCovered(t.spec.DateColumn, t.granularity, t.spec.DateLayout)
}

func (t *chartTarget) apply(p period.Period, res scraper.FetchResult) (MergeStats, int, []error, error) {
	batch, dropped := t.normalizer.ChartRows(res.Header, res.Rows, p, t.spec)
	for _, k := range t.spec.KeyColumns {
		if !slices.Contains(batch.Header, k) {
			return MergeStats{}, 0, dropped, fmt.Errorf("key column %q missing from %s header %q", k, p, batch.Header)
		}
	}
	if len(batch.Rows) == 0 && len(dropped) > 0 {
		return MergeStats{}, 0, dropped, fmt.Errorf("all %d rows of %s failed to parse: %w", len(dropped), p, dropped[0])
	}
	return t.data.Merge(batch), len(batch.Rows), dropped, nil
}

func (t *chartTarget) finalize() {}

func (t *chartTarget) save(ctx context.Context) error {
	return t.store.Save(ctx, t.data)
}

func (t *chartTarget) size() int {
	return t.data.Len()
}

func (t *chartTarget) table() Table {
	return t.data
}
