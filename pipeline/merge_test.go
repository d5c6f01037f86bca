package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/aluiziolira/go-chart-sync/models"
	"github.com/aluiziolira/go-chart-sync/period"
)

func sale(artist, album string, year, month int, sales int64) models.AlbumSale {
	return models.AlbumSale{Artist: artist, Album: album, Year: year, Month: month, Sales: sales}
}

func TestAlbumMergeSumsAcrossPeriods(t *testing.T) {
	d := NewAlbumDataset([]models.AlbumSale{sale("A", "X", 2015, 1, 10)})

	stats := d.Merge([]models.AlbumSale{
		sale("A", "X", 2015, 2, 5),
		sale("B", "Y", 2015, 2, 7),
	})
	if stats.Inserted != 1 || stats.Updated != 1 {
		t.Fatalf("stats = %+v, want 1 inserted 1 updated", stats)
	}
	d.RecomputeDerived()

	want := []models.AlbumSale{
		{Artist: "A", Album: "X", Year: 2015, Month: 2, Sales: 15, YearMonth: "2015-02", Date: time.Date(2015, 2, 28, 0, 0, 0, 0, time.UTC)},
		{Artist: "B", Album: "Y", Year: 2015, Month: 2, Sales: 7, YearMonth: "2015-02", Date: time.Date(2015, 2, 28, 0, 0, 0, 0, time.UTC)},
	}
	if diff := cmp.Diff(want, d.Records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}

	last, err := d.LastCovered()
	if err != nil {
		t.Fatalf("last covered: %v", err)
	}
	if !last.Equal(period.Month(2015, time.February)) {
		t.Fatalf("last covered = %s, want 2015-02", last)
	}
}

func TestAlbumMergeOrderIndependent(t *testing.T) {
	batches := [][]models.AlbumSale{
		{sale("A", "X", 2015, 1, 10), sale("B", "Y", 2015, 1, 1)},
		{sale("A", "X", 2015, 2, 5)},
		{sale("B", "Y", 2015, 3, 4), sale("C", "Z", 2015, 3, 9)},
	}
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}}

	var first []models.AlbumSale
	for _, order := range orders {
		d := NewAlbumDataset(nil)
		for _, i := range order {
			d.Merge(batches[i])
		}
		d.RecomputeDerived()

		if first == nil {
			first = d.Records
			continue
		}
		less := func(a, b models.AlbumSale) bool { return a.Key().String() < b.Key().String() }
		if diff := cmp.Diff(first, d.Records, cmpopts.SortSlices(less)); diff != "" {
			t.Fatalf("order %v changed the result (-first +got):\n%s", order, diff)
		}
	}

	d := NewAlbumDataset(first)
	if got, _ := d.Sales(models.AlbumKey{Artist: "A", Album: "X"}); got != 15 {
		t.Fatalf("A/X sales = %d, want 15", got)
	}
	if got, _ := d.Sales(models.AlbumKey{Artist: "B", Album: "Y"}); got != 5 {
		t.Fatalf("B/Y sales = %d, want 5", got)
	}
}

func TestAlbumLastCovered(t *testing.T) {
	empty := NewAlbumDataset(nil)
	last, err := empty.LastCovered()
	if err != nil || !last.IsZero() {
		t.Fatalf("empty dataset = %s, %v; want zero period", last, err)
	}

	broken := NewAlbumDataset([]models.AlbumSale{sale("A", "X", 2015, 13, 1)})
	_, err = broken.LastCovered()
	var planning *PlanningError
	if !errors.As(err, &planning) {
		t.Fatalf("err = %v, want PlanningError", err)
	}

	mixed := NewAlbumDataset([]models.AlbumSale{sale("A", "X", 2015, 0, 1), sale("B", "Y", 2016, 4, 1)})
	last, err = mixed.LastCovered()
	if err != nil || !last.Equal(period.Month(2016, time.April)) {
		t.Fatalf("mixed = %s, %v; want 2016-04", last, err)
	}
}

func TestChartMergeIdempotent(t *testing.T) {
	d := NewChartDataset(nil, nil, []string{"date", "rank", "uri"})
	batch := models.ChartBatch{
		Period: "2025-04-28",
		Header: []string{"date", "rank", "uri", "streams"},
		Rows: [][]string{
			{"2025-04-28", "1", "u1", "100"},
			{"2025-04-28", "2", "u2", "90"},
			{"2025-04-28", "2", "u2", "91"},
		},
	}

	stats := d.Merge(batch)
	if stats.Inserted != 2 || stats.Duplicates != 1 {
		t.Fatalf("first merge = %+v, want 2 inserted 1 duplicate", stats)
	}
	if d.Rows[1][3] != "90" {
		t.Fatalf("kept row = %q, want first occurrence", d.Rows[1])
	}

	before := d.Len()
	stats = d.Merge(batch)
	if stats.Inserted != 0 || d.Len() != before {
		t.Fatalf("re-merge inserted %d rows", stats.Inserted)
	}
	if !d.Contains("2025-04-28", "1", "u1") {
		t.Fatalf("expected key to be indexed")
	}
}

func TestChartMergeUnionsHeaders(t *testing.T) {
	d := NewChartDataset(
		[]string{"date", "rank", "uri"},
		[][]string{{"2025-04-28", "1", "u1"}},
		[]string{"date", "rank", "uri"},
	)

	d.Merge(models.ChartBatch{
		Header: []string{"date", "uri", "rank", "streams"},
		Rows:   [][]string{{"2025-04-29", "u9", "1", "500"}},
	})

	wantHeader := []string{"date", "rank", "uri", "streams"}
	if diff := cmp.Diff(wantHeader, d.Header); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
	wantRows := [][]string{
		{"2025-04-28", "1", "u1", ""},
		{"2025-04-29", "1", "u9", "500"},
	}
	if diff := cmp.Diff(wantRows, d.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestChartLastCovered(t *testing.T) {
	d := NewChartDataset(
		[]string{"date", "Rank", "Artist Name"},
		[][]string{
			{"20250424", "1", "A"},
			{"20250501", "1", "B"},
			{"garbage", "2", "C"},
		},
		[]string{"date", "Rank", "Artist Name"},
	)
	last, err := d.LastCovered("date", period.Weekly, "20060102")
	if err != nil {
		t.Fatalf("last covered: %v", err)
	}
	if !last.Equal(period.Week(2025, time.May, 1)) {
		t.Fatalf("last = %s, want 20250501", last)
	}

	bad := NewChartDataset([]string{"date", "k"}, [][]string{{"nope", "1"}}, []string{"date", "k"})
	if _, err := bad.LastCovered("date", period.Daily, "2006-01-02"); err == nil {
		t.Fatalf("expected PlanningError")
	}
	if _, err := bad.LastCovered("missing", period.Daily, "2006-01-02"); err == nil {
		t.Fatalf("expected PlanningError for missing column")
	}
}
