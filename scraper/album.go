package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-chart-sync/config"
	"github.com/aluiziolira/go-chart-sync/models"
	"github.com/aluiziolira/go-chart-sync/parser"
	"github.com/aluiziolira/go-chart-sync/period"
)

const (
	chartTableSelector = "#pc_chart_tbody"
	albumCell          = 2
	salesCell          = 3
)

// AlbumChartFetcher reads one month of the album sales chart page.
type AlbumChartFetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	logger    *slog.Logger
}

// AlbumOption customizes an AlbumChartFetcher.
type AlbumOption func(*AlbumChartFetcher)

// WithAlbumTransport replaces the collector's HTTP transport.
func WithAlbumTransport(rt http.RoundTripper) AlbumOption {
	return func(f *AlbumChartFetcher) {
		f.collector.WithTransport(rt)
	}
}

// WithAlbumLogger sets the logger used for request diagnostics.
func WithAlbumLogger(logger *slog.Logger) AlbumOption {
	return func(f *AlbumChartFetcher) {
		f.logger = logger
	}
}

// NewAlbumChartFetcher builds a fetcher configured from cfg.
func NewAlbumChartFetcher(cfg *config.Config, opts ...AlbumOption) (*AlbumChartFetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	f := &AlbumChartFetcher{
		cfg:       cfg,
		collector: collector,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// PeriodURL returns the chart page URL for month p.
func (f *AlbumChartFetcher) PeriodURL(p period.Period) string {
	q := url.Values{}
	q.Set("nationGbn", "K")
	q.Set("targetTime", fmt.Sprintf("%02d", int(p.Month())))
	q.Set("hitYear", strconv.Itoa(p.Year()))
	q.Set("termGbn", "month")
	q.Set("yearTime", "3")
	return f.cfg.BaseURL + "?" + q.Encode()
}

// Fetch retrieves the chart rows of month p. Each row has the
// "Title\nArtist" cell followed by the "Sales / Other" cell.
func (f *AlbumChartFetcher) Fetch(ctx context.Context, p period.Period) FetchResult {
	label := p.String()
	if err := ctx.Err(); err != nil {
		return failed(&FetchError{Period: label, Step: "visit", Kind: KindOther, Err: err})
	}

	target := f.PeriodURL(p)
	c := f.collector.Clone()

	var (
		rows       []models.RawRow
		found      bool
		statusCode int
		start      time.Time
	)

	c.OnRequest(func(r *colly.Request) {
		start = time.Now()
	})
	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		f.logger.Debug("chart page fetched",
			slog.String("period", label),
			slog.Int("status", r.StatusCode),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
	})
	c.OnHTML(chartTableSelector, func(e *colly.HTMLElement) {
		found = true
		e.DOM.Find("tr").Each(func(i int, tr *goquery.Selection) {
			cells := tr.Find("td")
			if cells.Length() <= salesCell {
				rows = append(rows, models.RawRow{Line: i + 1})
				return
			}
			rows = append(rows, models.RawRow{
				Line: i + 1,
				Fields: []string{
					strings.Join(cellLines(cells.Eq(albumCell), nil), parser.TitleArtistSep),
					strings.Join(strings.Fields(cells.Eq(salesCell).Text()), " "),
				},
			})
		})
	})

	if err := c.Visit(target); err != nil {
		if classified := classifyError(label, "visit", err, statusCode); classified != nil {
			return failed(classified)
		}
		return failed(&FetchError{Period: label, Step: "visit", Kind: KindOther, Err: err})
	}

	if !found {
		return failed(&FetchError{
			Period: label,
			Step:   "parse",
			Kind:   KindMissing,
			Err:    errors.New("chart table " + chartTableSelector + " not found"),
		})
	}
	return FetchResult{Status: StatusSuccess, Rows: rows, Location: target}
}

// Close is a no-op; the collector holds no session beyond its transport.
func (f *AlbumChartFetcher) Close() error {
	return nil
}

// cellLines collects the text of every leaf node under s, one entry per
// visual line, so "<p>Title</p><p>Artist</p>" becomes two lines.
func cellLines(s *goquery.Selection, lines []string) []string {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "br" {
			return
		}
		if c.Children().Length() > 0 {
			lines = cellLines(c, lines)
			return
		}
		if text := strings.TrimSpace(c.Text()); text != "" {
			lines = append(lines, text)
		}
	})
	return lines
}
