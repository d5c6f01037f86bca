package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/aluiziolira/go-chart-sync/config"
	"github.com/aluiziolira/go-chart-sync/models"
	"github.com/aluiziolira/go-chart-sync/period"
)

// DownloadFetcher downloads one CSV per period into the download directory
// and reads it back through a FileFetcher. Files that already exist are
// not downloaded again.
type DownloadFetcher struct {
	cfg    *config.Config
	client *resty.Client
	files  *FileFetcher
	logger *slog.Logger
}

// DownloadOption customizes a DownloadFetcher.
type DownloadOption func(*DownloadFetcher)

// WithDownloadTransport replaces the HTTP transport of the client.
func WithDownloadTransport(rt http.RoundTripper) DownloadOption {
	return func(f *DownloadFetcher) {
		f.client.SetTransport(rt)
	}
}

// WithDownloadLogger sets the logger.
func WithDownloadLogger(logger *slog.Logger) DownloadOption {
	return func(f *DownloadFetcher) {
		f.logger = logger
		f.files.logger = logger
	}
}

// NewDownloadFetcher builds a download fetcher from cfg.
func NewDownloadFetcher(cfg *config.Config, opts ...DownloadOption) *DownloadFetcher {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/csv,*/*")

	files := NewFileFetcher(cfg)
	// The download has completed by the time the file is read.
	files.Wait = 0

	f := &DownloadFetcher{
		cfg:    cfg,
		client: client,
		files:  files,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// PeriodURL returns the download URL for period p.
func (f *DownloadFetcher) PeriodURL(p period.Period) string {
	return strings.ReplaceAll(f.cfg.URLTemplate, periodPlaceholder, p.Format(f.cfg.PeriodLayout))
}

// Fetch downloads the file of period p unless it is already present, then
// reads it. 401 and 403 responses report StatusAuthRetryNeeded.
func (f *DownloadFetcher) Fetch(ctx context.Context, p period.Period) FetchResult {
	path := f.files.Path(p)
	if _, err := os.Stat(path); err == nil {
		f.logger.Debug("period file already downloaded", slog.String("path", path))
		return f.files.Fetch(ctx, p)
	}

	label := p.Format(f.cfg.PeriodLayout)
	target := f.PeriodURL(p)

	resp, err := f.client.R().SetContext(ctx).Get(target)
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode()
	}
	if err != nil || statusCode >= http.StatusBadRequest {
		classified := classifyError(label, "download", err, statusCode)
		if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
			return FetchResult{Status: StatusAuthRetryNeeded, Location: target, Err: classified}
		}
		return failed(classified)
	}

	body := resp.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		return failed(&FetchError{Period: label, Step: "validate_file", Kind: KindRead, Err: errors.New("empty download body")})
	}
	if strings.HasPrefix(http.DetectContentType(body), "text/html") {
		// A page instead of a CSV is the login wall served with 200.
		return FetchResult{
			Status:   StatusAuthRetryNeeded,
			Location: target,
			Err:      &FetchError{Period: label, Step: "validate_file", Kind: KindAuth, Err: errors.New("download returned an HTML page")},
		}
	}

	if err := os.MkdirAll(f.files.Dir, 0o755); err != nil {
		return failed(&FetchError{Period: label, Step: "store_file", Kind: KindOther, Err: err})
	}

	var (
		header []string
		rows   []models.RawRow
	)
	err = writeFileAtomic(path, body, func(tmp string) error {
		var readErr error
		header, rows, readErr = ReadTable(tmp, f.files.Lines)
		if readErr == nil && len(rows) == 0 {
			readErr = errors.New("no data rows")
		}
		return readErr
	})
	if err != nil {
		return failed(&FetchError{Period: label, Step: "validate_file", Kind: KindRead, Err: err})
	}
	f.logger.Debug("period file downloaded",
		slog.String("url", target),
		slog.String("path", path),
		slog.Int("bytes", len(body)),
		slog.Int("rows", len(rows)),
	)
	return FetchResult{Status: StatusSuccess, Header: header, Rows: rows, Location: path}
}

// Authenticate re-establishes the client session by requesting the chart
// landing page, which refreshes the session cookies.
func (f *DownloadFetcher) Authenticate(ctx context.Context) error {
	landing := f.cfg.BaseURL
	if landing == "" {
		return ErrAuthUnavailable
	}
	resp, err := f.client.R().SetContext(ctx).Get(landing)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("authenticate: http status %d", resp.StatusCode())
	}
	f.client.SetCookies(resp.Cookies())
	return nil
}

// Close releases idle connections of the client.
func (f *DownloadFetcher) Close() error {
	f.client.GetClient().CloseIdleConnections()
	return nil
}

// writeFileAtomic writes data next to path, runs check on the temporary
// file and only then moves it into place.
func writeFileAtomic(path string, data []byte, check func(tmp string) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if check != nil {
		if err := check(name); err != nil {
			os.Remove(name)
			return err
		}
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
