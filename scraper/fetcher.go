// Package scraper retrieves raw chart rows for one period at a time.
package scraper

import (
	"context"
	"fmt"

	"github.com/aluiziolira/go-chart-sync/config"
	"github.com/aluiziolira/go-chart-sync/models"
	"github.com/aluiziolira/go-chart-sync/period"
)

// Status is the explicit outcome of one fetch.
type Status int

const (
	StatusSuccess Status = iota
	StatusAuthRetryNeeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAuthRetryNeeded:
		return "auth_retry_needed"
	default:
		return "failed"
	}
}

// FetchResult carries the raw table of one period, or why it is missing.
type FetchResult struct {
	Status   Status
	Header   []string
	Rows     []models.RawRow
	Location string // URL or file the rows came from
	Err      error
}

func failed(err error) FetchResult {
	return FetchResult{Status: StatusFailed, Err: err}
}

// Fetcher retrieves the raw rows of one period. A Fetcher is a session: it
// is used for every period of one run and closed once at the end.
type Fetcher interface {
	Fetch(ctx context.Context, p period.Period) FetchResult
	Close() error
}

// Authenticator is implemented by fetchers that can re-establish an
// expired session after a StatusAuthRetryNeeded result.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// New returns the fetcher selected by cfg.Fetcher.
func New(cfg *config.Config) (Fetcher, error) {
	switch cfg.Fetcher {
	case config.FetcherHTML:
		return NewAlbumChartFetcher(cfg)
	case config.FetcherDownload:
		return NewDownloadFetcher(cfg), nil
	case config.FetcherFiles:
		return NewFileFetcher(cfg), nil
	default:
		return nil, fmt.Errorf("unknown fetcher %q", cfg.Fetcher)
	}
}
