package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/aluiziolira/go-chart-sync/period"
)

// Mode selects how new records combine with the persisted dataset.
type Mode string

const (
	// ModeCumulative sums a metric per natural key across periods.
	ModeCumulative Mode = "cumulative"
	// ModeSnapshot appends immutable per-period rows deduplicated by key.
	ModeSnapshot Mode = "snapshot"
)

// FailurePolicy decides what a failed period does to the rest of a run.
type FailurePolicy string

const (
	// PolicyBestEffort skips the failed period and keeps going. A failure
	// on the first planned period still fails the run.
	PolicyBestEffort FailurePolicy = "best-effort"
	// PolicyStop persists the periods merged before the failure and stops.
	PolicyStop FailurePolicy = "stop"
	// PolicyAllOrNothing aborts the run without persisting anything.
	PolicyAllOrNothing FailurePolicy = "all-or-nothing"
)

// Fetcher kinds.
const (
	FetcherHTML     = "html"
	FetcherDownload = "download"
	FetcherFiles    = "files"
)

// Line formats of downloaded period files.
const (
	LineFormatCSV      = "csv"
	LineFormatAnchored = "anchored"
)

// Config describes one chart source and how to keep its dataset in sync.
type Config struct {
	Source        string
	Granularity   period.Granularity
	Mode          Mode
	PeriodLayout  string
	Epoch         string // last covered period assumed when no dataset exists
	Lag           int
	FailurePolicy FailurePolicy

	DatasetPath     string
	WriteBOM        bool
	FlushEachPeriod bool
	DateColumn      string
	KeyColumns      []string
	NumericColumns  []string

	Fetcher        string
	BaseURL        string
	URLTemplate    string
	DownloadDir    string
	FilePattern    string
	LineFormat     string
	AnchorLeading  int
	AnchorTrailing int
	FileWait       time.Duration
	FilePoll       time.Duration

	Delay           time.Duration
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	UserAgent       string
	TitleCacheSize  int

	Exports        []string
	MetricsAddr    string
	PushgatewayURL string
	PublishBucket  string
	PublishPrefix  string
	Verbose        bool
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36"

// DefaultConfig returns the monthly album sales preset.
func DefaultConfig() *Config {
	return AlbumConfig()
}

// AlbumConfig returns defaults for the monthly cumulative album sales chart.
func AlbumConfig() *Config {
	return &Config{
		Source:          "circle-album-monthly",
		Granularity:     period.Monthly,
		Mode:            ModeCumulative,
		PeriodLayout:    "2006-01",
		Epoch:           "2015-01",
		Lag:             1,
		FailurePolicy:   PolicyBestEffort,
		DatasetPath:     "data/album_sales.csv",
		WriteBOM:        true,
		Fetcher:         FetcherHTML,
		BaseURL:         "https://circlechart.kr/page_chart/album.circle",
		LineFormat:      LineFormatCSV,
		FileWait:        10 * time.Second,
		FilePoll:        250 * time.Millisecond,
		Delay:           time.Second,
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    200 * time.Millisecond,
		RetryBackoffMax: 2 * time.Second,
		UserAgent:       defaultUserAgent,
		TitleCacheSize:  4096,
	}
}

// DailyStreamConfig returns defaults for the daily US streaming chart.
func DailyStreamConfig() *Config {
	return &Config{
		Source:          "spotify-us-daily",
		Granularity:     period.Daily,
		Mode:            ModeSnapshot,
		PeriodLayout:    "2006-01-02",
		Epoch:           "2025-04-27",
		Lag:             2,
		FailurePolicy:   PolicyAllOrNothing,
		DatasetPath:     "data/us_daily_stream.csv",
		DateColumn:      "date",
		KeyColumns:      []string{"date", "rank", "uri"},
		NumericColumns:  []string{"rank"},
		Fetcher:         FetcherFiles,
		URLTemplate:     "https://charts.spotify.com/charts/view/regional-us-daily/{period}",
		DownloadDir:     "data/spotdaily",
		FilePattern:     "regional-us-daily-{period}.csv",
		LineFormat:      LineFormatCSV,
		FileWait:        10 * time.Second,
		FilePoll:        250 * time.Millisecond,
		Delay:           3 * time.Second,
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    200 * time.Millisecond,
		RetryBackoffMax: 2 * time.Second,
		UserAgent:       defaultUserAgent,
		TitleCacheSize:  1024,
	}
}

// WeeklyArtistConfig returns defaults for the weekly US top artists chart.
func WeeklyArtistConfig() *Config {
	return &Config{
		Source:          "youtube-us-weekly-artists",
		Granularity:     period.Weekly,
		Mode:            ModeSnapshot,
		PeriodLayout:    "20060102",
		Epoch:           "20250417",
		Lag:             1,
		FailurePolicy:   PolicyAllOrNothing,
		DatasetPath:     "data/us_weekly_yt.csv",
		WriteBOM:        true,
		DateColumn:      "date",
		KeyColumns:      []string{"date", "Rank", "Artist Name"},
		NumericColumns:  []string{"Rank"},
		Fetcher:         FetcherDownload,
		BaseURL:         "https://charts.youtube.com/charts/TopArtists/us/weekly",
		URLTemplate:     "https://charts.youtube.com/charts/TopArtists/us/weekly/{period}/download",
		DownloadDir:     "data/ytweekly",
		FilePattern:     "youtube-charts-top-artists-us-weekly-{period}.csv",
		LineFormat:      LineFormatAnchored,
		AnchorLeading:   2,
		AnchorTrailing:  3,
		FileWait:        10 * time.Second,
		FilePoll:        250 * time.Millisecond,
		Delay:           3 * time.Second,
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    200 * time.Millisecond,
		RetryBackoffMax: 2 * time.Second,
		UserAgent:       defaultUserAgent,
		TitleCacheSize:  1024,
	}
}

// Preset returns the named preset configuration.
func Preset(name string) (*Config, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "album", "":
		return AlbumConfig(), nil
	case "daily":
		return DailyStreamConfig(), nil
	case "weekly":
		return WeeklyArtistConfig(), nil
	default:
		return nil, fmt.Errorf("unknown source preset %q (want album, daily or weekly)", name)
	}
}

// EpochPeriod parses Epoch into the period assumed covered when the
// dataset does not exist yet.
func (c *Config) EpochPeriod() (period.Period, error) {
	return period.Parse(c.Granularity, c.PeriodLayout, c.Epoch)
}

// Planner returns the period planner for this source.
func (c *Config) Planner() period.Planner {
	return period.Planner{Granularity: c.Granularity, Lag: c.Lag}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("source cannot be empty")
	}
	switch c.Granularity {
	case period.Monthly, period.Daily, period.Weekly:
	default:
		return fmt.Errorf("granularity must be monthly, daily or weekly")
	}
	if c.PeriodLayout == "" {
		return fmt.Errorf("period layout cannot be empty")
	}
	if _, err := c.EpochPeriod(); err != nil {
		return fmt.Errorf("invalid epoch: %w", err)
	}
	if c.Lag < 0 {
		return fmt.Errorf("lag cannot be negative")
	}

	switch c.Mode {
	case ModeCumulative:
	case ModeSnapshot:
		if c.DateColumn == "" {
			return fmt.Errorf("date column cannot be empty in snapshot mode")
		}
		if len(c.KeyColumns) == 0 {
			return fmt.Errorf("key columns cannot be empty in snapshot mode")
		}
		if !slices.Contains(c.KeyColumns, c.DateColumn) {
			return fmt.Errorf("key columns must include the date column %q", c.DateColumn)
		}
	default:
		return fmt.Errorf("mode must be cumulative or snapshot")
	}

	switch c.FailurePolicy {
	case PolicyBestEffort, PolicyStop, PolicyAllOrNothing:
	default:
		return fmt.Errorf("failure policy must be best-effort, stop or all-or-nothing")
	}

	if c.FlushEachPeriod && c.FailurePolicy == PolicyAllOrNothing {
		return fmt.Errorf("flush each period cannot be combined with the all-or-nothing failure policy")
	}

	if c.DatasetPath == "" {
		return fmt.Errorf("dataset path cannot be empty")
	}

	switch c.Fetcher {
	case FetcherHTML:
		if c.Mode != ModeCumulative {
			return fmt.Errorf("html fetcher only serves cumulative album charts")
		}
		if err := validateURL("base URL", c.BaseURL); err != nil {
			return err
		}
	case FetcherDownload:
		if err := validateURL("url template", c.URLTemplate); err != nil {
			return err
		}
		if !strings.Contains(c.URLTemplate, "{period}") {
			return fmt.Errorf("url template must contain {period}")
		}
		if err := c.validateFiles(); err != nil {
			return err
		}
	case FetcherFiles:
		if err := c.validateFiles(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("fetcher must be html, download or files")
	}

	switch c.LineFormat {
	case LineFormatCSV:
	case LineFormatAnchored:
		if c.AnchorLeading < 0 || c.AnchorTrailing < 0 {
			return fmt.Errorf("anchor field counts cannot be negative")
		}
	default:
		return fmt.Errorf("line format must be csv or anchored")
	}

	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.FileWait < 0 || c.FilePoll < 0 {
		return fmt.Errorf("file wait and poll cannot be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.TitleCacheSize <= 0 {
		return fmt.Errorf("title cache size must be positive")
	}

	for _, format := range c.Exports {
		switch format {
		case "json", "parquet":
		default:
			return fmt.Errorf("export format must be json or parquet, got %q", format)
		}
	}
	if c.PushgatewayURL != "" {
		if err := validateURL("pushgateway URL", c.PushgatewayURL); err != nil {
			return err
		}
	}
	if c.PublishPrefix != "" && c.PublishBucket == "" {
		return fmt.Errorf("publish prefix requires a publish bucket")
	}

	return nil
}

func (c *Config) validateFiles() error {
	if c.DownloadDir == "" {
		return fmt.Errorf("download dir cannot be empty")
	}
	if !strings.Contains(c.FilePattern, "{period}") {
		return fmt.Errorf("file pattern must contain {period}")
	}
	return nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	parsed, err := url.Parse(strings.ReplaceAll(raw, "{period}", "p"))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
