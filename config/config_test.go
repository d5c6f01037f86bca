package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-chart-sync/period"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		base    func() *Config
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty source",
			base:    AlbumConfig,
			mutate:  func(cfg *Config) { cfg.Source = "" },
			wantErr: "source",
		},
		{
			name:    "bad epoch",
			base:    AlbumConfig,
			mutate:  func(cfg *Config) { cfg.Epoch = "2015/01" },
			wantErr: "epoch",
		},
		{
			name:    "negative lag",
			base:    DailyStreamConfig,
			mutate:  func(cfg *Config) { cfg.Lag = -1 },
			wantErr: "lag",
		},
		{
			name:    "unknown policy",
			base:    AlbumConfig,
			mutate:  func(cfg *Config) { cfg.FailurePolicy = "retry-forever" },
			wantErr: "failure policy",
		},
		{
			name:    "snapshot without date key",
			base:    DailyStreamConfig,
			mutate:  func(cfg *Config) { cfg.KeyColumns = []string{"rank", "uri"} },
			wantErr: "date column",
		},
		{
			name:    "flush each period under all-or-nothing",
			base:    DailyStreamConfig,
			mutate:  func(cfg *Config) { cfg.FlushEachPeriod = true },
			wantErr: "all-or-nothing",
		},
		{
			name:    "html fetcher in snapshot mode",
			base:    DailyStreamConfig,
			mutate:  func(cfg *Config) { cfg.Fetcher = FetcherHTML },
			wantErr: "html fetcher",
		},
		{
			name:    "download template without period",
			base:    WeeklyArtistConfig,
			mutate:  func(cfg *Config) { cfg.URLTemplate = "https://charts.example.test/weekly" },
			wantErr: "{period}",
		},
		{
			name:    "invalid base url",
			base:    AlbumConfig,
			mutate:  func(cfg *Config) { cfg.BaseURL = "http://" },
			wantErr: "base URL",
		},
		{
			name:    "negative timeout",
			base:    AlbumConfig,
			mutate:  func(cfg *Config) { cfg.Timeout = -1 * time.Second },
			wantErr: "timeout",
		},
		{
			name: "backoff above max",
			base: AlbumConfig,
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = 3 * time.Second
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name:    "unknown export",
			base:    AlbumConfig,
			mutate:  func(cfg *Config) { cfg.Exports = []string{"xlsx"} },
			wantErr: "export format",
		},
		{
			name:    "prefix without bucket",
			base:    AlbumConfig,
			mutate:  func(cfg *Config) { cfg.PublishPrefix = "charts/" },
			wantErr: "publish bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPresetsValid(t *testing.T) {
	for _, name := range []string{"album", "daily", "weekly"} {
		cfg, err := Preset(name)
		if err != nil {
			t.Fatalf("preset %s: %v", name, err)
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("preset %s should validate, got %v", name, err)
		}
	}
	if _, err := Preset("hourly"); err == nil {
		t.Fatalf("expected unknown preset error")
	}
}

func TestEpochPeriod(t *testing.T) {
	cfg := AlbumConfig()
	p, err := cfg.EpochPeriod()
	if err != nil {
		t.Fatalf("epoch: %v", err)
	}
	if !p.Equal(period.Month(2015, time.January)) {
		t.Fatalf("epoch = %s, want 2015-01", p)
	}
}

func TestLoadMergesLocalOverride(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "chartsync.json5")
	local := filepath.Join(dir, "chartsync.local.json5")

	writeFile(t, base, `{
		// weekly artists, mirrored to a shared folder
		preset: "weekly",
		dataset: "shared/yt.csv",
		delay: "5s",
		exports: ["json"],
	}`)
	writeFile(t, local, `{ dataset: "local/yt.csv", max_retries: 0 }`)

	cfg, err := Load(base, "album")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Source != "youtube-us-weekly-artists" {
		t.Fatalf("source = %q, want weekly preset", cfg.Source)
	}
	if cfg.DatasetPath != "local/yt.csv" {
		t.Fatalf("dataset = %q, want local override", cfg.DatasetPath)
	}
	if cfg.Delay != 5*time.Second {
		t.Fatalf("delay = %v, want 5s", cfg.Delay)
	}
	if cfg.MaxRetries != 0 {
		t.Fatalf("max retries = %d, want 0", cfg.MaxRetries)
	}
	if len(cfg.Exports) != 1 || cfg.Exports[0] != "json" {
		t.Fatalf("exports = %v", cfg.Exports)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json5"), "album"); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CHARTSYNC_DATASET", "env/albums.csv")
	t.Setenv("CHARTSYNC_DELAY", "250ms")
	t.Setenv("CHARTSYNC_MAX_RETRIES", "5")

	cfg := AlbumConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.DatasetPath != "env/albums.csv" || cfg.Delay != 250*time.Millisecond || cfg.MaxRetries != 5 {
		t.Fatalf("env not applied: %+v", cfg)
	}

	t.Setenv("CHARTSYNC_TIMEOUT", "soon")
	if err := cfg.ApplyEnv(); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
