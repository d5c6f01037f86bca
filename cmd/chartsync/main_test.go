package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-chart-sync/config"
	"github.com/aluiziolira/go-chart-sync/models"
)

func TestBuildConfigLayersFlagsOverEnv(t *testing.T) {
	t.Setenv("CHARTSYNC_MAX_RETRIES", "5")
	t.Setenv("CHARTSYNC_DELAY", "4s")

	opts := &options{source: "weekly"}
	cmd := newSyncCmd(opts)
	if err := cmd.Flags().Parse([]string{"--delay", "1s", "--policy", "STOP", "--export", "json,parquet", "--dataset", "out/weekly.csv"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := buildConfig(cmd, opts)
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	if cfg.Source != "youtube-us-weekly-artists" {
		t.Fatalf("source = %q, want weekly preset", cfg.Source)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("max retries = %d, want 5 from env", cfg.MaxRetries)
	}
	if cfg.Delay != time.Second {
		t.Fatalf("delay = %s, want flag value 1s", cfg.Delay)
	}
	if cfg.FailurePolicy != config.PolicyStop {
		t.Fatalf("policy = %q, want stop", cfg.FailurePolicy)
	}
	if cfg.DatasetPath != "out/weekly.csv" {
		t.Fatalf("dataset = %q", cfg.DatasetPath)
	}
	if len(cfg.Exports) != 2 || cfg.Exports[1] != "parquet" {
		t.Fatalf("exports = %v", cfg.Exports)
	}
}

func TestBuildConfigRejectsInvalidFlags(t *testing.T) {
	opts := &options{source: "daily"}
	cmd := newSyncCmd(opts)
	if err := cmd.Flags().Parse([]string{"--policy", "sometimes"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := buildConfig(cmd, opts); err == nil {
		t.Fatalf("expected invalid policy to be rejected")
	}

	if _, err := buildConfig(newSyncCmd(&options{source: "hourly"}), &options{source: "hourly"}); err == nil {
		t.Fatalf("expected unknown preset to be rejected")
	}
}

func TestBuildConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "chartsync.json5")
	body := `{
		// weekly chart with a custom dataset
		preset: "weekly",
		dataset: "custom/weekly.csv",
		delay: "500ms",
	}`
	if err := os.WriteFile(name, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts := &options{configFile: name, source: "album"}
	cfg, err := buildConfig(newPlanCmd(opts), opts)
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	if cfg.Granularity.String() != "weekly" || cfg.DatasetPath != "custom/weekly.csv" || cfg.Delay != 500*time.Millisecond {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestPlanCommandPrintsPeriods(t *testing.T) {
	dataset := filepath.Join(t.TempDir(), "us_daily_stream.csv")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--source", "daily", "plan"})
	t.Setenv("CHARTSYNC_DATASET", dataset)

	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	got := out.String()
	for _, want := range []string{"spotify-us-daily", "2025-04-27 (epoch)", "2025-04-28"} {
		if !strings.Contains(got, want) {
			t.Fatalf("plan output missing %q:\n%s", want, got)
		}
	}
	if _, err := os.Stat(dataset); !os.IsNotExist(err) {
		t.Fatalf("plan must not create the dataset")
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	printSummary(&buf, &models.SyncResult{
		Source:        "spotify-us-daily",
		Outcome:       models.OutcomeFailed,
		StartTime:     start,
		EndTime:       start.Add(2 * time.Second),
		Planned:       []string{"2025-04-28", "2025-04-29"},
		Merged:        []string{"2025-04-28"},
		Failed:        []models.PeriodFailure{{Period: "2025-04-29", Step: "fetch", Error: "timeout"}},
		DroppedByType: map[string]int{"numeric_parse": 1},
		Saved:         true,
	})

	got := buf.String()
	for _, want := range []string{"Sync failed", "2025-04-29 (fetch): timeout", "numeric_parse", "Saved:         true", "Duration:      2s"} {
		if !strings.Contains(got, want) {
			t.Fatalf("summary missing %q:\n%s", want, got)
		}
	}
}
