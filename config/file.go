package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"

	"github.com/aluiziolira/go-chart-sync/period"
)

// File is the on-disk (JSON5) form of a Config. Empty fields keep the
// preset value.
type File struct {
	Preset          string   `json:"preset"`
	Source          string   `json:"source"`
	Granularity     string   `json:"granularity"`
	Mode            string   `json:"mode"`
	PeriodLayout    string   `json:"period_layout"`
	Epoch           string   `json:"epoch"`
	Lag             *int     `json:"lag"`
	FailurePolicy   string   `json:"failure_policy"`
	DatasetPath     string   `json:"dataset"`
	WriteBOM        *bool    `json:"write_bom"`
	FlushEachPeriod *bool    `json:"flush_each_period"`
	DateColumn      string   `json:"date_column"`
	KeyColumns      []string `json:"key_columns"`
	NumericColumns  []string `json:"numeric_columns"`
	Fetcher         string   `json:"fetcher"`
	BaseURL         string   `json:"base_url"`
	URLTemplate     string   `json:"url_template"`
	DownloadDir     string   `json:"download_dir"`
	FilePattern     string   `json:"file_pattern"`
	LineFormat      string   `json:"line_format"`
	AnchorLeading   *int     `json:"anchor_leading"`
	AnchorTrailing  *int     `json:"anchor_trailing"`
	FileWait        string   `json:"file_wait"`
	FilePoll        string   `json:"file_poll"`
	Delay           string   `json:"delay"`
	Timeout         string   `json:"timeout"`
	MaxRetries      *int     `json:"max_retries"`
	UserAgent       string   `json:"user_agent"`
	Exports         []string `json:"exports"`
	MetricsAddr     string   `json:"metrics_addr"`
	PushgatewayURL  string   `json:"pushgateway"`
	PublishBucket   string   `json:"publish_bucket"`
	PublishPrefix   string   `json:"publish_prefix"`
}

func splitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext), strings.TrimPrefix(ext, ".")
}

// ReadFile reads name and, when present, name.local.<ext>, the local file
// overriding the base one. It returns os.ErrNotExist when neither exists.
func ReadFile(name string) (File, error) {
	var out File
	found := false

	data, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(data) > 0 {
		if err := json5.Unmarshal(data, &out); err != nil {
			return out, fmt.Errorf("parse %s: %w", name, err)
		}
		found = true
	}

	prefix, ext := splitExt(name)
	localName := fmt.Sprintf("%s.local.%s", prefix, ext)
	local, err := os.ReadFile(localName)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(local) > 0 {
		var override File
		if err := json5.Unmarshal(local, &override); err != nil {
			return out, fmt.Errorf("parse %s: %w", localName, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, fmt.Errorf("merge %s: %w", localName, err)
		}
		slog.Info("merging config with local overrides", slog.String("local", localName))
		found = true
	}

	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}

// Load builds a Config from a config file. The file's preset (or fallback
// when the file names none) supplies defaults.
func Load(name, fallback string) (*Config, error) {
	f, err := ReadFile(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config %s: %w", name, err)
		}
		return nil, err
	}

	preset := f.Preset
	if preset == "" {
		preset = fallback
	}
	cfg, err := Preset(preset)
	if err != nil {
		return nil, err
	}
	if err := f.Apply(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}
	return cfg, nil
}

// Apply copies every set field of f onto cfg.
func (f File) Apply(cfg *Config) error {
	setString(&cfg.Source, f.Source)
	setString(&cfg.PeriodLayout, f.PeriodLayout)
	setString(&cfg.Epoch, f.Epoch)
	setString(&cfg.DatasetPath, f.DatasetPath)
	setString(&cfg.DateColumn, f.DateColumn)
	setString(&cfg.Fetcher, f.Fetcher)
	setString(&cfg.BaseURL, f.BaseURL)
	setString(&cfg.URLTemplate, f.URLTemplate)
	setString(&cfg.DownloadDir, f.DownloadDir)
	setString(&cfg.FilePattern, f.FilePattern)
	setString(&cfg.LineFormat, f.LineFormat)
	setString(&cfg.UserAgent, f.UserAgent)
	setString(&cfg.MetricsAddr, f.MetricsAddr)
	setString(&cfg.PushgatewayURL, f.PushgatewayURL)
	setString(&cfg.PublishBucket, f.PublishBucket)
	setString(&cfg.PublishPrefix, f.PublishPrefix)

	if f.Granularity != "" {
		g, err := period.ParseGranularity(f.Granularity)
		if err != nil {
			return err
		}
		cfg.Granularity = g
	}
	if f.Mode != "" {
		cfg.Mode = Mode(f.Mode)
	}
	if f.FailurePolicy != "" {
		cfg.FailurePolicy = FailurePolicy(f.FailurePolicy)
	}
	if f.Lag != nil {
		cfg.Lag = *f.Lag
	}
	if f.WriteBOM != nil {
		cfg.WriteBOM = *f.WriteBOM
	}
	if f.FlushEachPeriod != nil {
		cfg.FlushEachPeriod = *f.FlushEachPeriod
	}
	if f.AnchorLeading != nil {
		cfg.AnchorLeading = *f.AnchorLeading
	}
	if f.AnchorTrailing != nil {
		cfg.AnchorTrailing = *f.AnchorTrailing
	}
	if f.MaxRetries != nil {
		cfg.MaxRetries = *f.MaxRetries
	}
	if len(f.KeyColumns) > 0 {
		cfg.KeyColumns = f.KeyColumns
	}
	if len(f.NumericColumns) > 0 {
		cfg.NumericColumns = f.NumericColumns
	}
	if len(f.Exports) > 0 {
		cfg.Exports = f.Exports
	}

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{f.FileWait, &cfg.FileWait},
		{f.FilePoll, &cfg.FilePoll},
		{f.Delay, &cfg.Delay},
		{f.Timeout, &cfg.Timeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
