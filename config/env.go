package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHARTSYNC_"

// EnvString returns the trimmed value of CHARTSYNC_<name> if set.
func EnvString(name string) (string, bool) {
	value, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// EnvInt parses CHARTSYNC_<name> as an integer.
func EnvInt(name string) (int, bool, error) {
	value, ok := EnvString(name)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return n, true, nil
}

// EnvDuration parses CHARTSYNC_<name> as a Go duration.
func EnvDuration(name string) (time.Duration, bool, error) {
	value, ok := EnvString(name)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return d, true, nil
}

// ApplyEnv overlays CHARTSYNC_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString("DATASET"); ok {
		c.DatasetPath = v
	}
	if v, ok := EnvString("DOWNLOAD_DIR"); ok {
		c.DownloadDir = v
	}
	if v, ok := EnvString("POLICY"); ok {
		c.FailurePolicy = FailurePolicy(v)
	}
	if v, ok := EnvString("METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := EnvString("PUSHGATEWAY"); ok {
		c.PushgatewayURL = v
	}
	if v, ok := EnvString("PUBLISH_BUCKET"); ok {
		c.PublishBucket = v
	}
	if v, ok := EnvString("PUBLISH_PREFIX"); ok {
		c.PublishPrefix = v
	}

	n, ok, err := EnvInt("MAX_RETRIES")
	if err != nil {
		return err
	} else if ok {
		c.MaxRetries = n
	}

	d, ok, err := EnvDuration("DELAY")
	if err != nil {
		return err
	} else if ok {
		c.Delay = d
	}
	d, ok, err = EnvDuration("TIMEOUT")
	if err != nil {
		return err
	} else if ok {
		c.Timeout = d
	}
	return nil
}
