package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey      = "PLACES_API_KEY"
	EnvCategory    = "HARVEST_CATEGORY"
	EnvRadius      = "HARVEST_RADIUS"
	EnvMaxPages    = "HARVEST_MAX_PAGES"
	EnvDetailDelay = "HARVEST_DETAIL_DELAY"
	EnvPageDelay   = "HARVEST_PAGE_DELAY"
	EnvOutput      = "HARVEST_OUTPUT"
	EnvMetricsAddr = "HARVEST_METRICS_ADDR"
	EnvMaxRetries  = "HARVEST_MAX_RETRIES"
	EnvTimeout     = "HARVEST_TIMEOUT"
)

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment. Missing files are ignored; existing variables are not overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// EnvString returns a trimmed environment value and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses an integer environment value.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvDuration parses a Go duration string such as "250ms".
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// ApplyEnv overlays environment overrides onto cfg.
func (c *Config) ApplyEnv() error {
	if value, ok := EnvString(EnvAPIKey); ok {
		c.APIKey = value
	}
	if value, ok := EnvString(EnvCategory); ok {
		c.Category = value
	}
	if value, ok := EnvString(EnvOutput); ok {
		c.OutputFile = value
	}
	if value, ok := EnvString(EnvMetricsAddr); ok {
		c.MetricsAddr = value
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvRadius, &c.RadiusMeters},
		{EnvMaxPages, &c.MaxPages},
		{EnvMaxRetries, &c.MaxRetries},
	}
	for _, item := range ints {
		value, ok, err := EnvInt(item.key)
		if err != nil {
			return err
		}
		if ok {
			*item.dst = value
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{EnvDetailDelay, &c.DetailDelay},
		{EnvPageDelay, &c.PageDelay},
		{EnvTimeout, &c.Timeout},
	}
	for _, item := range durations {
		value, ok, err := EnvDuration(item.key)
		if err != nil {
			return err
		}
		if ok {
			*item.dst = value
		}
	}
	return nil
}
