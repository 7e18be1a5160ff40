package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML layout. Pointers distinguish "unset" from zero.
type fileConfig struct {
	SearchURL    *string  `yaml:"search_url"`
	DetailsURL   *string  `yaml:"details_url"`
	APIKey       *string  `yaml:"api_key"`
	DetailFields []string `yaml:"detail_fields"`
	Center       *struct {
		Lat float64 `yaml:"lat"`
		Lng float64 `yaml:"lng"`
	} `yaml:"center"`
	RadiusMeters *int    `yaml:"radius"`
	Category     *string `yaml:"category"`
	MaxPages     *int    `yaml:"max_pages"`
	Pacing       struct {
		BetweenDetails string `yaml:"between_details"`
		BetweenPages   string `yaml:"between_pages"`
	} `yaml:"pacing"`
	Timeout string `yaml:"timeout"`
	Retry   struct {
		MaxRetries *int   `yaml:"max_retries"`
		Backoff    string `yaml:"backoff"`
		BackoffMax string `yaml:"backoff_max"`
	} `yaml:"retry"`
	Dedupe        *bool   `yaml:"dedupe"`
	DedupeMaxSize *int    `yaml:"dedupe_max_size"`
	BatchSize     *int    `yaml:"batch_size"`
	OutputFile    *string `yaml:"output"`
	OutputFormat  *string `yaml:"format"`
	UserAgent     *string `yaml:"user_agent"`
	MetricsAddr   *string `yaml:"metrics_addr"`
}

// LoadFile overlays the YAML file at path onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return c.apply(data)
}

func (c *Config) apply(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setString(&c.SearchURL, fc.SearchURL)
	setString(&c.DetailsURL, fc.DetailsURL)
	setString(&c.APIKey, fc.APIKey)
	setString(&c.Category, fc.Category)
	setString(&c.OutputFile, fc.OutputFile)
	setString(&c.OutputFormat, fc.OutputFormat)
	setString(&c.UserAgent, fc.UserAgent)
	setString(&c.MetricsAddr, fc.MetricsAddr)
	setInt(&c.RadiusMeters, fc.RadiusMeters)
	setInt(&c.MaxPages, fc.MaxPages)
	setInt(&c.MaxRetries, fc.Retry.MaxRetries)
	setInt(&c.DedupeMaxSize, fc.DedupeMaxSize)
	setInt(&c.BatchSize, fc.BatchSize)
	if fc.Dedupe != nil {
		c.Dedupe = *fc.Dedupe
	}
	if len(fc.DetailFields) > 0 {
		c.DetailFields = fc.DetailFields
	}
	if fc.Center != nil {
		c.Latitude = fc.Center.Lat
		c.Longitude = fc.Center.Lng
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"pacing.between_details", fc.Pacing.BetweenDetails, &c.DetailDelay},
		{"pacing.between_pages", fc.Pacing.BetweenPages, &c.PageDelay},
		{"timeout", fc.Timeout, &c.Timeout},
		{"retry.backoff", fc.Retry.Backoff, &c.RetryBackoff},
		{"retry.backoff_max", fc.Retry.BackoffMax, &c.RetryBackoffMax},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = *value
	}
}

func setInt(dst *int, value *int) {
	if value != nil {
		*dst = *value
	}
}
