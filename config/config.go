package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MaxRetriesLimit bounds per-request retries.
const MaxRetriesLimit = 10

// Config holds harvester configuration.
type Config struct {
	SearchURL       string
	DetailsURL      string
	APIKey          string
	DetailFields    []string
	Latitude        float64
	Longitude       float64
	RadiusMeters    int
	Category        string
	MaxPages        int // 0 walks every page the provider returns
	DetailDelay     time.Duration
	PageDelay       time.Duration
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	Dedupe          bool
	DedupeMaxSize   int
	BatchSize       int
	OutputFile      string
	OutputFormat    string // csv, json, geojson, sqlite, or dual
	UserAgent       string
	Verbose         bool
	MetricsAddr     string
}

// DefaultConfig returns defaults matching a parking search around Madrid centre.
// APIKey is intentionally empty; it must come from the environment or a file.
func DefaultConfig() *Config {
	return &Config{
		SearchURL:       "https://maps.googleapis.com/maps/api/place/nearbysearch/json",
		DetailsURL:      "https://maps.googleapis.com/maps/api/place/details/json",
		DetailFields:    []string{"formatted_phone_number", "opening_hours"},
		Latitude:        40.4168,
		Longitude:       -3.7038,
		RadiusMeters:    5000,
		Category:        "parking",
		MaxPages:        0,
		DetailDelay:     200 * time.Millisecond,
		PageDelay:       2 * time.Second,
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 8 * time.Second,
		Dedupe:          false,
		DedupeMaxSize:   10000,
		BatchSize:       64,
		OutputFile:      "output/parking.csv",
		OutputFormat:    "csv",
		UserAgent:       "go-harvest-places/1.0",
		Verbose:         false,
	}
}

var outputFormats = map[string]bool{
	"csv":     true,
	"json":    true,
	"geojson": true,
	"sqlite":  true,
	"dual":    true,
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := validateEndpoint("search URL", c.SearchURL); err != nil {
		return err
	}
	if err := validateEndpoint("details URL", c.DetailsURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("API key cannot be empty (set %s)", EnvAPIKey)
	}
	if len(c.DetailFields) == 0 {
		return fmt.Errorf("detail fields cannot be empty")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be within [-90, 90]")
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be within [-180, 180]")
	}
	if c.RadiusMeters <= 0 {
		return fmt.Errorf("radius must be positive")
	}
	if strings.TrimSpace(c.Category) == "" {
		return fmt.Errorf("category cannot be empty")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	if c.DetailDelay < 0 {
		return fmt.Errorf("detail delay cannot be negative")
	}
	if c.PageDelay < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.MaxRetries > MaxRetriesLimit {
		return fmt.Errorf("max retries cannot exceed %d", MaxRetriesLimit)
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
	if c.Dedupe && c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive when dedupe is enabled")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if !outputFormats[c.OutputFormat] {
		return fmt.Errorf("output format must be csv, json, geojson, sqlite, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

func validateEndpoint(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
