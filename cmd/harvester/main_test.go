package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-harvest-places/config"
	"github.com/aluiziolira/go-harvest-places/models"
	"github.com/aluiziolira/go-harvest-places/pipeline"
)

func clearHarvestEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvAPIKey, config.EnvCategory, config.EnvRadius, config.EnvMaxPages,
		config.EnvDetailDelay, config.EnvPageDelay, config.EnvOutput,
		config.EnvMetricsAddr, config.EnvMaxRetries, config.EnvTimeout,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadHarvestConfigPrecedence(t *testing.T) {
	clearHarvestEnv(t)

	path := filepath.Join(t.TempDir(), "harvest.yaml")
	yaml := "category: gas_station\nradius: 1500\nmax_pages: 2\npacing:\n  between_pages: 3s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(config.EnvAPIKey, "env-key")
	t.Setenv(config.EnvRadius, "2500")
	t.Setenv(config.EnvMaxPages, "4")

	cfg, err := loadHarvestConfig([]string{"-config", path, "-max-pages", "1", "-format", "SQLITE"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.APIKey != "env-key" {
		t.Fatalf("api key not taken from env")
	}
	if cfg.Category != "gas_station" {
		t.Fatalf("category = %q, want file value", cfg.Category)
	}
	if cfg.RadiusMeters != 2500 {
		t.Fatalf("radius = %d, env should override file", cfg.RadiusMeters)
	}
	if cfg.MaxPages != 1 {
		t.Fatalf("max pages = %d, explicit flag should win", cfg.MaxPages)
	}
	if cfg.PageDelay != 3*time.Second {
		t.Fatalf("page delay = %s, want file value", cfg.PageDelay)
	}
	if cfg.DetailDelay != 200*time.Millisecond {
		t.Fatalf("detail delay = %s, unset flag must not override", cfg.DetailDelay)
	}
	if cfg.OutputFormat != "sqlite" {
		t.Fatalf("format = %q, want lower-cased flag", cfg.OutputFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadHarvestConfigWithoutKeyFailsValidation(t *testing.T) {
	clearHarvestEnv(t)

	cfg, err := loadHarvestConfig(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), config.EnvAPIKey) {
		t.Fatalf("expected missing key error naming %s, got %v", config.EnvAPIKey, err)
	}
}

func TestCreateWriter(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		format string
		file   string
		want   string
	}{
		{format: "csv", file: "out.csv", want: "*pipeline.CSVWriter"},
		{format: "json", file: "out.jsonl", want: "*pipeline.JSONWriter"},
		{format: "geojson", file: "out.geojson", want: "*pipeline.GeoJSONWriter"},
		{format: "sqlite", file: "out.db", want: "*pipeline.SQLiteWriter"},
		{format: "dual", file: "dual.csv", want: "*pipeline.DualWriter"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			w, err := createWriter(tt.format, filepath.Join(dir, tt.file), "run-1")
			if err != nil {
				t.Fatalf("create writer: %v", err)
			}
			defer w.Close()
			if got := typeName(w); got != tt.want {
				t.Fatalf("writer = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := createWriter("xml", filepath.Join(dir, "out.xml"), "run-1"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func typeName(w pipeline.OutputWriter) string {
	switch w.(type) {
	case *pipeline.CSVWriter:
		return "*pipeline.CSVWriter"
	case *pipeline.JSONWriter:
		return "*pipeline.JSONWriter"
	case *pipeline.GeoJSONWriter:
		return "*pipeline.GeoJSONWriter"
	case *pipeline.SQLiteWriter:
		return "*pipeline.SQLiteWriter"
	case *pipeline.DualWriter:
		return "*pipeline.DualWriter"
	default:
		return "unknown"
	}
}

func TestWriteRecordsPartialResult(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputFile = filepath.Join(t.TempDir(), "partial.csv")

	result := &models.HarvestResult{
		RunID: "run-1",
		State: models.StateFailed,
		Records: []models.StationRecord{
			{ExternalID: "a", Name: "A", Address: "Calle A", Latitude: 40.1, Longitude: -3.1},
		},
	}

	metrics, err := writeRecords(cfg, result)
	if err != nil {
		t.Fatalf("write records: %v", err)
	}
	if processed := metrics["processed_records"].(int64); processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	data, err := os.ReadFile(cfg.OutputFile)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "Calle A") {
		t.Fatalf("partial record missing from output: %s", data)
	}
}

func TestRenderSummary(t *testing.T) {
	result := &models.HarvestResult{
		RunID:          "run-1",
		State:          models.StateFailed,
		Records:        make([]models.StationRecord, 3),
		Pages:          1,
		SearchRequests: 2,
		Retries:        1,
	}
	out := renderSummary(result, "out.csv", nil)
	for _, want := range []string{"Harvest failed", "run-1", "nothing written"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}

type failingCloser struct {
	bytes.Buffer
	closeErr error
}

func (f *failingCloser) Close() error {
	return f.closeErr
}

func TestWriteListingsReportsCloseError(t *testing.T) {
	out := &failingCloser{closeErr: errors.New("no space left on device")}
	listings := []models.Listing{{ID: "1", Location: "A · Calle A"}}

	err := writeListings(out, listings)
	if err == nil || !strings.Contains(err.Error(), "no space left") {
		t.Fatalf("expected close error, got %v", err)
	}
	if !strings.Contains(out.String(), "A · Calle A") {
		t.Fatalf("listings not written before close: %s", out.String())
	}
}

func TestRunExportFromCSV(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "parking.csv")
	output := filepath.Join(dir, "out", "parking_data.json")
	csv := "Name,Address,Latitude,Longitude,Price,Slots\nParking Sol,Puerta del Sol 1,40.4169,-3.7035,3,120\n"
	if err := os.WriteFile(input, []byte(csv), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	if err := runExport([]string{"-input", input, "-output", output}); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "Parking Sol · Puerta del Sol 1") {
		t.Fatalf("unexpected output: %s", data)
	}
}
