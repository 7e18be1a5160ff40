package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-harvest-places/config"
	"github.com/aluiziolira/go-harvest-places/harvester"
	"github.com/aluiziolira/go-harvest-places/models"
	"github.com/aluiziolira/go-harvest-places/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type harvestFlags struct {
	configPath      string
	lat             float64
	lng             float64
	radius          int
	category        string
	output          string
	format          string
	detailDelay     time.Duration
	pageDelay       time.Duration
	maxPages        int
	maxRetries      int
	retryBackoff    time.Duration
	retryBackoffMax time.Duration
	timeout         time.Duration
	dedupe          bool
	metricsAddr     string
	verbose         bool
}

func newHarvestFlagSet(f *harvestFlags) *flag.FlagSet {
	d := config.DefaultConfig()

	fs := flag.NewFlagSet("harvest", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "YAML config file")
	fs.Float64Var(&f.lat, "lat", d.Latitude, "Center latitude")
	fs.Float64Var(&f.lng, "lng", d.Longitude, "Center longitude")
	fs.IntVar(&f.radius, "radius", d.RadiusMeters, "Search radius in meters")
	fs.StringVar(&f.category, "category", d.Category, "Place type to search for")
	fs.StringVar(&f.output, "output", d.OutputFile, "Output file path")
	fs.StringVar(&f.format, "format", d.OutputFormat, "Output format: csv, json, geojson, sqlite, or dual")
	fs.DurationVar(&f.detailDelay, "detail-delay", d.DetailDelay, "Pause after each detail lookup")
	fs.DurationVar(&f.pageDelay, "page-delay", d.PageDelay, "Pause before requesting the next page")
	fs.IntVar(&f.maxPages, "max-pages", d.MaxPages, "Maximum search pages (0 = all)")
	fs.IntVar(&f.maxRetries, "max-retries", d.MaxRetries, "Retry attempts per request (0 disables retries)")
	fs.DurationVar(&f.retryBackoff, "retry-backoff", d.RetryBackoff, "Initial retry backoff")
	fs.DurationVar(&f.retryBackoffMax, "retry-backoff-max", d.RetryBackoffMax, "Maximum retry backoff")
	fs.DurationVar(&f.timeout, "timeout", d.Timeout, "Per-request timeout")
	fs.BoolVar(&f.dedupe, "dedupe", d.Dedupe, "Skip place ids already seen in this run")
	fs.StringVar(&f.metricsAddr, "metrics-addr", d.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	fs.BoolVar(&f.verbose, "v", d.Verbose, "Enable verbose logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: harvester harvest [flags]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s=... harvester harvest\n", config.EnvAPIKey)
		fmt.Fprintf(os.Stderr, "  harvester harvest -lat 41.3874 -lng 2.1686 -radius 3000 -format sqlite -output out/bcn.db\n")
	}
	return fs
}

// loadHarvestConfig layers defaults, the optional YAML file, the environment
// and finally the flags the user set explicitly.
func loadHarvestConfig(args []string) (*config.Config, error) {
	var f harvestFlags
	fs := newHarvestFlagSet(&f)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if f.configPath != "" {
		if err := cfg.LoadFile(f.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "lat":
			cfg.Latitude = f.lat
		case "lng":
			cfg.Longitude = f.lng
		case "radius":
			cfg.RadiusMeters = f.radius
		case "category":
			cfg.Category = f.category
		case "output":
			cfg.OutputFile = f.output
		case "format":
			cfg.OutputFormat = strings.ToLower(f.format)
		case "detail-delay":
			cfg.DetailDelay = f.detailDelay
		case "page-delay":
			cfg.PageDelay = f.pageDelay
		case "max-pages":
			cfg.MaxPages = f.maxPages
		case "max-retries":
			cfg.MaxRetries = f.maxRetries
		case "retry-backoff":
			cfg.RetryBackoff = f.retryBackoff
		case "retry-backoff-max":
			cfg.RetryBackoffMax = f.retryBackoffMax
		case "timeout":
			cfg.Timeout = f.timeout
		case "dedupe":
			cfg.Dedupe = f.dedupe
		case "metrics-addr":
			cfg.MetricsAddr = f.metricsAddr
		case "v":
			cfg.Verbose = f.verbose
		}
	})
	return cfg, nil
}

func runHarvest(args []string) error {
	cfg, err := loadHarvestConfig(args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	h, err := harvester.NewHarvester(cfg)
	if err != nil {
		return fmt.Errorf("initialising harvester: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.MetricsAddr, h.Metrics)
	defer shutdownMetricsServer(metricsServer)

	query := models.NewSearchQuery(cfg.Latitude, cfg.Longitude, cfg.RadiusMeters, cfg.Category)
	result, harvestErr := h.Harvest(ctx, query)
	if harvestErr != nil && len(result.Records) > 0 {
		slog.Warn("harvest failed, writing partial results",
			slog.Int("records", len(result.Records)),
			slog.String("output", cfg.OutputFile),
		)
	}

	var pipelineMetrics map[string]interface{}
	if len(result.Records) > 0 || harvestErr == nil {
		pipelineMetrics, err = writeRecords(cfg, result)
		if err != nil {
			return errors.Join(harvestErr, err)
		}
	}

	printSummary(result, cfg.OutputFile, pipelineMetrics)
	if harvestErr != nil {
		return fmt.Errorf("harvest %s: %w", result.State, harvestErr)
	}
	return nil
}

// writeRecords runs the result through the pipeline into the configured
// output and validates the artifact.
func writeRecords(cfg *config.Config, result *models.HarvestResult) (map[string]interface{}, error) {
	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile, result.RunID)
	if err != nil {
		return nil, fmt.Errorf("creating writer: %w", err)
	}

	p := pipeline.NewPipeline(writer, cfg)
	if err := p.Process(result.Records...); err != nil {
		p.Close()
		return nil, fmt.Errorf("writing records: %w", err)
	}
	if err := p.Close(); err != nil {
		return nil, fmt.Errorf("pipeline shutdown: %w", err)
	}
	if len(result.Records) > 0 {
		if err := writer.Validate(); err != nil {
			return nil, fmt.Errorf("output validation: %w", err)
		}
	}
	return p.GetMetrics(), nil
}

func createWriter(format, filename, runID string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "geojson":
		return pipeline.NewGeoJSONWriter(filename)
	case "sqlite":
		return pipeline.NewSQLiteWriter(filename, runID)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func startMetricsServer(addr string, metrics *harvester.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func shutdownMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}
