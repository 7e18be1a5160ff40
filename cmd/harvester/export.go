package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-harvest-places/listing"
	"github.com/aluiziolira/go-harvest-places/models"
	"github.com/aluiziolira/go-harvest-places/pipeline"
)

func runExport(args []string) error {
	var inputPath, dbPath, outputPath, description string

	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.StringVar(&inputPath, "input", "", "CSV file produced by a harvest (optionally with Price/Slots columns)")
	fs.StringVar(&dbPath, "db", "", "SQLite file produced by a harvest")
	fs.StringVar(&outputPath, "output", "parking_data.json", "Listing JSON output path")
	fs.StringVar(&description, "description", listing.DefaultDescription, "Description applied to every listing")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: harvester export [flags]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  harvester export -input output/parking.csv\n")
		fmt.Fprintf(os.Stderr, "  harvester export -db output/parking.db -output app/parking_data.json\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if (inputPath == "") == (dbPath == "") {
		return fmt.Errorf("exactly one of -input or -db is required")
	}

	var rows []listing.Row
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		rows, err = listing.ReadCSV(f)
		if err != nil {
			return fmt.Errorf("reading %s: %w", inputPath, err)
		}
	} else {
		stored, err := pipeline.LoadStations(dbPath)
		if err != nil {
			return fmt.Errorf("loading db: %w", err)
		}
		rows = listing.RowsFromStored(stored)
	}

	if len(rows) == 0 {
		return fmt.Errorf("no rows to export")
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}

	listings := listing.Build(rows, description)
	if err := writeListings(out, listings); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Exported %d listings to %s\n", len(listings), outputPath)
	return nil
}

// writeListings encodes listings to out and closes it, reporting close errors.
func writeListings(out io.WriteCloser, listings []models.Listing) error {
	if err := listing.Write(out, listings); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing output: %w", err)
	}
	return nil
}
