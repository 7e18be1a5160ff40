package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aluiziolira/go-harvest-places/config"
)

var version = "dev"

func main() {
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "harvest":
			run(runHarvest, args[1:])
			return
		case "export":
			run(runExport, args[1:])
			return
		case "version":
			fmt.Println("harvester " + version)
			return
		case "help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	// No subcommand → harvest with flags
	run(runHarvest, args)
}

func run(cmd func([]string) error, args []string) {
	if err := cmd(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `harvester - places search harvester

Usage:
  harvester [flags]           Run a harvest (same as 'harvest')
  harvester harvest [flags]   Walk every search page and fetch place details
  harvester export [flags]    Build the listing JSON from a CSV or .db file
  harvester version           Show version

Run 'harvester harvest --help' or 'harvester export --help' for flags.
The API key is read from %s (a .env file is honoured).
`, config.EnvAPIKey)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
