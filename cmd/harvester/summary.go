package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/aluiziolira/go-harvest-places/models"
)

var (
	titleOK     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	titleFailed = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF4672"))
	statLabel   = lipgloss.NewStyle().Foreground(lipgloss.Color("#767676")).Width(15)
	summaryBox  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

func printSummary(result *models.HarvestResult, outputFile string, metrics map[string]interface{}) {
	fmt.Fprintln(os.Stderr, renderSummary(result, outputFile, metrics))
}

func renderSummary(result *models.HarvestResult, outputFile string, metrics map[string]interface{}) string {
	var b strings.Builder

	if result.State == models.StateFailed {
		b.WriteString(titleFailed.Render("Harvest failed"))
	} else {
		b.WriteString(titleOK.Render("Harvest complete"))
	}
	b.WriteString("\n")

	stat := func(label string, value any) {
		b.WriteString(statLabel.Render(label))
		b.WriteString(fmt.Sprint(value))
		b.WriteString("\n")
	}

	written := int64(0)
	if processed, ok := metrics["processed_records"].(int64); ok {
		written = processed
	}

	stat("Run", result.RunID)
	stat("Records", len(result.Records))
	stat("Written", written)
	stat("Pages", result.Pages)
	stat("Search calls", result.SearchRequests)
	stat("Detail calls", result.DetailRequests)
	stat("Retries", result.Retries)
	if result.Duplicates > 0 {
		stat("Duplicates", result.Duplicates)
	}
	if result.OutsideRadius > 0 {
		stat("Off radius", result.OutsideRadius)
	}
	if result.Truncated {
		stat("Truncated", "page limit reached")
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		stat("Validation", valErrors)
	}
	if !result.EndTime.IsZero() {
		stat("Duration", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	}
	if metrics != nil {
		stat("Output", outputFile)
	} else {
		stat("Output", "(nothing written)")
	}

	return summaryBox.Render(strings.TrimSuffix(b.String(), "\n"))
}
