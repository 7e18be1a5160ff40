// Package listing turns harvested station rows into the display listing JSON
// consumed by the app.
package listing

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-harvest-places/models"
	"github.com/aluiziolira/go-harvest-places/pipeline"
)

// DefaultDescription is used when no description is supplied.
const DefaultDescription = "Sin descripción por el momento"

// ErrMissingColumn is returned when a required CSV column is absent.
var ErrMissingColumn = errors.New("missing column")

// Row is one tabular input row. Price and Slots are filled in by hand after
// the harvest and may be blank.
type Row struct {
	Name      string
	Address   string
	Price     string
	Latitude  float64
	Longitude float64
	Slots     int
}

var requiredColumns = []string{"name", "address", "latitude", "longitude"}

// ReadCSV reads rows from a CSV with a header line. Column names are matched
// case-insensitively; Name, Address, Latitude and Longitude are required.
func ReadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	cell := func(record []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}

		lat, err := strconv.ParseFloat(cell(record, "latitude"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: latitude: %w", line, err)
		}
		lng, err := strconv.ParseFloat(cell(record, "longitude"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: longitude: %w", line, err)
		}

		slots := 0
		if raw := cell(record, "slots"); raw != "" {
			slots, err = strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: slots: %w", line, err)
			}
		}

		rows = append(rows, Row{
			Name:      cell(record, "name"),
			Address:   cell(record, "address"),
			Price:     cell(record, "price"),
			Latitude:  lat,
			Longitude: lng,
			Slots:     slots,
		})
	}
	return rows, nil
}

// RowsFromRecords converts harvested records; price and slots stay empty.
func RowsFromRecords(records []models.StationRecord) []Row {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row{
			Name:      r.Name,
			Address:   r.Address,
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
		})
	}
	return rows
}

// RowsFromStored converts rows loaded from the SQLite store.
func RowsFromStored(stored []pipeline.StoredStation) []Row {
	rows := make([]Row, 0, len(stored))
	for _, s := range stored {
		rows = append(rows, Row{
			Name:      s.Name,
			Address:   s.Address,
			Price:     s.Price,
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Slots:     s.Slots,
		})
	}
	return rows
}

// Build numbers rows from 1 and composes their location line.
func Build(rows []Row, description string) []models.Listing {
	if description == "" {
		description = DefaultDescription
	}
	listings := make([]models.Listing, 0, len(rows))
	for i, row := range rows {
		listings = append(listings, models.Listing{
			ID:          strconv.Itoa(i + 1),
			Price:       row.Price,
			Location:    row.Name + " · " + row.Address,
			Description: description,
			Latitude:    row.Latitude,
			Longitude:   row.Longitude,
			Slots:       row.Slots,
		})
	}
	return listings
}

// Write encodes listings as an indented JSON array without escaping
// non-ASCII or HTML characters.
func Write(w io.Writer, listings []models.Listing) error {
	if listings == nil {
		listings = []models.Listing{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(listings); err != nil {
		return fmt.Errorf("encode listings: %w", err)
	}
	return nil
}
