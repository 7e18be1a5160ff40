package pipeline

import (
	"fmt"
	"os"
	"sync"

	"github.com/aluiziolira/go-harvest-places/models"
	"github.com/paulmach/orb/geojson"
)

// GeoJSONWriter collects records as point features and writes a single
// FeatureCollection on Close.
type GeoJSONWriter struct {
	filename   string
	collection *geojson.FeatureCollection
	written    bool
	mu         sync.Mutex
}

func NewGeoJSONWriter(filename string) (*GeoJSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return &GeoJSONWriter{
		filename:   filename,
		collection: geojson.NewFeatureCollection(),
	}, nil
}

// Feature converts a record into a GeoJSON point feature.
func Feature(r models.StationRecord) *geojson.Feature {
	f := geojson.NewFeature(r.Point())
	f.ID = r.ExternalID
	f.Properties["name"] = r.Name
	f.Properties["address"] = r.Address
	f.Properties["phone"] = r.Phone
	f.Properties["opening_hours"] = r.Hours
	if r.Rating != nil {
		f.Properties["rating"] = *r.Rating
	} else {
		f.Properties["rating"] = nil
	}
	if r.OpenNow != nil {
		f.Properties["open_now"] = *r.OpenNow
	} else {
		f.Properties["open_now"] = nil
	}
	return f
}

func (gw *GeoJSONWriter) Write(records []models.StationRecord) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	for _, record := range records {
		gw.collection.Append(Feature(record))
	}
	return nil
}

// Close marshals the collection to disk.
func (gw *GeoJSONWriter) Close() error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if gw.written {
		return nil
	}
	data, err := gw.collection.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal geojson: %w", err)
	}
	if err := os.WriteFile(gw.filename, data, 0o644); err != nil {
		return fmt.Errorf("write geojson file: %w", err)
	}
	gw.written = true
	return nil
}

// Validate ensures the collection was flushed and is non-empty.
func (gw *GeoJSONWriter) Validate() error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if !gw.written {
		return fmt.Errorf("geojson file not written yet")
	}
	info, err := os.Stat(gw.filename)
	if err != nil {
		return fmt.Errorf("stat geojson file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("geojson file is empty")
	}
	return nil
}
