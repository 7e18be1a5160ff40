// Package models defines data structures for the harvester.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// SearchQuery describes one harvest run. Center is an orb.Point, so [lng, lat].
type SearchQuery struct {
	Center       orb.Point
	RadiusMeters int
	Category     string
}

// NewSearchQuery builds a query from latitude/longitude order.
func NewSearchQuery(lat, lng float64, radiusMeters int, category string) SearchQuery {
	return SearchQuery{
		Center:       orb.Point{lng, lat},
		RadiusMeters: radiusMeters,
		Category:     category,
	}
}

func (q SearchQuery) Lat() float64 { return q.Center.Lat() }
func (q SearchQuery) Lng() float64 { return q.Center.Lon() }

// DistanceMeters returns the great-circle distance from the query center.
func (q SearchQuery) DistanceMeters(lat, lng float64) float64 {
	return geo.Distance(q.Center, orb.Point{lng, lat})
}

// Validate checks the query before any request is issued.
func (q SearchQuery) Validate() error {
	if lat := q.Lat(); lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if lng := q.Lng(); lng < -180 || lng > 180 {
		return fmt.Errorf("longitude %v out of range", lng)
	}
	if q.RadiusMeters <= 0 {
		return fmt.Errorf("radius must be positive")
	}
	if strings.TrimSpace(q.Category) == "" {
		return fmt.Errorf("category cannot be empty")
	}
	return nil
}

// RawResult is one entry of a search page.
type RawResult struct {
	ExternalID string
	Name       string
	Address    string
	Lat        float64
	Lng        float64
	Rating     *float64
	OpenNow    *bool
}

// DetailInfo holds the enrichment fields for a single place. Missing values are
// empty strings, never nil.
type DetailInfo struct {
	Phone string
	Hours string
}

// Page is a single search response.
type Page struct {
	Results       []RawResult
	NextPageToken string
}

// HasMore reports whether the provider returned a continuation token.
func (p *Page) HasMore() bool {
	return p != nil && p.NextPageToken != ""
}

// StationRecord is the merged output row. A nil Rating or OpenNow means the
// provider did not report the value.
type StationRecord struct {
	ExternalID string   `csv:"-" json:"place_id"`
	Name       string   `csv:"Name" json:"name"`
	Address    string   `csv:"Address" json:"address"`
	Latitude   float64  `csv:"Latitude" json:"latitude"`
	Longitude  float64  `csv:"Longitude" json:"longitude"`
	Rating     *float64 `csv:"Rating" json:"rating"`
	OpenNow    *bool    `csv:"Open now" json:"open_now"`
	Phone      string   `csv:"Phone" json:"phone"`
	Hours      string   `csv:"Opening hours" json:"opening_hours"`
}

// Merge builds a StationRecord from a search result and the detail fetched for
// the same external id.
func Merge(raw RawResult, detail DetailInfo) StationRecord {
	return StationRecord{
		ExternalID: raw.ExternalID,
		Name:       raw.Name,
		Address:    raw.Address,
		Latitude:   raw.Lat,
		Longitude:  raw.Lng,
		Rating:     raw.Rating,
		OpenNow:    raw.OpenNow,
		Phone:      detail.Phone,
		Hours:      detail.Hours,
	}
}

// Point returns the record location as an orb.Point.
func (r StationRecord) Point() orb.Point {
	return orb.Point{r.Longitude, r.Latitude}
}

// HarvestState is a step of the pagination state machine.
type HarvestState string

const (
	StateStart        HarvestState = "start"
	StateFetchingPage HarvestState = "fetching_page"
	StateHasMore      HarvestState = "has_more"
	StateDone         HarvestState = "done"
	StateFailed       HarvestState = "failed"
)

// HarvestResult holds the overall result of a harvest run. Records may be
// partial when State is StateFailed.
type HarvestResult struct {
	RunID          string
	Query          SearchQuery
	Records        []StationRecord
	State          HarvestState
	Pages          int
	SearchRequests int
	DetailRequests int
	Retries        int
	Duplicates     int
	OutsideRadius  int
	Truncated      bool
	StartTime      time.Time
	EndTime        time.Time
}

// Listing is the display record produced by the export step.
type Listing struct {
	ID          string  `json:"id"`
	Price       string  `json:"price"`
	Location    string  `json:"location"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Slots       int     `json:"slots"`
}
