// Package parser decodes places API payloads and validates merged records.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-harvest-places/models"
)

// HoursSeparator joins the weekday lines of a place's opening hours.
const HoursSeparator = " | "

// Envelope carries the provider status common to every response.
type Envelope struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// OK reports whether the provider accepted the request. A missing status is
// treated as success so that minimal payloads still decode.
func (e Envelope) OK() bool {
	return e.Status == "" || e.Status == "OK" || e.Status == "ZERO_RESULTS"
}

// FieldError reports a required field missing from a result.
type FieldError struct {
	Index int
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("result %d missing required field %q", e.Index, e.Field)
}

type searchPayload struct {
	Envelope
	NextPageToken string         `json:"next_page_token"`
	Results       []placePayload `json:"results"`
}

type placePayload struct {
	PlaceID          string   `json:"place_id"`
	Name             string   `json:"name"`
	Vicinity         string   `json:"vicinity"`
	FormattedAddress string   `json:"formatted_address"`
	Rating           *float64 `json:"rating"`
	Geometry         *struct {
		Location *struct {
			Lat *float64 `json:"lat"`
			Lng *float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	OpeningHours *struct {
		OpenNow *bool `json:"open_now"`
	} `json:"opening_hours"`
}

type detailPayload struct {
	Envelope
	Result *struct {
		FormattedPhoneNumber string `json:"formatted_phone_number"`
		OpeningHours         *struct {
			WeekdayText []string `json:"weekday_text"`
		} `json:"opening_hours"`
	} `json:"result"`
}

// ParseSearchResponse decodes one page of search results. The envelope is
// returned even when a result is missing a required field so the caller can
// report provider errors first.
func ParseSearchResponse(body []byte) (*models.Page, Envelope, error) {
	var payload searchPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, Envelope{}, fmt.Errorf("decode search response: %w", err)
	}
	if !payload.OK() {
		return nil, payload.Envelope, nil
	}

	page := &models.Page{
		Results:       make([]models.RawResult, 0, len(payload.Results)),
		NextPageToken: strings.TrimSpace(payload.NextPageToken),
	}
	for i, place := range payload.Results {
		raw, err := place.toRaw(i)
		if err != nil {
			return nil, payload.Envelope, err
		}
		page.Results = append(page.Results, raw)
	}
	return page, payload.Envelope, nil
}

func (p placePayload) toRaw(index int) (models.RawResult, error) {
	id := strings.TrimSpace(p.PlaceID)
	if id == "" {
		return models.RawResult{}, &FieldError{Index: index, Field: "place_id"}
	}
	if p.Geometry == nil || p.Geometry.Location == nil {
		return models.RawResult{}, &FieldError{Index: index, Field: "geometry.location"}
	}
	loc := p.Geometry.Location
	if loc.Lat == nil {
		return models.RawResult{}, &FieldError{Index: index, Field: "geometry.location.lat"}
	}
	if loc.Lng == nil {
		return models.RawResult{}, &FieldError{Index: index, Field: "geometry.location.lng"}
	}

	address := p.Vicinity
	if address == "" {
		address = p.FormattedAddress
	}

	var openNow *bool
	if p.OpeningHours != nil {
		openNow = p.OpeningHours.OpenNow
	}

	return models.RawResult{
		ExternalID: id,
		Name:       strings.TrimSpace(p.Name),
		Address:    strings.TrimSpace(address),
		Lat:        *loc.Lat,
		Lng:        *loc.Lng,
		Rating:     p.Rating,
		OpenNow:    openNow,
	}, nil
}

// ParseDetailResponse decodes a place-details payload. Absent phone or hours
// become empty strings.
func ParseDetailResponse(body []byte) (models.DetailInfo, Envelope, error) {
	var payload detailPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.DetailInfo{}, Envelope{}, fmt.Errorf("decode detail response: %w", err)
	}

	var info models.DetailInfo
	if payload.Result == nil {
		return info, payload.Envelope, nil
	}
	info.Phone = strings.TrimSpace(payload.Result.FormattedPhoneNumber)
	if payload.Result.OpeningHours != nil {
		info.Hours = JoinHours(payload.Result.OpeningHours.WeekdayText)
	}
	return info, payload.Envelope, nil
}

// JoinHours flattens weekday lines into a single cell.
func JoinHours(lines []string) string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, HoursSeparator)
}

// ValidateRecord ensures a merged record can be written. Only the coordinates
// are checked; a blank name is written as-is.
func ValidateRecord(r *models.StationRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if r.Latitude < -90 || r.Latitude > 90 || r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("record %s has invalid coordinates (%v, %v)", r.ExternalID, r.Latitude, r.Longitude)
	}
	return nil
}
