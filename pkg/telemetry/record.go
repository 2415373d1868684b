package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// selfServiceImageTitle marks an info image that is identical on every
// self-service location and is stripped from the public record.
const selfServiceImageTitle = "Zelfservice huurlocatie"

// Record is the public-facing view of a station, as published in the snapshot.
// Address and position keys are always present and null when the upstream
// document lacks them; houseNumber keeps its upstream JSON type.
type Record struct {
	Description  string          `json:"description"`
	StationCode  *string         `json:"stationCode"`
	City         *string         `json:"city"`
	PostalCode   *string         `json:"postalCode"`
	Street       *string         `json:"street"`
	HouseNumber  json.RawMessage `json:"houseNumber"`
	Lat          *float64        `json:"lat"`
	Lng          *float64        `json:"lng"`
	Link         Link            `json:"link"`
	Extra        Extra           `json:"extra"`
	InfoImages   []InfoImage     `json:"infoImages"`
	OpeningHours json.RawMessage `json:"openingHours"`
}

// Link points at the operator's page for the station.
type Link struct {
	URI string `json:"uri"`
}

// Extra holds the operator specific occupancy fields.
type Extra struct {
	LocationCode string `json:"locationCode"`
	FetchTime    int64  `json:"fetchTime"`
	RentalBikes  *int   `json:"rentalBikes"`
	ServiceType  string `json:"serviceType,omitempty"`

	// RentalBikesMax3m is the highest occupancy seen over the current and the
	// two previous calendar months.
	RentalBikesMax3m *int `json:"rentalBikesMax3m,omitempty"`
}

// InfoImage is a titled block of descriptive text.
type InfoImage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// rawDocument mirrors the upstream document closely enough to be lenient
// about number encodings.
type rawDocument struct {
	Description  string          `json:"description"`
	StationCode  *string         `json:"stationCode"`
	City         *string         `json:"city"`
	PostalCode   *string         `json:"postalCode"`
	Street       *string         `json:"street"`
	HouseNumber  json.RawMessage `json:"houseNumber"`
	Lat          *float64        `json:"lat"`
	Lng          *float64        `json:"lng"`
	Link         *Link           `json:"link"`
	Extra        *rawExtra       `json:"extra"`
	InfoImages   []InfoImage     `json:"infoImages"`
	OpeningHours json.RawMessage `json:"openingHours"`
}

type rawExtra struct {
	LocationCode string          `json:"locationCode"`
	FetchTime    json.RawMessage `json:"fetchTime"`
	RentalBikes  json.RawMessage `json:"rentalBikes"`
	ServiceType  *string         `json:"serviceType"`
}

// Normalize extracts the public record from a raw station document.
// A document without extra.rentalBikes is malformed: it carries nothing the
// aggregates or the snapshot track.
func Normalize(payload []byte) (Record, error) {
	var doc rawDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Record{}, malformed("invalid JSON: %v", err)
	}
	if doc.Extra == nil {
		return Record{}, malformed("extra section missing")
	}

	bikes, ok, err := parseInt(doc.Extra.RentalBikes)
	if err != nil {
		return Record{}, malformed("rentalBikes: %v", err)
	}
	if !ok {
		return Record{}, malformed("rentalBikes missing")
	}

	fetchTime, _, err := parseInt(doc.Extra.FetchTime)
	if err != nil {
		return Record{}, malformed("fetchTime: %v", err)
	}

	rec := Record{
		// Some upstream descriptions carry trailing whitespace.
		Description:  strings.TrimSpace(doc.Description),
		StationCode:  doc.StationCode,
		City:         doc.City,
		PostalCode:   doc.PostalCode,
		Street:       doc.Street,
		HouseNumber:  nullable(doc.HouseNumber),
		Lat:          doc.Lat,
		Lng:          doc.Lng,
		OpeningHours: nullable(doc.OpeningHours),
		Extra: Extra{
			LocationCode: doc.Extra.LocationCode,
			FetchTime:    int64(fetchTime),
			RentalBikes:  &bikes,
		},
		InfoImages: make([]InfoImage, 0, len(doc.InfoImages)),
	}
	if doc.Link != nil {
		rec.Link = *doc.Link
	}
	if doc.Extra.ServiceType != nil {
		rec.Extra.ServiceType = *doc.Extra.ServiceType
	}
	for _, img := range doc.InfoImages {
		if img.Title == selfServiceImageTitle {
			continue
		}
		rec.InfoImages = append(rec.InfoImages, img)
	}

	return rec, nil
}

// parseInt accepts a JSON number or a numeric string. ok is false when the
// field is absent or null.
func parseInt(raw json.RawMessage) (int, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false, nil
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, err
		}
		s = strings.TrimSpace(s)
	}

	if n, err := strconv.Atoi(s); err == nil {
		return n, true, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("not a number: %s", s)
	}
	return int(f), true, nil
}

func nullable(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedReading, fmt.Sprintf(format, args...))
}
