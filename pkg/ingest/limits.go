package ingest

import (
	"fmt"
)

// Validation and cardinality limits
const (
	// Per-station limits
	MaxStationIDLength = 64      // Maximum station code length
	MaxDocumentSize    = 1 << 20 // Maximum decompressed station document

	// Global limits
	MaxStations         = 10000   // Maximum distinct stations tracked at once
	MaxReadingsPerBatch = 1000    // Maximum readings in single ingest request
	MaxRequestBodyBytes = 8 << 20 // Maximum raw request body
)

var (
	// ErrStationIDEmpty is returned when a reading names no station
	ErrStationIDEmpty = fmt.Errorf("station code cannot be empty")

	// ErrStationIDTooLong is returned when a station code is too long
	ErrStationIDTooLong = fmt.Errorf("station code too long (max %d chars)", MaxStationIDLength)

	// ErrStationIDInvalid is returned when a station code contains separators or control characters
	ErrStationIDInvalid = fmt.Errorf("station code contains invalid characters")

	// ErrDocumentTooLarge is returned when a station document exceeds MaxDocumentSize
	ErrDocumentTooLarge = fmt.Errorf("station document too large (max %d bytes)", MaxDocumentSize)

	// ErrStationLimit is returned when a new station would exceed MaxStations
	ErrStationLimit = fmt.Errorf("station limit exceeded (max %d stations)", MaxStations)

	// ErrTooManyReadings is returned when an ingest request contains too many readings
	ErrTooManyReadings = fmt.Errorf("too many readings in request (max %d)", MaxReadingsPerBatch)
)

// ValidateStationID checks a station code before it reaches the engine.
// Codes double as topic and URL path segments, so separators are rejected.
func ValidateStationID(id string) error {
	if id == "" {
		return ErrStationIDEmpty
	}
	if len(id) > MaxStationIDLength {
		return fmt.Errorf("%w: %q has %d chars", ErrStationIDTooLong, id, len(id))
	}
	for _, c := range id {
		if c == '/' || c == '#' || c == '+' || c < 0x20 || c == 0x7f {
			return fmt.Errorf("%w: %q", ErrStationIDInvalid, id)
		}
	}
	return nil
}
