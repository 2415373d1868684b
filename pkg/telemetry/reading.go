package telemetry

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrMalformedReading is returned for payloads that carry no usable occupancy
// value or cannot be parsed at all. Such readings are dropped, never retried.
var ErrMalformedReading = errors.New("malformed reading")

// Reading is one decoded station update as delivered by the stream.
// ObservedAt comes from the document's fetchTime; ReceivedAt is the local
// ingestion time and decides which month and hour the reading counts toward.
type Reading struct {
	StationID  string          `json:"station_id"`
	Value      int             `json:"value"`
	ObservedAt time.Time       `json:"observed_at"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewReading builds a Reading from a raw station document.
// receivedAt is used as the observation time when the payload has no fetchTime.
func NewReading(stationID string, payload []byte, receivedAt time.Time) (Reading, error) {
	rec, err := Normalize(payload)
	if err != nil {
		return Reading{}, err
	}

	if stationID == "" {
		stationID = rec.Extra.LocationCode
	}
	if stationID == "" {
		return Reading{}, malformed("station id missing from topic and payload")
	}

	observedAt := receivedAt.UTC()
	if rec.Extra.FetchTime > 0 {
		observedAt = time.Unix(rec.Extra.FetchTime, 0).UTC()
	}

	raw := make(json.RawMessage, len(payload))
	copy(raw, payload)

	return Reading{
		StationID:  stationID,
		Value:      *rec.Extra.RentalBikes,
		ObservedAt: observedAt,
		ReceivedAt: receivedAt.UTC(),
		Payload:    raw,
	}, nil
}
