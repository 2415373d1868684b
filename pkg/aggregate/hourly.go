package aggregate

import (
	"time"

	"github.com/nicktill/dockpulse/pkg/storage"
)

// HourlyTracker remembers, per station, the latest UTC hour for which a first
// sample has been recorded.
type HourlyTracker struct {
	hours map[string]string
	ttl   time.Duration
}

// NewHourlyTracker creates an empty tracker whose markers expire ttl after
// their observation.
func NewHourlyTracker(ttl time.Duration) *HourlyTracker {
	if ttl <= 0 {
		ttl = storage.HourlyMarkerTTL
	}
	return &HourlyTracker{
		hours: make(map[string]string),
		ttl:   ttl,
	}
}

// Seed keeps, per station, the greatest hour among the stored markers.
// Hour strings are zero padded, so string order is time order.
func (t *HourlyTracker) Seed(markers []storage.HourlyMarker) {
	for _, m := range markers {
		if cur, ok := t.hours[m.StationID]; !ok || m.Hour > cur {
			t.hours[m.StationID] = m.Hour
		}
	}
}

// Observe returns a marker for the first sample of a station in the UTC hour
// of now. Later samples in the same hour return ok=false.
func (t *HourlyTracker) Observe(stationID string, value int, now time.Time) (storage.HourlyMarker, bool) {
	hour := storage.HourOf(now)
	if t.hours[stationID] == hour {
		return storage.HourlyMarker{}, false
	}

	t.hours[stationID] = hour
	return storage.HourlyMarker{
		StationID:  stationID,
		Hour:       hour,
		FirstValue: value,
		ObservedAt: now.UTC(),
		ExpireAt:   now.UTC().Add(t.ttl),
	}, true
}

// Hour returns the last recorded hour of a station.
func (t *HourlyTracker) Hour(stationID string) (string, bool) {
	h, ok := t.hours[stationID]
	return h, ok
}

// Len returns the number of stations tracked.
func (t *HourlyTracker) Len() int {
	return len(t.hours)
}
