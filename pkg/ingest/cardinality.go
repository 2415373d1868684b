package ingest

import (
	"sync"
	"time"

	"github.com/raulk/clock"
)

// StationTracker bounds the number of distinct stations accepted over HTTP.
// Stations not seen within stationRetentionPeriod are forgotten so the bound
// tracks the live fleet rather than every code ever posted.
type StationTracker struct {
	mu    sync.Mutex
	clock clock.Clock
	limit int

	// station code -> last seen
	seen map[string]time.Time

	lastCleanup time.Time
	rejected    uint64
}

const (
	// Forget stations not seen in the last 24 hours
	stationRetentionPeriod = 24 * time.Hour

	// Run cleanup every hour
	cleanupInterval = 1 * time.Hour
)

// NewStationTracker creates a tracker that admits at most limit stations.
// A non-positive limit means MaxStations. A nil clock uses the wall clock.
func NewStationTracker(limit int, clk clock.Clock) *StationTracker {
	if limit <= 0 {
		limit = MaxStations
	}
	if clk == nil {
		clk = clock.New()
	}
	return &StationTracker{
		clock:       clk,
		limit:       limit,
		seen:        make(map[string]time.Time),
		lastCleanup: clk.Now(),
	}
}

// Check validates that accepting a reading for id won't exceed the station limit.
func (t *StationTracker) Check(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cleanupLocked()

	if _, ok := t.seen[id]; ok {
		return nil
	}
	if len(t.seen) >= t.limit {
		t.rejected++
		return ErrStationLimit
	}
	return nil
}

// Record marks id as seen. Call it after the reading was accepted.
func (t *StationTracker) Record(id string) {
	t.mu.Lock()
	t.seen[id] = t.clock.Now()
	t.mu.Unlock()
}

// cleanupLocked drops stations not seen in stationRetentionPeriod.
// MUST be called with lock held
func (t *StationTracker) cleanupLocked() {
	now := t.clock.Now()
	if now.Sub(t.lastCleanup) < cleanupInterval {
		return
	}
	t.lastCleanup = now

	cutoff := now.Add(-stationRetentionPeriod)
	for id, lastSeen := range t.seen {
		if lastSeen.Before(cutoff) {
			delete(t.seen, id)
		}
	}
}

// Stats returns current tracker statistics.
func (t *StationTracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TrackerStats{
		Stations:       len(t.seen),
		Limit:          t.limit,
		Rejected:       t.rejected,
		UtilizationPct: float64(len(t.seen)) / float64(t.limit) * 100,
	}
}

// TrackerStats provides station cardinality usage information.
type TrackerStats struct {
	Stations       int     `json:"stations"`
	Limit          int     `json:"limit"`
	Rejected       uint64  `json:"rejected"`
	UtilizationPct float64 `json:"utilization_percent"`
}
