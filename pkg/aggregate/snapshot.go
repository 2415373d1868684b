package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/nicktill/dockpulse/pkg/telemetry"
)

// DefaultRetention is how long a silent station stays in the snapshot.
const DefaultRetention = 14 * 24 * time.Hour

type snapshotEntry struct {
	record     telemetry.Record
	observedAt time.Time
}

// Snapshot holds the latest public record of every station.
type Snapshot struct {
	mu        sync.RWMutex
	entries   map[string]snapshotEntry
	retention time.Duration
}

// NewSnapshot creates an empty snapshot that drops stations silent for
// longer than retention.
func NewSnapshot(retention time.Duration) *Snapshot {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Snapshot{
		entries:   make(map[string]snapshotEntry),
		retention: retention,
	}
}

// Update replaces the station's entry unconditionally.
func (s *Snapshot) Update(stationID string, record telemetry.Record, observedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[stationID] = snapshotEntry{record: record, observedAt: observedAt}
}

// Prune removes every station last observed before now minus the retention
// window and returns the removed ids.
func (s *Snapshot) Prune(now time.Time) []string {
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, e := range s.entries {
		if e.observedAt.Before(cutoff) {
			delete(s.entries, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Records returns a point-in-time copy of all records ordered by station id.
func (s *Snapshot) Records() []telemetry.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]telemetry.Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, s.entries[id].record)
	}
	return records
}

// Get returns the latest record of a station.
func (s *Snapshot) Get(stationID string) (telemetry.Record, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[stationID]
	return e.record, e.observedAt, ok
}

// Len returns the number of stations in the snapshot.
func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
