package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/dockpulse/pkg/storage"
)

// Storage stores aggregates in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	monthly    map[string]storage.MonthlyRange
	hourly     map[string]storage.HourlyMarker
	lastCommit time.Time
	mu         sync.RWMutex

	// Pending injected commit failures, used to simulate outages.
	failErr   error
	failCount int
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		monthly: make(map[string]storage.MonthlyRange),
		hourly:  make(map[string]storage.HourlyMarker),
	}
}

// FailCommits makes the next n calls to Commit return err.
func (s *Storage) FailCommits(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCount = n
	s.failErr = err
}

// MonthlyRanges returns the ranges stored for month
func (s *Storage) MonthlyRanges(ctx context.Context, month string) ([]storage.MonthlyRange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []storage.MonthlyRange
	for _, r := range s.monthly {
		if r.Month == month {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].StationID < results[j].StationID })
	return results, nil
}

// HourlyMarkers returns every stored marker
func (s *Storage) HourlyMarkers(ctx context.Context) ([]storage.HourlyMarker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]storage.HourlyMarker, 0, len(s.hourly))
	for _, m := range s.hourly {
		results = append(results, m)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Key() < results[j].Key() })
	return results, nil
}

// Commit upserts every record of the batch under one lock
func (s *Storage) Commit(ctx context.Context, batch storage.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCount > 0 {
		s.failCount--
		return s.failErr
	}

	for key, r := range batch.Monthly {
		s.monthly[key] = r
	}
	for key, m := range batch.Hourly {
		s.hourly[key] = m
	}
	s.lastCommit = time.Now()
	return nil
}

// Monthly returns a stored range by natural key
func (s *Storage) Monthly(key string) (storage.MonthlyRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.monthly[key]
	if !ok {
		return storage.MonthlyRange{}, storage.ErrNotFound
	}
	return r, nil
}

// Hourly returns a stored marker by natural key
func (s *Storage) Hourly(key string) (storage.HourlyMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.hourly[key]
	if !ok {
		return storage.HourlyMarker{}, storage.ErrNotFound
	}
	return m, nil
}

// Prune removes aggregates outside retention
func (s *Storage) Prune(ctx context.Context, opts storage.PruneOptions) (storage.PruneResult, error) {
	var res storage.PruneResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.MonthsBefore != "" {
		for key, r := range s.monthly {
			if r.Month < opts.MonthsBefore {
				delete(s.monthly, key)
				res.MonthlyRanges++
			}
		}
	}
	if !opts.ExpiredAt.IsZero() {
		for key, m := range s.hourly {
			if m.ExpireAt.Before(opts.ExpiredAt) {
				delete(s.hourly, key)
				res.HourlyMarkers++
			}
		}
	}
	return res, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stations := make(map[string]struct{})
	for _, r := range s.monthly {
		stations[r.StationID] = struct{}{}
	}
	for _, m := range s.hourly {
		stations[m.StationID] = struct{}{}
	}

	return &storage.Stats{
		MonthlyRanges: uint64(len(s.monthly)),
		HourlyMarkers: uint64(len(s.hourly)),
		Stations:      uint64(len(stations)),
		// Rough size estimate (each record ~100 bytes)
		SizeBytes:  uint64(len(s.monthly)+len(s.hourly)) * 100,
		LastCommit: s.lastCommit,
	}, nil
}
