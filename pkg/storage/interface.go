package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested aggregate does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence backend for station aggregates.
// Implementations: memory (testing), badger (production)
type Store interface {
	// MonthlyRanges returns every monthly range recorded for month ("YYYY-MM")
	MonthlyRanges(ctx context.Context, month string) ([]MonthlyRange, error)

	// HourlyMarkers returns every stored hourly marker. Only used at startup.
	HourlyMarkers(ctx context.Context) ([]HourlyMarker, error)

	// Commit upserts a batch of aggregates as one atomic write
	Commit(ctx context.Context, batch Batch) error

	// Prune removes aggregates that fell out of retention
	Prune(ctx context.Context, opts PruneOptions) (PruneResult, error)

	// Close cleanly shuts down the store
	Close() error

	// Stats returns store statistics
	Stats(ctx context.Context) (*Stats, error)
}

// PruneOptions selects which aggregates Prune removes.
type PruneOptions struct {
	// MonthsBefore removes monthly ranges whose month sorts before it ("YYYY-MM").
	// Empty keeps all months.
	MonthsBefore string

	// ExpiredAt removes hourly markers whose ExpireAt is before it.
	// Zero keeps all markers.
	ExpiredAt time.Time
}

// PruneResult reports how many records Prune removed.
type PruneResult struct {
	MonthlyRanges int `json:"monthly_ranges"`
	HourlyMarkers int `json:"hourly_markers"`
}

// Stats provides store health and usage info
type Stats struct {
	// Stored monthly ranges
	MonthlyRanges uint64 `json:"monthly_ranges"`

	// Stored hourly markers
	HourlyMarkers uint64 `json:"hourly_markers"`

	// Distinct stations across both collections
	Stations uint64 `json:"stations"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`

	// Time of the last successful commit
	LastCommit time.Time `json:"last_commit"`
}
