/*
Package storage provides the pluggable persistence abstraction for dockpulse
station aggregates.

# Store Interface

Two aggregate collections are kept per station:

  - Monthly ranges: the lowest and highest occupancy observed in a calendar
    month, keyed "<station>_<YYYY-MM>".
  - Hourly markers: the first occupancy sample of each UTC hour, keyed
    "<station>_<YYYY-MM-DDTHH>", retained for eight days.

All backends implement the Store interface:

	type Store interface {
	    MonthlyRanges(ctx context.Context, month string) ([]MonthlyRange, error)
	    HourlyMarkers(ctx context.Context) ([]HourlyMarker, error)
	    Commit(ctx context.Context, batch Batch) error
	    Prune(ctx context.Context, opts PruneOptions) (PruneResult, error)
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

Backends:
  - memory: in-memory maps for tests and ephemeral runs
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

# Commits

Commit applies a whole Batch as one unit. Either every record in the batch is
visible afterwards or none is. Records are upserts: writing a key that already
exists replaces the stored value.

	batch := storage.NewBatch()
	batch.PutMonthly(storage.MonthlyRange{StationID: "ut001", Month: "2025-06", Min: 2, Max: 9})
	batch.PutHourly(storage.HourlyMarker{StationID: "ut001", Hour: "2025-06-01T10", FirstValue: 4})
	if err := store.Commit(ctx, batch); err != nil {
	    return err
	}

# Startup Loading

MonthlyRanges and HourlyMarkers exist to seed the in-memory trackers at
startup. Keys and month/hour strings are zero padded, so lexicographic order is
chronological order.

# Retention

Prune removes monthly ranges older than a cut-off month and hourly markers
whose ExpireAt has passed. The badger backend additionally writes hourly
markers with a TTL so expired markers vanish even if Prune never runs.
*/
package storage
