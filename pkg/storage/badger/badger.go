package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/nicktill/dockpulse/pkg/storage"
)

// Key prefixes separate the two aggregate collections inside one keyspace.
var (
	monthlyPrefix = []byte("monthly_location_stats/")
	hourlyPrefix  = []byte("hourly_location_stats/")
)

// Storage implements storage.Store using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB

	mu         sync.RWMutex
	lastCommit time.Time
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults based on environment)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Aggregates are tiny and few (two records per station per hour at most),
	// so a laptop-sized footprint is plenty.
	var memTableSize int64
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3 // ~33% for memtable
	} else {
		memTableSize = 16 * 1024 * 1024
	}

	// Block and index caches are unbounded unless set explicitly.
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// MonthlyRanges returns every range stored for month
// Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) MonthlyRanges(ctx context.Context, month string) ([]storage.MonthlyRange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	suffix := []byte("_" + month)

	type queryResult struct {
		results []storage.MonthlyRange
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		var res queryResult
		res.err = s.db.View(func(txn *badger.Txn) error {
			return iteratePrefix(ctx, txn, monthlyPrefix, true, func(item *badger.Item) error {
				if !bytes.HasSuffix(item.Key(), suffix) {
					return nil
				}
				var r storage.MonthlyRange
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &r)
				}); err != nil {
					return fmt.Errorf("failed to decode monthly range %q: %w", item.Key(), err)
				}
				res.results = append(res.results, r)
				return nil
			})
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.results, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("monthly range query cancelled: %w", ctx.Err())
	}
}

// HourlyMarkers returns every stored (unexpired) hourly marker
func (s *Storage) HourlyMarkers(ctx context.Context) ([]storage.HourlyMarker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		results []storage.HourlyMarker
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		var res queryResult
		res.err = s.db.View(func(txn *badger.Txn) error {
			return iteratePrefix(ctx, txn, hourlyPrefix, true, func(item *badger.Item) error {
				var m storage.HourlyMarker
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &m)
				}); err != nil {
					return fmt.Errorf("failed to decode hourly marker %q: %w", item.Key(), err)
				}
				res.results = append(res.results, m)
				return nil
			})
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.results, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("hourly marker scan cancelled: %w", ctx.Err())
	}
}

// Commit writes the whole batch in a single transaction.
// Hourly markers carry a TTL so they expire on their own after ExpireAt.
func (s *Storage) Commit(ctx context.Context, batch storage.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}

	now := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			for key, r := range batch.Monthly {
				value, err := json.Marshal(r)
				if err != nil {
					return fmt.Errorf("failed to encode monthly range: %w", err)
				}
				if err := txn.Set(makeKey(monthlyPrefix, key), value); err != nil {
					return fmt.Errorf("failed to write monthly range %s: %w", key, err)
				}
			}

			for key, m := range batch.Hourly {
				value, err := json.Marshal(m)
				if err != nil {
					return fmt.Errorf("failed to encode hourly marker: %w", err)
				}
				entry := badger.NewEntry(makeKey(hourlyPrefix, key), value)
				if !m.ExpireAt.IsZero() {
					ttl := m.ExpireAt.Sub(now)
					if ttl <= 0 {
						// Already past retention, nothing to keep.
						continue
					}
					entry = entry.WithTTL(ttl)
				}
				if err := txn.SetEntry(entry); err != nil {
					return fmt.Errorf("failed to write hourly marker %s: %w", key, err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.lastCommit = now
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("commit cancelled: %w", ctx.Err())
	}
}

// Prune removes monthly ranges before opts.MonthsBefore and hourly markers
// that expired before opts.ExpiredAt.
func (s *Storage) Prune(ctx context.Context, opts storage.PruneOptions) (storage.PruneResult, error) {
	var res storage.PruneResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			var monthlyKeys, hourlyKeys [][]byte

			if opts.MonthsBefore != "" {
				err := iteratePrefix(ctx, txn, monthlyPrefix, false, func(item *badger.Item) error {
					if monthOfKey(item.Key()) < opts.MonthsBefore {
						monthlyKeys = append(monthlyKeys, item.KeyCopy(nil))
					}
					return nil
				})
				if err != nil {
					return err
				}
			}

			if !opts.ExpiredAt.IsZero() {
				err := iteratePrefix(ctx, txn, hourlyPrefix, true, func(item *badger.Item) error {
					var m storage.HourlyMarker
					if err := item.Value(func(val []byte) error {
						return json.Unmarshal(val, &m)
					}); err != nil {
						return fmt.Errorf("failed to decode hourly marker: %w", err)
					}
					if m.ExpireAt.Before(opts.ExpiredAt) {
						hourlyKeys = append(hourlyKeys, item.KeyCopy(nil))
					}
					return nil
				})
				if err != nil {
					return err
				}
			}

			for _, key := range monthlyKeys {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			for _, key := range hourlyKeys {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}

			res.MonthlyRanges = len(monthlyKeys)
			res.HourlyMarkers = len(hourlyKeys)
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return storage.PruneResult{}, err
		}
		return res, nil
	case <-ctx.Done():
		return storage.PruneResult{}, fmt.Errorf("prune cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection once.
// This reclaims disk space from pruned and expired aggregates.
// discardRatio: rewrite a file if this fraction of it can be discarded (0.5 = 50%)
// Returns badger.ErrNoRewrite when nothing was reclaimed.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *storage.Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		var res statsResult
		stats := &storage.Stats{}
		stations := make(map[string]struct{})

		res.err = s.db.View(func(txn *badger.Txn) error {
			err := iteratePrefix(ctx, txn, monthlyPrefix, false, func(item *badger.Item) error {
				stats.MonthlyRanges++
				stations[stationOfKey(item.Key(), monthlyPrefix)] = struct{}{}
				return nil
			})
			if err != nil {
				return err
			}
			return iteratePrefix(ctx, txn, hourlyPrefix, false, func(item *badger.Item) error {
				stats.HourlyMarkers++
				stations[stationOfKey(item.Key(), hourlyPrefix)] = struct{}{}
				return nil
			})
		})

		if res.err == nil {
			stats.Stations = uint64(len(stations))
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)

			s.mu.RLock()
			stats.LastCommit = s.lastCommit
			s.mu.RUnlock()
		}

		res.stats = stats
		done <- res
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

// iteratePrefix walks every key under prefix, checking ctx every 1000 keys.
func iteratePrefix(ctx context.Context, txn *badger.Txn, prefix []byte, values bool, fn func(*badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = values
	opts.PrefetchSize = 100

	it := txn.NewIterator(opts)
	defer it.Close()

	var iterCount int
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		iterCount++
		if iterCount%1000 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

// makeKey creates a storage key: collection prefix + natural key
func makeKey(prefix []byte, naturalKey string) []byte {
	key := make([]byte, 0, len(prefix)+len(naturalKey))
	key = append(key, prefix...)
	return append(key, naturalKey...)
}

// monthOfKey extracts the "YYYY-MM" suffix of a monthly range key.
func monthOfKey(key []byte) string {
	k := string(key)
	if i := strings.LastIndexByte(k, '_'); i >= 0 {
		return k[i+1:]
	}
	return ""
}

// stationOfKey extracts the station id from a storage key.
func stationOfKey(key, prefix []byte) string {
	k := string(bytes.TrimPrefix(key, prefix))
	if i := strings.LastIndexByte(k, '_'); i >= 0 {
		return k[:i]
	}
	return k
}
