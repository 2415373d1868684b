package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/dockpulse/pkg/aggregate"
	"github.com/nicktill/dockpulse/pkg/storage"
	"github.com/nicktill/dockpulse/pkg/telemetry"
)

// ErrStartupLoad wraps any failure to seed the trackers from the store.
// Starting with empty caches would rewrite every station's monthly bounds,
// so callers must treat it as fatal.
var ErrStartupLoad = errors.New("startup load failed")

// Loader is the read side of the store used to seed the trackers.
type Loader interface {
	MonthlyRanges(ctx context.Context, month string) ([]storage.MonthlyRange, error)
	HourlyMarkers(ctx context.Context) ([]storage.HourlyMarker, error)
}

// Signaler is notified whenever new work is pending.
type Signaler interface {
	Signal()
}

// Config holds engine tuning.
type Config struct {
	// Retention drops stations from the snapshot once silent this long
	Retention time.Duration

	// HourlyTTL is how long hourly markers are kept in the store
	HourlyTTL time.Duration
}

// Engine owns the trackers, the latest-state snapshot and the set of
// aggregates waiting to be persisted.
type Engine struct {
	mu       sync.Mutex
	monthly  *aggregate.MonthlyTracker
	hourly   *aggregate.HourlyTracker
	pending  storage.Batch
	snapshot *aggregate.Snapshot

	signaler Signaler
	logger   *slog.Logger

	ingested     atomic.Uint64
	dropped      atomic.Uint64
	monthlyDirty atomic.Uint64
	hourlyDirty  atomic.Uint64
}

// New creates an engine with cold caches.
func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		monthly:  aggregate.NewMonthlyTracker(),
		hourly:   aggregate.NewHourlyTracker(cfg.HourlyTTL),
		pending:  storage.NewBatch(),
		snapshot: aggregate.NewSnapshot(cfg.Retention),
		logger:   logger.With("component", "engine"),
	}
}

// SetSignaler wires the flush scheduler. It must be called before the first
// Ingest.
func (e *Engine) SetSignaler(s Signaler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signaler = s
}

// Seed loads the current month's ranges, the two previous months' ranges and
// every stored hourly marker.
func (e *Engine) Seed(ctx context.Context, loader Loader, now time.Time) error {
	month := storage.MonthOf(now)

	current, err := loader.MonthlyRanges(ctx, month)
	if err != nil {
		return fmt.Errorf("%w: monthly ranges for %s: %w", ErrStartupLoad, month, err)
	}

	var history []storage.MonthlyRange
	for _, m := range aggregate.HistoryMonths(now) {
		ranges, err := loader.MonthlyRanges(ctx, m)
		if err != nil {
			return fmt.Errorf("%w: monthly ranges for %s: %w", ErrStartupLoad, m, err)
		}
		history = append(history, ranges...)
	}

	markers, err := loader.HourlyMarkers(ctx)
	if err != nil {
		return fmt.Errorf("%w: hourly markers: %w", ErrStartupLoad, err)
	}

	e.mu.Lock()
	e.monthly.SeedHistory(history)
	e.monthly.Seed(current)
	e.monthly.SetFloor(month)
	e.hourly.Seed(markers)
	e.mu.Unlock()

	e.logger.Info("trackers seeded",
		"month", month,
		"monthly_ranges", len(current),
		"history_ranges", len(history),
		"hourly_markers", len(markers),
	)
	return nil
}

// Ingest applies one reading: both trackers first, then the snapshot, then
// the scheduler is signalled. Readings without occupancy are rejected with
// telemetry.ErrMalformedReading and change nothing.
func (e *Engine) Ingest(r telemetry.Reading) error {
	rec, err := telemetry.Normalize(r.Payload)
	if err != nil {
		e.dropped.Add(1)
		return fmt.Errorf("station %s: %w", r.StationID, err)
	}

	at := bucketTime(r)

	e.mu.Lock()
	monthly, monthlyDirty := e.monthly.Observe(r.StationID, r.Value, at)
	if monthlyDirty {
		e.pending.PutMonthly(monthly)
	}
	hourly, hourlyDirty := e.hourly.Observe(r.StationID, r.Value, at)
	if hourlyDirty {
		e.pending.PutHourly(hourly)
	}
	if peak, ok := e.monthly.ThreeMonthMax(r.StationID, at); ok {
		rec.Extra.RentalBikesMax3m = &peak
	}
	e.snapshot.Update(r.StationID, rec, r.ObservedAt)
	signaler := e.signaler
	e.mu.Unlock()

	e.ingested.Add(1)
	if monthlyDirty {
		e.monthlyDirty.Add(1)
		e.logger.Debug("monthly range widened",
			"station", r.StationID, "month", monthly.Month, "min", monthly.Min, "max", monthly.Max)
	}
	if hourlyDirty {
		e.hourlyDirty.Add(1)
		e.logger.Debug("first sample of hour",
			"station", r.StationID, "hour", hourly.Hour, "value", hourly.FirstValue)
	}

	if signaler != nil {
		signaler.Signal()
	}
	return nil
}

// bucketTime is the time a reading is aggregated under: the ingestion clock,
// so a lagging fetchTime never reopens a month or hour that already passed.
func bucketTime(r telemetry.Reading) time.Time {
	if !r.ReceivedAt.IsZero() {
		return r.ReceivedAt
	}
	return r.ObservedAt
}

// Drain hands the pending aggregates to the caller and replaces them with an
// empty set, then prunes the snapshot and returns a copy of it.
func (e *Engine) Drain(now time.Time) (storage.Batch, []telemetry.Record) {
	e.mu.Lock()
	batch := e.pending
	e.pending = storage.NewBatch()
	e.mu.Unlock()

	for _, id := range e.snapshot.Prune(now) {
		e.logger.Info("removed stale station from snapshot", "station", id)
	}
	return batch, e.snapshot.Records()
}

// Records returns the current snapshot without draining anything.
func (e *Engine) Records() []telemetry.Record {
	return e.snapshot.Records()
}

// StationView is everything the engine knows about one station.
type StationView struct {
	Record       telemetry.Record      `json:"record"`
	ObservedAt   time.Time             `json:"observed_at"`
	MonthlyRange *storage.MonthlyRange `json:"monthly_range,omitempty"`
	LastHour     string                `json:"last_hour,omitempty"`
}

// Station returns the latest state of one station.
func (e *Engine) Station(stationID string) (StationView, bool) {
	rec, observedAt, ok := e.snapshot.Get(stationID)
	if !ok {
		return StationView{}, false
	}

	view := StationView{Record: rec, ObservedAt: observedAt}

	e.mu.Lock()
	if r, ok := e.monthly.Range(stationID); ok {
		view.MonthlyRange = &r
	}
	view.LastHour, _ = e.hourly.Hour(stationID)
	e.mu.Unlock()

	return view, true
}

// Stats summarises engine activity since start.
type Stats struct {
	Ingested       uint64 `json:"ingested"`
	Dropped        uint64 `json:"dropped"`
	MonthlyUpdates uint64 `json:"monthly_updates"`
	HourlyUpdates  uint64 `json:"hourly_updates"`
	PendingWrites  int    `json:"pending_writes"`
	Stations       int    `json:"stations"`
	TrackedMonthly int    `json:"tracked_monthly"`
	TrackedHourly  int    `json:"tracked_hourly"`
}

// Stats returns activity counters and cache sizes.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	pending := e.pending.Len()
	trackedMonthly := e.monthly.Len()
	trackedHourly := e.hourly.Len()
	e.mu.Unlock()

	return Stats{
		Ingested:       e.ingested.Load(),
		Dropped:        e.dropped.Load(),
		MonthlyUpdates: e.monthlyDirty.Load(),
		HourlyUpdates:  e.hourlyDirty.Load(),
		PendingWrites:  pending,
		Stations:       e.snapshot.Len(),
		TrackedMonthly: trackedMonthly,
		TrackedHourly:  trackedHourly,
	}
}
