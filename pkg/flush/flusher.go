package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raulk/clock"

	"github.com/nicktill/dockpulse/pkg/storage"
	"github.com/nicktill/dockpulse/pkg/telemetry"
)

// ErrSinkUnavailable matches any failed write to the store or the publication sink.
var ErrSinkUnavailable = errors.New("sink unavailable")

// Sink names used in SinkError.
const (
	SinkPersistence = "persistence"
	SinkPublication = "publication"
)

// SinkError describes one failed sink write during a flush.
type SinkError struct {
	Sink    string
	Records int
	Err     error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s sink (%d records): %v", e.Sink, e.Records, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Is makes every SinkError match ErrSinkUnavailable.
func (e *SinkError) Is(target error) bool { return target == ErrSinkUnavailable }

// Drainer hands over the pending aggregates and the current snapshot.
type Drainer interface {
	Drain(now time.Time) (storage.Batch, []telemetry.Record)
}

// Committer persists a batch of aggregates atomically.
type Committer interface {
	Commit(ctx context.Context, batch storage.Batch) error
}

// Publisher publishes the station snapshot.
type Publisher interface {
	Publish(ctx context.Context, records []telemetry.Record) error
}

// Recorder tracks flush outcomes for health reporting.
type Recorder interface {
	RecordSuccess()
	RecordFailure(err error)
}

// FlusherConfig wires a Flusher.
type FlusherConfig struct {
	Drainer   Drainer
	Store     Committer
	Publisher Publisher
	Recorder  Recorder
	Clock     clock.Clock
	Logger    *slog.Logger

	// Timeout bounds a whole flush (0 = no timeout)
	Timeout time.Duration
}

// Flusher drains the engine and writes the result to both sinks.
type Flusher struct {
	drainer   Drainer
	store     Committer
	publisher Publisher
	recorder  Recorder
	clock     clock.Clock
	logger    *slog.Logger
	timeout   time.Duration

	listeners []func([]telemetry.Record)
}

// NewFlusher creates a Flusher.
func NewFlusher(cfg FlusherConfig) *Flusher {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Flusher{
		drainer:   cfg.Drainer,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		recorder:  cfg.Recorder,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With("component", "flusher"),
		timeout:   cfg.Timeout,
	}
}

// OnPublish registers fn to receive every successfully published snapshot.
// Listeners run synchronously and must not block.
func (f *Flusher) OnPublish(fn func([]telemetry.Record)) {
	f.listeners = append(f.listeners, fn)
}

// Flush drains pending work, commits it when non-empty and always publishes
// the snapshot. Drained records are not put back when a sink fails; the
// trackers already reflect them and the next differing reading rewrites them.
func (f *Flusher) Flush(ctx context.Context) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := f.clock.Now()
	batch, records := f.drainer.Drain(start)

	var errs []error
	if !batch.Empty() {
		if err := f.store.Commit(ctx, batch); err != nil {
			errs = append(errs, &SinkError{Sink: SinkPersistence, Records: batch.Len(), Err: err})
			f.logger.Error("failed to commit aggregates, dropping batch",
				"monthly", len(batch.Monthly), "hourly", len(batch.Hourly), "error", err)
		} else {
			f.logger.Info("committed aggregates",
				"monthly", len(batch.Monthly), "hourly", len(batch.Hourly))
		}
	}

	if err := f.publisher.Publish(ctx, records); err != nil {
		errs = append(errs, &SinkError{Sink: SinkPublication, Records: len(records), Err: err})
		f.logger.Error("failed to publish snapshot", "stations", len(records), "error", err)
	} else {
		f.logger.Debug("published snapshot", "stations", len(records))
		for _, fn := range f.listeners {
			fn(records)
		}
	}

	err := errors.Join(errs...)
	if f.recorder != nil {
		if err != nil {
			f.recorder.RecordFailure(err)
		} else {
			f.recorder.RecordSuccess()
		}
	}
	f.logger.Debug("flush complete", "duration", f.clock.Since(start), "ok", err == nil)
	return err
}
