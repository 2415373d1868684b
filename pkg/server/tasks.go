package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/nicktill/dockpulse/pkg/server/monitor"
	"github.com/nicktill/dockpulse/pkg/storage"
)

// Retry policy for background jobs.
const (
	maxRetries     = 3
	retryBaseDelay = 30 * time.Second
)

// RetentionCutoff returns the oldest month kept when retaining months
// calendar months including the current one. Zero keeps everything and
// returns "".
func RetentionCutoff(now time.Time, months int) string {
	if months <= 0 {
		return ""
	}
	now = now.UTC()
	first := time.Date(now.Year(), now.Month()-time.Month(months-1), 1, 0, 0, 0, 0, time.UTC)
	return storage.MonthOf(first)
}

// RetentionTask deletes aggregates that fell out of retention.
type RetentionTask struct {
	Store     storage.Store
	Monitor   *monitor.JobMonitor
	Months    int
	Interval  time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
	BaseDelay time.Duration
}

func (t *RetentionTask) log() *slog.Logger {
	if t.Logger == nil {
		return slog.Default().With("component", "retention")
	}
	return t.Logger.With("component", "retention")
}

func (t *RetentionTask) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// RunOnce prunes once and records the outcome.
func (t *RetentionTask) RunOnce(ctx context.Context) (storage.PruneResult, error) {
	now := t.now()
	opts := storage.PruneOptions{
		MonthsBefore: RetentionCutoff(now, t.Months),
		ExpiredAt:    now,
	}

	start := time.Now()
	res, err := t.Store.Prune(ctx, opts)
	if err != nil {
		t.Monitor.RecordFailure(err)
		return res, err
	}

	t.Monitor.RecordSuccess()
	t.log().Info("retention completed",
		"cutoff", opts.MonthsBefore,
		"monthly_removed", res.MonthlyRanges,
		"hourly_removed", res.HourlyMarkers,
		"duration", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// Run prunes on start and then every Interval until ctx is done. Failed runs
// are retried with exponential backoff.
func (t *RetentionTask) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	t.runWithRetry(ctx)
	for {
		select {
		case <-ticker.C:
			t.runWithRetry(ctx)
		case <-ctx.Done():
			t.log().Info("stopping retention scheduler")
			return nil
		}
	}
}

func (t *RetentionTask) runWithRetry(ctx context.Context) {
	logger := t.log()
	baseDelay := t.BaseDelay
	if baseDelay <= 0 {
		baseDelay = retryBaseDelay
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<(attempt-1)) // 30s, 60s, 120s
			logger.Info("retrying retention", "in", delay, "attempt", attempt+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		_, err := t.RunOnce(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		logger.Error("retention failed", "attempt", attempt+1, "error", err)
		if status := t.Monitor.Status(); status.ConsecutiveErrors > monitor.MaxConsecutiveFailures {
			logger.Error("retention keeps failing", "consecutive_errors", status.ConsecutiveErrors)
		}
	}

	logger.Warn("retention failed after all attempts, will retry on next schedule", "attempts", maxRetries+1)
}

// GarbageCollector is implemented by the badger store.
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// RunBadgerGC runs value log garbage collection every interval until ctx is
// done. BadgerDB only reclaims space of deleted and expired entries
// (pruned months, hourly markers past their TTL) when GC runs.
func RunBadgerGC(ctx context.Context, gc GarbageCollector, interval time.Duration, logger *slog.Logger) error {
	logger = logger.With("component", "badger-gc")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("badger GC scheduler started", "interval", interval)
	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Run GC with 0.5 discard ratio (reclaim space if 50% of file is garbage)
			if err := gc.RunGC(0.5); err != nil {
				logger.Debug("GC completed (no rewrite needed)", "duration", time.Since(start).Round(time.Millisecond))
			} else {
				logger.Info("GC completed (disk space reclaimed)", "duration", time.Since(start).Round(time.Millisecond))
			}
		case <-ctx.Done():
			logger.Info("stopping badger GC scheduler")
			return nil
		}
	}
}
