package flush

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/dockpulse/pkg/engine"
	"github.com/nicktill/dockpulse/pkg/storage"
	"github.com/nicktill/dockpulse/pkg/storage/memory"
	"github.com/nicktill/dockpulse/pkg/telemetry"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls [][]telemetry.Record
	err   error
}

func (p *fakePublisher) Publish(ctx context.Context, records []telemetry.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, records)
	return p.err
}

type fakeRecorder struct {
	successes int
	failures  []error
}

func (r *fakeRecorder) RecordSuccess()          { r.successes++ }
func (r *fakeRecorder) RecordFailure(err error) { r.failures = append(r.failures, err) }

var base = time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)

func reading(t *testing.T, id string, value int, at time.Time) telemetry.Reading {
	t.Helper()
	payload := fmt.Sprintf(`{"description":"Station %s","stationCode":"%s","extra":{"locationCode":"%s","rentalBikes":%d,"fetchTime":%d}}`,
		id, id, id, value, at.Unix())
	r, err := telemetry.NewReading(id, []byte(payload), at)
	require.NoError(t, err)
	return r
}

type flushFixture struct {
	engine    *engine.Engine
	store     *memory.Storage
	publisher *fakePublisher
	recorder  *fakeRecorder
	flusher   *Flusher
}

func newFlushFixture(t *testing.T) *flushFixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(base.Add(time.Minute))

	f := &flushFixture{
		engine:    engine.New(engine.Config{}, nil),
		store:     memory.New(),
		publisher: &fakePublisher{},
		recorder:  &fakeRecorder{},
	}
	f.flusher = NewFlusher(FlusherConfig{
		Drainer:   f.engine,
		Store:     f.store,
		Publisher: f.publisher,
		Recorder:  f.recorder,
		Clock:     mock,
		Timeout:   time.Second,
	})
	return f
}

func TestFlushCommitsAndPublishes(t *testing.T) {
	f := newFlushFixture(t)
	var broadcast []telemetry.Record
	f.flusher.OnPublish(func(records []telemetry.Record) { broadcast = records })

	f.engine.Ingest(reading(t, "asd001", 5, base))
	f.engine.Ingest(reading(t, "utr002", 3, base))

	require.NoError(t, f.flusher.Flush(context.Background()))

	ranges, err := f.store.MonthlyRanges(context.Background(), "2025-06")
	require.NoError(t, err)
	assert.Len(t, ranges, 2)

	markers, err := f.store.HourlyMarkers(context.Background())
	require.NoError(t, err)
	assert.Len(t, markers, 2)

	require.Len(t, f.publisher.calls, 1)
	assert.Len(t, f.publisher.calls[0], 2)
	assert.Len(t, broadcast, 2)
	assert.Equal(t, 1, f.recorder.successes)
}

func TestFlushPublishesEvenWithoutPendingWrites(t *testing.T) {
	f := newFlushFixture(t)

	f.engine.Ingest(reading(t, "asd001", 5, base))
	require.NoError(t, f.flusher.Flush(context.Background()))

	// A repeated value changes nothing in the trackers but still refreshes the snapshot.
	f.engine.Ingest(reading(t, "asd001", 5, base.Add(10*time.Second)))
	require.NoError(t, f.flusher.Flush(context.Background()))

	assert.Len(t, f.publisher.calls, 2)
	stats, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.MonthlyRanges)
}

func TestFlushEmptySnapshotPublishesEmptyArray(t *testing.T) {
	f := newFlushFixture(t)

	require.NoError(t, f.flusher.Flush(context.Background()))
	require.Len(t, f.publisher.calls, 1)
	assert.Empty(t, f.publisher.calls[0])
}

func TestFlushPersistenceFailureDropsBatch(t *testing.T) {
	f := newFlushFixture(t)
	outage := errors.New("connection refused")
	f.store.FailCommits(1, outage)

	f.engine.Ingest(reading(t, "asd001", 5, base))
	err := f.flusher.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSinkUnavailable)
	assert.ErrorIs(t, err, outage)

	var sinkErr *SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, SinkPersistence, sinkErr.Sink)

	// Publication still happened.
	assert.Len(t, f.publisher.calls, 1)
	require.Len(t, f.recorder.failures, 1)

	// The failed records are not retried by the next flush.
	require.NoError(t, f.flusher.Flush(context.Background()))
	_, err = f.store.Monthly(storage.MonthlyRange{StationID: "asd001", Month: "2025-06"}.Key())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The next differing reading rewrites the station.
	f.engine.Ingest(reading(t, "asd001", 9, base.Add(30*time.Second)))
	require.NoError(t, f.flusher.Flush(context.Background()))
	got, err := f.store.Monthly(storage.MonthlyRange{StationID: "asd001", Month: "2025-06"}.Key())
	require.NoError(t, err)
	assert.Equal(t, 5, got.Min)
	assert.Equal(t, 9, got.Max)
}

func TestFlushPublicationFailureSkipsBroadcast(t *testing.T) {
	f := newFlushFixture(t)
	f.publisher.err = errors.New("bucket unavailable")
	broadcasts := 0
	f.flusher.OnPublish(func([]telemetry.Record) { broadcasts++ })

	f.engine.Ingest(reading(t, "asd001", 5, base))
	err := f.flusher.Flush(context.Background())

	var sinkErr *SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, SinkPublication, sinkErr.Sink)
	assert.Equal(t, 0, broadcasts)

	// Persistence was unaffected.
	ranges, err := f.store.MonthlyRanges(context.Background(), "2025-06")
	require.NoError(t, err)
	assert.Len(t, ranges, 1)
}

func TestSchedulerDrivesFlusher(t *testing.T) {
	f := newFlushFixture(t)
	mock := clock.NewMock()
	s := NewScheduler(testDelay, f.flusher.Flush, WithClock(mock))
	f.engine.SetSignaler(s)

	for i := 0; i < 10; i++ {
		f.engine.Ingest(reading(t, "asd001", i, base.Add(time.Duration(i)*time.Second)))
		mock.Add(100 * time.Millisecond)
	}
	assert.Empty(t, f.publisher.calls)

	mock.Add(testDelay)
	require.Eventually(t, func() bool {
		f.publisher.mu.Lock()
		defer f.publisher.mu.Unlock()
		return len(f.publisher.calls) == 1
	}, time.Second, 5*time.Millisecond)

	got, err := f.store.Monthly(storage.MonthlyRange{StationID: "asd001", Month: "2025-06"}.Key())
	require.NoError(t, err)
	assert.Equal(t, 0, got.Min)
	assert.Equal(t, 9, got.Max)
}
