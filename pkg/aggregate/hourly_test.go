package aggregate

import (
	"testing"
	"time"

	"github.com/nicktill/dockpulse/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHourlyTracker_FirstValueWins(t *testing.T) {
	tr := NewHourlyTracker(storage.HourlyMarkerTTL)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	samples := []struct {
		at    time.Time
		value int
	}{
		{day.Add(10*time.Hour + 5*time.Minute), 4},
		{day.Add(10*time.Hour + 40*time.Minute), 2},
		{day.Add(11*time.Hour + 2*time.Minute), 7},
	}

	var emitted []storage.HourlyMarker
	for _, s := range samples {
		if m, ok := tr.Observe("B", s.value, s.at); ok {
			emitted = append(emitted, m)
		}
	}

	require.Len(t, emitted, 2)
	assert.Equal(t, "2025-06-01T10", emitted[0].Hour)
	assert.Equal(t, 4, emitted[0].FirstValue)
	assert.Equal(t, "2025-06-01T11", emitted[1].Hour)
	assert.Equal(t, 7, emitted[1].FirstValue)

	assert.Equal(t, samples[0].at, emitted[0].ObservedAt)
	assert.Equal(t, samples[0].at.Add(8*24*time.Hour), emitted[0].ExpireAt)
}

func TestHourlyTracker_UsesUTC(t *testing.T) {
	tr := NewHourlyTracker(0)
	amsterdam := time.FixedZone("CEST", 2*60*60)
	at := time.Date(2025, 6, 1, 12, 30, 0, 0, amsterdam)

	m, ok := tr.Observe("B", 1, at)
	require.True(t, ok)
	assert.Equal(t, "2025-06-01T10", m.Hour)
}

func TestHourlyTracker_SeedKeepsLatestHour(t *testing.T) {
	tr := NewHourlyTracker(0)
	tr.Seed([]storage.HourlyMarker{
		{StationID: "B", Hour: "2025-06-01T09"},
		{StationID: "B", Hour: "2025-06-01T11"},
		{StationID: "B", Hour: "2025-06-01T10"},
		{StationID: "D", Hour: "2025-05-31T23"},
	})

	h, ok := tr.Hour("B")
	require.True(t, ok)
	assert.Equal(t, "2025-06-01T11", h)
	assert.Equal(t, 2, tr.Len())

	// Same hour as the stored marker: suppressed after restart.
	_, ok = tr.Observe("B", 3, time.Date(2025, 6, 1, 11, 59, 0, 0, time.UTC))
	assert.False(t, ok)

	_, ok = tr.Observe("B", 3, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	assert.True(t, ok)
}
