package aggregate

import (
	"testing"
	"time"

	"github.com/nicktill/dockpulse/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(code string, bikes int) telemetry.Record {
	return telemetry.Record{
		Description: code,
		Extra:       telemetry.Extra{LocationCode: code, RentalBikes: &bikes},
		InfoImages:  []telemetry.InfoImage{},
	}
}

func TestSnapshot_UpdateOverwrites(t *testing.T) {
	s := NewSnapshot(DefaultRetention)
	now := time.Now()

	s.Update("a", record("a", 1), now)
	updated := record("a", 1)
	updated.Description = "renamed"
	s.Update("a", updated, now.Add(time.Minute))

	got, at, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Description)
	assert.Equal(t, now.Add(time.Minute), at)
	assert.Equal(t, 1, s.Len())
}

func TestSnapshot_Prune(t *testing.T) {
	s := NewSnapshot(DefaultRetention)
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-DefaultRetention)

	s.Update("stale", record("stale", 1), cutoff.Add(-time.Second))
	s.Update("edge", record("edge", 1), cutoff)
	s.Update("fresh", record("fresh", 1), now.Add(-time.Hour))

	removed := s.Prune(now)
	assert.Equal(t, []string{"stale"}, removed)

	records := s.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "edge", records[0].Description)
	assert.Equal(t, "fresh", records[1].Description)

	for _, id := range []string{"edge", "fresh"} {
		_, at, ok := s.Get(id)
		require.True(t, ok)
		assert.False(t, at.Before(cutoff))
	}
}

func TestSnapshot_RecordsIsACopy(t *testing.T) {
	s := NewSnapshot(0)
	s.Update("a", record("a", 1), time.Now())

	records := s.Records()
	s.Update("b", record("b", 2), time.Now())

	assert.Len(t, records, 1)
	assert.Len(t, s.Records(), 2)
}
