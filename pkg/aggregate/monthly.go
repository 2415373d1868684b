package aggregate

import (
	"time"

	"github.com/nicktill/dockpulse/pkg/storage"
)

// historyMonths is how many months before the current one feed ThreeMonthMax.
const historyMonths = 2

// MonthlyTracker maintains the occupancy range of every station for the
// current month.
type MonthlyTracker struct {
	ranges map[string]storage.MonthlyRange

	// history holds the maxima of earlier months, per station and month.
	history map[string]map[string]int

	// floor is the earliest month Observe may emit. Months before it were
	// not loaded, so a fresh range for them would overwrite stored bounds.
	floor string
}

// NewMonthlyTracker creates an empty tracker. Every station starts cold.
func NewMonthlyTracker() *MonthlyTracker {
	return &MonthlyTracker{
		ranges:  make(map[string]storage.MonthlyRange),
		history: make(map[string]map[string]int),
	}
}

// Seed loads persisted ranges for the current month.
func (t *MonthlyTracker) Seed(ranges []storage.MonthlyRange) {
	for _, r := range ranges {
		t.ranges[r.StationID] = r
	}
}

// SetFloor stops Observe from emitting ranges for months before month.
func (t *MonthlyTracker) SetFloor(month string) {
	t.floor = month
}

// SeedHistory loads persisted ranges of earlier months. They only feed
// ThreeMonthMax and never influence suppression.
func (t *MonthlyTracker) SeedHistory(ranges []storage.MonthlyRange) {
	for _, r := range ranges {
		t.remember(r)
	}
}

// Observe folds value into the station's range for the month of now.
// ok is false when value already lies within the cached range; the cache is
// left untouched in that case.
func (t *MonthlyTracker) Observe(stationID string, value int, now time.Time) (storage.MonthlyRange, bool) {
	month := storage.MonthOf(now)

	if month < t.floor {
		return storage.MonthlyRange{}, false
	}

	cached, exists := t.ranges[stationID]
	if exists && month < cached.Month {
		// A late reading from a month that was already superseded. Writing it
		// would replace that month's stored range with a narrower one.
		return storage.MonthlyRange{}, false
	}
	if exists && cached.Month != month {
		// Month rolled over: the old range is superseded, not merged.
		t.remember(cached)
		exists = false
	}

	if !exists {
		r := storage.MonthlyRange{StationID: stationID, Month: month, Min: value, Max: value}
		t.ranges[stationID] = r
		return r, true
	}

	if cached.Min <= value && value <= cached.Max {
		return storage.MonthlyRange{}, false
	}

	r := storage.MonthlyRange{
		StationID: stationID,
		Month:     month,
		Min:       min(cached.Min, value),
		Max:       max(cached.Max, value),
	}
	t.ranges[stationID] = r
	return r, true
}

// Range returns the cached range of a station, whatever month it belongs to.
func (t *MonthlyTracker) Range(stationID string) (storage.MonthlyRange, bool) {
	r, ok := t.ranges[stationID]
	return r, ok
}

// Len returns the number of stations with a cached range.
func (t *MonthlyTracker) Len() int {
	return len(t.ranges)
}

// ThreeMonthMax returns the highest occupancy of a station over the month of
// now and the two months before it.
func (t *MonthlyTracker) ThreeMonthMax(stationID string, now time.Time) (int, bool) {
	window := windowMonths(now)

	best, found := 0, false
	consider := func(v int) {
		if !found || v > best {
			best, found = v, true
		}
	}

	if r, ok := t.ranges[stationID]; ok && contains(window, r.Month) {
		consider(r.Max)
	}
	for month, v := range t.history[stationID] {
		if contains(window, month) {
			consider(v)
		}
	}
	return best, found
}

// remember keeps the max of a superseded range and forgets months that can no
// longer fall inside any three-month window.
func (t *MonthlyTracker) remember(r storage.MonthlyRange) {
	months, ok := t.history[r.StationID]
	if !ok {
		months = make(map[string]int)
		t.history[r.StationID] = months
	}
	if v, ok := months[r.Month]; !ok || r.Max > v {
		months[r.Month] = r.Max
	}

	// Keep at most historyMonths entries by dropping the oldest.
	for len(months) > historyMonths {
		oldest := ""
		for m := range months {
			if oldest == "" || m < oldest {
				oldest = m
			}
		}
		delete(months, oldest)
	}
}

// HistoryMonths returns the months before now whose ranges feed ThreeMonthMax.
func HistoryMonths(now time.Time) []string {
	return windowMonths(now)[1:]
}

// windowMonths returns the month of now followed by the previous months.
func windowMonths(now time.Time) []string {
	first := time.Date(now.UTC().Year(), now.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	months := make([]string, 0, historyMonths+1)
	for i := 0; i <= historyMonths; i++ {
		months = append(months, storage.MonthOf(first.AddDate(0, -i, 0)))
	}
	return months
}

func contains(months []string, month string) bool {
	for _, m := range months {
		if m == month {
			return true
		}
	}
	return false
}
