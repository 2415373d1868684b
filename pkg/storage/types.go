package storage

import "time"

// Time layouts used in natural keys. Both are zero padded so lexicographic
// order equals chronological order.
const (
	MonthLayout = "2006-01"
	HourLayout  = "2006-01-02T15"
)

// HourlyMarkerTTL is how long an hourly marker is retained after it was observed.
const HourlyMarkerTTL = 8 * 24 * time.Hour

// MonthlyRange is the observed occupancy range of a station in one month.
type MonthlyRange struct {
	StationID string `json:"code"`
	Month     string `json:"month"`
	Min       int    `json:"min"`
	Max       int    `json:"max"`
}

// Key returns the natural key the range is stored under.
func (r MonthlyRange) Key() string {
	return r.StationID + "_" + r.Month
}

// HourlyMarker records the first sample of a station in one UTC hour.
type HourlyMarker struct {
	StationID  string    `json:"code"`
	Hour       string    `json:"hour"`
	FirstValue int       `json:"first_value"`
	ObservedAt time.Time `json:"observed_at"`
	ExpireAt   time.Time `json:"expire_at"`
}

// Key returns the natural key the marker is stored under.
func (m HourlyMarker) Key() string {
	return m.StationID + "_" + m.Hour
}

// MonthOf formats t as a month bucket in UTC.
func MonthOf(t time.Time) string {
	return t.UTC().Format(MonthLayout)
}

// HourOf formats t as an hour bucket in UTC.
func HourOf(t time.Time) string {
	return t.UTC().Format(HourLayout)
}

// Batch is a set of aggregates to upsert, keyed by natural key so repeated
// updates of one key collapse to the latest value.
type Batch struct {
	Monthly map[string]MonthlyRange `json:"monthly"`
	Hourly  map[string]HourlyMarker `json:"hourly"`
}

// NewBatch returns an empty batch ready for use.
func NewBatch() Batch {
	return Batch{
		Monthly: make(map[string]MonthlyRange),
		Hourly:  make(map[string]HourlyMarker),
	}
}

// PutMonthly adds or replaces a monthly range.
func (b Batch) PutMonthly(r MonthlyRange) {
	b.Monthly[r.Key()] = r
}

// PutHourly adds or replaces an hourly marker.
func (b Batch) PutHourly(m HourlyMarker) {
	b.Hourly[m.Key()] = m
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	return len(b.Monthly) + len(b.Hourly)
}

// Empty reports whether the batch holds no records.
func (b Batch) Empty() bool {
	return b.Len() == 0
}
