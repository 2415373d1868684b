package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/nicktill/dockpulse/pkg/storage"
)

// Formats supported by the exporter.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Exporter handles exporting monthly ranges to various formats
type Exporter struct {
	store storage.Store
	now   func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(store storage.Store) *Exporter {
	return &Exporter{store: store, now: time.Now}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Inclusive month range, "YYYY-MM"
	From string
	To   string

	// Filter by station codes (nil = all stations)
	Stations []string

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	RangesExported int       `json:"ranges_exported"`
	Months         int       `json:"months"`
	TimeRange      string    `json:"time_range"`
	Format         string    `json:"format"`
	ExportedAt     time.Time `json:"exported_at"`
}

// Metadata heads a JSON export.
type Metadata struct {
	ExportedAt time.Time `json:"exported_at"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	RangeCount int       `json:"range_count"`
	Format     string    `json:"format"`
	Version    string    `json:"version"`
}

// Document is the JSON export layout.
type Document struct {
	Metadata Metadata               `json:"metadata"`
	Ranges   []storage.MonthlyRange `json:"ranges"`
}

// Months lists every month from from to to inclusive.
func Months(from, to string) ([]string, error) {
	start, err := time.Parse(storage.MonthLayout, from)
	if err != nil {
		return nil, fmt.Errorf("invalid month %q: %w", from, err)
	}
	end, err := time.Parse(storage.MonthLayout, to)
	if err != nil {
		return nil, fmt.Errorf("invalid month %q: %w", to, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("month range %s..%s is reversed", from, to)
	}

	var months []string
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		months = append(months, m.Format(storage.MonthLayout))
	}
	return months, nil
}

// collect loads the ranges of every month in opts, filtered and sorted by
// month then station.
func (e *Exporter) collect(ctx context.Context, opts ExportOptions) ([]storage.MonthlyRange, int, error) {
	months, err := Months(opts.From, opts.To)
	if err != nil {
		return nil, 0, err
	}

	var keep map[string]bool
	if len(opts.Stations) > 0 {
		keep = make(map[string]bool, len(opts.Stations))
		for _, s := range opts.Stations {
			keep[s] = true
		}
	}

	ranges := make([]storage.MonthlyRange, 0)
	for _, month := range months {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		got, err := e.store.MonthlyRanges(ctx, month)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load ranges for %s: %w", month, err)
		}
		for _, r := range got {
			if keep != nil && !keep[r.StationID] {
				continue
			}
			ranges = append(ranges, r)
		}
	}

	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].Month != ranges[j].Month {
			return ranges[i].Month < ranges[j].Month
		}
		return ranges[i].StationID < ranges[j].StationID
	})
	return ranges, len(months), nil
}

// ExportToJSON exports monthly ranges as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	ranges, months, err := e.collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Metadata: Metadata{
			ExportedAt: e.now().UTC(),
			From:       opts.From,
			To:         opts.To,
			RangeCount: len(ranges),
			Format:     FormatJSON,
			Version:    "1.0",
		},
		Ranges: ranges,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		RangesExported: len(ranges),
		Months:         months,
		TimeRange:      fmt.Sprintf("%s to %s", opts.From, opts.To),
		Format:         FormatJSON,
		ExportedAt:     doc.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV exports monthly ranges as CSV to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	ranges, months, err := e.collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"month", "code", "min", "max"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range ranges {
		row := []string{r.Month, r.StationID, strconv.Itoa(r.Min), strconv.Itoa(r.Max)}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		RangesExported: len(ranges),
		Months:         months,
		TimeRange:      fmt.Sprintf("%s to %s", opts.From, opts.To),
		Format:         FormatCSV,
		ExportedAt:     e.now().UTC(),
	}, nil
}
