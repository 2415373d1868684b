package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nicktill/dockpulse/pkg/storage"
	"github.com/nicktill/dockpulse/pkg/storage/memory"
)

func seedStore(t *testing.T) *memory.Storage {
	t.Helper()
	store := memory.New()

	batch := storage.NewBatch()
	batch.PutMonthly(storage.MonthlyRange{StationID: "ut001", Month: "2025-04", Min: 2, Max: 30})
	batch.PutMonthly(storage.MonthlyRange{StationID: "ut001", Month: "2025-05", Min: 0, Max: 41})
	batch.PutMonthly(storage.MonthlyRange{StationID: "asd002", Month: "2025-05", Min: 5, Max: 9})
	batch.PutMonthly(storage.MonthlyRange{StationID: "ut001", Month: "2025-07", Min: 1, Max: 12})

	if err := store.Commit(context.Background(), batch); err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}
	return store
}

func TestMonths(t *testing.T) {
	months, err := Months("2024-11", "2025-02")
	if err != nil {
		t.Fatalf("Months failed: %v", err)
	}
	want := []string{"2024-11", "2024-12", "2025-01", "2025-02"}
	if strings.Join(months, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, months)
	}

	if _, err := Months("2025-03", "2025-02"); err == nil {
		t.Error("Expected error for reversed range")
	}
	if _, err := Months("2025-13", "2025-02"); err == nil {
		t.Error("Expected error for invalid month")
	}
}

func TestExportToJSON(t *testing.T) {
	store := seedStore(t)
	defer store.Close()

	exporter := NewExporter(store)
	exporter.now = func() time.Time { return time.Date(2025, 6, 30, 3, 0, 0, 0, time.UTC) }

	buf := &bytes.Buffer{}
	result, err := exporter.ExportToJSON(context.Background(), buf, ExportOptions{
		From:   "2025-04",
		To:     "2025-06",
		Format: FormatJSON,
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if result.RangesExported != 3 {
		t.Errorf("Expected 3 ranges exported, got %d", result.RangesExported)
	}
	if result.Months != 3 {
		t.Errorf("Expected 3 months, got %d", result.Months)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("Failed to parse exported JSON: %v", err)
	}

	if doc.Metadata.RangeCount != 3 {
		t.Errorf("Expected range count 3, got %d", doc.Metadata.RangeCount)
	}
	if !doc.Metadata.ExportedAt.Equal(time.Date(2025, 6, 30, 3, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected exported_at %v", doc.Metadata.ExportedAt)
	}

	// Sorted by month, then station
	wantKeys := []string{"ut001_2025-04", "asd002_2025-05", "ut001_2025-05"}
	for i, key := range wantKeys {
		if doc.Ranges[i].Key() != key {
			t.Errorf("Range %d: expected %s, got %s", i, key, doc.Ranges[i].Key())
		}
	}
}

func TestExportToCSV(t *testing.T) {
	store := seedStore(t)
	defer store.Close()

	exporter := NewExporter(store)
	buf := &bytes.Buffer{}
	result, err := exporter.ExportToCSV(context.Background(), buf, ExportOptions{
		From:     "2025-05",
		To:       "2025-07",
		Stations: []string{"ut001"},
		Format:   FormatCSV,
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.RangesExported != 2 {
		t.Errorf("Expected 2 ranges exported, got %d", result.RangesExported)
	}

	records, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}

	want := [][]string{
		{"month", "code", "min", "max"},
		{"2025-05", "ut001", "0", "41"},
		{"2025-07", "ut001", "1", "12"},
	}
	if len(records) != len(want) {
		t.Fatalf("Expected %d CSV rows, got %d", len(want), len(records))
	}
	for i := range want {
		if strings.Join(records[i], ",") != strings.Join(want[i], ",") {
			t.Errorf("Row %d: expected %v, got %v", i, want[i], records[i])
		}
	}
}

func TestExportEmptyStorage(t *testing.T) {
	store := memory.New()
	defer store.Close()

	buf := &bytes.Buffer{}
	result, err := NewExporter(store).ExportToJSON(context.Background(), buf, ExportOptions{
		From: "2025-01",
		To:   "2025-01",
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.RangesExported != 0 {
		t.Errorf("Expected 0 ranges, got %d", result.RangesExported)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("Failed to parse exported JSON: %v", err)
	}
	if doc.Ranges == nil {
		t.Error("Expected empty ranges array, got null")
	}
}

type failingStore struct {
	storage.Store
}

func (failingStore) MonthlyRanges(context.Context, string) ([]storage.MonthlyRange, error) {
	return nil, errors.New("disk on fire")
}

func TestHandleExport(t *testing.T) {
	store := seedStore(t)
	defer store.Close()

	h := NewHandler(store, nil)
	h.exporter.now = func() time.Time { return time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC) }

	t.Run("defaults to current month as json", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.HandleExport(rr, httptest.NewRequest(http.MethodGet, "/v1/export", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %s", ct)
		}
		var doc Document
		if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if doc.Metadata.From != "2025-05" || len(doc.Ranges) != 2 {
			t.Errorf("Unexpected export %+v", doc.Metadata)
		}
	})

	t.Run("csv with station filter", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.HandleExport(rr, httptest.NewRequest(http.MethodGet,
			"/v1/export?format=csv&from=2025-04&to=2025-05&station=asd002", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Header().Get("Content-Disposition"), "dockpulse-ranges-2025-04-2025-05.csv") {
			t.Errorf("Unexpected Content-Disposition %q", rr.Header().Get("Content-Disposition"))
		}
		if got := strings.TrimSpace(rr.Body.String()); got != "month,code,min,max\n2025-05,asd002,5,9" {
			t.Errorf("Unexpected CSV body %q", got)
		}
	})

	badRequests := map[string]string{
		"bad format":     "/v1/export?format=xml",
		"bad month":      "/v1/export?from=May",
		"reversed range": "/v1/export?from=2025-05&to=2025-01",
		"too many":       "/v1/export?from=2020-01&to=2025-01",
	}
	for name, target := range badRequests {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.HandleExport(rr, httptest.NewRequest(http.MethodGet, target, nil))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rr.Code)
			}
		})
	}

	t.Run("store failure", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewHandler(failingStore{}, nil).HandleExport(rr,
			httptest.NewRequest(http.MethodGet, "/v1/export?from=2025-01&to=2025-01", nil))
		if rr.Code != http.StatusInternalServerError {
			t.Errorf("Expected 500, got %d", rr.Code)
		}
	})
}
