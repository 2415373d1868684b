package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raulk/clock"
)

func TestStorageMonitor_GetLimit(t *testing.T) {
	sm := NewStorageMonitor(1024*1024*1024, t.TempDir())
	if got := sm.GetLimit(); got != 1024*1024*1024 {
		t.Errorf("GetLimit() = %d, want %d", got, 1024*1024*1024)
	}
}

func TestStorageMonitor_GetUsage(t *testing.T) {
	dataDir := t.TempDir()
	bucketDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dataDir, "000001.vlog"), []byte("test data"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(bucketDir, "locations.json"), []byte("gzip"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	sm := NewStorageMonitor(1024*1024*1024, dataDir, bucketDir)
	usage, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}

	if usage.UsedBytes < 13 {
		t.Errorf("UsedBytes = %d, want at least 13", usage.UsedBytes)
	}
	if len(usage.Dirs) != 2 {
		t.Fatalf("len(Dirs) = %d, want 2", len(usage.Dirs))
	}
	if usage.Dirs[0].UsedBytes+usage.Dirs[1].UsedBytes != usage.UsedBytes {
		t.Error("per-dir usage does not add up to the total")
	}
	if usage.Exceeded() {
		t.Error("usage should be under the limit")
	}
}

func TestStorageMonitor_Caching(t *testing.T) {
	dir := t.TempDir()
	mock := clock.NewMock()
	sm := NewStorageMonitor(1, dir)
	sm.clock = mock

	usage1, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "grow"), make([]byte, 8192), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	usage2, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage1.UsedBytes != usage2.UsedBytes {
		t.Errorf("Cached values differ: %d != %d", usage1.UsedBytes, usage2.UsedBytes)
	}

	mock.Add(DefaultCacheDuration + time.Second)
	usage3, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage3.UsedBytes <= usage1.UsedBytes {
		t.Errorf("expected refreshed usage above %d, got %d", usage1.UsedBytes, usage3.UsedBytes)
	}
	if !usage3.Exceeded() {
		t.Error("usage should exceed a 1 byte limit")
	}
}

func TestStorageMonitor_MissingDirIsEmpty(t *testing.T) {
	sm := NewStorageMonitor(1024, "/nonexistent/path/12345")
	usage, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage.UsedBytes != 0 {
		t.Errorf("UsedBytes = %d, want 0", usage.UsedBytes)
	}
}
