package monitor

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/raulk/clock"
)

// DefaultCacheDuration is how long a measured usage is reused.
const DefaultCacheDuration = 10 * time.Second

// DirUsage is the disk usage of one watched directory.
type DirUsage struct {
	Path      string `json:"path"`
	UsedBytes int64  `json:"used_bytes"`
}

// Usage is the combined disk usage of all watched directories.
type Usage struct {
	UsedBytes int64      `json:"used_bytes"`
	MaxBytes  int64      `json:"max_bytes"`
	Dirs      []DirUsage `json:"dirs"`
}

// Exceeded reports whether usage is above the configured limit.
func (u Usage) Exceeded() bool {
	return u.MaxBytes > 0 && u.UsedBytes > u.MaxBytes
}

// StorageMonitor tracks disk usage of the store and bucket directories with
// caching to avoid repeated directory walks.
type StorageMonitor struct {
	dirs          []string
	maxBytes      int64
	cacheDuration time.Duration
	clock         clock.Clock

	mu        sync.Mutex
	cached    Usage
	lastCheck time.Time
}

// NewStorageMonitor creates a storage monitor over dirs.
func NewStorageMonitor(maxBytes int64, dirs ...string) *StorageMonitor {
	return &StorageMonitor{
		dirs:          dirs,
		maxBytes:      maxBytes,
		cacheDuration: DefaultCacheDuration,
		clock:         clock.New(),
	}
}

// GetUsage returns current storage usage (cached).
// A directory that does not exist yet counts as empty.
func (sm *StorageMonitor) GetUsage() (Usage, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && sm.clock.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cached, nil
	}

	usage := Usage{MaxBytes: sm.maxBytes, Dirs: make([]DirUsage, 0, len(sm.dirs))}
	for _, dir := range sm.dirs {
		size, err := calculateDirSize(dir)
		if errors.Is(err, fs.ErrNotExist) {
			size, err = 0, nil
		}
		if err != nil {
			return Usage{}, err
		}
		usage.UsedBytes += size
		usage.Dirs = append(usage.Dirs, DirUsage{Path: dir, UsedBytes: size})
	}

	sm.cached = usage
	sm.lastCheck = sm.clock.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// calculateDirSize recursively calculates directory size in bytes.
// Uses actual disk usage (not logical size) to handle sparse files correctly.
func calculateDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			actualSize, err := getActualFileSize(filePath, info)
			if err != nil {
				size += info.Size()
			} else {
				size += actualSize
			}
		}
		return nil
	})
	return size, err
}

// getActualFileSize is implemented in platform-specific files:
// - filesize_unix.go (Linux/Mac): Uses syscall.Stat_t.Blocks
// - filesize_windows.go (Windows): Uses GetCompressedFileSizeW API
