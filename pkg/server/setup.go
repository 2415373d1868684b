package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/nicktill/dockpulse/pkg/config"
	"github.com/nicktill/dockpulse/pkg/publish"
	"github.com/nicktill/dockpulse/pkg/server/monitor"
	"github.com/nicktill/dockpulse/pkg/storage/badger"
)

// Job names reported by /v1/health.
const (
	JobFlush     = "flush"
	JobRetention = "retention"
)

// InitializeStorage opens the BadgerDB store in cfg.DataDir.
func InitializeStorage(cfg config.Config, logger *slog.Logger) (*badger.Storage, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	logger.Info("initializing BadgerDB storage", "dir", cfg.DataDir, "max_memory_mb", cfg.MaxMemoryMB)
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// InitializePublisher opens the bucket directory and a publisher writing
// cfg.ObjectName into it.
func InitializePublisher(cfg config.Config) (*publish.Bucket, *publish.Publisher, error) {
	bucket, err := publish.NewBucket(cfg.BucketDir)
	if err != nil {
		return nil, nil, err
	}
	return bucket, publish.NewPublisher(bucket, cfg.ObjectName), nil
}

// Monitors groups the health monitors of the server.
type Monitors struct {
	Storage   *monitor.StorageMonitor
	Flush     *monitor.JobMonitor
	Retention *monitor.JobMonitor
}

// InitializeMonitors creates the storage and job monitors.
func InitializeMonitors(cfg config.Config) Monitors {
	return Monitors{
		Storage:   monitor.NewStorageMonitor(cfg.MaxStorageBytes(), cfg.DataDir, cfg.BucketDir),
		Flush:     monitor.NewJobMonitor(JobFlush, 0),
		Retention: monitor.NewJobMonitor(JobRetention, 2*config.RetentionInterval),
	}
}

// Jobs returns the job monitors in reporting order.
func (m Monitors) Jobs() []*monitor.JobMonitor {
	return []*monitor.JobMonitor{m.Flush, m.Retention}
}

// NewHTTPServer builds the HTTP server with all routes.
func NewHTTPServer(cfg config.Config, h *Handlers) *http.Server {
	router := mux.NewRouter()
	SetupRoutes(router, h, cfg.Port)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}
}
