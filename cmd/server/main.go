package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicktill/dockpulse/pkg/config"
	"github.com/nicktill/dockpulse/pkg/engine"
	"github.com/nicktill/dockpulse/pkg/export"
	"github.com/nicktill/dockpulse/pkg/flush"
	"github.com/nicktill/dockpulse/pkg/ingest"
	"github.com/nicktill/dockpulse/pkg/logging"
	"github.com/nicktill/dockpulse/pkg/publish"
	"github.com/nicktill/dockpulse/pkg/server"
	"github.com/nicktill/dockpulse/pkg/storage/badger"
	"github.com/nicktill/dockpulse/pkg/stream"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// app holds every long-lived component of the server.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	store      *badger.Storage
	engine     *engine.Engine
	bucket     *publish.Bucket
	publisher  *publish.Publisher
	flusher    *flush.Flusher
	scheduler  *flush.Scheduler
	monitors   server.Monitors
	hub        *server.Hub
	subscriber *stream.Subscriber
	http       *http.Server
}

// newApp opens storage, restores the aggregate caches and wires the pipeline.
// A failed restore is fatal: running with cold caches would overwrite the
// month's stored ranges.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := server.InitializeStorage(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		engine:   engine.New(engine.Config{Retention: config.DefaultSnapshotRetention, HourlyTTL: config.DefaultHourlyMarkerTTL}, logger),
		monitors: server.InitializeMonitors(cfg),
		hub:      server.NewHub(logger),
	}

	loadCtx, cancel := context.WithTimeout(ctx, config.StartupLoadTimeout)
	defer cancel()
	if err := a.engine.Seed(loadCtx, store, time.Now()); err != nil {
		store.Close()
		return nil, err
	}

	a.bucket, a.publisher, err = server.InitializePublisher(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initialize publisher: %w", err)
	}

	a.flusher = flush.NewFlusher(flush.FlusherConfig{
		Drainer:   a.engine,
		Store:     store,
		Publisher: a.publisher,
		Recorder:  a.monitors.Flush,
		Logger:    logger,
		Timeout:   config.FlushTimeout,
	})
	a.flusher.OnPublish(a.hub.Publish)

	a.scheduler = flush.NewScheduler(cfg.Debounce, a.flusher.Flush, flush.WithLogger(logger))
	a.engine.SetSignaler(a.scheduler)

	a.subscriber = stream.NewSubscriber(stream.Config{
		Broker:         cfg.MQTTBroker,
		Topic:          cfg.MQTTTopic,
		ClientID:       cfg.MQTTClientID,
		ReconnectDelay: cfg.ReconnectDelay,
	}, a.engine.Ingest, logger)

	a.http = server.NewHTTPServer(cfg, &server.Handlers{
		Engine:         a.engine,
		Store:          store,
		Bucket:         a.bucket,
		Publisher:      a.publisher,
		Scheduler:      a.scheduler,
		Stream:         a.subscriber,
		StorageMonitor: a.monitors.Storage,
		Jobs:           a.monitors.Jobs(),
		Hub:            a.hub,
		Ingest:         ingest.NewHandler(a.engine, ingest.WithLogger(logger)),
		Export:         export.NewHandler(store, logger),
		Version:        version,
		Logger:         logger,
	})

	return a, nil
}

// run blocks until ctx is cancelled or a component fails, then shuts down:
// HTTP first, then the final flush, then storage.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return a.subscriber.Run(gctx)
	})

	retention := &server.RetentionTask{
		Store:    a.store,
		Monitor:  a.monitors.Retention,
		Months:   a.cfg.MonthlyRetention,
		Interval: config.RetentionInterval,
		Logger:   a.logger,
	}
	g.Go(func() error {
		return retention.Run(gctx)
	})

	g.Go(func() error {
		return server.RunBadgerGC(gctx, a.store, config.BadgerGCInterval, a.logger)
	})

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", a.http.Addr)
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if closeErr := a.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// close runs the final flush and closes the store.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	flushErr := a.scheduler.Stop(ctx)
	if flushErr != nil {
		a.logger.Error("final flush failed", "error", flushErr)
	}
	if err := a.store.Close(); err != nil {
		return errors.Join(flushErr, fmt.Errorf("close storage: %w", err))
	}
	return flushErr
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(cfg, version)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting dockpulse",
		"broker", cfg.MQTTBroker,
		"topic", cfg.MQTTTopic,
		"data_dir", cfg.DataDir,
		"bucket_dir", cfg.BucketDir,
		"debounce", cfg.Debounce)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if err := a.run(ctx); err != nil {
		logger.Error("dockpulse stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("dockpulse exited cleanly")
}
