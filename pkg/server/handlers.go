package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/dockpulse/pkg/config"
	"github.com/nicktill/dockpulse/pkg/engine"
	"github.com/nicktill/dockpulse/pkg/export"
	"github.com/nicktill/dockpulse/pkg/flush"
	"github.com/nicktill/dockpulse/pkg/httpx"
	"github.com/nicktill/dockpulse/pkg/ingest"
	"github.com/nicktill/dockpulse/pkg/publish"
	"github.com/nicktill/dockpulse/pkg/server/monitor"
	"github.com/nicktill/dockpulse/pkg/storage"
	"github.com/nicktill/dockpulse/pkg/stream"
	"github.com/nicktill/dockpulse/pkg/telemetry"
)

var startTime = time.Now()

// SchedulerStats is implemented by flush.Scheduler.
type SchedulerStats interface {
	Stats() flush.Stats
}

// StreamStats is implemented by stream.Subscriber.
type StreamStats interface {
	Stats() stream.Stats
}

// Handlers serves the HTTP API.
type Handlers struct {
	Engine         *engine.Engine
	Store          storage.Store
	Bucket         *publish.Bucket
	Publisher      *publish.Publisher
	Scheduler      SchedulerStats
	Stream         StreamStats
	StorageMonitor *monitor.StorageMonitor
	Jobs           []*monitor.JobMonitor
	Hub            *Hub
	Ingest         *ingest.Handler
	Export         *export.Handler
	Version        string
	Logger         *slog.Logger
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string                       `json:"status"`
	Version     string                       `json:"version"`
	Uptime      string                       `json:"uptime"`
	Engine      engine.Stats                 `json:"engine"`
	Flush       *flush.Stats                 `json:"flush,omitempty"`
	Stream      *stream.Stats                `json:"stream,omitempty"`
	Ingest      *ingest.Stats                `json:"ingest,omitempty"`
	Publication *publish.Object              `json:"publication,omitempty"`
	Jobs        map[string]monitor.JobStatus `json:"jobs"`
	WSClients   int                          `json:"ws_clients"`
}

// handleHealth returns service health status.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	statusCode := http.StatusOK

	jobs := make(map[string]monitor.JobStatus, len(h.Jobs))
	for _, job := range h.Jobs {
		js := job.Status()
		jobs[job.Name()] = js
		if !js.Healthy {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	response := HealthResponse{
		Status:  status,
		Version: h.Version,
		Uptime:  time.Since(startTime).String(),
		Engine:  h.Engine.Stats(),
		Jobs:    jobs,
	}
	if h.Scheduler != nil {
		s := h.Scheduler.Stats()
		response.Flush = &s
	}
	if h.Stream != nil {
		s := h.Stream.Stats()
		response.Stream = &s
	}
	if h.Ingest != nil {
		s := h.Ingest.Stats()
		response.Ingest = &s
	}
	if h.Publisher != nil {
		if last := h.Publisher.Last(); last.ETag != "" {
			response.Publication = &last
		}
	}
	if h.Hub != nil {
		response.WSClients = h.Hub.Clients()
	}

	httpx.RespondJSON(w, statusCode, response)
}

// StorageResponse reports disk usage and store contents.
type StorageResponse struct {
	monitor.Usage
	Store *storage.Stats `json:"store,omitempty"`
}

// handleStorageUsage returns current storage usage.
func (h *Handlers) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.StorageMonitor.GetUsage()
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
	defer cancel()

	stats, err := h.Store.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, StorageResponse{Usage: usage, Store: stats})
}

// StationsResponse lists the latest state of every station.
type StationsResponse struct {
	Count    int                `json:"count"`
	Stations []telemetry.Record `json:"stations"`
}

func (h *Handlers) handleStations(w http.ResponseWriter, r *http.Request) {
	records := h.Engine.Records()
	if records == nil {
		records = []telemetry.Record{}
	}
	httpx.RespondJSON(w, http.StatusOK, StationsResponse{Count: len(records), Stations: records})
}

func (h *Handlers) handleStation(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	view, ok := h.Engine.Station(code)
	if !ok {
		httpx.RespondErrorString(w, http.StatusNotFound, "unknown station "+code)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, view)
}

// handlePublicObject serves a published object with its stored headers. The
// body is sent as stored, so a gzip object is served gzip-encoded.
func (h *Handlers) handlePublicObject(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["object"]
	obj, err := h.Bucket.Get(r.Context(), name)
	if errors.Is(err, publish.ErrObjectNotFound) {
		httpx.RespondErrorString(w, http.StatusNotFound, "no object "+name)
		return
	}
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Content-Type", obj.ContentType)
	if obj.ContentEncoding != "" {
		header.Set("Content-Encoding", obj.ContentEncoding)
	}
	if obj.CacheControl != "" {
		header.Set("Cache-Control", obj.CacheControl)
	}
	header.Set("ETag", obj.ETag)
	if !obj.ModTime.IsZero() {
		header.Set("Last-Modified", obj.ModTime.UTC().Format(http.TimeFormat))
	}

	if match := r.Header.Get("If-None-Match"); match != "" && match == obj.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(obj.Body); err != nil {
		h.logger().Warn("failed to write object", "object", name, "error", err)
	}
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, h *Handlers, port string) {
	// CORS middleware for API access
	router.Use(corsMiddleware(port))
	router.Use(httpx.LogRequests(h.logger()))

	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/health", h.handleHealth).Methods("GET")
	api.HandleFunc("/storage", h.handleStorageUsage).Methods("GET")
	api.HandleFunc("/stations", h.handleStations).Methods("GET")
	api.HandleFunc("/stations/{code}", h.handleStation).Methods("GET")

	// HTTP push path alongside the stream subscriber
	if h.Ingest != nil {
		api.HandleFunc("/ingest", h.Ingest.HandleIngest).Methods("POST")
		api.HandleFunc("/stations/{code}/readings", h.Ingest.HandleStation).Methods("POST")
	}

	if h.Export != nil {
		api.HandleFunc("/export", h.Export.HandleExport).Methods("GET")
	}

	// WebSocket for live snapshots
	if h.Hub != nil {
		api.HandleFunc("/ws", h.Hub.HandleWebSocket(h.Engine.Records)).Methods("GET")
	}

	// Published objects, served the way a public bucket would
	router.HandleFunc("/public/{object}", h.handlePublicObject).Methods("GET", "HEAD")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := []string{
		"http://localhost:" + port,
		"http://127.0.0.1:" + port,
		"http://localhost:3000",
		"http://127.0.0.1:3000",
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			// Only set CORS headers for allowed origins
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
