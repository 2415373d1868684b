package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"
	"github.com/raulk/clock"

	"github.com/nicktill/dockpulse/pkg/httpx"
	"github.com/nicktill/dockpulse/pkg/stream"
	"github.com/nicktill/dockpulse/pkg/telemetry"
)

// Ingester applies a decoded reading. Implemented by engine.Engine.
type Ingester interface {
	Ingest(r telemetry.Reading) error
}

// Handler accepts station documents pushed over HTTP and feeds them to the
// same engine the MQTT subscriber drives.
type Handler struct {
	ingester Ingester
	tracker  *StationTracker
	clock    clock.Clock
	logger   *slog.Logger

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock sets the clock used to stamp readings without a fetchTime.
func WithClock(c clock.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithTracker replaces the default station tracker.
func WithTracker(t *StationTracker) Option {
	return func(h *Handler) { h.tracker = t }
}

// NewHandler creates a new ingest handler
func NewHandler(ing Ingester, opts ...Option) *Handler {
	h := &Handler{
		ingester: ing,
		clock:    clock.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.tracker == nil {
		h.tracker = NewStationTracker(MaxStations, h.clock)
	}
	return h
}

// StationDocument is one station update inside a batch request.
type StationDocument struct {
	Station  string          `json:"station"`
	Document json.RawMessage `json:"document"`
}

// IngestRequest represents the request payload
type IngestRequest struct {
	Readings []StationDocument `json:"readings"`
}

// IngestResponse represents the response payload
type IngestResponse struct {
	Status   string   `json:"status"`
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// HandleIngest handles POST /v1/ingest with a batch of station documents.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}

	var req IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if len(req.Readings) > MaxReadingsPerBatch {
		httpx.RespondError(w, http.StatusBadRequest,
			fmt.Errorf("%w: got %d", ErrTooManyReadings, len(req.Readings)))
		return
	}

	resp := IngestResponse{}
	for i, doc := range req.Readings {
		if err := h.apply(doc.Station, doc.Document); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, fmt.Sprintf("reading %d: %v", i, err))
			continue
		}
		resp.Accepted++
	}

	h.respond(w, resp)
}

// HandleStation handles POST /v1/stations/{code}/readings. The body is a
// single station document, optionally gzip compressed.
func (h *Handler) HandleStation(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}

	raw, err := stream.Decompress(body)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	resp := IngestResponse{}
	if err := h.apply(mux.Vars(r)["code"], raw); err != nil {
		resp.Rejected = 1
		resp.Errors = []string{err.Error()}
	} else {
		resp.Accepted = 1
	}

	h.respond(w, resp)
}

// Stats returns handler and tracker statistics.
func (h *Handler) Stats() Stats {
	return Stats{
		Accepted: h.accepted.Load(),
		Rejected: h.rejected.Load(),
		Tracker:  h.tracker.Stats(),
	}
}

// Stats reports HTTP ingest counters.
type Stats struct {
	Accepted uint64       `json:"accepted"`
	Rejected uint64       `json:"rejected"`
	Tracker  TrackerStats `json:"tracker"`
}

func (h *Handler) apply(station string, doc []byte) error {
	err := h.applyReading(station, doc)
	if err != nil {
		h.rejected.Add(1)
		h.logger.Debug("http reading rejected", "station", station, "error", err)
		return err
	}
	h.accepted.Add(1)
	return nil
}

func (h *Handler) applyReading(station string, doc []byte) error {
	if err := ValidateStationID(station); err != nil {
		return err
	}
	if len(doc) > MaxDocumentSize {
		return ErrDocumentTooLarge
	}
	if err := h.tracker.Check(station); err != nil {
		return err
	}

	reading, err := telemetry.NewReading(station, doc, h.clock.Now())
	if err != nil {
		return err
	}
	if err := h.ingester.Ingest(reading); err != nil {
		return err
	}

	h.tracker.Record(station)
	return nil
}

// readBody reads the bounded request body, inflating it when the client
// sent Content-Encoding: gzip.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	var src io.Reader = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)

	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", telemetry.ErrMalformedReading, err)
		}
		defer zr.Close()
		src = io.LimitReader(zr, MaxRequestBodyBytes+1)
	}

	body, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxRequestBodyBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

var errBodyTooLarge = fmt.Errorf("request body too large (max %d bytes)", MaxRequestBodyBytes)

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || errors.Is(err, errBodyTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (h *Handler) respond(w http.ResponseWriter, resp IngestResponse) {
	switch {
	case resp.Rejected == 0:
		resp.Status = "success"
		httpx.RespondJSON(w, http.StatusOK, resp)
	case resp.Accepted > 0:
		resp.Status = "partial"
		httpx.RespondJSON(w, http.StatusOK, resp)
	default:
		resp.Status = "rejected"
		httpx.RespondJSON(w, http.StatusUnprocessableEntity, resp)
	}
}
