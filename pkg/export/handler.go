package export

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nicktill/dockpulse/pkg/httpx"
	"github.com/nicktill/dockpulse/pkg/storage"
)

// MaxExportMonths is the largest month range one request may export.
const MaxExportMonths = 36

// Handler handles export HTTP endpoints
type Handler struct {
	exporter *Exporter
	logger   *slog.Logger
}

// NewHandler creates a new export handler
func NewHandler(store storage.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		exporter: NewExporter(store),
		logger:   logger,
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - from: first month, YYYY-MM (default: to)
//   - to: last month, YYYY-MM (default: current month)
//   - station: comma separated station codes (optional)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format, must be 'json' or 'csv'")
		return
	}

	to := query.Get("to")
	if to == "" {
		to = storage.MonthOf(h.exporter.now())
	}
	from := query.Get("from")
	if from == "" {
		from = to
	}

	months, err := Months(from, to)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if len(months) > MaxExportMonths {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("month range too large, maximum is %d months", MaxExportMonths))
		return
	}

	opts := ExportOptions{From: from, To: to, Format: format}
	if stations := query.Get("station"); stations != "" {
		opts.Stations = strings.Split(stations, ",")
	}

	filename := fmt.Sprintf("dockpulse-ranges-%s-%s.%s", from, to, format)
	if format == FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	var result *ExportResult
	if format == FormatJSON {
		result, err = h.exporter.ExportToJSON(r.Context(), w, opts)
	} else {
		result, err = h.exporter.ExportToCSV(r.Context(), w, opts)
	}
	if err != nil {
		h.logger.Error("export failed", "from", from, "to", to, "error", err)
		w.Header().Del("Content-Disposition")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	h.logger.Info("exported monthly ranges",
		"ranges", result.RangesExported, "format", format, "range", result.TimeRange)
}
