// Package export provides backups of the monthly occupancy ranges.
//
// # Overview
//
// The persisted monthly ranges are the only long-lived history the service
// keeps. This package dumps them to JSON or CSV so they can be archived
// before retention removes old months, or analysed in external tools.
//
// # Supported Formats
//
// JSON Format:
//   - Export metadata (timestamp, month range, range count) followed by ranges
//   - Ranges sorted by month, then station code
//
// CSV Format:
//   - One row per range with columns month, code, min, max
//
// # HTTP API
//
// Export endpoint: GET /v1/export
// Query parameters:
//   - format: "json" or "csv" (default: json)
//   - from: first month, YYYY-MM (default: the to month)
//   - to: last month, YYYY-MM (default: current month)
//   - station: comma separated station codes (optional)
//
// Example:
//
//	curl "http://localhost:8080/v1/export?format=csv&from=2025-01&to=2025-06" \
//	  -o ranges.csv
//
// # Usage Limits
//
//   - Maximum export range: 36 months
//
// # Data Format
//
//	{
//	  "metadata": {
//	    "exported_at": "2025-06-30T03:00:00Z",
//	    "from": "2025-05",
//	    "to": "2025-06",
//	    "range_count": 2,
//	    "format": "json",
//	    "version": "1.0"
//	  },
//	  "ranges": [
//	    {"code": "ut001", "month": "2025-05", "min": 0, "max": 41},
//	    {"code": "ut001", "month": "2025-06", "min": 3, "max": 38}
//	  ]
//	}
package export
