// Package publish encodes the station snapshot and writes it to an object sink.
//
// The snapshot is a JSON array of telemetry.Record, gzip-compressed, stored
// under a fixed object name together with the headers a static file server
// needs to serve it as-is:
//
//	Content-Type:     application/json
//	Content-Encoding: gzip
//	Cache-Control:    no-cache, max-age=0
//	ETag:             xxhash of the compressed body
//
// Bucket is a filesystem-backed Sink. Each object is a body file plus a
// ".meta" sidecar carrying its headers, both replaced by rename so readers
// never see a partial write.
package publish
