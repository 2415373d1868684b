package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/nicktill/dockpulse/pkg/telemetry"
)

// Headers of every published snapshot.
const (
	ContentTypeJSON = "application/json"
	EncodingGzip    = "gzip"
	CacheNoCache    = "no-cache, max-age=0"
)

// ErrObjectNotFound is returned when a bucket has no object of that name.
var ErrObjectNotFound = errors.New("object not found")

// Object is a stored blob plus the headers it is served with.
type Object struct {
	Body            []byte    `json:"-"`
	ContentType     string    `json:"content_type"`
	ContentEncoding string    `json:"content_encoding,omitempty"`
	CacheControl    string    `json:"cache_control,omitempty"`
	ETag            string    `json:"etag"`
	Size            int       `json:"size"`
	ModTime         time.Time `json:"mod_time"`
}

// Sink stores named objects.
type Sink interface {
	Put(ctx context.Context, name string, obj Object) error
}

// Encode serializes records as a gzip-compressed JSON array. A nil or empty
// slice encodes as "[]".
func Encode(records []telemetry.Record) (Object, error) {
	if records == nil {
		records = []telemetry.Record{}
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return Object{}, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return Object{}, err
	}
	if _, err := zw.Write(raw); err != nil {
		return Object{}, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Object{}, fmt.Errorf("failed to compress snapshot: %w", err)
	}

	body := buf.Bytes()
	return Object{
		Body:            body,
		ContentType:     ContentTypeJSON,
		ContentEncoding: EncodingGzip,
		CacheControl:    CacheNoCache,
		ETag:            ETag(body),
		Size:            len(body),
	}, nil
}

// Decode reverses Encode.
func Decode(obj Object) ([]telemetry.Record, error) {
	raw := obj.Body
	if obj.ContentEncoding == EncodingGzip {
		zr, err := gzip.NewReader(bytes.NewReader(obj.Body))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		defer zr.Close()

		var out bytes.Buffer
		if _, err := out.ReadFrom(zr); err != nil {
			return nil, fmt.Errorf("failed to decompress body: %w", err)
		}
		raw = out.Bytes()
	}

	var records []telemetry.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return records, nil
}

// ETag returns a strong entity tag for body.
func ETag(body []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
}
