package stream

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/nicktill/dockpulse/pkg/telemetry"
)

// MaxPayloadSize bounds a decompressed station document.
const MaxPayloadSize = 1 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// StationFromTopic returns the last segment of topic, which names the station.
func StationFromTopic(topic string) (string, error) {
	topic = strings.TrimRight(topic, "/")
	idx := strings.LastIndexByte(topic, '/')
	id := topic[idx+1:]
	if id == "" || id == "#" || id == "+" {
		return "", fmt.Errorf("%w: no station in topic %q", telemetry.ErrMalformedReading, topic)
	}
	return id, nil
}

// Decompress inflates a gzip payload. Payloads without the gzip magic are
// returned unchanged.
func Decompress(payload []byte) ([]byte, error) {
	if !bytes.HasPrefix(payload, gzipMagic) {
		return payload, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", telemetry.ErrMalformedReading, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, MaxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", telemetry.ErrMalformedReading, err)
	}
	if len(raw) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", telemetry.ErrMalformedReading, MaxPayloadSize)
	}
	return raw, nil
}

// Decode turns one topic message into a Reading.
func Decode(topic string, payload []byte, receivedAt time.Time) (telemetry.Reading, error) {
	stationID, err := StationFromTopic(topic)
	if err != nil {
		return telemetry.Reading{}, err
	}

	raw, err := Decompress(payload)
	if err != nil {
		return telemetry.Reading{}, err
	}

	return telemetry.NewReading(stationID, raw, receivedAt)
}
