package stream

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/dockpulse/pkg/telemetry"
)

const stationDoc = `{"description":" Amsterdam Centraal ","stationCode":"ASD","extra":{"locationCode":"asd001","rentalBikes":17,"fetchTime":1718438400}}`

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestStationFromTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    string
		wantErr bool
	}{
		{topic: "/OVfiets/asd001", want: "asd001"},
		{topic: "/OVfiets/asd001/", want: "asd001"},
		{topic: "ut002", want: "ut002"},
		{topic: "", wantErr: true},
		{topic: "/", wantErr: true},
		{topic: "/OVfiets/#", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := StationFromTopic(tt.topic)
			if tt.wantErr {
				assert.ErrorIs(t, err, telemetry.ErrMalformedReading)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeGzipPayload(t *testing.T) {
	received := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	r, err := Decode("/OVfiets/asd001", gzipBytes(t, []byte(stationDoc)), received)
	require.NoError(t, err)

	assert.Equal(t, "asd001", r.StationID)
	assert.Equal(t, 17, r.Value)
	assert.Equal(t, time.Unix(1718438400, 0).UTC(), r.ObservedAt)
	assert.JSONEq(t, stationDoc, string(r.Payload))
}

func TestDecodeTopicWinsOverPayload(t *testing.T) {
	r, err := Decode("/OVfiets/topic-id", []byte(stationDoc), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "topic-id", r.StationID)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "corrupt gzip", payload: []byte{0x1f, 0x8b, 0x00, 0x01}},
		{name: "not json", payload: gzipBytes(t, []byte("not json"))},
		{name: "no occupancy", payload: gzipBytes(t, []byte(`{"description":"x","extra":{"locationCode":"a"}}`))},
		{name: "too large", payload: gzipBytes(t, []byte(strings.Repeat(" ", MaxPayloadSize+1)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode("/OVfiets/asd001", tt.payload, time.Now())
			assert.ErrorIs(t, err, telemetry.ErrMalformedReading)
		})
	}
}
