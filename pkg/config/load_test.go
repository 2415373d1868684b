package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envLookup(nil))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "/OVfiets/#", cfg.MQTTTopic)
	assert.Equal(t, "locations.json", cfg.ObjectName)
	assert.Equal(t, 5*time.Minute, cfg.ReconnectDelay)
	assert.Equal(t, time.Second, cfg.Debounce)
	assert.Equal(t, 24, cfg.MonthlyRetention)
	assert.Equal(t, int64(1<<30), cfg.MaxStorageBytes())
}

func TestLoadFromEnv(t *testing.T) {
	cfg, err := load(envLookup(map[string]string{
		"APP_ENV":                     "prod",
		"LOG_LEVEL":                   "debug",
		"PORT":                        "9090",
		"DOCKPULSE_DATA_DIR":          "/var/lib/dockpulse",
		"DOCKPULSE_BUCKET_DIR":        "/srv/public",
		"DOCKPULSE_OBJECT_NAME":       "stations.json",
		"DOCKPULSE_MQTT_BROKER":       "tcp://broker:1883",
		"DOCKPULSE_MQTT_TOPIC":        "/bikes/#",
		"DOCKPULSE_MQTT_CLIENT_ID":    "dp-1",
		"DOCKPULSE_RECONNECT_DELAY":   "30s",
		"DOCKPULSE_DEBOUNCE":          "250ms",
		"DOCKPULSE_MAX_MEMORY_MB":     "128",
		"DOCKPULSE_MAX_STORAGE_GB":    "4",
		"DOCKPULSE_MONTHLY_RETENTION": "0",
	}))
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.AppEnv)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/var/lib/dockpulse", cfg.DataDir)
	assert.Equal(t, "/srv/public", cfg.BucketDir)
	assert.Equal(t, "stations.json", cfg.ObjectName)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTTBroker)
	assert.Equal(t, "/bikes/#", cfg.MQTTTopic)
	assert.Equal(t, "dp-1", cfg.MQTTClientID)
	assert.Equal(t, 30*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce)
	assert.Equal(t, int64(128), cfg.MaxMemoryMB)
	assert.Equal(t, int64(4), cfg.MaxStorageGB)
	assert.Equal(t, 0, cfg.MonthlyRetention)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad env", map[string]string{"APP_ENV": "staging"}},
		{"bad level", map[string]string{"LOG_LEVEL": "loud"}},
		{"bad duration", map[string]string{"DOCKPULSE_DEBOUNCE": "soon"}},
		{"zero debounce", map[string]string{"DOCKPULSE_DEBOUNCE": "0s"}},
		{"bad int", map[string]string{"DOCKPULSE_MAX_MEMORY_MB": "lots"}},
		{"negative retention", map[string]string{"DOCKPULSE_MONTHLY_RETENTION": "-1"}},
		{"object path", map[string]string{"DOCKPULSE_OBJECT_NAME": "a/b.json"}},
		{"missing file", map[string]string{"DOCKPULSE_CONFIG": "/does/not/exist.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(envLookup(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dockpulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app_env: prod
log_level: warn
mqtt_broker: tcp://file-broker:1883
debounce: 2s
reconnect_delay: 1m
monthly_retention: 12
`), 0o644))

	cfg, err := load(envLookup(map[string]string{
		"DOCKPULSE_CONFIG":      path,
		"DOCKPULSE_MQTT_BROKER": "tcp://env-broker:1883",
	}))
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.AppEnv)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, "tcp://env-broker:1883", cfg.MQTTBroker, "env overrides file")
	assert.Equal(t, 2*time.Second, cfg.Debounce)
	assert.Equal(t, time.Minute, cfg.ReconnectDelay)
	assert.Equal(t, 12, cfg.MonthlyRetention)
	assert.Equal(t, DefaultMQTTTopic, cfg.MQTTTopic, "unset keys keep defaults")
}

func TestLoadFileRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debounce: [1, 2"), 0o644))

	_, err := load(envLookup(map[string]string{"DOCKPULSE_CONFIG": path}))
	assert.Error(t, err)
}
