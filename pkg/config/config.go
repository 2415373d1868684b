package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
	DefaultDataDir      = "./data/dockpulse"
	DefaultBucketDir    = "./data/public"
)

// Stream defaults
const (
	DefaultMQTTBroker     = "tcp://localhost:1883"
	DefaultMQTTTopic      = "/OVfiets/#"
	DefaultMQTTClientID   = "dockpulse"
	DefaultReconnectDelay = 5 * time.Minute
)

// Aggregation and flush defaults
const (
	DefaultDebounce          = 1 * time.Second
	DefaultSnapshotRetention = 14 * 24 * time.Hour
	DefaultHourlyMarkerTTL   = 8 * 24 * time.Hour
	DefaultMonthlyRetention  = 24 // months
	DefaultObjectName        = "locations.json"
	FlushTimeout             = 30 * time.Second
	StartupLoadTimeout       = 1 * time.Minute
)

// Background task intervals
const (
	RetentionInterval = 24 * time.Hour
	BadgerGCInterval  = 10 * time.Minute
)

// HTTP timeouts
const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 10 * time.Second
	ShutdownTimeout    = 30 * time.Second
	StatsTimeout       = 5 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
