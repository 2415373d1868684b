package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration of the server.
type Config struct {
	AppEnv   string     `yaml:"app_env"`
	LogLevel slog.Level `yaml:"-"`
	Port     string     `yaml:"port"`

	// DataDir holds the BadgerDB files.
	DataDir string `yaml:"data_dir"`

	// BucketDir is the directory published objects are written to.
	BucketDir  string `yaml:"bucket_dir"`
	ObjectName string `yaml:"object_name"`

	MQTTBroker     string        `yaml:"mqtt_broker"`
	MQTTTopic      string        `yaml:"mqtt_topic"`
	MQTTClientID   string        `yaml:"mqtt_client_id"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// Debounce is the quiet period before pending aggregates are flushed.
	Debounce time.Duration `yaml:"debounce"`

	MaxMemoryMB  int64 `yaml:"max_memory_mb"`
	MaxStorageGB int64 `yaml:"max_storage_gb"`

	// MonthlyRetention is how many months of ranges are kept, 0 keeps all.
	MonthlyRetention int `yaml:"monthly_retention"`
}

// fileConfig mirrors Config for YAML decoding, with the log level as text.
type fileConfig struct {
	Config   `yaml:",inline"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		AppEnv:           "dev",
		LogLevel:         slog.LevelInfo,
		Port:             DefaultPort,
		DataDir:          DefaultDataDir,
		BucketDir:        DefaultBucketDir,
		ObjectName:       DefaultObjectName,
		MQTTBroker:       DefaultMQTTBroker,
		MQTTTopic:        DefaultMQTTTopic,
		MQTTClientID:     DefaultMQTTClientID,
		ReconnectDelay:   DefaultReconnectDelay,
		Debounce:         DefaultDebounce,
		MaxMemoryMB:      DefaultMaxMemoryMB,
		MaxStorageGB:     DefaultMaxStorageGB,
		MonthlyRetention: DefaultMonthlyRetention,
	}
}

// Load builds the configuration from defaults, the YAML file named by
// DOCKPULSE_CONFIG (if set) and environment variables, in that order.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path, ok := lookup("DOCKPULSE_CONFIG"); ok && strings.TrimSpace(path) != "" {
		if err := cfg.applyFile(strings.TrimSpace(path)); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	fc := fileConfig{Config: *c}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	level := c.LogLevel
	if fc.LogLevel != "" {
		level, err = parseLogLevel(fc.LogLevel)
		if err != nil {
			return err
		}
	}

	*c = fc.Config
	c.LogLevel = level
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("APP_ENV"); ok {
		c.AppEnv = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		level, err := parseLogLevel(v)
		if err != nil {
			return err
		}
		c.LogLevel = level
	}
	if v, ok := get("PORT"); ok {
		c.Port = v
	}
	if v, ok := get("DOCKPULSE_DATA_DIR"); ok {
		c.DataDir = v
	}
	if v, ok := get("DOCKPULSE_BUCKET_DIR"); ok {
		c.BucketDir = v
	}
	if v, ok := get("DOCKPULSE_OBJECT_NAME"); ok {
		c.ObjectName = v
	}
	if v, ok := get("DOCKPULSE_MQTT_BROKER"); ok {
		c.MQTTBroker = v
	}
	if v, ok := get("DOCKPULSE_MQTT_TOPIC"); ok {
		c.MQTTTopic = v
	}
	if v, ok := get("DOCKPULSE_MQTT_CLIENT_ID"); ok {
		c.MQTTClientID = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DOCKPULSE_RECONNECT_DELAY", &c.ReconnectDelay},
		{"DOCKPULSE_DEBOUNCE", &c.Debounce},
	}
	for _, d := range durations {
		if v, ok := get(d.key); ok {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
			}
			*d.dst = parsed
		}
	}

	ints := []struct {
		key string
		dst *int64
	}{
		{"DOCKPULSE_MAX_MEMORY_MB", &c.MaxMemoryMB},
		{"DOCKPULSE_MAX_STORAGE_GB", &c.MaxStorageGB},
	}
	for _, n := range ints {
		if v, ok := get(n.key); ok {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", n.key, v, err)
			}
			*n.dst = parsed
		}
	}

	if v, ok := get("DOCKPULSE_MONTHLY_RETENTION"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DOCKPULSE_MONTHLY_RETENTION %q: %w", v, err)
		}
		c.MonthlyRetention = parsed
	}
	return nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch c.AppEnv {
	case "dev", "prod":
	default:
		errs = append(errs, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", c.AppEnv))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port must not be empty"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data dir must not be empty"))
	}
	if c.BucketDir == "" {
		errs = append(errs, errors.New("bucket dir must not be empty"))
	}
	if c.ObjectName == "" || strings.ContainsAny(c.ObjectName, `/\`) {
		errs = append(errs, fmt.Errorf("invalid object name %q", c.ObjectName))
	}
	if c.MQTTBroker == "" {
		errs = append(errs, errors.New("mqtt broker must not be empty"))
	}
	if c.MQTTTopic == "" {
		errs = append(errs, errors.New("mqtt topic must not be empty"))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("reconnect delay must be positive, got %v", c.ReconnectDelay))
	}
	if c.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("debounce must be positive, got %v", c.Debounce))
	}
	if c.MaxMemoryMB < 0 {
		errs = append(errs, fmt.Errorf("max memory must not be negative, got %d", c.MaxMemoryMB))
	}
	if c.MaxStorageGB <= 0 {
		errs = append(errs, fmt.Errorf("max storage must be positive, got %d", c.MaxStorageGB))
	}
	if c.MonthlyRetention < 0 {
		errs = append(errs, fmt.Errorf("monthly retention must not be negative, got %d", c.MonthlyRetention))
	}
	return errors.Join(errs...)
}

// MaxStorageBytes returns the storage limit in bytes.
func (c Config) MaxStorageBytes() int64 {
	return c.MaxStorageGB * 1024 * 1024 * 1024
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
