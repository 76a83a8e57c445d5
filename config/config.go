package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"chart-replay/internal/model"
)

// Config holds all application configuration: defaults, overridden by a
// YAML file, overridden by CHART_* environment variables.
type Config struct {
	Service  string `yaml:"service"`
	LogLevel string `yaml:"log_level"`

	Storage StorageConfig `yaml:"storage"`
	Data    DataConfig    `yaml:"data"`
	Replay  ReplayConfig  `yaml:"replay"`
	Redis   RedisConfig   `yaml:"redis"`
	Gateway GatewayConfig `yaml:"gateway"`
	Metrics MetricsConfig `yaml:"metrics"`
	Janitor JanitorConfig `yaml:"janitor"`
}

// StorageConfig selects and tunes the bar cache backend.
type StorageConfig struct {
	Driver        string `yaml:"driver"` // sqlite | postgres
	SQLitePath    string `yaml:"sqlite_path"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ChunkRows     int    `yaml:"chunk_rows"`
	RetentionDays int    `yaml:"retention_days"`
}

// DataConfig covers the file source and fetch defaults.
type DataConfig struct {
	BaseTF       string `yaml:"base_tf"`
	ChunkBytes   int64  `yaml:"chunk_bytes"`
	DefaultLimit int    `yaml:"default_limit"`
	SourceDir    string `yaml:"source_dir"`
}

// ReplayConfig tunes the frame clock and pipeline buffers.
type ReplayConfig struct {
	FrameIntervalMs int     `yaml:"frame_interval_ms"`
	DefaultSpeed    float64 `yaml:"default_speed"`
	RingSize        int     `yaml:"ring_size"`
	BusBuffer       int     `yaml:"bus_buffer"`
}

// RedisConfig configures the optional frame publisher.
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	StreamMaxLen int64  `yaml:"stream_max_len"`
	LatestTTLSec int    `yaml:"latest_ttl_sec"`
}

// LatestTTL returns the TTL for chart:latest:* keys.
func (c RedisConfig) LatestTTL() time.Duration {
	return time.Duration(c.LatestTTLSec) * time.Second
}

// GatewayConfig configures the WebSocket/REST listener.
type GatewayConfig struct {
	Addr        string `yaml:"addr"`
	SendBuffer  int    `yaml:"send_buffer"`
	BacklogSize int    `yaml:"backlog_size"`
	CORSOrigin  string `yaml:"cors_origin"`
}

// MetricsConfig configures the Prometheus/health listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// JanitorConfig configures the retention cron job.
type JanitorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service:  "chart-replay",
		LogLevel: "info",
		Storage: StorageConfig{
			Driver:        "sqlite",
			SQLitePath:    "data/bars.db",
			ChunkRows:     1000,
			RetentionDays: 0, // keep forever
		},
		Data: DataConfig{
			BaseTF:       "1m",
			ChunkBytes:   1 << 20,
			DefaultLimit: 1500,
			SourceDir:    "data",
		},
		Replay: ReplayConfig{
			FrameIntervalMs: 50,
			DefaultSpeed:    1.0,
			RingSize:        4096,
			BusBuffer:       1024,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			StreamMaxLen: 12000,
			LatestTTLSec: 1800,
		},
		Gateway: GatewayConfig{
			Addr:        ":8080",
			SendBuffer:  256,
			BacklogSize: 500,
			CORSOrigin:  "*",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Janitor: JanitorConfig{
			Enabled:  false,
			Schedule: "0 3 * * *",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty), then CHART_* environment overrides.
// The result is validated; an invalid config fails startup.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays CHART_* environment variables onto the config.
func (c *Config) applyEnv() {
	setStr(&c.Service, "CHART_SERVICE")
	setStr(&c.LogLevel, "CHART_LOG_LEVEL")

	setStr(&c.Storage.Driver, "CHART_STORAGE_DRIVER")
	setStr(&c.Storage.SQLitePath, "CHART_SQLITE_PATH")
	setStr(&c.Storage.PostgresDSN, "CHART_POSTGRES_DSN")
	setInt(&c.Storage.ChunkRows, "CHART_CHUNK_ROWS")
	setInt(&c.Storage.RetentionDays, "CHART_RETENTION_DAYS")

	setStr(&c.Data.BaseTF, "CHART_BASE_TF")
	setInt64(&c.Data.ChunkBytes, "CHART_CHUNK_BYTES")
	setInt(&c.Data.DefaultLimit, "CHART_DEFAULT_LIMIT")
	setStr(&c.Data.SourceDir, "CHART_SOURCE_DIR")

	setInt(&c.Replay.FrameIntervalMs, "CHART_FRAME_INTERVAL_MS")
	setFloat(&c.Replay.DefaultSpeed, "CHART_DEFAULT_SPEED")

	setBool(&c.Redis.Enabled, "CHART_REDIS_ENABLED")
	setStr(&c.Redis.Addr, "CHART_REDIS_ADDR")
	setStr(&c.Redis.Password, "CHART_REDIS_PASSWORD")
	setInt(&c.Redis.DB, "CHART_REDIS_DB")

	setStr(&c.Gateway.Addr, "CHART_GATEWAY_ADDR")
	setStr(&c.Gateway.CORSOrigin, "CHART_CORS_ORIGIN")
	setStr(&c.Metrics.Addr, "CHART_METRICS_ADDR")

	setBool(&c.Janitor.Enabled, "CHART_JANITOR_ENABLED")
	setStr(&c.Janitor.Schedule, "CHART_JANITOR_SCHEDULE")
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("service name cannot be empty")
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path required for sqlite driver")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q (want sqlite or postgres)", c.Storage.Driver)
	}
	if c.Storage.ChunkRows <= 0 {
		return fmt.Errorf("storage.chunk_rows must be positive, got %d", c.Storage.ChunkRows)
	}

	if _, err := model.ParseTimeframe(c.Data.BaseTF); err != nil {
		return fmt.Errorf("data.base_tf: %w", err)
	}
	if c.Data.ChunkBytes <= 0 {
		return fmt.Errorf("data.chunk_bytes must be positive, got %d", c.Data.ChunkBytes)
	}
	if c.Data.DefaultLimit <= 0 {
		return fmt.Errorf("data.default_limit must be positive, got %d", c.Data.DefaultLimit)
	}

	if c.Replay.FrameIntervalMs <= 0 {
		return fmt.Errorf("replay.frame_interval_ms must be positive, got %d", c.Replay.FrameIntervalMs)
	}
	if c.Replay.DefaultSpeed <= 0 {
		return fmt.Errorf("replay.default_speed must be positive, got %g", c.Replay.DefaultSpeed)
	}
	if c.Replay.RingSize <= 0 || c.Replay.BusBuffer <= 0 {
		return fmt.Errorf("replay buffer sizes must be positive")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr required when redis is enabled")
	}

	if c.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr cannot be empty")
	}
	if c.Janitor.Enabled && c.Janitor.Schedule == "" {
		return fmt.Errorf("janitor.schedule required when janitor is enabled")
	}
	return nil
}

// BaseTimeframe returns the validated base timeframe.
func (c *Config) BaseTimeframe() model.Timeframe {
	tf, _ := model.ParseTimeframe(c.Data.BaseTF)
	return tf
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
