// Package config loads process configuration from defaults, an optional
// YAML config file, environment variables, and runtime overrides.
//
// Precedence, lowest to highest: defaults, config file, environment
// (NIMBUSFS_* variables), runtime overrides passed to Load.
package config

import "time"

// Config is the root configuration for the nimbusfs CLI and server.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	S3      S3Config      `mapstructure:"s3"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures logger construction.
type LoggingConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Profile selects the encoder: console or structured.
	Profile string `mapstructure:"profile"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// HealthConfig configures the health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// S3Config carries connection settings for the storage backend.
type S3Config struct {
	Region            string        `mapstructure:"region"`
	Endpoint          string        `mapstructure:"endpoint"`
	Scheme            string        `mapstructure:"scheme"`
	PathStyle         bool          `mapstructure:"path_style"`
	Anonymous         bool          `mapstructure:"anonymous"`
	AccessKey         string        `mapstructure:"access_key"`
	SecretKey         string        `mapstructure:"secret_key"`
	SessionToken      string        `mapstructure:"session_token"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	MaxConnections    int           `mapstructure:"max_connections"`
	BackgroundWrites  bool          `mapstructure:"background_writes"`
	AllowDelayedOpen  bool          `mapstructure:"allow_delayed_open"`
	AllowBucketCreate bool          `mapstructure:"allow_bucket_creation"`
	AllowBucketDelete bool          `mapstructure:"allow_bucket_deletion"`
	CheckDirExistence bool          `mapstructure:"check_directory_existence_before_creation"`
	SSECustomerKey    string        `mapstructure:"sse_customer_key"`
	ListRateLimit     float64       `mapstructure:"list_rate_limit"`
}
