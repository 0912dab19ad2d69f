package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TelemetryExporter selects where log records are exported besides stderr.
type TelemetryExporter string

const (
	TelemetryExporterNone     TelemetryExporter = "none"
	TelemetryExporterStdout   TelemetryExporter = "stdout"
	TelemetryExporterOTLPHTTP TelemetryExporter = "otlp-http"
	TelemetryExporterOTLPGRPC TelemetryExporter = "otlp-grpc"
)

// StorageBackend represents the different storage types supported for cached tokens.
type StorageBackend string

const (
	// StorageBackendAuto prefers the OS keyring and falls back to the JSON file.
	StorageBackendAuto    StorageBackend = "auto"
	StorageBackendFile    StorageBackend = "file"
	StorageBackendKeyring StorageBackend = "keyring"
	StorageBackendEnv     StorageBackend = "env"
)

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigTelemetryExporter = TelemetryExporterNone
	DefaultConfigStorageBackend    = StorageBackendFile
	DefaultConfigKeyringService    = "credcache"
	DefaultConfigEnvPrefix         = "CREDCACHE_TOKEN_"
)

// TelemetryConfig holds log export configuration.
// OTLP endpoints and headers are read from the standard OTEL_EXPORTER_OTLP_* variables.
type TelemetryConfig struct {
	Exporter TelemetryExporter `json:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
}

// CacheConfig holds the credential cache file configuration.
type CacheConfig struct {
	// Dir overrides the directory holding the cache file. Ignored unless it is an
	// existing directory; the home directory is used otherwise.
	Dir string `json:"dir,omitempty"`
}

// StorageConfig selects the token storage backend.
type StorageConfig struct {
	Backend StorageBackend `json:"backend" validate:"required,oneof=auto file keyring env"`

	KeyringService string `json:"keyring_service,omitempty"` // For keyring storage: service identifier
	EnvPrefix      string `json:"env_prefix,omitempty"`      // For env storage: variable name prefix
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Cache     CacheConfig     `json:"cache"`
	Storage   StorageConfig   `json:"storage"`
}

// Default creates a new Config with default values applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultConfigStorageBackend
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Backend {
	case StorageBackendKeyring, StorageBackendAuto:
		if c.Storage.KeyringService == "" {
			c.Storage.KeyringService = DefaultConfigKeyringService
		}
	case StorageBackendEnv:
		if c.Storage.EnvPrefix == "" {
			c.Storage.EnvPrefix = DefaultConfigEnvPrefix
		}
	case StorageBackendFile:
		// cache.dir is optional, the home directory is the default location
	}
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case StorageBackendKeyring, StorageBackendAuto:
		if c.Storage.KeyringService == "" {
			return errors.New("keyring_service required for keyring storage")
		}
	case StorageBackendEnv:
		if c.Storage.EnvPrefix == "" {
			return errors.New("env_prefix required for env storage")
		}
	}

	if c.LogLevel < slog.LevelDebug || c.LogLevel > slog.LevelError {
		return fmt.Errorf("unsupported log level: %s", c.LogLevel)
	}

	return nil
}
