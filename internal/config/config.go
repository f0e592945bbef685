// Package config manages the rpma daemon and CLI configuration using
// koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete rpma daemon configuration.
type Config struct {
	Device   DeviceConfig   `koanf:"device"`
	Endpoint EndpointConfig `koanf:"endpoint"`
	Admin    AdminConfig    `koanf:"admin"`
	Log      LogConfig      `koanf:"log"`
	Limits   LimitsConfig   `koanf:"limits"`
}

// DeviceConfig names the local RDMA device/port a Peer is allocated against.
type DeviceConfig struct {
	// Name is the local RDMA device name, as reported by the device
	// directory (e.g. "mlx5_0").
	Name string `koanf:"name"`
	// Port is the 1-based device port number.
	Port int `koanf:"port"`
}

// EndpointConfig holds the listening Endpoint's bind address.
type EndpointConfig struct {
	// Addr is the address to bind the connection-manager listener to.
	Addr string `koanf:"addr"`
	// Service names the port/service the Endpoint listens on.
	Service string `koanf:"service"`
}

// AdminConfig holds the admin HTTP server configuration (health, metrics,
// introspection).
type AdminConfig struct {
	// Addr is the HTTP listen address for the admin server (e.g., ":9400").
	Addr string `koanf:"addr"`
	// MetricsPath is the URL path for the Prometheus exposition endpoint.
	MetricsPath string `koanf:"metrics_path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// LimitsConfig holds the library-level limits the daemon enforces.
type LimitsConfig struct {
	// MaxPrivateData is the configured private-data size limit. Validate
	// requires it to lie in 1..255 (255 is the wire format's limit); the
	// daemon does not apply it to connect/accept private data.
	MaxPrivateData int `koanf:"max_private_data"`
	// ConnectTimeout bounds how long a ConnRequest.Connect attempt may take.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name: "mlx5_0",
			Port: 1,
		},
		Endpoint: EndpointConfig{
			Addr:    "0.0.0.0",
			Service: "20049",
		},
		Admin: AdminConfig{
			Addr:        ":9400",
			MetricsPath: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Limits: LimitsConfig{
			MaxPrivateData: 255,
			ConnectTimeout: 10 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for rpma configuration.
// Variables are named RPMA_<section>_<key>, e.g., RPMA_ENDPOINT_ADDR.
const envPrefix = "RPMA_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (RPMA_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	RPMA_DEVICE_NAME        -> device.name
//	RPMA_DEVICE_PORT        -> device.port
//	RPMA_ENDPOINT_ADDR      -> endpoint.addr
//	RPMA_ENDPOINT_SERVICE   -> endpoint.service
//	RPMA_ADMIN_ADDR         -> admin.addr
//	RPMA_ADMIN_METRICS_PATH -> admin.metrics_path
//	RPMA_LOG_LEVEL          -> log.level
//	RPMA_LOG_FORMAT         -> log.format
//	RPMA_LIMITS_MAX_PRIVATE_DATA -> limits.max_private_data
//	RPMA_LIMITS_CONNECT_TIMEOUT  -> limits.connect_timeout
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms RPMA_ENDPOINT_ADDR -> endpoint.addr.
// Strips the RPMA_ prefix, lowercases, and replaces the first _ (the
// section separator) with ., so RPMA_ADMIN_METRICS_PATH maps to
// admin.metrics_path.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"device.name":             defaults.Device.Name,
		"device.port":             defaults.Device.Port,
		"endpoint.addr":           defaults.Endpoint.Addr,
		"endpoint.service":        defaults.Endpoint.Service,
		"admin.addr":              defaults.Admin.Addr,
		"admin.metrics_path":      defaults.Admin.MetricsPath,
		"log.level":               defaults.Log.Level,
		"log.format":              defaults.Log.Format,
		"limits.max_private_data": defaults.Limits.MaxPrivateData,
		"limits.connect_timeout":  defaults.Limits.ConnectTimeout.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyDeviceName indicates the local device name is empty.
	ErrEmptyDeviceName = errors.New("device.name must not be empty")

	// ErrInvalidDevicePort indicates the device port is not positive.
	ErrInvalidDevicePort = errors.New("device.port must be >= 1")

	// ErrEmptyEndpointAddr indicates the endpoint listen address is empty.
	ErrEmptyEndpointAddr = errors.New("endpoint.addr must not be empty")

	// ErrEmptyEndpointService indicates the endpoint service/port is empty.
	ErrEmptyEndpointService = errors.New("endpoint.service must not be empty")

	// ErrEmptyAdminAddr indicates the admin server listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrInvalidMaxPrivateData indicates the private-data limit is outside
	// 1..255 (255 is the wire-format cap).
	ErrInvalidMaxPrivateData = errors.New("limits.max_private_data must be between 1 and 255")

	// ErrInvalidConnectTimeout indicates the connect timeout is not positive.
	ErrInvalidConnectTimeout = errors.New("limits.connect_timeout must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Device.Name == "" {
		return ErrEmptyDeviceName
	}
	if cfg.Device.Port < 1 {
		return ErrInvalidDevicePort
	}
	if cfg.Endpoint.Addr == "" {
		return ErrEmptyEndpointAddr
	}
	if cfg.Endpoint.Service == "" {
		return ErrEmptyEndpointService
	}
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}
	if cfg.Limits.MaxPrivateData < 1 || cfg.Limits.MaxPrivateData > 255 {
		return ErrInvalidMaxPrivateData
	}
	if cfg.Limits.ConnectTimeout <= 0 {
		return ErrInvalidConnectTimeout
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
