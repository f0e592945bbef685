package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openrdma/gorpma/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Device.Name != "mlx5_0" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "mlx5_0")
	}
	if cfg.Device.Port != 1 {
		t.Errorf("Device.Port = %d, want 1", cfg.Device.Port)
	}
	if cfg.Endpoint.Addr != "0.0.0.0" {
		t.Errorf("Endpoint.Addr = %q, want %q", cfg.Endpoint.Addr, "0.0.0.0")
	}
	if cfg.Endpoint.Service != "20049" {
		t.Errorf("Endpoint.Service = %q, want %q", cfg.Endpoint.Service, "20049")
	}
	if cfg.Admin.Addr != ":9400" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":9400")
	}
	if cfg.Admin.MetricsPath != "/metrics" {
		t.Errorf("Admin.MetricsPath = %q, want %q", cfg.Admin.MetricsPath, "/metrics")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Limits.MaxPrivateData != 255 {
		t.Errorf("Limits.MaxPrivateData = %d, want 255", cfg.Limits.MaxPrivateData)
	}
	if cfg.Limits.ConnectTimeout != 10*time.Second {
		t.Errorf("Limits.ConnectTimeout = %v, want %v", cfg.Limits.ConnectTimeout, 10*time.Second)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
device:
  name: mlx5_1
  port: 2
endpoint:
  addr: "192.0.2.1"
  service: "30049"
admin:
  addr: ":9401"
  metrics_path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
limits:
  max_private_data: 64
  connect_timeout: 5s
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Device.Name != "mlx5_1" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "mlx5_1")
	}
	if cfg.Device.Port != 2 {
		t.Errorf("Device.Port = %d, want 2", cfg.Device.Port)
	}
	if cfg.Endpoint.Addr != "192.0.2.1" {
		t.Errorf("Endpoint.Addr = %q, want %q", cfg.Endpoint.Addr, "192.0.2.1")
	}
	if cfg.Endpoint.Service != "30049" {
		t.Errorf("Endpoint.Service = %q, want %q", cfg.Endpoint.Service, "30049")
	}
	if cfg.Admin.Addr != ":9401" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":9401")
	}
	if cfg.Admin.MetricsPath != "/custom-metrics" {
		t.Errorf("Admin.MetricsPath = %q, want %q", cfg.Admin.MetricsPath, "/custom-metrics")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.Limits.MaxPrivateData != 64 {
		t.Errorf("Limits.MaxPrivateData = %d, want 64", cfg.Limits.MaxPrivateData)
	}
	if cfg.Limits.ConnectTimeout != 5*time.Second {
		t.Errorf("Limits.ConnectTimeout = %v, want %v", cfg.Limits.ConnectTimeout, 5*time.Second)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override endpoint.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
endpoint:
  addr: "198.51.100.1"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Endpoint.Addr != "198.51.100.1" {
		t.Errorf("Endpoint.Addr = %q, want %q", cfg.Endpoint.Addr, "198.51.100.1")
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Device.Name != "mlx5_0" {
		t.Errorf("Device.Name = %q, want default %q", cfg.Device.Name, "mlx5_0")
	}
	if cfg.Admin.Addr != ":9400" {
		t.Errorf("Admin.Addr = %q, want default %q", cfg.Admin.Addr, ":9400")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
	if cfg.Limits.MaxPrivateData != 255 {
		t.Errorf("Limits.MaxPrivateData = %d, want default 255", cfg.Limits.MaxPrivateData)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty device name",
			modify: func(cfg *config.Config) {
				cfg.Device.Name = ""
			},
			wantErr: config.ErrEmptyDeviceName,
		},
		{
			name: "zero device port",
			modify: func(cfg *config.Config) {
				cfg.Device.Port = 0
			},
			wantErr: config.ErrInvalidDevicePort,
		},
		{
			name: "empty endpoint addr",
			modify: func(cfg *config.Config) {
				cfg.Endpoint.Addr = ""
			},
			wantErr: config.ErrEmptyEndpointAddr,
		},
		{
			name: "empty endpoint service",
			modify: func(cfg *config.Config) {
				cfg.Endpoint.Service = ""
			},
			wantErr: config.ErrEmptyEndpointService,
		},
		{
			name: "empty admin addr",
			modify: func(cfg *config.Config) {
				cfg.Admin.Addr = ""
			},
			wantErr: config.ErrEmptyAdminAddr,
		},
		{
			name: "zero max private data",
			modify: func(cfg *config.Config) {
				cfg.Limits.MaxPrivateData = 0
			},
			wantErr: config.ErrInvalidMaxPrivateData,
		},
		{
			name: "max private data above wire limit",
			modify: func(cfg *config.Config) {
				cfg.Limits.MaxPrivateData = 256
			},
			wantErr: config.ErrInvalidMaxPrivateData,
		},
		{
			name: "zero connect timeout",
			modify: func(cfg *config.Config) {
				cfg.Limits.ConnectTimeout = 0
			},
			wantErr: config.ErrInvalidConnectTimeout,
		},
		{
			name: "negative connect timeout",
			modify: func(cfg *config.Config) {
				cfg.Limits.ConnectTimeout = -1 * time.Second
			},
			wantErr: config.ErrInvalidConnectTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
endpoint:
  addr: "0.0.0.0"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("RPMA_ENDPOINT_ADDR", "203.0.113.5")
	t.Setenv("RPMA_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Endpoint.Addr != "203.0.113.5" {
		t.Errorf("Endpoint.Addr = %q, want %q (from env)", cfg.Endpoint.Addr, "203.0.113.5")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesAdmin(t *testing.T) {
	yamlContent := `
admin:
  addr: ":9400"
  metrics_path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("RPMA_ADMIN_ADDR", ":9500")
	t.Setenv("RPMA_ADMIN_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":9500" {
		t.Errorf("Admin.Addr = %q, want %q (from env)", cfg.Admin.Addr, ":9500")
	}
	if cfg.Admin.MetricsPath != "/custom" {
		t.Errorf("Admin.MetricsPath = %q, want %q (from env)", cfg.Admin.MetricsPath, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "rpmad.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
