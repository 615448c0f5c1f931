package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Destination == "" {
		t.Error("Destination should not be empty")
	}
	if cfg.WiFi.Passphrase != "12345678" {
		t.Errorf("WiFi.Passphrase = %q, want %q", cfg.WiFi.Passphrase, "12345678")
	}
	if cfg.Camera.BaseURL != "http://192.168.8.120" {
		t.Errorf("Camera.BaseURL = %q, want %q", cfg.Camera.BaseURL, "http://192.168.8.120")
	}
	if len(cfg.Camera.FileTypes) != 2 {
		t.Errorf("Camera.FileTypes length = %d, want 2", len(cfg.Camera.FileTypes))
	}
	if cfg.Sync.Concurrency != 1 {
		t.Errorf("Sync.Concurrency = %d, want 1", cfg.Sync.Concurrency)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
destination: /srv/trailcam
ledger_path: /srv/trailcam/ledger.db
bluetooth:
  interface: hci1
  connect_attempts: 8
  hotspot_timeout: 90s
wifi:
  interface: wlp3s0
  passphrase: secret99
camera:
  file_types: ["video"]
  clean: true
sync:
  concurrency: 2
  camera_timeout: 5m
log_level: debug
`
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Destination != "/srv/trailcam" {
		t.Errorf("Destination = %q, want %q", cfg.Destination, "/srv/trailcam")
	}
	if cfg.Bluetooth.Interface != "hci1" {
		t.Errorf("Bluetooth.Interface = %q, want %q", cfg.Bluetooth.Interface, "hci1")
	}
	if cfg.Bluetooth.ConnectAttempts != 8 {
		t.Errorf("Bluetooth.ConnectAttempts = %d, want 8", cfg.Bluetooth.ConnectAttempts)
	}
	if cfg.Bluetooth.HotspotTimeout != 90*time.Second {
		t.Errorf("Bluetooth.HotspotTimeout = %v, want 90s", cfg.Bluetooth.HotspotTimeout)
	}
	if cfg.WiFi.Interface != "wlp3s0" {
		t.Errorf("WiFi.Interface = %q, want %q", cfg.WiFi.Interface, "wlp3s0")
	}
	if cfg.WiFi.Passphrase != "secret99" {
		t.Errorf("WiFi.Passphrase = %q, want %q", cfg.WiFi.Passphrase, "secret99")
	}
	if len(cfg.Camera.FileTypes) != 1 || cfg.Camera.FileTypes[0] != "video" {
		t.Errorf("Camera.FileTypes = %v, want [video]", cfg.Camera.FileTypes)
	}
	if !cfg.Camera.Clean {
		t.Error("Camera.Clean should be true")
	}
	if cfg.Sync.CameraTimeout != 5*time.Minute {
		t.Errorf("Sync.CameraTimeout = %v, want 5m", cfg.Sync.CameraTimeout)
	}

	// Unspecified fields keep their defaults.
	if cfg.Bluetooth.ConnectTimeout != 10*time.Second {
		t.Errorf("Bluetooth.ConnectTimeout = %v, want default 10s", cfg.Bluetooth.ConnectTimeout)
	}
	if cfg.Sync.DownloadRetries != 3 {
		t.Errorf("Sync.DownloadRetries = %d, want default 3", cfg.Sync.DownloadRetries)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such.yaml"))
	if err != nil {
		t.Fatalf("Load() on a missing file should fall back to defaults, got %v", err)
	}
	if cfg.WiFi.Passphrase != "12345678" {
		t.Errorf("WiFi.Passphrase = %q, want default", cfg.WiFi.Passphrase)
	}
}

func TestLoadMalformed(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("destination: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty destination", func(c *Config) { c.Destination = "" }, "destination"},
		{"zero attempts", func(c *Config) { c.Bluetooth.ConnectAttempts = 0 }, "connect_attempts"},
		{"zero hotspot timeout", func(c *Config) { c.Bluetooth.HotspotTimeout = 0 }, "hotspot_timeout"},
		{"empty wifi interface", func(c *Config) { c.WiFi.Interface = "" }, "wifi.interface"},
		{"bad file type", func(c *Config) { c.Camera.FileTypes = []string{"audio"} }, "file type"},
		{"no file types", func(c *Config) { c.Camera.FileTypes = nil }, "file_types"},
		{"zero concurrency", func(c *Config) { c.Sync.Concurrency = 0 }, "concurrency"},
		{"negative retries", func(c *Config) { c.Sync.DownloadRetries = -1 }, "download_retries"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestTypes(t *testing.T) {
	cfg := Default()
	types := cfg.Camera.Types()
	if len(types) != 2 {
		t.Fatalf("Types() length = %d, want 2", len(types))
	}
}
