// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chrisgavin/trailbot/internal/camera"
	"github.com/chrisgavin/trailbot/internal/crawl"
)

// Config holds all application configuration.
type Config struct {
	// Destination is the directory downloaded media lands in.
	Destination   string `mapstructure:"destination"`
	LedgerPath    string `mapstructure:"ledger_path"`
	RegistryPath  string `mapstructure:"registry_path"`
	PairStorePath string `mapstructure:"pair_store_path"`

	Bluetooth BluetoothConfig `mapstructure:"bluetooth"`
	WiFi      WiFiConfig      `mapstructure:"wifi"`
	Camera    CameraConfig    `mapstructure:"camera"`
	Sync      SyncConfig      `mapstructure:"sync"`

	LogLevel string `mapstructure:"log_level"`
}

// BluetoothConfig holds BLE session settings.
type BluetoothConfig struct {
	// Interface is the Bluetooth controller to use, e.g. "hci1". Empty
	// selects the system default.
	Interface       string        `mapstructure:"interface"`
	ScanTimeout     time.Duration `mapstructure:"scan_timeout"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	// HotspotTimeout bounds the wait for the camera to report its hotspot
	// credentials after the wake command.
	HotspotTimeout time.Duration `mapstructure:"hotspot_timeout"`
}

// WiFiConfig holds hotspot join settings.
type WiFiConfig struct {
	// Interface is the wireless device NetworkManager should use.
	Interface string `mapstructure:"interface"`
	// Passphrase is the fleet-wide hotspot passphrase; per-camera records
	// may override it.
	Passphrase  string        `mapstructure:"passphrase"`
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
}

// CameraConfig holds the HTTP-side camera settings.
type CameraConfig struct {
	BaseURL   string   `mapstructure:"base_url"`
	FileTypes []string `mapstructure:"file_types"`
	// Clean deletes files from the camera once they are safely ledgered.
	Clean bool `mapstructure:"clean"`
	// SetClock pushes the host time to the camera on every sync.
	SetClock bool `mapstructure:"set_clock"`
}

// SyncConfig holds whole-run orchestration settings.
type SyncConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	CameraTimeout time.Duration `mapstructure:"camera_timeout"`
	// DownloadRetries is the number of extra attempts after a failed
	// transfer. 0 disables retries.
	DownloadRetries int `mapstructure:"download_retries"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "trailbot")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "trailbot")

	return &Config{
		Destination:   filepath.Join(home, "Pictures", "trailbot"),
		LedgerPath:    filepath.Join(dataDir, "ledger.db"),
		RegistryPath:  filepath.Join(dataDir, "cameras.yaml"),
		PairStorePath: filepath.Join(dataDir, "paired.yaml"),
		Bluetooth: BluetoothConfig{
			ScanTimeout:     30 * time.Second,
			ConnectAttempts: 5,
			ConnectTimeout:  10 * time.Second,
			HotspotTimeout:  45 * time.Second,
		},
		WiFi: WiFiConfig{
			Interface:   "wlan0",
			Passphrase:  "12345678",
			JoinTimeout: 60 * time.Second,
		},
		Camera: CameraConfig{
			BaseURL:   crawl.DefaultBaseURL,
			FileTypes: []string{string(camera.FileTypePhoto), string(camera.FileTypeVideo)},
		},
		Sync: SyncConfig{
			Concurrency:     1,
			CameraTimeout:   10 * time.Minute,
			DownloadRetries: 3,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file on top of the defaults. A missing file is
// not an error; the defaults then apply unchanged. Tilde (~) in path
// settings expands to the user's home directory.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Destination = expandTilde(cfg.Destination)
	cfg.LedgerPath = expandTilde(cfg.LedgerPath)
	cfg.RegistryPath = expandTilde(cfg.RegistryPath)
	cfg.PairStorePath = expandTilde(cfg.PairStorePath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Destination == "" {
		return fmt.Errorf("destination must not be empty")
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger_path must not be empty")
	}
	if c.RegistryPath == "" {
		return fmt.Errorf("registry_path must not be empty")
	}

	if c.Bluetooth.ScanTimeout <= 0 {
		return fmt.Errorf("bluetooth.scan_timeout must be > 0")
	}
	if c.Bluetooth.ConnectAttempts <= 0 {
		return fmt.Errorf("bluetooth.connect_attempts must be > 0")
	}
	if c.Bluetooth.ConnectTimeout <= 0 {
		return fmt.Errorf("bluetooth.connect_timeout must be > 0")
	}
	if c.Bluetooth.HotspotTimeout <= 0 {
		return fmt.Errorf("bluetooth.hotspot_timeout must be > 0")
	}

	if c.WiFi.Interface == "" {
		return fmt.Errorf("wifi.interface must not be empty")
	}
	if c.WiFi.JoinTimeout <= 0 {
		return fmt.Errorf("wifi.join_timeout must be > 0")
	}

	if c.Camera.BaseURL == "" {
		return fmt.Errorf("camera.base_url must not be empty")
	}
	if len(c.Camera.FileTypes) == 0 {
		return fmt.Errorf("camera.file_types must not be empty")
	}
	for _, ft := range c.Camera.FileTypes {
		if _, err := camera.ParseFileType(ft); err != nil {
			return fmt.Errorf("camera.file_types: %w", err)
		}
	}

	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be > 0")
	}
	if c.Sync.CameraTimeout <= 0 {
		return fmt.Errorf("sync.camera_timeout must be > 0")
	}
	if c.Sync.DownloadRetries < 0 {
		return fmt.Errorf("sync.download_retries must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// Types returns the configured file types as their typed form.
// Validate must have passed.
func (c *CameraConfig) Types() []camera.FileType {
	types := make([]camera.FileType, 0, len(c.FileTypes))
	for _, ft := range c.FileTypes {
		types = append(types, camera.FileType(ft))
	}
	return types
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
