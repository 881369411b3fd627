package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/burner"
	"github.com/MeKo-Tech/lectorium/internal/remote"
	"github.com/MeKo-Tech/lectorium/internal/session"
	"github.com/MeKo-Tech/lectorium/internal/store"
)

const memoryStore = ":memory:"

// DefaultDataDir returns the directory holding the store and saved
// documents, ~/.lectorium unless the home directory is unknown.
func DefaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".lectorium")
	}
	return ".lectorium"
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	dataDir := DefaultDataDir()
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Store: StoreConfig{
			Path:          filepath.Join(dataDir, "lectorium.db"),
			BusyTimeoutMS: 10_000,
			Synchronous:   "NORMAL",
		},
		Documents: DocumentsConfig{
			Dir: filepath.Join(dataDir, "documents"),
		},
		Remote: RemoteConfig{
			Vision:   ServiceConfig{TimeoutSec: int(remote.DefaultTimeout / time.Second)},
			Language: ServiceConfig{TimeoutSec: int(remote.DefaultTimeout / time.Second)},
		},
		Cloud: CloudConfig{
			SyncIntervalSec: 30,
			RequestTimeout:  15,
		},
		OCR: OCRConfig{
			Scale:   session.DefaultOCRScale,
			Workers: 2,
			AutoOCR: true,
		},
		Render: RenderConfig{
			CacheEntries: session.DefaultCacheEntries,
			PageGap:      16,
		},
		Burn: BurnConfig{
			TimeoutSec: int(burner.DefaultTimeout / time.Second),
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     100,
			TimeoutSec:      120,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 600,
				RequestsPerHour:   20_000,
			},
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store path must not be empty")
	}
	validSync := []string{"OFF", "NORMAL", "FULL", "EXTRA"}
	if !contains(validSync, strings.ToUpper(c.Store.Synchronous)) {
		return fmt.Errorf("invalid store synchronous mode: %s (must be one of: %s)", c.Store.Synchronous, strings.Join(validSync, ", "))
	}
	if c.Store.BusyTimeoutMS < 0 {
		return fmt.Errorf("invalid store busy timeout: %d (must not be negative)", c.Store.BusyTimeoutMS)
	}

	if c.OCR.Scale <= 0 || c.OCR.Scale > 8 {
		return fmt.Errorf("invalid ocr scale: %.2f (must be in (0, 8])", c.OCR.Scale)
	}
	if c.OCR.Workers <= 0 {
		return fmt.Errorf("invalid ocr workers: %d (must be positive)", c.OCR.Workers)
	}
	if c.Render.CacheEntries <= 0 {
		return fmt.Errorf("invalid render cache entries: %d (must be positive)", c.Render.CacheEntries)
	}
	if c.Render.PageGap < 0 {
		return fmt.Errorf("invalid page gap: %.2f (must not be negative)", c.Render.PageGap)
	}
	if c.Burn.TimeoutSec <= 0 {
		return fmt.Errorf("invalid burn timeout: %d (must be positive)", c.Burn.TimeoutSec)
	}

	if err := validateService("vision", c.Remote.Vision); err != nil {
		return err
	}
	if err := validateService("language", c.Remote.Language); err != nil {
		return err
	}
	if err := validateURL("cloud hub url", c.Cloud.HubURL, "ws://", "wss://"); err != nil {
		return err
	}
	if c.Cloud.SyncIntervalSec < 0 {
		return fmt.Errorf("invalid cloud sync interval: %d (must not be negative)", c.Cloud.SyncIntervalSec)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	rl := c.Server.RateLimit
	if rl.RequestsPerMinute < 0 || rl.RequestsPerHour < 0 || rl.MaxRequestsPerDay < 0 || rl.MaxDataPerDayMB < 0 {
		return fmt.Errorf("invalid rate limit: limits must not be negative")
	}

	return nil
}

// StoreOptions converts the store section to store options.
func (c *Config) StoreOptions() []store.Option {
	opts := []store.Option{
		store.WithBusyTimeout(c.Store.BusyTimeoutMS),
		store.WithSynchronous(strings.ToUpper(c.Store.Synchronous)),
	}
	if c.Store.Path != memoryStore {
		opts = append(opts, store.WithMkdirAll())
	}
	return opts
}

// OpenStore opens the configured SQLite store.
func (c *Config) OpenStore() (*store.SQLite, error) {
	return store.Open(c.Store.Path, c.StoreOptions()...)
}

// VisionConfig returns the vision client configuration, or false when no
// endpoint is configured.
func (c *Config) VisionConfig() (remote.Config, bool) {
	return c.Remote.Vision.toRemote()
}

// LanguageConfig returns the language client configuration, or false when no
// endpoint is configured.
func (c *Config) LanguageConfig() (remote.Config, bool) {
	return c.Remote.Language.toRemote()
}

func (s ServiceConfig) toRemote() (remote.Config, bool) {
	if s.Endpoint == "" {
		return remote.Config{}, false
	}
	return remote.Config{
		Endpoint: s.Endpoint,
		APIKey:   s.APIKey,
		Timeout:  seconds(s.TimeoutSec),
	}, true
}

// SessionOptions converts the scalar settings to session options. Store,
// services and rasterizer are wired by the caller.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		OCRScale:     c.OCR.Scale,
		OCRWorkers:   c.OCR.Workers,
		ColumnMode:   c.OCR.ColumnMode,
		AutoOCR:      c.OCR.AutoOCR,
		PageGap:      c.Render.PageGap,
		SyncInterval: seconds(c.Cloud.SyncIntervalSec),
	}
}

// BurnTimeout returns the burn worker timeout.
func (c *Config) BurnTimeout() time.Duration {
	return seconds(c.Burn.TimeoutSec)
}

// Helper functions

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	return slices.Contains(slice, item)
}

func validateService(name string, s ServiceConfig) error {
	if err := validateURL(name+" endpoint", s.Endpoint, "http://", "https://"); err != nil {
		return err
	}
	if s.TimeoutSec < 0 {
		return fmt.Errorf("invalid %s timeout: %d (must not be negative)", name, s.TimeoutSec)
	}
	return nil
}

// validateURL accepts an empty value or one with an allowed scheme.
func validateURL(name, value string, schemes ...string) error {
	if value == "" {
		return nil
	}
	for _, s := range schemes {
		if strings.HasPrefix(value, s) && len(value) > len(s) {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %s (must start with one of: %s)", name, value, strings.Join(schemes, ", "))
}
