//nolint:lll
package config

// Config is the complete configuration of the lectorium engine. It covers
// every command (serve, burn, ocr, hash) and is loaded from configuration
// files, environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Local persistent store (annotations, OCR cache, hashes)
	Store StoreConfig `mapstructure:"store" yaml:"store" json:"store"`

	// Document binaries and page images
	Documents DocumentsConfig `mapstructure:"documents" yaml:"documents" json:"documents"`

	// Remote vision and language services
	Remote RemoteConfig `mapstructure:"remote" yaml:"remote" json:"remote"`

	// Cloud annotation hub
	Cloud CloudConfig `mapstructure:"cloud" yaml:"cloud" json:"cloud"`

	// OCR scheduling
	OCR OCRConfig `mapstructure:"ocr" yaml:"ocr" json:"ocr"`

	// Page rendering and scroll layout
	Render RenderConfig `mapstructure:"render" yaml:"render" json:"render"`

	// Burn worker
	Burn BurnConfig `mapstructure:"burn" yaml:"burn" json:"burn"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the database file; ":memory:" keeps everything in memory.
	Path          string `mapstructure:"path" yaml:"path" json:"path"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms" yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
	Synchronous   string `mapstructure:"synchronous" yaml:"synchronous" json:"synchronous"`
}

// DocumentsConfig locates document binaries and their page images.
type DocumentsConfig struct {
	// Dir holds saved binaries named by file id.
	Dir string `mapstructure:"dir" yaml:"dir" json:"dir"`
	// PagesDir holds pre-rendered page images per file id. Documents without
	// them are rasterized from their embedded scans.
	PagesDir string `mapstructure:"pages_dir" yaml:"pages_dir" json:"pages_dir"`
}

// RemoteConfig contains both service endpoints.
type RemoteConfig struct {
	Vision   ServiceConfig `mapstructure:"vision" yaml:"vision" json:"vision"`
	Language ServiceConfig `mapstructure:"language" yaml:"language" json:"language"`
}

// ServiceConfig configures one remote service. An empty endpoint disables it.
type ServiceConfig struct {
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key" json:"-"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	// Language is a recognition hint, vision only.
	Language string `mapstructure:"language" yaml:"language" json:"language,omitempty"`
}

// CloudConfig configures annotation sync.
type CloudConfig struct {
	// HubURL is the websocket URL of a remote hub. Empty keeps annotations
	// local.
	HubURL string `mapstructure:"hub_url" yaml:"hub_url" json:"hub_url"`
	Token  string `mapstructure:"token" yaml:"token" json:"-"`
	// ServeHub exposes an in-process hub at /cloud/ws when serving.
	ServeHub        bool `mapstructure:"serve_hub" yaml:"serve_hub" json:"serve_hub"`
	SyncIntervalSec int  `mapstructure:"sync_interval_sec" yaml:"sync_interval_sec" json:"sync_interval_sec"`
	RequestTimeout  int  `mapstructure:"request_timeout_sec" yaml:"request_timeout_sec" json:"request_timeout_sec"`
}

// OCRConfig contains OCR scheduling settings.
type OCRConfig struct {
	Scale      float64 `mapstructure:"scale" yaml:"scale" json:"scale"`
	Workers    int     `mapstructure:"workers" yaml:"workers" json:"workers"`
	AutoOCR    bool    `mapstructure:"auto" yaml:"auto" json:"auto"`
	ColumnMode bool    `mapstructure:"column_mode" yaml:"column_mode" json:"column_mode"`
}

// RenderConfig contains render cache and layout settings.
type RenderConfig struct {
	CacheEntries int     `mapstructure:"cache_entries" yaml:"cache_entries" json:"cache_entries"`
	PageGap      float64 `mapstructure:"page_gap" yaml:"page_gap" json:"page_gap"`
}

// BurnConfig contains burn worker settings.
type BurnConfig struct {
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig limits requests per client address. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int64 `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}
