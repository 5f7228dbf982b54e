package config

import (
	"time"
)

// Mode is the runtime mode of the service.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// Config represents the complete edge service configuration
type Config struct {
	Mode     Mode           `yaml:"mode"`
	Server   ServerConfig   `yaml:"server"`
	Geo      GeoConfig      `yaml:"geo"`
	Session  SessionConfig  `yaml:"session"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	SecurityHeaders SecurityHeadersConfig `yaml:"security_headers"`
	StaticCache     StaticCacheConfig     `yaml:"static_cache"`
	Compression     CompressionConfig     `yaml:"compression"`
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Mode == ModeDevelopment
}

// ServerConfig defines the HTTP listener settings
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GeoConfig defines the geo access gate settings.
type GeoConfig struct {
	Enabled           bool          `yaml:"enabled"`
	AllowCountries    []string      `yaml:"allow_countries"`     // ISO 3166-1 alpha-2
	DenyUnknown       bool          `yaml:"deny_unknown"`        // production only: deny when no country resolves
	BlockedPath       string        `yaml:"blocked_path"`        // redirect target on deny
	BypassPrefixes    []string      `yaml:"bypass_prefixes"`     // never geo-checked
	StaticPatterns    []string      `yaml:"static_patterns"`     // doublestar globs, skip gate and session
	PlatformHeader    string        `yaml:"platform_header"`     // hosting platform country header
	CDNHeader         string        `yaml:"cdn_header"`          // CDN country header
	DevDefaultCountry string        `yaml:"dev_default_country"` // assumed for local IPs in development
	LookupURL         string        `yaml:"lookup_url"`          // IP geolocation API base, empty disables
	LookupTimeout     time.Duration `yaml:"lookup_timeout"`
	Database          string        `yaml:"database"`        // optional path to .mmdb or .ipdb
	InjectHeaders     bool          `yaml:"inject_headers"`  // set X-Geo-Country on allowed requests
	TrustedProxies    []string      `yaml:"trusted_proxies"` // CIDRs; empty = first X-Forwarded-For entry
	UseRemoteAddr     bool          `yaml:"use_remote_addr"` // fall back to the socket peer address
	SupportContact    string        `yaml:"support_contact"` // shown on the blocked page
}

// SessionConfig defines the auth provider used for session continuation.
type SessionConfig struct {
	URL        string        `yaml:"url"`
	Key        string        `yaml:"key"`
	CookieName string        `yaml:"cookie_name"` // default sb-<project-ref>-auth-token
	Leeway     time.Duration `yaml:"leeway"`      // refresh this long before expiry
}

// UpstreamConfig defines the page renderer requests are forwarded to.
type UpstreamConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"` // per-request deadline, default 30s
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level    string            `yaml:"level"`
	Output   string            `yaml:"output"` // "stdout", "stderr" or a file path
	Rotation LogRotationConfig `yaml:"rotation"`
	Access   bool              `yaml:"access"` // one line per request
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files (default true)
	LocalTime  bool `yaml:"local_time"`  // use local time in backup filenames (default false)
}

// TracingConfig defines distributed tracing settings
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	ServiceName string            `yaml:"service_name"`
	SampleRate  float64           `yaml:"sample_rate"` // 0.0 to 1.0
	Insecure    bool              `yaml:"insecure"`    // use insecure gRPC connection
	Headers     map[string]string `yaml:"headers"`     // extra headers for OTLP exporter
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SecurityHeadersConfig defines security headers added to every response.
type SecurityHeadersConfig struct {
	Enabled                 bool              `yaml:"enabled"`
	StrictTransportSecurity string            `yaml:"strict_transport_security"`
	ContentSecurityPolicy   string            `yaml:"content_security_policy"`
	XContentTypeOptions     string            `yaml:"x_content_type_options"` // default nosniff
	XFrameOptions           string            `yaml:"x_frame_options"`
	ReferrerPolicy          string            `yaml:"referrer_policy"`
	PermissionsPolicy       string            `yaml:"permissions_policy"`
	CustomHeaders           map[string]string `yaml:"custom_headers"`
}

// StaticCacheConfig defines CDN cache headers for static asset responses.
type StaticCacheConfig struct {
	Enabled              bool     `yaml:"enabled"`
	CacheControl         string   `yaml:"cache_control"`
	StaleWhileRevalidate int      `yaml:"stale_while_revalidate"` // seconds
	StaleIfError         int      `yaml:"stale_if_error"`         // seconds
	Vary                 []string `yaml:"vary"`
	Override             bool     `yaml:"override"` // replace the renderer's Cache-Control
}

// CompressionConfig defines response compression.
type CompressionConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Level        int      `yaml:"level"`    // 1-11, default 6
	MinSize      int      `yaml:"min_size"` // bytes, default 1024
	Algorithms   []string `yaml:"algorithms"`
	ContentTypes []string `yaml:"content_types"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeProduction,
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Geo: GeoConfig{
			AllowCountries: []string{"VN"},
			DenyUnknown:    true,
			BlockedPath:    "/blocked",
			BypassPrefixes: []string{"/api/", "/auth/callback", "/_next/"},
			StaticPatterns: []string{
				"/_next/static/**",
				"/_next/image",
				"/_next/image/**",
				"/favicon.ico",
				"/sitemap.xml",
				"/robots.txt",
				"/**/*.{svg,png,jpg,jpeg,gif,webp,ico}",
			},
			PlatformHeader:    "X-Vercel-IP-Country",
			CDNHeader:         "CF-IPCountry",
			DevDefaultCountry: "VN",
			LookupURL:         "http://ip-api.com/json",
			LookupTimeout:     2 * time.Second,
		},
		Session: SessionConfig{
			Leeway: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			Access: true,
			Rotation: LogRotationConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
				Compress:   true,
			},
		},
		Tracing: TracingConfig{
			ServiceName: "movpey",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		SecurityHeaders: SecurityHeadersConfig{
			Enabled:        true,
			XFrameOptions:  "SAMEORIGIN",
			ReferrerPolicy: "strict-origin-when-cross-origin",
		},
		StaticCache: StaticCacheConfig{
			Enabled:      true,
			CacheControl: "public, max-age=31536000, immutable",
		},
		Compression: CompressionConfig{
			Enabled: true,
			Level:   6,
			MinSize: 1024,
		},
	}
}
