package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader backed by the process environment.
func NewLoader() *Loader {
	return NewLoaderWithEnv(os.LookupEnv)
}

// NewLoaderWithEnv creates a loader that resolves variables through lookup.
func NewLoaderWithEnv(lookup func(string) (string, bool)) *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
		lookupEnv:  lookup,
	}
}

// WithDotEnv layers the given .env files under the loader's environment.
// Variables already present in the environment win. Missing files are ignored.
func (l *Loader) WithDotEnv(files ...string) *Loader {
	if len(files) == 0 {
		files = []string{".env"}
	}
	vars := make(map[string]string)
	for _, f := range files {
		m, err := godotenv.Read(f)
		if err != nil {
			continue
		}
		for k, v := range m {
			if _, ok := vars[k]; !ok {
				vars[k] = v
			}
		}
	}
	if len(vars) == 0 {
		return l
	}
	base := l.lookupEnv
	l.lookupEnv = func(key string) (string, bool) {
		if v, ok := base(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}
	return l
}

// Load reads a configuration file, or only defaults and environment when path is empty.
func (l *Loader) Load(path string) (*Config, error) {
	if path == "" {
		return l.Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes, applies environment
// overrides and validates the result.
func (l *Loader) Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if len(data) > 0 {
		expanded := l.expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}

	normalize(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := l.lookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// first returns the value of the first set variable among keys.
func (l *Loader) first(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := l.lookupEnv(k); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// applyEnv overrides file settings with the deployment's environment variables.
func (l *Loader) applyEnv(cfg *Config) error {
	if v, ok := l.first("APP_ENV", "NODE_ENV"); ok {
		if strings.EqualFold(v, string(ModeDevelopment)) {
			cfg.Mode = ModeDevelopment
		} else {
			cfg.Mode = ModeProduction
		}
	}

	if v, ok := l.first("GEO_BLOCKING_ENABLED", "NEXT_PUBLIC_GEO_BLOCKING_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GEO_BLOCKING_ENABLED: %w", err)
		}
		cfg.Geo.Enabled = b
	}
	if v, ok := l.first("GEO_DENY_UNKNOWN"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GEO_DENY_UNKNOWN: %w", err)
		}
		cfg.Geo.DenyUnknown = b
	}
	if v, ok := l.first("ALLOWED_COUNTRIES", "NEXT_PUBLIC_ALLOWED_COUNTRIES"); ok {
		cfg.Geo.AllowCountries = SplitList(v)
	}
	if v, ok := l.first("GEO_LOOKUP_URL"); ok {
		cfg.Geo.LookupURL = v
	}
	if v, ok := l.first("GEO_DATABASE"); ok {
		cfg.Geo.Database = v
	}

	if v, ok := l.first("SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL"); ok {
		cfg.Session.URL = v
	}
	if v, ok := l.first("SUPABASE_ANON_KEY", "NEXT_PUBLIC_SUPABASE_ANON_KEY"); ok {
		cfg.Session.Key = v
	}

	if v, ok := l.first("LISTEN_ADDR"); ok {
		cfg.Server.Address = v
	} else if v, ok := l.first("PORT"); ok {
		cfg.Server.Address = ":" + v
	}
	if v, ok := l.first("UPSTREAM_URL"); ok {
		cfg.Upstream.URL = v
	}
	if v, ok := l.first("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	return nil
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalize(cfg *Config) {
	for i, c := range cfg.Geo.AllowCountries {
		cfg.Geo.AllowCountries[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	cfg.Geo.DevDefaultCountry = strings.ToUpper(cfg.Geo.DevDefaultCountry)
	cfg.Geo.LookupURL = strings.TrimRight(cfg.Geo.LookupURL, "/")
	if cfg.Mode == "" {
		cfg.Mode = ModeProduction
	}
}

// validate checks configuration for errors
func validate(cfg *Config) error {
	if cfg.Mode != ModeDevelopment && cfg.Mode != ModeProduction {
		return fmt.Errorf("invalid mode %q (expected development or production)", cfg.Mode)
	}
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	for _, c := range cfg.Geo.AllowCountries {
		if !isCountryCode(c) {
			return fmt.Errorf("geo.allow_countries: invalid country code %q", c)
		}
	}
	if cfg.Geo.DevDefaultCountry != "" && !isCountryCode(cfg.Geo.DevDefaultCountry) {
		return fmt.Errorf("geo.dev_default_country: invalid country code %q", cfg.Geo.DevDefaultCountry)
	}
	if !strings.HasPrefix(cfg.Geo.BlockedPath, "/") {
		return fmt.Errorf("geo.blocked_path must be an absolute path, got %q", cfg.Geo.BlockedPath)
	}
	if cfg.Geo.LookupTimeout <= 0 {
		return fmt.Errorf("geo.lookup_timeout must be > 0")
	}
	if cfg.Geo.LookupURL != "" {
		if err := httpURL(cfg.Geo.LookupURL); err != nil {
			return fmt.Errorf("geo.lookup_url: %w", err)
		}
	}
	if cfg.Upstream.URL != "" {
		if err := httpURL(cfg.Upstream.URL); err != nil {
			return fmt.Errorf("upstream.url: %w", err)
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must be an absolute path, got %q", cfg.Metrics.Path)
	}
	for _, a := range cfg.Compression.Algorithms {
		if a != "br" && a != "zstd" && a != "gzip" {
			return fmt.Errorf("compression.algorithms: unknown algorithm %q", a)
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	return nil
}

func isCountryCode(c string) bool {
	if len(c) != 2 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func httpURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
