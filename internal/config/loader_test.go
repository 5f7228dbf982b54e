package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoaderDefaults(t *testing.T) {
	cfg, err := NewLoaderWithEnv(envMap(nil)).Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Mode != ModeProduction {
		t.Errorf("expected production mode, got %s", cfg.Mode)
	}
	if cfg.Geo.Enabled {
		t.Error("expected geo gate disabled by default")
	}
	if len(cfg.Geo.AllowCountries) != 1 || cfg.Geo.AllowCountries[0] != "VN" {
		t.Errorf("expected default allow list [VN], got %v", cfg.Geo.AllowCountries)
	}
	if cfg.Geo.LookupTimeout != 2*time.Second {
		t.Errorf("expected 2s lookup timeout, got %v", cfg.Geo.LookupTimeout)
	}
	if !cfg.Geo.DenyUnknown {
		t.Error("expected deny_unknown to default to true")
	}
	if cfg.Geo.BlockedPath != "/blocked" {
		t.Errorf("expected /blocked, got %s", cfg.Geo.BlockedPath)
	}
}

func TestLoaderParse(t *testing.T) {
	yaml := `
mode: development
server:
  address: ":9090"
  read_timeout: 10s
geo:
  enabled: true
  allow_countries: [vn, th]
  lookup_timeout: 500ms
  deny_unknown: false
upstream:
  url: http://localhost:3000
`

	cfg, err := NewLoaderWithEnv(envMap(nil)).Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if !cfg.IsDevelopment() {
		t.Errorf("expected development mode, got %s", cfg.Mode)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Server.Address)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected read_timeout 10s, got %v", cfg.Server.ReadTimeout)
	}
	if !cfg.Geo.Enabled {
		t.Error("expected geo enabled")
	}
	if got := cfg.Geo.AllowCountries; len(got) != 2 || got[0] != "VN" || got[1] != "TH" {
		t.Errorf("expected upper-cased [VN TH], got %v", got)
	}
	if cfg.Geo.LookupTimeout != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", cfg.Geo.LookupTimeout)
	}
	if cfg.Geo.DenyUnknown {
		t.Error("expected deny_unknown false")
	}
	if cfg.Upstream.URL != "http://localhost:3000" {
		t.Errorf("unexpected upstream %s", cfg.Upstream.URL)
	}
}

func TestLoaderEnvExpansion(t *testing.T) {
	yaml := `
session:
  url: ${TEST_SB_URL}
  key: ${TEST_SB_MISSING}
`
	l := NewLoaderWithEnv(envMap(map[string]string{"TEST_SB_URL": "https://abc.supabase.co"}))
	cfg, err := l.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Session.URL != "https://abc.supabase.co" {
		t.Errorf("expected expanded url, got %s", cfg.Session.URL)
	}
	if cfg.Session.Key != "${TEST_SB_MISSING}" {
		t.Errorf("expected unset variable kept verbatim, got %s", cfg.Session.Key)
	}
}

func TestLoaderEnvOverrides(t *testing.T) {
	env := map[string]string{
		"NODE_ENV":                         "development",
		"NEXT_PUBLIC_GEO_BLOCKING_ENABLED": "true",
		"NEXT_PUBLIC_ALLOWED_COUNTRIES":    "vn, us ,",
		"NEXT_PUBLIC_SUPABASE_URL":         "https://abc.supabase.co",
		"NEXT_PUBLIC_SUPABASE_ANON_KEY":    "anon",
		"PORT":                             "3001",
		"GEO_DENY_UNKNOWN":                 "false",
	}
	cfg, err := NewLoaderWithEnv(envMap(env)).Parse([]byte("geo:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if !cfg.IsDevelopment() {
		t.Error("expected development mode from NODE_ENV")
	}
	if !cfg.Geo.Enabled {
		t.Error("expected env to override file setting")
	}
	if got := cfg.Geo.AllowCountries; len(got) != 2 || got[0] != "VN" || got[1] != "US" {
		t.Errorf("expected [VN US], got %v", got)
	}
	if cfg.Session.URL != "https://abc.supabase.co" || cfg.Session.Key != "anon" {
		t.Errorf("unexpected session config %+v", cfg.Session)
	}
	if cfg.Server.Address != ":3001" {
		t.Errorf("expected :3001, got %s", cfg.Server.Address)
	}
	if cfg.Geo.DenyUnknown {
		t.Error("expected GEO_DENY_UNKNOWN=false to apply")
	}
}

func TestLoaderPrefersUnprefixedEnv(t *testing.T) {
	env := map[string]string{
		"APP_ENV":  "production",
		"NODE_ENV": "development",
	}
	cfg, err := NewLoaderWithEnv(envMap(env)).Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Mode != ModeProduction {
		t.Errorf("expected APP_ENV to win, got %s", cfg.Mode)
	}
}

func TestLoaderInvalidBool(t *testing.T) {
	_, err := NewLoaderWithEnv(envMap(map[string]string{"GEO_BLOCKING_ENABLED": "maybe"})).Parse(nil)
	if err == nil {
		t.Fatal("expected error for invalid boolean")
	}
}

func TestLoaderValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad mode", "mode: staging\n"},
		{"bad country", "geo:\n  allow_countries: [VNM]\n"},
		{"relative blocked path", "geo:\n  blocked_path: blocked\n"},
		{"zero timeout", "geo:\n  lookup_timeout: 0s\n"},
		{"bad lookup scheme", "geo:\n  lookup_url: ftp://ip-api.com\n"},
		{"bad upstream", "upstream:\n  url: localhost:3000\n"},
		{"bad sample rate", "tracing:\n  sample_rate: 2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoaderWithEnv(envMap(nil)).Parse([]byte(tt.yaml)); err == nil {
				t.Errorf("expected validation error for %q", tt.yaml)
			}
		})
	}
}

func TestLoaderDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "ALLOWED_COUNTRIES=TH\nLOG_LEVEL=debug\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	l := NewLoaderWithEnv(envMap(map[string]string{"LOG_LEVEL": "warn"})).WithDotEnv(path)
	cfg, err := l.Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := cfg.Geo.AllowCountries; len(got) != 1 || got[0] != "TH" {
		t.Errorf("expected [TH] from .env, got %v", got)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected environment to win over .env, got %s", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" VN, ,TH,")
	if len(got) != 2 || got[0] != "VN" || got[1] != "TH" {
		t.Errorf("unexpected %v", got)
	}
	if SplitList("") != nil {
		t.Error("expected nil for empty input")
	}
}

func TestLoadSampleConfig(t *testing.T) {
	l := NewLoaderWithEnv(envMap(map[string]string{
		"SUPABASE_URL":      "https://abcd.supabase.co",
		"SUPABASE_ANON_KEY": "anon",
	}))
	cfg, err := l.Load(filepath.Join("..", "..", "configs", "movpey.yaml"))
	if err != nil {
		t.Fatalf("sample config rejected: %v", err)
	}
	if !cfg.Geo.Enabled || cfg.Geo.SupportContact == "" {
		t.Error("sample should enable the gate with a support contact")
	}
	if cfg.Session.URL != "https://abcd.supabase.co" {
		t.Errorf("session url not expanded: %q", cfg.Session.URL)
	}
	if cfg.Upstream.Timeout != 30*time.Second {
		t.Errorf("unexpected upstream timeout %v", cfg.Upstream.Timeout)
	}
	if len(cfg.Compression.Algorithms) != 3 || !cfg.StaticCache.Enabled {
		t.Errorf("unexpected response shaping settings %+v %+v", cfg.Compression, cfg.StaticCache)
	}
}

func TestValidateCompressionAlgorithms(t *testing.T) {
	_, err := NewLoaderWithEnv(envMap(nil)).Parse([]byte("compression:\n  algorithms: [deflate]\n"))
	if err == nil {
		t.Error("expected error for unknown compression algorithm")
	}
}
