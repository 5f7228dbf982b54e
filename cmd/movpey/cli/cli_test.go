package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		cfgFile = ""
		checkIP, checkCountry, checkCDNCountry, checkPath, checkDev = "", "", "", "/", false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movpey.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const checkConfig = `
mode: production
geo:
  enabled: true
  allow_countries: [VN]
  lookup_url: ""
`

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "movpey dev") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCheckVerdicts(t *testing.T) {
	cfg := writeConfig(t, checkConfig)

	tests := []struct {
		name     string
		args     []string
		verdict  string
		redirect string
	}{
		{"allowed header", []string{"--country", "vn"}, "allow", ""},
		{"denied header", []string{"--country", "US", "--path", "/movies/42"}, "deny", "/blocked"},
		{"cdn header", []string{"--cdn-country", "SG"}, "deny", "/blocked"},
		{"bypass path", []string{"--country", "US", "--path", "/api/movies"}, "bypass", ""},
		{"local ip production", []string{"--ip", "192.168.1.10"}, "deny", "/blocked"},
		{"local ip development", []string{"--ip", "127.0.0.1", "--dev"}, "allow", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"check", "-c", cfg}, tt.args...)
			out, err := runCLI(t, args...)
			if err != nil {
				t.Fatalf("check failed: %v\n%s", err, out)
			}

			var res struct {
				Verdict  string `json:"verdict"`
				Redirect string `json:"redirect"`
			}
			if err := json.Unmarshal([]byte(out), &res); err != nil {
				t.Fatalf("invalid JSON output %q: %v", out, err)
			}
			if res.Verdict != tt.verdict {
				t.Errorf("verdict = %q, want %q", res.Verdict, tt.verdict)
			}
			if res.Redirect != tt.redirect {
				t.Errorf("redirect = %q, want %q", res.Redirect, tt.redirect)
			}
		})
	}
}

func TestCheckRejectsInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "mode: staging\n")
	if _, err := runCLI(t, "check", "-c", cfg); err == nil {
		t.Error("expected error for invalid mode")
	}
}

func TestServeWithWatchStopsOnCancel(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "127.0.0.1:0"
  shutdown_timeout: 2s
logging:
  output: stderr
  access: false
`)
	t.Cleanup(func() { watchConfig = false })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rootCmd.SetArgs([]string{"serve", "--watch", "-c", path})
	done := make(chan error, 1)
	go func() { done <- rootCmd.ExecuteContext(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
	cfgFile = ""
}
