package cli

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"

	"github.com/movpey/movpey/internal/config"
	"github.com/movpey/movpey/internal/middleware/geo"
	"github.com/movpey/movpey/internal/proxy"
	"github.com/spf13/cobra"
)

var (
	checkIP         string
	checkCountry    string
	checkCDNCountry string
	checkPath       string
	checkDev        bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Dry-run the access gate for a simulated request",
	Long: `Check what verdict a request would receive without running the server.
The request carries the given client IP in X-Forwarded-For and the given
country headers. IP lookups run against the configured providers.`,
	Example: `  movpey check --ip 113.161.1.1
  movpey check --country US --path /movies/42
  movpey check -c configs/movpey.yaml --ip 8.8.8.8 --dev`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkIP, "ip", "", "client IP address")
	checkCmd.Flags().StringVar(&checkCountry, "country", "", "platform country header value")
	checkCmd.Flags().StringVar(&checkCDNCountry, "cdn-country", "", "CDN country header value")
	checkCmd.Flags().StringVar(&checkPath, "path", "/", "request path")
	checkCmd.Flags().BoolVar(&checkDev, "dev", false, "evaluate in development mode")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if checkDev {
		cfg.Mode = config.ModeDevelopment
	}

	gate, ipr, err := geo.Build(cfg, proxy.NewClient(0), nil)
	if err != nil {
		return fmt.Errorf("building gate: %w", err)
	}
	defer ipr.Close()

	r := httptest.NewRequest("GET", checkPath, nil)
	r.RemoteAddr = ""
	if checkIP != "" {
		r.Header.Set("X-Forwarded-For", checkIP)
	}
	if checkCountry != "" && cfg.Geo.PlatformHeader != "" {
		r.Header.Set(cfg.Geo.PlatformHeader, checkCountry)
	}
	if checkCDNCountry != "" && cfg.Geo.CDNHeader != "" {
		r.Header.Set(cfg.Geo.CDNHeader, checkCDNCountry)
	}

	res := gate.Evaluate(r)
	output := struct {
		Path     string `json:"path"`
		Mode     string `json:"mode"`
		Enabled  bool   `json:"enabled"`
		Redirect string `json:"redirect,omitempty"`
		geo.Result
	}{
		Path:    checkPath,
		Mode:    string(cfg.Mode),
		Enabled: gate.Enabled(),
		Result:  res,
	}
	if res.Verdict == geo.VerdictDeny {
		output.Redirect = gate.BlockedPath()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
