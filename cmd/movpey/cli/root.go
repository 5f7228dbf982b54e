package cli

import (
	"fmt"

	"github.com/movpey/movpey/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	envFiles []string
)

var rootCmd = &cobra.Command{
	Use:   "movpey",
	Short: "MovPey edge service",
	Long: `movpey runs the edge of the MovPey streaming site: it restricts access
by the caller's country, keeps auth sessions fresh and forwards page
requests to the renderer.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML); defaults and environment only when empty")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files layered under the environment")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader().WithDotEnv(envFiles...).Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
