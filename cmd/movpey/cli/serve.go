package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/movpey/movpey/internal/config"
	"github.com/movpey/movpey/internal/gateway"
	"github.com/movpey/movpey/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var watchConfig bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the edge service",
	Long: `Run the edge service until SIGINT or SIGTERM, then drain in-flight
requests within the configured shutdown timeout.`,
	Example: `  movpey serve -c configs/movpey.yaml
  movpey serve -c configs/movpey.yaml --watch
  APP_ENV=development ALLOWED_COUNTRIES=VN,SG movpey serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&watchConfig, "watch", false, "reload the config file when it changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting movpey",
		zap.String("version", version),
		zap.String("config", cfgFile),
		zap.String("mode", string(cfg.Mode)),
		zap.String("address", cfg.Server.Address),
	)

	server, err := gateway.NewServer(cfg, version)
	if err != nil {
		logging.Error("Failed to create server", zap.Error(err))
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var watcher *config.Watcher
	if watchConfig && cfgFile != "" {
		watcher, err = config.NewWatcher(cfgFile, config.NewLoader().WithDotEnv(envFiles...), logging.Global())
		if err != nil {
			server.Shutdown(cfg.Server.ShutdownTimeout)
			return fmt.Errorf("watching config: %w", err)
		}
		watcher.OnChange(func(cfg *config.Config) { server.Reload(cfg) })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logging.Error("Server error", zap.Error(err))
		return err
	}
	return nil
}
