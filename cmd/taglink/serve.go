package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taglink/config"
	"taglink/logging"
	"taglink/web"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor daemon",
		Long: `Run the headless daemon: poll every configured PLC, republish value
changes to the configured MQTT, Valkey and Kafka sinks, and host the
REST API and web console. Stops cleanly on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}

			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			// The config can turn on wire tracing when the flag did not.
			if debugLogger == nil && cfg.Logging.DebugFile != "" {
				dl, err := logging.NewDebugLogger(cfg.Logging.DebugFile)
				if err != nil {
					return err
				}
				dl.SetFilter(cfg.Logging.DebugFilter)
				logging.SetGlobalDebugLogger(dl)
				debugLogger = dl
			}

			logger.Info("starting taglink daemon",
				zap.String("config", flagConfig),
				zap.Int("plcs", len(cfg.PLCs)),
				zap.String("version", Version))

			d := startDaemon(cfg, logger)

			var server *web.Server
			if cfg.Web.Enabled {
				server = web.NewServer(cfg, flagConfig, d.manager)
				if err := server.Start(); err != nil {
					d.stop()
					return fmt.Errorf("web server: %w", err)
				}
				logger.Info("web server listening",
					zap.String("host", cfg.Web.Host),
					zap.Int("port", cfg.Web.Port))
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigChan
			logger.Info("shutting down", zap.String("signal", sig.String()))

			if server != nil {
				if err := server.Stop(); err != nil {
					logger.Warn("web server stop", zap.Error(err))
				}
			}
			d.stop()

			logger.Info("daemon stopped")
			return nil
		},
	}
}
