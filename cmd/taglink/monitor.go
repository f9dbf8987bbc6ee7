package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"taglink/config"
	"taglink/tui"
)

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the terminal monitor",
		Long: `Run the full daemon with a terminal UI on top: live PLC status, a tag
value browser, and a debug log tail. Publisher sinks configured in the
config file run exactly as under serve.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}

			// Daemon log lines land in the UI's debug tab instead of
			// stdout, which the terminal UI owns.
			core := zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(tui.LogWriter()),
				zap.InfoLevel,
			)
			logger := zap.New(core)
			defer logger.Sync()

			d := startDaemon(cfg, logger)
			defer d.stop()

			app := tui.NewApp(cfg, flagConfig, d.manager)
			return app.Run()
		},
	}
}
