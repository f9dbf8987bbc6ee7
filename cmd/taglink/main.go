// Command taglink reads and writes tags on Allen-Bradley Logix
// controllers over EtherNet/IP, and runs the monitor daemon that
// republishes tag values to MQTT, Valkey and Kafka.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"taglink/config"
	"taglink/logging"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	flagAddr      string
	flagSlot      int
	flagTimeout   time.Duration
	flagConfig    string
	flagDebugFile string

	debugLogger *logging.DebugLogger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "taglink",
		Short: "EtherNet/IP tag client and monitor daemon",
		Long: `taglink talks to Allen-Bradley Logix controllers over EtherNet/IP:
one-shot tag reads and writes, tag listing, device discovery, a terminal
monitor, and a daemon that republishes tag values to MQTT, Valkey and
Kafka.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebugFile == "" {
				return nil
			}
			logger, err := logging.NewDebugLogger(flagDebugFile)
			if err != nil {
				return err
			}
			debugLogger = logger
			logging.SetGlobalDebugLogger(logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if debugLogger != nil {
				debugLogger.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "controller address (host or host:port)")
	rootCmd.PersistentFlags().IntVar(&flagSlot, "slot", 0, "controller slot in the chassis")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 5*time.Second, "request timeout")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultPath(), "configuration file")
	rootCmd.PersistentFlags().StringVar(&flagDebugFile, "debug", "", "write a wire-level trace to this file")

	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newReadCmds()...)
	rootCmd.AddCommand(newWriteCmd())
	rootCmd.AddCommand(newIdentityCmd())
	rootCmd.AddCommand(newDiscoverCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPcapCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
