package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"reservoir-data/lib/serviceutil"
	"reservoir-data/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	config Config
	tel    telemetry.Telemetry
	// replaced in tests
	exitFatal = serviceutil.Fatal
)

var rootCmd = &cobra.Command{
	Use:   "reservoir-data",
	Short: "reservoir-data downloads open water quality data and reservoir map graphics.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = loadConfig("config.json5")
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		telemetry.InitSlog(config.Debug)

		tel, err = telemetry.SetupFromEnv(cmd.Context(), "reservoir-data")
		if err != nil {
			slog.Warn("failed to setup telemetry, continuing without it", "err", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdownTelemetry()
	},
	SilenceUsage: true,
}

func shutdownTelemetry() {
	err := tel.Shutdown(context.Background())
	if err != nil {
		slog.Warn("failed to flush telemetry", "err", err)
	}
}

// fatal flushes telemetry before exiting, deferred and post-run hooks do not
// run after os.Exit.
func fatal(message string, err error) {
	shutdownTelemetry()
	exitFatal(message, err)
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
