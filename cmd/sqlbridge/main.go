// sqlbridge converts Spark SQL into validated BigQuery SQL using an LLM
// translator, BigQuery dry-run validation, and a retry-budgeted fix loop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sqlbridge/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sqlbridge",
	Short: "Spark SQL to BigQuery SQL conversion service",
	Long: `sqlbridge converts Spark SQL queries into validated BigQuery SQL.

An LLM performs the dialect translation; BigQuery's dry run is the source
of truth for syntax and schema. Failed validations feed an auto-fix loop
bounded by a configurable retry budget. Oversized queries are split along
CTE and UNION boundaries, translated per fragment, and reassembled.

Run "sqlbridge serve" to start the HTTP API, or "sqlbridge convert" for a
one-shot conversion from a file or stdin.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAudit()
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "sqlbridge.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(tailCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
