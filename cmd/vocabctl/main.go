// Command vocabctl runs the page pipeline locally, submits page jobs and
// inspects stored results.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/vocab-worker/internal/logging"
)

var (
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "vocabctl",
	Short: "Chapter vocabulary tools",
	Long: `vocabctl runs the page pipeline (upscale, tile, OCR, reconcile, extract)
on a local image, submits page jobs to the worker queue, and inspects or
purges what the worker stored.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
		logging.Configure(logLevel, "console")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env.vocab", "environment file to load")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(newRunCmd(), newEnqueueCmd(), newStatusCmd(), newRelatedCmd(), newPurgeCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
