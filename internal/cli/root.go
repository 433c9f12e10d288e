package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath string
)

var rootCmd = &cobra.Command{
	Use:   "splitclass",
	Short: "Splitclass - a self-hosted A/B testing engine for course platforms",
	Long: `Splitclass is a self-hosted experimentation engine for course platforms.
Single Go binary, embedded SQLite, no external dependencies.

Create a test, set it running, and let your platform ask for variant
assignments and record conversions. Results include conversion rates,
confidence intervals and two-proportion significance against the control.

Running without a subcommand starts the server (same as 'splitclass serve').`,
	RunE: runServe, // Default action is to start server
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("SC_DB_PATH", "./splitclass.db"), "database path")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
