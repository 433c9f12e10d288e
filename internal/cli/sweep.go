package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/splitclass/splitclass/internal/engine"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Complete running tests past their end date",
	Long: `Find all running tests whose end date has passed and mark them
completed. The server runs this sweep on an interval; this command runs it
once, for cron setups or manual catch-up.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withEngine(func(e *engine.Engine) error {
		completed, err := e.SweepExpired(context.Background())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}

		if completed == 0 {
			fmt.Println("No expired tests.")
		} else {
			fmt.Printf("Completed %d expired test(s).\n", completed)
		}
		return nil
	})
}
