package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/splitclass/splitclass/internal/engine"
	"github.com/splitclass/splitclass/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <id> <draft|running|paused|completed>",
	Short: "Change a test's status",
	Long: `Transition a test through its lifecycle.

Legal transitions: draft → running, running ⇄ paused, and any state →
completed. Completed is terminal: a completed test cannot be re-activated.

Setting a test running stamps its start date; completing it stamps the end
date. Running tests past their end date are completed automatically by the
sweep.

Examples:
  splitclass status 4f7c2a10-... running
  splitclass status 4f7c2a10-... completed`,
	Args: cobra.ExactArgs(2),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	id := args[0]
	status := store.TestStatus(strings.ToLower(args[1]))

	switch status {
	case store.StatusDraft, store.StatusRunning, store.StatusPaused, store.StatusCompleted:
	default:
		return fmt.Errorf("unknown status %q: expected draft, running, paused or completed", args[1])
	}

	return withEngine(func(e *engine.Engine) error {
		test, err := e.UpdateStatus(context.Background(), id, status)
		if err != nil {
			return err
		}

		fmt.Printf("Test '%s' is now %s\n", test.Name, strings.ToUpper(string(test.Status)))
		if test.Status == store.StatusRunning && test.StartDate != nil {
			fmt.Printf("Started: %s\n", test.StartDate.Format("2006-01-02 15:04"))
		}
		if test.Status == store.StatusCompleted && test.EndDate != nil {
			fmt.Printf("Ended: %s\n", test.EndDate.Format("2006-01-02 15:04"))
		}

		return nil
	})
}
