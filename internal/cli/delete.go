package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/splitclass/splitclass/internal/engine"
	"github.com/splitclass/splitclass/internal/store"
)

func init() {
	rootCmd.AddCommand(newDeleteCmd())
}

func newDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a test and all of its data",
		Long: `Delete a test, its variants, assignments and conversion events.

This is destructive and irreversible. Export the raw data first if you need
to keep the experimental record:

  splitclass export <id> --format csv > test-data.csv
  splitclass delete <id>`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			return withEngine(func(e *engine.Engine) error {
				ctx := context.Background()

				test, err := e.GetTest(ctx, id)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("test '%s' not found", id)
					}
					return fmt.Errorf("failed to get test: %w", err)
				}

				if !force {
					prompt := promptui.Prompt{
						Label:     fmt.Sprintf("Delete test '%s' and all of its data", test.Name),
						IsConfirm: true,
					}
					if _, err := prompt.Run(); err != nil {
						if err == promptui.ErrInterrupt {
							os.Exit(0)
						}
						fmt.Println("Aborted.")
						return nil
					}
				}

				if err := e.DeleteTest(ctx, id); err != nil {
					return fmt.Errorf("failed to delete test: %w", err)
				}

				fmt.Printf("Deleted test '%s'\n", test.Name)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")

	return cmd
}
