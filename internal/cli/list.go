package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/splitclass/splitclass/internal/store"
)

func init() {
	rootCmd.AddCommand(newListCmd())
}

func newListCmd() *cobra.Command {
	var (
		statusFilter string
		typeFilter   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tests",
		Long:  `List all A/B tests with their status and participant counts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				tests, err := s.ListTests(ctx, store.TestStatus(statusFilter), store.TestType(typeFilter))
				if err != nil {
					return fmt.Errorf("failed to list tests: %w", err)
				}

				if len(tests) == 0 {
					fmt.Println("No tests yet.")
					fmt.Println()
					fmt.Println("Create one with: splitclass create <name> --variants \"control:50,treatment:50\"")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tVARIANTS\tIMPRESSIONS\tCONVERSIONS\tCREATED")

				for _, test := range tests {
					var impressions, conversions int64
					for _, v := range test.Variants {
						impressions += v.Impressions
						conversions += v.Conversions
					}

					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
						test.ID,
						test.Name,
						test.Type,
						strings.ToUpper(string(test.Status)),
						len(test.Variants),
						impressions,
						conversions,
						test.CreatedAt.Format("2006-01-02"),
					)
				}

				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by status (draft, running, paused, completed)")
	cmd.Flags().StringVar(&typeFilter, "type", "", "filter by type (content, ui, quiz, algorithm)")

	return cmd
}
