package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/splitclass/splitclass/internal/engine"
	"github.com/splitclass/splitclass/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <id>",
	Short: "Show detailed results for a test",
	Long:  `Show per-variant conversion rates, confidence intervals, uplift and significance against the control.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	id := args[0]

	return withEngine(func(e *engine.Engine) error {
		ctx := context.Background()

		results, err := e.GetResults(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("test '%s' not found", id)
			}
			return fmt.Errorf("failed to get results: %w", err)
		}

		fmt.Printf("TEST: %s\n", results.TestName)
		fmt.Printf("STATUS: %s\n", strings.ToUpper(string(results.Status)))
		fmt.Printf("METRIC: %s\n", results.PrimaryMetric)
		fmt.Printf("PARTICIPANTS: %d\n", results.TotalParticipants)
		fmt.Println()

		fmt.Println("VARIANT           PARTICIPANTS  CONVERSIONS  RATE     95% CI            UPLIFT    P-VALUE")
		fmt.Println(strings.Repeat("─", 95))

		for _, v := range results.Variants {
			label := v.Name
			if len(label) > 16 {
				label = label[:13] + "..."
			}

			ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
			if v.Participants == 0 {
				ciStr = "N/A"
			}

			upliftStr := "-"
			pStr := "-"
			if !v.IsControl {
				upliftStr = fmt.Sprintf("%+.1f%%", v.Uplift)
				pStr = fmt.Sprintf("%.4f", v.PValue)
			}

			indicator := ""
			if v.IsControl {
				indicator = " (control)"
			}
			if v.VariantID == results.WinnerID {
				indicator = " ← WINNER"
			}

			fmt.Printf("%-16s  %-12d  %-11d  %-7s  %-16s  %-8s  %s%s\n",
				label,
				v.Participants,
				v.Conversions,
				formatPercent(v.ConversionRate),
				ciStr,
				upliftStr,
				pStr,
				indicator,
			)
		}

		fmt.Println()

		if results.IsSignificant {
			fmt.Printf("Statistical significance: %.1f%% confident the winner beats the control\n", results.ConfidenceLevel)
		} else {
			fmt.Println("Statistical significance: no variant significantly beats the control yet")
		}

		return nil
	})
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
