package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/splitclass/splitclass/internal/engine"
	"github.com/splitclass/splitclass/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		variants     string
		variantsJSON string
		testType     string
		metric       string
		description  string
		targetPage   string
		traffic      float64
		endDate      string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new A/B test",
		Long: `Create a new A/B test with the specified name and variants.

Variants are name:weight pairs; weights must sum to exactly 100. The first
variant becomes the control unless a variant definition says otherwise.
Tests start in draft: run 'splitclass status <id> running' to open them for
assignment.

Examples:
  splitclass create quiz-hints --variants "control:50,hints:50" --type quiz --metric quiz_score
  splitclass create chapter-intro --variants "short:70,long:30" --type content --metric completion_rate --page /course/42
  splitclass create cta --variants-json '[{"name":"a","weight":50,"config":{"label":"Start"}},{"name":"b","weight":50,"config":{"label":"Go"}}]'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			variantList, err := parseVariants(variants, variantsJSON)
			if err != nil {
				return err
			}

			// Prompt for anything the flags left out
			if testType == "" {
				if testType, err = promptTestType(); err != nil {
					return err
				}
			}
			if metric == "" {
				if metric, err = promptMetric(); err != nil {
					return err
				}
			}

			var end *time.Time
			if endDate != "" {
				parsed, err := time.Parse("2006-01-02", endDate)
				if err != nil {
					return fmt.Errorf("invalid end date %q: use YYYY-MM-DD", endDate)
				}
				end = &parsed
			}

			return withEngine(func(e *engine.Engine) error {
				test := &store.Test{
					Name:           name,
					Description:    description,
					Type:           store.TestType(testType),
					TargetPage:     targetPage,
					TrafficPercent: traffic,
					PrimaryMetric:  store.Metric(metric),
					EndDate:        end,
					Variants:       variantList,
				}

				created, err := e.CreateTest(context.Background(), test)
				if err != nil {
					return fmt.Errorf("failed to create test: %w", err)
				}

				fmt.Printf("Created test '%s' (%s) with %d variants:\n", created.Name, created.ID, len(created.Variants))
				for _, v := range created.Variants {
					control := ""
					if v.IsControl {
						control = " (control)"
					}
					fmt.Printf("  %s  weight %d%%%s\n", v.Name, v.Weight, control)
				}
				fmt.Printf("\nStart it with: splitclass status %s running\n", created.ID)

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated name:weight pairs, weights summing to 100")
	cmd.Flags().StringVar(&variantsJSON, "variants-json", "", "full variant definitions as JSON (overrides --variants)")
	cmd.Flags().StringVarP(&testType, "type", "t", "", "test type (content, ui, quiz, algorithm)")
	cmd.Flags().StringVarP(&metric, "metric", "m", "", "primary metric (completion_rate, quiz_score, time_on_page, click_rate, conversion_rate)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "free-text description")
	cmd.Flags().StringVar(&targetPage, "page", "", "page this test is scoped to (optional)")
	cmd.Flags().Float64Var(&traffic, "traffic", 100, "share of traffic eligible for assignment (0-100)")
	cmd.Flags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD); the sweep completes the test after this")

	return cmd
}

type variantDef struct {
	Name      string                 `json:"name"`
	IsControl bool                   `json:"is_control"`
	Weight    int                    `json:"weight"`
	Config    map[string]interface{} `json:"config"`
}

func parseVariants(pairs, asJSON string) ([]*store.Variant, error) {
	if asJSON != "" {
		var defs []variantDef
		if err := json.Unmarshal([]byte(asJSON), &defs); err != nil {
			return nil, fmt.Errorf("invalid --variants-json: %w", err)
		}
		variants := make([]*store.Variant, len(defs))
		for i, d := range defs {
			variants[i] = &store.Variant{Name: d.Name, IsControl: d.IsControl, Weight: d.Weight, Config: d.Config}
		}
		return variants, nil
	}

	if pairs == "" {
		return nil, fmt.Errorf("need variants. Example: --variants \"control:50,treatment:50\"")
	}

	var variants []*store.Variant
	for _, pair := range strings.Split(pairs, ",") {
		pair = strings.TrimSpace(pair)
		name, weightStr, found := strings.Cut(pair, ":")
		if !found {
			return nil, fmt.Errorf("invalid variant %q: expected name:weight", pair)
		}
		weight, err := strconv.Atoi(strings.TrimSpace(weightStr))
		if err != nil {
			return nil, fmt.Errorf("invalid weight in %q: %w", pair, err)
		}
		variants = append(variants, &store.Variant{Name: strings.TrimSpace(name), Weight: weight})
	}

	return variants, nil
}

func promptTestType() (string, error) {
	prompt := promptui.Select{
		Label: "Test type",
		Items: []string{"content", "ui", "quiz", "algorithm"},
		Size:  4,
	}

	_, choice, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return "", err
	}
	return choice, nil
}

func promptMetric() (string, error) {
	prompt := promptui.Select{
		Label: "Primary metric",
		Items: []string{"completion_rate", "quiz_score", "time_on_page", "click_rate", "conversion_rate"},
		Size:  5,
	}

	_, choice, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return "", err
	}
	return choice, nil
}
