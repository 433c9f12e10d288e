package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/splitclass/splitclass/internal/store"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export raw assignment and conversion data",
	Long: `Export a test's raw assignments and conversion events in CSV or JSON.

Examples:
  splitclass export 4f7c2a10-... --format csv > test-data.csv
  splitclass export 4f7c2a10-... --format json > test-data.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	id := args[0]

	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		// Verify test exists
		if _, err := s.GetTest(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("test '%s' not found", id)
			}
			return fmt.Errorf("failed to get test: %w", err)
		}

		assignments, err := s.ListAssignments(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get assignments: %w", err)
		}

		conversions, err := s.ListConversions(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get conversions: %w", err)
		}

		if exportFormat == "csv" {
			return exportCSV(assignments, conversions)
		}
		return exportJSON(assignments, conversions)
	})
}

// exportCSV writes one row per record: assignments first, then conversions,
// with the record kind in the first column.
func exportCSV(assignments []*store.Assignment, conversions []*store.ConversionEvent) error {
	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	if err := w.Write([]string{"record", "timestamp", "identity", "variant_id", "metric_name", "metric_value"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, a := range assignments {
		row := []string{
			"assignment",
			strconv.FormatInt(a.CreatedAt.Unix(), 10),
			a.Identity,
			a.VariantID,
			"",
			"",
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	for _, c := range conversions {
		row := []string{
			"conversion",
			strconv.FormatInt(c.CreatedAt.Unix(), 10),
			c.Identity,
			c.VariantID,
			c.MetricName,
			strconv.FormatFloat(c.MetricValue, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	return nil
}

type jsonExport struct {
	Assignments []jsonAssignment `json:"assignments"`
	Conversions []jsonConversion `json:"conversions"`
}

type jsonAssignment struct {
	Timestamp int64  `json:"timestamp"`
	Identity  string `json:"identity"`
	VariantID string `json:"variant_id"`
}

type jsonConversion struct {
	Timestamp   int64   `json:"timestamp"`
	Identity    string  `json:"identity"`
	VariantID   string  `json:"variant_id"`
	MetricName  string  `json:"metric_name"`
	MetricValue float64 `json:"metric_value"`
}

func exportJSON(assignments []*store.Assignment, conversions []*store.ConversionEvent) error {
	export := jsonExport{
		Assignments: make([]jsonAssignment, len(assignments)),
		Conversions: make([]jsonConversion, len(conversions)),
	}

	for i, a := range assignments {
		export.Assignments[i] = jsonAssignment{
			Timestamp: a.CreatedAt.Unix(),
			Identity:  a.Identity,
			VariantID: a.VariantID,
		}
	}

	for i, c := range conversions {
		export.Conversions[i] = jsonConversion{
			Timestamp:   c.CreatedAt.Unix(),
			Identity:    c.Identity,
			VariantID:   c.VariantID,
			MetricName:  c.MetricName,
			MetricValue: c.MetricValue,
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
