package engine

import (
	"context"
	"fmt"

	"github.com/splitclass/splitclass/internal/stats"
	"github.com/splitclass/splitclass/internal/store"
)

// TestResults is the statistical readout for a test's primary metric.
type TestResults struct {
	TestID        string           `json:"test_id"`
	TestName      string           `json:"test_name"`
	Status        store.TestStatus `json:"status"`
	PrimaryMetric store.Metric     `json:"primary_metric"`
	*stats.Evaluation
}

// GetResults computes per-variant rates, confidence intervals, uplift and
// significance against the control for the test's primary metric. It is
// always computable for a known test: variants with no data degrade to rate
// 0 and p-value 1.
func (e *Engine) GetResults(ctx context.Context, testID string) (*TestResults, error) {
	test, err := e.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	aggregates, err := e.store.GetVariantAggregates(ctx, test.ID, string(test.PrimaryMetric))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate variants: %w", err)
	}

	observations := make([]stats.Observation, len(aggregates))
	for i, agg := range aggregates {
		observations[i] = stats.Observation{
			VariantID:      agg.VariantID,
			Name:           agg.Name,
			IsControl:      agg.IsControl,
			Participants:   agg.Participants,
			Conversions:    agg.Conversions,
			AvgMetricValue: agg.AvgMetricValue,
		}
	}

	return &TestResults{
		TestID:        test.ID,
		TestName:      test.Name,
		Status:        test.Status,
		PrimaryMetric: test.PrimaryMetric,
		Evaluation:    stats.Evaluate(observations),
	}, nil
}
