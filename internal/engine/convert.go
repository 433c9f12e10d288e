package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/splitclass/splitclass/internal/store"
)

// RecordConversion attributes a metric event to the variant the identity was
// assigned to. Identities with no assignment cannot convert: the event is
// discarded and nil is returned. Events are never deduplicated; repeated
// calls with the same metric each count.
func (e *Engine) RecordConversion(ctx context.Context, testID, metricName string, metricValue float64, identity store.Identity) (*store.ConversionEvent, error) {
	if !identity.Valid() {
		return nil, fmt.Errorf("%w: identity requires a user id or session id", ErrValidation)
	}
	if metricName == "" {
		return nil, fmt.Errorf("%w: metric name is required", ErrValidation)
	}

	assignment, err := e.store.GetAssignment(ctx, testID, identity.Key())
	if errors.Is(err, store.ErrNotFound) {
		UnattributedConversionsTotal.WithLabelValues(testID).Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up assignment: %w", err)
	}

	event := &store.ConversionEvent{
		TestID:      testID,
		VariantID:   assignment.VariantID,
		Identity:    identity.Key(),
		MetricName:  metricName,
		MetricValue: metricValue,
	}

	if err := e.store.CreateConversion(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record conversion: %w", err)
	}

	ConversionsTotal.WithLabelValues(testID, metricName).Inc()
	return event, nil
}
