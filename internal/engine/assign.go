package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/splitclass/splitclass/internal/store"
)

// AssignmentResult is what a caller needs to render a variant: its id, name
// and opaque configuration payload.
type AssignmentResult struct {
	TestID      string                 `json:"test_id"`
	VariantID   string                 `json:"variant_id"`
	VariantName string                 `json:"variant"`
	Config      map[string]interface{} `json:"config,omitempty"`
}

// GetAssignment resolves the variant for an identity against a running test.
// A nil result with a nil error means the identity is excluded for this call:
// unknown or non-running test, or a traffic-gate miss. Exclusion creates no
// assignment record; a later call may still be assigned.
//
// The first successful call for a (test, identity) pair is authoritative:
// the store's insert-if-absent guarantees every later call observes the same
// variant, including calls racing the first one.
func (e *Engine) GetAssignment(ctx context.Context, testID string, identity store.Identity) (*AssignmentResult, error) {
	if !identity.Valid() {
		return nil, fmt.Errorf("%w: identity requires a user id or session id", ErrValidation)
	}

	test, err := e.store.GetTest(ctx, testID)
	if errors.Is(err, store.ErrNotFound) {
		InactiveExclusionsTotal.WithLabelValues("unknown_test").Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	if test.Status != store.StatusRunning {
		InactiveExclusionsTotal.WithLabelValues("not_running").Inc()
		return nil, nil
	}

	// Traffic gate: this draw decides participation for this call only.
	if e.rand.Float64()*100 >= test.TrafficPercent {
		GateExclusionsTotal.WithLabelValues(test.ID).Inc()
		return nil, nil
	}

	existing, err := e.store.GetAssignment(ctx, testID, identity.Key())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up assignment: %w", err)
	}
	if existing != nil {
		return e.resultFor(test, existing.VariantID)
	}

	chosen := pickVariant(test.Variants, e.rand.Float64()*100)

	assignment := &store.Assignment{
		TestID:    test.ID,
		Identity:  identity.Key(),
		UserID:    identity.UserID,
		SessionID: identity.SessionID,
		VariantID: chosen.ID,
	}

	persisted, created, err := e.store.CreateAssignment(ctx, assignment)
	if err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}
	if created {
		AssignmentsTotal.WithLabelValues(test.ID, chosen.Name).Inc()
	}

	// persisted may belong to a concurrent call that won the race
	return e.resultFor(test, persisted.VariantID)
}

// pickVariant buckets a draw r in [0, 100) by walking variants in position
// order and accumulating weights: the first variant whose running total
// reaches r wins. If rounding exhausts the walk, the last variant takes the
// tail.
func pickVariant(variants []*store.Variant, r float64) *store.Variant {
	cumulative := 0.0
	for _, v := range variants {
		cumulative += float64(v.Weight)
		if cumulative >= r {
			return v
		}
	}
	return variants[len(variants)-1]
}

func (e *Engine) resultFor(test *store.Test, variantID string) (*AssignmentResult, error) {
	for _, v := range test.Variants {
		if v.ID == variantID {
			return &AssignmentResult{
				TestID:      test.ID,
				VariantID:   v.ID,
				VariantName: v.Name,
				Config:      v.Config,
			}, nil
		}
	}
	return nil, fmt.Errorf("assignment references unknown variant %s", variantID)
}
