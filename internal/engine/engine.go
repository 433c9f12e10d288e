package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/splitclass/splitclass/internal/store"
)

// Rand is the randomness source for the traffic gate and variant bucketing.
// Float64 must return a uniform value in [0, 1). It is injected so tests can
// supply deterministic sequences.
type Rand interface {
	Float64() float64
}

// globalRand draws from math/rand's shared, lock-protected source, so a
// single Engine is safe for concurrent callers.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Engine is the experimentation service: registry, assignment, conversion
// recording, results and lifecycle over a single Store.
type Engine struct {
	store store.Store
	rand  Rand
	log   *slog.Logger
}

type Option func(*Engine)

// WithRand overrides the randomness source.
func WithRand(r Rand) Option {
	return func(e *Engine) { e.rand = r }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store: s,
		rand:  globalRand{},
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var validTypes = map[store.TestType]bool{
	store.TypeContent:   true,
	store.TypeUI:        true,
	store.TypeQuiz:      true,
	store.TypeAlgorithm: true,
}

var validMetrics = map[store.Metric]bool{
	store.MetricCompletionRate: true,
	store.MetricQuizScore:      true,
	store.MetricTimeOnPage:     true,
	store.MetricClickRate:      true,
	store.MetricConversionRate: true,
}

// CreateTest validates and persists a test definition with its variants.
// Tests always start in draft; assignments flow only after the test is set
// running. If no variant is flagged control, the first one is promoted.
func (e *Engine) CreateTest(ctx context.Context, test *store.Test) (*store.Test, error) {
	if test.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !validTypes[test.Type] {
		return nil, fmt.Errorf("%w: unknown test type %q", ErrValidation, test.Type)
	}
	if !validMetrics[test.PrimaryMetric] {
		return nil, fmt.Errorf("%w: unknown primary metric %q", ErrValidation, test.PrimaryMetric)
	}
	if test.TrafficPercent < 0 || test.TrafficPercent > 100 {
		return nil, fmt.Errorf("%w: traffic percent must be between 0 and 100, got %v", ErrValidation, test.TrafficPercent)
	}
	if len(test.Variants) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 variants, got %d", ErrValidation, len(test.Variants))
	}

	weightSum := 0
	controls := 0
	for _, v := range test.Variants {
		if v.Name == "" {
			return nil, fmt.Errorf("%w: variant name is required", ErrValidation)
		}
		if v.Weight < 0 || v.Weight > 100 {
			return nil, fmt.Errorf("%w: variant weight must be between 0 and 100, got %d", ErrValidation, v.Weight)
		}
		weightSum += v.Weight
		if v.IsControl {
			controls++
		}
	}
	if weightSum != 100 {
		return nil, fmt.Errorf("%w: variant weights must sum to exactly 100, got %d", ErrValidation, weightSum)
	}
	if controls > 1 {
		return nil, fmt.Errorf("%w: at most one variant may be the control, got %d", ErrValidation, controls)
	}
	if controls == 0 {
		test.Variants[0].IsControl = true
	}

	test.Status = store.StatusDraft

	created, err := e.store.CreateTest(ctx, test)
	if err != nil {
		return nil, fmt.Errorf("failed to create test: %w", err)
	}

	e.log.Info("test created", "test_id", created.ID, "name", created.Name, "variants", len(created.Variants))
	return created, nil
}

func (e *Engine) GetTest(ctx context.Context, id string) (*store.Test, error) {
	return e.store.GetTest(ctx, id)
}

func (e *Engine) ListTests(ctx context.Context, status store.TestStatus, testType store.TestType) ([]*store.Test, error) {
	return e.store.ListTests(ctx, status, testType)
}

// GetActiveTestsForPage returns running tests scoped to the given page.
func (e *Engine) GetActiveTestsForPage(ctx context.Context, page string) ([]*store.Test, error) {
	return e.store.ListActiveTestsForPage(ctx, page)
}

// GetUserAssignments returns a user's assignments across all tests.
func (e *Engine) GetUserAssignments(ctx context.Context, userID string) ([]*store.Assignment, error) {
	return e.store.ListAssignmentsByUser(ctx, userID)
}

// DeleteTest hard-deletes a test and all of its variants, assignments and
// conversion events. Irreversible; export first.
func (e *Engine) DeleteTest(ctx context.Context, id string) error {
	if err := e.store.DeleteTest(ctx, id); err != nil {
		return err
	}
	e.log.Info("test deleted", "test_id", id)
	return nil
}
