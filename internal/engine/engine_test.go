package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/splitclass/splitclass/internal/engine"
	"github.com/splitclass/splitclass/internal/store"
)

// seqRand replays a fixed sequence of draws, cycling when exhausted.
type seqRand struct {
	vals []float64
	i    int
}

func (r *seqRand) Float64() float64 {
	v := r.vals[r.i%len(r.vals)]
	r.i++
	return v
}

func setupEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *store.SQLiteStore) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return engine.New(s, opts...), s
}

func definition(name string, traffic float64, weights ...int) *store.Test {
	test := &store.Test{
		Name:           name,
		Type:           store.TypeContent,
		TrafficPercent: traffic,
		PrimaryMetric:  store.MetricCompletionRate,
	}
	names := []string{"control", "treatment", "third", "fourth"}
	for i, w := range weights {
		test.Variants = append(test.Variants, &store.Variant{Name: names[i], Weight: w})
	}
	return test
}

func createRunning(t *testing.T, e *engine.Engine, test *store.Test) *store.Test {
	t.Helper()
	ctx := context.Background()

	created, err := e.CreateTest(ctx, test)
	if err != nil {
		t.Fatalf("failed to create test: %v", err)
	}
	running, err := e.UpdateStatus(ctx, created.ID, store.StatusRunning)
	if err != nil {
		t.Fatalf("failed to start test: %v", err)
	}
	return running
}

func TestCreateTest_Validation(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		test *store.Test
	}{
		{
			name: "single variant",
			test: definition("t", 100, 100),
		},
		{
			name: "no variants",
			test: definition("t", 100),
		},
		{
			name: "weights under 100",
			test: definition("t", 100, 60, 30),
		},
		{
			name: "weights over 100",
			test: definition("t", 100, 60, 50),
		},
		{
			name: "negative weight",
			test: definition("t", 100, 150, -50),
		},
		{
			name: "traffic percent out of range",
			test: definition("t", 101, 50, 50),
		},
		{
			name: "missing name",
			test: definition("", 100, 50, 50),
		},
		{
			name: "unknown test type",
			test: func() *store.Test {
				d := definition("t", 100, 50, 50)
				d.Type = "banner"
				return d
			}(),
		},
		{
			name: "unknown primary metric",
			test: func() *store.Test {
				d := definition("t", 100, 50, 50)
				d.PrimaryMetric = "revenue"
				return d
			}(),
		},
		{
			name: "two controls",
			test: func() *store.Test {
				d := definition("t", 100, 50, 50)
				d.Variants[0].IsControl = true
				d.Variants[1].IsControl = true
				return d
			}(),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.CreateTest(ctx, tc.test)
			if !errors.Is(err, engine.ErrValidation) {
				t.Errorf("got error %v, want ErrValidation", err)
			}
		})
	}
}

func TestCreateTest_PromotesFirstVariantToControl(t *testing.T) {
	e, _ := setupEngine(t)

	created, err := e.CreateTest(context.Background(), definition("t", 100, 50, 50))
	if err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	if !created.Variants[0].IsControl {
		t.Error("expected first variant promoted to control")
	}
	if created.Variants[1].IsControl {
		t.Error("expected second variant not to be control")
	}
}

func TestCreateTest_KeepsExplicitControl(t *testing.T) {
	e, _ := setupEngine(t)

	test := definition("t", 100, 50, 50)
	test.Variants[1].IsControl = true

	created, err := e.CreateTest(context.Background(), test)
	if err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	if created.Variants[0].IsControl {
		t.Error("expected first variant to stay non-control")
	}
	if !created.Variants[1].IsControl {
		t.Error("expected second variant to stay control")
	}
}

func TestCreateTest_StartsInDraft(t *testing.T) {
	e, _ := setupEngine(t)

	test := definition("t", 100, 50, 50)
	test.Status = store.StatusRunning // callers cannot skip draft

	created, err := e.CreateTest(context.Background(), test)
	if err != nil {
		t.Fatalf("failed to create test: %v", err)
	}
	if created.Status != store.StatusDraft {
		t.Errorf("got status %s, want draft", created.Status)
	}
}

func TestDeleteTest_Unknown(t *testing.T) {
	e, _ := setupEngine(t)

	err := e.DeleteTest(context.Background(), "no-such-id")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got error %v, want ErrNotFound", err)
	}
}

func TestGetUserAssignments_AcrossTests(t *testing.T) {
	e, _ := setupEngine(t, engine.WithRand(&seqRand{vals: []float64{0, 0.1}}))
	ctx := context.Background()

	a := createRunning(t, e, definition("a", 100, 50, 50))
	b := createRunning(t, e, definition("b", 100, 50, 50))

	identity := store.Identity{UserID: "u1"}
	for _, test := range []*store.Test{a, b} {
		if _, err := e.GetAssignment(ctx, test.ID, identity); err != nil {
			t.Fatalf("failed to assign: %v", err)
		}
	}

	assignments, err := e.GetUserAssignments(ctx, "u1")
	if err != nil {
		t.Fatalf("failed to list assignments: %v", err)
	}
	if len(assignments) != 2 {
		t.Errorf("got %d assignments, want 2", len(assignments))
	}
}
