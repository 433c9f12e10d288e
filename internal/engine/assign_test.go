package engine_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/splitclass/splitclass/internal/engine"
	"github.com/splitclass/splitclass/internal/store"
)

func TestGetAssignment_UnknownTest(t *testing.T) {
	e, _ := setupEngine(t)

	result, err := e.GetAssignment(context.Background(), "no-such-id", store.Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result for unknown test, got %+v", result)
	}
}

func TestGetAssignment_NotRunning(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	created, err := e.CreateTest(ctx, definition("t", 100, 50, 50))
	if err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	// Draft
	result, err := e.GetAssignment(ctx, created.ID, store.Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result for draft test, got %+v", result)
	}

	// Completed
	if _, err := e.UpdateStatus(ctx, created.ID, store.StatusCompleted); err != nil {
		t.Fatalf("failed to complete test: %v", err)
	}
	result, err = e.GetAssignment(ctx, created.ID, store.Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result for completed test, got %+v", result)
	}
}

func TestGetAssignment_InvalidIdentity(t *testing.T) {
	e, _ := setupEngine(t)

	_, err := e.GetAssignment(context.Background(), "t1", store.Identity{})
	if !errors.Is(err, engine.ErrValidation) {
		t.Errorf("got error %v, want ErrValidation", err)
	}
}

func TestGetAssignment_TrafficGateZero(t *testing.T) {
	e, s := setupEngine(t)
	test := createRunning(t, e, definition("t", 0, 50, 50))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		identity := store.Identity{SessionID: string(rune('a' + i))}
		result, err := e.GetAssignment(ctx, test.ID, identity)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Fatalf("expected nil result with zero traffic, got %+v", result)
		}
	}

	// No assignment records were created
	assignments, err := s.ListAssignments(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to list assignments: %v", err)
	}
	if len(assignments) != 0 {
		t.Errorf("got %d assignments, want 0", len(assignments))
	}
}

func TestGetAssignment_TrafficGateFull(t *testing.T) {
	e, _ := setupEngine(t)
	test := createRunning(t, e, definition("t", 100, 50, 50))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		identity := store.Identity{SessionID: string(rune('a' + i))}
		result, err := e.GetAssignment(ctx, test.ID, identity)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result == nil {
			t.Fatal("expected every identity assigned at full traffic")
		}
	}
}

func TestGetAssignment_GateMissCreatesNothing(t *testing.T) {
	// Gate draw 0.9 against 50% traffic: excluded. Next call draws 0.1:
	// passes and is assigned. Exclusion must not have pinned the identity.
	e, s := setupEngine(t, engine.WithRand(&seqRand{vals: []float64{0.9, 0.1, 0.2}}))
	test := createRunning(t, e, definition("t", 50, 50, 50))
	ctx := context.Background()

	identity := store.Identity{UserID: "u1"}

	result, err := e.GetAssignment(ctx, test.ID, identity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected gate miss, got %+v", result)
	}

	assignments, err := s.ListAssignments(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to list assignments: %v", err)
	}
	if len(assignments) != 0 {
		t.Fatalf("gate miss created %d assignments", len(assignments))
	}

	result, err = e.GetAssignment(ctx, test.ID, identity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected assignment on the second call")
	}
}

func TestGetAssignment_Idempotent(t *testing.T) {
	e, _ := setupEngine(t)
	test := createRunning(t, e, definition("t", 100, 50, 50))
	ctx := context.Background()

	identity := store.Identity{UserID: "u1"}

	first, err := e.GetAssignment(ctx, test.ID, identity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == nil {
		t.Fatal("expected an assignment")
	}

	for i := 0; i < 10; i++ {
		again, err := e.GetAssignment(ctx, test.ID, identity)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again == nil {
			t.Fatal("expected the existing assignment")
		}
		if again.VariantID != first.VariantID {
			t.Fatalf("call %d returned variant %s, first returned %s", i, again.VariantID, first.VariantID)
		}
	}
}

func TestGetAssignment_ConcurrentSameIdentity(t *testing.T) {
	e, s := setupEngine(t)
	test := createRunning(t, e, definition("t", 100, 50, 50))
	ctx := context.Background()

	identity := store.Identity{UserID: "u1"}

	const workers = 10
	results := make([]*engine.AssignmentResult, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.GetAssignment(ctx, test.ID, identity)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d failed: %v", i, errs[i])
		}
		if results[i] == nil {
			t.Fatalf("worker %d got nil result", i)
		}
		if results[i].VariantID != results[0].VariantID {
			t.Fatalf("worker %d got variant %s, worker 0 got %s", i, results[i].VariantID, results[0].VariantID)
		}
	}

	// Exactly one assignment row, exactly one impression
	assignments, err := s.ListAssignments(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to list assignments: %v", err)
	}
	if len(assignments) != 1 {
		t.Fatalf("got %d assignments, want 1", len(assignments))
	}

	got, err := s.GetTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get test: %v", err)
	}
	var impressions int64
	for _, v := range got.Variants {
		impressions += v.Impressions
	}
	if impressions != 1 {
		t.Errorf("got %d impressions, want 1", impressions)
	}
}

func TestGetAssignment_ScriptedBucketing(t *testing.T) {
	// Draw pairs are (gate, bucket). Weights 70/30: bucket 0.40 lands in
	// control (cumulative 70), bucket 0.80 lands in treatment.
	e, _ := setupEngine(t, engine.WithRand(&seqRand{vals: []float64{0, 0.40, 0, 0.80}}))
	test := createRunning(t, e, definition("t", 100, 70, 30))
	ctx := context.Background()

	first, err := e.GetAssignment(ctx, test.ID, store.Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.VariantName != "control" {
		t.Errorf("got variant %s, want control", first.VariantName)
	}

	second, err := e.GetAssignment(ctx, test.ID, store.Identity{UserID: "u2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.VariantName != "treatment" {
		t.Errorf("got variant %s, want treatment", second.VariantName)
	}
}

func TestGetAssignment_ReturnsConfig(t *testing.T) {
	e, _ := setupEngine(t, engine.WithRand(&seqRand{vals: []float64{0, 0.1}}))
	ctx := context.Background()

	test := definition("t", 100, 50, 50)
	test.Variants[0].Config = map[string]interface{}{"layout": "cards"}
	running := createRunning(t, e, test)

	result, err := e.GetAssignment(ctx, running.ID, store.Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if layout, ok := result.Config["layout"].(string); !ok || layout != "cards" {
		t.Errorf("got config %v, want layout=cards", result.Config)
	}
}

func TestGetAssignment_WeightedDistribution(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping distribution test in short mode")
	}

	e, _ := setupEngine(t, engine.WithRand(rand.New(rand.NewSource(42))))
	test := createRunning(t, e, definition("t", 100, 70, 30))
	ctx := context.Background()

	const n = 10000
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		identity := store.Identity{SessionID: fmt.Sprintf("s%d", i)}
		result, err := e.GetAssignment(ctx, test.ID, identity)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result == nil {
			t.Fatal("expected assignment at full traffic")
		}
		counts[result.VariantName]++
	}

	controlShare := float64(counts["control"]) / n
	if math.Abs(controlShare-0.70) > 0.03 {
		t.Errorf("got control share %.3f, want 0.70 ± 0.03", controlShare)
	}
}
