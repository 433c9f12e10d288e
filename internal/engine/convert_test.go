package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/splitclass/splitclass/internal/engine"
	"github.com/splitclass/splitclass/internal/store"
)

func TestRecordConversion_UnassignedIdentity(t *testing.T) {
	e, s := setupEngine(t)
	test := createRunning(t, e, definition("t", 100, 50, 50))
	ctx := context.Background()

	event, err := e.RecordConversion(ctx, test.ID, "completion_rate", 1, store.Identity{UserID: "stranger"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != nil {
		t.Errorf("expected nil event for unassigned identity, got %+v", event)
	}

	// Nothing was stored and no counter moved
	events, err := s.ListConversions(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to list conversions: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d stored events, want 0", len(events))
	}

	got, err := s.GetTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get test: %v", err)
	}
	for _, v := range got.Variants {
		if v.Conversions != 0 {
			t.Errorf("variant %s: got %d conversions, want 0", v.Name, v.Conversions)
		}
	}
}

func TestRecordConversion_AttributesToAssignedVariant(t *testing.T) {
	e, s := setupEngine(t)
	test := createRunning(t, e, definition("t", 100, 50, 50))
	ctx := context.Background()

	identity := store.Identity{UserID: "u1"}
	assigned, err := e.GetAssignment(ctx, test.ID, identity)
	if err != nil {
		t.Fatalf("failed to assign: %v", err)
	}

	event, err := e.RecordConversion(ctx, test.ID, "completion_rate", 1, identity)
	if err != nil {
		t.Fatalf("failed to record conversion: %v", err)
	}
	if event == nil {
		t.Fatal("expected a recorded event")
	}
	if event.VariantID != assigned.VariantID {
		t.Errorf("event attributed to %s, assignment is %s", event.VariantID, assigned.VariantID)
	}

	got, err := s.GetTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get test: %v", err)
	}
	for _, v := range got.Variants {
		want := int64(0)
		if v.ID == assigned.VariantID {
			want = 1
		}
		if v.Conversions != want {
			t.Errorf("variant %s: got %d conversions, want %d", v.Name, v.Conversions, want)
		}
	}
}

func TestRecordConversion_NoDeduplication(t *testing.T) {
	// Repeatable metrics count once per call
	e, s := setupEngine(t)
	test := createRunning(t, e, definition("t", 100, 50, 50))
	ctx := context.Background()

	identity := store.Identity{SessionID: "anon-1"}
	if _, err := e.GetAssignment(ctx, test.ID, identity); err != nil {
		t.Fatalf("failed to assign: %v", err)
	}

	for i := 0; i < 3; i++ {
		event, err := e.RecordConversion(ctx, test.ID, "click_rate", 1, identity)
		if err != nil {
			t.Fatalf("failed to record conversion %d: %v", i, err)
		}
		if event == nil {
			t.Fatalf("conversion %d was not recorded", i)
		}
	}

	events, err := s.ListConversions(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to list conversions: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("got %d events, want 3", len(events))
	}
}

func TestRecordConversion_SurvivesCompletion(t *testing.T) {
	// The experimental record outlives status changes: an assigned identity
	// can still convert after the test completes
	e, _ := setupEngine(t)
	test := createRunning(t, e, definition("t", 100, 50, 50))
	ctx := context.Background()

	identity := store.Identity{UserID: "u1"}
	if _, err := e.GetAssignment(ctx, test.ID, identity); err != nil {
		t.Fatalf("failed to assign: %v", err)
	}
	if _, err := e.UpdateStatus(ctx, test.ID, store.StatusCompleted); err != nil {
		t.Fatalf("failed to complete test: %v", err)
	}

	event, err := e.RecordConversion(ctx, test.ID, "completion_rate", 1, identity)
	if err != nil {
		t.Fatalf("failed to record conversion: %v", err)
	}
	if event == nil {
		t.Error("expected conversion for an assigned identity after completion")
	}
}

func TestRecordConversion_Validation(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	if _, err := e.RecordConversion(ctx, "t1", "completion_rate", 1, store.Identity{}); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("got error %v, want ErrValidation for empty identity", err)
	}
	if _, err := e.RecordConversion(ctx, "t1", "", 1, store.Identity{UserID: "u1"}); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("got error %v, want ErrValidation for empty metric", err)
	}
}
