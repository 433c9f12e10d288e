package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/splitclass/splitclass/internal/store"
)

// allowedTransitions is the single source of truth for status legality:
// draft -> running -> {paused <-> running} -> completed, with completed
// reachable from any non-terminal state.
var allowedTransitions = map[store.TestStatus]map[store.TestStatus]bool{
	store.StatusDraft: {
		store.StatusRunning:   true,
		store.StatusCompleted: true,
	},
	store.StatusRunning: {
		store.StatusPaused:    true,
		store.StatusCompleted: true,
	},
	store.StatusPaused: {
		store.StatusRunning:   true,
		store.StatusCompleted: true,
	},
	store.StatusCompleted: {},
}

// UpdateStatus transitions a test through its state machine. Entering
// running stamps the start date if unset; entering completed stamps the end
// date if unset. Completed is terminal.
func (e *Engine) UpdateStatus(ctx context.Context, testID string, status store.TestStatus) (*store.Test, error) {
	test, err := e.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	if !allowedTransitions[test.Status][status] {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, test.Status, status)
	}

	var startDate, endDate *time.Time
	now := time.Now()
	if status == store.StatusRunning && test.StartDate == nil {
		startDate = &now
	}
	if status == store.StatusCompleted && test.EndDate == nil {
		endDate = &now
	}

	if err := e.store.UpdateTestStatus(ctx, testID, status, startDate, endDate); err != nil {
		return nil, err
	}

	e.log.Info("test status updated", "test_id", testID, "from", test.Status, "to", status)
	return e.store.GetTest(ctx, testID)
}

// SweepExpired completes every running test whose end date has passed and
// returns the number of tests it transitioned.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	expired, err := e.store.ListExpiredRunning(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired tests: %w", err)
	}

	completed := 0
	for _, test := range expired {
		if _, err := e.UpdateStatus(ctx, test.ID, store.StatusCompleted); err != nil {
			e.log.Error("failed to complete expired test", "test_id", test.ID, "error", err)
			continue
		}
		completed++
	}

	if completed > 0 {
		e.log.Info("completed expired tests", "count", completed)
	}
	return completed, nil
}

// RunSweeper runs the expiry sweep on a fixed interval until the context is
// cancelled. One sweep runs immediately on start.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if _, err := e.SweepExpired(ctx); err != nil {
		e.log.Error("sweep failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.SweepExpired(ctx); err != nil {
				e.log.Error("sweep failed", "error", err)
			}
		}
	}
}
