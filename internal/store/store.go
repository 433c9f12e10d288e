package store

import (
	"context"
	"time"
)

// Store defines the interface for experiment storage operations
type Store interface {
	// Test operations
	CreateTest(ctx context.Context, test *Test) (*Test, error)
	GetTest(ctx context.Context, id string) (*Test, error)
	ListTests(ctx context.Context, status TestStatus, testType TestType) ([]*Test, error)
	ListActiveTestsForPage(ctx context.Context, page string) ([]*Test, error)
	ListExpiredRunning(ctx context.Context, now time.Time) ([]*Test, error)
	UpdateTestStatus(ctx context.Context, id string, status TestStatus, startDate, endDate *time.Time) error
	DeleteTest(ctx context.Context, id string) error

	// Assignment operations
	GetAssignment(ctx context.Context, testID, identityKey string) (*Assignment, error)
	CreateAssignment(ctx context.Context, a *Assignment) (*Assignment, bool, error)
	ListAssignmentsByUser(ctx context.Context, userID string) ([]*Assignment, error)
	ListAssignments(ctx context.Context, testID string) ([]*Assignment, error)

	// Conversion operations
	CreateConversion(ctx context.Context, e *ConversionEvent) error
	ListConversions(ctx context.Context, testID string) ([]*ConversionEvent, error)

	// Aggregates for result computation
	GetVariantAggregates(ctx context.Context, testID string, metricName string) ([]VariantAggregate, error)

	// Lifecycle
	Close() error
}
