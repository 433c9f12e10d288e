package store

import (
	"fmt"
	"time"
)

type TestStatus string

const (
	StatusDraft     TestStatus = "draft"
	StatusRunning   TestStatus = "running"
	StatusPaused    TestStatus = "paused"
	StatusCompleted TestStatus = "completed"
)

type TestType string

const (
	TypeContent   TestType = "content"
	TypeUI        TestType = "ui"
	TypeQuiz      TestType = "quiz"
	TypeAlgorithm TestType = "algorithm"
)

type Metric string

const (
	MetricCompletionRate Metric = "completion_rate"
	MetricQuizScore      Metric = "quiz_score"
	MetricTimeOnPage     Metric = "time_on_page"
	MetricClickRate      Metric = "click_rate"
	MetricConversionRate Metric = "conversion_rate"
)

type Test struct {
	ID               string
	Name             string
	Description      string
	Type             TestType
	TargetPage       string // Optional page scoping
	TrafficPercent   float64
	PrimaryMetric    Metric
	SecondaryMetrics []string // Decoded from JSON
	StartDate        *time.Time
	EndDate          *time.Time
	Status           TestStatus
	Variants         []*Variant
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Variant struct {
	ID          string
	TestID      string
	Position    int // Fixed bucketing order
	Name        string
	IsControl   bool
	Config      map[string]interface{} // Opaque to the engine, decoded from JSON
	Weight      int
	Impressions int64
	Conversions int64
}

// Identity is who an assignment belongs to: an authenticated user or an
// anonymous session. At least one of the two must be set.
type Identity struct {
	UserID    string
	SessionID string
}

// Key returns the canonical assignment key. Users and sessions live in
// separate namespaces so a userID can never collide with a sessionID.
func (id Identity) Key() string {
	if id.UserID != "" {
		return "user:" + id.UserID
	}
	return "session:" + id.SessionID
}

func (id Identity) Valid() bool {
	return id.UserID != "" || id.SessionID != ""
}

func (id Identity) String() string {
	return fmt.Sprintf("Identity(%s)", id.Key())
}

type Assignment struct {
	ID        string
	TestID    string
	Identity  string // Canonical key, see Identity.Key
	UserID    string
	SessionID string
	VariantID string
	CreatedAt time.Time
}

type ConversionEvent struct {
	ID          string
	TestID      string
	VariantID   string
	Identity    string
	MetricName  string
	MetricValue float64
	CreatedAt   time.Time
}

// VariantAggregate is the per-variant input to result computation:
// participant counts come from assignments, conversion counts and the metric
// mean from conversion events matching a single metric name.
type VariantAggregate struct {
	VariantID      string
	Name           string
	IsControl      bool
	Participants   int
	Conversions    int
	AvgMetricValue float64
}
