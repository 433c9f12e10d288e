package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tests (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    test_type TEXT NOT NULL,
    target_page TEXT NOT NULL DEFAULT '',
    traffic_percent REAL NOT NULL DEFAULT 100,
    primary_metric TEXT NOT NULL,
    secondary_metrics TEXT,
    start_date INTEGER,
    end_date INTEGER,
    status TEXT NOT NULL DEFAULT 'draft',
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_tests_status ON tests(status);
CREATE INDEX IF NOT EXISTS idx_tests_page ON tests(target_page, status);

CREATE TABLE IF NOT EXISTS variants (
    id TEXT PRIMARY KEY,
    test_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    is_control INTEGER NOT NULL DEFAULT 0,
    config TEXT,
    weight INTEGER NOT NULL,
    impressions INTEGER NOT NULL DEFAULT 0,
    conversions INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (test_id) REFERENCES tests(id)
);

CREATE INDEX IF NOT EXISTS idx_variants_test ON variants(test_id, position);

CREATE TABLE IF NOT EXISTS assignments (
    id TEXT PRIMARY KEY,
    test_id TEXT NOT NULL,
    identity TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL DEFAULT '',
    variant_id TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (test_id) REFERENCES tests(id),
    FOREIGN KEY (variant_id) REFERENCES variants(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_test_identity ON assignments(test_id, identity);
CREATE INDEX IF NOT EXISTS idx_assignments_user ON assignments(user_id);
CREATE INDEX IF NOT EXISTS idx_assignments_variant ON assignments(variant_id);

CREATE TABLE IF NOT EXISTS conversions (
    id TEXT PRIMARY KEY,
    test_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    identity TEXT NOT NULL,
    metric_name TEXT NOT NULL,
    metric_value REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (test_id) REFERENCES tests(id)
);

CREATE INDEX IF NOT EXISTS idx_conversions_test_metric ON conversions(test_id, metric_name);
CREATE INDEX IF NOT EXISTS idx_conversions_variant ON conversions(variant_id, metric_name);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing when writers collide
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTest(ctx context.Context, test *Test) (*Test, error) {
	if test.ID == "" {
		test.ID = uuid.NewString()
	}

	var secondaryJSON sql.NullString
	if len(test.SecondaryMetrics) > 0 {
		b, err := json.Marshal(test.SecondaryMetrics)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal secondary metrics: %w", err)
		}
		secondaryJSON = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now().Unix()
	test.CreatedAt = time.Unix(now, 0)
	test.UpdatedAt = time.Unix(now, 0)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tests (id, name, description, test_type, target_page, traffic_percent,
		                    primary_metric, secondary_metrics, start_date, end_date, status,
		                    created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		test.ID, test.Name, test.Description, string(test.Type), test.TargetPage,
		test.TrafficPercent, string(test.PrimaryMetric), secondaryJSON,
		nullableTime(test.StartDate), nullableTime(test.EndDate), string(test.Status),
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert test: %w", err)
	}

	for i, v := range test.Variants {
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		v.TestID = test.ID
		v.Position = i

		var configJSON sql.NullString
		if len(v.Config) > 0 {
			b, err := json.Marshal(v.Config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal variant config: %w", err)
			}
			configJSON = sql.NullString{String: string(b), Valid: true}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO variants (id, test_id, position, name, is_control, config, weight, impressions, conversions)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0)`,
			v.ID, v.TestID, v.Position, v.Name, boolToInt(v.IsControl), configJSON, v.Weight,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert variant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit test: %w", err)
	}

	return test, nil
}

const testColumns = `id, name, description, test_type, target_page, traffic_percent,
	primary_metric, secondary_metrics, start_date, end_date, status, created_at, updated_at`

func (s *SQLiteStore) GetTest(ctx context.Context, id string) (*Test, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+testColumns+` FROM tests WHERE id = ?`, id)

	test, err := scanTest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	if err := s.loadVariants(ctx, test); err != nil {
		return nil, err
	}

	return test, nil
}

func (s *SQLiteStore) ListTests(ctx context.Context, status TestStatus, testType TestType) ([]*Test, error) {
	query := `SELECT ` + testColumns + ` FROM tests WHERE 1=1`
	var args []interface{}

	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	if testType != "" {
		query += ` AND test_type = ?`
		args = append(args, string(testType))
	}
	query += ` ORDER BY created_at DESC`

	return s.queryTests(ctx, query, args...)
}

func (s *SQLiteStore) ListActiveTestsForPage(ctx context.Context, page string) ([]*Test, error) {
	return s.queryTests(ctx,
		`SELECT `+testColumns+` FROM tests WHERE status = ? AND target_page = ? ORDER BY created_at DESC`,
		string(StatusRunning), page)
}

func (s *SQLiteStore) ListExpiredRunning(ctx context.Context, now time.Time) ([]*Test, error) {
	return s.queryTests(ctx,
		`SELECT `+testColumns+` FROM tests WHERE status = ? AND end_date IS NOT NULL AND end_date < ?`,
		string(StatusRunning), now.Unix())
}

func (s *SQLiteStore) queryTests(ctx context.Context, query string, args ...interface{}) ([]*Test, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	defer rows.Close()

	var tests []*Test
	for rows.Next() {
		test, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test: %w", err)
		}
		tests = append(tests, test)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tests: %w", err)
	}

	for _, test := range tests {
		if err := s.loadVariants(ctx, test); err != nil {
			return nil, err
		}
	}

	return tests, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTest(row rowScanner) (*Test, error) {
	var test Test
	var testType, primaryMetric, status string
	var secondaryJSON sql.NullString
	var startDate, endDate sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&test.ID, &test.Name, &test.Description, &testType, &test.TargetPage,
		&test.TrafficPercent, &primaryMetric, &secondaryJSON, &startDate, &endDate,
		&status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	test.Type = TestType(testType)
	test.PrimaryMetric = Metric(primaryMetric)
	test.Status = TestStatus(status)

	if secondaryJSON.Valid && secondaryJSON.String != "" {
		if err := json.Unmarshal([]byte(secondaryJSON.String), &test.SecondaryMetrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal secondary metrics: %w", err)
		}
	}

	if startDate.Valid {
		t := time.Unix(startDate.Int64, 0)
		test.StartDate = &t
	}
	if endDate.Valid {
		t := time.Unix(endDate.Int64, 0)
		test.EndDate = &t
	}

	test.CreatedAt = time.Unix(createdAt, 0)
	test.UpdatedAt = time.Unix(updatedAt, 0)

	return &test, nil
}

func (s *SQLiteStore) loadVariants(ctx context.Context, test *Test) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_id, position, name, is_control, config, weight, impressions, conversions
		 FROM variants WHERE test_id = ? ORDER BY position`, test.ID)
	if err != nil {
		return fmt.Errorf("failed to load variants: %w", err)
	}
	defer rows.Close()

	test.Variants = nil
	for rows.Next() {
		var v Variant
		var isControl int
		var configJSON sql.NullString

		err := rows.Scan(&v.ID, &v.TestID, &v.Position, &v.Name, &isControl, &configJSON,
			&v.Weight, &v.Impressions, &v.Conversions)
		if err != nil {
			return fmt.Errorf("failed to scan variant: %w", err)
		}

		v.IsControl = isControl != 0
		if configJSON.Valid && configJSON.String != "" {
			if err := json.Unmarshal([]byte(configJSON.String), &v.Config); err != nil {
				return fmt.Errorf("failed to unmarshal variant config: %w", err)
			}
		}

		test.Variants = append(test.Variants, &v)
	}

	return rows.Err()
}

func (s *SQLiteStore) UpdateTestStatus(ctx context.Context, id string, status TestStatus, startDate, endDate *time.Time) error {
	now := time.Now().Unix()

	result, err := s.db.ExecContext(ctx,
		`UPDATE tests SET status = ?,
		        start_date = COALESCE(?, start_date),
		        end_date = COALESCE(?, end_date),
		        updated_at = ?
		 WHERE id = ?`,
		string(status), nullableTime(startDate), nullableTime(endDate), now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update test status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *SQLiteStore) DeleteTest(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Delete children first
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversions WHERE test_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete conversions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE test_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete assignments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM variants WHERE test_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete variants: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM tests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete test: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, testID, identityKey string) (*Assignment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, test_id, identity, user_id, session_id, variant_id, created_at
		 FROM assignments WHERE test_id = ? AND identity = ?`, testID, identityKey)

	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	return a, nil
}

// CreateAssignment atomically creates an assignment for (test, identity) if
// none exists, incrementing the chosen variant's impressions counter in the
// same transaction. The unique index on (test_id, identity) makes this an
// insert-if-absent: when a concurrent call wins the race, the winning row is
// returned instead and no counter moves. The bool reports whether this call
// created the row.
func (s *SQLiteStore) CreateAssignment(ctx context.Context, a *Assignment) (*Assignment, bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	a.CreatedAt = time.Unix(now, 0)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO assignments (id, test_id, identity, user_id, session_id, variant_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TestID, a.Identity, a.UserID, a.SessionID, a.VariantID, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert assignment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 1 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE variants SET impressions = impressions + 1 WHERE id = ?`, a.VariantID); err != nil {
			return nil, false, fmt.Errorf("failed to increment impressions: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit assignment: %w", err)
		}
		return a, true, nil
	}

	// Lost the race: return the row that won
	row := tx.QueryRowContext(ctx,
		`SELECT id, test_id, identity, user_id, session_id, variant_id, created_at
		 FROM assignments WHERE test_id = ? AND identity = ?`, a.TestID, a.Identity)
	existing, err := scanAssignment(row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get existing assignment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit: %w", err)
	}

	return existing, false, nil
}

func scanAssignment(row rowScanner) (*Assignment, error) {
	var a Assignment
	var createdAt int64

	err := row.Scan(&a.ID, &a.TestID, &a.Identity, &a.UserID, &a.SessionID, &a.VariantID, &createdAt)
	if err != nil {
		return nil, err
	}

	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

func (s *SQLiteStore) ListAssignmentsByUser(ctx context.Context, userID string) ([]*Assignment, error) {
	return s.queryAssignments(ctx,
		`SELECT id, test_id, identity, user_id, session_id, variant_id, created_at
		 FROM assignments WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

func (s *SQLiteStore) ListAssignments(ctx context.Context, testID string) ([]*Assignment, error) {
	return s.queryAssignments(ctx,
		`SELECT id, test_id, identity, user_id, session_id, variant_id, created_at
		 FROM assignments WHERE test_id = ? ORDER BY created_at`, testID)
}

func (s *SQLiteStore) queryAssignments(ctx context.Context, query string, args ...interface{}) ([]*Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}

	return assignments, rows.Err()
}

// CreateConversion appends a conversion event and increments the variant's
// conversions counter in one transaction. Events are never deduplicated;
// repeatable metrics count once per call.
func (s *SQLiteStore) CreateConversion(ctx context.Context, e *ConversionEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	e.CreatedAt = time.Unix(now, 0)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversions (id, test_id, variant_id, identity, metric_name, metric_value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TestID, e.VariantID, e.Identity, e.MetricName, e.MetricValue, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversion: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE variants SET conversions = conversions + 1 WHERE id = ?`, e.VariantID); err != nil {
		return fmt.Errorf("failed to increment conversions: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListConversions(ctx context.Context, testID string) ([]*ConversionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_id, variant_id, identity, metric_name, metric_value, created_at
		 FROM conversions WHERE test_id = ? ORDER BY created_at`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	var events []*ConversionEvent
	for rows.Next() {
		var e ConversionEvent
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.TestID, &e.VariantID, &e.Identity, &e.MetricName, &e.MetricValue, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}

	return events, rows.Err()
}

func (s *SQLiteStore) GetVariantAggregates(ctx context.Context, testID string, metricName string) ([]VariantAggregate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			v.id,
			v.name,
			v.is_control,
			(SELECT COUNT(*) FROM assignments a WHERE a.variant_id = v.id) AS participants,
			(SELECT COUNT(*) FROM conversions c WHERE c.variant_id = v.id AND c.metric_name = ?) AS conversions,
			(SELECT COALESCE(AVG(c.metric_value), 0) FROM conversions c WHERE c.variant_id = v.id AND c.metric_name = ?) AS avg_value
		FROM variants v
		WHERE v.test_id = ?
		ORDER BY v.position
	`, metricName, metricName, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []VariantAggregate
	for rows.Next() {
		var agg VariantAggregate
		var isControl int
		if err := rows.Scan(&agg.VariantID, &agg.Name, &isControl, &agg.Participants, &agg.Conversions, &agg.AvgMetricValue); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		agg.IsControl = isControl != 0
		aggs = append(aggs, agg)
	}

	return aggs, rows.Err()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
