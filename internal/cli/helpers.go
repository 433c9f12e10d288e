package cli

import (
	"fmt"
	"path/filepath"

	"github.com/splitclass/splitclass/internal/engine"
	"github.com/splitclass/splitclass/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// withEngine opens the database and hands an engine to the function.
func withEngine(fn func(*engine.Engine) error) error {
	return withStore(func(s *store.SQLiteStore) error {
		return fn(engine.New(s))
	})
}

// tokenFilePath returns the path to the admin token file, kept alongside the
// database.
func tokenFilePath() string {
	return filepath.Join(filepath.Dir(dbPath), ".splitclass-token")
}
