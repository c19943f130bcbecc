// Package store provides the SQLite storage layer for linewatch.
//
// All pipeline state lives in a single SQLite database file:
// - Reference data (production lines, weighted aliases, products)
// - Plan tasks keyed by (line, product, title)
// - Downtimes deduplicated by evidence hash
// - Notifications deduplicated by unique key
// - File digests and scan job progress
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.linewatch/linewatch.db"

// dateLayout is the on-disk layout for calendar dates (plan and downtime windows).
const dateLayout = "2006-01-02"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Stats holds row counts for observability surfaces.
type Stats struct {
	Lines         int64 `json:"lines"`
	Aliases       int64 `json:"aliases"`
	Products      int64 `json:"products"`
	PlanTasks     int64 `json:"plan_tasks"`
	Downtimes     int64 `json:"downtimes"`
	Notifications int64 `json:"notifications"`
	ScanJobs      int64 `json:"scan_jobs"`
}

// SQLiteStore is the SQLite-backed repository for every linewatch table.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (and migrates) a SQLite store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every pooled connection to ":memory:" would see its own empty database.
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database path the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Stats returns row counts for every domain table.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	counts := []struct {
		table string
		dst   *int64
	}{
		{"production_lines", &st.Lines},
		{"line_aliases", &st.Aliases},
		{"products", &st.Products},
		{"plan_tasks", &st.PlanTasks},
		{"downtimes", &st.Downtimes},
		{"notifications", &st.Notifications},
		{"scan_jobs", &st.ScanJobs},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}
	return st, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
