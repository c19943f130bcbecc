package store

import (
	"database/sql"
	"fmt"
	"time"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Schema evolution: lookup indexes for conflict detection and the live feed.
	if err := s.migrateLookupIndexes(); err != nil {
		return fmt.Errorf("migrating lookup indexes: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS production_lines (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT UNIQUE NOT NULL,
			active     INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Weighted free-text aliases; weight scales fuzzy scores only.
		`CREATE TABLE IF NOT EXISTS line_aliases (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			line_id    INTEGER NOT NULL REFERENCES production_lines(id) ON DELETE CASCADE,
			alias      TEXT NOT NULL,
			weight     REAL NOT NULL DEFAULT 1.0 CHECK(weight >= 0.0 AND weight <= 2.0),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(line_id, alias)
		)`,

		`CREATE TABLE IF NOT EXISTS products (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT UNIQUE NOT NULL,
			code       TEXT UNIQUE NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Natural key (line, product, title) drives idempotent plan re-uploads.
		`CREATE TABLE IF NOT EXISTS plan_tasks (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			line_id    INTEGER NOT NULL REFERENCES production_lines(id),
			product_id INTEGER NOT NULL REFERENCES products(id),
			title      TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date   TEXT NOT NULL CHECK(end_date >= start_date),
			source     TEXT NOT NULL DEFAULT 'spreadsheet',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(line_id, product_id, title)
		)`,

		`CREATE TABLE IF NOT EXISTS downtimes (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			line_id           INTEGER REFERENCES production_lines(id),
			start_date        TEXT NOT NULL,
			end_date          TEXT NOT NULL CHECK(end_date >= start_date),
			status            TEXT NOT NULL CHECK(status IN ('approved','done','planned','proposed','discussed')),
			kind              TEXT NOT NULL CHECK(kind IN ('maintenance','repair','upgrade','other')),
			confidence        REAL NOT NULL DEFAULT 0 CHECK(confidence >= 0.0 AND confidence <= 1.0),
			partial_start     INTEGER NOT NULL DEFAULT 0,
			partial_end       INTEGER NOT NULL DEFAULT 0,
			evidence_quote    TEXT NOT NULL DEFAULT '',
			evidence_location TEXT NOT NULL DEFAULT '',
			source_file       TEXT NOT NULL DEFAULT '',
			notes             TEXT NOT NULL DEFAULT '',
			source            TEXT NOT NULL CHECK(source IN ('llm','fallback','manual')),
			source_hash       TEXT UNIQUE NOT NULL,
			created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Append-only; unique_key collapses repeated emission of one event.
		`CREATE TABLE IF NOT EXISTS notifications (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			level      TEXT NOT NULL CHECK(level IN ('info','warning','error','success')),
			code       TEXT NOT NULL,
			text       TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '{}',
			unique_key TEXT UNIQUE NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS file_digests (
			sha256     TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			kind       TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS scan_jobs (
			id           TEXT PRIMARY KEY,
			folder       TEXT NOT NULL,
			status       TEXT NOT NULL CHECK(status IN ('pending','running','completed','failed')),
			progress     INTEGER NOT NULL DEFAULT 0,
			message      TEXT NOT NULL DEFAULT '',
			results      TEXT NOT NULL DEFAULT '{}',
			error        TEXT NOT NULL DEFAULT '',
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

// seedMeta initializes the meta table with defaults if not already set.
func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": "1",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

// migrateLookupIndexes adds the per-line window indexes used by conflict
// detection and planning-year inference, plus the notification cursor index.
func (s *SQLiteStore) migrateLookupIndexes() error {
	done, err := s.isMetaFlagEnabled("lookup_indexes_v1")
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_plan_tasks_line_window ON plan_tasks(line_id, start_date, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_downtimes_line_window ON downtimes(line_id, start_date, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_code ON notifications(code, id)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_jobs_created ON scan_jobs(created_at)`,
	}
	for _, ddl := range indexes {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("creating lookup index: %w", err)
		}
	}

	if err := s.setMetaFlag("lookup_indexes_v1"); err != nil {
		return fmt.Errorf("setting lookup_indexes_v1 flag: %w", err)
	}
	return nil
}

// truncate shortens a string for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
