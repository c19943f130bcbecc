package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Line is a canonical production line.
type Line struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// LineAlias is a weighted free-text variant of a line name.
type LineAlias struct {
	ID       int64   `json:"id"`
	LineID   int64   `json:"line_id"`
	LineName string  `json:"line"`
	Alias    string  `json:"alias"`
	Weight   float64 `json:"weight"`
}

// EnsureLine returns the line with the given canonical name, creating it
// (active) if it does not exist yet.
func (s *SQLiteStore) EnsureLine(ctx context.Context, name string) (*Line, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("line name is required")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO production_lines (name, active, created_at) VALUES (?, 1, ?)`,
		name, time.Now().UTC(),
	); err != nil {
		return nil, fmt.Errorf("creating line %q: %w", name, err)
	}
	return s.GetLineByName(ctx, name)
}

// GetLineByName looks up a line by canonical name. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetLineByName(ctx context.Context, name string) (*Line, error) {
	var l Line
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, active, created_at FROM production_lines WHERE name = ?`, name,
	).Scan(&l.ID, &l.Name, &l.Active, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("line %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting line %q: %w", name, err)
	}
	return &l, nil
}

// ListLines returns lines ordered by name.
func (s *SQLiteStore) ListLines(ctx context.Context, activeOnly bool) ([]Line, error) {
	query := `SELECT id, name, active, created_at FROM production_lines`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.Name, &l.Active, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// SetLineActive toggles whether a line participates in alias resolution.
func (s *SQLiteStore) SetLineActive(ctx context.Context, lineID int64, active bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE production_lines SET active = ? WHERE id = ?`, active, lineID)
	if err != nil {
		return fmt.Errorf("updating line %d: %w", lineID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("line %d: %w", lineID, ErrNotFound)
	}
	return nil
}

// UpsertAlias stores an alias for a line. Re-adding an existing alias updates its weight.
func (s *SQLiteStore) UpsertAlias(ctx context.Context, lineID int64, alias string, weight float64) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return fmt.Errorf("alias text is required")
	}
	if weight < 0 || weight > 2 {
		return fmt.Errorf("alias weight %.2f outside [0, 2]", weight)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO line_aliases (line_id, alias, weight, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(line_id, alias) DO UPDATE SET weight = excluded.weight`,
		lineID, alias, weight, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting alias %q: %w", alias, err)
	}
	return nil
}

// ListAliases returns the aliases of all active lines, ordered by line then alias.
func (s *SQLiteStore) ListAliases(ctx context.Context) ([]LineAlias, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.line_id, l.name, a.alias, a.weight
		 FROM line_aliases a JOIN production_lines l ON l.id = a.line_id
		 WHERE l.active = 1
		 ORDER BY l.name, a.alias`)
	if err != nil {
		return nil, fmt.Errorf("listing aliases: %w", err)
	}
	defer rows.Close()

	var aliases []LineAlias
	for rows.Next() {
		var a LineAlias
		if err := rows.Scan(&a.ID, &a.LineID, &a.LineName, &a.Alias, &a.Weight); err != nil {
			return nil, fmt.Errorf("scanning alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}
