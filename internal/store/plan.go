package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Plan task sources.
const (
	TaskSourceSpreadsheet = "spreadsheet"
	TaskSourceManual      = "manual"
	TaskSourceAPI         = "api"
)

// Product is a manufactured item referenced by plan tasks.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// PlanTask is one scheduled production task on a line.
type PlanTask struct {
	ID          int64     `json:"id"`
	LineID      int64     `json:"line_id"`
	LineName    string    `json:"line"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product"`
	ProductCode string    `json:"product_code"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start_date"`
	End         time.Time `json:"end_date"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskFilter narrows ListPlanTasks.
type TaskFilter struct {
	LineID int64 // 0 = all lines
	Limit  int   // 0 = no limit
	Offset int
}

// EnsureProduct returns the product with the given name, creating it with a
// generated code when absent. The bool reports whether it was created.
func (s *SQLiteStore) EnsureProduct(ctx context.Context, name string) (*Product, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, fmt.Errorf("product name is required")
	}
	p, err := s.getProductByName(ctx, name)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	code, err := s.nextProductCode(ctx, name)
	if err != nil {
		return nil, false, err
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO products (name, code, created_at) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		name, code, time.Now().UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("creating product %q: %w", name, err)
	}
	n, _ := result.RowsAffected()
	p, err = s.getProductByName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	return p, n > 0, nil
}

func (s *SQLiteStore) getProductByName(ctx context.Context, name string) (*Product, error) {
	var p Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, code, created_at FROM products WHERE name = ?`, name,
	).Scan(&p.ID, &p.Name, &p.Code, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", name, err)
	}
	return &p, nil
}

// ProductCodeBase derives the code prefix for a product name: the first 20
// characters, upper-cased, with spaces replaced by underscores.
func ProductCodeBase(name string) string {
	r := []rune(strings.TrimSpace(name))
	if len(r) > 20 {
		r = r[:20]
	}
	return strings.ReplaceAll(strings.ToUpper(string(r)), " ", "_")
}

func (s *SQLiteStore) nextProductCode(ctx context.Context, name string) (string, error) {
	base := ProductCodeBase(name)
	for counter := 1; ; counter++ {
		code := fmt.Sprintf("%s_%03d", base, counter)
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE code = ?`, code).Scan(&exists); err != nil {
			return "", fmt.Errorf("checking product code: %w", err)
		}
		if exists == 0 {
			return code, nil
		}
	}
}

// UpsertPlanTask inserts or updates a task by its (line, product, title)
// natural key. Returns the task id and whether a new row was created.
func (s *SQLiteStore) UpsertPlanTask(ctx context.Context, t *PlanTask) (int64, bool, error) {
	if t.End.Before(t.Start) {
		return 0, false, fmt.Errorf("task %q: end %s before start %s", t.Title, FormatDate(t.End), FormatDate(t.Start))
	}
	if t.Source == "" {
		t.Source = TaskSourceSpreadsheet
	}
	now := time.Now().UTC()

	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM plan_tasks WHERE line_id = ? AND product_id = ? AND title = ?`,
		t.LineID, t.ProductID, t.Title,
	).Scan(&existing)
	switch {
	case err == nil:
		if _, err := s.db.ExecContext(ctx,
			`UPDATE plan_tasks SET start_date = ?, end_date = ?, source = ?, updated_at = ? WHERE id = ?`,
			FormatDate(t.Start), FormatDate(t.End), t.Source, now, existing,
		); err != nil {
			return 0, false, fmt.Errorf("updating plan task %q: %w", t.Title, err)
		}
		t.ID = existing
		return existing, false, nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return 0, false, fmt.Errorf("looking up plan task %q: %w", t.Title, err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO plan_tasks (line_id, product_id, title, start_date, end_date, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.LineID, t.ProductID, t.Title, FormatDate(t.Start), FormatDate(t.End), t.Source, now, now,
	)
	if err != nil {
		return 0, false, fmt.Errorf("creating plan task %q: %w", t.Title, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("getting plan task id: %w", err)
	}
	t.ID = id
	t.CreatedAt = now
	return id, true, nil
}

const planTaskSelect = `SELECT t.id, t.line_id, l.name, t.product_id, p.name, p.code, t.title,
	t.start_date, t.end_date, t.source, t.created_at, t.updated_at
	FROM plan_tasks t
	JOIN production_lines l ON l.id = t.line_id
	JOIN products p ON p.id = t.product_id`

// ListPlanTasks returns tasks ordered by line, start date, id.
func (s *SQLiteStore) ListPlanTasks(ctx context.Context, filter TaskFilter) ([]PlanTask, error) {
	query := planTaskSelect
	var args []interface{}
	if filter.LineID > 0 {
		query += ` WHERE t.line_id = ?`
		args = append(args, filter.LineID)
	}
	query += ` ORDER BY l.name, t.start_date, t.id`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing plan tasks: %w", err)
	}
	defer rows.Close()

	var tasks []PlanTask
	for rows.Next() {
		var t PlanTask
		var start, end string
		if err := rows.Scan(&t.ID, &t.LineID, &t.LineName, &t.ProductID, &t.ProductName, &t.ProductCode,
			&t.Title, &start, &end, &t.Source, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning plan task: %w", err)
		}
		if t.Start, err = ParseDate(start); err != nil {
			return nil, fmt.Errorf("plan task %d start: %w", t.ID, err)
		}
		if t.End, err = ParseDate(end); err != nil {
			return nil, fmt.Errorf("plan task %d end: %w", t.ID, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// PlanStartDates returns task start dates, optionally scoped to one line.
// A line name the store does not know widens the query to every line.
// Feeds planning-year inference.
func (s *SQLiteStore) PlanStartDates(ctx context.Context, lineName string) ([]time.Time, error) {
	if lineName != "" {
		var id int64
		err := s.db.QueryRowContext(ctx, `SELECT id FROM production_lines WHERE name = ?`, lineName).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			lineName = ""
		case err != nil:
			return nil, fmt.Errorf("looking up line %s: %w", lineName, err)
		}
	}
	query := `SELECT t.start_date FROM plan_tasks t`
	var args []interface{}
	if lineName != "" {
		query += ` JOIN production_lines l ON l.id = t.line_id WHERE l.name = ?`
		args = append(args, lineName)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing plan start dates: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning start date: %w", err)
		}
		d, err := ParseDate(raw)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// FormatDate renders a calendar date in the storage layout (YYYY-MM-DD).
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// ParseDate parses a storage-layout calendar date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
