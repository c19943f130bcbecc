// Package plan imports production-plan spreadsheets. Rows are parsed
// independently, globally ordered by start date, corrected so tasks on the
// same line never overlap, and upserted by their (line, product, title) key.
package plan

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hurttlocker/linewatch/internal/dates"
	"github.com/hurttlocker/linewatch/internal/ingest"
	"github.com/hurttlocker/linewatch/internal/lines"
	"github.com/hurttlocker/linewatch/internal/logging"
	"github.com/hurttlocker/linewatch/internal/store"
)

// DefaultMaxFileBytes caps plan uploads.
const DefaultMaxFileBytes = 20 << 20

// Store is the persistence the reconciler needs.
type Store interface {
	EnsureLine(ctx context.Context, name string) (*store.Line, error)
	EnsureProduct(ctx context.Context, name string) (*store.Product, bool, error)
	UpsertPlanTask(ctx context.Context, t *store.PlanTask) (int64, bool, error)
	HasDigest(ctx context.Context, sha string) (bool, error)
	RecordDigest(ctx context.Context, sha, name, kind string) error
	Notify(ctx context.Context, code store.NotificationCode, text string, payload map[string]any) (bool, error)
}

// LineResolver maps free-text line values to canonical line names and is
// told when reference data (lines) may have changed.
type LineResolver interface {
	Resolve(ctx context.Context, mention string) (lines.Match, bool, error)
	Invalidate()
}

// Options configures a Reconciler.
type Options struct {
	DefaultLine  string
	MaxShiftDays int   // 0 = no guard
	MaxFileBytes int64 // 0 = DefaultMaxFileBytes
}

// Row is one parsed plan task.
type Row struct {
	Index   int // spreadsheet row number (header is row 1)
	Title   string
	Product string
	Line    string
	Start   time.Time
	End     time.Time
}

// Shift records an overlap correction applied to a row.
type Shift struct {
	Row           int
	Title         string
	Line          string
	OriginalStart time.Time
	OriginalEnd   time.Time
	Start         time.Time
	End           time.Time
	Days          int
	ExceedsGuard  bool
}

// Result summarizes one import.
type Result struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"`
	Warnings  []string `json:"warnings"`
	Digest    string   `json:"digest"`
	Duplicate bool     `json:"duplicate"`
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Reconciler imports plan files.
type Reconciler struct {
	store Store
	lines LineResolver
	opts  Options
	log   *logging.Logger
}

// NewReconciler creates a Reconciler. A nil resolver accepts only the
// default line and explicit numbered names ("Line_12", "линия 12").
func NewReconciler(s Store, resolver LineResolver, opts Options, log *logging.Logger) *Reconciler {
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	if resolver == nil {
		resolver = staticResolver{lines.Build(nil, nil, opts.DefaultLine, nil)}
	}
	return &Reconciler{store: s, lines: resolver, opts: opts, log: logging.OrNop(log)}
}

type staticResolver struct{ c *lines.Catalog }

func (s staticResolver) Resolve(_ context.Context, mention string) (lines.Match, bool, error) {
	m, ok := s.c.Resolve(mention, lines.DefaultThreshold)
	return m, ok, nil
}

func (staticResolver) Invalidate() {}

// Import reads, corrects and persists a plan file. line overrides the
// configured default line for rows without a line column. Invalid files are
// rejected before anything is written; row problems become warnings.
func (r *Reconciler) Import(ctx context.Context, name string, data []byte, line string) (*Result, error) {
	if int64(len(data)) > r.opts.MaxFileBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ingest.ErrTooLarge, len(data), r.opts.MaxFileBytes)
	}
	table, err := ingest.ReadTable(name, data)
	if err != nil {
		return nil, err
	}
	if len(table) == 0 {
		return nil, &MissingColumnsError{Expected: append([]string(nil), expectedHeaders...), Missing: append([]string(nil), expectedHeaders...)}
	}
	cols, err := matchHeaders(table[0])
	if err != nil {
		return nil, err
	}

	if line = strings.TrimSpace(line); line == "" {
		line = r.opts.DefaultLine
	}
	res := &Result{Digest: store.HashBytes(data), Warnings: []string{}}
	if dup, err := r.store.HasDigest(ctx, res.Digest); err != nil {
		return nil, err
	} else if dup {
		res.Duplicate = true
		res.warn("file previously imported (sha256 %s); tasks are updated in place", res.Digest[:12])
	}

	rows, err := r.canonicalLines(ctx, name, parseRows(table[1:], cols, line, res), res)
	if err != nil {
		return nil, err
	}
	shifts := Schedule(rows, r.opts.MaxShiftDays)
	for _, s := range shifts {
		r.reportShift(ctx, name, s, res)
	}

	if err := r.persist(ctx, rows, res); err != nil {
		return nil, err
	}
	if err := r.store.RecordDigest(ctx, res.Digest, filepath.Base(name), store.DigestPlan); err != nil {
		return nil, err
	}
	r.lines.Invalidate()
	r.log.Info("plan imported", "file", name, "created", res.Created, "updated", res.Updated,
		"skipped", res.Skipped, "shifted", len(shifts), "duplicate", res.Duplicate)
	return res, nil
}

func parseRows(table [][]string, cols map[column]int, defaultLine string, res *Result) []Row {
	cell := func(row []string, c column) string {
		i, ok := cols[c]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var rows []Row
	for i, raw := range table {
		n := i + 2
		title := cell(raw, colTask)
		if title == "" {
			res.Skipped++
			res.warn("row %d: empty task title, skipped", n)
			continue
		}
		product := cell(raw, colProduct)
		if product == "" {
			res.Skipped++
			res.warn("row %d (%s): empty product, skipped", n, title)
			continue
		}
		start, ok := dates.ParseFull(cell(raw, colStart))
		if !ok {
			res.Skipped++
			res.warn("row %d (%s): unparseable start date %q, skipped", n, title, cell(raw, colStart))
			continue
		}
		end, ok := dates.ParseFull(cell(raw, colEnd))
		if !ok {
			res.Skipped++
			res.warn("row %d (%s): unparseable end date %q, skipped", n, title, cell(raw, colEnd))
			continue
		}
		for _, d := range []dates.Date{start, end} {
			if d.Correction != nil {
				res.warn("row %d (%s): %s", n, title, d.Correction)
			}
		}

		line := cell(raw, colLine)
		if line == "" {
			line = defaultLine
		}
		r := Row{Index: n, Title: title, Product: product, Line: line, Start: start.Time, End: end.Time}
		var swapped bool
		if r.Start, r.End, swapped = dates.OrderRange(r.Start, r.End); swapped {
			res.warn("row %d (%s): end before start, dates swapped", n, title)
		}
		rows = append(rows, r)
	}
	return rows
}

// canonicalLines replaces every row's line value with the canonical line it
// resolves to. Rows whose value resolves to nothing are skipped, and each
// such value is reported once as ALIAS_UNKNOWN.
func (r *Reconciler) canonicalLines(ctx context.Context, file string, rows []Row, res *Result) ([]Row, error) {
	resolved := map[string]string{}
	out := rows[:0]
	for _, row := range rows {
		canonical, seen := resolved[row.Line]
		if !seen {
			m, ok, err := r.lines.Resolve(ctx, row.Line)
			if err != nil {
				return nil, fmt.Errorf("resolving line %q: %w", row.Line, err)
			}
			if ok {
				canonical = m.Line
			} else {
				r.unknownLine(ctx, file, row.Line)
			}
			resolved[row.Line] = canonical
		}
		if canonical == "" {
			res.Skipped++
			res.warn("row %d (%s): unknown line %q, skipped", row.Index, row.Title, row.Line)
			continue
		}
		row.Line = canonical
		out = append(out, row)
	}
	return out, nil
}

func (r *Reconciler) unknownLine(ctx context.Context, file, value string) {
	_, err := r.store.Notify(ctx, store.CodeAliasUnknown,
		fmt.Sprintf("unknown line %q in plan %s", value, filepath.Base(file)),
		map[string]any{"mention": value, "file": filepath.Base(file)})
	if err != nil {
		r.log.Warn("notification failed", "code", string(store.CodeAliasUnknown), "error", err)
	}
}

// Schedule sorts rows by (start, row index) and shifts every task that
// starts on or before the latest end seen so far on its line to the day
// after that end, extending its end when needed. rows is reordered in place.
func Schedule(rows []Row, maxShiftDays int) []Shift {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Start.Equal(rows[j].Start) {
			return rows[i].Start.Before(rows[j].Start)
		}
		return rows[i].Index < rows[j].Index
	})

	var shifts []Shift
	prevEnd := map[string]time.Time{}
	for i := range rows {
		r := &rows[i]
		if last, ok := prevEnd[r.Line]; ok && !r.Start.After(last) {
			s := Shift{Row: r.Index, Title: r.Title, Line: r.Line, OriginalStart: r.Start, OriginalEnd: r.End}
			r.Start = last.AddDate(0, 0, 1)
			if r.End.Before(r.Start) {
				r.End = r.Start
			}
			s.Start, s.End = r.Start, r.End
			s.Days = int(r.Start.Sub(s.OriginalStart).Hours() / 24)
			s.ExceedsGuard = maxShiftDays > 0 && s.Days > maxShiftDays
			shifts = append(shifts, s)
		}
		if last, ok := prevEnd[r.Line]; !ok || r.End.After(last) {
			prevEnd[r.Line] = r.End
		}
	}
	return shifts
}

func (r *Reconciler) reportShift(ctx context.Context, file string, s Shift, res *Result) {
	res.warn("row %d (%s): start %s overlaps the previous task, moved to %s (end %s)",
		s.Row, s.Title, dates.Format(s.OriginalStart), dates.Format(s.Start), dates.Format(s.End))
	if s.ExceedsGuard {
		res.warn("row %d (%s): shifted %d days, more than the %d-day limit", s.Row, s.Title, s.Days, r.opts.MaxShiftDays)
	}
	_, err := r.store.Notify(ctx, store.CodePlanDateCoerced,
		fmt.Sprintf("task %s start moved from %s to %s", s.Title, dates.Format(s.OriginalStart), dates.Format(s.Start)),
		map[string]any{
			"file":            filepath.Base(file),
			"task":            s.Title,
			"line":            s.Line,
			"original_start":  store.FormatDate(s.OriginalStart),
			"original_end":    store.FormatDate(s.OriginalEnd),
			"corrected_start": store.FormatDate(s.Start),
			"corrected_end":   store.FormatDate(s.End),
			"shift_days":      s.Days,
		})
	if err != nil {
		r.log.Warn("notification failed", "code", string(store.CodePlanDateCoerced), "error", err)
	}
}

func (r *Reconciler) persist(ctx context.Context, rows []Row, res *Result) error {
	lineIDs := map[string]int64{}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineID, ok := lineIDs[row.Line]
		if !ok {
			l, err := r.store.EnsureLine(ctx, row.Line)
			if err != nil {
				res.Skipped++
				res.warn("row %d (%s): line %q: %v", row.Index, row.Title, row.Line, err)
				continue
			}
			lineID = l.ID
			lineIDs[row.Line] = lineID
		}
		product, _, err := r.store.EnsureProduct(ctx, row.Product)
		if err != nil {
			res.Skipped++
			res.warn("row %d (%s): product %q: %v", row.Index, row.Title, row.Product, err)
			continue
		}
		task := &store.PlanTask{
			LineID:    lineID,
			ProductID: product.ID,
			Title:     row.Title,
			Start:     row.Start,
			End:       row.End,
			Source:    store.TaskSourceSpreadsheet,
		}
		_, created, err := r.store.UpsertPlanTask(ctx, task)
		if err != nil {
			res.Skipped++
			res.warn("row %d (%s): %v", row.Index, row.Title, err)
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return nil
}
