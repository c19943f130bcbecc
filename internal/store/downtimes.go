package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DowntimeStatus is the lifecycle status of a downtime, ordered by priority.
type DowntimeStatus string

const (
	StatusApproved  DowntimeStatus = "approved"
	StatusDone      DowntimeStatus = "done"
	StatusPlanned   DowntimeStatus = "planned"
	StatusProposed  DowntimeStatus = "proposed"
	StatusDiscussed DowntimeStatus = "discussed"
)

// Priority ranks statuses: approved(5) > done(4) > planned(3) > proposed(2) > discussed(1).
// Unknown statuses rank 0.
func (s DowntimeStatus) Priority() int {
	switch s {
	case StatusApproved:
		return 5
	case StatusDone:
		return 4
	case StatusPlanned:
		return 3
	case StatusProposed:
		return 2
	case StatusDiscussed:
		return 1
	}
	return 0
}

// Valid reports whether s is one of the known statuses.
func (s DowntimeStatus) Valid() bool { return s.Priority() > 0 }

// DowntimeKind classifies the work performed during a downtime.
type DowntimeKind string

const (
	KindMaintenance DowntimeKind = "maintenance"
	KindRepair      DowntimeKind = "repair"
	KindUpgrade     DowntimeKind = "upgrade"
	KindOther       DowntimeKind = "other"
)

// Valid reports whether k is one of the known kinds.
func (k DowntimeKind) Valid() bool {
	switch k {
	case KindMaintenance, KindRepair, KindUpgrade, KindOther:
		return true
	}
	return false
}

// DowntimeSource records which extraction path produced a downtime.
type DowntimeSource string

const (
	SourceLLM      DowntimeSource = "llm"
	SourceFallback DowntimeSource = "fallback"
	SourceManual   DowntimeSource = "manual"
)

// Downtime is an interval during which a line is not producing.
type Downtime struct {
	ID               int64          `json:"id"`
	LineID           *int64         `json:"line_id,omitempty"`
	LineName         string         `json:"line,omitempty"`
	Start            time.Time      `json:"start_date"`
	End              time.Time      `json:"end_date"`
	Status           DowntimeStatus `json:"status"`
	Kind             DowntimeKind   `json:"kind"`
	Confidence       float64        `json:"confidence"`
	PartialStart     bool           `json:"partial_date_start"`
	PartialEnd       bool           `json:"partial_date_end"`
	EvidenceQuote    string         `json:"evidence_quote"`
	EvidenceLocation string         `json:"evidence_location"`
	SourceFile       string         `json:"source_file"`
	Notes            string         `json:"notes"`
	Source           DowntimeSource `json:"source"`
	SourceHash       string         `json:"source_hash"`
	CreatedAt        time.Time      `json:"created_at"`
}

// DowntimeFilter narrows ListDowntimes.
type DowntimeFilter struct {
	LineID int64 // 0 = all lines
	IDs    []int64
	Limit  int // 0 = no limit
	Offset int
}

// InsertDowntime stores a downtime unless a row with the same source hash
// already exists. The bool reports whether a row was created; on a duplicate
// it is false and d.ID is left untouched.
func (s *SQLiteStore) InsertDowntime(ctx context.Context, d *Downtime) (bool, error) {
	if d.SourceHash == "" {
		d.SourceHash = HashEvidence(d.EvidenceQuote, d.SourceFile)
	}
	if d.End.Before(d.Start) {
		d.Start, d.End = d.End, d.Start
	}
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO downtimes (line_id, start_date, end_date, status, kind, confidence,
		                        partial_start, partial_end, evidence_quote, evidence_location,
		                        source_file, notes, source, source_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_hash) DO NOTHING`,
		nullableInt64(d.LineID), FormatDate(d.Start), FormatDate(d.End), d.Status, d.Kind, d.Confidence,
		d.PartialStart, d.PartialEnd, d.EvidenceQuote, d.EvidenceLocation,
		d.SourceFile, d.Notes, d.Source, d.SourceHash, now,
	)
	if err != nil {
		return false, fmt.Errorf("creating downtime: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking downtime insert: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("getting downtime id: %w", err)
	}
	d.ID = id
	d.CreatedAt = now
	return true, nil
}

// ListDowntimes returns downtimes ordered by start date, id.
func (s *SQLiteStore) ListDowntimes(ctx context.Context, filter DowntimeFilter) ([]Downtime, error) {
	var conditions []string
	var args []interface{}

	if filter.LineID > 0 {
		conditions = append(conditions, "d.line_id = ?")
		args = append(args, filter.LineID)
	}
	if len(filter.IDs) > 0 {
		marks := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			marks[i] = "?"
			args = append(args, id)
		}
		conditions = append(conditions, "d.id IN ("+strings.Join(marks, ",")+")")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(
		`SELECT d.id, d.line_id, COALESCE(l.name, ''), d.start_date, d.end_date, d.status, d.kind,
		        d.confidence, d.partial_start, d.partial_end, d.evidence_quote, d.evidence_location,
		        d.source_file, d.notes, d.source, d.source_hash, d.created_at
		 FROM downtimes d LEFT JOIN production_lines l ON l.id = d.line_id
		 %s ORDER BY d.start_date, d.id`, where)
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing downtimes: %w", err)
	}
	defer rows.Close()

	var out []Downtime
	for rows.Next() {
		var d Downtime
		var lineID sql.NullInt64
		var start, end string
		if err := rows.Scan(&d.ID, &lineID, &d.LineName, &start, &end, &d.Status, &d.Kind,
			&d.Confidence, &d.PartialStart, &d.PartialEnd, &d.EvidenceQuote, &d.EvidenceLocation,
			&d.SourceFile, &d.Notes, &d.Source, &d.SourceHash, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning downtime: %w", err)
		}
		if lineID.Valid {
			v := lineID.Int64
			d.LineID = &v
		}
		if d.Start, err = ParseDate(start); err != nil {
			return nil, fmt.Errorf("downtime %d start: %w", d.ID, err)
		}
		if d.End, err = ParseDate(end); err != nil {
			return nil, fmt.Errorf("downtime %d end: %w", d.ID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountDowntimes returns the total number of stored downtimes.
func (s *SQLiteStore) CountDowntimes(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downtimes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting downtimes: %w", err)
	}
	return n, nil
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
