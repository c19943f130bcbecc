package export

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/hurttlocker/linewatch/internal/conflict"
	"github.com/hurttlocker/linewatch/internal/store"
)

var conflictHeader = []string{
	"id", "line", "task", "product", "plan_start", "plan_end",
	"downtime_start", "downtime_end", "overlap_start", "overlap_end",
	"kind", "status", "source", "confidence", "evidence", "source_file", "detected_at",
}

// ConflictRow is the flat export shape of a conflict.
type ConflictRow struct {
	ID            string `json:"id"`
	Line          string `json:"line"`
	Task          string `json:"task"`
	Product       string `json:"product"`
	PlanStart     string `json:"plan_start"`
	PlanEnd       string `json:"plan_end"`
	DowntimeStart string `json:"downtime_start"`
	DowntimeEnd   string `json:"downtime_end"`
	OverlapStart  string `json:"overlap_start"`
	OverlapEnd    string `json:"overlap_end"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	Source        string `json:"source"`
	Confidence    string `json:"confidence"`
	Evidence      string `json:"evidence"`
	SourceFile    string `json:"source_file"`
	DetectedAt    string `json:"detected_at"`
}

// ConflictRows flattens conflicts for export.
func ConflictRows(cs []conflict.Conflict) []ConflictRow {
	rows := make([]ConflictRow, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, ConflictRow{
			ID:            c.ID,
			Line:          c.Task.LineName,
			Task:          c.Task.Title,
			Product:       c.Task.ProductName,
			PlanStart:     store.FormatDate(c.Task.Start),
			PlanEnd:       store.FormatDate(c.Task.End),
			DowntimeStart: store.FormatDate(c.Downtime.Start),
			DowntimeEnd:   store.FormatDate(c.Downtime.End),
			OverlapStart:  store.FormatDate(c.OverlapStart),
			OverlapEnd:    store.FormatDate(c.OverlapEnd),
			Kind:          string(c.Downtime.Kind),
			Status:        string(c.Downtime.Status),
			Source:        string(c.Downtime.Source),
			Confidence:    strconv.FormatFloat(c.Downtime.Confidence, 'f', 2, 64),
			Evidence:      c.Downtime.EvidenceQuote,
			SourceFile:    c.Downtime.SourceFile,
			DetectedAt:    c.DetectedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func (r ConflictRow) record() []string {
	return []string{
		r.ID, r.Line, r.Task, r.Product, r.PlanStart, r.PlanEnd,
		r.DowntimeStart, r.DowntimeEnd, r.OverlapStart, r.OverlapEnd,
		r.Kind, r.Status, r.Source, r.Confidence, r.Evidence, r.SourceFile, r.DetectedAt,
	}
}

// Conflicts writes cs as CSV or JSON. An empty list still produces a valid
// document and returns ErrEmpty after notifying.
func (e *Exporter) Conflicts(ctx context.Context, w io.Writer, f Format, cs []conflict.Conflict) error {
	rows := ConflictRows(cs)
	var err error
	switch f {
	case FormatCSV:
		records := make([][]string, len(rows))
		for i, r := range rows {
			records[i] = r.record()
		}
		err = writeCSV(w, conflictHeader, records)
	case FormatJSON:
		err = writeJSON(w, rows)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return e.empty(ctx, "conflicts", f)
	}
	e.log.Info("conflicts exported", "format", string(f), "rows", len(rows))
	return nil
}
