package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hurttlocker/linewatch/internal/conflict"
	"github.com/hurttlocker/linewatch/internal/dates"
	"github.com/hurttlocker/linewatch/internal/store"
)

type recordingNotifier struct {
	codes []store.NotificationCode
}

func (n *recordingNotifier) Notify(_ context.Context, code store.NotificationCode, _ string, _ map[string]any) (bool, error) {
	n.codes = append(n.codes, code)
	return true, nil
}

func sampleConflict() conflict.Conflict {
	return conflict.Conflict{
		ID: "abc123",
		Task: store.PlanTask{
			ID: 1, LineName: "Line_66", ProductName: "Малина", Title: "З-001",
			Start: dates.Day(2026, 5, 1), End: dates.Day(2026, 5, 31),
		},
		Downtime: store.Downtime{
			ID: 7, Start: dates.Day(2026, 5, 12), End: dates.Day(2026, 5, 15),
			Kind: store.KindRepair, Status: store.StatusApproved, Source: store.SourceLLM,
			Confidence: 0.875, EvidenceQuote: "ремонт линии 66, \"срочно\"", SourceFile: "protocol.txt",
		},
		OverlapStart: dates.Day(2026, 5, 12),
		OverlapEnd:   dates.Day(2026, 5, 15),
		DetectedAt:   time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestConflictsCSV(t *testing.T) {
	n := &recordingNotifier{}
	var buf bytes.Buffer
	if err := NewExporter(n, nil).Conflicts(context.Background(), &buf, FormatCSV, []conflict.Conflict{sampleConflict()}); err != nil {
		t.Fatalf("Conflicts: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("reading csv back: %v", err)
	}
	if len(records) != 2 || strings.Join(records[0], ",") != strings.Join(conflictHeader, ",") {
		t.Fatalf("unexpected csv %v", records)
	}
	row := records[1]
	if row[1] != "Line_66" || row[8] != "2026-05-12" || row[13] != "0.88" || row[14] != "ремонт линии 66, \"срочно\"" {
		t.Errorf("unexpected row %v", row)
	}
	if len(n.codes) != 0 {
		t.Errorf("non-empty export must not notify, got %v", n.codes)
	}
}

func TestConflictsEmpty(t *testing.T) {
	n := &recordingNotifier{}
	e := NewExporter(n, nil)

	var buf bytes.Buffer
	err := e.Conflicts(context.Background(), &buf, FormatJSON, nil)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	var rows []ConflictRow
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil || rows == nil || len(rows) != 0 {
		t.Errorf("empty JSON export should be [], got %q", buf.String())
	}

	buf.Reset()
	if err := e.Conflicts(context.Background(), &buf, FormatCSV, nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if strings.TrimSpace(buf.String()) != strings.Join(conflictHeader, ",") {
		t.Errorf("empty CSV export should hold the header, got %q", buf.String())
	}
	if len(n.codes) != 2 || n.codes[0] != store.CodeExportEmpty {
		t.Errorf("expected two EXPORT_EMPTY notifications, got %v", n.codes)
	}
}

func TestPlanXLSX(t *testing.T) {
	tasks := []store.PlanTask{{
		ID: 3, LineName: "Line_66", ProductName: "Малина", ProductCode: "МАЛИНА_001", Title: "З-002",
		Start: dates.Day(2026, 5, 1), End: dates.Day(2026, 7, 31), Source: store.TaskSourceSpreadsheet,
		CreatedAt: time.Date(2026, 1, 10, 8, 30, 0, 0, time.UTC),
	}}
	var buf bytes.Buffer
	if err := NewExporter(nil, nil).Plan(context.Background(), &buf, FormatXLSX, tasks); err != nil {
		t.Fatalf("Plan: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("opening workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(planSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 2 || rows[0][7] != "Duration (days)" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if rows[1][0] != "3" || rows[1][5] != "2026-05-01" || rows[1][7] != "92" || rows[1][9] != "2026-01-10 08:30:00" {
		t.Errorf("unexpected data row %v", rows[1])
	}
}

func TestPlanCSVEmptyAndFormats(t *testing.T) {
	var buf bytes.Buffer
	err := NewExporter(nil, nil).Plan(context.Background(), &buf, FormatCSV, nil)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if !strings.HasPrefix(buf.String(), "ID,Line,Product,Product code,Task,Start,End,Duration (days),Source,Created") {
		t.Errorf("unexpected header %q", buf.String())
	}

	if err := NewExporter(nil, nil).Plan(context.Background(), &buf, FormatJSON, nil); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if f, err := ParseFormat("", FormatXLSX, FormatCSV); err != nil || f != FormatXLSX {
		t.Errorf("ParseFormat default = %q, %v", f, err)
	}
	if f, err := ParseFormat(" CSV ", FormatXLSX, FormatCSV); err != nil || f != FormatCSV {
		t.Errorf("ParseFormat csv = %q, %v", f, err)
	}
	if _, err := ParseFormat("pdf", FormatCSV, FormatJSON); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if got := FormatCSV.FileName("conflicts", time.Date(2026, 5, 12, 10, 15, 0, 0, time.UTC)); got != "conflicts_20260512_101500.csv" {
		t.Errorf("FileName = %q", got)
	}
}
