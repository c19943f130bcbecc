package export

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hurttlocker/linewatch/internal/store"
)

const planSheet = "Plan"

var planHeader = []string{"ID", "Line", "Product", "Product code", "Task", "Start", "End", "Duration (days)", "Source", "Created"}

// planColumnWidths matches planHeader.
var planColumnWidths = []float64{8, 14, 28, 24, 24, 12, 12, 16, 14, 20}

// DurationDays counts a task's calendar days, both ends included.
func DurationDays(t store.PlanTask) int {
	return int(t.End.Sub(t.Start).Hours()/24) + 1
}

func planRecord(t store.PlanTask) []string {
	return []string{
		strconv.FormatInt(t.ID, 10),
		t.LineName,
		t.ProductName,
		t.ProductCode,
		t.Title,
		store.FormatDate(t.Start),
		store.FormatDate(t.End),
		strconv.Itoa(DurationDays(t)),
		t.Source,
		t.CreatedAt.UTC().Format(time.DateTime),
	}
}

// Plan writes tasks as XLSX or CSV. An empty plan still produces a file with
// the header row and returns ErrEmpty after notifying.
func (e *Exporter) Plan(ctx context.Context, w io.Writer, f Format, tasks []store.PlanTask) error {
	var err error
	switch f {
	case FormatCSV:
		records := make([][]string, len(tasks))
		for i, t := range tasks {
			records[i] = planRecord(t)
		}
		err = writeCSV(w, planHeader, records)
	case FormatXLSX:
		err = writePlanXLSX(w, tasks)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return e.empty(ctx, "plan", f)
	}
	e.log.Info("plan exported", "format", string(f), "rows", len(tasks))
	return nil
}

func writePlanXLSX(w io.Writer, tasks []store.PlanTask) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), planSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	header := make([]any, len(planHeader))
	for i, h := range planHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(planSheet, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	last, _ := excelize.ColumnNumberToName(len(planHeader))
	if err := f.SetCellStyle(planSheet, "A1", last+"1", bold); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}
	for i, width := range planColumnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(planSheet, col, col, width); err != nil {
			return fmt.Errorf("sizing column %s: %w", col, err)
		}
	}

	for i, t := range tasks {
		row := []any{
			t.ID, t.LineName, t.ProductName, t.ProductCode, t.Title,
			store.FormatDate(t.Start), store.FormatDate(t.End), DurationDays(t), t.Source,
			t.CreatedAt.UTC().Format(time.DateTime),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(planSheet, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(planSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freezing header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
