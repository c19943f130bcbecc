package plan

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hurttlocker/linewatch/internal/dates"
	"github.com/hurttlocker/linewatch/internal/ingest"
	"github.com/hurttlocker/linewatch/internal/lines"
	"github.com/hurttlocker/linewatch/internal/store"
)

func day(y int, m time.Month, d int) time.Time { return dates.Day(y, m, d) }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// countingResolver is the real store-backed resolver with an invalidation count.
type countingResolver struct {
	*lines.Resolver
	n int
}

func (c *countingResolver) Invalidate() {
	c.n++
	c.Resolver.Invalidate()
}

func newCountingResolver(s *store.SQLiteStore) *countingResolver {
	return &countingResolver{Resolver: lines.NewResolver(s, lines.Options{DefaultLine: "Line_66"}, nil)}
}

// --- Schedule ---

func TestScheduleShiftsTouchingTask(t *testing.T) {
	rows := []Row{
		{Index: 3, Title: "B", Line: "L", Start: day(2026, 4, 30), End: day(2026, 7, 31)},
		{Index: 2, Title: "A", Line: "L", Start: day(2026, 1, 1), End: day(2026, 4, 30)},
	}
	shifts := Schedule(rows, 0)
	if rows[0].Title != "A" {
		t.Fatalf("rows not sorted by start: %+v", rows)
	}
	if len(shifts) != 1 {
		t.Fatalf("expected 1 shift, got %d", len(shifts))
	}
	if !rows[1].Start.Equal(day(2026, 5, 1)) || !rows[1].End.Equal(day(2026, 7, 31)) {
		t.Errorf("unexpected corrected window %s..%s", rows[1].Start, rows[1].End)
	}
	if shifts[0].Days != 1 || shifts[0].ExceedsGuard {
		t.Errorf("unexpected shift %+v", shifts[0])
	}
}

func TestScheduleExtendsContainedTask(t *testing.T) {
	rows := []Row{
		{Index: 2, Title: "A", Line: "L", Start: day(2026, 1, 1), End: day(2026, 4, 30)},
		{Index: 3, Title: "B", Line: "L", Start: day(2026, 2, 1), End: day(2026, 2, 10)},
		{Index: 4, Title: "C", Line: "L", Start: day(2026, 3, 1), End: day(2026, 3, 5)},
	}
	shifts := Schedule(rows, 30)
	if len(shifts) != 2 {
		t.Fatalf("expected 2 shifts, got %d", len(shifts))
	}
	// running max end stays 30.04 after B is pushed to 01.05, then C follows B
	if !rows[1].Start.Equal(day(2026, 5, 1)) || !rows[1].End.Equal(day(2026, 5, 1)) {
		t.Errorf("B: %s..%s", rows[1].Start, rows[1].End)
	}
	if !rows[2].Start.Equal(day(2026, 5, 2)) || !rows[2].End.Equal(day(2026, 5, 2)) {
		t.Errorf("C: %s..%s", rows[2].Start, rows[2].End)
	}
	if !shifts[0].ExceedsGuard || !shifts[1].ExceedsGuard {
		t.Errorf("shifts beyond 30 days should exceed the guard: %+v", shifts)
	}
}

func TestScheduleIsPerLineAndStable(t *testing.T) {
	rows := []Row{
		{Index: 2, Title: "A", Line: "L1", Start: day(2026, 1, 1), End: day(2026, 1, 10)},
		{Index: 3, Title: "B", Line: "L2", Start: day(2026, 1, 1), End: day(2026, 1, 10)},
		{Index: 4, Title: "C", Line: "L1", Start: day(2026, 1, 11), End: day(2026, 1, 20)},
	}
	if shifts := Schedule(rows, 0); len(shifts) != 0 {
		t.Fatalf("expected no shifts, got %+v", shifts)
	}
	if rows[0].Title != "A" || rows[1].Title != "B" {
		t.Errorf("equal starts must keep row order: %+v", rows)
	}
}

// --- Headers ---

func TestMatchHeadersExactAndFuzzy(t *testing.T) {
	cols, err := matchHeaders([]string{"Продукт", "Произ. Задание", "Начало выполнения", "Завершение выполнения", "Линия"})
	if err != nil {
		t.Fatalf("matchHeaders: %v", err)
	}
	if cols[colTask] != 1 || cols[colProduct] != 0 || cols[colLine] != 4 {
		t.Errorf("unexpected exact mapping %v", cols)
	}

	cols, err = matchHeaders([]string{"Task name", "Product", "Start date", "Finish date"})
	if err != nil {
		t.Fatalf("matchHeaders fuzzy: %v", err)
	}
	if cols[colTask] != 0 || cols[colProduct] != 1 || cols[colStart] != 2 || cols[colEnd] != 3 {
		t.Errorf("unexpected fuzzy mapping %v", cols)
	}
	if _, ok := cols[colLine]; ok {
		t.Error("line column should be optional")
	}
}

func TestMatchHeadersMissing(t *testing.T) {
	_, err := matchHeaders([]string{"Продукт", "Комментарий"})
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected ErrMissingColumns, got %v", err)
	}
	var mce *MissingColumnsError
	if !errors.As(err, &mce) {
		t.Fatalf("expected *MissingColumnsError, got %T", err)
	}
	if len(mce.Missing) != 3 || len(mce.Expected) != 4 || len(mce.Found) != 2 {
		t.Errorf("unexpected error detail %+v", mce)
	}
	if !strings.Contains(err.Error(), "Комментарий") {
		t.Errorf("error should list found headers: %v", err)
	}
}

// --- Import ---

const planCSV = "Произ. Задание;Продукт;Начало выполнения;Завершение выполнения\n" +
	"З-001;Клубника сублимированная;01.01.2026;30.04.2026\n" +
	"З-002;Малина;30.04.2026;31.07.2026\n"

func TestImportOverlapAndIdempotentReupload(t *testing.T) {
	s := newTestStore(t)
	cache := newCountingResolver(s)
	r := NewReconciler(s, cache, Options{DefaultLine: "Line_66"}, nil)
	ctx := context.Background()

	res, err := r.Import(ctx, "plan.csv", []byte(planCSV), "")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Created != 2 || res.Updated != 0 || res.Skipped != 0 || res.Duplicate {
		t.Fatalf("unexpected first result %+v", res)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "01.05.2026") {
		t.Errorf("expected one shift warning, got %v", res.Warnings)
	}

	tasks, err := s.ListPlanTasks(ctx, store.TaskFilter{})
	if err != nil {
		t.Fatalf("ListPlanTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	second := tasks[1]
	if second.Title != "З-002" || !second.Start.Equal(day(2026, 5, 1)) || !second.End.Equal(day(2026, 7, 31)) {
		t.Errorf("unexpected corrected task %+v", second)
	}
	if second.LineName != "Line_66" || second.Source != store.TaskSourceSpreadsheet {
		t.Errorf("unexpected task provenance %+v", second)
	}

	res2, err := r.Import(ctx, "plan.csv", []byte(planCSV), "")
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if res2.Created != 0 || res2.Updated != 2 || !res2.Duplicate {
		t.Fatalf("unexpected second result %+v", res2)
	}
	if !strings.Contains(res2.Warnings[0], "previously imported") {
		t.Errorf("expected duplicate warning first, got %v", res2.Warnings)
	}

	ns, err := s.ListNotifications(ctx, store.NotificationFilter{Code: store.CodePlanDateCoerced})
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(ns) != 1 {
		t.Errorf("expected 1 deduplicated PLAN_DATE_COERCED, got %d", len(ns))
	}
	if cache.n != 2 {
		t.Errorf("line cache should be invalidated per import, got %d", cache.n)
	}
}

func TestImportRowWarnings(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s, nil, Options{DefaultLine: "Line_66"}, nil)

	data := "task,product,start,end,line\n" +
		",Малина,01.01.2026,02.01.2026,\n" +
		"T2,Малина,завтра,02.01.2026,\n" +
		"T3,Малина,10.06.2026,31.04.2026,Line_12\n" +
		"T4,,01.01.2026,02.01.2026,\n"
	res, err := r.Import(context.Background(), "plan.csv", []byte(data), "")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Created != 1 || res.Skipped != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	joined := strings.Join(res.Warnings, "\n")
	for _, want := range []string{"empty task title", "unparseable start date", "corrected to 30.04.2026", "dates swapped", "empty product"} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings missing %q:\n%s", want, joined)
		}
	}

	tasks, _ := s.ListPlanTasks(context.Background(), store.TaskFilter{})
	if len(tasks) != 1 || tasks[0].LineName != "Line_12" || !tasks[0].Start.Equal(day(2026, 4, 30)) || !tasks[0].End.Equal(day(2026, 6, 10)) {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestImportRejectsBadFiles(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s, nil, Options{DefaultLine: "Line_66", MaxFileBytes: 64}, nil)
	ctx := context.Background()

	if _, err := r.Import(ctx, "plan.csv", []byte(strings.Repeat("x", 65)), ""); !errors.Is(err, ingest.ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if _, err := r.Import(ctx, "plan.pdf", []byte("x"), ""); !errors.Is(err, ingest.ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := r.Import(ctx, "plan.csv", []byte("a;b\n1;2\n"), ""); !errors.Is(err, ErrMissingColumns) {
		t.Errorf("expected ErrMissingColumns, got %v", err)
	}
	tasks, _ := s.ListPlanTasks(ctx, store.TaskFilter{})
	if len(tasks) != 0 {
		t.Error("rejected files must not write tasks")
	}
}

func TestImportLineOverride(t *testing.T) {
	s := newTestStore(t)
	r := NewReconciler(s, nil, Options{DefaultLine: "Line_66"}, nil)
	if _, err := r.Import(context.Background(), "plan.csv", []byte(planCSV), "Line_7"); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, err := s.GetLineByName(context.Background(), "Line_7"); err != nil {
		t.Fatalf("override line should be created: %v", err)
	}
}

func TestImportResolvesLineColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.EnsureLine(ctx, "Line_66"); err != nil {
		t.Fatal(err)
	}
	r := NewReconciler(s, newCountingResolver(s), Options{DefaultLine: "Line_66"}, nil)

	data := "Произ. Задание;Продукт;Начало выполнения;Завершение выполнения;Линия\n" +
		"T1;Малина;01.05.2026;10.05.2026;Линия 66\n" +
		"T2;Малина;05.05.2026;20.05.2026;66-я линия\n" +
		"T3;Малина;01.05.2026;02.05.2026;конвейер\n"
	res, err := r.Import(ctx, "plan.csv", []byte(data), "")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Created != 2 || res.Skipped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(strings.Join(res.Warnings, "\n"), `unknown line "конвейер"`) {
		t.Errorf("expected an unknown line warning, got %v", res.Warnings)
	}

	all, err := s.ListLines(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Name != "Line_66" {
		t.Fatalf("import must not invent lines, got %+v", all)
	}
	tasks, _ := s.ListPlanTasks(ctx, store.TaskFilter{})
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %+v", tasks)
	}
	for _, task := range tasks {
		if task.LineName != "Line_66" {
			t.Errorf("task %s on %q, want Line_66", task.Title, task.LineName)
		}
	}
	// Both rows share one line, so the overlap correction applies across them.
	if tasks[1].Title != "T2" || !tasks[1].Start.Equal(day(2026, 5, 11)) {
		t.Errorf("expected T2 shifted to 2026-05-11, got %+v", tasks[1])
	}

	ns, err := s.ListNotifications(ctx, store.NotificationFilter{Code: store.CodeAliasUnknown})
	if err != nil {
		t.Fatal(err)
	}
	if len(ns) != 1 {
		t.Errorf("expected 1 ALIAS_UNKNOWN, got %d", len(ns))
	}
}
