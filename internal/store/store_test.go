package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// --- Database Initialization ---

func TestNewStore(t *testing.T) {
	s := newTestStore(t)

	tables := []string{"production_lines", "line_aliases", "products", "plan_tasks",
		"downtimes", "notifications", "file_digests", "scan_jobs", "meta"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	enabled, err := s.isMetaFlagEnabled("lookup_indexes_v1")
	if err != nil || !enabled {
		t.Fatalf("lookup_indexes_v1 flag = %v, %v", enabled, err)
	}
}

func TestNewStoreOnDisk(t *testing.T) {
	path := t.TempDir() + "/nested/linewatch.db"
	s, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()
	if s.Path() != path {
		t.Fatalf("Path() = %q, want %q", s.Path(), path)
	}
}

// --- Lines & aliases ---

func TestEnsureLineIsGetOrCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.EnsureLine(ctx, "Line_66")
	if err != nil {
		t.Fatalf("EnsureLine: %v", err)
	}
	b, err := s.EnsureLine(ctx, "Line_66")
	if err != nil {
		t.Fatalf("EnsureLine again: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same id, got %d and %d", a.ID, b.ID)
	}
	if !a.Active {
		t.Fatal("new line should be active")
	}

	if _, err := s.GetLineByName(ctx, "Line_99"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAliasesFollowActiveLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l66, _ := s.EnsureLine(ctx, "Line_66")
	l12, _ := s.EnsureLine(ctx, "Line_12")
	if err := s.UpsertAlias(ctx, l66.ID, "сушилка", 1.2); err != nil {
		t.Fatalf("UpsertAlias: %v", err)
	}
	if err := s.UpsertAlias(ctx, l66.ID, "сушилка", 1.5); err != nil {
		t.Fatalf("UpsertAlias update: %v", err)
	}
	if err := s.UpsertAlias(ctx, l12.ID, "фасовка", 1.0); err != nil {
		t.Fatalf("UpsertAlias: %v", err)
	}
	if err := s.UpsertAlias(ctx, l12.ID, "x", 2.5); err == nil {
		t.Fatal("expected weight outside [0,2] to be rejected")
	}

	aliases, err := s.ListAliases(ctx)
	if err != nil {
		t.Fatalf("ListAliases: %v", err)
	}
	if len(aliases) != 2 {
		t.Fatalf("expected 2 aliases, got %d", len(aliases))
	}
	for _, a := range aliases {
		if a.Alias == "сушилка" && a.Weight != 1.5 {
			t.Fatalf("expected updated weight 1.5, got %.2f", a.Weight)
		}
	}

	if err := s.SetLineActive(ctx, l12.ID, false); err != nil {
		t.Fatalf("SetLineActive: %v", err)
	}
	aliases, _ = s.ListAliases(ctx)
	if len(aliases) != 1 || aliases[0].LineName != "Line_66" {
		t.Fatalf("inactive line aliases should be hidden, got %+v", aliases)
	}
	active, _ := s.ListLines(ctx, true)
	if len(active) != 1 {
		t.Fatalf("expected 1 active line, got %d", len(active))
	}
}

// --- Products & plan tasks ---

func TestEnsureProductGeneratesCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, created, err := s.EnsureProduct(ctx, "Клубника сублимированная кубик 10мм")
	if err != nil {
		t.Fatalf("EnsureProduct: %v", err)
	}
	if !created {
		t.Fatal("expected product to be created")
	}
	if p.Code != "КЛУБНИКА_СУБЛИМИРОВА_001" {
		t.Fatalf("unexpected code %q", p.Code)
	}

	again, created, err := s.EnsureProduct(ctx, "Клубника сублимированная кубик 10мм")
	if err != nil || created || again.ID != p.ID {
		t.Fatalf("expected existing product, got %+v created=%v err=%v", again, created, err)
	}

	// Same 20-char prefix, different name: counter advances.
	other, _, err := s.EnsureProduct(ctx, "Клубника сублимированная пудра")
	if err != nil {
		t.Fatalf("EnsureProduct: %v", err)
	}
	if other.Code != "КЛУБНИКА_СУБЛИМИРОВА_002" {
		t.Fatalf("unexpected code %q", other.Code)
	}
}

func TestUpsertPlanTaskByNaturalKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	line, _ := s.EnsureLine(ctx, "Line_66")
	product, _, _ := s.EnsureProduct(ctx, "Malina")

	task := &PlanTask{LineID: line.ID, ProductID: product.ID, Title: "PZ-001",
		Start: day(2026, 1, 1), End: day(2026, 1, 10)}
	id, created, err := s.UpsertPlanTask(ctx, task)
	if err != nil || !created {
		t.Fatalf("first upsert: id=%d created=%v err=%v", id, created, err)
	}

	task2 := &PlanTask{LineID: line.ID, ProductID: product.ID, Title: "PZ-001",
		Start: day(2026, 1, 5), End: day(2026, 1, 20)}
	id2, created, err := s.UpsertPlanTask(ctx, task2)
	if err != nil || created || id2 != id {
		t.Fatalf("second upsert: id=%d created=%v err=%v", id2, created, err)
	}

	tasks, err := s.ListPlanTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("ListPlanTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if !tasks[0].Start.Equal(day(2026, 1, 5)) || !tasks[0].End.Equal(day(2026, 1, 20)) {
		t.Fatalf("dates not updated: %+v", tasks[0])
	}
	if tasks[0].LineName != "Line_66" || tasks[0].ProductCode != "MALINA_001" {
		t.Fatalf("join fields wrong: %+v", tasks[0])
	}

	bad := &PlanTask{LineID: line.ID, ProductID: product.ID, Title: "PZ-002",
		Start: day(2026, 2, 5), End: day(2026, 2, 1)}
	if _, _, err := s.UpsertPlanTask(ctx, bad); err == nil {
		t.Fatal("expected reversed window to be rejected")
	}
}

func TestPlanStartDatesScopedByLine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l1, _ := s.EnsureLine(ctx, "Line_1")
	l2, _ := s.EnsureLine(ctx, "Line_2")
	p, _, _ := s.EnsureProduct(ctx, "P")

	s.UpsertPlanTask(ctx, &PlanTask{LineID: l1.ID, ProductID: p.ID, Title: "a", Start: day(2025, 3, 1), End: day(2025, 3, 2)})
	s.UpsertPlanTask(ctx, &PlanTask{LineID: l2.ID, ProductID: p.ID, Title: "b", Start: day(2027, 3, 1), End: day(2027, 3, 2)})

	all, err := s.PlanStartDates(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("all start dates: %v %v", all, err)
	}
	scoped, err := s.PlanStartDates(ctx, "Line_2")
	if err != nil || len(scoped) != 1 || scoped[0].Year() != 2027 {
		t.Fatalf("scoped start dates: %v %v", scoped, err)
	}
	unknown, err := s.PlanStartDates(ctx, "Line_99")
	if err != nil || len(unknown) != 2 {
		t.Fatalf("an unknown line should widen to every line: %v %v", unknown, err)
	}
}

// --- Downtimes ---

func TestInsertDowntimeDeduplicatesByHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	line, _ := s.EnsureLine(ctx, "Line_66")

	mk := func() *Downtime {
		return &Downtime{
			LineID: &line.ID, Start: day(2026, 3, 10), End: day(2026, 3, 5),
			Status: StatusPlanned, Kind: KindMaintenance, Confidence: 0.8,
			EvidenceQuote: "остановка линии 66 на ТО", SourceFile: "minutes.txt",
			Source: SourceLLM,
		}
	}

	first := mk()
	created, err := s.InsertDowntime(ctx, first)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	if first.SourceHash != HashEvidence("остановка линии 66 на ТО", "minutes.txt") {
		t.Fatalf("unexpected source hash %q", first.SourceHash)
	}

	created, err = s.InsertDowntime(ctx, mk())
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if created {
		t.Fatal("duplicate evidence must not create a second row")
	}

	n, _ := s.CountDowntimes(ctx)
	if n != 1 {
		t.Fatalf("expected 1 downtime, got %d", n)
	}

	list, err := s.ListDowntimes(ctx, DowntimeFilter{IDs: []int64{first.ID}})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListDowntimes: %v %v", list, err)
	}
	got := list[0]
	if !got.Start.Equal(day(2026, 3, 5)) || !got.End.Equal(day(2026, 3, 10)) {
		t.Fatalf("expected swapped window, got %s..%s", FormatDate(got.Start), FormatDate(got.End))
	}
	if got.LineName != "Line_66" || got.LineID == nil {
		t.Fatalf("line join wrong: %+v", got)
	}
}

func TestInsertDowntimeWithoutLine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := &Downtime{Start: day(2026, 5, 1), End: day(2026, 5, 2), Status: StatusProposed,
		Kind: KindOther, Confidence: 0.4, EvidenceQuote: "q", SourceFile: "f", Source: SourceFallback}
	if _, err := s.InsertDowntime(ctx, d); err != nil {
		t.Fatalf("InsertDowntime: %v", err)
	}
	list, _ := s.ListDowntimes(ctx, DowntimeFilter{})
	if len(list) != 1 || list[0].LineID != nil || list[0].LineName != "" {
		t.Fatalf("expected unresolved line, got %+v", list)
	}
}

func TestStatusPriority(t *testing.T) {
	order := []DowntimeStatus{StatusApproved, StatusDone, StatusPlanned, StatusProposed, StatusDiscussed}
	for i := 1; i < len(order); i++ {
		if order[i-1].Priority() <= order[i].Priority() {
			t.Fatalf("%s should outrank %s", order[i-1], order[i])
		}
	}
	if DowntimeStatus("bogus").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}

// --- Notifications ---

func TestCreateNotificationDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := map[string]any{"b": 2, "a": 1}
	created, err := s.Notify(ctx, CodeLLMBadJSON, "bad json in a.txt", payload)
	if err != nil || !created {
		t.Fatalf("first notify: %v %v", created, err)
	}
	created, err = s.Notify(ctx, CodeLLMBadJSON, "bad json in a.txt", map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("second notify: %v", err)
	}
	if created {
		t.Fatal("same code/text/payload must not duplicate")
	}

	list, err := s.ListNotifications(ctx, NotificationFilter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListNotifications: %v %v", list, err)
	}
	if list[0].Level != LevelWarning {
		t.Fatalf("expected default level warning, got %s", list[0].Level)
	}
	if list[0].Payload["a"] != float64(1) {
		t.Fatalf("payload not round-tripped: %+v", list[0].Payload)
	}
}

func TestConflictKeyCollapsesRepeats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		n := &Notification{Code: CodeConflictDetected, Text: "conflict run", UniqueKey: ConflictKey(1, 2),
			Payload: map[string]any{"run": i}}
		created, err := s.CreateNotification(ctx, n)
		if err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
		if created != (i == 0) {
			t.Fatalf("run %d: created=%v", i, created)
		}
	}
	if ConflictKey(1, 2) == ConflictKey(2, 1) {
		t.Fatal("conflict key must depend on argument order")
	}
}

func TestListNotificationsCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := s.Notify(ctx, CodeAliasUnknown, text, nil); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	all, _ := s.ListNotificationsAfter(ctx, 0, 10)
	if len(all) != 3 || all[0].Text != "one" {
		t.Fatalf("expected ascending order, got %+v", all)
	}
	rest, _ := s.ListNotificationsAfter(ctx, all[0].ID, 10)
	if len(rest) != 2 || rest[0].Text != "two" {
		t.Fatalf("cursor did not advance: %+v", rest)
	}
	filtered, _ := s.ListNotifications(ctx, NotificationFilter{Code: CodeLLMTimeout})
	if len(filtered) != 0 {
		t.Fatalf("code filter leaked rows: %+v", filtered)
	}
}

// --- Digests ---

func TestFileDigestGate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sha := HashBytes([]byte("plan bytes"))

	seen, err := s.HasDigest(ctx, sha)
	if err != nil || seen {
		t.Fatalf("fresh digest: %v %v", seen, err)
	}
	if err := s.RecordDigest(ctx, sha, "plan.xlsx", DigestPlan); err != nil {
		t.Fatalf("RecordDigest: %v", err)
	}
	if err := s.RecordDigest(ctx, sha, "plan.xlsx", DigestPlan); err != nil {
		t.Fatalf("RecordDigest twice: %v", err)
	}
	seen, _ = s.HasDigest(ctx, sha)
	if !seen {
		t.Fatal("expected digest to be recorded")
	}
}

// --- Scan jobs ---

func TestScanJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateScanJob(ctx, "/minutes")
	if err != nil {
		t.Fatalf("CreateScanJob: %v", err)
	}
	if job.Status != ScanPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}
	if err := s.StartScanJob(ctx, job.ID, "discovering"); err != nil {
		t.Fatalf("StartScanJob: %v", err)
	}
	if err := s.UpdateScanProgress(ctx, job.ID, 40, "files"); err != nil {
		t.Fatalf("UpdateScanProgress: %v", err)
	}
	if err := s.UpdateScanProgress(ctx, job.ID, 20, "late writer"); err != nil {
		t.Fatalf("UpdateScanProgress: %v", err)
	}
	got, _ := s.GetScanJob(ctx, job.ID)
	if got.Progress != 40 {
		t.Fatalf("progress moved backwards: %d", got.Progress)
	}

	if err := s.CompleteScanJob(ctx, job.ID, "done", map[string]int{"documents_processed": 3}); err != nil {
		t.Fatalf("CompleteScanJob: %v", err)
	}
	got, _ = s.GetScanJob(ctx, job.ID)
	if got.Status != ScanCompleted || got.Progress != 100 || got.CompletedAt == nil {
		t.Fatalf("unexpected completed job: %+v", got)
	}
	if string(got.Results) != `{"documents_processed":3}` {
		t.Fatalf("unexpected results %s", got.Results)
	}

	// Terminal jobs ignore further failure writes.
	if err := s.FailScanJob(ctx, job.ID, "late"); err != nil {
		t.Fatalf("FailScanJob: %v", err)
	}
	got, _ = s.GetScanJob(ctx, job.ID)
	if got.Status != ScanCompleted {
		t.Fatalf("terminal status overwritten: %s", got.Status)
	}

	if _, err := s.GetScanJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	jobs, _ := s.ListScanJobs(ctx, 5)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.EnsureLine(ctx, "Line_1")
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Lines != 1 || st.Downtimes != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}
