package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hurttlocker/linewatch/internal/conflict"
	"github.com/hurttlocker/linewatch/internal/dates"
	"github.com/hurttlocker/linewatch/internal/extract"
	"github.com/hurttlocker/linewatch/internal/ingest"
	"github.com/hurttlocker/linewatch/internal/lines"
	"github.com/hurttlocker/linewatch/internal/store"
)

const minutesText = "Протокол совещания 2026\nОстановка линии 66 на ремонт с 12.05.2026 по 15.05.2026."

var exts = []string{".txt", ".md", ".docx", ".pdf"}

type extractorFunc func(ctx context.Context, doc extract.Document) extract.Result

func (f extractorFunc) Extract(ctx context.Context, doc extract.Document) extract.Result {
	return f(ctx, doc)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	for _, name := range []string{"Line_66", "Line_12"} {
		if _, err := s.EnsureLine(context.Background(), name); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

// fallbackOrchestrator extracts with the rule-based path only.
func fallbackOrchestrator(s *store.SQLiteStore) *extract.Orchestrator {
	resolver := lines.NewResolver(s, lines.Options{DefaultLine: "Line_66"}, nil)
	norm := dates.NewNormalizer(s, 0, nil).WithClock(func() time.Time { return dates.Day(2026, time.March, 1) })
	return extract.NewOrchestrator(nil, resolver, norm, s, extract.Options{}, nil)
}

func newRunner(t *testing.T, s *store.SQLiteStore, ex Extractor, root string) *Runner {
	t.Helper()
	r, err := NewRunner(s, ex, conflict.NewDetector(s, nil), Options{Root: root, Extensions: exts}, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func addPlanTask(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	l, _ := s.GetLineByName(ctx, "Line_66")
	p, _, err := s.EnsureProduct(ctx, "Малина")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.UpsertPlanTask(ctx, &store.PlanTask{
		LineID: l.ID, ProductID: p.ID, Title: "З-001",
		Start: dates.Day(2026, 5, 1), End: dates.Day(2026, 5, 31),
	}); err != nil {
		t.Fatal(err)
	}
}

func TestScanDeduplicatesAcrossRuns(t *testing.T) {
	s := newTestStore(t)
	addPlanTask(t, s)
	root := t.TempDir()
	writeFile(t, root, "2026/protocol.txt", minutesText)
	writeFile(t, root, ".draft.txt", minutesText)
	writeFile(t, root, "photo.png", "png")
	r := newRunner(t, s, fallbackOrchestrator(s), root)
	ctx := context.Background()

	job, res, err := r.Scan(ctx, "")
	if err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	if job.Status != store.ScanCompleted || job.Progress != 100 {
		t.Fatalf("unexpected job %+v", job)
	}
	if res.DocumentsProcessed != 1 || res.ByExtension[".txt"] != 1 || res.DowntimesSaved != 1 || res.DowntimesTotal != 1 {
		t.Fatalf("unexpected first results %+v", res)
	}
	if res.ConflictsDetected != 1 || res.ConflictsCreated != 1 {
		t.Errorf("expected one new conflict, got %+v", res)
	}

	job, res, err = r.Scan(ctx, "2026")
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if res.DowntimesSaved != 0 || res.DowntimesSkipped != 1 || res.DowntimesTotal != 1 {
		t.Fatalf("unexpected second results %+v", res)
	}
	if len(res.SkipReasons) != 1 || res.SkipReasons[0].Reason != ReasonDuplicate || res.SkipReasons[0].File != "protocol.txt" {
		t.Errorf("unexpected skip reasons %+v", res.SkipReasons)
	}
	if !strings.Contains(string(job.Results), `"downtimes_skipped":1`) {
		t.Errorf("results payload not stored: %s", job.Results)
	}

	n, _ := s.CountDowntimes(ctx)
	if n != 1 {
		t.Errorf("expected exactly one stored downtime, got %d", n)
	}
}

func TestScanEmptyDirectory(t *testing.T) {
	s := newTestStore(t)
	r := newRunner(t, s, fallbackOrchestrator(s), t.TempDir())
	job, res, err := r.Scan(context.Background(), "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if job.Status != store.ScanCompleted || job.Message != "no documents found" || res.DocumentsProcessed != 0 {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestResolveFolderContainment(t *testing.T) {
	s := newTestStore(t)
	root := t.TempDir()
	r := newRunner(t, s, fallbackOrchestrator(s), root)

	got, err := r.ResolveFolder("sub/dir")
	if err != nil || got != filepath.Join(r.Root(), "sub", "dir") {
		t.Errorf("ResolveFolder(sub/dir) = %q, %v", got, err)
	}
	for _, bad := range []string{"..", "../other", "sub/../../x", filepath.Dir(root)} {
		if _, err := r.ResolveFolder(bad); !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("ResolveFolder(%q) = %v, want ErrOutsideRoot", bad, err)
		}
	}
	if _, err := r.Start(context.Background(), "../escape"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("Start outside root = %v", err)
	}
	jobs, _ := s.ListScanJobs(context.Background(), 10)
	if len(jobs) != 0 {
		t.Error("rejected scans must not create jobs")
	}
}

func TestStartRunsInBackground(t *testing.T) {
	s := newTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "a.txt", minutesText)
	r := newRunner(t, s, fallbackOrchestrator(s), root)

	job, err := r.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Wait()
	got, err := s.GetScanJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.ScanCompleted || got.CompletedAt == nil {
		t.Fatalf("unexpected job %+v", got)
	}
}

func TestScanTimeoutFailsJob(t *testing.T) {
	s := newTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "a.txt", minutesText)
	blocking := extractorFunc(func(ctx context.Context, doc extract.Document) extract.Result {
		<-ctx.Done()
		return extract.Result{Source: extract.SourceFailed, Error: ctx.Err().Error()}
	})
	r, err := NewRunner(s, blocking, nil, Options{Root: root, Extensions: exts, JobTimeout: 50 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Close)

	job, res, err := r.Scan(context.Background(), "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if res != nil || job.Status != store.ScanFailed || !strings.Contains(job.Error, "deadline") {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestPersistSkipReasons(t *testing.T) {
	s := newTestStore(t)
	may := dates.Day(2026, 5, 12)
	ex := extractorFunc(func(ctx context.Context, doc extract.Document) extract.Result {
		base := extract.Candidate{Start: may, End: may, Kind: store.KindRepair, Status: store.StatusPlanned, Confidence: 0.4, Source: store.SourceFallback}
		unknown, undated, unattached := base, base, base
		unknown.Line, unknown.EvidenceQuote = "Line_99", "линия 99"
		undated.Line, undated.EvidenceQuote, undated.End = "Line_66", "когда-нибудь", time.Time{}
		unattached.EvidenceQuote = "ремонт"
		return extract.Result{Success: true, Source: extract.SourceFallback, Candidates: []extract.Candidate{unknown, undated, unattached}}
	})
	root := t.TempDir()
	writeFile(t, root, "a.txt", "x")
	r := newRunner(t, s, ex, root)

	_, res, err := r.Scan(context.Background(), "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.DowntimesExtracted != 3 || res.DowntimesSaved != 1 || res.DowntimesSkipped != 2 {
		t.Fatalf("unexpected results %+v", res)
	}
	reasons := map[string]bool{}
	for _, sr := range res.SkipReasons {
		reasons[sr.Reason] = true
	}
	if !reasons[ReasonUnknownLine] || !reasons[ReasonInvalidDates] {
		t.Errorf("unexpected skip reasons %+v", res.SkipReasons)
	}
	ds, _ := s.ListDowntimes(context.Background(), store.DowntimeFilter{})
	if len(ds) != 1 || ds[0].LineID != nil {
		t.Errorf("unresolved candidate should be stored without a line: %+v", ds)
	}
}

func TestSkipReasonsAreCapped(t *testing.T) {
	res := newResults()
	for i := 0; i < MaxSkipReasons+5; i++ {
		res.skip("f.txt", ReasonReadError, "")
	}
	res.seal()
	if len(res.SkipReasons) != MaxSkipReasons+1 {
		t.Fatalf("expected %d entries, got %d", MaxSkipReasons+1, len(res.SkipReasons))
	}
	last := res.SkipReasons[MaxSkipReasons]
	if last.Reason != ReasonTruncated || last.Detail != "5 more not shown" {
		t.Errorf("unexpected marker %+v", last)
	}
}

func TestIngestDocumentDuplicate(t *testing.T) {
	s := newTestStore(t)
	r := newRunner(t, s, fallbackOrchestrator(s), t.TempDir())
	ctx := context.Background()

	first, err := r.IngestDocument(ctx, "upload/protocol_2026.txt", []byte(minutesText))
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if first.Duplicate || first.Saved != 1 || len(first.DowntimeIDs) != 1 || first.Extraction.Source != extract.SourceFallback {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := r.IngestDocument(ctx, "protocol_2026.txt", []byte(minutesText))
	if err != nil {
		t.Fatalf("second IngestDocument: %v", err)
	}
	if !second.Duplicate || second.Saved != 0 {
		t.Fatalf("unexpected second result %+v", second)
	}
	ns, _ := s.ListNotifications(ctx, store.NotificationFilter{Code: store.CodeMinutesDuplicateFile})
	if len(ns) != 1 || ns[0].Level != store.LevelInfo {
		t.Errorf("expected one info duplicate notification, got %+v", ns)
	}

	if _, err := r.IngestDocument(ctx, "scan.png", []byte("x")); !errors.Is(err, ingest.ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}
