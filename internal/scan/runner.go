// Package scan runs background directory scans over meeting minutes: each
// supported document is read, sent through extraction, and the resulting
// downtimes are stored and checked against the production plan.
package scan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hurttlocker/linewatch/internal/conflict"
	"github.com/hurttlocker/linewatch/internal/extract"
	"github.com/hurttlocker/linewatch/internal/ingest"
	"github.com/hurttlocker/linewatch/internal/logging"
	"github.com/hurttlocker/linewatch/internal/store"
)

// ErrOutsideRoot rejects scan folders that escape the configured root.
var ErrOutsideRoot = errors.New("folder is outside the scan root")

// DefaultJobTimeout bounds one scan job.
const DefaultJobTimeout = 30 * time.Minute

// Progress milestones.
const (
	progressDiscovery = 5
	progressFilesFrom = 20
	progressFilesTo   = 70
	progressAnalysis  = 75
	progressConflicts = 85
)

// Store is the persistence a Runner needs.
type Store interface {
	CreateScanJob(ctx context.Context, folder string) (*store.ScanJob, error)
	StartScanJob(ctx context.Context, id, message string) error
	UpdateScanProgress(ctx context.Context, id string, progress int, message string) error
	CompleteScanJob(ctx context.Context, id, message string, results any) error
	FailScanJob(ctx context.Context, id, errMsg string) error
	GetScanJob(ctx context.Context, id string) (*store.ScanJob, error)

	GetLineByName(ctx context.Context, name string) (*store.Line, error)
	InsertDowntime(ctx context.Context, d *store.Downtime) (bool, error)
	CountDowntimes(ctx context.Context) (int64, error)
	HasDigest(ctx context.Context, sha string) (bool, error)
	RecordDigest(ctx context.Context, sha, name, kind string) error
	Notify(ctx context.Context, code store.NotificationCode, text string, payload map[string]any) (bool, error)
}

// Extractor turns document text into downtime candidates.
type Extractor interface {
	Extract(ctx context.Context, doc extract.Document) extract.Result
}

// Detector checks newly saved downtimes for plan conflicts.
type Detector interface {
	Detect(ctx context.Context, downtimeIDs []int64) (*conflict.Report, error)
}

// Options configures a Runner.
type Options struct {
	Root         string
	Extensions   []string
	MaxFileBytes int64
	JobTimeout   time.Duration
}

// Runner executes scan jobs. Each job runs in its own goroutine; jobs do not
// share state beyond the store.
type Runner struct {
	store     Store
	docs      *ingest.Documents
	extractor Extractor
	detector  Detector
	root      string
	timeout   time.Duration
	log       *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner. detector may be nil.
func NewRunner(s Store, ex Extractor, det Detector, opts Options, log *logging.Logger) (*Runner, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, fmt.Errorf("scan root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving scan root %q: %w", opts.Root, err)
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:     s,
		docs:      ingest.NewDocuments(opts.Extensions, opts.MaxFileBytes),
		extractor: ex,
		detector:  det,
		root:      filepath.Clean(root),
		timeout:   opts.JobTimeout,
		log:       logging.OrNop(log),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Root returns the absolute scan root.
func (r *Runner) Root() string { return r.root }

// Documents returns the document reader the runner uses.
func (r *Runner) Documents() *ingest.Documents { return r.docs }

// ResolveFolder maps a requested folder (absolute, or relative to the root)
// to an absolute path inside the root. Empty means the root itself.
func (r *Runner) ResolveFolder(folder string) (string, error) {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return r.root, nil
	}
	if !filepath.IsAbs(folder) {
		folder = filepath.Join(r.root, folder)
	}
	abs, err := filepath.Abs(folder)
	if err != nil {
		return "", fmt.Errorf("resolving folder %q: %w", folder, err)
	}
	rel, err := filepath.Rel(r.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, abs)
	}
	return abs, nil
}

// Start creates a job and runs it in the background. The job outlives ctx;
// it is bounded by the job timeout and stopped by Close.
func (r *Runner) Start(ctx context.Context, folder string) (*store.ScanJob, error) {
	dir, err := r.ResolveFolder(folder)
	if err != nil {
		return nil, err
	}
	job, err := r.store.CreateScanJob(ctx, dir)
	if err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		jobCtx, cancel := context.WithTimeout(r.ctx, r.timeout)
		defer cancel()
		if _, err := r.Run(jobCtx, job.ID, dir); err != nil {
			r.log.Warn("scan job failed", "job", job.ID, "folder", dir, "error", err)
		}
	}()
	r.log.Info("scan job started", "job", job.ID, "folder", dir)
	return job, nil
}

// Scan creates a job and runs it to completion on the calling goroutine.
func (r *Runner) Scan(ctx context.Context, folder string) (*store.ScanJob, *Results, error) {
	dir, err := r.ResolveFolder(folder)
	if err != nil {
		return nil, nil, err
	}
	job, err := r.store.CreateScanJob(ctx, dir)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, runErr := r.Run(ctx, job.ID, dir)
	final, err := r.store.GetScanJob(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return nil, nil, err
	}
	return final, res, runErr
}

// Wait blocks until every background job has finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Close cancels background jobs and waits for them to record their outcome.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

// Run executes a created job over dir. Any failure, panics included, marks
// the job failed with the captured message; per-file problems only add skip
// reasons.
func (r *Runner) Run(ctx context.Context, jobID, dir string) (res *Results, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scan panicked: %v", p)
		}
		if err != nil {
			res = nil
			if ferr := r.store.FailScanJob(context.WithoutCancel(ctx), jobID, err.Error()); ferr != nil {
				r.log.Error("recording scan failure", "job", jobID, "error", ferr)
			}
		}
	}()

	if err := r.store.StartScanJob(ctx, jobID, "discovering documents"); err != nil {
		return nil, err
	}
	r.progress(ctx, jobID, progressDiscovery, "discovering documents")

	files, problems, err := r.docs.Discover(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("discovering documents in %s: %w", dir, err)
	}
	res = newResults()
	for _, p := range problems {
		name := p.Path
		if rel, rerr := filepath.Rel(dir, p.Path); rerr == nil {
			name = rel
		}
		res.skip(name, ReasonReadError, p.Err.Error())
		r.log.Warn("unreadable entry skipped", "job", jobID, "path", p.Path, "error", p.Err)
	}
	if len(files) == 0 {
		res.seal()
		if err := r.store.CompleteScanJob(ctx, jobID, "no documents found", res); err != nil {
			return nil, err
		}
		return res, nil
	}
	r.progress(ctx, jobID, progressFilesFrom, fmt.Sprintf("found %d documents", len(files)))

	every := max(1, len(files)/10)
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scan interrupted after %d of %d documents: %w", i, len(files), err)
		}
		if err := r.processFile(ctx, path, res); err != nil {
			return nil, err
		}
		if done := i + 1; done%every == 0 || done == len(files) {
			pct := progressFilesFrom + (progressFilesTo-progressFilesFrom)*done/len(files)
			r.progress(ctx, jobID, pct, fmt.Sprintf("processed %d of %d documents", done, len(files)))
		}
	}

	r.progress(ctx, jobID, progressAnalysis, "analyzing results")
	if res.DowntimesTotal, err = r.store.CountDowntimes(ctx); err != nil {
		return nil, err
	}

	r.progress(ctx, jobID, progressConflicts, "detecting conflicts")
	if err := r.detect(ctx, res); err != nil {
		return nil, err
	}

	res.seal()
	msg := fmt.Sprintf("processed %d documents, saved %d downtimes, %d conflicts",
		res.DocumentsProcessed, res.DowntimesSaved, res.ConflictsDetected)
	if err := r.store.CompleteScanJob(ctx, jobID, msg, res); err != nil {
		return nil, err
	}
	r.log.Info("scan job completed", "job", jobID, "documents", res.DocumentsProcessed,
		"saved", res.DowntimesSaved, "skipped", res.DowntimesSkipped, "conflicts", res.ConflictsDetected)
	return res, nil
}

func (r *Runner) progress(ctx context.Context, jobID string, pct int, msg string) {
	if err := r.store.UpdateScanProgress(ctx, jobID, pct, msg); err != nil {
		r.log.Warn("updating scan progress", "job", jobID, "error", err)
	}
}

// processFile extracts and stores one document. Only store failures and
// cancellation are returned; everything else becomes a skip reason.
func (r *Runner) processFile(ctx context.Context, path string, res *Results) error {
	base := filepath.Base(path)
	text, err := r.docs.ReadFile(path)
	if err != nil {
		res.skip(base, ReasonReadError, err.Error())
		return nil
	}
	res.DocumentsProcessed++
	res.ByExtension[strings.ToLower(filepath.Ext(path))]++

	ex := r.extractor.Extract(ctx, extract.Document{Text: text, FileName: base})
	if ex.Source == extract.SourceFailed {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.skip(base, ReasonExtractionFailed, ex.Error)
		return nil
	}
	return r.persist(ctx, path, ex, res)
}
