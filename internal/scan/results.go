package scan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hurttlocker/linewatch/internal/extract"
	"github.com/hurttlocker/linewatch/internal/store"
)

// Skip reasons.
const (
	ReasonUnknownLine      = "unknown_line"
	ReasonInvalidDates     = "invalid_dates"
	ReasonDuplicate        = "duplicate"
	ReasonExtractionFailed = "extraction_failed"
	ReasonReadError        = "read_error"
	ReasonTruncated        = "truncated"
)

// MaxSkipReasons caps the skip list stored with a job.
const MaxSkipReasons = 20

// SkipReason explains why a file or candidate produced no downtime.
type SkipReason struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Results is the payload stored on a completed scan job.
type Results struct {
	DocumentsProcessed int            `json:"documents_processed"`
	ByExtension        map[string]int `json:"by_extension"`
	DowntimesExtracted int            `json:"downtimes_extracted"`
	DowntimesSaved     int            `json:"downtimes_saved"`
	DowntimesSkipped   int            `json:"downtimes_skipped"`
	SkipReasons        []SkipReason   `json:"skip_reasons"`
	DowntimesTotal     int64          `json:"downtimes_total"`
	ConflictsDetected  int            `json:"conflicts_detected"`
	ConflictsCreated   int            `json:"conflicts_created"`

	savedIDs []int64
	dropped  int
}

func newResults() *Results {
	return &Results{ByExtension: map[string]int{}, SkipReasons: []SkipReason{}}
}

func (r *Results) skip(file, reason, detail string) {
	if len(r.SkipReasons) < MaxSkipReasons {
		r.SkipReasons = append(r.SkipReasons, SkipReason{File: file, Reason: reason, Detail: detail})
		return
	}
	r.dropped++
}

// seal appends the truncation marker once all files are processed.
func (r *Results) seal() {
	if r.dropped > 0 {
		r.SkipReasons = append(r.SkipReasons, SkipReason{
			Reason: ReasonTruncated,
			Detail: fmt.Sprintf("%d more not shown", r.dropped),
		})
		r.dropped = 0
	}
}

// SavedIDs returns the ids of downtimes stored during the run.
func (r *Results) SavedIDs() []int64 { return r.savedIDs }

// persist stores the candidates of one extraction. A candidate is skipped
// when its dates are incomplete, its line names a line the store does not
// know, or an identical evidence quote from the same file is already stored.
// Candidates with no resolved line are stored unattached.
func (r *Runner) persist(ctx context.Context, file string, ex extract.Result, res *Results) error {
	base := filepath.Base(file)
	lineIDs := map[string]int64{}
	for _, c := range ex.Candidates {
		res.DowntimesExtracted++
		if !c.HasDates() {
			res.DowntimesSkipped++
			res.skip(base, ReasonInvalidDates, c.EvidenceQuote)
			continue
		}

		var lineID *int64
		if c.Line != "" {
			id, ok := lineIDs[c.Line]
			if !ok {
				l, err := r.store.GetLineByName(ctx, c.Line)
				if errors.Is(err, store.ErrNotFound) {
					res.DowntimesSkipped++
					res.skip(base, ReasonUnknownLine, c.Line)
					continue
				}
				if err != nil {
					return err
				}
				id = l.ID
				lineIDs[c.Line] = id
			}
			lineID = &id
		}

		d := c.Downtime(lineID, base)
		created, err := r.store.InsertDowntime(ctx, d)
		if err != nil {
			return err
		}
		if !created {
			res.DowntimesSkipped++
			res.skip(base, ReasonDuplicate, truncate(c.EvidenceQuote, 80))
			continue
		}
		res.DowntimesSaved++
		res.savedIDs = append(res.savedIDs, d.ID)
	}
	return nil
}

// detect runs conflict detection over the downtimes saved so far.
func (r *Runner) detect(ctx context.Context, res *Results) error {
	if r.detector == nil || len(res.savedIDs) == 0 {
		return nil
	}
	rep, err := r.detector.Detect(ctx, res.savedIDs)
	if err != nil {
		return fmt.Errorf("detecting conflicts: %w", err)
	}
	res.ConflictsDetected += rep.Detected
	res.ConflictsCreated += rep.Created
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
