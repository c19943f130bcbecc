package scan

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hurttlocker/linewatch/internal/extract"
	"github.com/hurttlocker/linewatch/internal/store"
)

// DocumentResult describes one uploaded minutes document.
type DocumentResult struct {
	File        string         `json:"file"`
	Digest      string         `json:"digest"`
	Duplicate   bool           `json:"duplicate"`
	Extraction  extract.Result `json:"extraction"`
	Saved       int            `json:"downtimes_saved"`
	Skipped     int            `json:"downtimes_skipped"`
	SkipReasons []SkipReason   `json:"skip_reasons"`
	DowntimeIDs []int64        `json:"downtime_ids"`
	Conflicts   int            `json:"conflicts_detected"`
	NewAlerts   int            `json:"conflicts_created"`
}

// IngestDocument processes a single uploaded document. A file whose exact
// bytes were ingested before is reported as a duplicate without extraction.
// Type and size violations are returned as errors before anything runs.
func (r *Runner) IngestDocument(ctx context.Context, name string, data []byte) (*DocumentResult, error) {
	name = filepath.Base(name)
	if err := r.docs.Check(name, int64(len(data))); err != nil {
		return nil, err
	}

	out := &DocumentResult{File: name, Digest: store.HashBytes(data), SkipReasons: []SkipReason{}, DowntimeIDs: []int64{}}
	dup, err := r.store.HasDigest(ctx, out.Digest)
	if err != nil {
		return nil, err
	}
	if dup {
		out.Duplicate = true
		if _, err := r.store.Notify(ctx, store.CodeMinutesDuplicateFile,
			fmt.Sprintf("minutes file %s was already processed", name),
			map[string]any{"file": name, "sha256": out.Digest}); err != nil {
			r.log.Warn("notification failed", "code", string(store.CodeMinutesDuplicateFile), "error", err)
		}
		r.log.Info("duplicate minutes file skipped", "file", name)
		return out, nil
	}

	text, err := r.docs.Text(name, data)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	out.Extraction = r.extractor.Extract(ctx, extract.Document{Text: text, FileName: name})
	if out.Extraction.Source == extract.SourceFailed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("extracting %s: %s", name, out.Extraction.Error)
	}

	res := newResults()
	if err := r.persist(ctx, name, out.Extraction, res); err != nil {
		return nil, err
	}
	if err := r.detect(ctx, res); err != nil {
		return nil, err
	}
	res.seal()
	if err := r.store.RecordDigest(ctx, out.Digest, name, store.DigestMinutes); err != nil {
		return nil, err
	}

	out.Saved = res.DowntimesSaved
	out.Skipped = res.DowntimesSkipped
	out.SkipReasons = res.SkipReasons
	out.DowntimeIDs = append(out.DowntimeIDs, res.savedIDs...)
	out.Conflicts = res.ConflictsDetected
	out.NewAlerts = res.ConflictsCreated
	r.log.Info("minutes document ingested", "file", name, "source", string(out.Extraction.Source),
		"saved", out.Saved, "skipped", out.Skipped, "conflicts", out.Conflicts)
	return out, nil
}
