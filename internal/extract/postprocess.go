package extract

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/hurttlocker/linewatch/internal/dates"
	"github.com/hurttlocker/linewatch/internal/lines"
	"github.com/hurttlocker/linewatch/internal/store"
)

// Candidate is a post-processed downtime ready for persistence.
type Candidate struct {
	Line             string               `json:"line,omitempty"` // canonical; empty when unresolved
	LineMention      string               `json:"line_mention,omitempty"`
	LineMethod       string               `json:"line_method,omitempty"`
	Start            time.Time            `json:"start_date"`
	End              time.Time            `json:"end_date"`
	PartialStart     bool                 `json:"partial_date_start"`
	PartialEnd       bool                 `json:"partial_date_end"`
	Kind             store.DowntimeKind   `json:"kind"`
	Status           store.DowntimeStatus `json:"status"`
	Confidence       float64              `json:"confidence"`
	EvidenceQuote    string               `json:"evidence_quote"`
	EvidenceLocation string               `json:"evidence_location"`
	Notes            string               `json:"notes"`
	Source           store.DowntimeSource `json:"source"`
	Corrections      []dates.Correction   `json:"corrections,omitempty"`
}

// HasDates reports whether both ends of the window are known.
func (c Candidate) HasDates() bool {
	return !c.Start.IsZero() && !c.End.IsZero()
}

// Downtime converts the candidate into a store row for the given file.
func (c Candidate) Downtime(lineID *int64, sourceFile string) *store.Downtime {
	return &store.Downtime{
		LineID:           lineID,
		LineName:         c.Line,
		Start:            c.Start,
		End:              c.End,
		Status:           c.Status,
		Kind:             c.Kind,
		Confidence:       c.Confidence,
		PartialStart:     c.PartialStart,
		PartialEnd:       c.PartialEnd,
		EvidenceQuote:    c.EvidenceQuote,
		EvidenceLocation: c.EvidenceLocation,
		SourceFile:       sourceFile,
		Notes:            c.Notes,
		Source:           c.Source,
		SourceHash:       store.HashEvidence(c.EvidenceQuote, sourceFile),
	}
}

// QuickLineHint guesses a line mention from raw text: an explicit line number
// near a downtime keyword, then the default-line synonym group, then any
// explicit line number. It returns "" when nothing is found.
func QuickLineHint(text string, cat *lines.Catalog) string {
	runes := []rune(text)
	for _, loc := range downtimeKeyword.FindAllStringIndex(text, -1) {
		at := len([]rune(text[:loc[0]]))
		lo := max(0, at-fallbackWindow/2)
		hi := min(len(runes), at+fallbackWindow/2)
		if line, ok := lines.NumericLine(string(runes[lo:hi])); ok {
			return line
		}
	}
	if cat != nil && cat.DefaultLine() != "" && cat.MentionsDefault(text) {
		return cat.DefaultLine()
	}
	if line, ok := lines.NumericLine(text); ok {
		return line
	}
	return ""
}

func isUnknownLine(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown", "null", "none", "n/a", "неизвестно":
		return true
	}
	return false
}

// postProcess resolves lines, completes dates and tags provenance for every
// record produced by either extraction path.
func (o *Orchestrator) postProcess(ctx context.Context, doc Document, pc *promptContext, recs []DowntimeExtraction, source store.DowntimeSource) []Candidate {
	out := make([]Candidate, 0, len(recs))
	for _, rec := range recs {
		c := Candidate{
			Confidence:       rec.Confidence,
			EvidenceQuote:    rec.EvidenceQuote,
			EvidenceLocation: rec.EvidenceLocation,
			Notes:            appendNote(rec.Notes, "file: "+doc.FileName),
			Source:           source,
		}
		c.Kind, _ = NormalizeKind(rec.Kind)
		c.Status, _ = NormalizeStatus(rec.Status)

		o.resolveLine(ctx, doc, pc, rec, &c)
		o.completeDates(ctx, pc, rec, &c)
		out = append(out, c)
	}
	return out
}

func (o *Orchestrator) resolveLine(ctx context.Context, doc Document, pc *promptContext, rec DowntimeExtraction, c *Candidate) {
	mentions := make([]string, 0, 2+len(rec.LineAliasesFound))
	if !isUnknownLine(rec.Line) {
		mentions = append(mentions, rec.Line)
	}
	mentions = append(mentions, rec.LineAliasesFound...)
	if len(mentions) == 0 {
		if pc.lineHint != "" {
			mentions = append(mentions, pc.lineHint)
		}
	}

	for _, m := range mentions {
		if strings.TrimSpace(m) == "" {
			continue
		}
		if c.LineMention == "" {
			c.LineMention = m
		}
		match, ok, err := o.lines.Resolve(ctx, m)
		if err != nil {
			o.log.Warn("line resolution failed", "mention", m, "error", err)
			continue
		}
		if ok {
			c.Line, c.LineMention, c.LineMethod = match.Line, m, match.Method
			return
		}
	}

	o.notify(ctx, store.CodeAliasUnknown, "unknown line alias in "+doc.FileName, map[string]any{
		"mention": c.LineMention,
		"file":    doc.FileName,
	})
}

func (o *Orchestrator) completeDates(ctx context.Context, pc *promptContext, rec DowntimeExtraction, c *Candidate) {
	hints := pc.hints
	if hints.Header == 0 && hints.Filename == 0 {
		hints.Planning = o.dates.PlanningYear(ctx, c.Line)
	}

	var start, end dates.Date
	var haveStart, haveEnd bool
	if rec.StartDate != nil {
		start, haveStart = o.dates.Complete(*rec.StartDate, hints)
	}
	if rec.EndDate != nil {
		end, haveEnd = o.dates.Complete(*rec.EndDate, hints)
	}
	switch {
	case haveStart && !haveEnd:
		end, haveEnd = start, true
		rec.PartialDateEnd = rec.PartialDateStart
	case haveEnd && !haveStart:
		start, haveStart = end, true
		rec.PartialDateStart = rec.PartialDateEnd
	}
	if !haveStart {
		return
	}

	c.Start, c.PartialStart = start.Time, start.Partial || rec.PartialDateStart
	c.End, c.PartialEnd = end.Time, end.Partial || rec.PartialDateEnd
	if _, _, swapped := dates.OrderRange(c.Start, c.End); swapped {
		c.Start, c.End = c.End, c.Start
		c.PartialStart, c.PartialEnd = c.PartialEnd, c.PartialStart
	}
	for _, d := range []dates.Date{start, end} {
		if d.Correction != nil && !slices.Contains(c.Corrections, *d.Correction) {
			c.Corrections = append(c.Corrections, *d.Correction)
		}
	}
}

func appendNote(notes, note string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return note
	}
	return notes + "; " + note
}
