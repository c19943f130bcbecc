package dates

import (
	"context"
	"time"

	"github.com/hurttlocker/linewatch/internal/logging"
)

// PlanSource supplies plan task start dates, optionally scoped to one line.
type PlanSource interface {
	PlanStartDates(ctx context.Context, line string) ([]time.Time, error)
}

// InferPlanningYear picks the year plan data points at:
//  1. the year of the earliest start on or after today;
//  2. otherwise the most frequent start year (ties go to the later year);
//  3. otherwise the latest start year.
//
// ok is false when starts is empty.
func InferPlanningYear(starts []time.Time, today time.Time) (int, bool) {
	if len(starts) == 0 {
		return 0, false
	}
	today = Truncate(today)

	var earliestFuture time.Time
	counts := map[int]int{}
	latest := 0
	for _, s := range starts {
		s = Truncate(s)
		if !s.Before(today) && (earliestFuture.IsZero() || s.Before(earliestFuture)) {
			earliestFuture = s
		}
		counts[s.Year()]++
		if s.Year() > latest {
			latest = s.Year()
		}
	}
	if !earliestFuture.IsZero() {
		return earliestFuture.Year(), true
	}

	mode, best := 0, 0
	for y, n := range counts {
		if n > best || (n == best && y > mode) {
			mode, best = y, n
		}
	}
	if mode > 0 {
		return mode, true
	}
	return latest, true
}

// Normalizer completes partial dates against plan data.
type Normalizer struct {
	src         PlanSource
	defaultYear int
	now         func() time.Time
	log         *logging.Logger
}

// NewNormalizer creates a Normalizer. defaultYear (0 = none) is used when plan
// data yields no year; src may be nil.
func NewNormalizer(src PlanSource, defaultYear int, log *logging.Logger) *Normalizer {
	return &Normalizer{src: src, defaultYear: defaultYear, now: time.Now, log: logging.OrNop(log)}
}

// WithClock replaces the time source (tests).
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Now returns the normalizer's current time.
func (n *Normalizer) Now() time.Time { return n.now() }

// PlanningYear infers the planning year, scoped to line when it is non-empty.
// It never fails: lookup errors fall back to the configured default or the
// current year.
func (n *Normalizer) PlanningYear(ctx context.Context, line string) int {
	if n.src != nil {
		starts, err := n.src.PlanStartDates(ctx, line)
		if err != nil {
			n.log.Warn("planning year lookup failed", "line", line, "error", err)
		} else if y, ok := InferPlanningYear(starts, n.now()); ok {
			return y
		}
	}
	if n.defaultYear > 0 {
		return n.defaultYear
	}
	return n.now().Year()
}

// Complete parses a DD-MM[-YYYY] mention using the hint priority chain.
// Clamping corrections are logged and returned on the Date.
func (n *Normalizer) Complete(raw string, hints YearHints) (Date, bool) {
	d, ok := ParseDayMonth(raw, hints, n.now())
	if ok && d.Correction != nil {
		n.log.Warn("clamped invalid calendar date", "original", d.Correction.Original, "corrected", d.Correction.Corrected)
	}
	return d, ok
}
