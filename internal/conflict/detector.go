// Package conflict finds plan tasks that overlap recorded downtimes on the
// same production line and raises one notification per (task, downtime) pair.
package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hurttlocker/linewatch/internal/dates"
	"github.com/hurttlocker/linewatch/internal/logging"
	"github.com/hurttlocker/linewatch/internal/store"
)

// Store is the persistence the detector reads from and notifies through.
type Store interface {
	ListPlanTasks(ctx context.Context, filter store.TaskFilter) ([]store.PlanTask, error)
	ListDowntimes(ctx context.Context, filter store.DowntimeFilter) ([]store.Downtime, error)
	CreateNotification(ctx context.Context, n *store.Notification) (bool, error)
}

// Conflict is a plan task whose window intersects a downtime on its line.
type Conflict struct {
	ID           string         `json:"id"`
	Task         store.PlanTask `json:"task"`
	Downtime     store.Downtime `json:"downtime"`
	OverlapStart time.Time      `json:"overlap_start"`
	OverlapEnd   time.Time      `json:"overlap_end"`
	DetectedAt   time.Time      `json:"detected_at"`
}

// Key is the notification uniqueness key of the pair.
func (c Conflict) Key() string { return store.ConflictKey(c.Task.ID, c.Downtime.ID) }

// OverlapDays counts the calendar days both windows share.
func (c Conflict) OverlapDays() int {
	return int(c.OverlapEnd.Sub(c.OverlapStart).Hours()/24) + 1
}

// Filter narrows a conflict search.
type Filter struct {
	Line        string  // canonical line name; empty = all lines
	DowntimeIDs []int64 // empty = all downtimes
}

// Report summarizes one detection run.
type Report struct {
	Detected  int        `json:"detected"`
	Created   int        `json:"created"`
	Conflicts []Conflict `json:"conflicts"`
}

// Detector pairs plan tasks with downtimes.
type Detector struct {
	store Store
	log   *logging.Logger
	now   func() time.Time
}

// NewDetector creates a Detector.
func NewDetector(s Store, log *logging.Logger) *Detector {
	return &Detector{store: s, log: logging.OrNop(log), now: time.Now}
}

// Overlap returns the shared window of two inclusive date ranges.
func Overlap(aStart, aEnd, bStart, bEnd time.Time) (time.Time, time.Time, bool) {
	if aStart.After(bEnd) || aEnd.Before(bStart) {
		return time.Time{}, time.Time{}, false
	}
	start, end := aStart, aEnd
	if bStart.After(start) {
		start = bStart
	}
	if bEnd.Before(end) {
		end = bEnd
	}
	return start, end, true
}

// Find lists current conflicts without notifying. Downtimes with no
// resolved line never conflict.
func (d *Detector) Find(ctx context.Context, f Filter) ([]Conflict, error) {
	tasks, err := d.store.ListPlanTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, err
	}
	byLine := map[int64][]store.PlanTask{}
	for _, t := range tasks {
		if f.Line != "" && t.LineName != f.Line {
			continue
		}
		byLine[t.LineID] = append(byLine[t.LineID], t)
	}
	if len(byLine) == 0 {
		return nil, nil
	}

	downtimes, err := d.store.ListDowntimes(ctx, store.DowntimeFilter{IDs: f.DowntimeIDs})
	if err != nil {
		return nil, err
	}

	now := d.now().UTC()
	var out []Conflict
	for _, dt := range downtimes {
		if dt.LineID == nil {
			continue
		}
		for _, t := range byLine[*dt.LineID] {
			start, end, ok := Overlap(t.Start, t.End, dt.Start, dt.End)
			if !ok {
				continue
			}
			c := Conflict{Task: t, Downtime: dt, OverlapStart: start, OverlapEnd: end, DetectedAt: now}
			c.ID = c.Key()[:16]
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Task.LineName != b.Task.LineName {
			return a.Task.LineName < b.Task.LineName
		}
		if !a.OverlapStart.Equal(b.OverlapStart) {
			return a.OverlapStart.Before(b.OverlapStart)
		}
		if a.Task.ID != b.Task.ID {
			return a.Task.ID < b.Task.ID
		}
		return a.Downtime.ID < b.Downtime.ID
	})
	return out, nil
}

// Detect checks the given downtimes against the plan and notifies each new
// conflict. An empty id list checks nothing.
func (d *Detector) Detect(ctx context.Context, downtimeIDs []int64) (*Report, error) {
	if len(downtimeIDs) == 0 {
		return &Report{Conflicts: []Conflict{}}, nil
	}
	return d.run(ctx, Filter{DowntimeIDs: downtimeIDs})
}

// DetectAll checks every downtime against the plan.
func (d *Detector) DetectAll(ctx context.Context) (*Report, error) {
	return d.run(ctx, Filter{})
}

func (d *Detector) run(ctx context.Context, f Filter) (*Report, error) {
	conflicts, err := d.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	rep := &Report{Detected: len(conflicts), Conflicts: conflicts}
	if rep.Conflicts == nil {
		rep.Conflicts = []Conflict{}
	}
	for _, c := range conflicts {
		created, err := d.store.CreateNotification(ctx, notification(c))
		if err != nil {
			return nil, fmt.Errorf("notifying conflict %s: %w", c.ID, err)
		}
		if created {
			rep.Created++
		}
	}
	d.log.Info("conflict detection finished", "detected", rep.Detected, "created", rep.Created)
	return rep, nil
}

func notification(c Conflict) *store.Notification {
	dt := c.Downtime
	return &store.Notification{
		Code: store.CodeConflictDetected,
		Text: fmt.Sprintf("%s: task %q (%s - %s) overlaps %s downtime %s - %s",
			c.Task.LineName, c.Task.Title, dates.Format(c.Task.Start), dates.Format(c.Task.End),
			dt.Status, dates.Format(dt.Start), dates.Format(dt.End)),
		Payload: map[string]any{
			"conflict_id":         c.ID,
			"task_id":             c.Task.ID,
			"downtime_id":         dt.ID,
			"line":                c.Task.LineName,
			"task_title":          c.Task.Title,
			"overlap_start":       store.FormatDate(c.OverlapStart),
			"overlap_end":         store.FormatDate(c.OverlapEnd),
			"downtime_confidence": dt.Confidence,
			"downtime_source":     string(dt.Source),
			"downtime_status":     string(dt.Status),
			"status_priority":     dt.Status.Priority(),
		},
		UniqueKey: c.Key(),
	}
}
