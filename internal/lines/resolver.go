// Package lines resolves free-text production line mentions ("линия 66",
// "66th line", "фриз-драй") to canonical line identifiers such as Line_66.
package lines

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hurttlocker/linewatch/internal/logging"
	"github.com/hurttlocker/linewatch/internal/store"
)

// DefaultTTL bounds how stale a cached catalog may get.
const DefaultTTL = 5 * time.Minute

// DefaultThreshold is the minimum weighted fuzzy score accepted.
const DefaultThreshold = 82.0

// Source supplies the reference data a catalog is built from.
type Source interface {
	ListLines(ctx context.Context, activeOnly bool) ([]store.Line, error)
	ListAliases(ctx context.Context) ([]store.LineAlias, error)
}

// Options configures a Resolver.
type Options struct {
	Threshold       float64
	DefaultLine     string
	DefaultSynonyms []string
	TTL             time.Duration
	Now             func() time.Time
}

type snapshot struct {
	catalog *Catalog
	builtAt time.Time
}

// Resolver serves alias resolution from a TTL-cached catalog snapshot.
// Snapshots are immutable; a refresh swaps the pointer, so concurrent readers
// never see a half-built catalog (at worst one up to TTL old).
type Resolver struct {
	src  Source
	opts Options
	log  *logging.Logger
	snap atomic.Pointer[snapshot]
}

// NewResolver creates a Resolver. Zero options fall back to package defaults.
func NewResolver(src Source, opts Options, log *logging.Logger) *Resolver {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{src: src, opts: opts, log: logging.OrNop(log)}
}

// Threshold returns the configured fuzzy acceptance threshold.
func (r *Resolver) Threshold() float64 { return r.opts.Threshold }

// DefaultLine returns the configured default line.
func (r *Resolver) DefaultLine() string { return r.opts.DefaultLine }

// Catalog returns the current snapshot, rebuilding it when older than the TTL.
func (r *Resolver) Catalog(ctx context.Context) (*Catalog, error) {
	now := r.opts.Now()
	if s := r.snap.Load(); s != nil && now.Sub(s.builtAt) < r.opts.TTL {
		return s.catalog, nil
	}
	c, err := r.rebuild(ctx)
	if err != nil {
		if s := r.snap.Load(); s != nil {
			r.log.Warn("alias catalog refresh failed, serving stale snapshot", "error", err)
			return s.catalog, nil
		}
		return nil, err
	}
	r.snap.Store(&snapshot{catalog: c, builtAt: now})
	return c, nil
}

// Invalidate drops the cached snapshot so the next call rebuilds.
func (r *Resolver) Invalidate() {
	r.snap.Store(nil)
}

func (r *Resolver) rebuild(ctx context.Context) (*Catalog, error) {
	lines, err := r.src.ListLines(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("loading lines: %w", err)
	}
	aliases, err := r.src.ListAliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aliases: %w", err)
	}

	names := make([]string, 0, len(lines))
	for _, l := range lines {
		names = append(names, l.Name)
	}
	inputs := make([]AliasInput, 0, len(aliases))
	for _, a := range aliases {
		inputs = append(inputs, AliasInput{Line: a.LineName, Alias: a.Alias, Weight: a.Weight})
	}
	c := Build(names, inputs, r.opts.DefaultLine, r.opts.DefaultSynonyms)
	r.log.Debug("alias catalog rebuilt", "lines", len(names), "entries", c.Len())
	return c, nil
}

// Resolve maps a mention to a canonical line. ok is false when nothing
// clears the threshold; callers treat that as an unknown line.
func (r *Resolver) Resolve(ctx context.Context, mention string) (Match, bool, error) {
	c, err := r.Catalog(ctx)
	if err != nil {
		return Match{}, false, err
	}
	m, ok := c.Resolve(mention, r.opts.Threshold)
	return m, ok, nil
}
