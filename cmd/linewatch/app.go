package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hurttlocker/linewatch/internal/config"
	"github.com/hurttlocker/linewatch/internal/conflict"
	"github.com/hurttlocker/linewatch/internal/dates"
	"github.com/hurttlocker/linewatch/internal/export"
	"github.com/hurttlocker/linewatch/internal/extract"
	"github.com/hurttlocker/linewatch/internal/lines"
	"github.com/hurttlocker/linewatch/internal/llm"
	"github.com/hurttlocker/linewatch/internal/logging"
	"github.com/hurttlocker/linewatch/internal/plan"
	"github.com/hurttlocker/linewatch/internal/scan"
	"github.com/hurttlocker/linewatch/internal/store"
)

// app wires every component from one resolved configuration.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	store     *store.SQLiteStore
	lines     *lines.Resolver
	plan      *plan.Reconciler
	conflicts *conflict.Detector
	scans     *scan.Runner
	exporter  *export.Exporter
}

func openApp(ctx context.Context, cfg *config.Config, log *logging.Logger) (*app, error) {
	st, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if _, err := st.EnsureLine(ctx, cfg.Lines.DefaultLine); err != nil {
		st.Close()
		return nil, fmt.Errorf("registering default line: %w", err)
	}

	resolver := lines.NewResolver(st, lines.Options{
		Threshold:       cfg.Lines.Threshold,
		DefaultLine:     cfg.Lines.DefaultLine,
		DefaultSynonyms: cfg.Lines.DefaultSynonyms,
		TTL:             cfg.Lines.CacheTTL,
	}, log)
	norm := dates.NewNormalizer(st, cfg.Dates.PlanningYear, log)

	provider, err := llm.NewProvider(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
		Timeout: cfg.LLM.Timeout,
	})
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		log.Info("model endpoint not configured, extraction uses the rule-based fallback")
	case err != nil:
		st.Close()
		return nil, fmt.Errorf("configuring model provider: %w", err)
	}
	orch := extract.NewOrchestrator(provider, resolver, norm, st, extract.Options{
		Timeout:     cfg.LLM.Timeout,
		MaxAttempts: cfg.LLM.MaxAttempts,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
	}, log)

	det := conflict.NewDetector(st, log)
	runner, err := scan.NewRunner(st, orch, det, scan.Options{
		Root:         cfg.Scan.Root,
		Extensions:   cfg.Scan.Extensions,
		MaxFileBytes: cfg.Scan.MaxFileBytes,
	}, log)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:   cfg,
		log:   log,
		store: st,
		lines: resolver,
		plan: plan.NewReconciler(st, resolver, plan.Options{
			DefaultLine:  cfg.Lines.DefaultLine,
			MaxShiftDays: cfg.Plan.MaxShiftDays,
			MaxFileBytes: cfg.Plan.MaxFileBytes,
		}, log),
		conflicts: det,
		scans:     runner,
		exporter:  export.NewExporter(st, log),
	}, nil
}

// Close stops background scans and closes the store.
func (a *app) Close() error {
	a.scans.Close()
	return a.store.Close()
}
