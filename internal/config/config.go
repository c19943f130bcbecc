// Package config resolves linewatch settings from built-in defaults, an
// optional YAML file, environment variables and CLI flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Built-in defaults.
const (
	DefaultDBPath            = "~/.linewatch/linewatch.db"
	DefaultAddr              = ":8080"
	DefaultLLMModel          = "gpt-4o-mini"
	DefaultLLMTimeoutSeconds = 25
	DefaultLLMMaxAttempts    = 3
	DefaultLLMMaxTokens      = 500
	DefaultFuzzyThreshold    = 82.0
	DefaultLine              = "Line_66"
	DefaultMinutesDir        = "./minutes"
	DefaultCacheTTLSeconds   = 300
	DefaultMaxFileMB         = 20
)

// DefaultLineSynonyms is the process-name synonym group absorbed by the default line.
var DefaultLineSynonyms = []string{"freeze-dry", "freeze dry", "фриз-драй", "фриз драй", "сублимация"}

// DefaultExtensions lists the document types a scan reads.
var DefaultExtensions = []string{".txt", ".md", ".docx", ".pdf"}

type Config struct {
	DBPath string
	Addr   string
	Log    LogConfig
	LLM    LLMConfig
	Lines  LinesConfig
	Dates  DatesConfig
	Scan   ScanConfig
	Plan   PlanConfig
}

type LogConfig struct {
	Mode string
}

type LLMConfig struct {
	BaseURL     string // empty disables the model; extraction runs on the fallback only
	Model       string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Enabled reports whether a model endpoint is configured.
func (c LLMConfig) Enabled() bool {
	return strings.TrimSpace(c.BaseURL) != ""
}

type LinesConfig struct {
	Threshold       float64
	DefaultLine     string
	DefaultSynonyms []string
	CacheTTL        time.Duration
}

type DatesConfig struct {
	PlanningYear int // 0 = infer from plan data
}

type ScanConfig struct {
	Root         string
	Extensions   []string
	MaxFileBytes int64
}

type PlanConfig struct {
	MaxShiftDays int // 0 = no guard
	MaxFileBytes int64
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		DBPath: expandUserPath(DefaultDBPath),
		Addr:   DefaultAddr,
		Log:    LogConfig{Mode: "dev"},
		LLM: LLMConfig{
			Model:       DefaultLLMModel,
			Timeout:     DefaultLLMTimeoutSeconds * time.Second,
			MaxAttempts: DefaultLLMMaxAttempts,
			MaxTokens:   DefaultLLMMaxTokens,
			Temperature: 0.1,
			TopP:        0.9,
		},
		Lines: LinesConfig{
			Threshold:       DefaultFuzzyThreshold,
			DefaultLine:     DefaultLine,
			DefaultSynonyms: append([]string(nil), DefaultLineSynonyms...),
			CacheTTL:        DefaultCacheTTLSeconds * time.Second,
		},
		Scan: ScanConfig{
			Root:         DefaultMinutesDir,
			Extensions:   append([]string(nil), DefaultExtensions...),
			MaxFileBytes: DefaultMaxFileMB << 20,
		},
		Plan: PlanConfig{MaxFileBytes: DefaultMaxFileMB << 20},
	}
}

// Load resolves every layer and returns the typed configuration together
// with the per-value provenance.
func Load(opts ResolveOptions) (*Config, ResolvedConfig, error) {
	resolved, file, err := resolve(opts)
	if err != nil {
		return nil, resolved, err
	}

	cfg := Default()
	cfg.DBPath = resolved.DBPath.Value
	cfg.Addr = resolved.Addr.Value
	cfg.Log.Mode = resolved.LogMode.Value
	cfg.LLM.BaseURL = resolved.LLMBaseURL.Value
	cfg.LLM.Model = resolved.LLMModel.Value
	cfg.LLM.APIKey = resolved.LLMAPIKey.Value
	cfg.Lines.DefaultLine = resolved.DefaultLine.Value
	cfg.Scan.Root = resolved.MinutesDir.Value

	timeout, err := strconv.Atoi(resolved.LLMTimeout.Value)
	if err != nil {
		return nil, resolved, fmt.Errorf("llm timeout %q (%s): %w", resolved.LLMTimeout.Value, resolved.LLMTimeout.Source, err)
	}
	cfg.LLM.Timeout = time.Duration(timeout) * time.Second

	threshold, err := strconv.ParseFloat(resolved.FuzzyThreshold.Value, 64)
	if err != nil {
		return nil, resolved, fmt.Errorf("fuzzy threshold %q (%s): %w", resolved.FuzzyThreshold.Value, resolved.FuzzyThreshold.Source, err)
	}
	cfg.Lines.Threshold = threshold

	year, err := strconv.Atoi(resolved.PlanningYear.Value)
	if err != nil {
		return nil, resolved, fmt.Errorf("planning year %q (%s): %w", resolved.PlanningYear.Value, resolved.PlanningYear.Source, err)
	}
	cfg.Dates.PlanningYear = year

	if file != nil {
		if file.LLM.MaxAttempts > 0 {
			cfg.LLM.MaxAttempts = file.LLM.MaxAttempts
		}
		if file.LLM.MaxTokens > 0 {
			cfg.LLM.MaxTokens = file.LLM.MaxTokens
		}
		if file.LLM.Temperature != nil {
			cfg.LLM.Temperature = *file.LLM.Temperature
		}
		if file.LLM.TopP != nil {
			cfg.LLM.TopP = *file.LLM.TopP
		}
		if len(file.Lines.DefaultSynonyms) > 0 {
			cfg.Lines.DefaultSynonyms = file.Lines.DefaultSynonyms
		}
		if file.Lines.CacheTTLSeconds > 0 {
			cfg.Lines.CacheTTL = time.Duration(file.Lines.CacheTTLSeconds) * time.Second
		}
		if len(file.Scan.Extensions) > 0 {
			cfg.Scan.Extensions = normalizeExtensions(file.Scan.Extensions)
		}
		if file.Scan.MaxFileMB > 0 {
			cfg.Scan.MaxFileBytes = int64(file.Scan.MaxFileMB) << 20
			cfg.Plan.MaxFileBytes = cfg.Scan.MaxFileBytes
		}
		if file.Plan.MaxShiftDays > 0 {
			cfg.Plan.MaxShiftDays = file.Plan.MaxShiftDays
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, resolved, err
	}
	return cfg, resolved, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Lines.Threshold <= 0 || c.Lines.Threshold > 100 {
		return fmt.Errorf("fuzzy threshold %.1f outside (0, 100]", c.Lines.Threshold)
	}
	if strings.TrimSpace(c.Lines.DefaultLine) == "" {
		return fmt.Errorf("default line is required")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm timeout must be positive, got %s", c.LLM.Timeout)
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("llm max attempts must be at least 1, got %d", c.LLM.MaxAttempts)
	}
	if c.Dates.PlanningYear != 0 && (c.Dates.PlanningYear < 2000 || c.Dates.PlanningYear > 2100) {
		return fmt.Errorf("planning year %d outside 2000-2100", c.Dates.PlanningYear)
	}
	return nil
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
