package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath   string
	CLIDBPath    string
	CLIAddr      string
	CLILLMModel  string
	CLIMinutes   string
	CLILogMode   string
	CLIThreshold string
}

// ResolvedConfig holds every scalar setting with the layer it came from.
type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath         ResolvedValue `json:"db_path"`
	Addr           ResolvedValue `json:"server_addr"`
	LogMode        ResolvedValue `json:"log_mode"`
	LLMBaseURL     ResolvedValue `json:"llm_base_url"`
	LLMModel       ResolvedValue `json:"llm_model"`
	LLMAPIKey      ResolvedValue `json:"llm_api_key"`
	LLMTimeout     ResolvedValue `json:"llm_timeout_seconds"`
	FuzzyThreshold ResolvedValue `json:"fuzzy_threshold"`
	DefaultLine    ResolvedValue `json:"default_line"`
	PlanningYear   ResolvedValue `json:"planning_year"`
	MinutesDir     ResolvedValue `json:"minutes_dir"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	LLM struct {
		BaseURL        string   `yaml:"base_url"`
		Model          string   `yaml:"model"`
		APIKey         string   `yaml:"api_key"`
		TimeoutSeconds *int     `yaml:"timeout_seconds"`
		MaxAttempts    int      `yaml:"max_attempts"`
		MaxTokens      int      `yaml:"max_tokens"`
		Temperature    *float64 `yaml:"temperature"`
		TopP           *float64 `yaml:"top_p"`
	} `yaml:"llm"`
	Lines struct {
		Threshold       *float64 `yaml:"threshold"`
		DefaultLine     string   `yaml:"default_line"`
		DefaultSynonyms []string `yaml:"default_synonyms"`
		CacheTTLSeconds int      `yaml:"cache_ttl_seconds"`
	} `yaml:"lines"`
	Dates struct {
		PlanningYear *int `yaml:"planning_year"`
	} `yaml:"dates"`
	Scan struct {
		Root       string   `yaml:"root"`
		Extensions []string `yaml:"extensions"`
		MaxFileMB  int      `yaml:"max_file_mb"`
	} `yaml:"scan"`
	Plan struct {
		MaxShiftDays int `yaml:"max_shift_days"`
	} `yaml:"plan"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".linewatch", "config.yaml")
}

// ResolveConfig layers built-in defaults, the YAML file, environment and CLI
// flags (in that order) over the scalar settings.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	out, _, err := resolve(opts)
	return out, err
}

func resolve(opts ResolveOptions) (ResolvedConfig, *fileConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}
	applyDefault(&out.DBPath, DefaultDBPath)
	applyDefault(&out.Addr, DefaultAddr)
	applyDefault(&out.LogMode, "dev")
	applyDefault(&out.LLMModel, DefaultLLMModel)
	applyDefault(&out.LLMTimeout, fmt.Sprint(DefaultLLMTimeoutSeconds))
	applyDefault(&out.FuzzyThreshold, fmt.Sprint(DefaultFuzzyThreshold))
	applyDefault(&out.DefaultLine, DefaultLine)
	applyDefault(&out.PlanningYear, "0")
	applyDefault(&out.MinutesDir, DefaultMinutesDir)

	cfg, err := loadConfig(path)
	if err != nil {
		return out, nil, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.Addr, cfg.Server.Addr, SourceConfig, path)
		apply(&out.LogMode, cfg.Log.Mode, SourceConfig, path)
		apply(&out.LLMBaseURL, cfg.LLM.BaseURL, SourceConfig, path)
		apply(&out.LLMModel, cfg.LLM.Model, SourceConfig, path)
		apply(&out.LLMAPIKey, cfg.LLM.APIKey, SourceConfig, path)
		apply(&out.LLMTimeout, ptrString(cfg.LLM.TimeoutSeconds), SourceConfig, path)
		apply(&out.FuzzyThreshold, ptrString(cfg.Lines.Threshold), SourceConfig, path)
		apply(&out.DefaultLine, cfg.Lines.DefaultLine, SourceConfig, path)
		apply(&out.PlanningYear, ptrString(cfg.Dates.PlanningYear), SourceConfig, path)
		apply(&out.MinutesDir, cfg.Scan.Root, SourceConfig, path)
	}

	applyEnv(&out.DBPath, "LINEWATCH_DB")
	applyEnv(&out.Addr, "LINEWATCH_ADDR")
	applyEnv(&out.LogMode, "LINEWATCH_LOG_MODE")
	applyEnv(&out.LLMBaseURL, "LINEWATCH_LLM_BASE_URL")
	applyEnv(&out.LLMModel, "LINEWATCH_LLM_MODEL")
	applyEnv(&out.LLMAPIKey, "OPENAI_API_KEY")
	applyEnv(&out.LLMAPIKey, "LINEWATCH_LLM_API_KEY")
	applyEnv(&out.LLMTimeout, "LINEWATCH_LLM_TIMEOUT")
	applyEnv(&out.FuzzyThreshold, "LINEWATCH_FUZZY_THRESHOLD")
	applyEnv(&out.DefaultLine, "LINEWATCH_DEFAULT_LINE")
	applyEnv(&out.PlanningYear, "LINEWATCH_PLANNING_YEAR")
	applyEnv(&out.MinutesDir, "LINEWATCH_MINUTES_DIR")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.Addr, opts.CLIAddr, SourceCLI, "--addr")
	apply(&out.LLMModel, opts.CLILLMModel, SourceCLI, "--model")
	apply(&out.MinutesDir, opts.CLIMinutes, SourceCLI, "--minutes-dir")
	apply(&out.LogMode, opts.CLILogMode, SourceCLI, "--log-mode")
	apply(&out.FuzzyThreshold, opts.CLIThreshold, SourceCLI, "--threshold")

	out.DBPath.Value = expandUserPath(out.DBPath.Value)
	out.MinutesDir.Value = expandUserPath(out.MinutesDir.Value)

	return out, cfg, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func ptrString[T int | float64](v *T) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(*v)
}

func applyDefault(dst *ResolvedValue, v string) {
	*dst = ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
