// Package llm provides the model-calling contract used by extraction and an
// OpenAI-compatible chat completions client (OpenAI, OpenRouter, Ollama,
// vLLM and friends all speak it).
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no model endpoint is set.
var ErrNotConfigured = errors.New("llm endpoint not configured")

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns a human-readable provider name (e.g., "openai/gpt-4o-mini").
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int      // Max tokens to generate (0 = provider default)
	Temperature float64  // 0.0-2.0 (0 = deterministic)
	TopP        float64  // 0 = provider default
	Stop        []string // Stop sequences
	Model       string   // Override model for this request (empty = use provider default)
	Format      string   // "json" for structured output, empty for plain text
	System      string   // System prompt (optional)
}

// Config holds provider configuration.
type Config struct {
	BaseURL string        // e.g. https://api.openai.com/v1 or http://localhost:11434/v1
	Model   string        // e.g. gpt-4o-mini
	APIKey  string        // optional for local servers
	Timeout time.Duration // transport-level cap per request (0 = none)
}

// HTTPError is a non-200 answer from the model endpoint.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("llm model is required for %s", base)
	}
	p := &openAIProvider{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: base,
	}
	p.client.Timeout = cfg.Timeout
	return p, nil
}
