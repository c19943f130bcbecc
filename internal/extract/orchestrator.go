package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hurttlocker/linewatch/internal/dates"
	"github.com/hurttlocker/linewatch/internal/lines"
	"github.com/hurttlocker/linewatch/internal/llm"
	"github.com/hurttlocker/linewatch/internal/logging"
	"github.com/hurttlocker/linewatch/internal/store"
)

// Source tags which path produced a Result.
type Source string

const (
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
	SourceFailed   Source = "failed"
)

// Document is one piece of minutes text to extract from.
type Document struct {
	Text     string
	FileName string
}

// Result is the outcome of one extraction. It is never an error value:
// model failures degrade to the fallback and are described in Error and
// ErrorClass.
type Result struct {
	Success      bool        `json:"success"`
	Candidates   []Candidate `json:"candidates"`
	Confidence   float64     `json:"confidence"`
	ProcessingMS int64       `json:"processing_ms"`
	Source       Source      `json:"source"`
	Error        string      `json:"error,omitempty"`
	ErrorClass   ErrorClass  `json:"error_class,omitempty"`
	Attempts     int         `json:"attempts"`
	RawResponse  string      `json:"raw_response,omitempty"`
}

// LineResolver resolves line mentions against the alias catalog.
type LineResolver interface {
	Resolve(ctx context.Context, mention string) (lines.Match, bool, error)
	Catalog(ctx context.Context) (*lines.Catalog, error)
}

// Notifier persists notifications.
type Notifier interface {
	Notify(ctx context.Context, code store.NotificationCode, text string, payload map[string]any) (bool, error)
}

// Options configures the model call.
type Options struct {
	Timeout        time.Duration // budget for the whole model call, retries included
	AttemptTimeout time.Duration // per attempt (0 = Timeout)
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxTokens      int
	Temperature    float64
	TopP           float64
}

// DefaultOptions returns the production model-call settings.
func DefaultOptions() Options {
	return Options{
		Timeout:     25 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    4 * time.Second,
		MaxTokens:   500,
		Temperature: 0.1,
		TopP:        0.9,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.AttemptTimeout <= 0 || o.AttemptTimeout > o.Timeout {
		o.AttemptTimeout = o.Timeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = max(d.MaxDelay, o.BaseDelay)
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = d.MaxTokens
	}
	return o
}

// Orchestrator runs the model call with retry, timeout and fallback, then
// post-processes whatever came out.
type Orchestrator struct {
	provider llm.Provider
	lines    LineResolver
	dates    *dates.Normalizer
	notifier Notifier
	opts     Options
	log      *logging.Logger
	now      func() time.Time
}

// NewOrchestrator wires an orchestrator. provider and notifier may be nil: a
// nil provider sends every document to the fallback, a nil notifier drops
// notifications.
func NewOrchestrator(provider llm.Provider, resolver LineResolver, norm *dates.Normalizer, notifier Notifier, opts Options, log *logging.Logger) *Orchestrator {
	log = logging.OrNop(log)
	if norm == nil {
		norm = dates.NewNormalizer(nil, 0, log)
	}
	return &Orchestrator{
		provider: provider,
		lines:    resolver,
		dates:    norm,
		notifier: notifier,
		opts:     opts.withDefaults(),
		log:      log,
		now:      time.Now,
	}
}

// promptContext is the building-context state shared by both paths.
type promptContext struct {
	hints    dates.YearHints
	catalog  *lines.Catalog
	lineHint string
	prompt   string
}

func (o *Orchestrator) buildContext(ctx context.Context, doc Document) *promptContext {
	pc := &promptContext{
		hints: dates.YearHints{
			Header:   dates.HeaderYear(doc.Text),
			Filename: dates.FilenameYear(filepath.Base(doc.FileName)),
		},
	}
	cat, err := o.lines.Catalog(ctx)
	if err != nil {
		o.log.Warn("alias catalog unavailable", "error", err)
		cat = lines.Build(nil, nil, "", nil)
	}
	pc.catalog = cat
	pc.lineHint = QuickLineHint(doc.Text, cat)
	pc.hints.Planning = o.dates.PlanningYear(ctx, pc.lineHint)

	var synonyms []string
	if cat.DefaultLine() != "" {
		synonyms = cat.Synonyms()
	}
	pc.prompt = BuildPrompt(PromptInput{
		Text:            doc.Text,
		FileName:        doc.FileName,
		Hints:           pc.hints,
		CurrentYear:     o.dates.Now().Year(),
		DefaultLine:     cat.DefaultLine(),
		DefaultSynonyms: synonyms,
		Aliases:         cat.Hints(MaxAliasHints),
	})
	return pc
}

// Extract runs the full extraction for one document.
func (o *Orchestrator) Extract(ctx context.Context, doc Document) Result {
	started := o.now()
	pc := o.buildContext(ctx, doc)

	call := o.invoke(ctx, pc.prompt)
	res := Result{Attempts: call.attempts, RawResponse: truncateRunes(call.raw, MaxRawResponseRunes)}
	finish := func() Result {
		res.ProcessingMS = o.now().Sub(started).Milliseconds()
		return res
	}

	if call.err == nil {
		res.Success = true
		res.Source = SourceLLM
		res.Candidates = o.postProcess(ctx, doc, pc, []DowntimeExtraction{*call.extraction}, store.SourceLLM)
		res.Confidence = call.extraction.Confidence
		o.log.Debug("model extraction succeeded", "file", doc.FileName, "attempts", call.attempts)
		return finish()
	}

	res.Error = call.err.Error()
	res.ErrorClass = call.class
	decision := Decide(call.class)
	if decision.Action == ActionFail {
		res.Source = SourceFailed
		o.log.Warn("extraction aborted", "file", doc.FileName, "error", call.err)
		return finish()
	}

	code := decision.Code
	if call.class == ClassTransient {
		code = ExhaustedCode(call.err)
	}
	o.log.Warn("model extraction failed, using fallback", "file", doc.FileName, "class", string(call.class), "attempts", call.attempts, "error", call.err)
	o.notifyFailure(ctx, code, doc, call)

	recs := Fallback(doc.Text, pc.catalog)
	res.Success = true
	res.Source = SourceFallback
	res.Candidates = o.postProcess(ctx, doc, pc, recs, store.SourceFallback)
	if len(res.Candidates) > 0 {
		res.Confidence = res.Candidates[0].Confidence
	}
	return finish()
}

type callResult struct {
	raw        string
	extraction *DowntimeExtraction
	class      ErrorClass
	err        error
	attempts   int
}

// invoke calls the model until it answers, the failure is not transient,
// the attempts run out, or the overall budget expires.
func (o *Orchestrator) invoke(ctx context.Context, prompt string) callResult {
	if o.provider == nil {
		return callResult{class: ClassUnavailable, err: llm.ErrNotConfigured}
	}

	overall, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	b := &backoff.ExponentialBackOff{
		InitialInterval:     o.opts.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         o.opts.MaxDelay,
	}
	b.Reset()

	opts := llm.CompletionOpts{
		MaxTokens:   o.opts.MaxTokens,
		Temperature: o.opts.Temperature,
		TopP:        o.opts.TopP,
		Stop:        []string{"```", "\n\n"},
		Format:      "json",
		System:      systemPrompt,
	}

	var res callResult
	for {
		res.attempts++
		raw, err := o.attempt(overall, prompt, opts)
		if err == nil {
			res.raw = raw
			parsed := Parse(raw)
			if !parsed.Valid() {
				res.class, res.err = ClassSchema, parsed.Err()
				return res
			}
			res.extraction = parsed.Extraction
			return res
		}

		res.err = err
		res.class = Classify(err, ctx, overall)
		if Decide(res.class).Action != ActionRetry || res.attempts >= o.opts.MaxAttempts {
			return res
		}

		wait := b.NextBackOff()
		var httpErr *llm.HTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
			wait = min(httpErr.RetryAfter, o.opts.MaxDelay)
		}
		o.log.Debug("retrying model call", "attempt", res.attempts, "wait", wait.String(), "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-overall.Done():
			timer.Stop()
			res.class = Classify(overall.Err(), ctx, overall)
			res.err = fmt.Errorf("waiting to retry: %w", overall.Err())
			return res
		case <-timer.C:
		}
	}
}

func (o *Orchestrator) attempt(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	actx, cancel := context.WithTimeout(ctx, o.opts.AttemptTimeout)
	defer cancel()
	return o.provider.Complete(actx, prompt, opts)
}

func (o *Orchestrator) notifyFailure(ctx context.Context, code store.NotificationCode, doc Document, call callResult) {
	if code == "" {
		return
	}
	payload := map[string]any{"reason": call.err.Error()}
	// Without an endpoint every document fails the same way; one notification is enough.
	if !errors.Is(call.err, llm.ErrNotConfigured) {
		payload["file"] = doc.FileName
		payload["attempts"] = call.attempts
	}
	var text string
	switch code {
	case store.CodeLLMTimeout:
		text = "model call timed out, fallback extraction used"
	case store.CodeLLMBadJSON:
		text = "model returned invalid JSON, fallback extraction used"
	default:
		text = "model unavailable, fallback extraction used"
	}
	o.notify(ctx, code, text, payload)
}

func (o *Orchestrator) notify(ctx context.Context, code store.NotificationCode, text string, payload map[string]any) {
	if o.notifier == nil {
		return
	}
	if _, err := o.notifier.Notify(ctx, code, text, payload); err != nil {
		o.log.Warn("notification failed", "code", string(code), "error", err)
	}
}
