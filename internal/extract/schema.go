// Package extract turns meeting-minutes text into downtime candidates. A
// model call is tried first; any failure of the call degrades to a
// deterministic keyword/regex extractor, and both paths share the same
// post-processing (line resolution, date completion, provenance notes).
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/hurttlocker/linewatch/internal/dates"
	"github.com/hurttlocker/linewatch/internal/store"
)

// ExtractionVersion is the only accepted extraction_version value.
const ExtractionVersion = "v1"

// DowntimeExtraction is the single JSON object the model must return. The
// fallback extractor produces the same shape so both paths share
// post-processing.
type DowntimeExtraction struct {
	Line              string   `json:"line" jsonschema:"description=Canonical line id like Line_66 or unknown"`
	LineAliasesFound  []string `json:"line_aliases_found" jsonschema:"description=Line mentions exactly as written in the text"`
	Kind              string   `json:"kind" jsonschema:"enum=maintenance,enum=repair,enum=upgrade,enum=other"`
	Status            string   `json:"status" jsonschema:"enum=approved,enum=done,enum=planned,enum=proposed,enum=discussed"`
	StartDate         *string  `json:"start_date" jsonschema:"description=DD-MM-YYYY or DD-MM or null"`
	EndDate           *string  `json:"end_date" jsonschema:"description=DD-MM-YYYY or DD-MM or null"`
	PartialDateStart  bool     `json:"partial_date_start" jsonschema:"description=true when the start year is not written"`
	PartialDateEnd    bool     `json:"partial_date_end" jsonschema:"description=true when the end year is not written"`
	EvidenceQuote     string   `json:"evidence_quote" jsonschema:"description=Verbatim sentence from the text"`
	EvidenceLocation  string   `json:"evidence_location"`
	Confidence        float64  `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Notes             string   `json:"notes"`
	ExtractionVersion string   `json:"extraction_version" jsonschema:"enum=v1"`
}

var (
	schemaOnce sync.Once
	schemaText string
)

// Schema returns the JSON schema of DowntimeExtraction, reflected once.
func Schema() string {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
		b, err := json.MarshalIndent(r.Reflect(&DowntimeExtraction{}), "", "  ")
		if err != nil {
			// Reflection of a fixed struct cannot fail at runtime; keep the
			// prompt usable anyway.
			schemaText = "{}"
			return
		}
		schemaText = string(b)
	})
	return schemaText
}

// SchemaError is a model response that is not a valid extraction.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string { return "invalid model response: " + e.Reason }

// ParseResult is either a valid extraction or the raw text with the reason
// it was rejected.
type ParseResult struct {
	Extraction *DowntimeExtraction
	Raw        string
	Reason     string
}

// Valid reports whether the response passed validation.
func (r ParseResult) Valid() bool { return r.Extraction != nil }

// Err returns a *SchemaError for invalid results and nil otherwise.
func (r ParseResult) Err() error {
	if r.Valid() {
		return nil
	}
	return &SchemaError{Reason: r.Reason}
}

func invalid(raw, format string, args ...any) ParseResult {
	return ParseResult{Raw: raw, Reason: fmt.Sprintf(format, args...)}
}

// looseExtraction accepts what models actually send; Parse tightens it.
type looseExtraction struct {
	Line              *string  `json:"line"`
	LineAliasesFound  []string `json:"line_aliases_found"`
	Kind              string   `json:"kind"`
	Status            string   `json:"status"`
	StartDate         *string  `json:"start_date"`
	EndDate           *string  `json:"end_date"`
	PartialDateStart  bool     `json:"partial_date_start"`
	PartialDateEnd    bool     `json:"partial_date_end"`
	EvidenceQuote     string   `json:"evidence_quote"`
	EvidenceLocation  string   `json:"evidence_location"`
	Confidence        *float64 `json:"confidence"`
	Notes             string   `json:"notes"`
	ExtractionVersion string   `json:"extraction_version"`
}

// defaultConfidence applies when the model omits confidence.
const defaultConfidence = 0.5

// Parse validates a model response. Markdown code fences are stripped first.
func Parse(raw string) ParseResult {
	body := stripFences(raw)
	if body == "" {
		return invalid(raw, "empty response")
	}
	if !strings.HasPrefix(body, "{") {
		return invalid(raw, "response is not a JSON object")
	}

	var loose looseExtraction
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&loose); err != nil {
		return invalid(raw, "invalid json: %v", err)
	}

	out := &DowntimeExtraction{
		LineAliasesFound: loose.LineAliasesFound,
		PartialDateStart: loose.PartialDateStart,
		PartialDateEnd:   loose.PartialDateEnd,
		EvidenceQuote:    strings.TrimSpace(loose.EvidenceQuote),
		EvidenceLocation: strings.TrimSpace(loose.EvidenceLocation),
		Notes:            strings.TrimSpace(loose.Notes),
	}
	if loose.Line != nil {
		out.Line = strings.TrimSpace(*loose.Line)
	}

	v := strings.TrimSpace(loose.ExtractionVersion)
	if v != "" && v != ExtractionVersion {
		return invalid(raw, "unsupported extraction_version %q", v)
	}
	out.ExtractionVersion = ExtractionVersion

	kind, ok := NormalizeKind(loose.Kind)
	if !ok {
		return invalid(raw, "unknown kind %q", loose.Kind)
	}
	out.Kind = string(kind)

	status, ok := NormalizeStatus(loose.Status)
	if !ok {
		return invalid(raw, "unknown status %q", loose.Status)
	}
	out.Status = string(status)

	out.Confidence = defaultConfidence
	if loose.Confidence != nil {
		if *loose.Confidence < 0 || *loose.Confidence > 1 {
			return invalid(raw, "confidence %.2f outside [0,1]", *loose.Confidence)
		}
		out.Confidence = *loose.Confidence
	}

	var err error
	if out.StartDate, err = checkDate(loose.StartDate); err != nil {
		return invalid(raw, "start_date: %v", err)
	}
	if out.EndDate, err = checkDate(loose.EndDate); err != nil {
		return invalid(raw, "end_date: %v", err)
	}

	return ParseResult{Extraction: out, Raw: raw}
}

func checkDate(p *string) (*string, error) {
	if p == nil {
		return nil, nil
	}
	s := strings.TrimSpace(*p)
	if s == "" || strings.EqualFold(s, "null") {
		return nil, nil
	}
	if _, ok := dates.ParseDayMonth(s, dates.YearHints{Planning: 2000}, dates.Day(2000, 1, 1)); !ok {
		return nil, fmt.Errorf("malformed date %q", s)
	}
	return &s, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			// drop the language tag line (```json)
			if tag := strings.TrimSpace(s[:nl]); !strings.HasPrefix(tag, "{") {
				s = s[nl+1:]
			}
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

var kindSynonyms = map[string]store.DowntimeKind{
	"":                         store.KindOther,
	"maintenance":              store.KindMaintenance,
	"обслуживание":             store.KindMaintenance,
	"техническое обслуживание": store.KindMaintenance,
	"то":                       store.KindMaintenance,
	"профилактика":             store.KindMaintenance,
	"repair":                   store.KindRepair,
	"ремонт":                   store.KindRepair,
	"upgrade":                  store.KindUpgrade,
	"модернизация":             store.KindUpgrade,
	"апгрейд":                  store.KindUpgrade,
	"other":                    store.KindOther,
	"другое":                   store.KindOther,
	"прочее":                   store.KindOther,
}

// NormalizeKind maps English or Russian work-kind names to a DowntimeKind.
// An empty value means other.
func NormalizeKind(s string) (store.DowntimeKind, bool) {
	k, ok := kindSynonyms[strings.ToLower(strings.TrimSpace(s))]
	return k, ok
}

var statusSynonyms = map[string]store.DowntimeStatus{
	"":              store.StatusPlanned,
	"approved":      store.StatusApproved,
	"утверждено":    store.StatusApproved,
	"согласовано":   store.StatusApproved,
	"done":          store.StatusDone,
	"выполнено":     store.StatusDone,
	"завершено":     store.StatusDone,
	"planned":       store.StatusPlanned,
	"запланировано": store.StatusPlanned,
	"планируется":   store.StatusPlanned,
	"proposed":      store.StatusProposed,
	"предложено":    store.StatusProposed,
	"discussed":     store.StatusDiscussed,
	"обсуждается":   store.StatusDiscussed,
	"обсуждено":     store.StatusDiscussed,
}

// NormalizeStatus maps English or Russian status names to a DowntimeStatus.
// An empty value means planned.
func NormalizeStatus(s string) (store.DowntimeStatus, bool) {
	st, ok := statusSynonyms[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}
