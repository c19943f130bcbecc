package extract

import (
	"fmt"
	"strings"

	"github.com/hurttlocker/linewatch/internal/dates"
)

const (
	// MaxPromptRunes caps the document text embedded in a prompt.
	MaxPromptRunes = 1500
	// MaxAliasHints caps the alias list embedded in a prompt.
	MaxAliasHints = 30
	// MaxRawResponseRunes caps the model output kept on a result.
	MaxRawResponseRunes = 1000
)

const systemPrompt = `You extract planned production line downtimes from factory meeting minutes.

RULES:
1. Return exactly ONE JSON object matching the schema. No prose, no markdown.
2. Dates are DD-MM-YYYY, or DD-MM when the year is not written. Use null when a date is not stated.
3. Set partial_date_start / partial_date_end to true when the year is not written in the text.
4. evidence_quote must be copied verbatim from the text.
5. line is the canonical id (Line_<N>) when you can tell it, otherwise "unknown".
6. extraction_version is always "v1".`

// PromptInput is everything embedded in an extraction prompt.
type PromptInput struct {
	Text            string
	FileName        string
	Hints           dates.YearHints
	CurrentYear     int
	DefaultLine     string
	DefaultSynonyms []string
	Aliases         []string
}

// BuildPrompt renders the user message for one extraction call.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder

	b.WriteString("METADATA:\n")
	if in.FileName != "" {
		fmt.Fprintf(&b, "file_name: %s\n", in.FileName)
	}
	fmt.Fprintf(&b, "header_year: %s\n", yearOrNull(in.Hints.Header))
	fmt.Fprintf(&b, "filename_year: %s\n", yearOrNull(in.Hints.Filename))
	fmt.Fprintf(&b, "planning_year: %s\n", yearOrNull(in.Hints.Planning))
	fmt.Fprintf(&b, "current_year: %d\n", in.CurrentYear)
	b.WriteString("year_priority: header_year > filename_year > planning_year > current_year\n")

	if in.DefaultLine != "" {
		fmt.Fprintf(&b, "\nDEFAULT LINE: %s", in.DefaultLine)
		if len(in.DefaultSynonyms) > 0 {
			fmt.Fprintf(&b, " (also called: %s)", strings.Join(in.DefaultSynonyms, ", "))
		}
		b.WriteString("\n")
	}

	aliases := in.Aliases
	if len(aliases) > MaxAliasHints {
		aliases = aliases[:MaxAliasHints]
	}
	if len(aliases) > 0 {
		fmt.Fprintf(&b, "KNOWN LINE NAMES: %s\n", strings.Join(aliases, "; "))
	}

	b.WriteString("\nJSON SCHEMA:\n")
	b.WriteString(Schema())
	b.WriteString("\n\nTEXT:\n---\n")
	b.WriteString(truncateRunes(in.Text, MaxPromptRunes))
	b.WriteString("\n---\n\nReturn the JSON object.")
	return b.String()
}

func yearOrNull(y int) string {
	if y <= 0 {
		return "null"
	}
	return fmt.Sprintf("%d", y)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
