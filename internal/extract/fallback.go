package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hurttlocker/linewatch/internal/lines"
	"github.com/hurttlocker/linewatch/internal/store"
)

const (
	// FallbackConfidence is assigned to every rule-based candidate.
	FallbackConfidence = 0.4
	// fallbackWindow is how many runes around a keyword are searched.
	fallbackWindow = 200
	// evidenceRunes caps the evidence quote of a rule-based candidate.
	evidenceRunes = 100
	fallbackNotes = "regex"
)

var downtimeKeyword = regexp.MustCompile(`(?i)простой|простоя|останов|обслуживани|ремонт|модернизац|профилактик|maintenance|repair|upgrade|overhaul|downtime|shutdown|stoppage`)

var (
	numericDate = regexp.MustCompile(`\b(\d{1,2})[./-](\d{1,2})[./-](\d{4}|\d{2})\b`)
	monthNames  = `(января|февраля|марта|апреля|мая|июня|июля|августа|сентября|октября|ноября|декабря)`
	fromToMonth = regexp.MustCompile(`(?i)(?:^|[^\pL])с\s*(\d{1,2})\s*по\s*(\d{1,2})\s+` + monthNames + `(?:\s+(\d{4}))?`)
	dashMonth   = regexp.MustCompile(`(?i)(\d{1,2})\s*[–—-]\s*(\d{1,2})\s+` + monthNames + `(?:\s+(\d{4}))?`)
)

var genitiveMonths = map[string]int{
	"января": 1, "февраля": 2, "марта": 3, "апреля": 4, "мая": 5, "июня": 6,
	"июля": 7, "августа": 8, "сентября": 9, "октября": 10, "ноября": 11, "декабря": 12,
}

// Fallback extracts downtime candidates with keyword and date patterns only.
// Windows without a date yield nothing. cat may be nil.
func Fallback(text string, cat *lines.Catalog) []DowntimeExtraction {
	runes := []rune(text)
	var out []DowntimeExtraction
	seen := map[string]struct{}{}

	for _, loc := range downtimeKeyword.FindAllStringIndex(text, -1) {
		at := utf8.RuneCountInString(text[:loc[0]])
		kwLen := utf8.RuneCountInString(text[loc[0]:loc[1]])
		lo := max(0, at-fallbackWindow)
		hi := min(len(runes), at+kwLen+fallbackWindow)
		window := string(runes[lo:hi])

		start, end, fullYear, ok := windowDates(window)
		if !ok {
			continue
		}

		rec := DowntimeExtraction{
			Line:              windowLine(window, cat),
			Kind:              string(classifyKind(window)),
			Status:            string(store.StatusPlanned),
			StartDate:         &start,
			EndDate:           &end,
			PartialDateStart:  !fullYear,
			PartialDateEnd:    !fullYear,
			EvidenceQuote:     strings.TrimSpace(truncateRunes(window, evidenceRunes)),
			EvidenceLocation:  fmt.Sprintf("offset %d", at),
			Confidence:        FallbackConfidence,
			Notes:             fallbackNotes,
			ExtractionVersion: ExtractionVersion,
		}
		key := strings.Join([]string{rec.Line, start, end, rec.Kind, rec.Notes}, "|")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// windowDates returns raw DD-MM[-YY[YY]] start and end strings. Numeric dates
// win over month-name ranges; a single numeric date is both start and end.
func windowDates(window string) (start, end string, fullYear, ok bool) {
	if ms := numericDate.FindAllStringSubmatch(window, 2); len(ms) > 0 {
		start = ms[0][1] + "-" + ms[0][2] + "-" + ms[0][3]
		fullYear = len(ms[0][3]) == 4
		end = start
		if len(ms) > 1 {
			end = ms[1][1] + "-" + ms[1][2] + "-" + ms[1][3]
			fullYear = fullYear && len(ms[1][3]) == 4
		}
		return start, end, fullYear, true
	}
	for _, re := range []*regexp.Regexp{fromToMonth, dashMonth} {
		m := re.FindStringSubmatch(window)
		if m == nil {
			continue
		}
		month := genitiveMonths[strings.ToLower(m[3])]
		start = fmt.Sprintf("%s-%02d", m[1], month)
		end = fmt.Sprintf("%s-%02d", m[2], month)
		if m[4] != "" {
			start += "-" + m[4]
			end += "-" + m[4]
			fullYear = true
		}
		return start, end, fullYear, true
	}
	return "", "", false, false
}

func windowLine(window string, cat *lines.Catalog) string {
	if line, ok := lines.NumericLine(window); ok {
		return line
	}
	if cat != nil && cat.DefaultLine() != "" && cat.MentionsDefault(window) {
		return cat.DefaultLine()
	}
	return ""
}

func classifyKind(window string) store.DowntimeKind {
	w := strings.ToLower(window)
	switch {
	case strings.Contains(w, "ремонт") || strings.Contains(w, "repair"):
		return store.KindRepair
	case strings.Contains(w, "модерниз") || strings.Contains(w, "upgrade"):
		return store.KindUpgrade
	case strings.Contains(w, "обслуж") || strings.Contains(w, "профилакт") || strings.Contains(w, "maintenance"):
		return store.KindMaintenance
	}
	return store.KindOther
}
