package lines

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var spaceRun = regexp.MustCompile(`\s+`)

// Normalize folds a line mention into its comparison form: lower case, NFC,
// ё folded to е, dashes and underscores turned into spaces, everything but
// letters, digits, spaces, '#' and '№' dropped, whitespace collapsed.
func Normalize(s string) string {
	s = norm.NFC.String(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == 'ё':
			b.WriteRune('е')
		case r == '_' || isDash(r):
			b.WriteRune(' ')
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '#' || r == '№':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.TrimSpace(spaceRun.ReplaceAllString(b.String(), " "))
}

func isDash(r rune) bool {
	switch r {
	case '-', '‐', '‑', '‒', '–', '—', '―', '−':
		return true
	}
	return unicode.Is(unicode.Pd, r)
}

var digitRun = regexp.MustCompile(`\d+`)

// numbers returns the digit runs of s with leading zeros stripped.
func numbers(s string) []string {
	raw := digitRun.FindAllString(s, -1)
	out := raw[:0]
	for _, n := range raw {
		n = strings.TrimLeft(n, "0")
		if n == "" {
			n = "0"
		}
		out = append(out, n)
	}
	return out
}

// hasLineWord reports whether a normalized string names a line explicitly.
func hasLineWord(s string) bool {
	for _, tok := range strings.Fields(s) {
		switch tok {
		case "line", "линия", "линии", "линию", "линией":
			return true
		}
	}
	return false
}
