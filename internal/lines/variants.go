package lines

import (
	"fmt"
	"regexp"
	"strconv"
)

// CanonicalPrefix is the prefix of numbered canonical line names (Line_66).
const CanonicalPrefix = "Line_"

var canonicalNumbered = regexp.MustCompile(`(?i)^line[_\s-]?0*(\d+)$`)

// CanonicalNumber extracts N from a canonical name of the form Line_<N>.
func CanonicalNumber(canonical string) (int, bool) {
	m := canonicalNumbered.FindStringSubmatch(canonical)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Canonical builds the canonical name for line number n.
func Canonical(n int) string {
	return fmt.Sprintf("%s%d", CanonicalPrefix, n)
}

// Variants generates the English and Russian morphological variants of a
// numbered canonical line. Non-numbered names yield nil.
func Variants(canonical string) []string {
	n, ok := CanonicalNumber(canonical)
	if !ok {
		return nil
	}
	return []string{
		fmt.Sprintf("line %d", n),
		fmt.Sprintf("line no %d", n),
		fmt.Sprintf("line no. %d", n),
		fmt.Sprintf("line number %d", n),
		fmt.Sprintf("line #%d", n),
		fmt.Sprintf("line №%d", n),
		fmt.Sprintf("%d%s line", n, ordinalSuffix(n)),
		fmt.Sprintf("%dth line", n),
		fmt.Sprintf("линия %d", n),
		fmt.Sprintf("линия №%d", n),
		fmt.Sprintf("линия № %d", n),
		fmt.Sprintf("линия-%d", n),
		fmt.Sprintf("%d-я линия", n),
		fmt.Sprintf("%dя линия", n),
		fmt.Sprintf("%d линия", n),
		fmt.Sprintf("линии %d", n),
		fmt.Sprintf("линию %d", n),
		fmt.Sprintf("%d-й линии", n),
		fmt.Sprintf("%d-я", n),
	}
}

func ordinalSuffix(n int) string {
	if n%100 >= 11 && n%100 <= 13 {
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}
