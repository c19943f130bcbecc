// Package dates normalizes day-month[-year] mentions into calendar dates,
// infers missing years and clamps impossible days to the end of the month.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the human-facing date format (DD.MM.YYYY).
const Layout = "02.01.2006"

// Correction records a clamped calendar date.
type Correction struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
}

func (c Correction) String() string {
	return fmt.Sprintf("date %s does not exist, corrected to %s", c.Original, c.Corrected)
}

// Date is a normalized calendar date.
type Date struct {
	Time       time.Time
	Partial    bool        // year was inferred, not read from the source
	Correction *Correction // set when the day was clamped
}

// YearHints carries the candidate years for a date with no explicit year, in
// priority order. Zero means "not available".
type YearHints struct {
	Header   int // year stated in the document header
	Filename int // year embedded in the file name
	Planning int // year inferred from plan data
}

// Pick returns the highest-priority available year, falling back to the
// year of now.
func (h YearHints) Pick(now time.Time) int {
	for _, y := range []int{h.Header, h.Filename, h.Planning} {
		if y > 0 {
			return y
		}
	}
	return now.Year()
}

// Day returns UTC midnight of the given calendar day.
func Day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the clock part of t, keeping its calendar day in UTC.
func Truncate(t time.Time) time.Time {
	return Day(t.Year(), t.Month(), t.Day())
}

// Clamp builds a date, moving an out-of-range day down to the last day of
// the month. Months outside 1-12 and days outside 1-31 are rejected.
func Clamp(year, month, day int) (time.Time, *Correction, bool) {
	if year < 1 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, nil, false
	}
	last := DaysIn(year, time.Month(month))
	if day <= last {
		return Day(year, time.Month(month), day), nil, true
	}
	t := Day(year, time.Month(month), last)
	return t, &Correction{
		Original:  fmt.Sprintf("%02d.%02d.%04d", day, month, year),
		Corrected: t.Format(Layout),
	}, true
}

// DaysIn returns the number of days in the month.
func DaysIn(year int, month time.Month) int {
	return Day(year, month+1, 0).Day()
}

// OrderRange returns start and end in ascending order and whether they were swapped.
func OrderRange(start, end time.Time) (time.Time, time.Time, bool) {
	if end.Before(start) {
		return end, start, true
	}
	return start, end, false
}

// Format renders t as DD.MM.YYYY.
func Format(t time.Time) string {
	return t.Format(Layout)
}

var dayMonth = regexp.MustCompile(`^(\d{1,2})[.\-/](\d{1,2})(?:[.\-/](\d{2}|\d{4}))?$`)

// ParseDayMonth parses "DD-MM-YYYY" or "DD-MM" (also with '.' or '/'
// separators). A missing year comes from hints and marks the date partial;
// a two-digit year is read as 20YY and also marks it partial.
func ParseDayMonth(raw string, hints YearHints, now time.Time) (Date, bool) {
	m := dayMonth.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Date{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])

	partial := false
	var year int
	switch len(m[3]) {
	case 0:
		year = hints.Pick(now)
		partial = true
	case 2:
		y, _ := strconv.Atoi(m[3])
		year = 2000 + y
		partial = true
	default:
		year, _ = strconv.Atoi(m[3])
	}

	t, corr, ok := Clamp(year, month, day)
	if !ok {
		return Date{}, false
	}
	return Date{Time: t, Partial: partial, Correction: corr}, true
}

var (
	dottedFull  = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)
	slashedFull = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	dashedFull  = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`)
	isoFull     = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})(?:[ T].*)?$`)
	excelSerial = regexp.MustCompile(`^\d{5}(?:\.\d+)?$`)
)

// excelEpoch is day zero of the 1900 spreadsheet date system (accounting for
// the phantom 29 Feb 1900).
var excelEpoch = Day(1899, time.December, 30)

// ParseFull parses a date that must carry its year: DD.MM.YYYY first, then
// DD/MM/YYYY, DD-MM-YYYY, YYYY-MM-DD, and finally a spreadsheet serial day
// number. Impossible days are clamped. Anything else is unparseable.
func ParseFull(raw string) (Date, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Date{}, false
	}
	for _, re := range []*regexp.Regexp{dottedFull, slashedFull, dashedFull} {
		if m := re.FindStringSubmatch(s); m != nil {
			return fromParts(m[3], m[2], m[1])
		}
	}
	if m := isoFull.FindStringSubmatch(s); m != nil {
		return fromParts(m[1], m[2], m[3])
	}
	if excelSerial.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Date{}, false
		}
		return Date{Time: excelEpoch.AddDate(0, 0, int(f))}, true
	}
	return Date{}, false
}

func fromParts(ys, ms, ds string) (Date, bool) {
	y, _ := strconv.Atoi(ys)
	m, _ := strconv.Atoi(ms)
	d, _ := strconv.Atoi(ds)
	t, corr, ok := Clamp(y, m, d)
	if !ok {
		return Date{}, false
	}
	return Date{Time: t, Correction: corr}, true
}

var yearToken = regexp.MustCompile(`(?:^|\D)(20\d{2})(?:\D|$)`)

// headerWindow is how much of a document counts as its header.
const headerWindow = 500

// HeaderYear returns the first 20xx year in the first 500 characters of text.
func HeaderYear(text string) int {
	r := []rune(text)
	if len(r) > headerWindow {
		r = r[:headerWindow]
	}
	return firstYear(string(r))
}

// FilenameYear returns the first 20xx year in a file name.
func FilenameYear(name string) int {
	return firstYear(name)
}

func firstYear(s string) int {
	m := yearToken.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	y, _ := strconv.Atoi(m[1])
	return y
}
