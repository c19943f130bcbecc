package lines

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Match methods.
const (
	MethodDefault = "default_synonym"
	MethodExact   = "exact"
	MethodNumeric = "numeric"
	MethodFuzzy   = "fuzzy"
)

// Entry is one (canonical line, alias) pair in the catalog. A zero weight
// keeps the alias for exact matching but removes it from fuzzy scoring.
type Entry struct {
	Canonical string
	Alias     string
	Norm      string
	Weight    float64
	nums      []string
	lineWord  bool
	stored    bool
}

// AliasInput is a stored alias handed to Build.
type AliasInput struct {
	Line   string
	Alias  string
	Weight float64
}

// Match is a successful resolution.
type Match struct {
	Line   string  `json:"line"`
	Alias  string  `json:"alias,omitempty"`
	Score  float64 `json:"score"`
	Method string  `json:"method"`
}

// Catalog is an immutable snapshot of every alias the resolver can match.
type Catalog struct {
	entries     []Entry
	exact       map[string]int
	defaultLine string
	synonyms    []string
}

// Build assembles a catalog from canonical line names, stored aliases and the
// default-line synonym group. Entries are ordered by canonical name then
// alias text so resolution never depends on input order.
func Build(lineNames []string, aliases []AliasInput, defaultLine string, synonyms []string) *Catalog {
	c := &Catalog{exact: map[string]int{}, defaultLine: defaultLine}

	seen := map[string]struct{}{}
	add := func(canonical, alias string, weight float64, stored bool) {
		n := Normalize(alias)
		if n == "" {
			return
		}
		key := canonical + "\x00" + n
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		if weight < 0 {
			weight = 1.0
		}
		c.entries = append(c.entries, Entry{
			Canonical: canonical,
			Alias:     alias,
			Norm:      n,
			Weight:    weight,
			nums:      numbers(n),
			lineWord:  hasLineWord(n),
			stored:    stored,
		})
	}

	names := append([]string(nil), lineNames...)
	if defaultLine != "" {
		names = append(names, defaultLine)
	}
	// Stored aliases first so their weights win over generated duplicates.
	sorted := append([]AliasInput(nil), aliases...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line < sorted[j].Line
		}
		return sorted[i].Alias < sorted[j].Alias
	})
	for _, a := range sorted {
		add(a.Line, a.Alias, a.Weight, true)
	}
	for _, name := range names {
		add(name, name, 1.0, false)
		for _, v := range Variants(name) {
			add(name, v, 1.0, false)
		}
	}
	for _, syn := range synonyms {
		if n := Normalize(syn); n != "" {
			c.synonyms = append(c.synonyms, n)
		}
		if defaultLine != "" {
			add(defaultLine, syn, 1.0, false)
		}
	}

	sort.SliceStable(c.entries, func(i, j int) bool {
		if c.entries[i].Canonical != c.entries[j].Canonical {
			return c.entries[i].Canonical < c.entries[j].Canonical
		}
		return c.entries[i].Norm < c.entries[j].Norm
	})
	for i, e := range c.entries {
		prev, ok := c.exact[e.Norm]
		if !ok || e.Weight > c.entries[prev].Weight {
			c.exact[e.Norm] = i
		}
	}
	return c
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int { return len(c.entries) }

// DefaultLine returns the line that absorbs the synonym group.
func (c *Catalog) DefaultLine() string { return c.defaultLine }

// Synonyms returns the normalized default-line synonym group.
func (c *Catalog) Synonyms() []string { return append([]string(nil), c.synonyms...) }

// Lines returns the distinct canonical names in the catalog.
func (c *Catalog) Lines() []string {
	var out []string
	for i, e := range c.entries {
		if i == 0 || c.entries[i-1].Canonical != e.Canonical {
			out = append(out, e.Canonical)
		}
	}
	return out
}

// Hints returns up to n raw alias strings for prompting, stored aliases and
// canonical names first.
func (c *Catalog) Hints(n int) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, e := range c.entries {
		if len(out) >= n {
			break
		}
		if _, ok := seen[e.Alias]; ok {
			continue
		}
		seen[e.Alias] = struct{}{}
		out = append(out, e.Alias)
	}
	return out
}

// MentionsDefault reports whether normalized text contains a default-line synonym.
func (c *Catalog) MentionsDefault(text string) bool {
	n := Normalize(text)
	for _, syn := range c.synonyms {
		if strings.Contains(n, syn) {
			return true
		}
	}
	return false
}

var (
	lineThenNumber = regexp.MustCompile(`(?:^|\s)(?:line|линия|линии|линию|лин)\s*(?:no|number|номер|№|#)?\s*(?:no|number|номер|№|#)?\s*(\d{1,3})(?:\s|$)`)
	numberThenLine = regexp.MustCompile(`(?:^|\s)(\d{1,3})\s*(?:st|nd|rd|th|я|й|ая|ой)?\s*(?:line|линия|линии|линию)(?:\s|$)`)
)

// NumericLine finds an explicit line-number pattern ("line 66", "66th line",
// "линия №66", "66-я линия") and returns the synthesized canonical name.
func NumericLine(mention string) (string, bool) {
	n := Normalize(mention)
	for _, re := range []*regexp.Regexp{lineThenNumber, numberThenLine} {
		if m := re.FindStringSubmatch(n); m != nil {
			num, err := strconv.Atoi(m[1])
			if err != nil || num <= 0 {
				continue
			}
			return Canonical(num), true
		}
	}
	return "", false
}

// Resolve maps a mention to a canonical line: exact normalized alias, then
// default-line synonym, then numeric canonicalization, then the weighted
// fuzzy score. The fuzzy winner must reach threshold.
//
// Equal fuzzy scores go to the higher alias weight, then the lexically
// smaller canonical name.
func (c *Catalog) Resolve(mention string, threshold float64) (Match, bool) {
	n := Normalize(mention)
	if n == "" {
		return Match{}, false
	}

	if i, ok := c.exact[n]; ok {
		e := c.entries[i]
		return Match{Line: e.Canonical, Alias: e.Alias, Score: 100, Method: MethodExact}, true
	}

	if c.defaultLine != "" {
		for _, syn := range c.synonyms {
			if strings.Contains(n, syn) {
				return Match{Line: c.defaultLine, Alias: syn, Score: 100, Method: MethodDefault}, true
			}
		}
	}

	if line, ok := NumericLine(n); ok {
		return Match{Line: line, Score: 100, Method: MethodNumeric}, true
	}

	mNums := numbers(n)
	mLine := hasLineWord(n)
	best := -1
	bestScore := 0.0
	for i, e := range c.entries {
		score := 0.6*WRatio(n, e.Norm) + 0.4*TokenSetRatio(n, e.Norm)
		if sharesNumber(mNums, e.nums) {
			score += 10
		}
		if mLine && e.lineWord {
			score += 5
		}
		score *= e.Weight

		switch {
		case best < 0, score > bestScore:
			best, bestScore = i, score
		case score == bestScore && e.Weight > c.entries[best].Weight:
			best = i
		}
	}
	if best < 0 || bestScore < threshold {
		return Match{}, false
	}
	e := c.entries[best]
	return Match{Line: e.Canonical, Alias: e.Alias, Score: bestScore, Method: MethodFuzzy}, true
}

func sharesNumber(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
