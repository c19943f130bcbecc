package lines

import (
	"sort"
	"strings"
)

// Ratio is the Indel similarity of a and b in [0, 100]:
// 2*LCS / (len(a)+len(b)), counted in runes.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 100
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	return 100 * float64(2*lcsLen(ra, rb)) / float64(len(ra)+len(rb))
}

// lcsLen is the length of the longest common subsequence of a and b.
func lcsLen(a, b []rune) int {
	if len(b) > len(a) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// PartialRatio scores the shorter string against its best-aligned window of
// the longer one.
func PartialRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(ra) == 0 {
		if len(rb) == 0 {
			return 100
		}
		return 0
	}
	short := string(ra)
	best := 0.0
	for i := 0; i+len(ra) <= len(rb); i++ {
		if r := Ratio(short, string(rb[i:i+len(ra)])); r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

func sortedTokens(s string) string {
	toks := strings.Fields(s)
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

// TokenSortRatio compares the strings after sorting their tokens.
func TokenSortRatio(a, b string) float64 {
	return Ratio(sortedTokens(a), sortedTokens(b))
}

// TokenSetRatio compares the shared token set against each side's remainder,
// so extra words on one side cost little.
func TokenSetRatio(a, b string) float64 {
	return tokenSet(a, b, Ratio)
}

func tokenSet(a, b string, score func(string, string) float64) float64 {
	setA := tokenSetOf(a)
	setB := tokenSetOf(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	var common, onlyA, onlyB []string
	for t := range setA {
		if _, ok := setB[t]; ok {
			common = append(common, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range setB {
		if _, ok := setA[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	t0 := strings.Join(common, " ")
	t1 := strings.TrimSpace(t0 + " " + strings.Join(onlyA, " "))
	t2 := strings.TrimSpace(t0 + " " + strings.Join(onlyB, " "))

	best := score(t1, t2)
	if t0 != "" {
		if r := score(t0, t1); r > best {
			best = r
		}
		if r := score(t0, t2); r > best {
			best = r
		}
	}
	return best
}

func tokenSetOf(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range strings.Fields(s) {
		out[t] = struct{}{}
	}
	return out
}

// WRatio picks the best of the plain, partial and token-based ratios,
// scaling partial matches down as the length gap between a and b grows.
func WRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	base := Ratio(a, b)

	lenRatio := float64(la) / float64(lb)
	if lb > la {
		lenRatio = float64(lb) / float64(la)
	}

	if lenRatio < 1.5 {
		return max(base, TokenSortRatio(a, b)*0.95, TokenSetRatio(a, b)*0.95)
	}

	partialScale := 0.9
	if lenRatio >= 8 {
		partialScale = 0.6
	}
	partial := PartialRatio(a, b) * partialScale
	partialSort := PartialRatio(sortedTokens(a), sortedTokens(b)) * 0.95 * partialScale
	partialSet := tokenSet(a, b, PartialRatio) * 0.95 * partialScale
	return max(base, partial, partialSort, partialSet)
}
