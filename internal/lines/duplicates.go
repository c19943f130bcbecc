package lines

import (
	"sort"

	"github.com/agnivade/levenshtein"
)

// NearDuplicateSimilarity is the edit similarity at which a new alias is
// reported as too close to another line's alias.
const NearDuplicateSimilarity = 0.85

// NearAlias is a stored alias of another line that closely resembles a
// candidate alias.
type NearAlias struct {
	Line       string  `json:"line"`
	Alias      string  `json:"alias"`
	Similarity float64 `json:"similarity"`
}

// NearDuplicates lists stored aliases of lines other than line whose
// normalized Levenshtein similarity to alias reaches minSim. Aliases that
// carry different line numbers are never reported. Results are ordered by
// similarity, then line name.
func (c *Catalog) NearDuplicates(line, alias string, minSim float64) []NearAlias {
	n := Normalize(alias)
	if n == "" {
		return nil
	}
	nums := numbers(n)
	var out []NearAlias
	for _, e := range c.entries {
		if !e.stored || e.Canonical == line {
			continue
		}
		if len(nums) > 0 && len(e.nums) > 0 && !sharesNumber(nums, e.nums) {
			continue
		}
		if sim := editSimilarity(n, e.Norm); sim >= minSim {
			out = append(out, NearAlias{Line: e.Canonical, Alias: e.Alias, Similarity: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Line < out[j].Line
	})
	return out
}

func editSimilarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
