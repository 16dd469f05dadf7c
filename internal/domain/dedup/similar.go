package dedup

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Candidate is a pair of distinct keys that look like the same club.
type Candidate struct {
	Left     string
	Right    string
	Distance int
}

// NearDuplicates pairs keys whose edit distance is at most maxDistance, or
// where one key is a fuzzy subsequence of the other and the gap is small.
// Results are for human review only.
func NearDuplicates(keys []string, maxDistance int) []Candidate {
	if maxDistance < 1 {
		return nil
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var out []Candidate
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			a, b := sorted[i], sorted[j]
			if a == b {
				continue
			}
			d := fuzzy.LevenshteinDistance(a, b)
			if d <= maxDistance || (abs(len(a)-len(b)) <= maxDistance*2 && subsequence(a, b)) {
				out = append(out, Candidate{Left: a, Right: b, Distance: d})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		if out[i].Left != out[j].Left {
			return out[i].Left < out[j].Left
		}
		return out[i].Right < out[j].Right
	})
	return out
}

func subsequence(a, b string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	return fuzzy.MatchNormalizedFold(a, b)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
