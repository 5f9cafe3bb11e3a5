package ui

import (
	"sort"
	"strings"
)

// MaxSuggestions caps the candidates returned by Suggest
const MaxSuggestions = 3

// Suggest returns up to MaxSuggestions candidates close to target, nearest
// first. Matching ignores case. A candidate qualifies when its edit distance
// is at most a third of the target's length, and never more than 3.
//
//	Suggest("peple_count", []string{"people_count", "is_empty"})
//	// ["people_count"]
func Suggest(target string, candidates []string) []string {
	limit := len(target) / 3
	if limit < 1 {
		limit = 1
	}
	if limit > 3 {
		limit = 3
	}

	type match struct {
		name     string
		distance int
	}
	var matches []match
	lowered := strings.ToLower(target)
	for _, c := range candidates {
		if d := EditDistance(lowered, strings.ToLower(c)); d <= limit {
			matches = append(matches, match{name: c, distance: d})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].distance != matches[j].distance {
			return matches[i].distance < matches[j].distance
		}
		return matches[i].name < matches[j].name
	})

	out := make([]string, 0, MaxSuggestions)
	for i := 0; i < len(matches) && i < MaxSuggestions; i++ {
		out = append(out, matches[i].name)
	}
	return out
}

// EditDistance is the Levenshtein distance between a and b, by byte
func EditDistance(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minOf(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
