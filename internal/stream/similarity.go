// SPDX-License-Identifier: MIT

// Package stream orchestrates the Stremio surface: plugin selection by
// score, parallel fan-out, title matching, ranking and pre-resolution of
// hoster links.
package stream

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// sequelPenalty is subtracted when the trailing part number differs, so
// "Dune" does not match "Dune Part Two" at full strength.
const sequelPenalty = 0.35

// tokenize lowercases and splits on everything non-alphanumeric, dropping
// release noise that never appears in canonical titles.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// tokenSortRatio compares the sorted token sequences with a normalized edit
// distance.
func tokenSortRatio(a, b []string) float64 {
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	sa := strings.Join(as, " ")
	sb := strings.Join(bs, " ")
	if sa == "" && sb == "" {
		return 1
	}
	d := levenshtein(sa, sb)
	longest := max(len(sa), len(sb))
	return 1 - float64(d)/float64(longest)
}

// tokenSetRatio scores the shared-token core, so extra tokens on one side
// (episode tags, release noise) cost little.
func tokenSetRatio(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	smaller := min(len(setA), len(setB))
	return float64(inter) / float64(smaller)
}

func toSet(tokens []string) map[string]struct{} {
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// Similarity grades how well a result title matches the wanted title. The
// higher of token-sort and token-set wins, then the sequel penalty applies.
func Similarity(resultTitle, wantTitle string) float64 {
	a := tokenize(resultTitle)
	b := tokenize(wantTitle)
	score := tokenSortRatio(a, b)
	if set := tokenSetRatio(a, b); set > score {
		score = set
	}
	if sequelMismatch(a, b) {
		score -= sequelPenalty
	}
	if score < 0 {
		return 0
	}
	return score
}

// sequelMismatch reports whether the two titles carry different sequel
// numbers ("2" vs "3", or a number vs none when the rest matches).
func sequelMismatch(a, b []string) bool {
	na, hasA := sequelNumber(a)
	nb, hasB := sequelNumber(b)
	if !hasA && !hasB {
		return false
	}
	return na != nb
}

var romanNumerals = map[string]int{
	"i": 1, "ii": 2, "iii": 3, "iv": 4, "v": 5,
	"vi": 6, "vii": 7, "viii": 8, "ix": 9, "x": 10,
}

// sequelNumber extracts a trailing part number. Plain years do not count.
func sequelNumber(tokens []string) (int, bool) {
	for i := len(tokens) - 1; i >= 0 && i >= len(tokens)-2; i-- {
		t := tokens[i]
		if n, ok := romanNumerals[t]; ok {
			return n, true
		}
		n, err := strconv.Atoi(t)
		if err != nil {
			continue
		}
		if n >= 1900 && n <= 2100 {
			continue // a year, not a sequel number
		}
		if n >= 1 && n <= 20 {
			return n, true
		}
	}
	return 0, false
}

// yearBonus rewards a release year that confirms the wanted year.
const yearBonus = 0.1

// TitleScore combines token similarity with the year signal: a confirming
// year adds a bonus, an unknown or contradicting year adds nothing. Movies
// tolerate one year of drift (regional release dates), series three (long
// runs).
func TitleScore(similarity float64, resultYear, wantYear int, series bool) float64 {
	if yearWithin(resultYear, wantYear, series) {
		similarity += yearBonus
	}
	return similarity
}

func yearWithin(resultYear, wantYear int, series bool) bool {
	if wantYear == 0 || resultYear == 0 {
		return false // nothing to confirm
	}
	drift := 1
	if series {
		drift = 3
	}
	diff := resultYear - wantYear
	if diff < 0 {
		diff = -diff
	}
	return diff <= drift
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
