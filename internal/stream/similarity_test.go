// SPDX-License-Identifier: MIT

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityMatchesReleaseNoise(t *testing.T) {
	// Release tags on one side barely cost anything.
	s := Similarity("Dark.Matter.2024.German.DL.1080p.WEB.x264-GRP", "Dark Matter")
	assert.GreaterOrEqual(t, s, 0.9)

	s = Similarity("Dark Matter S01E03", "Dark Matter")
	assert.GreaterOrEqual(t, s, 0.9)
}

func TestSimilarityRejectsDifferentTitles(t *testing.T) {
	assert.Less(t, Similarity("Bright Matter", "Dark Water"), 0.7)
	assert.Less(t, Similarity("Totally Different Film", "Dark Matter"), 0.7)
}

func TestSimilaritySequelPenalty(t *testing.T) {
	// A missing part number on one side is a different film.
	assert.Less(t, Similarity("Dune", "Dune 2"), 0.7)
	assert.Less(t, Similarity("Dune Part 3", "Dune 2"), 0.7)

	// Matching part numbers keep full strength.
	assert.GreaterOrEqual(t, Similarity("Dune Part 2", "Dune 2"), 0.9)

	// Trailing years are not sequel numbers.
	assert.GreaterOrEqual(t, Similarity("Dark Matter 2024", "Dark Matter"), 0.9)
}

func TestSimilarityRomanNumerals(t *testing.T) {
	assert.GreaterOrEqual(t, Similarity("Rocky II", "Rocky 2"), 0.7)
	assert.Less(t, Similarity("Rocky III", "Rocky 2"), 0.7)
}

func TestTitleScoreYearBonus(t *testing.T) {
	assert.InDelta(t, 0.75, TitleScore(0.65, 2024, 2024, false), 1e-9)
	assert.InDelta(t, 0.75, TitleScore(0.65, 2025, 2024, false), 1e-9, "movies tolerate one year of drift")
	assert.InDelta(t, 0.65, TitleScore(0.65, 2026, 2024, false), 1e-9, "a contradicting year earns no bonus")

	assert.InDelta(t, 0.75, TitleScore(0.65, 2021, 2024, true), 1e-9, "series tolerate three years")
	assert.InDelta(t, 0.65, TitleScore(0.65, 2020, 2024, true), 1e-9)

	assert.InDelta(t, 0.65, TitleScore(0.65, 0, 2024, false), 1e-9, "unknown years confirm nothing")
	assert.InDelta(t, 0.65, TitleScore(0.65, 2024, 0, false), 1e-9)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"dark", "matter", "2024", "1080p"}, tokenize("Dark.Matter_(2024)-[1080p]"))
	assert.Empty(t, tokenize("..."))
}
