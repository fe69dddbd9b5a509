// SPDX-License-Identifier: MIT

package stream

import (
	"regexp"
	"strings"
)

// ReleaseInfo is what the ranking needs out of a release name.
type ReleaseInfo struct {
	Quality  string // "2160", "1080", "720", "480", "sd"
	Source   string // "web", "bluray", "hdtv", "ts", "cam", ""
	Language string // "de", "de-sub", "en", "multi", ""
	Year     int
}

var (
	qualityRe = regexp.MustCompile(`(?i)\b(2160p|4k|uhd|1080p|720p|480p)\b`)
	yearRe    = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)

	sourcePatterns = []struct {
		re     *regexp.Regexp
		source string
	}{
		{regexp.MustCompile(`(?i)\b(blu-?ray|bdrip|brrip|remux)\b`), "bluray"},
		{regexp.MustCompile(`(?i)\b(web-?dl|webrip|web|amzn|nf)\b`), "web"},
		{regexp.MustCompile(`(?i)\b(hdtv|dvb|tvrip)\b`), "hdtv"},
		{regexp.MustCompile(`(?i)\b(telesync|hdts|\bts\b)\b`), "ts"},
		{regexp.MustCompile(`(?i)\b(camrip|hdcam|\bcam\b)\b`), "cam"},
	}

	germanDubRe  = regexp.MustCompile(`(?i)\b(german|deutsch)\b`)
	germanSubRe  = regexp.MustCompile(`(?i)\b(german[._ -]?subbed|subbed[._ -]?german)\b`)
	englishSubRe = regexp.MustCompile(`(?i)\b(english[._ -]?subbed|subbed[._ -]?english)\b`)
	multiRe      = regexp.MustCompile(`(?i)\b(multi|dual[._ -]?audio|dl)\b`)
	englishRe    = regexp.MustCompile(`(?i)\b(english|eng)\b`)
)

// ParseRelease extracts quality, source and language markers from a scene
// release name. Unknown markers leave fields empty rather than guessing.
func ParseRelease(name string) ReleaseInfo {
	var info ReleaseInfo

	if m := qualityRe.FindString(name); m != "" {
		switch strings.ToLower(strings.TrimSuffix(strings.ToLower(m), "p")) {
		case "2160", "4k", "uhd":
			info.Quality = "2160"
		case "1080":
			info.Quality = "1080"
		case "720":
			info.Quality = "720"
		case "480":
			info.Quality = "480"
		}
	}
	for _, sp := range sourcePatterns {
		if sp.re.MatchString(name) {
			info.Source = sp.source
			break
		}
	}
	if m := yearRe.FindString(name); m != "" {
		info.Year = atoiSafe(m)
	}

	switch {
	case germanSubRe.MatchString(name):
		info.Language = "de-sub"
	case englishSubRe.MatchString(name):
		info.Language = "en-sub"
	case germanDubRe.MatchString(name) && multiRe.MatchString(name):
		info.Language = "multi"
	case germanDubRe.MatchString(name):
		info.Language = "de"
	case multiRe.MatchString(name):
		info.Language = "multi"
	case englishRe.MatchString(name):
		info.Language = "en"
	}
	return info
}

// Rank orders streams for playback: language class, then quality scaled by
// the multiplier, then a per-hoster bonus clamped to [0,5]. Language
// dominates: a German dub beats any resolution of anything else. A multi
// release carries the German track, so it ranks with the dubs.
func Rank(info ReleaseInfo, qualityMultiplier float64, hosterBonus int) int {
	if qualityMultiplier <= 0 {
		qualityMultiplier = 1
	}
	if hosterBonus < 0 {
		hosterBonus = 0
	}
	if hosterBonus > 5 {
		hosterBonus = 5
	}
	return languageScore(info.Language) + int(float64(qualityValue(info))*qualityMultiplier) + hosterBonus
}

func languageScore(lang string) int {
	switch lang {
	case "de", "multi":
		return 1000
	case "de-sub":
		return 500
	case "en-sub":
		return 200
	case "en":
		return 150
	default:
		return 100
	}
}

// qualityValue maps a release to its quality class. Telesync and cam copies
// class below any legitimate resolution; an unknown resolution counts as SD.
func qualityValue(info ReleaseInfo) int {
	switch info.Source {
	case "ts":
		return 20
	case "cam":
		return 10
	}
	switch info.Quality {
	case "2160":
		return 60
	case "1080":
		return 50
	case "720":
		return 40
	default:
		return 30
	}
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
