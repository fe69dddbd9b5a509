// SPDX-License-Identifier: MIT

package stream

import (
	"sort"
	"strings"
	"unicode"

	"github.com/scrapecast/scrapecast/internal/plugin"
	"github.com/scrapecast/scrapecast/internal/titles"
)

// planGroup is one language's slice of the fan-out: the plugins scraping in
// that language plus the query texts they try in order.
type planGroup struct {
	language string
	queries  []string
	descs    []plugin.Descriptor
}

// buildPlan groups the selected plugins by their primary language and builds
// a query set per group from the language-appropriate title. German sites
// index the localized name, everything else the original one.
func buildPlan(descs []plugin.Descriptor, title *titles.Title) []planGroup {
	byLang := make(map[string][]plugin.Descriptor)
	for _, d := range descs {
		lang := ""
		if len(d.Languages) > 0 {
			lang = d.Languages[0]
		}
		byLang[lang] = append(byLang[lang], d)
	}
	langs := make([]string, 0, len(byLang))
	for lang := range byLang {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	groups := make([]planGroup, 0, len(langs))
	for _, lang := range langs {
		groups = append(groups, planGroup{
			language: lang,
			queries:  queriesFor(title, lang),
			descs:    byLang[lang],
		})
	}
	return groups
}

// queriesFor builds the ordered query texts for one language: the preferred
// title, the other known title, then subtitle-free and punctuation-stripped
// variants of the preferred one. Duplicates collapse.
func queriesFor(title *titles.Title, lang string) []string {
	primary, secondary := title.OriginalName, title.Name
	if lang == "de" {
		primary, secondary = title.Name, title.OriginalName
	}
	if primary == "" {
		primary = secondary
	}
	candidates := []string{primary, secondary, subtitleFree(primary), stripPunctuation(primary)}
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, q := range candidates {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

// subtitleFree drops a trailing subtitle ("Title: The Subtitle" -> "Title").
func subtitleFree(s string) string {
	for _, sep := range []string{":", " - "} {
		if i := strings.Index(s, sep); i > 0 {
			return strings.TrimSpace(s[:i])
		}
	}
	return s
}

// stripPunctuation keeps letters and digits, collapsing runs of anything
// else into single spaces.
func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
