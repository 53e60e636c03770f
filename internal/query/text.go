package query

import (
	"regexp"
	"strings"
)

// punctuation is ASCII punctuation minus hyphen and underscore, which count as
// word characters.
const punctuation = "!\"#$%&'()*+,./:;<=>?@[\\]^`{|}~"

var (
	separatorClass = `[\s` + regexp.QuoteMeta(punctuation) + `]`
	wordCharClass  = `[^\s` + regexp.QuoteMeta(punctuation) + `]`

	wordStart = `(?:^|` + separatorClass + `)`
	wordEnd   = `(?:` + separatorClass + `|$)`

	separators = regexp.MustCompile(separatorClass + `+`)
	starRuns   = regexp.MustCompile(`\*+`)
)

// tokenize splits text into lower-cased words.
func tokenize(text string) []string {
	parts := separators.Split(text, -1)
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		if w := normalizeWord(p); w != "" {
			words = append(words, w)
		}
	}
	return words
}

func normalizeWord(s string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(s)), punctuation)
}

// boundedPattern compiles core so that it only matches whole words. The core
// is captured by group 1.
func boundedPattern(core string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + wordStart + `(` + core + `)` + wordEnd)
}

// findSpans returns the offsets of every bounded match in text. Matches are
// searched again from the end of each captured word, because the trailing
// separator consumed by one match may be the leading separator of the next.
func findSpans(re *regexp.Regexp, text string) [][2]int {
	var spans [][2]int
	pos := 0
	for pos <= len(text) {
		loc := re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[2], pos+loc[3]
		spans = append(spans, [2]int{start, end})
		if end <= pos {
			end = pos + 1
		}
		pos = end
	}
	return spans
}

func anyTextMatches(re *regexp.Regexp, texts []string) bool {
	for _, t := range texts {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}

func locateIn(re *regexp.Regexp, texts map[string]string) []Location {
	var locs []Location
	for key, text := range texts {
		for _, span := range findSpans(re, text) {
			locs = append(locs, Location{Key: key, Start: span[0], End: span[1]})
		}
	}
	return locs
}
