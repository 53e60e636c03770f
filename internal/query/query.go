// Package query implements the subscription query language: parsing, matching
// against submissions and canonical rendering.
package query

import (
	"regexp"
	"slices"
	"strings"

	"subwatch/internal/model"
)

// Query is a parsed subscription query.
type Query interface {
	// Matches reports whether the submission satisfies the query.
	Matches(s *model.Submission) bool
	// String renders the query in a form Parse accepts.
	String() string
}

// Location is the span of a match inside one text of a submission.
type Location struct {
	Key   string
	Start int
	End   int
}

// Overlaps reports whether both locations are in the same text and intersect.
func (l Location) Overlaps(o Location) bool {
	return l.Key == o.Key && l.Start < o.End && o.Start < l.End
}

// Locator is implemented by queries that can report where they match.
type Locator interface {
	Locations(s *model.Submission) []Location
}

// Word matches a whole word.
type Word struct {
	Field Field
	Word  string

	re *regexp.Regexp
}

// NewWord builds a Word query; word must already be normalized.
func NewWord(field Field, word string) *Word {
	return &Word{Field: field, Word: word, re: boundedPattern(regexp.QuoteMeta(word))}
}

// Matches reports whether any token of the field equals the word.
func (q *Word) Matches(s *model.Submission) bool {
	return slices.Contains(q.Field.Words(s), q.Word)
}

// Locations returns every whole-word occurrence of the word.
func (q *Word) Locations(s *model.Submission) []Location {
	return locateIn(q.re, q.Field.TextsByKey(s))
}

// String renders the word with its field prefix.
func (q *Word) String() string { return q.Field.prefix() + q.Word }

// Phrase matches a sequence of words separated by whitespace or punctuation.
type Phrase struct {
	Field  Field
	Phrase string

	re *regexp.Regexp
}

// NewPhrase builds a Phrase query from already tokenized words.
func NewPhrase(field Field, words []string) *Phrase {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return &Phrase{
		Field:  field,
		Phrase: strings.Join(words, " "),
		re:     boundedPattern(strings.Join(quoted, separatorClass+"+")),
	}
}

// Matches reports whether the words occur consecutively in any text.
func (q *Phrase) Matches(s *model.Submission) bool {
	return anyTextMatches(q.re, q.Field.Texts(s))
}

// Locations returns the span of every occurrence of the phrase.
func (q *Phrase) Locations(s *model.Submission) []Location {
	return locateIn(q.re, q.Field.TextsByKey(s))
}

func (q *Phrase) String() string { return q.Field.prefix() + `"` + q.Phrase + `"` }

// Prefix matches words that start with Prefix and are strictly longer.
type Prefix struct {
	Field  Field
	Prefix string

	re *regexp.Regexp
}

// NewPrefix builds a Prefix query; prefix must already be normalized.
func NewPrefix(field Field, prefix string) *Prefix {
	return &Prefix{Field: field, Prefix: prefix, re: boundedPattern(regexp.QuoteMeta(prefix) + wordCharClass + "+")}
}

// Matches reports whether a token starts with the prefix and is longer than it.
func (q *Prefix) Matches(s *model.Submission) bool {
	for _, w := range q.Field.Words(s) {
		if len(w) > len(q.Prefix) && strings.HasPrefix(w, q.Prefix) {
			return true
		}
	}
	return false
}

// Locations returns the span of every word starting with the prefix.
func (q *Prefix) Locations(s *model.Submission) []Location {
	return locateIn(q.re, q.Field.TextsByKey(s))
}

func (q *Prefix) String() string { return q.Field.prefix() + q.Prefix + "*" }

// Suffix matches words that end with Suffix and are strictly longer.
type Suffix struct {
	Field  Field
	Suffix string

	re *regexp.Regexp
}

// NewSuffix builds a Suffix query; suffix must already be normalized.
func NewSuffix(field Field, suffix string) *Suffix {
	return &Suffix{Field: field, Suffix: suffix, re: boundedPattern(wordCharClass + "+" + regexp.QuoteMeta(suffix))}
}

// Matches reports whether a token ends with the suffix and is longer than it.
func (q *Suffix) Matches(s *model.Submission) bool {
	for _, w := range q.Field.Words(s) {
		if len(w) > len(q.Suffix) && strings.HasSuffix(w, q.Suffix) {
			return true
		}
	}
	return false
}

// Locations returns the span of every word ending with the suffix.
func (q *Suffix) Locations(s *model.Submission) []Location {
	return locateIn(q.re, q.Field.TextsByKey(s))
}

func (q *Suffix) String() string { return q.Field.prefix() + "*" + q.Suffix }

// Regex is a word with inner or multiple wildcards. Each run of "*" stands
// for one or more word characters.
type Regex struct {
	Field   Field
	Pattern string

	re *regexp.Regexp
}

// NewRegex compiles a wildcard pattern such as "m*or" into a Regex query.
func NewRegex(field Field, pattern string) *Regex {
	segments := starRuns.Split(pattern, -1)
	for i, seg := range segments {
		segments[i] = regexp.QuoteMeta(seg)
	}
	return &Regex{Field: field, Pattern: pattern, re: boundedPattern(strings.Join(segments, wordCharClass+"+"))}
}

// Matches reports whether any text contains a word matching the pattern.
func (q *Regex) Matches(s *model.Submission) bool {
	return anyTextMatches(q.re, q.Field.Texts(s))
}

// Locations returns the span of every word matching the pattern.
func (q *Regex) Locations(s *model.Submission) []Location {
	return locateIn(q.re, q.Field.TextsByKey(s))
}

func (q *Regex) String() string { return q.Field.prefix() + q.Pattern }

// Rating matches submissions with exactly the given rating.
type Rating struct {
	Rating model.Rating
}

func (q *Rating) Matches(s *model.Submission) bool { return s.Rating == q.Rating }

func (q *Rating) String() string { return "rating:" + q.Rating.String() }

// And matches when every sub-query matches.
type And struct {
	Queries []Query
}

func (q *And) Matches(s *model.Submission) bool {
	for _, sub := range q.Queries {
		if !sub.Matches(s) {
			return false
		}
	}
	return true
}

// Locations collects the locations of every sub-query once all of them match.
func (q *And) Locations(s *model.Submission) []Location {
	if !q.Matches(s) {
		return nil
	}
	var locs []Location
	for _, sub := range q.Queries {
		locs = append(locs, locationsOf(sub, s)...)
	}
	return locs
}

func (q *And) String() string { return joinQueries(q.Queries, " and ") }

// Or matches when any sub-query matches.
type Or struct {
	Queries []Query
}

func (q *Or) Matches(s *model.Submission) bool {
	for _, sub := range q.Queries {
		if sub.Matches(s) {
			return true
		}
	}
	return false
}

// Locations collects the locations of the sub-queries that match.
func (q *Or) Locations(s *model.Submission) []Location {
	var locs []Location
	for _, sub := range q.Queries {
		locs = append(locs, locationsOf(sub, s)...)
	}
	return locs
}

func (q *Or) String() string { return joinQueries(q.Queries, " or ") }

// Not inverts a query.
type Not struct {
	Query Query
}

func (q *Not) Matches(s *model.Submission) bool { return !q.Query.Matches(s) }

func (q *Not) String() string { return "-" + group(q.Query) }

// Exception matches when Word occurs somewhere that is not covered by a match
// of Except.
type Exception struct {
	Field  Field
	Word   Query
	Except Query
}

// Matches reports whether at least one occurrence of Word survives the exception.
func (q *Exception) Matches(s *model.Submission) bool {
	return len(q.Locations(s)) > 0
}

// Locations returns the matches of Word that do not overlap any match of Except.
func (q *Exception) Locations(s *model.Submission) []Location {
	excluded := locationsOf(q.Except, s)
	var kept []Location
	for _, loc := range locationsOf(q.Word, s) {
		overlapped := false
		for _, ex := range excluded {
			if loc.Overlaps(ex) {
				overlapped = true
				break
			}
		}
		if !overlapped {
			kept = append(kept, loc)
		}
	}
	return kept
}

func (q *Exception) String() string {
	return q.Word.String() + " except " + group(q.Except)
}

func locationsOf(q Query, s *model.Submission) []Location {
	if l, ok := q.(Locator); ok {
		return l.Locations(s)
	}
	return nil
}

func joinQueries(qs []Query, sep string) string {
	parts := make([]string, len(qs))
	for i, sub := range qs {
		switch sub.(type) {
		case *And, *Or:
			parts[i] = "(" + sub.String() + ")"
		default:
			parts[i] = sub.String()
		}
	}
	return strings.Join(parts, sep)
}

func group(q Query) string {
	switch q.(type) {
	case *And, *Or, *Not, *Exception:
		return "(" + q.String() + ")"
	}
	return q.String()
}
