package query

import (
	"strconv"
	"strings"

	"subwatch/internal/model"
)

// Field selects which parts of a submission a query looks at.
type Field int

// Supported fields. FieldAny aggregates all the others.
const (
	FieldAny Field = iota
	FieldTitle
	FieldDescription
	FieldKeyword
	FieldArtist
)

var concreteFields = []Field{FieldTitle, FieldDescription, FieldKeyword, FieldArtist}

// fieldByName resolves the names accepted after "field:" or "@field".
func fieldByName(name string) (Field, bool) {
	switch strings.ToLower(name) {
	case "title":
		return FieldTitle, true
	case "desc", "description", "message":
		return FieldDescription, true
	case "keywords", "keyword", "tag", "tags":
		return FieldKeyword, true
	case "artist", "author", "poster", "lower", "uploader":
		return FieldArtist, true
	}
	return FieldAny, false
}

// String returns the canonical field name, empty for FieldAny.
func (f Field) String() string {
	switch f {
	case FieldTitle:
		return "title"
	case FieldDescription:
		return "description"
	case FieldKeyword:
		return "keywords"
	case FieldArtist:
		return "artist"
	}
	return ""
}

func (f Field) prefix() string {
	if f == FieldAny {
		return ""
	}
	return f.String() + ":"
}

// Words returns the normalized word tokens of the field.
func (f Field) Words(s *model.Submission) []string {
	switch f {
	case FieldTitle:
		return tokenize(s.Title)
	case FieldDescription:
		return tokenize(s.Description)
	case FieldKeyword:
		words := make([]string, 0, len(s.Keywords))
		for _, kw := range s.Keywords {
			if w := normalizeWord(kw); w != "" {
				words = append(words, w)
			}
		}
		return words
	case FieldArtist:
		var words []string
		for _, name := range []string{s.Artist.Name, s.Artist.Profile} {
			if w := strings.ToLower(strings.TrimSpace(name)); w != "" {
				words = append(words, w)
			}
		}
		return words
	}
	var words []string
	for _, cf := range concreteFields {
		words = append(words, cf.Words(s)...)
	}
	return words
}

// Texts returns the raw texts of the field.
func (f Field) Texts(s *model.Submission) []string {
	switch f {
	case FieldTitle:
		return []string{s.Title}
	case FieldDescription:
		return []string{s.Description}
	case FieldKeyword:
		return s.Keywords
	case FieldArtist:
		return []string{s.Artist.Name, s.Artist.Profile}
	}
	var texts []string
	for _, cf := range concreteFields {
		texts = append(texts, cf.Texts(s)...)
	}
	return texts
}

// TextsByKey returns the raw texts of the field keyed by a stable location key,
// so match offsets from different texts never compare as overlapping.
func (f Field) TextsByKey(s *model.Submission) map[string]string {
	out := make(map[string]string)
	f.collectTexts(s, out)
	return out
}

func (f Field) collectTexts(s *model.Submission, out map[string]string) {
	switch f {
	case FieldTitle:
		out["title"] = s.Title
	case FieldDescription:
		out["description"] = s.Description
	case FieldKeyword:
		for i, kw := range s.Keywords {
			out["keyword:"+strconv.Itoa(i)] = kw
		}
	case FieldArtist:
		out["artist:name"] = s.Artist.Name
		out["artist:profile"] = s.Artist.Profile
	default:
		for _, cf := range concreteFields {
			cf.collectTexts(s, out)
		}
	}
}
