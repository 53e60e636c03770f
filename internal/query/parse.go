package query

import (
	"fmt"
	"strings"
	"unicode"

	"subwatch/internal/model"
)

// ParseError describes why a query string was rejected.
type ParseError struct {
	Query string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid query %q: %s", e.Query, e.Msg)
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokPhrase
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
}

type connector int

const (
	connAnd connector = iota
	connOr
)

var reserved = map[string]bool{
	"and": true, "or": true, "not": true, "except": true, "ignore": true,
}

// trimSet is punctuation without the wildcard marker.
var trimSet = strings.ReplaceAll(punctuation, "*", "")

// Parse parses a query string.
func Parse(input string) (Query, error) {
	p := &parser{input: input}
	if err := p.lex(); err != nil {
		return nil, err
	}
	if len(p.toks) == 0 {
		return nil, p.errorf("empty query")
	}
	q, err := p.parseExpr(FieldAny)
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return q, nil
}

// MustParse is like Parse but panics on error.
func MustParse(input string) Query {
	q, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return q
}

type parser struct {
	input string
	toks  []token
	pos   int
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Query: p.input, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) lex() error {
	rs := []rune(p.input)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			p.toks = append(p.toks, token{kind: tokOpen, text: "("})
			i++
		case r == ')':
			p.toks = append(p.toks, token{kind: tokClose, text: ")"})
			i++
		case r == '"':
			end := i + 1
			for end < len(rs) && rs[end] != '"' {
				end++
			}
			if end == len(rs) {
				return p.errorf("unterminated quote")
			}
			p.toks = append(p.toks, token{kind: tokPhrase, text: string(rs[i+1 : end])})
			i = end + 1
		default:
			end := i
			for end < len(rs) && !unicode.IsSpace(rs[end]) && !strings.ContainsRune(`()"`, rs[end]) {
				end++
			}
			p.toks = append(p.toks, token{kind: tokWord, text: string(rs[i:end])})
			i = end
		}
	}
	return nil
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *parser) peekWord(words ...string) bool {
	if p.done() || p.peek().kind != tokWord {
		return false
	}
	lower := strings.ToLower(p.peek().text)
	for _, w := range words {
		if lower == w {
			return true
		}
	}
	return false
}

// parseExpr folds elements left to right. A missing connector means "and".
func (p *parser) parseExpr(field Field) (Query, error) {
	acc, err := p.parseUnary(field)
	if err != nil {
		return nil, err
	}
	for !p.done() && p.peek().kind != tokClose {
		conn := connAnd
		if p.peekWord("and", "or") {
			if strings.EqualFold(p.next().text, "or") {
				conn = connOr
			}
			if p.done() || p.peek().kind == tokClose {
				return nil, p.errorf("missing query after connector")
			}
		}
		rhs, err := p.parseUnary(field)
		if err != nil {
			return nil, err
		}
		acc = combine(conn, acc, rhs)
	}
	return acc, nil
}

func combine(conn connector, lhs, rhs Query) Query {
	if conn == connOr {
		if or, ok := lhs.(*Or); ok {
			or.Queries = append(or.Queries, rhs)
			return or
		}
		return &Or{Queries: []Query{lhs, rhs}}
	}
	if and, ok := lhs.(*And); ok {
		and.Queries = append(and.Queries, rhs)
		return and
	}
	return &And{Queries: []Query{lhs, rhs}}
}

func (p *parser) parseUnary(field Field) (Query, error) {
	if p.done() {
		return nil, p.errorf("unexpected end of query")
	}
	t := p.peek()
	if t.kind == tokWord {
		switch {
		case strings.EqualFold(t.text, "not"), t.text == "-", t.text == "!":
			p.pos++
			if p.done() {
				return nil, p.errorf("nothing to negate")
			}
			inner, err := p.parseElement(field)
			if err != nil {
				return nil, err
			}
			return &Not{Query: inner}, nil
		case t.text[0] == '-' || t.text[0] == '!':
			p.pos++
			inner, err := p.parseWordText(t.text[1:], field)
			if err != nil {
				return nil, err
			}
			return &Not{Query: inner}, nil
		}
	}
	return p.parseElement(field)
}

func (p *parser) parseElement(field Field) (Query, error) {
	if p.done() {
		return nil, p.errorf("unexpected end of query")
	}
	t := p.next()
	switch t.kind {
	case tokPhrase:
		return p.phrase(t.text, field)
	case tokOpen:
		q, err := p.parseExpr(field)
		if err != nil {
			return nil, err
		}
		if p.done() || p.peek().kind != tokClose {
			return nil, p.errorf("missing closing bracket")
		}
		p.pos++
		return q, nil
	case tokClose:
		return nil, p.errorf("unexpected closing bracket")
	}
	return p.parseWordText(t.text, field)
}

// parseWordText handles a bare word token, which may carry a field prefix.
func (p *parser) parseWordText(text string, field Field) (Query, error) {
	if reserved[strings.ToLower(text)] {
		return nil, p.errorf("%q is a reserved word, quote it to search for it", text)
	}
	if name, ok := strings.CutPrefix(text, "@"); ok && name != "" {
		return p.parseFieldValue(name)
	}
	if name, value, ok := strings.Cut(text, ":"); ok && name != "" {
		if value == "" {
			return p.parseFieldValue(name)
		}
		return p.parseFieldText(name, value)
	}
	return p.parseBareWord(text, field)
}

// parseFieldValue reads the value of "name:" or "@name" from the next token.
func (p *parser) parseFieldValue(name string) (Query, error) {
	if p.done() {
		return nil, p.errorf("missing value for field %q", name)
	}
	if strings.EqualFold(name, "rating") {
		t := p.next()
		if t.kind != tokWord {
			return nil, p.errorf("rating must be followed by a single word")
		}
		return p.rating(t.text)
	}
	f, ok := fieldByName(name)
	if !ok {
		return nil, p.errorf("unknown field %q", name)
	}
	if p.peek().kind == tokWord {
		return p.parseBareWord(p.next().text, f)
	}
	return p.parseElement(f)
}

func (p *parser) parseFieldText(name, value string) (Query, error) {
	if strings.EqualFold(name, "rating") {
		return p.rating(value)
	}
	f, ok := fieldByName(name)
	if !ok {
		return nil, p.errorf("unknown field %q", name)
	}
	return p.parseBareWord(value, f)
}

func (p *parser) rating(value string) (Query, error) {
	r, ok := model.ParseRating(value)
	if !ok {
		return nil, p.errorf("unknown rating %q", value)
	}
	return &Rating{Rating: r}, nil
}

// parseBareWord builds a word or wildcard query and attaches an exception
// clause when one follows.
func (p *parser) parseBareWord(text string, field Field) (Query, error) {
	if reserved[strings.ToLower(text)] {
		return nil, p.errorf("%q is a reserved word, quote it to search for it", text)
	}
	q, err := p.word(text, field)
	if err != nil {
		return nil, err
	}
	if !p.peekWord("except", "ignore") {
		return q, nil
	}
	p.pos++
	if p.done() || p.peek().kind == tokClose {
		return nil, p.errorf("missing query after except")
	}
	exc, err := p.parseUnary(field)
	if err != nil {
		return nil, err
	}
	return &Exception{Field: field, Word: q, Except: exc}, nil
}

func (p *parser) word(text string, field Field) (Query, error) {
	v := strings.Trim(strings.ToLower(text), trimSet)
	if v == "" {
		return nil, p.errorf("%q contains no searchable characters", text)
	}
	if !strings.Contains(v, "*") {
		return NewWord(field, v), nil
	}
	if strings.Trim(v, "*") == "" {
		return nil, p.errorf("wildcard %q needs at least one letter", text)
	}
	stars := strings.Count(v, "*")
	switch {
	case stars == 1 && strings.HasSuffix(v, "*"):
		return NewPrefix(field, strings.TrimSuffix(v, "*")), nil
	case stars == 1 && strings.HasPrefix(v, "*"):
		return NewSuffix(field, strings.TrimPrefix(v, "*")), nil
	}
	return NewRegex(field, v), nil
}

func (p *parser) phrase(text string, field Field) (Query, error) {
	words := tokenize(text)
	if len(words) == 0 {
		return nil, p.errorf("empty phrase")
	}
	return NewPhrase(field, words), nil
}
