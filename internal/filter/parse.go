package filter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokWord   tokenKind = iota // field path or keyword
	tokOp                      // == or !=
	tokString                  // "…" or '…'
	tokNumber
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	for i := 0; i < len(src); {
		ch := src[i]
		switch {
		case unicode.IsSpace(rune(ch)):
			i++
		case ch == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case ch == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case ch == '=' || ch == '!':
			if i+1 >= len(src) || src[i+1] != '=' {
				return nil, fmt.Errorf("unexpected %q at position %d", ch, i)
			}
			toks = append(toks, token{tokOp, src[i : i+2], i})
			i += 2
		case ch == '"' || ch == '\'':
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != ch {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string at position %d", i)
			}
			toks = append(toks, token{tokString, sb.String(), i})
			i = j + 1
		case ch == '-' || unicode.IsDigit(rune(ch)):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, src[i:j], i})
			i = j
		case unicode.IsLetter(rune(ch)) || ch == '_':
			j := i + 1
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) ||
				src[j] == '_' || src[j] == '.' || src[j] == '-') {
				j++
			}
			toks = append(toks, token{tokWord, src[i:j], i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected %q at position %d", ch, i)
		}
	}
	return append(toks, token{tokEOF, "", len(src)}), nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tokWord && strings.EqualFold(t.val, kw) {
		p.pos++
		return true
	}
	return false
}

// Parse compiles src. Keywords AND, OR and NOT are case-insensitive.
func Parse(src string) (Expr, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", t.val, t.pos)
	}
	return e, nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(fmt.Sprintf("filter: %q: %v", src, err))
	}
	return e
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.keyword("NOT") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, fmt.Errorf("expected ) at position %d", t.pos)
		}
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	t := p.next()
	if t.kind != tokWord || isKeyword(t.val) {
		return nil, fmt.Errorf("expected field at position %d, got %q", t.pos, t.val)
	}
	cmp := &cmpExpr{path: strings.Split(t.val, ".")}
	if p.peek().kind != tokOp {
		return cmp, nil
	}
	cmp.op = p.next().val

	lit := p.next()
	switch lit.kind {
	case tokString:
		cmp.lit = lit.val
	case tokNumber:
		f, err := strconv.ParseFloat(lit.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", lit.val, lit.pos)
		}
		cmp.lit = f
	case tokWord:
		switch strings.ToLower(lit.val) {
		case "true":
			cmp.lit = true
		case "false":
			cmp.lit = false
		default:
			return nil, fmt.Errorf("expected literal at position %d, got %q", lit.pos, lit.val)
		}
	default:
		return nil, fmt.Errorf("expected literal at position %d, got %q", lit.pos, lit.val)
	}
	return cmp, nil
}

func isKeyword(s string) bool {
	switch strings.ToUpper(s) {
	case "AND", "OR", "NOT":
		return true
	}
	return false
}
