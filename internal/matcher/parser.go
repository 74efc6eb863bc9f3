package matcher

import (
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports where compilation failed. Offset is a byte offset
// into the source text.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Msg)
}

// Compile parses source into an expression. The result is either a fully
// valid Expr or a *ParseError; there is no partial success. Compiling the
// same text twice yields structurally equal expressions.
func Compile(source string) (Expr, error) {
	if strings.TrimSpace(source) == "*" {
		return &Literal{Value: true}, nil
	}
	toks, err := lex(source)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &ParseError{Offset: tok.offset, Msg: fmt.Sprintf("unexpected %q", tok.text)}
	}
	return expr, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokOr            // ||
	tokAnd           // &&
	tokNot           // !
	tokLParen
	tokRParen
	tokEq      // ==
	tokNe      // !=
	tokStar    // *
	tokIdent   // dotted path, bare word, number, boolean, or "matches"
	tokString  // double-quoted
)

type token struct {
	kind   tokenKind
	text   string
	offset int
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '*':
			toks = append(toks, token{tokStar, "*", i})
			i++
		case c == '|':
			if i+1 >= len(src) || src[i+1] != '|' {
				return nil, &ParseError{Offset: i, Msg: "expected \"||\""}
			}
			toks = append(toks, token{tokOr, "||", i})
			i += 2
		case c == '&':
			if i+1 >= len(src) || src[i+1] != '&' {
				return nil, &ParseError{Offset: i, Msg: "expected \"&&\""}
			}
			toks = append(toks, token{tokAnd, "&&", i})
			i += 2
		case c == '=':
			if i+1 >= len(src) || src[i+1] != '=' {
				return nil, &ParseError{Offset: i, Msg: "expected \"==\""}
			}
			toks = append(toks, token{tokEq, "==", i})
			i += 2
		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tokNe, "!=", i})
				i += 2
			} else {
				toks = append(toks, token{tokNot, "!", i})
				i++
			}
		case c == '"':
			text, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, text, i})
			i = next
		case isIdentByte(c):
			start := i
			for i < len(src) && isIdentByte(src[i]) {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})
		default:
			return nil, &ParseError{Offset: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

// lexString consumes a double-quoted literal starting at src[start].
// Supports \" and \\ escapes. Returns the unquoted text and the index
// past the closing quote.
func lexString(src string, start int) (string, int, error) {
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		if c == '\\' && i+1 < len(src) && (src[i+1] == '"' || src[i+1] == '\\') {
			b.WriteByte(src[i+1])
			i += 2
			continue
		}
		if c == '"' {
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
		i++
	}
	return "", 0, &ParseError{Offset: start, Msg: "unterminated string literal"}
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.peek().kind == tokNot {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch tok.kind {
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, &ParseError{Offset: closing.offset, Msg: "expected \")\""}
		}
		return inner, nil
	case tokStar:
		p.next()
		return &Literal{Value: true}, nil
	case tokIdent:
		return p.parsePredicate()
	case tokEOF:
		return nil, &ParseError{Offset: tok.offset, Msg: "unexpected end of expression"}
	default:
		return nil, &ParseError{Offset: tok.offset, Msg: fmt.Sprintf("unexpected %q", tok.text)}
	}
}

func (p *parser) parsePredicate() (Expr, error) {
	path := p.next()

	var op Op
	switch t := p.peek(); {
	case t.kind == tokEq:
		op = OpEq
	case t.kind == tokNe:
		op = OpNe
	case t.kind == tokIdent && t.text == "matches":
		op = OpMatches
	default:
		// Bare path: field-exists predicate.
		return &Exists{Path: path.text}, nil
	}
	p.next()

	lit := p.next()
	if lit.kind != tokString && lit.kind != tokIdent {
		return nil, &ParseError{Offset: lit.offset, Msg: fmt.Sprintf("expected literal after %q", op)}
	}

	cmp := &Compare{Path: path.text, Op: op, Value: lit.text}
	if op == OpMatches {
		re, err := regexp.Compile(lit.text)
		if err != nil {
			return nil, &ParseError{Offset: lit.offset, Msg: fmt.Sprintf("invalid regex: %v", err)}
		}
		cmp.re = re
	}
	return cmp, nil
}
