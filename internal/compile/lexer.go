// Package compile turns normalized expressions into safe executable
// artifacts: an expression tree evaluated under a step budget and a context
// deadline, with no host-language evaluation anywhere.
package compile

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent   // variable name: x, M_x, \alpha
	tokCommand // structural command: \frac, \sqrt, \sum, ...
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokCaret
	tokEquals
	tokLParen
	tokRParen
	tokLBrace
	tokRBrace
	tokComma
	tokUnderscore
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// greekIdents are commands that denote variables rather than structure.
var greekIdents = map[string]bool{
	`\alpha`: true, `\beta`: true, `\gamma`: true, `\delta`: true,
	`\lambda`: true, `\mu`: true, `\sigma`: true, `\pi`: true,
}

// functionNames are the identifiers that act as calls when applied to an
// argument list.
var functionNames = map[string]bool{
	"sqrt": true, "exp": true, "ln": true, "log": true,
	"abs": true, "max": true, "min": true,
}

type lexer struct {
	src []rune
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src)}
}

func (l *lexer) lex() ([]token, error) {
	var toks []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	r := l.src[l.pos]

	switch r {
	case '+':
		l.pos++
		return token{kind: tokPlus, text: "+", pos: start}, nil
	case '-':
		l.pos++
		return token{kind: tokMinus, text: "-", pos: start}, nil
	case '*':
		l.pos++
		return token{kind: tokStar, text: "*", pos: start}, nil
	case '/':
		l.pos++
		return token{kind: tokSlash, text: "/", pos: start}, nil
	case '^':
		l.pos++
		return token{kind: tokCaret, text: "^", pos: start}, nil
	case '=':
		l.pos++
		return token{kind: tokEquals, text: "=", pos: start}, nil
	case '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case '{':
		l.pos++
		return token{kind: tokLBrace, text: "{", pos: start}, nil
	case '}':
		l.pos++
		return token{kind: tokRBrace, text: "}", pos: start}, nil
	case ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case '_':
		l.pos++
		return token{kind: tokUnderscore, text: "_", pos: start}, nil
	case '\\':
		return l.lexCommand()
	}

	if unicode.IsDigit(r) || r == '.' {
		return l.lexNumber()
	}
	if unicode.IsLetter(r) {
		return l.lexIdent()
	}

	return token{}, fmt.Errorf("unexpected character %q at %d", r, start)
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && (unicode.IsDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
		l.pos++
	}
	text := string(l.src[start:l.pos])
	var num float64
	if _, err := fmt.Sscanf(text, "%g", &num); err != nil {
		return token{}, fmt.Errorf("bad number %q at %d", text, start)
	}
	return token{kind: tokNumber, text: text, num: num, pos: start}, nil
}

// lexIdent reads a letter and, when followed by a subscript, folds the whole
// subscripted form into one identifier: M_x, l_{x+n}. A multi-letter run that
// names a function and is applied to an argument list lexes as one token, so
// sqrt(16) is a call rather than the product s*q*r*t*(16).
func (l *lexer) lexIdent() (token, error) {
	start := l.pos

	end := l.pos
	for end < len(l.src) && unicode.IsLetter(l.src[end]) {
		end++
	}
	if end-start > 1 && end < len(l.src) && l.src[end] == '(' {
		if run := string(l.src[start:end]); functionNames[run] {
			l.pos = end
			return token{kind: tokIdent, text: run, pos: start}, nil
		}
	}

	l.pos = start + 1 // single-letter base

	if l.pos < len(l.src) && l.src[l.pos] == '_' {
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '{' {
			depth := 0
			for l.pos < len(l.src) {
				switch l.src[l.pos] {
				case '{':
					depth++
				case '}':
					depth--
				}
				l.pos++
				if depth == 0 {
					break
				}
			}
			if depth != 0 {
				return token{}, fmt.Errorf("unterminated subscript at %d", start)
			}
		} else if l.pos < len(l.src) && (unicode.IsLetter(l.src[l.pos]) || unicode.IsDigit(l.src[l.pos])) {
			l.pos++
		} else {
			return token{}, fmt.Errorf("dangling subscript at %d", start)
		}
	}

	return token{kind: tokIdent, text: canonicalIdent(string(l.src[start:l.pos])), pos: start}, nil
}

func (l *lexer) lexCommand() (token, error) {
	start := l.pos
	l.pos++ // backslash
	for l.pos < len(l.src) && unicode.IsLetter(l.src[l.pos]) {
		l.pos++
	}
	text := string(l.src[start:l.pos])
	if text == `\` {
		return token{}, fmt.Errorf("bare backslash at %d", start)
	}
	if greekIdents[text] {
		return token{kind: tokIdent, text: text, pos: start}, nil
	}
	// Sizing commands wrap an ordinary delimiter and carry no structure.
	if text == `\left` || text == `\right` {
		return l.next()
	}
	return token{kind: tokCommand, text: text, pos: start}, nil
}

// canonicalIdent unwraps a single-character brace subscript: M_{x} and M_x
// are the same identifier.
func canonicalIdent(s string) string {
	if i := strings.Index(s, "_{"); i >= 0 && strings.HasSuffix(s, "}") {
		inner := s[i+2 : len(s)-1]
		if len(inner) == 1 {
			return s[:i] + "_" + inner
		}
	}
	return s
}
