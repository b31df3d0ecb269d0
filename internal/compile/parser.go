package compile

import (
	"fmt"
)

// parser is a Pratt parser over the lexed token stream. It understands the
// LaTeX subset the normalizer emits: \frac, \sqrt, \sum with bounds, brace
// grouping, named functions, and implicit multiplication.
type parser struct {
	toks []token
	pos  int
}

func parse(src string) (node, string, error) {
	toks, err := newLexer(src).lex()
	if err != nil {
		return nil, "", err
	}
	p := &parser{toks: toks}

	// A top-level assignment compiles its right-hand side; the left-hand
	// side names the quantity being defined.
	target := ""
	if p.peek().kind == tokIdent && p.peekAt(1).kind == tokEquals {
		target = p.advance().text
		p.advance()
	}

	root, err := p.parseExpr(0)
	if err != nil {
		return nil, "", err
	}
	if p.peek().kind != tokEOF {
		return nil, "", fmt.Errorf("trailing input at %d", p.peek().pos)
	}
	return root, target, nil
}

func (p *parser) peek() token    { return p.toks[p.pos] }
func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		return token{}, fmt.Errorf("expected %s at %d, got %q", what, t.pos, t.text)
	}
	return p.advance(), nil
}

// Binding powers. Implicit multiplication binds like explicit.
const (
	bpAdd = 10
	bpMul = 20
	bpPow = 30
)

func (p *parser) parseExpr(minBP int) (node, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}

	for {
		t := p.peek()
		var (
			op rune
			bp int
		)
		switch t.kind {
		case tokPlus:
			op, bp = '+', bpAdd
		case tokMinus:
			op, bp = '-', bpAdd
		case tokStar:
			op, bp = '*', bpMul
		case tokSlash:
			op, bp = '/', bpMul
		case tokCaret:
			op, bp = '^', bpPow
		case tokCommand:
			switch t.text {
			case `\times`, `\cdot`:
				op, bp = '*', bpMul
			case `\div`:
				op, bp = '/', bpMul
			default:
				if bpMul < minBP {
					return left, nil
				}
				right, err := p.parseExpr(bpMul + 1)
				if err != nil {
					return nil, err
				}
				left = &binaryNode{op: '*', left: left, right: right}
				continue
			}
		default:
			if startsOperand(t) {
				op, bp = '*', bpMul
				if bp < minBP {
					return left, nil
				}
				right, err := p.parseExpr(bp + 1)
				if err != nil {
					return nil, err
				}
				left = &binaryNode{op: op, left: left, right: right}
				continue
			}
			return left, nil
		}

		if bp < minBP {
			return left, nil
		}
		p.advance()

		// Power is right-associative.
		nextBP := bp + 1
		if op == '^' {
			nextBP = bp
		}
		right, err := p.parseExpr(nextBP)
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

// startsOperand reports whether a token can begin an implicit-multiplication
// operand: 2x, x(y+1), 3\frac{a}{b}.
func startsOperand(t token) bool {
	switch t.kind {
	case tokNumber, tokIdent, tokLParen, tokLBrace:
		return true
	}
	return false
}

func (p *parser) parsePrefix() (node, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.advance()
		return &numNode{value: t.num}, nil

	case tokIdent:
		p.advance()
		// Function application: known names followed by parentheses.
		if fn, ok := functionName(t.text); ok && p.peek().kind == tokLParen {
			return p.parseCall(fn)
		}
		return &varNode{name: t.text}, nil

	case tokMinus:
		p.advance()
		child, err := p.parseExpr(bpMul)
		if err != nil {
			return nil, err
		}
		return &unaryNode{neg: true, child: child}, nil

	case tokPlus:
		p.advance()
		return p.parseExpr(bpMul)

	case tokLParen:
		p.advance()
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "closing parenthesis"); err != nil {
			return nil, err
		}
		return inner, nil

	case tokLBrace:
		return p.parseBraceGroup()

	case tokCommand:
		return p.parseCommand()
	}

	return nil, fmt.Errorf("unexpected token %q at %d", t.text, t.pos)
}

func (p *parser) parseBraceGroup() (node, error) {
	if _, err := p.expect(tokLBrace, "opening brace"); err != nil {
		return nil, err
	}
	inner, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRBrace, "closing brace"); err != nil {
		return nil, err
	}
	return inner, nil
}

func (p *parser) parseCall(fn string) (node, error) {
	if _, err := p.expect(tokLParen, "argument list"); err != nil {
		return nil, err
	}
	var args []node
	for {
		arg, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokRParen, "closing parenthesis"); err != nil {
		return nil, err
	}
	return &callNode{fn: fn, args: args}, nil
}

func (p *parser) parseCommand() (node, error) {
	t := p.advance()
	switch t.text {
	case `\frac`:
		num, err := p.parseBraceGroup()
		if err != nil {
			return nil, err
		}
		den, err := p.parseBraceGroup()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: '/', left: num, right: den}, nil

	case `\sqrt`:
		arg, err := p.parseBraceGroup()
		if err != nil {
			return nil, err
		}
		return &callNode{fn: "sqrt", args: []node{arg}}, nil

	case `\sum`:
		return p.parseSum()

	case `\times`, `\cdot`:
		// Left operand already consumed by the caller through implicit
		// multiplication handling; a command here in prefix position
		// means the expression started with an operator.
		return nil, fmt.Errorf("operator %s with no left operand at %d", t.text, t.pos)

	case `\exp`, `\ln`, `\log`, `\max`, `\min`:
		fn := t.text[1:]
		if p.peek().kind == tokLParen {
			return p.parseCall(fn)
		}
		arg, err := p.parseBraceGroup()
		if err != nil {
			return nil, err
		}
		return &callNode{fn: fn, args: []node{arg}}, nil

	}

	return nil, fmt.Errorf("unsupported command %s at %d", t.text, t.pos)
}

// parseSum reads \sum_{k=a}^{b} body. The body extends over one
// multiplicative term, matching how summations render in the source PDFs.
func (p *parser) parseSum() (node, error) {
	if _, err := p.expect(tokUnderscore, "summation lower bound"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLBrace, "lower bound group"); err != nil {
		return nil, err
	}
	idx, err := p.expect(tokIdent, "summation index")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokEquals, "index assignment"); err != nil {
		return nil, err
	}
	lo, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRBrace, "lower bound close"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokCaret, "summation upper bound"); err != nil {
		return nil, err
	}
	var hi node
	if p.peek().kind == tokLBrace {
		hi, err = p.parseBraceGroup()
	} else {
		hi, err = p.parsePrefix()
	}
	if err != nil {
		return nil, err
	}

	body, err := p.parseExpr(bpMul)
	if err != nil {
		return nil, err
	}

	return &sumNode{index: idx.text, lo: lo, hi: hi, body: body}, nil
}

func functionName(ident string) (string, bool) {
	if functionNames[ident] {
		return ident, true
	}
	return "", false
}
