package compile

import (
	"regexp"
	"strings"
)

// The fallback path rewrites LaTeX structure into plain infix before a second
// parse attempt. It loses fidelity (sizing, unknown commands) but salvages
// expressions whose structure the strict parser rejected.

var (
	fracPattern = regexp.MustCompile(`\\frac\{([^{}]*)\}\{([^{}]*)\}`)
	sqrtPattern = regexp.MustCompile(`\\sqrt\{([^{}]*)\}`)
	// Any command left after the known rewrites is dropped.
	anyCommand = regexp.MustCompile(`\\[a-zA-Z]+`)
	// Subscripted identifiers survive the brace strip by converting to the
	// unbraced form first.
	subscriptBrace = regexp.MustCompile(`([A-Za-z])_\{([A-Za-z0-9])\}`)
)

// desugar flattens LaTeX into operator notation the strict parser accepts.
func desugar(src string) string {
	// Unwrap brace subscripts first so fraction arguments read as brace-free.
	s := subscriptBrace.ReplaceAllString(src, `${1}_${2}`)

	// Innermost fractions first; repeat until none remain or no progress.
	for i := 0; i < 16; i++ {
		next := fracPattern.ReplaceAllString(s, `(($1)/($2))`)
		next = sqrtPattern.ReplaceAllString(next, `sqrt($1)`)
		if next == s {
			break
		}
		s = next
	}

	s = strings.NewReplacer(
		`\times`, "*",
		`\cdot`, "*",
		`\div`, "/",
		`\left`, "",
		`\right`, "",
		`\,`, " ",
	).Replace(s)

	// Greek variables keep their backslash; the lexer knows them. Every
	// other residual command is recognizer noise.
	s = anyCommand.ReplaceAllStringFunc(s, func(m string) string {
		if greekIdents[m] {
			return m
		}
		return " "
	})

	// Remaining braces act as parentheses.
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")

	return strings.TrimSpace(s)
}

// parseFallback desugars and reparses. Returns the tree, the assignment
// target if present, and the rewritten source actually parsed.
func parseFallback(src string) (node, string, string, error) {
	rewritten := desugar(src)
	root, target, err := parse(rewritten)
	if err != nil {
		return nil, "", "", err
	}
	return root, target, rewritten, nil
}
