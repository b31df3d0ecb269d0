// Package normalize converts raw recognizer strings, LaTeX fragments and
// Korean verbal formulas alike, into a canonical expression form. The same
// input always yields the same output.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/kactuary/formula-extract/internal/fault"
)

// Result carries the normalized expression and whether structural repair was
// applied. Repaired expressions take a confidence penalty downstream.
type Result struct {
	Expression string
	Repaired   bool
}

// Normalizer applies the full normalization sequence. It is stateless after
// construction and safe for concurrent use.
type Normalizer struct {
	tables Tables
}

// New builds a Normalizer over the built-in tables extended with overrides.
func New(overrides Tables) *Normalizer {
	return &Normalizer{tables: BuiltinTables().Merge(overrides)}
}

var (
	subscriptDigits = regexp.MustCompile(`\b([A-Za-z])(\d+)\b`)
	residualHangul  = regexp.MustCompile(`\p{Hangul}+`)
	multiSpace      = regexp.MustCompile(`\s+`)
	// Characters a parseable expression is built from.
	plausible = regexp.MustCompile(`[A-Za-z0-9\\]`)
)

// Normalize runs the canonical sequence: unicode fold, typo repair, operator
// substitution, Korean conversion, subscript canonicalization, whitespace
// collapse, and finally bracket repair. Returns a NormalizationError when no
// parseable structure remains.
func (n *Normalizer) Normalize(raw string) (Result, error) {
	original := raw

	s := norm.NFKC.String(raw)

	for _, fix := range typoFixes {
		s = fix.pattern.ReplaceAllString(s, fix.repl)
	}

	for from, to := range n.tables.Operators {
		s = strings.ReplaceAll(s, from, to)
	}

	s = convertKorean(s, n.tables)

	// Particles and other prose left after conversion carry no math.
	s = residualHangul.ReplaceAllString(s, " ")

	// x2 reads as x_2; recognized subscripts frequently drop the underscore.
	s = subscriptDigits.ReplaceAllString(s, "${1}_${2}")

	s = strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))

	s, repaired := repairBrackets(s)

	if !plausible.MatchString(s) {
		return Result{}, &fault.NormalizationError{
			Original: original,
			Reason:   "no expression structure after normalization",
		}
	}
	if !balanced(s) {
		return Result{}, &fault.NormalizationError{
			Original: original,
			Reason:   "unbalanced brackets not repairable at string boundaries",
		}
	}

	return Result{Expression: s, Repaired: repaired}, nil
}

// repairBrackets closes unbalanced braces and parentheses, but only at string
// boundaries: missing closers append at the end, missing openers prepend at
// the start. Interleaved imbalance is left for the balance check to reject.
func repairBrackets(s string) (string, bool) {
	repaired := false

	if d := depth(s, '{', '}'); d > 0 {
		s += strings.Repeat("}", d)
		repaired = true
	} else if d < 0 {
		s = strings.Repeat("{", -d) + s
		repaired = true
	}

	if d := depth(s, '(', ')'); d > 0 {
		s += strings.Repeat(")", d)
		repaired = true
	} else if d < 0 {
		s = strings.Repeat("(", -d) + s
		repaired = true
	}

	return s, repaired
}

func depth(s string, open, close rune) int {
	d := 0
	for _, r := range s {
		switch r {
		case open:
			d++
		case close:
			d--
		}
	}
	return d
}

// balanced reports whether braces and parentheses each nest correctly.
func balanced(s string) bool {
	return nests(s, '{', '}') && nests(s, '(', ')')
}

func nests(s string, open, close rune) bool {
	d := 0
	for _, r := range s {
		switch r {
		case open:
			d++
		case close:
			d--
			if d < 0 {
				return false
			}
		}
	}
	return d == 0
}
