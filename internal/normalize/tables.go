package normalize

import "regexp"

// Tables holds the substitution dictionaries applied during normalization.
// Merging is extend-only: built-in entries are never replaced, so two runs
// over the same corpus normalize identically regardless of overrides.
type Tables struct {
	// Operators maps verbal or unicode operator spellings to canonical forms.
	Operators map[string]string
	// MathTerms maps Korean math vocabulary to LaTeX commands.
	MathTerms map[string]string
	// FinancialTerms maps Korean insurance vocabulary to actuarial symbols.
	FinancialTerms map[string]string
}

// typoFix pairs a recognizer-artifact pattern with its canonical replacement.
type typoFix struct {
	pattern *regexp.Regexp
	repl    string
}

// typoFixes repair systematic recognizer misreads of LaTeX commands.
var typoFixes = []typoFix{
	{regexp.MustCompile(`\\tlmes\b`), `\times`},
	{regexp.MustCompile(`\\tines\b`), `\times`},
	{regexp.MustCompile(`\\frac\s*\{`), `\frac{`},
	{regexp.MustCompile(`\\sqnt\b`), `\sqrt`},
	{regexp.MustCompile(`\\surn\b`), `\sum`},
	{regexp.MustCompile(`\\Iambda\b`), `\lambda`},
	{regexp.MustCompile(`\\aIpha\b`), `\alpha`},
}

// BuiltinTables returns the built-in substitution dictionaries.
func BuiltinTables() Tables {
	return Tables{
		Operators: map[string]string{
			"×": `\times`,
			"÷": `\div`,
			"±": `\pm`,
			"≤": `\leq`,
			"≥": `\geq`,
			"≠": `\neq`,
			"∑": `\sum`,
			"√": `\sqrt`,
			"∞": `\infty`,
			"·": `\cdot`,
		},
		MathTerms: map[string]string{
			"루트":  `\sqrt`,
			"제곱근": `\sqrt`,
			"시그마": `\sum`,
			"무한대": `\infty`,
			"파이":  `\pi`,
			"알파":  `\alpha`,
			"베타":  `\beta`,
			"감마":  `\gamma`,
		},
		FinancialTerms: map[string]string{
			"영업보험료":  "G",
			"순보험료":   "P",
			"보험료":    "P",
			"책임준비금":  "V",
			"준비금":    "V",
			"해약환급금":  "W",
			"해지환급금":  "W",
			"생존자수":   "l_x",
			"사망자수":   "d_x",
			"사망률":    "q_x",
			"생존률":    "p_x",
			"생존율":    "p_x",
			"이율":     "i",
			"이자율":    "i",
			"예정이율":   "i",
			"현가율":    "v",
			"할인율":    "d",
			"연금현가":   "a_x",
			"보험금현가":  "A_x",
			"신계약비":   `\alpha`,
			"유지비":    `\beta`,
			"수금비":    `\gamma`,
			"보험금":    "S",
			"가입금액":   "S",
			"계약자적립액": "V",
		},
	}
}

// Merge returns a copy of t extended with entries from other. Keys already
// present in t keep their built-in mapping.
func (t Tables) Merge(other Tables) Tables {
	out := Tables{
		Operators:      copyExtend(t.Operators, other.Operators),
		MathTerms:      copyExtend(t.MathTerms, other.MathTerms),
		FinancialTerms: copyExtend(t.FinancialTerms, other.FinancialTerms),
	}
	return out
}

func copyExtend(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}
