// Package classify assigns each formula to one category from the closed
// domain set. Pattern families are tried in a fixed order and the first match
// wins, so classification is deterministic for a given expression.
package classify

import (
	"regexp"

	"github.com/kactuary/formula-extract/internal/model"
)

type family struct {
	category model.Category
	patterns []*regexp.Regexp
}

// Families are ordered most-specific first. Premium and reserve symbols are
// checked before the commutation functions they are built from, so P =
// M_x/N_x classifies as premium rather than insurance.
var families = []family{
	{model.CategoryPremium, compile(
		`(?:^|[^A-Za-z])[PG](?:_|\s*=)`,
		`순보험료|영업보험료|보험료`,
	)},
	{model.CategoryReserve, compile(
		`(?:^|[^A-Za-z])V(?:_|\s*=)`,
		`책임준비금|준비금|적립액`,
	)},
	{model.CategorySurrender, compile(
		`(?:^|[^A-Za-z])W(?:_|\s*=)`,
		`해약환급금|해지환급금|환급금`,
	)},
	{model.CategoryMortality, compile(
		`[qp]_`,
		`l_|d_(?:\{|[A-Za-z])`,
		`사망률|생존률|생존율|사망자|생존자`,
	)},
	{model.CategoryInterest, compile(
		`(?:^|[^A-Za-z])[ivd](?:\s*=)`,
		`\(1\s*\+\s*i\)`,
		`이율|이자율|할인율|현가율`,
	)},
	{model.CategoryAnnuity, compile(
		`a_|\\ddot\{?a`,
		`연금`,
	)},
	{model.CategoryInsurance, compile(
		`A_|M_|N_|C_|D_`,
		`보험금현가`,
	)},
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// variableHints maps variable sets to a category when the expression text
// itself was inconclusive.
var variableHints = []struct {
	category model.Category
	anyOf    []string
}{
	{model.CategoryMortality, []string{"q_x", "p_x", "l_x", "d_x"}},
	{model.CategoryInterest, []string{"i", "v", "d"}},
	{model.CategoryAnnuity, []string{"a_x"}},
	{model.CategoryInsurance, []string{"A_x", "M_x", "N_x"}},
}

// Classify returns the category of a normalized expression. The raw string
// is also consulted so Korean keywords removed during normalization still
// contribute. Unmatched expressions land in the general category.
func Classify(normalized, raw string, vars []model.Variable) model.Category {
	for _, f := range families {
		for _, p := range f.patterns {
			if p.MatchString(normalized) || (raw != "" && p.MatchString(raw)) {
				return f.category
			}
		}
	}

	names := make(map[string]bool, len(vars))
	for _, v := range vars {
		names[v.Name] = true
	}
	for _, h := range variableHints {
		for _, n := range h.anyOf {
			if names[n] {
				return h.category
			}
		}
	}

	return model.CategoryGeneral
}
