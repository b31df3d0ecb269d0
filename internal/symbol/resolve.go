package symbol

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kactuary/formula-extract/internal/model"
)

// Resolver extracts the variable set of an expression and binds each name to
// a table entry, a context-derived description, or a generic fallback.
type Resolver struct {
	table Table
}

// NewResolver builds a resolver over the merged symbol table.
func NewResolver(table Table) *Resolver {
	return &Resolver{table: table}
}

var (
	latexCommand = regexp.MustCompile(`\\[a-zA-Z]+`)
	// Subscripted symbols: M_x, M_{x}, l_{x+n}. Captured with braces intact
	// so the base form can be recovered.
	subscripted = regexp.MustCompile(`\b([A-Za-z])_(\{[^{}]*\}|[A-Za-z0-9])`)
	bareLetter  = regexp.MustCompile(`\b([A-Za-z])\b`)

	greekNames = map[string]bool{
		`\alpha`: true, `\beta`: true, `\gamma`: true, `\delta`: true,
		`\lambda`: true, `\mu`: true, `\sigma`: true, `\pi`: true,
	}

	// Structural LaTeX commands are never variables.
	structural = map[string]bool{
		`\frac`: true, `\sqrt`: true, `\sum`: true, `\times`: true,
		`\div`: true, `\cdot`: true, `\pm`: true, `\leq`: true,
		`\geq`: true, `\neq`: true, `\infty`: true, `\left`: true,
		`\right`: true, `\exp`: true, `\ln`: true, `\log`: true,
		`\max`: true, `\min`: true,
	}

	// Context patterns binding a symbol to a nearby prose description.
	// Later matches win, so the closest restatement takes effect.
	contextPatterns = []*regexp.Regexp{
		regexp.MustCompile(`여기서\s*([A-Za-z](?:_(?:\{[^{}]*\}|[A-Za-z0-9]))?)\s*(?:은|는|이|가)?\s*([^,.\n]+)`),
		regexp.MustCompile(`단\s*,\s*([A-Za-z](?:_(?:\{[^{}]*\}|[A-Za-z0-9]))?)\s*(?:은|는|이|가)?\s*([^,.\n]+)`),
		regexp.MustCompile(`([A-Za-z](?:_(?:\{[^{}]*\}|[A-Za-z0-9]))?)\s*:\s*([^,.\n]+)`),
	}
)

// Resolve returns the variable declarations for an expression, in name order.
// Resolution tiers: context description from nearby page text, then the
// symbol table, then a generic real-typed fallback.
func (r *Resolver) Resolve(expr, context string) []model.Variable {
	names := extractNames(expr)
	ctx := contextDescriptions(context)

	vars := make([]model.Variable, 0, len(names))
	for _, name := range names {
		v := r.lookup(name)
		if desc, ok := ctx[canonicalName(name)]; ok {
			v.Description = desc
		}
		vars = append(vars, v)
	}
	return vars
}

func (r *Resolver) lookup(name string) model.Variable {
	key := canonicalName(name)
	if e, ok := r.table[key]; ok {
		return e.Variable(key)
	}
	// Subscripted forms fall back on the base table entry keyed with _x,
	// so M_{x+n} inherits the M_x definition.
	if base, ok := baseForm(key); ok {
		if e, ok := r.table[base]; ok {
			return e.Variable(key)
		}
	}
	return model.Variable{
		Name:        key,
		Description: "unresolved symbol",
		Type:        model.VarReal,
	}
}

// extractNames collects candidate variable names from an expression:
// subscripted symbols first (consuming their letters), then Greek commands,
// then remaining bare letters. Output is sorted and distinct.
func extractNames(expr string) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		n = canonicalName(n)
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	remainder := subscripted.ReplaceAllStringFunc(expr, func(m string) string {
		add(m)
		return " "
	})

	// Every command is consumed; only the Greek ones also name a variable.
	remainder = latexCommand.ReplaceAllStringFunc(remainder, func(m string) string {
		if greekNames[m] && !structural[m] {
			add(m)
		}
		return " "
	})

	for _, m := range bareLetter.FindAllString(remainder, -1) {
		// e is Euler's number in exponent position more often than a
		// variable; skip it like other constants.
		if m == "e" {
			continue
		}
		add(m)
	}

	sort.Strings(names)
	return names
}

// canonicalName strips single-character brace groups from a subscript so
// M_{x} and M_x resolve identically.
func canonicalName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.Index(name, "_{"); i >= 0 && strings.HasSuffix(name, "}") {
		inner := name[i+2 : len(name)-1]
		if len(inner) == 1 {
			return name[:i] + "_" + inner
		}
	}
	return name
}

// baseForm reduces a subscripted name to its table key: M_{x+n} becomes M_x.
func baseForm(name string) (string, bool) {
	i := strings.Index(name, "_")
	if i <= 0 {
		return "", false
	}
	return name[:i] + "_x", true
}

func contextDescriptions(context string) map[string]string {
	if context == "" {
		return nil
	}
	out := make(map[string]string)
	for _, p := range contextPatterns {
		for _, m := range p.FindAllStringSubmatch(context, -1) {
			name := canonicalName(m[1])
			desc := strings.TrimSpace(m[2])
			if name != "" && desc != "" {
				out[name] = desc
			}
		}
	}
	return out
}
