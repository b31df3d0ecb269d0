// Package symbol resolves the variables of a normalized expression against a
// layered symbol table: built-in actuarial definitions first, then document
// context, then a generic fallback.
package symbol

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/kactuary/formula-extract/internal/model"
)

// Entry is one symbol definition: description, numeric type and admissible
// range.
type Entry struct {
	Description  string   `yaml:"description"`
	Type         string   `yaml:"type"`
	Min          *float64 `yaml:"min"`
	Max          *float64 `yaml:"max"`
	MinExclusive bool     `yaml:"min_exclusive"`
	MaxExclusive bool     `yaml:"max_exclusive"`
	Default      *float64 `yaml:"default"`
}

// Table maps symbol names to entries.
type Table map[string]Entry

// Variable materializes an entry as a formula variable.
func (e Entry) Variable(name string) model.Variable {
	t := model.VarReal
	if e.Type == "int" {
		t = model.VarInt
	}
	return model.Variable{
		Name:        name,
		Description: e.Description,
		Type:        t,
		Constraint: model.Constraint{
			Min:          e.Min,
			Max:          e.Max,
			MinExclusive: e.MinExclusive,
			MaxExclusive: e.MaxExclusive,
		},
		Default: e.Default,
	}
}

func realEntry(desc string, min, max *float64) Entry {
	return Entry{Description: desc, Type: "real", Min: min, Max: max}
}

// Builtin returns the actuarial symbol table. Mortality rates live in [0,1],
// interest rates in [-0.99, 1], commutation functions are non-negative, and
// age/period symbols are integers.
func Builtin() Table {
	age := Entry{Description: "age", Type: "int", Min: model.Ptr(0), Max: model.Ptr(120), Default: model.Ptr(40)}
	period := Entry{Description: "period in years", Type: "int", Min: model.Ptr(0), Default: model.Ptr(10)}
	nonneg := model.Ptr(0.0)

	return Table{
		"P": realEntry("net premium", nonneg, nil),
		"G": realEntry("gross premium", nonneg, nil),
		"V": realEntry("policy reserve", nil, nil),
		"W": realEntry("surrender value", nonneg, nil),
		"S": realEntry("sum insured", nonneg, nil),

		"l_x": realEntry("number of survivors at age x", nonneg, nil),
		"d_x": realEntry("number of deaths at age x", nonneg, nil),
		"D_x": realEntry("commutation function D", nonneg, nil),
		"N_x": realEntry("commutation function N", nonneg, nil),
		"C_x": realEntry("commutation function C", nonneg, nil),
		"M_x": realEntry("commutation function M", nonneg, nil),

		"q_x": realEntry("mortality rate at age x", model.Ptr(0), model.Ptr(1)),
		"p_x": realEntry("survival rate at age x", model.Ptr(0), model.Ptr(1)),

		"i": realEntry("annual interest rate", model.Ptr(-0.99), model.Ptr(1)),
		"v": realEntry("annual discount factor", model.Ptr(0), model.Ptr(1)),
		"d": realEntry("annual discount rate", model.Ptr(0), model.Ptr(1)),

		"a_x": realEntry("annuity present value at age x", nonneg, nil),
		"A_x": realEntry("insurance present value at age x", model.Ptr(0), model.Ptr(1)),

		`\alpha`: realEntry("acquisition expense loading", nonneg, nil),
		`\beta`:  realEntry("maintenance expense loading", nonneg, nil),
		`\gamma`: realEntry("collection expense loading", nonneg, nil),

		"x": age,
		"n": period,
		"m": period,
		"t": period,
		"k": period,
	}
}

// LoadOverrides reads an extension table from a YAML file. A missing path
// yields an empty table.
func LoadOverrides(path string) (Table, error) {
	if path == "" {
		return Table{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Table{}, nil
		}
		return nil, eris.Wrap(err, "symbol: read overrides")
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "symbol: parse overrides")
	}
	return t, nil
}

// Merge returns a copy of t extended with other. Existing entries win, so
// overrides can add symbols but never redefine the built-in tier.
func (t Table) Merge(other Table) Table {
	out := make(Table, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}
