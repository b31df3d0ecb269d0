package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kactuary/formula-extract/internal/compile"
	"github.com/kactuary/formula-extract/internal/config"
	"github.com/kactuary/formula-extract/internal/fault"
	"github.com/kactuary/formula-extract/internal/model"
)

func testConfig() config.ValidateConfig {
	return config.ValidateConfig{
		EvalTimeoutMS:  2000,
		StepBudget:     100_000,
		StructureBonus: 0.1,
		ExecBonus:      0.1,
		VariableBonus:  0.05,
	}
}

func TestGenerate_RepresentativeAndBoundaryCases(t *testing.T) {
	v := New(testConfig())

	vars := []model.Variable{
		{Name: "M_x", Type: model.VarReal, Constraint: model.Constraint{Min: model.Ptr(0)}},
		{Name: "N_x", Type: model.VarReal, Constraint: model.Constraint{Min: model.Ptr(0)}},
	}
	cases := v.Generate(model.CategoryPremium, vars)

	require.NotEmpty(t, cases)
	assert.Equal(t, "representative", cases[0].Name)
	assert.Equal(t, 1000.0, cases[0].Inputs["M_x"])
	assert.Equal(t, 10000.0, cases[0].Inputs["N_x"])

	names := caseNames(cases)
	assert.Contains(t, names, "M_x at lower bound")
	assert.Contains(t, names, "N_x at lower bound")
}

func TestGenerate_AgeVariantsWhenAgePresent(t *testing.T) {
	v := New(testConfig())

	vars := []model.Variable{
		{Name: "x", Type: model.VarInt, Constraint: model.Constraint{Min: model.Ptr(0), Max: model.Ptr(120)}},
	}
	cases := v.Generate(model.CategoryMortality, vars)

	names := caseNames(cases)
	assert.Contains(t, names, "young age")
	assert.Contains(t, names, "old age")

	byName := indexCases(cases)
	assert.Equal(t, 30.0, byName["young age"].Inputs["x"])
	assert.Equal(t, 80.0, byName["old age"].Inputs["x"])
}

func TestRun_PremiumFormulaExecutes(t *testing.T) {
	v := New(testConfig())

	vars := []model.Variable{
		{Name: "P", Type: model.VarReal},
		{Name: "M_x", Type: model.VarReal, Constraint: model.Constraint{Min: model.Ptr(0)}},
		{Name: "N_x", Type: model.VarReal, Constraint: model.Constraint{Min: model.Ptr(0)}},
	}
	art, err := compile.Compile(`P = \frac{M_x}{N_x}`, vars, compile.Options{})
	require.NoError(t, err)

	outcome, err := v.Run(context.Background(), art, v.Generate(model.CategoryPremium, vars))

	require.NoError(t, err)
	assert.True(t, outcome.Executed)
	assert.Greater(t, outcome.Passed, 0)
}

func TestRun_StructuralErrorIsFatal(t *testing.T) {
	v := New(testConfig())

	// b is referenced but not declared.
	art, err := compile.Compile(`a + b`, []model.Variable{{Name: "a", Type: model.VarReal}}, compile.Options{})
	require.NoError(t, err)

	_, err = v.Run(context.Background(), art, nil)

	require.Error(t, err)
	assert.True(t, fault.IsStructural(err))
}

func TestRun_RunawayEvaluationIsFatal(t *testing.T) {
	v := New(testConfig())

	art, err := compile.Compile(`\sum_{k=1}^{100000000} k`, nil, compile.Options{StepBudget: 10_000})
	require.NoError(t, err)

	_, err = v.Run(context.Background(), art, []Case{{Name: "runaway", Inputs: nil}})

	require.Error(t, err)
	ve, ok := fault.IsValidation(err)
	require.True(t, ok)
	assert.True(t, ve.Timeout)
}

func TestRun_InvariantViolationIsWarningNotError(t *testing.T) {
	v := New(testConfig())

	// A "mortality" formula yielding 5 violates the [0,1] invariant.
	art, err := compile.Compile(`5`, nil, compile.Options{})
	require.NoError(t, err)

	outcome, err := v.Run(context.Background(), art, v.Generate(model.CategoryMortality, nil))

	require.NoError(t, err)
	assert.NotEmpty(t, outcome.Warnings)
	assert.True(t, outcome.Executed)
}

func TestAdjustConfidence_BonusesAndPenalty(t *testing.T) {
	v := New(testConfig())

	full := Outcome{Executed: true, Cases: 3, Passed: 3}
	assert.InDelta(t, 0.85, v.AdjustConfidence(0.6, full, 2, false, 0.1), 1e-9)

	// Repair penalty subtracts.
	assert.InDelta(t, 0.75, v.AdjustConfidence(0.6, full, 2, true, 0.1), 1e-9)

	// Clamped at 1.
	assert.Equal(t, 1.0, v.AdjustConfidence(0.95, full, 2, false, 0))

	// No bonuses when nothing executed or passed.
	none := Outcome{Cases: 3, Passed: 1}
	assert.InDelta(t, 0.6, v.AdjustConfidence(0.6, none, 0, false, 0), 1e-9)
}

func caseNames(cases []Case) []string {
	out := make([]string, len(cases))
	for i, c := range cases {
		out[i] = c.Name
	}
	return out
}

func indexCases(cases []Case) map[string]Case {
	out := make(map[string]Case, len(cases))
	for _, c := range cases {
		out[c.Name] = c
	}
	return out
}
