package compile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kactuary/formula-extract/internal/fault"
	"github.com/kactuary/formula-extract/internal/model"
)

func realVar(name string) model.Variable {
	return model.Variable{Name: name, Type: model.VarReal}
}

func mustCompile(t *testing.T, expr string, vars ...model.Variable) *Artifact {
	t.Helper()
	art, err := Compile(expr, vars, Options{})
	require.NoError(t, err)
	return art
}

func eval(t *testing.T, art *Artifact, inputs map[string]float64) float64 {
	t.Helper()
	got, err := art.Eval(context.Background(), inputs)
	require.NoError(t, err)
	return got
}

func TestCompile_PremiumFormula(t *testing.T) {
	art := mustCompile(t, `P = \frac{M_x}{N_x}`,
		realVar("P"), realVar("M_x"), realVar("N_x"))

	assert.Equal(t, "P", art.Target())
	assert.False(t, art.Fallback())

	got := eval(t, art, map[string]float64{"M_x": 1000, "N_x": 10000})
	assert.InDelta(t, 0.1, got, 1e-12)
}

func TestCompile_ArithmeticAndPrecedence(t *testing.T) {
	cases := []struct {
		expr   string
		inputs map[string]float64
		want   float64
	}{
		{`1 + 2 * 3`, nil, 7},
		{`(1 + 2) * 3`, nil, 9},
		{`2 ^ 3 ^ 2`, nil, 512}, // right-associative
		{`-x + 10`, map[string]float64{"x": 4}, 6},
		{`2x + 1`, map[string]float64{"x": 3}, 7},         // implicit multiplication
		{`x(y + 1)`, map[string]float64{"x": 2, "y": 4}, 10},
		{`a \times b`, map[string]float64{"a": 3, "b": 5}, 15},
		{`a \div b`, map[string]float64{"a": 10, "b": 4}, 2.5},
		{`sqrt(16) + abs(-2)`, nil, 6},
		{`max(1, 5, 3)`, nil, 5},
		{`\sqrt{25}`, nil, 5},
	}

	for _, c := range cases {
		var vars []model.Variable
		for name := range c.inputs {
			vars = append(vars, realVar(name))
		}
		art, err := Compile(c.expr, vars, Options{})
		require.NoError(t, err, "compile %q", c.expr)

		got, err := art.Eval(context.Background(), c.inputs)
		require.NoError(t, err, "eval %q", c.expr)
		assert.InDelta(t, c.want, got, 1e-9, "eval %q", c.expr)
	}
}

func TestCompile_SubscriptSpellingsAreOneIdentifier(t *testing.T) {
	art := mustCompile(t, `M_{x} + M_x`, realVar("M_x"))

	got := eval(t, art, map[string]float64{"M_x": 5})
	assert.Equal(t, 10.0, got)
}

func TestCompile_Summation(t *testing.T) {
	art := mustCompile(t, `\sum_{k=1}^{4} k`)

	got := eval(t, art, nil)
	assert.Equal(t, 10.0, got)
}

func TestCompile_SummationWithBody(t *testing.T) {
	// Sum of v^k for k in 1..3 with v = 0.5: 0.5 + 0.25 + 0.125.
	art := mustCompile(t, `\sum_{k=1}^{3} v^k`, realVar("v"))

	got := eval(t, art, map[string]float64{"v": 0.5})
	assert.InDelta(t, 0.875, got, 1e-12)
}

func TestEval_StepBudgetStopsRunawaySummation(t *testing.T) {
	art, err := Compile(`\sum_{k=1}^{100000000} k`, nil, Options{StepBudget: 10_000})
	require.NoError(t, err)

	_, err = art.Eval(context.Background(), nil)

	require.Error(t, err)
	ve, ok := fault.IsValidation(err)
	require.True(t, ok)
	assert.True(t, ve.Timeout)
}

func TestEval_ContextDeadlineStopsEvaluation(t *testing.T) {
	art, err := Compile(`\sum_{k=1}^{100000000} k`, nil, Options{StepBudget: 1 << 60})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = art.Eval(ctx, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	ve, ok := fault.IsValidation(err)
	require.True(t, ok)
	assert.True(t, ve.Timeout)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestEval_DivisionByZero(t *testing.T) {
	art := mustCompile(t, `1 / x`, realVar("x"))

	_, err := art.Eval(context.Background(), map[string]float64{"x": 0})

	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestEval_DomainGuards(t *testing.T) {
	for _, expr := range []string{`sqrt(x)`, `ln(x)`, `log(x)`} {
		art := mustCompile(t, expr, realVar("x"))

		_, err := art.Eval(context.Background(), map[string]float64{"x": -1})
		require.Error(t, err, "expression %q", expr)
		assert.Equal(t, fault.KindValidation, fault.KindOf(err))
	}
}

func TestEval_ConstraintViolationNamesVariableAndBound(t *testing.T) {
	qx := model.Variable{
		Name:       "q_x",
		Type:       model.VarReal,
		Constraint: model.Constraint{Min: model.Ptr(0), Max: model.Ptr(1)},
	}
	art := mustCompile(t, `q_x * 2`, qx)

	_, err := art.Eval(context.Background(), map[string]float64{"q_x": 1.5})

	require.Error(t, err)
	ve, ok := fault.IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "q_x", ve.Variable)
	assert.Contains(t, ve.Reason, "[0, 1]")
}

func TestEval_IntegerTypeEnforced(t *testing.T) {
	age := model.Variable{Name: "x", Type: model.VarInt}
	art := mustCompile(t, `x + 1`, age)

	_, err := art.Eval(context.Background(), map[string]float64{"x": 40.5})

	require.Error(t, err)
	ve, _ := fault.IsValidation(err)
	require.NotNil(t, ve)
	assert.Equal(t, "x", ve.Variable)
}

func TestEval_DefaultsFillMissingInputs(t *testing.T) {
	n := model.Variable{Name: "n", Type: model.VarInt, Default: model.Ptr(10)}
	art := mustCompile(t, `n * 2`, n)

	got := eval(t, art, map[string]float64{})
	assert.Equal(t, 20.0, got)
}

func TestEval_AssignmentTargetNeedsNoInput(t *testing.T) {
	art := mustCompile(t, `P = M_x / N_x`,
		realVar("P"), realVar("M_x"), realVar("N_x"))

	got := eval(t, art, map[string]float64{"M_x": 1000, "N_x": 10000})
	assert.InDelta(t, 0.1, got, 1e-12)
}

func TestCheckStructure_UndeclaredVariableIsFatal(t *testing.T) {
	art := mustCompile(t, `a + b`, realVar("a"))

	err := art.CheckStructure()

	require.Error(t, err)
	assert.True(t, fault.IsStructural(err))
}

func TestCheckStructure_SumIndexIsBound(t *testing.T) {
	art := mustCompile(t, `\sum_{k=1}^{3} k * v`, realVar("v"))

	assert.NoError(t, art.CheckStructure())
}

func TestCompile_FallbackSalvagesLooseLatex(t *testing.T) {
	// \Delta is not a supported command; the strict parser rejects it and
	// the fallback drops it.
	art, err := Compile(`\Delta x + 1`, []model.Variable{realVar("x")}, Options{})
	require.NoError(t, err)
	assert.True(t, art.Fallback())

	got := eval(t, art, map[string]float64{"x": 2})
	assert.Equal(t, 3.0, got)
}

func TestCompile_FallbackKeepsFunctionCallsCallable(t *testing.T) {
	// The rewrite turns \sqrt{x} into sqrt(x); the call must survive as a
	// call, not decay into a product of single-letter variables.
	art, err := Compile(`\sqrt{x} \oplus 1`, []model.Variable{realVar("x")}, Options{})
	require.NoError(t, err)
	assert.True(t, art.Fallback())

	require.NoError(t, art.CheckStructure())

	got := eval(t, art, map[string]float64{"x": 4})
	assert.Equal(t, 2.0, got)
}

func TestCompile_FunctionNameWithoutCallIsVariables(t *testing.T) {
	// Only an applied function name lexes as a call; bare letters multiply.
	art := mustCompile(t, `ln`, realVar("l"), realVar("n"))

	got := eval(t, art, map[string]float64{"l": 3, "n": 5})
	assert.Equal(t, 15.0, got)
}

func TestCompile_BothParsersFailingIsCompilationError(t *testing.T) {
	_, err := Compile(`+`, nil, Options{})

	require.Error(t, err)
	assert.Equal(t, fault.KindCompilation, fault.KindOf(err))

	var ce *fault.CompilationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, `+`, ce.Expression)
}

func TestEval_NonFiniteResultRejected(t *testing.T) {
	art := mustCompile(t, `x ^ y`, realVar("x"), realVar("y"))

	_, err := art.Eval(context.Background(), map[string]float64{"x": -1, "y": 0.5})

	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}
