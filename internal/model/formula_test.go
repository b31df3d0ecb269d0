package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalKey_StripsWhitespaceAndSingleCharBraces(t *testing.T) {
	assert.Equal(t, `P=\frac{M_x}{N_x}`, CanonicalKey(` P = \frac{M_{x}}{N_{x}} `))
	assert.Equal(t, `M_x`, CanonicalKey(`M_{x}`))
	// Multi-character subscripts keep their braces.
	assert.Equal(t, `l_{x+n}`, CanonicalKey(`l_{x+n}`))
}

func TestFormulaID_StableAcrossEquivalentSpellings(t *testing.T) {
	a := FormulaID(`P = \frac{M_x}{N_x}`)
	b := FormulaID(`P=\frac{M_{x}}{N_{x}}`)

	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestFormulaID_DistinctExpressionsDiffer(t *testing.T) {
	assert.NotEqual(t, FormulaID(`P = M_x / N_x`), FormulaID(`V = M_x / N_x`))
}

func TestConstraint_Contains(t *testing.T) {
	closed := Constraint{Min: Ptr(0), Max: Ptr(1)}
	assert.True(t, closed.Contains(0))
	assert.True(t, closed.Contains(1))
	assert.False(t, closed.Contains(-0.001))
	assert.False(t, closed.Contains(1.001))

	exclusive := Constraint{Min: Ptr(0), MinExclusive: true}
	assert.False(t, exclusive.Contains(0))
	assert.True(t, exclusive.Contains(0.001))

	open := Constraint{}
	assert.True(t, open.Contains(-1e12))
}

func TestConstraint_Describe(t *testing.T) {
	assert.Equal(t, "[0, 1]", Constraint{Min: Ptr(0), Max: Ptr(1)}.Describe())
	assert.Equal(t, "(0, +inf)", Constraint{Min: Ptr(0), MinExclusive: true}.Describe())
	assert.Equal(t, "(-inf, +inf)", Constraint{}.Describe())
}

func TestRunReport_FailureAccounting(t *testing.T) {
	var r RunReport
	r.AddFailure(Failure{Stage: StageNormalize, Kind: "normalization_error"})
	r.AddFailure(Failure{Stage: StageCompile, Kind: "compilation_error"})
	r.AddFailure(Failure{Stage: StageNormalize, Kind: "normalization_error"})

	assert.Equal(t, map[string]int{
		"normalization_error": 2,
		"compilation_error":   1,
	}, r.FailureCounts())
	assert.Equal(t, []string{"compilation_error", "normalization_error"}, r.FailureKinds())
}
