// Package validate exercises compiled artifacts against generated test cases
// and adjusts formula confidence from the outcomes. Structural failures are
// fatal for the candidate; behavioral anomalies become warnings on the stored
// record.
package validate

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/kactuary/formula-extract/internal/compile"
	"github.com/kactuary/formula-extract/internal/config"
	"github.com/kactuary/formula-extract/internal/fault"
	"github.com/kactuary/formula-extract/internal/model"
)

// Case is one generated test: named inputs plus the invariant the result must
// satisfy, nil when any finite result is acceptable.
type Case struct {
	Name   string
	Inputs map[string]float64
	Check  func(result float64) string // returns a warning, "" when satisfied
}

// Outcome summarizes a validation run for one artifact.
type Outcome struct {
	Executed bool // at least one case evaluated to a finite result
	Cases    int
	Passed   int
	Warnings []string
}

// Validator generates and runs per-category test cases.
type Validator struct {
	cfg config.ValidateConfig
}

func New(cfg config.ValidateConfig) *Validator {
	return &Validator{cfg: cfg}
}

// representative values for the common actuarial symbols. Commutation ratios
// land near realistic magnitudes: M/N around 0.1.
var representative = map[string]float64{
	"M_x": 1_000, "N_x": 10_000, "D_x": 5_000, "C_x": 800,
	"l_x": 100_000, "d_x": 500,
	"q_x": 0.005, "p_x": 0.995,
	"i": 0.025, "v": 0.97561, "d": 0.02439,
	"a_x": 15, "A_x": 0.35,
	"P": 100, "G": 120, "V": 500, "W": 450, "S": 100_000,
	`\alpha`: 0.01, `\beta`: 0.002, `\gamma`: 0.03,
	"x": 40, "n": 10, "m": 12, "t": 5, "k": 1,
}

// Generate builds the case list for an artifact: a representative case, a
// young-age and old-age variant when an age variable is present, and a
// boundary case pinned at each variable's minimum.
func (v *Validator) Generate(category model.Category, vars []model.Variable) []Case {
	base := make(map[string]float64, len(vars))
	hasAge := false
	for _, vr := range vars {
		base[vr.Name] = pick(vr)
		if vr.Name == "x" {
			hasAge = true
		}
	}

	check := invariantFor(category)
	cases := []Case{{Name: "representative", Inputs: base, Check: check}}

	if hasAge {
		young := clone(base)
		young["x"] = 30
		old := clone(base)
		old["x"] = 80
		cases = append(cases,
			Case{Name: "young age", Inputs: young, Check: check},
			Case{Name: "old age", Inputs: old, Check: check},
		)
	}

	for _, vr := range vars {
		if vr.Constraint.Min == nil {
			continue
		}
		lo := *vr.Constraint.Min
		if vr.Constraint.MinExclusive {
			lo += boundaryEpsilon(vr)
		}
		inputs := clone(base)
		inputs[vr.Name] = lo
		cases = append(cases, Case{
			Name:   fmt.Sprintf("%s at lower bound", vr.Name),
			Inputs: inputs,
		})
	}

	return cases
}

func pick(v model.Variable) float64 {
	if val, ok := representative[v.Name]; ok {
		return val
	}
	if v.Default != nil {
		return *v.Default
	}
	// Midpoint of a bounded range, otherwise 1.
	if v.Constraint.Min != nil && v.Constraint.Max != nil {
		return (*v.Constraint.Min + *v.Constraint.Max) / 2
	}
	if v.Constraint.Min != nil && *v.Constraint.Min > 1 {
		return *v.Constraint.Min
	}
	return 1
}

func boundaryEpsilon(v model.Variable) float64 {
	if v.Type == model.VarInt {
		return 1
	}
	return 1e-6
}

func clone(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// invariantFor returns the result-sign check for a category. Violations are
// behavioral warnings, never fatal: a negative reserve is suspicious, not
// impossible.
func invariantFor(category model.Category) func(float64) string {
	switch category {
	case model.CategoryMortality:
		return func(r float64) string {
			if r < 0 || r > 1 {
				return fmt.Sprintf("mortality result %g outside [0, 1]", r)
			}
			return ""
		}
	case model.CategoryPremium, model.CategoryAnnuity, model.CategoryInsurance, model.CategorySurrender:
		return func(r float64) string {
			if r < 0 {
				return fmt.Sprintf("negative result %g for a non-negative quantity", r)
			}
			return ""
		}
	case model.CategoryInterest:
		return func(r float64) string {
			if r < -0.99 || r > 10 {
				return fmt.Sprintf("interest-like result %g outside plausible range", r)
			}
			return ""
		}
	default:
		return nil
	}
}

// Run executes every case under the configured timeout. Structural errors
// abort immediately; constraint and arithmetic errors fail the case but
// continue the run.
func (v *Validator) Run(ctx context.Context, art *compile.Artifact, cases []Case) (Outcome, error) {
	if err := art.CheckStructure(); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Cases: len(cases)}
	for _, c := range cases {
		caseCtx, cancel := context.WithTimeout(ctx, v.cfg.EvalTimeout())
		result, err := art.Eval(caseCtx, c.Inputs)
		cancel()

		if err != nil {
			if ve, ok := fault.IsValidation(err); ok && ve.Timeout {
				// A runaway evaluation is fatal: the artifact cannot
				// be trusted with arbitrary inputs.
				return out, err
			}
			zap.L().Debug("validation case failed",
				zap.String("case", c.Name),
				zap.Error(err))
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("case %q failed: %v", c.Name, err))
			continue
		}

		out.Passed++
		if !math.IsNaN(result) && !math.IsInf(result, 0) {
			out.Executed = true
		}
		if c.Check != nil {
			if w := c.Check(result); w != "" {
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("case %q: %s", c.Name, w))
			}
		}
	}
	return out, nil
}

// AdjustConfidence combines the base recognizer confidence with validation
// bonuses and the repair penalty, clamped to [0, 1].
func (v *Validator) AdjustConfidence(base float64, outcome Outcome, varCount int, repaired bool, repairPenalty float64) float64 {
	score := base
	if outcome.Cases > 0 && outcome.Passed == outcome.Cases {
		score += v.cfg.StructureBonus
	}
	if outcome.Executed {
		score += v.cfg.ExecBonus
	}
	if varCount > 0 {
		score += v.cfg.VariableBonus
	}
	if repaired {
		score -= repairPenalty
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Timeout returns the configured per-case evaluation budget.
func (v *Validator) Timeout() time.Duration { return v.cfg.EvalTimeout() }
