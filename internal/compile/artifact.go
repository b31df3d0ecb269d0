package compile

import (
	"context"
	"fmt"
	"math"

	"github.com/kactuary/formula-extract/internal/fault"
	"github.com/kactuary/formula-extract/internal/model"
)

// Artifact is a compiled, safely executable formula. It is immutable after
// compilation and safe for concurrent Eval calls.
type Artifact struct {
	root       node
	target     string
	vars       []model.Variable
	referenced map[string]bool
	stepBudget int
	fallback   bool
}

// Options tune compilation and evaluation safety limits.
type Options struct {
	// StepBudget caps evaluation work per call. Zero means the default.
	StepBudget int
}

const defaultStepBudget = 2_000_000

// Compile parses a normalized expression into an executable artifact. The
// strict parser runs first; on failure the desugaring fallback gets one
// attempt. Both failing is a CompilationError.
func Compile(expr string, vars []model.Variable, opts Options) (*Artifact, error) {
	budget := opts.StepBudget
	if budget <= 0 {
		budget = defaultStepBudget
	}

	root, target, strictErr := parse(expr)
	fallback := false
	if strictErr != nil {
		var fbErr error
		root, target, _, fbErr = parseFallback(expr)
		if fbErr != nil {
			return nil, &fault.CompilationError{
				Expression: expr,
				Reason:     fmt.Sprintf("strict parse failed (%v); fallback parse failed", strictErr),
				Err:        fbErr,
			}
		}
		fallback = true
	}

	return &Artifact{
		root:       root,
		target:     target,
		vars:       vars,
		referenced: collectReferenced(root, map[string]bool{}, map[string]bool{}),
		stepBudget: budget,
		fallback:   fallback,
	}, nil
}

// Inputs returns the declared variables of the artifact.
func (a *Artifact) Inputs() []model.Variable { return a.vars }

// Target returns the quantity the formula defines, empty when the source had
// no top-level assignment.
func (a *Artifact) Target() string { return a.target }

// Fallback reports whether the lenient parser produced the tree.
func (a *Artifact) Fallback() bool { return a.fallback }

// Eval executes the artifact against the given inputs. Declared constraints
// are checked before any arithmetic runs, so a violation never produces a
// partial evaluation. The context deadline and the step budget both bound
// execution time.
func (a *Artifact) Eval(ctx context.Context, inputs map[string]float64) (float64, error) {
	for _, v := range a.vars {
		val, ok := inputs[v.Name]
		if !ok {
			// A declared assignment target never appears in the tree and
			// needs no input.
			if !a.referenced[v.Name] {
				continue
			}
			if v.Default == nil {
				return 0, &fault.ValidationError{
					Variable: v.Name,
					Reason:   "required input missing",
				}
			}
			val = *v.Default
		}
		if v.Type == model.VarInt && val != math.Trunc(val) {
			return 0, &fault.ValidationError{
				Variable: v.Name,
				Reason:   fmt.Sprintf("value %g is not an integer", val),
			}
		}
		if !v.Constraint.Contains(val) {
			return 0, &fault.ValidationError{
				Variable: v.Name,
				Reason:   fmt.Sprintf("value %g outside admissible range %s", val, v.Constraint.Describe()),
			}
		}
	}

	// Copy so defaults and summation indexes never leak into the caller's
	// map.
	bound := make(map[string]float64, len(a.vars))
	for _, v := range a.vars {
		if val, ok := inputs[v.Name]; ok {
			bound[v.Name] = val
		} else if v.Default != nil {
			bound[v.Name] = *v.Default
		}
	}
	for k, v := range inputs {
		if _, ok := bound[k]; !ok {
			bound[k] = v
		}
	}

	st := &evalState{ctx: ctx, inputs: bound, budget: a.stepBudget}
	out, err := a.root.eval(st)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, &fault.ValidationError{Reason: "result is not finite"}
	}
	return out, nil
}

// CheckStructure verifies the tree references only declared variables. It is
// the structural half of validation: a failure here is fatal for the
// candidate.
func (a *Artifact) CheckStructure() error {
	declared := make(map[string]bool, len(a.vars))
	for _, v := range a.vars {
		declared[v.Name] = true
	}
	undeclared := collectUndeclared(a.root, declared, nil, map[string]bool{})
	if len(undeclared) > 0 {
		return &fault.ValidationError{
			Variable:   undeclared[0],
			Reason:     "expression references undeclared variable",
			Structural: true,
		}
	}
	return nil
}

// collectReferenced walks the tree and records every free variable name.
func collectReferenced(n node, acc map[string]bool, bound map[string]bool) map[string]bool {
	switch t := n.(type) {
	case *varNode:
		if !bound[t.name] {
			acc[t.name] = true
		}
	case *binaryNode:
		collectReferenced(t.left, acc, bound)
		collectReferenced(t.right, acc, bound)
	case *unaryNode:
		collectReferenced(t.child, acc, bound)
	case *callNode:
		for _, a := range t.args {
			collectReferenced(a, acc, bound)
		}
	case *sumNode:
		collectReferenced(t.lo, acc, bound)
		collectReferenced(t.hi, acc, bound)
		inner := map[string]bool{t.index: true}
		for k := range bound {
			inner[k] = true
		}
		collectReferenced(t.body, acc, inner)
	}
	return acc
}

func collectUndeclared(n node, declared map[string]bool, acc []string, bound map[string]bool) []string {
	switch t := n.(type) {
	case *varNode:
		if !declared[t.name] && !bound[t.name] {
			acc = append(acc, t.name)
		}
	case *binaryNode:
		acc = collectUndeclared(t.left, declared, acc, bound)
		acc = collectUndeclared(t.right, declared, acc, bound)
	case *unaryNode:
		acc = collectUndeclared(t.child, declared, acc, bound)
	case *callNode:
		for _, a := range t.args {
			acc = collectUndeclared(a, declared, acc, bound)
		}
	case *sumNode:
		acc = collectUndeclared(t.lo, declared, acc, bound)
		acc = collectUndeclared(t.hi, declared, acc, bound)
		inner := map[string]bool{t.index: true}
		for k := range bound {
			inner[k] = true
		}
		acc = collectUndeclared(t.body, declared, acc, inner)
	}
	return acc
}
