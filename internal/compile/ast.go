package compile

import (
	"context"
	"fmt"
	"math"

	"github.com/kactuary/formula-extract/internal/fault"
)

// node is one expression-tree vertex. Evaluation is pure: inputs in, value
// out, with every arithmetic hazard returned as an error.
type node interface {
	eval(st *evalState) (float64, error)
}

// evalState carries the inputs and the safety budget through a single
// evaluation.
type evalState struct {
	ctx    context.Context
	inputs map[string]float64
	steps  int
	budget int
}

// ctxCheckInterval spaces out deadline checks so the common path stays a
// counter increment.
const ctxCheckInterval = 1024

func (st *evalState) step() error {
	st.steps++
	if st.budget > 0 && st.steps > st.budget {
		return &fault.ValidationError{
			Reason:  fmt.Sprintf("step budget of %d exhausted", st.budget),
			Timeout: true,
		}
	}
	if st.steps%ctxCheckInterval == 0 {
		if err := st.ctx.Err(); err != nil {
			return &fault.ValidationError{
				Reason:  "evaluation deadline exceeded",
				Timeout: true,
				Err:     err,
			}
		}
	}
	return nil
}

type numNode struct{ value float64 }

func (n *numNode) eval(st *evalState) (float64, error) {
	if err := st.step(); err != nil {
		return 0, err
	}
	return n.value, nil
}

type varNode struct{ name string }

func (n *varNode) eval(st *evalState) (float64, error) {
	if err := st.step(); err != nil {
		return 0, err
	}
	v, ok := st.inputs[n.name]
	if !ok {
		return 0, &fault.ValidationError{
			Variable: n.name,
			Reason:   "no value bound",
		}
	}
	return v, nil
}

type binaryNode struct {
	op          rune
	left, right node
}

func (n *binaryNode) eval(st *evalState) (float64, error) {
	if err := st.step(); err != nil {
		return 0, err
	}
	l, err := n.left.eval(st)
	if err != nil {
		return 0, err
	}
	r, err := n.right.eval(st)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, &fault.ValidationError{Reason: "division by zero"}
		}
		return l / r, nil
	case '^':
		out := math.Pow(l, r)
		if math.IsNaN(out) || math.IsInf(out, 0) {
			return 0, &fault.ValidationError{
				Reason: fmt.Sprintf("pow(%g, %g) is not finite", l, r),
			}
		}
		return out, nil
	}
	return 0, &fault.ValidationError{Reason: fmt.Sprintf("unknown operator %q", n.op), Structural: true}
}

type unaryNode struct {
	neg   bool
	child node
}

func (n *unaryNode) eval(st *evalState) (float64, error) {
	if err := st.step(); err != nil {
		return 0, err
	}
	v, err := n.child.eval(st)
	if err != nil {
		return 0, err
	}
	if n.neg {
		return -v, nil
	}
	return v, nil
}

type callNode struct {
	fn   string
	args []node
}

func (n *callNode) eval(st *evalState) (float64, error) {
	if err := st.step(); err != nil {
		return 0, err
	}
	vals := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(st)
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}

	switch n.fn {
	case "sqrt":
		if vals[0] < 0 {
			return 0, &fault.ValidationError{Reason: fmt.Sprintf("sqrt of negative value %g", vals[0])}
		}
		return math.Sqrt(vals[0]), nil
	case "exp":
		return math.Exp(vals[0]), nil
	case "ln":
		if vals[0] <= 0 {
			return 0, &fault.ValidationError{Reason: fmt.Sprintf("ln of non-positive value %g", vals[0])}
		}
		return math.Log(vals[0]), nil
	case "log":
		if vals[0] <= 0 {
			return 0, &fault.ValidationError{Reason: fmt.Sprintf("log of non-positive value %g", vals[0])}
		}
		return math.Log10(vals[0]), nil
	case "abs":
		return math.Abs(vals[0]), nil
	case "max":
		out := vals[0]
		for _, v := range vals[1:] {
			out = math.Max(out, v)
		}
		return out, nil
	case "min":
		out := vals[0]
		for _, v := range vals[1:] {
			out = math.Min(out, v)
		}
		return out, nil
	}
	return 0, &fault.ValidationError{Reason: fmt.Sprintf("unknown function %q", n.fn), Structural: true}
}

// sumNode is a bounded summation: sum of body over index from lo to hi. The
// bounds are themselves expressions, so the step budget is the only thing
// standing between a misrecognized bound and an unbounded loop.
type sumNode struct {
	index  string
	lo, hi node
	body   node
}

func (n *sumNode) eval(st *evalState) (float64, error) {
	if err := st.step(); err != nil {
		return 0, err
	}
	lo, err := n.lo.eval(st)
	if err != nil {
		return 0, err
	}
	hi, err := n.hi.eval(st)
	if err != nil {
		return 0, err
	}

	saved, had := st.inputs[n.index]
	defer func() {
		if had {
			st.inputs[n.index] = saved
		} else {
			delete(st.inputs, n.index)
		}
	}()

	var total float64
	for k := math.Floor(lo); k <= hi; k++ {
		if err := st.step(); err != nil {
			return 0, err
		}
		st.inputs[n.index] = k
		v, err := n.body.eval(st)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}
