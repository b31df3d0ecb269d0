// Package ensemble selects the best recognizer output for a candidate region
// by weighting each recognizer's self-reported confidence with a per-method
// trust factor.
package ensemble

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kactuary/formula-extract/internal/config"
	"github.com/kactuary/formula-extract/internal/fault"
	"github.com/kactuary/formula-extract/internal/model"
)

// DefaultWeights are the trust factors applied when configuration supplies
// none for a method.
var DefaultWeights = map[model.RecognitionMethod]float64{
	model.MethodMLRecognizer: 0.6,
	model.MethodOCR:          0.4,
	model.MethodKorean:       0.5,
	model.MethodManual:       1.0,
}

// Registry holds merged weights and the tie-break precedence order.
type Registry struct {
	weights    map[model.RecognitionMethod]float64
	precedence map[model.RecognitionMethod]int
}

// NewRegistry merges configured weights over the defaults. Unknown method
// tags in the config are accepted verbatim so new recognizers can be weighted
// without a code change.
func NewRegistry(cfg config.EnsembleConfig) *Registry {
	r := &Registry{
		weights:    make(map[model.RecognitionMethod]float64, len(DefaultWeights)),
		precedence: make(map[model.RecognitionMethod]int),
	}
	for m, w := range DefaultWeights {
		r.weights[m] = w
	}
	for tag, w := range cfg.Weights {
		r.weights[model.RecognitionMethod(tag)] = w
	}

	order := cfg.Precedence
	if len(order) == 0 {
		for i, m := range model.AllMethods() {
			r.precedence[m] = i
		}
	} else {
		for i, tag := range order {
			r.precedence[model.RecognitionMethod(tag)] = i
		}
	}
	return r
}

// Weight returns the trust factor for a method. Unlisted methods score zero
// so an unweighted recognizer never wins over a weighted one.
func (r *Registry) Weight(m model.RecognitionMethod) float64 {
	return r.weights[m]
}

// Select picks the highest weighted-score output for the candidate. Outputs
// with empty expressions are skipped. Ties break toward the method with the
// better precedence rank.
func (r *Registry) Select(c model.Candidate) (model.RecognizerOutput, error) {
	var (
		best      model.RecognizerOutput
		bestScore = -1.0
		found     bool
	)

	for _, out := range c.Outputs {
		if out.Expression == "" {
			continue
		}
		score := out.Confidence * r.Weight(out.Method)
		switch {
		case score > bestScore:
			best, bestScore, found = out, score, true
		case score == bestScore && found && r.rank(out.Method) < r.rank(best.Method):
			best = out
		}
	}

	if !found {
		return model.RecognizerOutput{}, &fault.RecognitionFailure{
			Page:   c.Page,
			Reason: fmt.Sprintf("no usable output among %d recognizer results", len(c.Outputs)),
		}
	}

	zap.L().Debug("ensemble selected output",
		zap.String("method", string(best.Method)),
		zap.Float64("confidence", best.Confidence),
		zap.Float64("weighted", bestScore))

	return best, nil
}

func (r *Registry) rank(m model.RecognitionMethod) int {
	if rank, ok := r.precedence[m]; ok {
		return rank
	}
	return len(r.precedence) + 1
}
