package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kactuary/formula-extract/internal/config"
	"github.com/kactuary/formula-extract/internal/fault"
	"github.com/kactuary/formula-extract/internal/model"
)

func TestSelect_WeightedScoreWins(t *testing.T) {
	r := NewRegistry(config.EnsembleConfig{})

	// 0.9*0.6 = 0.54 beats 0.95*0.4 = 0.38 despite the lower raw confidence.
	out, err := r.Select(model.Candidate{
		Outputs: []model.RecognizerOutput{
			{Expression: `P = M_x / N_x`, Confidence: 0.95, Method: model.MethodOCR},
			{Expression: `P = \frac{M_x}{N_x}`, Confidence: 0.9, Method: model.MethodMLRecognizer},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, model.MethodMLRecognizer, out.Method)
}

func TestSelect_TieBreaksByPrecedence(t *testing.T) {
	r := NewRegistry(config.EnsembleConfig{
		Weights: map[string]float64{"mlrecognizer": 0.5, "ocr": 0.5},
	})

	out, err := r.Select(model.Candidate{
		Outputs: []model.RecognizerOutput{
			{Expression: "a", Confidence: 0.8, Method: model.MethodOCR},
			{Expression: "b", Confidence: 0.8, Method: model.MethodMLRecognizer},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, model.MethodMLRecognizer, out.Method)
}

func TestSelect_ManualOverridesEverything(t *testing.T) {
	r := NewRegistry(config.EnsembleConfig{})

	out, err := r.Select(model.Candidate{
		Outputs: []model.RecognizerOutput{
			{Expression: "machine", Confidence: 1.0, Method: model.MethodMLRecognizer},
			{Expression: "human", Confidence: 0.7, Method: model.MethodManual},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "human", out.Expression)
}

func TestSelect_NoUsableOutputIsRecognitionFailure(t *testing.T) {
	r := NewRegistry(config.EnsembleConfig{})

	_, err := r.Select(model.Candidate{
		Page: 3,
		Outputs: []model.RecognizerOutput{
			{Expression: "", Confidence: 0.9, Method: model.MethodMLRecognizer},
		},
	})

	require.Error(t, err)
	assert.Equal(t, fault.KindRecognition, fault.KindOf(err))

	var rf *fault.RecognitionFailure
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, 3, rf.Page)
}

func TestNewRegistry_ConfigOverridesDefaults(t *testing.T) {
	r := NewRegistry(config.EnsembleConfig{
		Weights: map[string]float64{"ocr": 0.9},
	})

	assert.Equal(t, 0.9, r.Weight(model.MethodOCR))
	assert.Equal(t, 0.6, r.Weight(model.MethodMLRecognizer))
	assert.Zero(t, r.Weight(model.RecognitionMethod("nonexistent")))
}
