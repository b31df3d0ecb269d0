package fault

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestKindOf_ClassifiesThroughWrapping(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{&RecognitionFailure{Page: 1, Reason: "empty"}, KindRecognition},
		{&NormalizationError{Original: "x(", Reason: "unbalanced"}, KindNormalization},
		{&CompilationError{Expression: "+", Reason: "no parse"}, KindCompilation},
		{&ValidationError{Reason: "division by zero"}, KindValidation},
		{&StorageError{Op: "add dependency", Reason: "missing endpoint"}, KindStorage},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, KindOf(c.err))
		// Classification survives an eris wrap.
		assert.Equal(t, c.want, KindOf(eris.Wrap(c.err, "outer context")))
	}

	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, Kind(""), KindOf(eris.New("unclassified")))
}

func TestIsStructural(t *testing.T) {
	assert.True(t, IsStructural(&ValidationError{Reason: "undeclared", Structural: true}))
	assert.False(t, IsStructural(&ValidationError{Reason: "timeout", Timeout: true}))
	assert.False(t, IsStructural(eris.New("other")))
}

func TestValidationError_MessageNamesVariable(t *testing.T) {
	err := &ValidationError{Variable: "q_x", Reason: "value 1.5 outside admissible range [0, 1]"}

	assert.Contains(t, err.Error(), "q_x")
	assert.Contains(t, err.Error(), "[0, 1]")
}
