package region

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kactuary/formula-extract/internal/model"
)

var opts = Options{MergeIoU: 0.3, MergeGapPx: 10}

func TestConsolidate_MergesOverlappingDetections(t *testing.T) {
	raw := []model.Region{
		{BBox: model.BBox{X1: 0, Y1: 0, X2: 100, Y2: 20}, Confidence: 0.8, Methods: []string{"mlrecognizer"}},
		{BBox: model.BBox{X1: 10, Y1: 2, X2: 110, Y2: 22}, Confidence: 0.9, Methods: []string{"ocr"}},
	}

	out := Consolidate(raw, opts)

	assert.Len(t, out, 1)
	assert.Equal(t, model.BBox{X1: 0, Y1: 0, X2: 110, Y2: 22}, out[0].BBox)
	assert.Equal(t, 0.9, out[0].Confidence)
	assert.ElementsMatch(t, []string{"mlrecognizer", "ocr"}, out[0].Methods)
}

func TestConsolidate_MergesAdjacentLinesWithinGap(t *testing.T) {
	// Two stacked boxes 6px apart: a split multi-line formula.
	raw := []model.Region{
		{BBox: model.BBox{X1: 0, Y1: 0, X2: 200, Y2: 30}, Confidence: 0.7, Methods: []string{"mlrecognizer"}},
		{BBox: model.BBox{X1: 0, Y1: 36, X2: 200, Y2: 60}, Confidence: 0.75, Methods: []string{"mlrecognizer"}},
	}

	out := Consolidate(raw, opts)

	assert.Len(t, out, 1)
	assert.Equal(t, model.BBox{X1: 0, Y1: 0, X2: 200, Y2: 60}, out[0].BBox)
}

func TestConsolidate_KeepsDistantRegionsSeparate(t *testing.T) {
	raw := []model.Region{
		{BBox: model.BBox{X1: 0, Y1: 300, X2: 100, Y2: 320}, Confidence: 0.8},
		{BBox: model.BBox{X1: 0, Y1: 0, X2: 100, Y2: 20}, Confidence: 0.9},
	}

	out := Consolidate(raw, opts)

	assert.Len(t, out, 2)
	// Reading order: top box first.
	assert.Equal(t, 0.0, out[0].BBox.Y1)
	assert.Equal(t, 300.0, out[1].BBox.Y1)
}

func TestConsolidate_ChainMergesTransitively(t *testing.T) {
	// A overlaps B, B overlaps C, A and C are disjoint. All three must fold
	// into one region.
	raw := []model.Region{
		{BBox: model.BBox{X1: 0, Y1: 0, X2: 50, Y2: 20}},
		{BBox: model.BBox{X1: 30, Y1: 0, X2: 80, Y2: 20}},
		{BBox: model.BBox{X1: 60, Y1: 0, X2: 110, Y2: 20}},
	}

	out := Consolidate(raw, Options{MergeIoU: 0.1})

	assert.Len(t, out, 1)
	assert.Equal(t, model.BBox{X1: 0, Y1: 0, X2: 110, Y2: 20}, out[0].BBox)
}

func TestConsolidate_Empty(t *testing.T) {
	assert.Nil(t, Consolidate(nil, opts))
}
