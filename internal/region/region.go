// Package region consolidates overlapping and adjacent math-region detections
// on a page into single candidate regions.
package region

import (
	"sort"

	"github.com/kactuary/formula-extract/internal/model"
)

// Options control when two detections are considered the same region.
type Options struct {
	// MergeIoU is the intersection-over-union above which two boxes merge.
	MergeIoU float64
	// MergeGapPx merges non-overlapping boxes whose edge gap is at most this
	// many pixels. Multi-line formulas are detected as stacked boxes with a
	// small vertical gap.
	MergeGapPx float64
}

// Consolidate merges raw detections into candidate regions. Merged regions
// take the union bounding box, the maximum confidence, and the concatenation
// of contributing method tags. Output is ordered top-to-bottom, then
// left-to-right, so downstream processing follows reading order.
func Consolidate(raw []model.Region, opts Options) []model.Region {
	if len(raw) == 0 {
		return nil
	}

	merged := make([]model.Region, len(raw))
	copy(merged, raw)

	// Repeated pairwise merging until a fixed point. Detection counts per
	// page are small, so the quadratic scan is fine.
	for {
		changed := false
		for i := 0; i < len(merged) && !changed; i++ {
			for j := i + 1; j < len(merged); j++ {
				if !shouldMerge(merged[i], merged[j], opts) {
					continue
				}
				merged[i] = merge(merged[i], merged[j])
				merged = append(merged[:j], merged[j+1:]...)
				changed = true
				break
			}
		}
		if !changed {
			break
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].BBox.Y1 != merged[j].BBox.Y1 {
			return merged[i].BBox.Y1 < merged[j].BBox.Y1
		}
		return merged[i].BBox.X1 < merged[j].BBox.X1
	})

	return merged
}

func shouldMerge(a, b model.Region, opts Options) bool {
	if a.BBox.IoU(b.BBox) > opts.MergeIoU {
		return true
	}
	if opts.MergeGapPx > 0 && a.BBox.Gap(b.BBox) <= opts.MergeGapPx {
		return true
	}
	return false
}

func merge(a, b model.Region) model.Region {
	out := model.Region{
		BBox:       a.BBox.Union(b.BBox),
		Confidence: a.Confidence,
	}
	if b.Confidence > out.Confidence {
		out.Confidence = b.Confidence
	}
	out.Methods = appendUnique(a.Methods, b.Methods...)
	return out
}

func appendUnique(dst []string, add ...string) []string {
	for _, m := range add {
		seen := false
		for _, have := range dst {
			if have == m {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, m)
		}
	}
	return dst
}
