package model

import "math"

// BBox is an axis-aligned bounding box in page pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b BBox) Width() float64  { return b.X2 - b.X1 }
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection-over-union of two boxes, 0 when disjoint.
func (b BBox) IoU(o BBox) float64 {
	ix1 := math.Max(b.X1, o.X1)
	iy1 := math.Max(b.Y1, o.Y1)
	ix2 := math.Min(b.X2, o.X2)
	iy2 := math.Min(b.Y2, o.Y2)

	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Union returns the smallest box covering both.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		X1: math.Min(b.X1, o.X1),
		Y1: math.Min(b.Y1, o.Y1),
		X2: math.Max(b.X2, o.X2),
		Y2: math.Max(b.Y2, o.Y2),
	}
}

// Gap returns the smallest axis-aligned pixel distance between two disjoint
// boxes. Overlapping boxes have gap 0. Multi-line formulas are often split
// into vertically adjacent OCR blocks, so the consolidator merges boxes whose
// gap falls under a threshold even when IoU is zero.
func (b BBox) Gap(o BBox) float64 {
	dx := math.Max(0, math.Max(o.X1-b.X2, b.X1-o.X2))
	dy := math.Max(0, math.Max(o.Y1-b.Y2, b.Y1-o.Y2))
	return math.Hypot(dx, dy)
}
