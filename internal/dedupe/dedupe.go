// Package dedupe folds formulas with the same canonical expression into one
// record within a run. The repository applies the same rule across runs, so
// both layers agree on identity.
package dedupe

import (
	"github.com/kactuary/formula-extract/internal/model"
)

// Deduper accumulates formulas keyed by canonical expression, merging
// provenance and keeping the best confidence. Insertion order of first
// occurrence is preserved.
type Deduper struct {
	byKey map[string]*model.Formula
	order []string
	// merged counts additions that folded into an existing record.
	merged int
}

func New() *Deduper {
	return &Deduper{byKey: make(map[string]*model.Formula)}
}

// Add folds a formula into the set. Duplicate expressions merge provenance
// and warnings, the higher-confidence sighting becomes the representative,
// and the repaired flag survives only if every sighting needed repair.
func (d *Deduper) Add(f model.Formula) {
	key := model.CanonicalKey(f.Expression)

	existing, ok := d.byKey[key]
	if !ok {
		cp := f
		d.byKey[key] = &cp
		d.order = append(d.order, key)
		return
	}

	d.merged++
	provenance := append(existing.Provenance, f.Provenance...)
	warnings := appendNew(existing.Warnings, f.Warnings)
	repaired := existing.Repaired && f.Repaired

	// Ties keep the first-seen representative.
	if f.Confidence > existing.Confidence {
		*existing = f
	}
	existing.Provenance = provenance
	existing.Warnings = warnings
	existing.Repaired = repaired
}

// Formulas returns the deduplicated set in first-seen order.
func (d *Deduper) Formulas() []model.Formula {
	out := make([]model.Formula, 0, len(d.order))
	for _, key := range d.order {
		out = append(out, *d.byKey[key])
	}
	return out
}

// Merged reports how many additions folded into existing records.
func (d *Deduper) Merged() int { return d.merged }

func appendNew(dst, add []string) []string {
	for _, w := range add {
		dup := false
		for _, have := range dst {
			if have == w {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, w)
		}
	}
	return dst
}
