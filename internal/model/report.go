package model

import (
	"sort"
	"time"
)

// Stage names a pipeline phase for failure attribution.
type Stage string

const (
	StageRecognize Stage = "recognize"
	StageNormalize Stage = "normalize"
	StageResolve   Stage = "resolve"
	StageClassify  Stage = "classify"
	StageCompile   Stage = "compile"
	StageValidate  Stage = "validate"
	StageDedupe    Stage = "dedupe"
	StagePersist   Stage = "persist"
)

// Failure is one failure-sink entry. It keeps enough provenance (page, bbox,
// original string) for an operator to inspect the rejected candidate.
type Failure struct {
	Stage      Stage  `json:"stage"`
	Kind       string `json:"kind"`
	Page       int    `json:"page"`
	BBox       BBox   `json:"bbox"`
	Expression string `json:"expression,omitempty"`
	Error      string `json:"error"`
}

// RunReport summarizes one extraction run: stored/merged formula counts,
// warning count, and the failure sink with per-kind totals.
type RunReport struct {
	RunID      string        `json:"run_id"`
	DocumentID string        `json:"document_id"`
	Pages      int           `json:"pages"`
	Candidates int           `json:"candidates"`
	Stored     int           `json:"stored"`
	Merged     int           `json:"merged"`
	Warnings   int           `json:"warnings"`
	Failures   []Failure     `json:"failures,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// AddFailure appends an entry to the failure sink.
func (r *RunReport) AddFailure(f Failure) {
	r.Failures = append(r.Failures, f)
}

// FailureCounts returns per-kind failure totals in kind order.
func (r *RunReport) FailureCounts() map[string]int {
	counts := make(map[string]int, len(r.Failures))
	for _, f := range r.Failures {
		counts[f.Kind]++
	}
	return counts
}

// FailureKinds returns the distinct failure kinds, sorted.
func (r *RunReport) FailureKinds() []string {
	counts := r.FailureCounts()
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
