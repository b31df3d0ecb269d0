package model

// Region is a consolidated math-region candidate on a page. Methods carries
// the concatenated tags of every detector whose box was merged in.
type Region struct {
	BBox       BBox     `json:"bbox"`
	Confidence float64  `json:"confidence"`
	Methods    []string `json:"methods"`
}

// RecognizerOutput is one recognizer's reading of a region.
type RecognizerOutput struct {
	Expression string            `json:"expression"`
	Confidence float64           `json:"confidence"`
	Method     RecognitionMethod `json:"method"`
}

// Candidate is the ephemeral unit of work flowing through the pipeline: one
// consolidated region plus the recognizer outputs collected for it. It is
// destroyed once resolved into a Formula or routed to the failure sink.
type Candidate struct {
	Page    int
	Region  Region
	Outputs []RecognizerOutput
	Context string // nearby page text used for variable-description hints
}
