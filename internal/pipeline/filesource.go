package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/kactuary/formula-extract/internal/model"
)

// recognitionEntry is one raw detection in a results file, together with the
// recognizer outputs collected for it.
type recognitionEntry struct {
	Page       int                      `json:"page"`
	BBox       model.BBox               `json:"bbox"`
	Confidence float64                  `json:"confidence"`
	Method     string                   `json:"method"`
	Outputs    []model.RecognizerOutput `json:"outputs"`
	Context    string                   `json:"context,omitempty"`
}

// resultsFile is the on-disk format produced by the upstream recognition
// stage.
type resultsFile struct {
	DocumentID string             `json:"document_id"`
	Filename   string             `json:"filename"`
	Pages      int                `json:"pages"`
	Regions    []recognitionEntry `json:"regions"`
}

// FileSource serves pre-recognized results from a JSON file, so extraction
// runs offline against recognizer output captured elsewhere.
type FileSource struct {
	doc     resultsFile
	entries map[int][]recognitionEntry
}

// NewFileSource loads a recognition results file.
func NewFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "filesource: read")
	}
	var doc resultsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "filesource: parse")
	}
	if doc.DocumentID == "" {
		return nil, eris.New("filesource: document_id is required")
	}

	entries := make(map[int][]recognitionEntry)
	maxPage := doc.Pages
	for _, e := range doc.Regions {
		entries[e.Page] = append(entries[e.Page], normalizeEntry(e))
		if e.Page > maxPage {
			maxPage = e.Page
		}
	}
	doc.Pages = maxPage

	return &FileSource{doc: doc, entries: entries}, nil
}

// normalizeEntry maps recognizer tags from the capture tool's vocabulary to
// the canonical method set. Tags outside that vocabulary pass through
// verbatim so a configured ensemble weight can still reach them.
func normalizeEntry(e recognitionEntry) recognitionEntry {
	for i := range e.Outputs {
		if m := model.ParseMethod(string(e.Outputs[i].Method)); m != model.MethodUnknown {
			e.Outputs[i].Method = m
		}
	}
	return e
}

func (s *FileSource) DocumentID() string { return s.doc.DocumentID }
func (s *FileSource) Filename() string   { return s.doc.Filename }
func (s *FileSource) Pages() int         { return s.doc.Pages }

func (s *FileSource) Detections(_ context.Context, page int) ([]model.Region, error) {
	var out []model.Region
	for _, e := range s.entries[page] {
		method := e.Method
		if method == "" {
			method = "unknown"
		}
		out = append(out, model.Region{
			BBox:       e.BBox,
			Confidence: e.Confidence,
			Methods:    []string{method},
		})
	}
	return out, nil
}

// Recognize gathers the outputs of every raw entry overlapping the
// consolidated region.
func (s *FileSource) Recognize(_ context.Context, page int, r model.Region) ([]model.RecognizerOutput, error) {
	var out []model.RecognizerOutput
	for _, e := range s.entries[page] {
		if e.BBox.IoU(r.BBox) > 0 {
			out = append(out, e.Outputs...)
		}
	}
	return out, nil
}

// Context concatenates the context snippets of the overlapping entries.
func (s *FileSource) Context(page int, r model.Region) string {
	var parts []string
	for _, e := range s.entries[page] {
		if e.Context != "" && e.BBox.IoU(r.BBox) > 0 {
			parts = append(parts, e.Context)
		}
	}
	return strings.Join(parts, "\n")
}
