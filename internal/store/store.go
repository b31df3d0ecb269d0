package store

import (
	"context"
	"time"

	"github.com/kactuary/formula-extract/internal/model"
)

// FormulaFilter specifies criteria for searching formulas.
type FormulaFilter struct {
	Category      model.Category `json:"category,omitempty"`
	Query         string         `json:"query,omitempty"` // substring of the expression
	MinConfidence float64        `json:"min_confidence,omitempty"`
	DocumentID    string         `json:"document_id,omitempty"`
	Limit         int            `json:"limit,omitempty"`
	Offset        int            `json:"offset,omitempty"`
}

// ExportBundle is the portable snapshot format for a repository.
type ExportBundle struct {
	ExportDate    time.Time          `json:"export_date"`
	TotalFormulas int                `json:"total_formulas"`
	Formulas      []model.Formula    `json:"formulas"`
	Dependencies  []model.Dependency `json:"dependencies,omitempty"`
	Documents     []model.Document   `json:"documents,omitempty"`
}

// Stats summarizes repository contents.
type Stats struct {
	TotalFormulas   int            `json:"total_formulas"`
	ByCategory      map[string]int `json:"by_category"`
	AvgConfidence   float64        `json:"avg_confidence"`
	TotalDocuments  int            `json:"total_documents"`
	TotalExecutions int            `json:"total_executions"`
	SuccessRate     float64        `json:"success_rate"`
}

// Store defines the persistence interface for the formula repository.
type Store interface {
	// Formulas
	UpsertFormula(ctx context.Context, f model.Formula) (created bool, err error)
	GetFormula(ctx context.Context, id string) (*model.Formula, error)
	SearchFormulas(ctx context.Context, filter FormulaFilter) ([]model.Formula, error)
	DeleteFormula(ctx context.Context, id string) error

	// Dependencies
	AddDependency(ctx context.Context, dep model.Dependency) error
	ListDependencies(ctx context.Context, formulaID string) ([]model.Dependency, error)
	ListDependents(ctx context.Context, formulaID string) ([]model.Dependency, error)

	// Execution audit
	RecordExecution(ctx context.Context, rec model.ExecutionRecord) error
	GetExecutionHistory(ctx context.Context, formulaID string, limit int) ([]model.ExecutionRecord, error)

	// Documents
	SaveDocument(ctx context.Context, doc model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)

	// Maintenance
	Export(ctx context.Context) (*ExportBundle, error)
	Import(ctx context.Context, bundle *ExportBundle) (int, error)
	IntegrityCheck(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*Stats, error)
	CleanupExecutions(ctx context.Context, olderThan time.Duration) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
