package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Category is the domain classification of a formula. It drives which
// validator branch runs and which result-sign invariant applies.
type Category string

const (
	CategoryPremium   Category = "premium"
	CategoryReserve   Category = "reserve"
	CategoryMortality Category = "mortality"
	CategoryInterest  Category = "interest"
	CategoryAnnuity   Category = "annuity"
	CategoryInsurance Category = "insurance"
	CategorySurrender Category = "surrender"
	CategoryGeneral   Category = "general"
)

// AllCategories lists the closed category set in classification order.
func AllCategories() []Category {
	return []Category{
		CategoryPremium, CategoryReserve, CategoryMortality, CategoryInterest,
		CategoryAnnuity, CategoryInsurance, CategorySurrender, CategoryGeneral,
	}
}

// VarType is the declared numeric type of a formula input.
type VarType string

const (
	VarInt  VarType = "int"
	VarReal VarType = "real"
)

// Constraint bounds a variable's admissible values. Nil bounds are open.
type Constraint struct {
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	MinExclusive bool     `json:"min_exclusive,omitempty"`
	MaxExclusive bool     `json:"max_exclusive,omitempty"`
}

// Contains reports whether v satisfies the constraint.
func (c Constraint) Contains(v float64) bool {
	if c.Min != nil {
		if c.MinExclusive && v <= *c.Min {
			return false
		}
		if !c.MinExclusive && v < *c.Min {
			return false
		}
	}
	if c.Max != nil {
		if c.MaxExclusive && v >= *c.Max {
			return false
		}
		if !c.MaxExclusive && v > *c.Max {
			return false
		}
	}
	return true
}

// Describe renders the constraint in interval notation for error messages.
func (c Constraint) Describe() string {
	lo, hi := "-inf", "+inf"
	lb, rb := "(", ")"
	if c.Min != nil {
		lo = trimFloat(*c.Min)
		if !c.MinExclusive {
			lb = "["
		}
	}
	if c.Max != nil {
		hi = trimFloat(*c.Max)
		if !c.MaxExclusive {
			rb = "]"
		}
	}
	return lb + lo + ", " + hi + rb
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%g", v)
	return s
}

// Ptr is a convenience for building constraint bounds.
func Ptr(v float64) *float64 { return &v }

// Variable is a named input of a formula. Variables belong to exactly one
// formula and are replaced wholesale when the formula is re-normalized.
type Variable struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Type        VarType    `json:"type"`
	Constraint  Constraint `json:"constraints"`
	Default     *float64   `json:"default,omitempty"`
}

// Provenance records where and how a formula instance was recognized.
type Provenance struct {
	DocumentID string            `json:"document_id,omitempty"`
	Page       int               `json:"page"`
	BBox       BBox              `json:"bbox"`
	Method     RecognitionMethod `json:"method"`
	Confidence float64           `json:"confidence"`
}

// Formula is the canonical, deduplicated, compiled artifact. Its identity is
// a pure function of the normalized expression, so re-extraction of the same
// expression always resolves to the same record.
type Formula struct {
	ID         string       `json:"formula_id"`
	Expression string       `json:"normalized_expression"`
	Category   Category     `json:"category"`
	Confidence float64      `json:"confidence"`
	Repaired   bool         `json:"repaired,omitempty"`
	Variables  []Variable   `json:"variables"`
	Provenance []Provenance `json:"provenance"`
	Warnings   []string     `json:"warnings,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// FormulaID computes the content-hash identity of a normalized expression.
func FormulaID(normalized string) string {
	sum := sha256.Sum256([]byte(CanonicalKey(normalized)))
	return hex.EncodeToString(sum[:])[:16]
}

var singleCharBrace = regexp.MustCompile(`\{([A-Za-z0-9])\}`)

// CanonicalKey reduces an expression to its comparison form: all whitespace
// removed and single-character brace groups unwrapped, so `M_{x}` and `M_x`
// compare equal.
func CanonicalKey(expr string) string {
	out := strings.Join(strings.Fields(expr), "")
	for {
		next := singleCharBrace.ReplaceAllString(out, "$1")
		if next == out {
			return out
		}
		out = next
	}
}

// DependencyKind tags a directed formula-to-formula relation.
type DependencyKind string

const (
	DepUses    DependencyKind = "uses"
	DepExtends DependencyKind = "extends"
	DepRelated DependencyKind = "related"
)

// Dependency is a directed edge between two persisted formulas.
type Dependency struct {
	FromID string         `json:"formula_id"`
	ToID   string         `json:"depends_on"`
	Kind   DependencyKind `json:"kind"`
}

// ExecutionRecord is one append-only audit entry for an artifact evaluation.
type ExecutionRecord struct {
	ID         int64              `json:"id,omitempty"`
	FormulaID  string             `json:"formula_id"`
	Inputs     map[string]float64 `json:"inputs"`
	Result     *float64           `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
	Success    bool               `json:"success"`
	LatencyMS  int64              `json:"latency_ms"`
	ExecutedAt time.Time          `json:"executed_at"`
}

// Document owns zero or more formulas via provenance. Formulas outlive the
// document lifecycle once persisted.
type Document struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	Pages       int               `json:"pages"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ProcessedAt time.Time         `json:"processed_at"`
}
