package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kactuary/formula-extract/internal/fault"
	"github.com/kactuary/formula-extract/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func premiumFormula() model.Formula {
	expr := `P = \frac{M_x}{N_x}`
	return model.Formula{
		ID:         model.FormulaID(expr),
		Expression: expr,
		Category:   model.CategoryPremium,
		Confidence: 0.8,
		Variables: []model.Variable{
			{Name: "M_x", Type: model.VarReal, Constraint: model.Constraint{Min: model.Ptr(0)}},
			{Name: "N_x", Type: model.VarReal, Constraint: model.Constraint{Min: model.Ptr(0)}},
			{Name: "P", Type: model.VarReal},
		},
		Provenance: []model.Provenance{{
			DocumentID: "doc-1", Page: 3,
			Method: model.MethodMLRecognizer, Confidence: 0.9,
		}},
	}
}

func TestUpsertFormula_InsertThenMerge(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.UpsertFormula(ctx, premiumFormula())
	require.NoError(t, err)
	assert.True(t, created)

	// Second sighting: lower confidence, new provenance.
	again := premiumFormula()
	again.Confidence = 0.6
	again.Provenance = []model.Provenance{{DocumentID: "doc-2", Page: 7, Method: model.MethodOCR, Confidence: 0.6}}

	created, err = st.UpsertFormula(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := st.GetFormula(ctx, again.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.8, got.Confidence) // maximum wins
	assert.Len(t, got.Provenance, 2)
	assert.Len(t, got.Variables, 3)
}

func TestUpsertFormula_ReplacesVariablesWholesale(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f := premiumFormula()
	_, err := st.UpsertFormula(ctx, f)
	require.NoError(t, err)

	f.Variables = []model.Variable{{Name: "M_x", Type: model.VarReal}}
	_, err = st.UpsertFormula(ctx, f)
	require.NoError(t, err)

	got, err := st.GetFormula(ctx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Variables, 1)
}

func TestGetFormula_MissingIsNil(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetFormula(context.Background(), "nope")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetFormula_CachedReadsAreIsolated(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f := premiumFormula()
	_, err := st.UpsertFormula(ctx, f)
	require.NoError(t, err)

	first, err := st.GetFormula(ctx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Mutating a returned formula must not leak into later cache hits.
	first.Variables[0].Name = "corrupted"
	first.Provenance[0].DocumentID = "corrupted"
	first.Warnings = append(first.Warnings, "corrupted")

	second, err := st.GetFormula(ctx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "M_x", second.Variables[0].Name)
	assert.Equal(t, "doc-1", second.Provenance[0].DocumentID)
	assert.Empty(t, second.Warnings)
}

func TestSearchFormulas_Filters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpsertFormula(ctx, premiumFormula())
	require.NoError(t, err)

	reserve := model.Formula{
		ID:         model.FormulaID(`V_t = A_x`),
		Expression: `V_t = A_x`,
		Category:   model.CategoryReserve,
		Confidence: 0.5,
		Provenance: []model.Provenance{{DocumentID: "doc-9", Page: 1}},
	}
	_, err = st.UpsertFormula(ctx, reserve)
	require.NoError(t, err)

	byCategory, err := st.SearchFormulas(ctx, FormulaFilter{Category: model.CategoryPremium})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, model.CategoryPremium, byCategory[0].Category)
	assert.Len(t, byCategory[0].Variables, 3)

	byConfidence, err := st.SearchFormulas(ctx, FormulaFilter{MinConfidence: 0.7})
	require.NoError(t, err)
	assert.Len(t, byConfidence, 1)

	byQuery, err := st.SearchFormulas(ctx, FormulaFilter{Query: `\frac`})
	require.NoError(t, err)
	assert.Len(t, byQuery, 1)

	byDocument, err := st.SearchFormulas(ctx, FormulaFilter{DocumentID: "doc-9"})
	require.NoError(t, err)
	assert.Len(t, byDocument, 1)
	assert.Equal(t, model.CategoryReserve, byDocument[0].Category)
}

func TestAddDependency_MissingEndpointIsStorageError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f := premiumFormula()
	_, err := st.UpsertFormula(ctx, f)
	require.NoError(t, err)

	err = st.AddDependency(ctx, model.Dependency{FromID: f.ID, ToID: "ghost", Kind: model.DepUses})

	require.Error(t, err)
	assert.Equal(t, fault.KindStorage, fault.KindOf(err))

	// The failed edge must leave no trace.
	issues, err := st.IntegrityCheck(ctx)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestAddDependency_ValidEdgeAndListing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := premiumFormula()
	b := model.Formula{
		ID:         model.FormulaID(`N_x = D_x + N_{x+1}`),
		Expression: `N_x = D_x + N_{x+1}`,
		Category:   model.CategoryInsurance,
		Confidence: 0.7,
		Provenance: []model.Provenance{{Page: 1}},
	}
	_, err := st.UpsertFormula(ctx, a)
	require.NoError(t, err)
	_, err = st.UpsertFormula(ctx, b)
	require.NoError(t, err)

	require.NoError(t, st.AddDependency(ctx, model.Dependency{FromID: a.ID, ToID: b.ID, Kind: model.DepUses}))
	// Idempotent.
	require.NoError(t, st.AddDependency(ctx, model.Dependency{FromID: a.ID, ToID: b.ID, Kind: model.DepUses}))

	deps, err := st.ListDependencies(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, b.ID, deps[0].ToID)

	dependents, err := st.ListDependents(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, dependents, 1)
	assert.Equal(t, a.ID, dependents[0].FromID)
}

func TestAddDependency_SelfEdgeRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f := premiumFormula()
	_, err := st.UpsertFormula(ctx, f)
	require.NoError(t, err)

	err = st.AddDependency(ctx, model.Dependency{FromID: f.ID, ToID: f.ID, Kind: model.DepRelated})

	assert.Equal(t, fault.KindStorage, fault.KindOf(err))
}

func TestDeleteFormula_BlockedByDependents(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := premiumFormula()
	b := model.Formula{
		ID:         model.FormulaID(`i = 0.025`),
		Expression: `i = 0.025`,
		Category:   model.CategoryInterest,
		Confidence: 0.9,
		Provenance: []model.Provenance{{Page: 2}},
	}
	_, err := st.UpsertFormula(ctx, a)
	require.NoError(t, err)
	_, err = st.UpsertFormula(ctx, b)
	require.NoError(t, err)
	require.NoError(t, st.AddDependency(ctx, model.Dependency{FromID: a.ID, ToID: b.ID, Kind: model.DepUses}))

	err = st.DeleteFormula(ctx, b.ID)
	assert.Equal(t, fault.KindStorage, fault.KindOf(err))

	// Deleting the dependent first unblocks the target.
	require.NoError(t, st.DeleteFormula(ctx, a.ID))
	require.NoError(t, st.DeleteFormula(ctx, b.ID))

	issues, err := st.IntegrityCheck(ctx)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestRecordExecution_RequiresFormula(t *testing.T) {
	st := newTestStore(t)

	err := st.RecordExecution(context.Background(), model.ExecutionRecord{
		FormulaID: "ghost",
		Inputs:    map[string]float64{"x": 1},
		Success:   true,
	})

	assert.Equal(t, fault.KindStorage, fault.KindOf(err))
}

func TestRecordExecution_HistoryRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f := premiumFormula()
	_, err := st.UpsertFormula(ctx, f)
	require.NoError(t, err)

	result := 0.1
	require.NoError(t, st.RecordExecution(ctx, model.ExecutionRecord{
		FormulaID: f.ID,
		Inputs:    map[string]float64{"M_x": 1000, "N_x": 10000},
		Result:    &result,
		Success:   true,
		LatencyMS: 2,
	}))
	require.NoError(t, st.RecordExecution(ctx, model.ExecutionRecord{
		FormulaID: f.ID,
		Inputs:    map[string]float64{"N_x": 0},
		Error:     "division by zero",
		Success:   false,
	}))

	history, err := st.GetExecutionHistory(ctx, f.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	var successes int
	for _, rec := range history {
		if rec.Success {
			successes++
			require.NotNil(t, rec.Result)
			assert.Equal(t, 0.1, *rec.Result)
		} else {
			assert.Equal(t, "division by zero", rec.Error)
		}
	}
	assert.Equal(t, 1, successes)
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := newTestStore(t)
	ctx := context.Background()

	a := premiumFormula()
	b := model.Formula{
		ID:         model.FormulaID(`q_x = d_x / l_x`),
		Expression: `q_x = d_x / l_x`,
		Category:   model.CategoryMortality,
		Confidence: 0.75,
		Provenance: []model.Provenance{{DocumentID: "doc-1", Page: 5}},
	}
	_, err := src.UpsertFormula(ctx, a)
	require.NoError(t, err)
	_, err = src.UpsertFormula(ctx, b)
	require.NoError(t, err)
	require.NoError(t, src.AddDependency(ctx, model.Dependency{FromID: a.ID, ToID: b.ID, Kind: model.DepRelated}))
	require.NoError(t, src.SaveDocument(ctx, model.Document{ID: "doc-1", Filename: "terms.pdf", Pages: 40}))

	bundle, err := src.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, bundle.TotalFormulas)
	assert.Len(t, bundle.Dependencies, 1)
	assert.Len(t, bundle.Documents, 1)

	dst := newTestStore(t)
	n, err := dst.Import(ctx, bundle)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := dst.GetFormula(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.Expression, got.Expression)
	assert.Len(t, got.Variables, 3)

	deps, err := dst.ListDependencies(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, deps, 1)

	issues, err := dst.IntegrityCheck(ctx)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestExport_ToleratesNullDocumentMetadata(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Externally edited databases can hold NULL metadata; export must not
	// choke on it.
	_, err := st.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, pages, metadata) VALUES ('doc-null', 'x.pdf', 1, NULL)`)
	require.NoError(t, err)

	bundle, err := st.Export(ctx)
	require.NoError(t, err)
	require.Len(t, bundle.Documents, 1)
	assert.Equal(t, "doc-null", bundle.Documents[0].ID)
	assert.Nil(t, bundle.Documents[0].Metadata)
}

func TestStats_Summarizes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f := premiumFormula()
	_, err := st.UpsertFormula(ctx, f)
	require.NoError(t, err)
	require.NoError(t, st.SaveDocument(ctx, model.Document{ID: "doc-1", Filename: "a.pdf", Pages: 3}))
	require.NoError(t, st.RecordExecution(ctx, model.ExecutionRecord{FormulaID: f.ID, Inputs: map[string]float64{}, Success: true}))
	require.NoError(t, st.RecordExecution(ctx, model.ExecutionRecord{FormulaID: f.ID, Inputs: map[string]float64{}, Success: false}))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalFormulas)
	assert.Equal(t, 1, stats.ByCategory["premium"])
	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, 2, stats.TotalExecutions)
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 0.8, stats.AvgConfidence, 1e-9)
}

func TestCleanupExecutions_RemovesOldEntries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f := premiumFormula()
	_, err := st.UpsertFormula(ctx, f)
	require.NoError(t, err)

	require.NoError(t, st.RecordExecution(ctx, model.ExecutionRecord{
		FormulaID:  f.ID,
		Inputs:     map[string]float64{},
		Success:    true,
		ExecutedAt: time.Now().UTC().Add(-48 * time.Hour),
	}))
	require.NoError(t, st.RecordExecution(ctx, model.ExecutionRecord{
		FormulaID: f.ID,
		Inputs:    map[string]float64{},
		Success:   true,
	}))

	n, err := st.CleanupExecutions(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	history, err := st.GetExecutionHistory(ctx, f.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSaveDocument_UpsertAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	doc := model.Document{
		ID: "doc-1", Filename: "terms.pdf", Pages: 12,
		Metadata: map[string]string{"insurer": "example"},
	}
	require.NoError(t, st.SaveDocument(ctx, doc))

	doc.Pages = 13
	require.NoError(t, st.SaveDocument(ctx, doc))

	got, err := st.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 13, got.Pages)
	assert.Equal(t, "example", got.Metadata["insurer"])

	missing, err := st.GetDocument(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
