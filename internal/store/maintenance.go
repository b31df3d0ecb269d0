package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/kactuary/formula-extract/internal/model"
)

// Export snapshots the full repository into a portable bundle.
func (s *SQLiteStore) Export(ctx context.Context) (*ExportBundle, error) {
	formulas, err := s.SearchFormulas(ctx, FormulaFilter{Limit: 1_000_000})
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT formula_id, depends_on, kind FROM formula_dependencies ORDER BY formula_id, depends_on`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: export dependencies")
	}
	defer rows.Close()

	var deps []model.Dependency
	for rows.Next() {
		var d model.Dependency
		if err := rows.Scan(&d.FromID, &d.ToID, (*string)(&d.Kind)); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dependency")
		}
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: export dependencies iterate")
	}

	docs, err := s.listDocuments(ctx)
	if err != nil {
		return nil, err
	}

	return &ExportBundle{
		ExportDate:    time.Now().UTC(),
		TotalFormulas: len(formulas),
		Formulas:      formulas,
		Dependencies:  deps,
		Documents:     docs,
	}, nil
}

// Import merges a bundle into the repository using upsert semantics, then
// replays dependencies. Returns the number of formulas processed.
func (s *SQLiteStore) Import(ctx context.Context, bundle *ExportBundle) (int, error) {
	if bundle == nil {
		return 0, eris.New("sqlite: nil import bundle")
	}

	for _, doc := range bundle.Documents {
		if err := s.SaveDocument(ctx, doc); err != nil {
			return 0, err
		}
	}

	n := 0
	for _, f := range bundle.Formulas {
		if f.ID == "" {
			f.ID = model.FormulaID(f.Expression)
		}
		if _, err := s.UpsertFormula(ctx, f); err != nil {
			return n, err
		}
		n++
	}

	// Edges after vertices, so referential checks pass regardless of
	// bundle ordering.
	for _, d := range bundle.Dependencies {
		if err := s.AddDependency(ctx, d); err != nil {
			return n, err
		}
	}
	return n, nil
}

// IntegrityCheck scans for dangling references and malformed records. An
// empty result means the repository is consistent.
func (s *SQLiteStore) IntegrityCheck(ctx context.Context) ([]string, error) {
	var issues []string

	checks := []struct {
		desc  string
		query string
	}{
		{
			"dependency with missing source formula",
			`SELECT formula_id FROM formula_dependencies d
			 WHERE NOT EXISTS (SELECT 1 FROM formulas f WHERE f.id = d.formula_id)`,
		},
		{
			"dependency with missing target formula",
			`SELECT depends_on FROM formula_dependencies d
			 WHERE NOT EXISTS (SELECT 1 FROM formulas f WHERE f.id = d.depends_on)`,
		},
		{
			"variable with missing formula",
			`SELECT formula_id FROM formula_variables v
			 WHERE NOT EXISTS (SELECT 1 FROM formulas f WHERE f.id = v.formula_id)`,
		},
		{
			"execution with missing formula",
			`SELECT formula_id FROM formula_executions e
			 WHERE NOT EXISTS (SELECT 1 FROM formulas f WHERE f.id = e.formula_id)`,
		},
		{
			"formula with confidence outside [0,1]",
			`SELECT id FROM formulas WHERE confidence < 0 OR confidence > 1`,
		},
		{
			"formula with empty expression",
			`SELECT id FROM formulas WHERE trim(expression) = ''`,
		},
	}

	for _, c := range checks {
		rows, err := s.db.QueryContext(ctx, c.query)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: integrity check %q", c.desc)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "sqlite: scan integrity issue")
			}
			issues = append(issues, fmt.Sprintf("%s: %s", c.desc, id))
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, eris.Wrapf(err, "sqlite: integrity iterate %q", c.desc)
		}
		rows.Close()
	}

	return issues, nil
}

// Stats summarizes the repository.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByCategory: make(map[string]int)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(confidence), 0) FROM formulas`).
		Scan(&st.TotalFormulas, &st.AvgConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats formulas")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM formulas GROUP BY category`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats categories")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cat string
			n   int
		)
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category stat")
		}
		st.ByCategory[cat] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats categories iterate")
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents`).Scan(&st.TotalDocuments); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats documents")
	}

	var succeeded int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM formula_executions`).
		Scan(&st.TotalExecutions, &succeeded)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats executions")
	}
	if st.TotalExecutions > 0 {
		st.SuccessRate = float64(succeeded) / float64(st.TotalExecutions)
	}

	return st, nil
}

// CleanupExecutions deletes audit entries older than the given age and
// returns how many were removed.
func (s *SQLiteStore) CleanupExecutions(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM formula_executions WHERE executed_at < ?`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: cleanup executions")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) listDocuments(ctx context.Context) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, pages, metadata, processed_at FROM documents ORDER BY processed_at`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		var (
			doc      model.Document
			metaJSON sql.NullString
		)
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.Pages, &metaJSON, &doc.ProcessedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			if err := json.Unmarshal([]byte(metaJSON.String), &doc.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal metadata")
			}
		}
		out = append(out, doc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate documents")
}
