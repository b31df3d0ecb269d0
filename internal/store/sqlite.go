package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/kactuary/formula-extract/internal/fault"
	"github.com/kactuary/formula-extract/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Reads of single
// formulas go through an in-process TTL cache; every write invalidates the
// touched entry.
type SQLiteStore struct {
	db    *sql.DB
	cache *gocache.Cache

	// Serializes read-merge-write upserts. SQLite's own locking protects
	// the file; this protects the merge against lost updates.
	upsertMu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, cacheTTL time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &SQLiteStore{
		db:    db,
		cache: gocache.New(cacheTTL, 2*cacheTTL),
	}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS formulas (
	id         TEXT PRIMARY KEY,
	expression TEXT NOT NULL,
	category   TEXT NOT NULL,
	confidence REAL NOT NULL,
	repaired   INTEGER NOT NULL DEFAULT 0,
	provenance TEXT NOT NULL,
	warnings   TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS formula_variables (
	formula_id  TEXT NOT NULL REFERENCES formulas(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	description TEXT,
	type        TEXT NOT NULL,
	constraints TEXT NOT NULL,
	default_val REAL,
	PRIMARY KEY (formula_id, name)
);

CREATE TABLE IF NOT EXISTS formula_dependencies (
	formula_id TEXT NOT NULL REFERENCES formulas(id),
	depends_on TEXT NOT NULL REFERENCES formulas(id),
	kind       TEXT NOT NULL,
	PRIMARY KEY (formula_id, depends_on, kind)
);

CREATE TABLE IF NOT EXISTS formula_executions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	formula_id  TEXT NOT NULL REFERENCES formulas(id),
	inputs      TEXT NOT NULL,
	result      REAL,
	error       TEXT,
	success     INTEGER NOT NULL,
	latency_ms  INTEGER NOT NULL,
	executed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	pages        INTEGER NOT NULL,
	metadata     TEXT,
	processed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_formulas_category ON formulas(category);
CREATE INDEX IF NOT EXISTS idx_formulas_confidence ON formulas(confidence);
CREATE INDEX IF NOT EXISTS idx_dependencies_depends_on ON formula_dependencies(depends_on);
CREATE INDEX IF NOT EXISTS idx_executions_formula_id ON formula_executions(formula_id);
CREATE INDEX IF NOT EXISTS idx_executions_executed_at ON formula_executions(executed_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertFormula inserts a formula or merges it into the existing record with
// the same ID: provenance and warnings append, confidence keeps the maximum,
// variables are replaced wholesale. Dependencies and the execution audit are
// untouched. Returns true when a new record was created.
func (s *SQLiteStore) UpsertFormula(ctx context.Context, f model.Formula) (bool, error) {
	s.upsertMu.Lock()
	defer s.upsertMu.Unlock()

	existing, err := s.getFormulaDirect(ctx, f.ID)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	created := existing == nil

	if existing != nil {
		f.Provenance = append(existing.Provenance, f.Provenance...)
		f.Warnings = mergeStrings(existing.Warnings, f.Warnings)
		if existing.Confidence > f.Confidence {
			f.Confidence = existing.Confidence
		}
		f.CreatedAt = existing.CreatedAt
	} else if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	provJSON, err := json.Marshal(f.Provenance)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal provenance")
	}
	warnJSON, err := json.Marshal(f.Warnings)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal warnings")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO formulas (id, expression, category, confidence, repaired, provenance, warnings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			expression = excluded.expression,
			category   = excluded.category,
			confidence = excluded.confidence,
			repaired   = excluded.repaired,
			provenance = excluded.provenance,
			warnings   = excluded.warnings,
			updated_at = excluded.updated_at`,
		f.ID, f.Expression, string(f.Category), f.Confidence, boolToInt(f.Repaired),
		string(provJSON), string(warnJSON), f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: upsert formula %s", f.ID)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM formula_variables WHERE formula_id = ?`, f.ID); err != nil {
		return false, eris.Wrapf(err, "sqlite: clear variables %s", f.ID)
	}
	for _, v := range f.Variables {
		constrJSON, err := json.Marshal(v.Constraint)
		if err != nil {
			return false, eris.Wrap(err, "sqlite: marshal constraint")
		}
		var dflt sql.NullFloat64
		if v.Default != nil {
			dflt = sql.NullFloat64{Float64: *v.Default, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO formula_variables (formula_id, name, description, type, constraints, default_val)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			f.ID, v.Name, v.Description, string(v.Type), string(constrJSON), dflt,
		); err != nil {
			return false, eris.Wrapf(err, "sqlite: insert variable %s.%s", f.ID, v.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrapf(err, "sqlite: commit upsert %s", f.ID)
	}

	s.cache.Delete(f.ID)
	return created, nil
}

// GetFormula returns the formula with the given ID, nil when absent.
func (s *SQLiteStore) GetFormula(ctx context.Context, id string) (*model.Formula, error) {
	if cached, ok := s.cache.Get(id); ok {
		f := cloneFormula(cached.(model.Formula))
		return &f, nil
	}
	f, err := s.getFormulaDirect(ctx, id)
	if err != nil || f == nil {
		return f, err
	}
	s.cache.SetDefault(id, cloneFormula(*f))
	return f, nil
}

// cloneFormula copies the slice fields so cached values and caller-held
// results never share backing arrays.
func cloneFormula(f model.Formula) model.Formula {
	out := f
	out.Variables = append([]model.Variable(nil), f.Variables...)
	out.Provenance = append([]model.Provenance(nil), f.Provenance...)
	out.Warnings = append([]string(nil), f.Warnings...)
	return out
}

func (s *SQLiteStore) getFormulaDirect(ctx context.Context, id string) (*model.Formula, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, expression, category, confidence, repaired, provenance, warnings, created_at, updated_at
		 FROM formulas WHERE id = ?`, id)

	f, err := scanFormula(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadVariables(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SQLiteStore) loadVariables(ctx context.Context, f *model.Formula) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description, type, constraints, default_val
		 FROM formula_variables WHERE formula_id = ? ORDER BY name`, f.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: load variables %s", f.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			v          model.Variable
			constrJSON string
			dflt       sql.NullFloat64
			desc       sql.NullString
		)
		if err := rows.Scan(&v.Name, &desc, (*string)(&v.Type), &constrJSON, &dflt); err != nil {
			return eris.Wrap(err, "sqlite: scan variable")
		}
		v.Description = desc.String
		if err := json.Unmarshal([]byte(constrJSON), &v.Constraint); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal constraint")
		}
		if dflt.Valid {
			val := dflt.Float64
			v.Default = &val
		}
		f.Variables = append(f.Variables, v)
	}
	return eris.Wrap(rows.Err(), "sqlite: iterate variables")
}

func (s *SQLiteStore) SearchFormulas(ctx context.Context, filter FormulaFilter) ([]model.Formula, error) {
	query := `SELECT id, expression, category, confidence, repaired, provenance, warnings, created_at, updated_at
	          FROM formulas WHERE 1=1`
	var args []any

	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	if filter.Query != "" {
		query += ` AND expression LIKE ?`
		args = append(args, "%"+filter.Query+"%")
	}
	if filter.MinConfidence > 0 {
		query += ` AND confidence >= ?`
		args = append(args, filter.MinConfidence)
	}
	if filter.DocumentID != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(provenance) WHERE json_extract(value, '$.document_id') = ?)`
		args = append(args, filter.DocumentID)
	}
	query += ` ORDER BY confidence DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search formulas")
	}
	defer rows.Close()

	var out []model.Formula
	for rows.Next() {
		f, err := scanFormula(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: search iterate")
	}

	for i := range out {
		if err := s.loadVariables(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) DeleteFormula(ctx context.Context, id string) error {
	// Dependents keep the repository consistent: a formula others depend on
	// cannot be removed.
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM formula_dependencies WHERE depends_on = ?`, id).Scan(&n)
	if err != nil {
		return eris.Wrapf(err, "sqlite: count dependents %s", id)
	}
	if n > 0 {
		return &fault.StorageError{
			Op:     "delete formula",
			Reason: fmt.Sprintf("%d formulas depend on %s", n, id),
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM formula_dependencies WHERE formula_id = ?`,
		`DELETE FROM formula_executions WHERE formula_id = ?`,
		`DELETE FROM formula_variables WHERE formula_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return eris.Wrapf(err, "sqlite: delete formula %s", id)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM formulas WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete formula %s", id)
	}
	if err := checkRowsAffected(res, "formula", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "sqlite: commit delete %s", id)
	}

	s.cache.Delete(id)
	return nil
}

// AddDependency records a directed edge. Both endpoints must already exist;
// a missing endpoint is a StorageError and the edge is not written.
func (s *SQLiteStore) AddDependency(ctx context.Context, dep model.Dependency) error {
	for _, id := range []string{dep.FromID, dep.ToID} {
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM formulas WHERE id = ?`, id).Scan(&n)
		if err != nil {
			return eris.Wrapf(err, "sqlite: check formula %s", id)
		}
		if n == 0 {
			return &fault.StorageError{
				Op:     "add dependency",
				Reason: fmt.Sprintf("formula %s does not exist", id),
			}
		}
	}
	if dep.FromID == dep.ToID {
		return &fault.StorageError{
			Op:     "add dependency",
			Reason: "self-dependency is not allowed",
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO formula_dependencies (formula_id, depends_on, kind) VALUES (?, ?, ?)`,
		dep.FromID, dep.ToID, string(dep.Kind),
	)
	return eris.Wrap(err, "sqlite: add dependency")
}

func (s *SQLiteStore) ListDependencies(ctx context.Context, formulaID string) ([]model.Dependency, error) {
	return s.listEdges(ctx, `SELECT formula_id, depends_on, kind FROM formula_dependencies WHERE formula_id = ? ORDER BY depends_on`, formulaID)
}

func (s *SQLiteStore) ListDependents(ctx context.Context, formulaID string) ([]model.Dependency, error) {
	return s.listEdges(ctx, `SELECT formula_id, depends_on, kind FROM formula_dependencies WHERE depends_on = ? ORDER BY formula_id`, formulaID)
}

func (s *SQLiteStore) listEdges(ctx context.Context, query, id string) ([]model.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dependencies")
	}
	defer rows.Close()

	var out []model.Dependency
	for rows.Next() {
		var d model.Dependency
		if err := rows.Scan(&d.FromID, &d.ToID, (*string)(&d.Kind)); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dependency")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate dependencies")
}

// RecordExecution appends one audit entry. The referenced formula must
// exist.
func (s *SQLiteStore) RecordExecution(ctx context.Context, rec model.ExecutionRecord) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM formulas WHERE id = ?`, rec.FormulaID).Scan(&n)
	if err != nil {
		return eris.Wrapf(err, "sqlite: check formula %s", rec.FormulaID)
	}
	if n == 0 {
		return &fault.StorageError{
			Op:     "record execution",
			Reason: fmt.Sprintf("formula %s does not exist", rec.FormulaID),
		}
	}

	inputsJSON, err := json.Marshal(rec.Inputs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal inputs")
	}
	var result sql.NullFloat64
	if rec.Result != nil {
		result = sql.NullFloat64{Float64: *rec.Result, Valid: true}
	}
	executedAt := rec.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO formula_executions (formula_id, inputs, result, error, success, latency_ms, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.FormulaID, string(inputsJSON), result, rec.Error, boolToInt(rec.Success), rec.LatencyMS, executedAt,
	)
	return eris.Wrap(err, "sqlite: record execution")
}

func (s *SQLiteStore) GetExecutionHistory(ctx context.Context, formulaID string, limit int) ([]model.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, formula_id, inputs, result, error, success, latency_ms, executed_at
		 FROM formula_executions WHERE formula_id = ?
		 ORDER BY executed_at DESC, id DESC LIMIT ?`,
		formulaID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: execution history")
	}
	defer rows.Close()

	var out []model.ExecutionRecord
	for rows.Next() {
		var (
			rec        model.ExecutionRecord
			inputsJSON string
			result     sql.NullFloat64
			errMsg     sql.NullString
			success    int
		)
		if err := rows.Scan(&rec.ID, &rec.FormulaID, &inputsJSON, &result, &errMsg, &success, &rec.LatencyMS, &rec.ExecutedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan execution")
		}
		if err := json.Unmarshal([]byte(inputsJSON), &rec.Inputs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal inputs")
		}
		if result.Valid {
			val := result.Float64
			rec.Result = &val
		}
		rec.Error = errMsg.String
		rec.Success = success != 0
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate executions")
}

func (s *SQLiteStore) SaveDocument(ctx context.Context, doc model.Document) error {
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal metadata")
	}
	processedAt := doc.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, pages, metadata, processed_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET filename = excluded.filename, pages = excluded.pages,
			metadata = excluded.metadata, processed_at = excluded.processed_at`,
		doc.ID, doc.Filename, doc.Pages, string(metaJSON), processedAt,
	)
	return eris.Wrap(err, "sqlite: save document")
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, pages, metadata, processed_at FROM documents WHERE id = ?`, id)

	var (
		doc      model.Document
		metaJSON sql.NullString
	)
	err := row.Scan(&doc.ID, &doc.Filename, &doc.Pages, &metaJSON, &doc.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get document")
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &doc.Metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal metadata")
		}
	}
	return &doc, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFormula(row scannable) (*model.Formula, error) {
	var (
		f        model.Formula
		repaired int
		provJSON string
		warnJSON sql.NullString
	)
	err := row.Scan(&f.ID, &f.Expression, (*string)(&f.Category), &f.Confidence,
		&repaired, &provJSON, &warnJSON, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan formula")
	}
	f.Repaired = repaired != 0
	if err := json.Unmarshal([]byte(provJSON), &f.Provenance); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal provenance")
	}
	if warnJSON.Valid && warnJSON.String != "" && warnJSON.String != "null" {
		if err := json.Unmarshal([]byte(warnJSON.String), &f.Warnings); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal warnings")
		}
	}
	return &f, nil
}

func mergeStrings(dst, add []string) []string {
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
