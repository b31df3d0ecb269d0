// Package pipeline drives extraction end to end: region consolidation,
// recognizer ensembling, normalization, symbol resolution, classification,
// compilation, validation, deduplication, and persistence. Failures are
// per-candidate: one bad region never aborts a document.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kactuary/formula-extract/internal/classify"
	"github.com/kactuary/formula-extract/internal/compile"
	"github.com/kactuary/formula-extract/internal/config"
	"github.com/kactuary/formula-extract/internal/dedupe"
	"github.com/kactuary/formula-extract/internal/ensemble"
	"github.com/kactuary/formula-extract/internal/fault"
	"github.com/kactuary/formula-extract/internal/model"
	"github.com/kactuary/formula-extract/internal/normalize"
	"github.com/kactuary/formula-extract/internal/region"
	"github.com/kactuary/formula-extract/internal/store"
	"github.com/kactuary/formula-extract/internal/symbol"
	"github.com/kactuary/formula-extract/internal/validate"
)

// Source supplies recognized candidates for one document. Implementations
// wrap external recognizers or pre-recognized result files.
type Source interface {
	DocumentID() string
	Filename() string
	Pages() int
	// Detections returns the raw math-region detections for a page.
	Detections(ctx context.Context, page int) ([]model.Region, error)
	// Recognize returns every recognizer's reading of a region.
	Recognize(ctx context.Context, page int, r model.Region) ([]model.RecognizerOutput, error)
	// Context returns nearby page text for variable-description hints.
	Context(page int, r model.Region) string
}

// Pipeline wires the extraction stages over a shared store.
type Pipeline struct {
	cfg       *config.Config
	st        store.Store
	registry  *ensemble.Registry
	norm      *normalize.Normalizer
	resolver  *symbol.Resolver
	validator *validate.Validator
}

// New builds a pipeline. The symbol table merges configured overrides onto
// the built-in actuarial tier.
func New(cfg *config.Config, st store.Store) (*Pipeline, error) {
	overrides, err := symbol.LoadOverrides(cfg.Symbols.OverridePath)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:       cfg,
		st:        st,
		registry:  ensemble.NewRegistry(cfg.Ensemble),
		norm:      normalize.New(normalize.Tables{}),
		resolver:  symbol.NewResolver(symbol.Builtin().Merge(overrides)),
		validator: validate.New(cfg.Validate),
	}, nil
}

// Run extracts one document. Pages process concurrently; deduplication and
// persistence are serial so repository writes stay ordered.
func (p *Pipeline) Run(ctx context.Context, src Source) (*model.RunReport, error) {
	report := &model.RunReport{
		RunID:      uuid.New().String(),
		DocumentID: src.DocumentID(),
		Pages:      src.Pages(),
		StartedAt:  time.Now().UTC(),
	}

	if err := p.st.SaveDocument(ctx, model.Document{
		ID:          src.DocumentID(),
		Filename:    src.Filename(),
		Pages:       src.Pages(),
		ProcessedAt: report.StartedAt,
	}); err != nil {
		return nil, eris.Wrap(err, "pipeline: register document")
	}

	var (
		mu       sync.Mutex
		formulas []model.Formula
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.Workers)

	for page := 1; page <= src.Pages(); page++ {
		g.Go(func() error {
			found, failures, err := p.processPage(gctx, src, page)
			if err != nil {
				return err
			}
			mu.Lock()
			formulas = append(formulas, found...)
			report.Failures = append(report.Failures, failures...)
			report.Candidates += len(found) + len(failures)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, eris.Wrap(err, "pipeline: page processing")
	}

	deduper := dedupe.New()
	for _, f := range formulas {
		deduper.Add(f)
	}
	report.Merged = deduper.Merged()

	deduped := deduper.Formulas()
	for _, f := range deduped {
		report.Warnings += len(f.Warnings)
		if _, err := p.st.UpsertFormula(ctx, f); err != nil {
			report.AddFailure(model.Failure{
				Stage:      model.StagePersist,
				Kind:       string(fault.KindStorage),
				Expression: f.Expression,
				Error:      err.Error(),
			})
			continue
		}
		report.Stored++
	}

	p.linkDependencies(ctx, deduped, report)

	report.Duration = time.Since(report.StartedAt)
	zap.L().Info("extraction run complete",
		zap.String("run_id", report.RunID),
		zap.String("document_id", report.DocumentID),
		zap.Int("candidates", report.Candidates),
		zap.Int("stored", report.Stored),
		zap.Int("merged", report.Merged),
		zap.Int("failures", len(report.Failures)))

	return report, nil
}

func (p *Pipeline) processPage(ctx context.Context, src Source, page int) ([]model.Formula, []model.Failure, error) {
	detections, err := src.Detections(ctx, page)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "pipeline: detections page %d", page)
	}

	regions := region.Consolidate(detections, region.Options{
		MergeIoU:   p.cfg.Pipeline.MergeIoU,
		MergeGapPx: p.cfg.Pipeline.MergeGapPx,
	})

	var (
		found    []model.Formula
		failures []model.Failure
	)
	for _, r := range regions {
		outputs, err := src.Recognize(ctx, page, r)
		if err != nil {
			failures = append(failures, model.Failure{
				Stage: model.StageRecognize,
				Kind:  string(fault.KindRecognition),
				Page:  page,
				BBox:  r.BBox,
				Error: err.Error(),
			})
			continue
		}

		cand := model.Candidate{
			Page:    page,
			Region:  r,
			Outputs: outputs,
			Context: src.Context(page, r),
		}
		f, stage, err := p.process(ctx, src.DocumentID(), cand)
		if err != nil {
			failures = append(failures, failureFor(stage, cand, err))
			continue
		}
		found = append(found, f)
	}
	return found, failures, nil
}

// process runs one candidate through every stage. The returned stage names
// where processing stopped when err is non-nil.
func (p *Pipeline) process(ctx context.Context, documentID string, c model.Candidate) (model.Formula, model.Stage, error) {
	selected, err := p.registry.Select(c)
	if err != nil {
		return model.Formula{}, model.StageRecognize, err
	}
	if selected.Confidence < p.cfg.Pipeline.MinConfidence {
		return model.Formula{}, model.StageRecognize, &fault.RecognitionFailure{
			Page:   c.Page,
			Reason: "best output below confidence floor",
		}
	}

	normed, err := p.norm.Normalize(selected.Expression)
	if err != nil {
		return model.Formula{}, model.StageNormalize, err
	}

	vars := p.resolver.Resolve(normed.Expression, c.Context)

	category := classify.Classify(normed.Expression, selected.Expression, vars)

	artifact, err := compile.Compile(normed.Expression, vars, compile.Options{
		StepBudget: p.cfg.Validate.StepBudget,
	})
	if err != nil {
		return model.Formula{}, model.StageCompile, err
	}

	cases := p.validator.Generate(category, vars)
	outcome, err := p.validator.Run(ctx, artifact, cases)
	if err != nil {
		return model.Formula{}, model.StageValidate, err
	}

	confidence := p.validator.AdjustConfidence(
		selected.Confidence, outcome, len(vars),
		normed.Repaired, p.cfg.Normalize.RepairPenalty,
	)

	now := time.Now().UTC()
	return model.Formula{
		ID:         model.FormulaID(normed.Expression),
		Expression: normed.Expression,
		Category:   category,
		Confidence: confidence,
		Repaired:   normed.Repaired,
		Variables:  vars,
		Provenance: []model.Provenance{{
			DocumentID: documentID,
			Page:       c.Page,
			BBox:       c.Region.BBox,
			Method:     selected.Method,
			Confidence: selected.Confidence,
		}},
		Warnings:  outcome.Warnings,
		CreatedAt: now,
		UpdatedAt: now,
	}, "", nil
}

// linkDependencies adds a uses-edge from every formula referencing a symbol
// to the formula in this run that defines it. Link failures are recorded and
// skipped; they never fail the run.
func (p *Pipeline) linkDependencies(ctx context.Context, formulas []model.Formula, report *model.RunReport) {
	definedBy := make(map[string]string)
	for _, f := range formulas {
		if t := definitionTarget(f.Expression); t != "" {
			definedBy[t] = f.ID
		}
	}
	if len(definedBy) == 0 {
		return
	}

	for _, f := range formulas {
		for _, v := range f.Variables {
			defID, ok := definedBy[v.Name]
			if !ok || defID == f.ID {
				continue
			}
			err := p.st.AddDependency(ctx, model.Dependency{
				FromID: f.ID,
				ToID:   defID,
				Kind:   model.DepUses,
			})
			if err != nil {
				report.AddFailure(model.Failure{
					Stage:      model.StagePersist,
					Kind:       string(fault.KindStorage),
					Expression: f.Expression,
					Error:      err.Error(),
				})
			}
		}
	}
}

// definitionTarget returns the symbol a formula defines, empty when the
// expression is not a top-level assignment.
func definitionTarget(expr string) string {
	i := strings.Index(expr, "=")
	if i <= 0 {
		return ""
	}
	lhs := model.CanonicalKey(strings.TrimSpace(expr[:i]))
	// Only simple targets count: a single possibly-subscripted symbol.
	if len(lhs) == 0 || strings.ContainsAny(lhs, "+-*/^(){}") {
		return ""
	}
	return lhs
}

func failureFor(stage model.Stage, c model.Candidate, err error) model.Failure {
	f := model.Failure{
		Stage: stage,
		Kind:  string(fault.KindOf(err)),
		Page:  c.Page,
		BBox:  c.Region.BBox,
		Error: err.Error(),
	}
	if len(c.Outputs) > 0 {
		f.Expression = c.Outputs[0].Expression
	}
	return f
}
