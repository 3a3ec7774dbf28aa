package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/specialistvlad/subgrid/internal/ctxlog"
	"github.com/specialistvlad/subgrid/internal/engine"
	"github.com/specialistvlad/subgrid/internal/hclmodel"
	"github.com/specialistvlad/subgrid/internal/numeric"
	"golang.org/x/sync/errgroup"
)

// ErrCasesFailed is returned by Run when at least one case did not evaluate.
// The report is still written.
var ErrCasesFailed = errors.New("some cases failed")

// Run loads the models, evaluates every case and writes the report.
func (a *App) Run(ctx context.Context) error {
	ctx = a.Context(ctx)
	a.logger.Debug("App.Run method started.")

	doc, err := hclmodel.Load(ctx, a.config.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}
	root, err := rootModel(doc, a.config.ModelName)
	if err != nil {
		return err
	}

	cases := []Case{{Name: root}}
	if a.config.CasesPath != "" {
		if cases, err = LoadCases(a.config.CasesPath); err != nil {
			return err
		}
	}
	a.logger.Info("Evaluating model.", "model", root, "cases", len(cases), "workers", a.config.WorkerCount)

	results := make([]*CaseResult, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.WorkerCount)
	for i, c := range cases {
		g.Go(func() error {
			res, err := a.runCase(gctx, doc, root, c.Name, c.withBase(a.config.Values))
			if err != nil {
				return fmt.Errorf("case '%s': %w", c.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := writeReport(a.outW, a.config.Format, &Report{Model: root, Cases: results}); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	var failed []string
	for _, r := range results {
		if r.Error != "" {
			failed = append(failed, r.Name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrCasesFailed, strings.Join(failed, ", "))
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

// rootModel picks the model to evaluate: the named one, or the only model no
// other model uses as a subproblem.
func rootModel(doc *hclmodel.Document, name string) (string, error) {
	if name != "" {
		if _, ok := doc.Models[name]; !ok {
			return "", fmt.Errorf("model '%s' is not defined; available: %s", name, strings.Join(doc.Names(), ", "))
		}
		return name, nil
	}
	roots := doc.Roots()
	if len(roots) != 1 {
		return "", fmt.Errorf("cannot choose a root model among %s; select one with -model", strings.Join(roots, ", "))
	}
	return roots[0], nil
}

// runCase evaluates one case on its own problem instance. Setup and value
// errors abort the run; evaluation errors are recorded in the result.
func (a *App) runCase(ctx context.Context, doc *hclmodel.Document, root, name string, values map[string][]float64) (*CaseResult, error) {
	logger := ctxlog.FromContext(ctx).With("case", name)
	ctx = ctxlog.WithLogger(ctx, logger)

	g, err := doc.Build(ctx, root)
	if err != nil {
		return nil, err
	}
	p := engine.NewProblem(g, engine.WithName(name))
	if err := p.Setup(ctx, false); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	if err := p.FinalSetup(ctx); err != nil {
		return nil, fmt.Errorf("final setup: %w", err)
	}

	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		v, err := numeric.New([]int{len(values[n])}, values[n])
		if err != nil {
			return nil, fmt.Errorf("value of '%s': %w", n, err)
		}
		if err := p.SetVal(n, v); err != nil {
			return nil, err
		}
	}

	res := &CaseResult{Name: name}
	runErr := p.RunDriver(ctx)
	if res.Outputs, err = outputs(p); err != nil {
		return nil, err
	}
	if runErr != nil {
		logger.Warn("Case failed.", "error", runErr)
		res.Error = runErr.Error()
		return res, nil
	}

	if len(a.config.Of) > 0 {
		totals, err := p.ComputeTotals(ctx, a.config.Of, a.config.Wrt)
		if err != nil {
			res.Error = fmt.Sprintf("totals: %v", err)
			return res, nil
		}
		for _, of := range a.config.Of {
			for _, wrt := range a.config.Wrt {
				m := totals[engine.Pair{Of: of, Wrt: wrt}]
				t := Total{Of: of, Wrt: wrt}
				for _, row := range m.RowsSlices() {
					t.Rows = append(t.Rows, numbers(row))
				}
				res.Totals = append(res.Totals, t)
			}
		}
	}

	if a.config.CheckPartials {
		checks, err := p.CheckPartials(ctx)
		if err != nil {
			res.Error = fmt.Sprintf("partials check: %v", err)
			return res, nil
		}
		for _, c := range checks {
			res.Partials = append(res.Partials, Partial{
				Component:   c.Component,
				Of:          c.Of,
				Wrt:         c.Wrt,
				MaxAbsError: Number(c.MaxAbsError),
			})
		}
	}

	logger.Debug("Case evaluated.", "outputs", len(res.Outputs), "totals", len(res.Totals), "partials", len(res.Partials))
	return res, nil
}

func outputs(p *engine.Problem) ([]Variable, error) {
	metas, err := p.ListOutputs()
	if err != nil {
		return nil, err
	}
	out := make([]Variable, 0, len(metas))
	for _, m := range metas {
		v, err := p.GetVal(m.Promoted)
		if err != nil {
			return nil, err
		}
		out = append(out, Variable{
			Name:  m.Promoted,
			Units: m.Units,
			Shape: m.Shape,
			Value: numbers(v.Float64s()),
		})
	}
	return out, nil
}
