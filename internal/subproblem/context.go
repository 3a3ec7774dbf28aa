package subproblem

import (
	"context"
	"fmt"

	"github.com/specialistvlad/subgrid/internal/engine"
	"github.com/specialistvlad/subgrid/internal/numeric"
	"github.com/specialistvlad/subgrid/internal/resolver"
)

// InnerContext is a private, independently set-up evaluation of the wrapped
// model.
type InnerContext interface {
	Setup(ctx context.Context, forceAllocComplex bool) error
	FinalSetup(ctx context.Context) error
	ListInputs(ctx context.Context) ([]resolver.VariableDescriptor, error)
	ListOutputs(ctx context.Context) ([]resolver.VariableDescriptor, error)
	SetVal(name string, v numeric.Value) error
	GetVal(name string) (numeric.Value, error)
	RunModel(ctx context.Context) error
	RunDriver(ctx context.Context) error
	HasDriver() bool
	SetComplexStepMode(on bool) error
	ComputeTotals(ctx context.Context, of, wrt []string) (map[engine.Pair]numeric.Matrix, error)
}

// WrapName is the name the wrapped model is given inside an operational
// context. Every variable is promoted, so promoted names do not change.
const WrapName = "subsys"

// ContextConfig describes one inner context to build.
type ContextConfig struct {
	Driver  engine.Driver
	Name    string
	Reports bool
	Options map[string]any
	// Wrap places the model as the only child, named WrapName, of a fresh root.
	Wrap bool
}

// Factory builds a fresh inner context around a fresh instance of the model.
type Factory func(ctx context.Context, cfg ContextConfig) (InnerContext, error)

// ModelFunc builds a fresh instance of a model.
type ModelFunc func(ctx context.Context) (*engine.Group, error)

// EngineFactory returns a Factory that evaluates models with package engine.
func EngineFactory(model ModelFunc) Factory {
	return func(ctx context.Context, cfg ContextConfig) (InnerContext, error) {
		g, err := model(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to build model: %w", err)
		}
		root := g
		if cfg.Wrap {
			root = engine.NewGroup()
			if err := root.AddGroup(WrapName, g, engine.All); err != nil {
				return nil, err
			}
		}

		opts := []engine.Option{engine.WithReports(cfg.Reports), engine.WithOptions(cfg.Options)}
		if cfg.Name != "" {
			opts = append(opts, engine.WithName(cfg.Name))
		}
		if cfg.Driver != nil {
			opts = append(opts, engine.WithDriver(cfg.Driver))
		}
		return &engineContext{Problem: engine.NewProblem(root, opts...)}, nil
	}
}

// engineContext adapts an engine.Problem to InnerContext.
type engineContext struct {
	*engine.Problem
}

func (c *engineContext) ListInputs(context.Context) ([]resolver.VariableDescriptor, error) {
	metas, err := c.Problem.ListInputs()
	if err != nil {
		return nil, err
	}
	return descriptors(metas), nil
}

func (c *engineContext) ListOutputs(context.Context) ([]resolver.VariableDescriptor, error) {
	metas, err := c.Problem.ListOutputs()
	if err != nil {
		return nil, err
	}
	return descriptors(metas), nil
}

func descriptors(metas []engine.VarMeta) []resolver.VariableDescriptor {
	out := make([]resolver.VariableDescriptor, len(metas))
	for i, m := range metas {
		out[i] = resolver.VariableDescriptor{
			Canonical:   m.Canonical,
			Promoted:    m.Promoted,
			Units:       m.Units,
			Shape:       m.Shape,
			Description: m.Description,
		}
	}
	return out
}
