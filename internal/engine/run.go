package engine

import (
	"context"
	"fmt"

	"github.com/specialistvlad/subgrid/internal/ctxlog"
	"github.com/specialistvlad/subgrid/internal/numeric"
)

// Driver controls how a problem is run, for example by iterating the model
// over several points.
type Driver interface {
	Run(ctx context.Context, p *Problem) error
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context, p *Problem) error

// Run implements Driver.
func (f DriverFunc) Run(ctx context.Context, p *Problem) error {
	return f(ctx, p)
}

// RunOnce is the default driver: it runs the model a single time.
type RunOnce struct{}

// Run implements Driver.
func (RunOnce) Run(ctx context.Context, p *Problem) error {
	return p.RunModel(ctx)
}

// RunModel executes every component once, in dependency order, in the
// current arithmetic mode. A cancelled context stops the run between
// components.
func (p *Problem) RunModel(ctx context.Context) error {
	if p.state != stateFinal {
		return ErrNotSetup
	}
	logger := ctxlog.FromContext(ctx)

	for _, sys := range p.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.runSystem(ctx, sys, p.mode); err != nil {
			return err
		}
	}

	logger.Debug("Model run complete.", "problem", p.name, "mode", p.mode, "systems", len(p.order))
	return nil
}

func (p *Problem) runSystem(ctx context.Context, sys *system, mode numeric.Mode) error {
	in := p.inputVector(sys, mode)
	out := p.outputVector(sys, mode)
	if err := sys.comp.Compute(ctx, in, out); err != nil {
		// Whatever the component left in its outputs is kept so a failed
		// point stays visible (subproblem nodes write NaN here).
		for _, o := range sys.outputs {
			o.value = out.vals[o.spec.Name]
		}
		return &ComputeError{Component: sys.path, Err: err}
	}
	for _, o := range sys.outputs {
		val := out.vals[o.spec.Name]
		if !val.IsFinite() {
			return &ComputeError{Component: sys.path, Variable: o.spec.Name, Err: fmt.Errorf("%w: %s", ErrNonFinite, val)}
		}
		o.value = val
	}
	return nil
}

// RunDriver runs the attached driver, or the model once when there is none.
func (p *Problem) RunDriver(ctx context.Context) error {
	var err error
	if p.driver == nil {
		err = p.RunModel(ctx)
	} else {
		err = p.driver.Run(ctx, p)
	}
	if err != nil {
		return err
	}
	if p.reports {
		p.report(ctx)
	}
	return nil
}

func (p *Problem) report(ctx context.Context) {
	logger := ctxlog.FromContext(ctx).With("problem", p.name)
	attrs := make([]any, 0, 2*len(p.outputs))
	for _, o := range p.outputs {
		attrs = append(attrs, o.promoted, o.value.String())
	}
	logger.Info("Run report.", attrs...)
}
