package engine

import (
	"context"
	"fmt"

	"github.com/specialistvlad/subgrid/internal/ctxlog"
	"github.com/specialistvlad/subgrid/internal/numeric"
)

// ComplexStep is the imaginary perturbation used for complex-step
// derivatives. The step carries no subtractive cancellation, so it can be
// far below machine epsilon.
const ComplexStep = 1e-40

// PartialCheck compares one analytic partial block of a component with the
// complex-step estimate of the same block.
type PartialCheck struct {
	Component   string
	Of          string
	Wrt         string
	Analytic    numeric.Matrix
	ComplexStep numeric.Matrix
	MaxAbsError float64
}

// CheckPartials runs the model, then for every component compares the
// partials it reports with those obtained by running its Compute in complex
// mode with each input element perturbed in turn.
func (p *Problem) CheckPartials(ctx context.Context) ([]PartialCheck, error) {
	if p.state != stateFinal {
		return nil, ErrNotSetup
	}
	if err := p.RunModel(ctx); err != nil {
		return nil, err
	}
	jacs, err := p.linearize(ctx)
	if err != nil {
		return nil, err
	}

	var checks []PartialCheck
	for _, sys := range p.order {
		fd, err := p.complexStepPartials(ctx, sys)
		if err != nil {
			return nil, err
		}
		for _, o := range sys.outputs {
			for _, in := range sys.inputs {
				key := Pair{Of: o.spec.Name, Wrt: in.spec.Name}
				analytic := jacs[sys].blocks[key]
				diff, err := analytic.MaxAbsDiff(fd[key])
				if err != nil {
					return nil, &ComputeError{Component: sys.path, Err: err}
				}
				checks = append(checks, PartialCheck{
					Component:   sys.path,
					Of:          o.spec.Name,
					Wrt:         in.spec.Name,
					Analytic:    analytic,
					ComplexStep: fd[key],
					MaxAbsError: diff,
				})
			}
		}
	}

	ctxlog.FromContext(ctx).Debug("Partials checked.", "problem", p.name, "blocks", len(checks))
	return checks, nil
}

func (p *Problem) complexStepPartials(ctx context.Context, sys *system) (map[Pair]numeric.Matrix, error) {
	base := p.inputVector(sys, numeric.Complex)
	blocks := newJacobian(sys.decl).blocks

	for _, in := range sys.inputs {
		name := in.spec.Name
		orig := base.vals[name]
		for k := 0; k < orig.Size(); k++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			data := orig.Complex128s()
			data[k] += complex(0, ComplexStep)
			perturbed, err := numeric.NewComplex(orig.Shape(), data)
			if err != nil {
				return nil, err
			}
			base.vals[name] = perturbed

			out := p.outputVector(sys, numeric.Complex)
			err = sys.comp.Compute(ctx, base, out)
			base.vals[name] = orig
			if err != nil {
				return nil, &ComputeError{Component: sys.path, Err: fmt.Errorf("complex step on '%s': %w", name, err)}
			}

			for _, o := range sys.outputs {
				m := blocks[Pair{Of: o.spec.Name, Wrt: name}]
				for r, im := range out.vals[o.spec.Name].Imag() {
					m.Set(r, k, im/ComplexStep)
				}
			}
		}
	}
	return blocks, nil
}
