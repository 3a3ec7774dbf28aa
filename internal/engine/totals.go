package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/subgrid/internal/ctxlog"
	"github.com/specialistvlad/subgrid/internal/numeric"
)

// ComputeTotals returns the total derivative of every name in of with respect
// to every name in wrt, keyed by the names as given. The model is run first
// so the derivatives are taken at a settled point; the partials of each
// component are then chained forward in execution order. Totals are only
// available in real mode.
func (p *Problem) ComputeTotals(ctx context.Context, of, wrt []string) (map[Pair]numeric.Matrix, error) {
	if p.state != stateFinal {
		return nil, ErrNotSetup
	}
	if p.mode != numeric.Real {
		return nil, errors.New("totals are only available in real mode")
	}

	ofVars := make([]*variable, len(of))
	for i, name := range of {
		v, _, err := p.lookup(name)
		if err != nil {
			return nil, fmt.Errorf("of: %w", err)
		}
		ofVars[i] = v
	}
	wrtVars := make([]*variable, len(wrt))
	for i, name := range wrt {
		v, _, err := p.lookup(name)
		if err != nil {
			return nil, fmt.Errorf("wrt: %w", err)
		}
		wrtVars[i] = v
	}

	if err := p.RunModel(ctx); err != nil {
		return nil, err
	}
	jacs, err := p.linearize(ctx)
	if err != nil {
		return nil, err
	}

	totals := make(map[Pair]numeric.Matrix, len(of)*len(wrt))
	for wi, w := range wrtVars {
		n := w.spec.size()
		blocks := make([]numeric.Matrix, len(ofVars))
		for oi, o := range ofVars {
			blocks[oi] = numeric.NewMatrix(o.spec.size(), n)
		}

		for col := 0; col < n; col++ {
			seed := make([]float64, n)
			seed[col] = 1
			d := p.forward(w, seed, jacs)
			for oi, o := range ofVars {
				dv, ok := d[o]
				if !ok {
					continue
				}
				for row, x := range dv {
					blocks[oi].Set(row, col, x)
				}
			}
		}

		for oi := range ofVars {
			totals[Pair{Of: of[oi], Wrt: wrt[wi]}] = blocks[oi]
		}
	}

	ctxlog.FromContext(ctx).Debug("Totals computed.", "problem", p.name, "of", len(of), "wrt", len(wrt))
	return totals, nil
}

// linearize collects every component's partials at the current point.
func (p *Problem) linearize(ctx context.Context) (map[*system]*Jacobian, error) {
	jacs := make(map[*system]*Jacobian, len(p.order))
	for _, sys := range p.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		jac := newJacobian(sys.decl)
		if err := sys.comp.ComputePartials(ctx, p.inputVector(sys, numeric.Real), jac); err != nil {
			return nil, &ComputeError{Component: sys.path, Err: fmt.Errorf("partials: %w", err)}
		}
		for key, m := range jac.blocks {
			if !m.IsFinite() {
				return nil, &ComputeError{Component: sys.path, Err: fmt.Errorf("%w in partial %s", ErrNonFinite, key)}
			}
		}
		jacs[sys] = jac
	}
	return jacs, nil
}

// forward propagates a directional seed on one source variable through the
// model and returns the resulting derivative of every affected variable.
func (p *Problem) forward(seeded *variable, seed []float64, jacs map[*system]*Jacobian) map[*variable][]float64 {
	d := map[*variable][]float64{seeded: seed}
	for _, sys := range p.order {
		jac := jacs[sys]
		for _, o := range sys.outputs {
			if o == seeded {
				continue
			}
			var acc []float64
			for _, in := range sys.inputs {
				dsrc, ok := d[in.src]
				if !ok {
					continue
				}
				block := jac.blocks[Pair{Of: o.spec.Name, Wrt: in.spec.Name}]
				if acc == nil {
					acc = make([]float64, block.Rows)
				}
				for r := 0; r < block.Rows; r++ {
					for c := 0; c < block.Cols; c++ {
						acc[r] += block.At(r, c) * dsrc[c]
					}
				}
			}
			if acc != nil {
				d[o] = acc
			}
		}
	}
	return d
}
