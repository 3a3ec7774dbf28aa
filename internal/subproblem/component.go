package subproblem

import (
	"context"
	"math"

	"github.com/specialistvlad/subgrid/internal/engine"
	"github.com/specialistvlad/subgrid/internal/numeric"
	"github.com/specialistvlad/subgrid/internal/resolver"
)

func specs(bs resolver.Bindings) []engine.VarSpec {
	out := make([]engine.VarSpec, len(bs))
	for i, b := range bs {
		meta := b.Meta()
		out[i] = engine.VarSpec{
			Name:        b.Alias,
			Shape:       meta.Shape,
			Units:       meta.Units,
			Description: meta.Description,
		}
	}
	return out
}

func values(in *engine.Vector) map[string]numeric.Value {
	vals := make(map[string]numeric.Value)
	for _, name := range in.Names() {
		v, _ := in.Get(name)
		vals[name] = v
	}
	return vals
}

// Declare implements engine.Component: one input per input alias and one
// output per output alias, shaped like the variables they bind.
func (n *Node) Declare(context.Context) (*engine.Declarations, error) {
	return &engine.Declarations{
		Inputs:  specs(n.inputs),
		Outputs: specs(n.outputs),
	}, nil
}

// Compute implements engine.Component. On failure every output is set to NaN
// before the error is returned.
func (n *Node) Compute(ctx context.Context, in *engine.Vector, out *engine.Vector) error {
	res, err := n.Evaluate(ctx, in.Mode(), values(in))
	if err != nil {
		for _, b := range n.outputs {
			_ = out.Set(b.Alias, numeric.Filled(b.Meta().Shape, in.Mode(), math.NaN()))
		}
		return err
	}
	for _, b := range n.outputs {
		if err := out.Set(b.Alias, res[b.Alias]); err != nil {
			return err
		}
	}
	return nil
}

// ComputePartials implements engine.Component with the wrapped model's total
// derivatives.
func (n *Node) ComputePartials(ctx context.Context, in *engine.Vector, jac *engine.Jacobian) error {
	sens, err := n.Sensitivities(ctx, values(in))
	if err != nil {
		return err
	}
	for pair, m := range sens {
		if err := jac.Set(pair.Of, pair.Wrt, m); err != nil {
			return err
		}
	}
	return nil
}
