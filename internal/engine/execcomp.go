package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/specialistvlad/subgrid/internal/expr"
	"github.com/specialistvlad/subgrid/internal/numeric"
)

// Equation assigns the value of an expression to an output.
type Equation struct {
	Output string
	Expr   *expr.Expr
}

// ExecComp is a component defined by equations such as `x = r*cos(theta)`.
// Every name an equation reads becomes an input; every left-hand side becomes
// an output. Partials are computed by complex step on the equations.
type ExecComp struct {
	eqs   []Equation
	vars  map[string]VarSpec
	exprs *expr.Container
}

// NewExecComp builds a component from `lhs = rhs` strings.
func NewExecComp(equations ...string) (*ExecComp, error) {
	eqs := make([]Equation, 0, len(equations))
	for _, src := range equations {
		lhs, e, err := expr.ParseEquation(src)
		if err != nil {
			return nil, err
		}
		eqs = append(eqs, Equation{Output: lhs, Expr: e})
	}
	return NewExecCompFrom(eqs)
}

// NewExecCompFrom builds a component from compiled equations. The specs give
// shapes, units, defaults and descriptions; variables without one are scalar.
func NewExecCompFrom(eqs []Equation, specs ...VarSpec) (*ExecComp, error) {
	if len(eqs) == 0 {
		return nil, fmt.Errorf("component needs at least one equation")
	}
	c := &ExecComp{
		vars:  make(map[string]VarSpec, len(specs)),
		exprs: expr.NewContainer(),
	}
	outputs := make(map[string]bool, len(eqs))
	for _, eq := range eqs {
		if eq.Expr == nil {
			return nil, fmt.Errorf("equation for '%s' has no expression", eq.Output)
		}
		if outputs[eq.Output] {
			return nil, fmt.Errorf("output '%s' is assigned more than once", eq.Output)
		}
		outputs[eq.Output] = true
		c.eqs = append(c.eqs, eq)
		c.exprs.Add(eq.Expr)
	}
	for _, ref := range c.exprs.References() {
		if outputs[ref] {
			return nil, fmt.Errorf("'%s' is both an output and an input", ref)
		}
	}
	for _, s := range specs {
		if !outputs[s.Name] && !slices.Contains(c.exprs.References(), s.Name) {
			return nil, fmt.Errorf("variable '%s' does not appear in any equation", s.Name)
		}
		c.vars[s.Name] = s
	}
	return c, nil
}

func (c *ExecComp) spec(name string) VarSpec {
	if s, ok := c.vars[name]; ok {
		return s
	}
	return VarSpec{Name: name}
}

// Declare implements Component.
func (c *ExecComp) Declare(context.Context) (*Declarations, error) {
	d := &Declarations{}
	for _, ref := range c.exprs.References() {
		d.Inputs = append(d.Inputs, c.spec(ref))
	}
	for _, eq := range c.eqs {
		d.Outputs = append(d.Outputs, c.spec(eq.Output))
	}
	return d, nil
}

// Compute implements Component.
func (c *ExecComp) Compute(_ context.Context, in *Vector, out *Vector) error {
	for _, eq := range c.eqs {
		var val numeric.Value
		var err error
		if in.Mode() == numeric.Complex {
			val, err = evalEquation(eq, out, complexEnv(in), numeric.NewComplex)
		} else {
			val, err = evalEquation(eq, out, realEnv(in), numeric.New)
		}
		if err != nil {
			return err
		}
		if err := out.Set(eq.Output, val); err != nil {
			return err
		}
	}
	return nil
}

// ComputePartials implements Component.
func (c *ExecComp) ComputePartials(_ context.Context, in *Vector, jac *Jacobian) error {
	base := make(map[string][]complex128, len(in.names))
	for _, name := range in.names {
		base[name] = in.vals[name].Complex128s()
	}

	for _, eq := range c.eqs {
		rows := jac.rows[eq.Output]
		for _, wrt := range eq.Expr.References() {
			orig := base[wrt]
			m := numeric.NewMatrix(rows, len(orig))
			for k := range orig {
				perturbed := slices.Clone(orig)
				perturbed[k] += complex(0, ComplexStep)
				var env expr.Env[complex128] = func(name string) ([]complex128, bool) {
					if name == wrt {
						return perturbed, true
					}
					v, ok := base[name]
					return v, ok
				}
				res, err := expr.Eval(eq.Expr, env)
				if err != nil {
					return err
				}
				for r := 0; r < rows; r++ {
					m.Set(r, k, imag(res[min(r, len(res)-1)])/ComplexStep)
				}
			}
			if err := jac.Set(eq.Output, wrt, m); err != nil {
				return err
			}
		}
	}
	return nil
}

func realEnv(in *Vector) expr.Env[float64] {
	return func(name string) ([]float64, bool) {
		v, ok := in.Get(name)
		if !ok {
			return nil, false
		}
		return v.Float64s(), true
	}
}

func complexEnv(in *Vector) expr.Env[complex128] {
	return func(name string) ([]complex128, bool) {
		v, ok := in.Get(name)
		if !ok {
			return nil, false
		}
		return v.Complex128s(), true
	}
}

// evalEquation evaluates one equation and shapes the result like its output,
// broadcasting a scalar result over every element.
func evalEquation[T expr.Number](eq Equation, out *Vector, env expr.Env[T], build func([]int, []T) (numeric.Value, error)) (numeric.Value, error) {
	res, err := expr.Eval(eq.Expr, env)
	if err != nil {
		return numeric.Value{}, err
	}
	spec := out.specs[eq.Output]
	size := spec.size()
	switch {
	case len(res) == size:
	case len(res) == 1:
		res = slices.Repeat(res, size)
	default:
		return numeric.Value{}, fmt.Errorf("output '%s' has size %d, equation produced %d values", eq.Output, size, len(res))
	}
	return build(spec.shape(), res)
}
