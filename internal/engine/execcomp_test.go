package engine_test

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/specialistvlad/subgrid/internal/engine"
	"github.com/specialistvlad/subgrid/internal/expr"
	"github.com/specialistvlad/subgrid/internal/numeric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExecComp_Errors(t *testing.T) {
	testCases := []struct {
		name        string
		eqs         []string
		errContains string
	}{
		{"no equations", nil, "at least one equation"},
		{"not an equation", []string{"r*cos(theta)"}, "has no '='"},
		{"assigned twice", []string{"x = a", "x = b"}, "assigned more than once"},
		{"output read as input", []string{"x = a", "y = x"}, "both an output and an input"},
		{"bad expression", []string{"x = foo(a)"}, "unknown function"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.NewExecComp(tc.eqs...)
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.errContains)
		})
	}

	t.Run("spec for unknown variable", func(t *testing.T) {
		e, err := expr.Parse("a")
		require.NoError(t, err)
		_, err = engine.NewExecCompFrom([]engine.Equation{{Output: "x", Expr: e}}, engine.VarSpec{Name: "q"})
		assert.ErrorContains(t, err, "does not appear in any equation")
	})
}

func TestExecComp_Declare(t *testing.T) {
	e, err := expr.Parse("r*cos(theta)")
	require.NoError(t, err)
	c, err := engine.NewExecCompFrom(
		[]engine.Equation{{Output: "x", Expr: e}},
		engine.VarSpec{Name: "theta", Units: "rad", Description: "angle"},
	)
	require.NoError(t, err)

	decl, err := c.Declare(context.Background())
	require.NoError(t, err)

	want := &engine.Declarations{
		Inputs: []engine.VarSpec{
			{Name: "r"},
			{Name: "theta", Units: "rad", Description: "angle"},
		},
		Outputs: []engine.VarSpec{{Name: "x"}},
	}
	if diff := cmp.Diff(want, decl); diff != "" {
		t.Errorf("declarations mismatch (-want +got):\n%s", diff)
	}
}

func TestExecComp_Compute(t *testing.T) {
	ctx := context.Background()
	c, err := engine.NewExecComp("x = r*cos(theta)", "y = r*sin(theta)")
	require.NoError(t, err)
	decl, err := c.Declare(ctx)
	require.NoError(t, err)

	t.Run("real", func(t *testing.T) {
		in, err := engine.NewVector(numeric.Real, decl.Inputs, map[string]numeric.Value{
			"r":     numeric.Scalar(2),
			"theta": numeric.Scalar(math.Pi / 2),
		})
		require.NoError(t, err)
		out, err := engine.NewVector(numeric.Real, decl.Outputs, nil)
		require.NoError(t, err)

		require.NoError(t, c.Compute(ctx, in, out))
		x, _ := out.Get("x")
		y, _ := out.Get("y")
		assert.InDelta(t, 0.0, x.Real(0), 1e-12)
		assert.InDelta(t, 2.0, y.Real(0), 1e-12)
		assert.Equal(t, numeric.Real, x.Mode())
	})

	t.Run("complex step", func(t *testing.T) {
		const h = 1e-30
		r, err := numeric.NewComplex(nil, []complex128{complex(2, h)})
		require.NoError(t, err)
		in, err := engine.NewVector(numeric.Complex, decl.Inputs, map[string]numeric.Value{
			"r":     r,
			"theta": numeric.Scalar(0),
		})
		require.NoError(t, err)
		out, err := engine.NewVector(numeric.Complex, decl.Outputs, nil)
		require.NoError(t, err)

		require.NoError(t, c.Compute(ctx, in, out))
		x, _ := out.Get("x")
		assert.Equal(t, numeric.Complex, x.Mode())
		assert.InDelta(t, 2.0, x.Real(0), 1e-12)
		assert.InDelta(t, 1.0, x.Imag()[0]/h, 1e-12)
	})
}

func TestExecComp_ShapedOutput(t *testing.T) {
	ctx := context.Background()
	e, err := expr.Parse("2*v")
	require.NoError(t, err)
	one, err := expr.Parse("1")
	require.NoError(t, err)
	c, err := engine.NewExecCompFrom(
		[]engine.Equation{{Output: "y", Expr: e}, {Output: "ones", Expr: one}},
		engine.VarSpec{Name: "v", Shape: []int{3}},
		engine.VarSpec{Name: "y", Shape: []int{3}},
		engine.VarSpec{Name: "ones", Shape: []int{2}},
	)
	require.NoError(t, err)
	decl, err := c.Declare(ctx)
	require.NoError(t, err)

	in, err := engine.NewVector(numeric.Real, decl.Inputs, map[string]numeric.Value{
		"v": numeric.MustNew([]int{3}, 1, 2, 3),
	})
	require.NoError(t, err)
	out, err := engine.NewVector(numeric.Real, decl.Outputs, nil)
	require.NoError(t, err)
	require.NoError(t, c.Compute(ctx, in, out))

	y, _ := out.Get("y")
	ones, _ := out.Get("ones")
	assert.Equal(t, []float64{2, 4, 6}, y.Float64s())
	assert.Equal(t, []float64{1, 1}, ones.Float64s())

	jac := engine.NewJacobian(decl)
	require.NoError(t, c.ComputePartials(ctx, in, jac))
	got, ok := jac.Get("y", "v")
	require.True(t, ok)
	want, err := numeric.MatrixFrom([]float64{2, 0, 0}, []float64{0, 2, 0}, []float64{0, 0, 2})
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("partials mismatch (-want +got):\n%s", diff)
	}
}

func TestExecComp_ComputePartials(t *testing.T) {
	ctx := context.Background()
	c, err := engine.NewExecComp("x = r*cos(theta)")
	require.NoError(t, err)
	decl, err := c.Declare(ctx)
	require.NoError(t, err)

	in, err := engine.NewVector(numeric.Real, decl.Inputs, map[string]numeric.Value{
		"r":     numeric.Scalar(2),
		"theta": numeric.Scalar(math.Pi / 3),
	})
	require.NoError(t, err)
	jac := engine.NewJacobian(decl)
	require.NoError(t, c.ComputePartials(ctx, in, jac))

	dr, _ := jac.Get("x", "r")
	dtheta, _ := jac.Get("x", "theta")
	assert.InDelta(t, math.Cos(math.Pi/3), dr.At(0, 0), 1e-14)
	assert.InDelta(t, -2*math.Sin(math.Pi/3), dtheta.At(0, 0), 1e-14)
}

func TestExecComp_ModuloPartials(t *testing.T) {
	ctx := context.Background()
	c, err := engine.NewExecComp("y = x % m")
	require.NoError(t, err)
	decl, err := c.Declare(ctx)
	require.NoError(t, err)

	in, err := engine.NewVector(numeric.Real, decl.Inputs, map[string]numeric.Value{
		"x": numeric.Scalar(7),
		"m": numeric.Scalar(3),
	})
	require.NoError(t, err)
	jac := engine.NewJacobian(decl)
	require.NoError(t, c.ComputePartials(ctx, in, jac))

	dx, _ := jac.Get("y", "x")
	dm, _ := jac.Get("y", "m")
	assert.InDelta(t, 1.0, dx.At(0, 0), 1e-14)
	assert.InDelta(t, -2.0, dm.At(0, 0), 1e-14)

	t.Run("complex mode", func(t *testing.T) {
		in, err := engine.NewVector(numeric.Complex, decl.Inputs, map[string]numeric.Value{
			"x": numeric.Scalar(7),
			"m": numeric.Scalar(3),
		})
		require.NoError(t, err)
		out, err := engine.NewVector(numeric.Complex, decl.Outputs, nil)
		require.NoError(t, err)
		require.NoError(t, c.Compute(ctx, in, out))
		y, _ := out.Get("y")
		assert.Equal(t, 1.0, y.Real(0))
	})
}

func TestJacobian_Set(t *testing.T) {
	decl := &engine.Declarations{
		Inputs:  []engine.VarSpec{{Name: "a", Shape: []int{2}}},
		Outputs: []engine.VarSpec{{Name: "b"}},
	}
	jac := engine.NewJacobian(decl)

	zero, ok := jac.Get("b", "a")
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0}, zero.Data)

	assert.ErrorContains(t, jac.Set("b", "a", numeric.NewMatrix(2, 1)), "must be 1x2")
	assert.ErrorIs(t, jac.Set("b", "nope", numeric.NewMatrix(1, 1)), engine.ErrUnknownVariable)

	m, err := numeric.MatrixFrom([]float64{3, 4})
	require.NoError(t, err)
	require.NoError(t, jac.Set("b", "a", m))
	got, _ := jac.Get("b", "a")
	assert.Equal(t, []float64{3, 4}, got.Data)
}

func TestVector_Set(t *testing.T) {
	vec, err := engine.NewVector(numeric.Complex, []engine.VarSpec{{Name: "a", Shape: []int{2}}}, nil)
	require.NoError(t, err)

	require.NoError(t, vec.Set("a", numeric.MustNew(nil, 1, 2)))
	a, ok := vec.Get("a")
	require.True(t, ok)
	assert.Equal(t, numeric.Complex, a.Mode())
	assert.Equal(t, []int{2}, a.Shape())

	assert.ErrorContains(t, vec.Set("a", numeric.Scalar(1)), "has size 2")
	assert.ErrorIs(t, vec.Set("b", numeric.Scalar(1)), engine.ErrUnknownVariable)
	assert.Equal(t, []string{"a"}, vec.Names())
}
