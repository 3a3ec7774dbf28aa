package subproblem_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/specialistvlad/subgrid/internal/engine"
	"github.com/specialistvlad/subgrid/internal/numeric"
	"github.com/specialistvlad/subgrid/internal/resolver"
	"github.com/specialistvlad/subgrid/internal/subproblem"
	"github.com/specialistvlad/subgrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// polarModel converts polar coordinates to cartesian ones.
func polarModel(context.Context) (*engine.Group, error) {
	g := engine.NewGroup()
	for _, eq := range [][2]string{{"xc", "x = r*cos(theta)"}, {"yc", "y = r*sin(theta)"}} {
		c, err := engine.NewExecComp(eq[1])
		if err != nil {
			return nil, err
		}
		if err := g.AddComponent(eq[0], c, engine.All); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// nestedModel has two outputs promoted as y.x1.value and y.x2.value.
func nestedModel(context.Context) (*engine.Group, error) {
	inner := engine.NewGroup()
	for _, eq := range [][2]string{{"x1", "value = 2*u"}, {"x2", "value = 3*u"}} {
		c, err := engine.NewExecComp(eq[1])
		if err != nil {
			return nil, err
		}
		if err := inner.AddComponent(eq[0], c, engine.Promotes{Inputs: []string{"u"}}); err != nil {
			return nil, err
		}
	}
	root := engine.NewGroup()
	if err := root.AddGroup("y", inner, engine.Promotes{Inputs: []string{"*"}}); err != nil {
		return nil, err
	}
	return root, nil
}

func modModel(context.Context) (*engine.Group, error) {
	c, err := engine.NewExecComp("y = x % 3")
	if err != nil {
		return nil, err
	}
	return engine.Wrap("modc", c)
}

func logModel(context.Context) (*engine.Group, error) {
	c, err := engine.NewExecComp("y = log(x)")
	if err != nil {
		return nil, err
	}
	return engine.Wrap("logc", c)
}

// recorder wraps a factory and records every context it builds and the
// lifecycle calls made on them.
type recorder struct {
	factory subproblem.Factory
	calls   []string
	// emptyTotals makes every context report no derivative blocks.
	emptyTotals bool
	// totalsErr, when set, is returned by every ComputeTotals call.
	totalsErr error
}

func newRecorder(model subproblem.ModelFunc) *recorder {
	return &recorder{factory: subproblem.EngineFactory(model)}
}

func (r *recorder) Factory(ctx context.Context, cfg subproblem.ContextConfig) (subproblem.InnerContext, error) {
	r.calls = append(r.calls, fmt.Sprintf("new(wrap=%t)", cfg.Wrap))
	inner, err := r.factory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &recordingContext{InnerContext: inner, rec: r}, nil
}

type recordingContext struct {
	subproblem.InnerContext
	rec *recorder
}

func (c *recordingContext) Setup(ctx context.Context, forceAllocComplex bool) error {
	c.rec.calls = append(c.rec.calls, fmt.Sprintf("setup(%t)", forceAllocComplex))
	return c.InnerContext.Setup(ctx, forceAllocComplex)
}

func (c *recordingContext) SetComplexStepMode(on bool) error {
	c.rec.calls = append(c.rec.calls, fmt.Sprintf("complex(%t)", on))
	return c.InnerContext.SetComplexStepMode(on)
}

func (c *recordingContext) ComputeTotals(ctx context.Context, of, wrt []string) (map[engine.Pair]numeric.Matrix, error) {
	if c.rec.totalsErr != nil {
		return nil, c.rec.totalsErr
	}
	if c.rec.emptyTotals {
		return map[engine.Pair]numeric.Matrix{}, nil
	}
	return c.InnerContext.ComputeTotals(ctx, of, wrt)
}

func polarNode(t *testing.T, ctx context.Context, opts subproblem.Options) (*subproblem.Node, *recorder) {
	t.Helper()
	rec := newRecorder(polarModel)
	if opts.Inputs == nil {
		opts.Inputs = []resolver.Selector{resolver.Name("r"), resolver.Name("theta")}
	}
	if opts.Outputs == nil {
		opts.Outputs = []resolver.Selector{resolver.Name("x")}
	}
	n, err := subproblem.New(ctx, rec.Factory, opts)
	require.NoError(t, err)
	return n, rec
}

func scalars(kv ...any) map[string]numeric.Value {
	out := make(map[string]numeric.Value)
	for i := 0; i < len(kv); i += 2 {
		out[kv[i].(string)] = numeric.Scalar(kv[i+1].(float64))
	}
	return out
}

func TestNew_ProbeIsDiscarded(t *testing.T) {
	ctx, _ := testutil.LogContext(t)
	n, rec := polarNode(t, ctx, subproblem.Options{Name: "polar"})

	assert.Equal(t, []string{"new(wrap=false)", "setup(false)"}, rec.calls)
	assert.Equal(t, 0, n.Provisions())
	assert.Equal(t, "polar", n.Name())
	assert.Equal(t, []string{"r", "theta"}, n.Inputs().Aliases())
	assert.Equal(t, []string{"x"}, n.Outputs().Aliases())

	_, ok := n.LastOutputs()
	assert.False(t, ok)
}

func TestNew_DefaultName(t *testing.T) {
	ctx, _ := testutil.LogContext(t)
	a, _ := polarNode(t, ctx, subproblem.Options{})
	b, _ := polarNode(t, ctx, subproblem.Options{})
	assert.True(t, strings.HasPrefix(a.Name(), "subproblem-"))
	assert.NotEqual(t, a.Name(), b.Name())
}

func TestNew_ResolutionErrors(t *testing.T) {
	testCases := []struct {
		name        string
		model       subproblem.ModelFunc
		inputs      []resolver.Selector
		outputs     []resolver.Selector
		errIs       error
		errContains string
	}{
		{
			name:        "repeated input",
			model:       polarModel,
			inputs:      []resolver.Selector{resolver.Name("r"), resolver.Name("r")},
			outputs:     []resolver.Selector{resolver.Name("x")},
			errIs:       resolver.ErrDuplicateAlias,
			errContains: "inputs",
		},
		{
			name:        "unknown output",
			model:       polarModel,
			inputs:      []resolver.Selector{resolver.Name("r")},
			outputs:     []resolver.Selector{resolver.Name("nope")},
			errIs:       resolver.ErrUnknownVariable,
			errContains: "outputs",
		},
		{
			name:    "ambiguous output",
			model:   nestedModel,
			inputs:  []resolver.Selector{resolver.Name("u")},
			outputs: []resolver.Selector{resolver.Name("value")},
			errIs:   resolver.ErrAmbiguousVariable,
		},
		{
			name:        "pair with empty alias",
			model:       polarModel,
			inputs:      []resolver.Selector{resolver.Alias("r", ""), resolver.Name("theta")},
			outputs:     []resolver.Selector{resolver.Name("x")},
			errIs:       resolver.ErrInvalidSelector,
			errContains: "inputs",
		},
		{
			name:    "invalid selector",
			model:   polarModel,
			inputs:  []resolver.Selector{{}},
			outputs: []resolver.Selector{resolver.Name("x")},
			errIs:   resolver.ErrInvalidSelector,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, _ := testutil.LogContext(t)
			rec := newRecorder(tc.model)
			n, err := subproblem.New(ctx, rec.Factory, subproblem.Options{Inputs: tc.inputs, Outputs: tc.outputs})
			require.Error(t, err)
			assert.Nil(t, n)
			assert.ErrorIs(t, err, tc.errIs)
			if tc.errContains != "" {
				assert.ErrorContains(t, err, tc.errContains)
			}
			// Only the probe was ever built.
			assert.Equal(t, []string{"new(wrap=false)", "setup(false)"}, rec.calls)
		})
	}

	t.Run("nil factory", func(t *testing.T) {
		_, err := subproblem.New(context.Background(), nil, subproblem.Options{})
		assert.Error(t, err)
	})

	t.Run("model build failure", func(t *testing.T) {
		broken := func(context.Context) (*engine.Group, error) { return nil, errors.New("no such model") }
		_, err := subproblem.New(context.Background(), subproblem.EngineFactory(broken), subproblem.Options{})
		assert.ErrorContains(t, err, "no such model")
	})
}

func TestNode_AliasPairs(t *testing.T) {
	ctx, _ := testutil.LogContext(t)
	n, err := subproblem.New(ctx, subproblem.EngineFactory(nestedModel), subproblem.Options{
		Inputs:  []resolver.Selector{resolver.Name("u")},
		Outputs: []resolver.Selector{resolver.Alias("y.x1.value", "a"), resolver.Alias("y.x2.value", "b")},
	})
	require.NoError(t, err)

	out, err := n.Evaluate(ctx, numeric.Real, scalars("u", 2.0))
	require.NoError(t, err)
	assert.Equal(t, 4.0, out["a"].Real(0))
	assert.Equal(t, 6.0, out["b"].Real(0))

	sens, err := n.Sensitivities(ctx, scalars("u", 2.0))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, sens[engine.Pair{Of: "a", Wrt: "u"}].At(0, 0), 1e-12)
	assert.InDelta(t, 3.0, sens[engine.Pair{Of: "b", Wrt: "u"}].At(0, 0), 1e-12)
}

func TestNode_EvaluateAndSensitivities(t *testing.T) {
	ctx, _ := testutil.LogContext(t)
	n, _ := polarNode(t, ctx, subproblem.Options{})

	out, err := n.Evaluate(ctx, numeric.Real, scalars("r", 1.0, "theta", 0.0))
	require.NoError(t, err)
	assert.Equal(t, 1.0, out["x"].Real(0))

	last, ok := n.LastOutputs()
	require.True(t, ok)
	assert.Equal(t, 1.0, last["x"].Real(0))

	sens, err := n.Sensitivities(ctx, scalars("r", 1.0, "theta", 0.0))
	require.NoError(t, err)
	one := numeric.Matrix{Rows: 1, Cols: 1, Data: []float64{1}}
	zero := numeric.Matrix{Rows: 1, Cols: 1, Data: []float64{0}}
	want := map[engine.Pair]numeric.Matrix{
		{Of: "x", Wrt: "r"}:     one,
		{Of: "x", Wrt: "theta"}: zero,
	}
	if diff := cmp.Diff(want, sens, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("sensitivities mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, n.Provisions())
}

func TestNode_Idempotent(t *testing.T) {
	ctx, _ := testutil.LogContext(t)
	n, _ := polarNode(t, ctx, subproblem.Options{})
	in := scalars("r", 2.0, "theta", 0.4)

	first, err := n.Evaluate(ctx, numeric.Real, in)
	require.NoError(t, err)
	second, err := n.Evaluate(ctx, numeric.Real, in)
	require.NoError(t, err)

	assert.Equal(t, first["x"].Float64s(), second["x"].Float64s())
	assert.Equal(t, 1, n.Provisions())
}

func TestNode_ModeTransitions(t *testing.T) {
	ctx, _ := testutil.LogContext(t)
	n, rec := polarNode(t, ctx, subproblem.Options{})
	rec.calls = nil
	in := scalars("r", 2.0, "theta", 0.4)

	real1, err := n.Evaluate(ctx, numeric.Real, in)
	require.NoError(t, err)
	assert.Equal(t, 1, n.Provisions())

	const h = 1e-30
	r, err := numeric.NewComplex(nil, []complex128{complex(2, h)})
	require.NoError(t, err)
	cx, err := n.Evaluate(ctx, numeric.Complex, map[string]numeric.Value{"r": r, "theta": numeric.Scalar(0.4)})
	require.NoError(t, err)
	assert.Equal(t, 2, n.Provisions())
	assert.Equal(t, numeric.Complex, n.Mode())
	assert.Equal(t, numeric.Complex, cx["x"].Mode())
	assert.InDelta(t, math.Cos(0.4), cx["x"].Imag()[0]/h, 1e-12)

	real2, err := n.Evaluate(ctx, numeric.Real, in)
	require.NoError(t, err)
	assert.Equal(t, 3, n.Provisions())
	assert.Equal(t, real1["x"].Float64s(), real2["x"].Float64s())

	assert.Equal(t, []string{
		"new(wrap=true)", "setup(false)", "complex(false)",
		"new(wrap=true)", "setup(true)", "complex(true)",
		"new(wrap=true)", "setup(false)", "complex(false)",
	}, rec.calls)
}

func TestNode_EvaluateFailures(t *testing.T) {
	ctx, _ := testutil.LogContext(t)

	t.Run("inner model fails", func(t *testing.T) {
		n, err := subproblem.New(ctx, subproblem.EngineFactory(logModel), subproblem.Options{
			Name:    "logger",
			Inputs:  []resolver.Selector{resolver.Name("x")},
			Outputs: []resolver.Selector{resolver.Name("y")},
		})
		require.NoError(t, err)

		_, err = n.Evaluate(ctx, numeric.Real, scalars("x", 1.0))
		require.NoError(t, err)

		_, err = n.Evaluate(ctx, numeric.Real, scalars("x", -1.0))
		require.Error(t, err)
		assert.ErrorIs(t, err, subproblem.ErrInnerEvaluation)
		assert.ErrorIs(t, err, engine.ErrNonFinite)

		var ee *subproblem.EvaluationError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "logger", ee.Node)
		assert.Equal(t, "run", ee.Stage)
		assert.Equal(t, -1.0, ee.Inputs["x"].Real(0))

		_, ok := n.LastOutputs()
		assert.False(t, ok)
	})

	t.Run("missing input", func(t *testing.T) {
		n, _ := polarNode(t, ctx, subproblem.Options{})
		_, err := n.Evaluate(ctx, numeric.Real, scalars("r", 1.0))
		assert.ErrorIs(t, err, subproblem.ErrInnerEvaluation)
		var ee *subproblem.EvaluationError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "set", ee.Stage)
		assert.Equal(t, "theta", ee.Variable)

		_, err = n.Sensitivities(ctx, scalars("theta", 1.0))
		assert.ErrorIs(t, err, subproblem.ErrSensitivity)
	})
}

func TestNode_SensitivityFailures(t *testing.T) {
	ctx, _ := testutil.LogContext(t)

	t.Run("inner totals error", func(t *testing.T) {
		n, rec := polarNode(t, ctx, subproblem.Options{Name: "polar"})
		cause := errors.New("linear solve diverged")
		rec.totalsErr = cause

		sens, err := n.Sensitivities(ctx, scalars("r", 1.0, "theta", 0.0))
		assert.Nil(t, sens)
		assert.ErrorIs(t, err, subproblem.ErrSensitivity)
		assert.ErrorIs(t, err, cause)
		var ee *subproblem.EvaluationError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "polar", ee.Node)
		assert.Equal(t, "totals", ee.Stage)
		assert.Equal(t, 1.0, ee.Inputs["r"].Real(0))
	})

	t.Run("non-finite point", func(t *testing.T) {
		n, err := subproblem.New(ctx, subproblem.EngineFactory(logModel), subproblem.Options{
			Name:    "logger",
			Inputs:  []resolver.Selector{resolver.Name("x")},
			Outputs: []resolver.Selector{resolver.Name("y")},
		})
		require.NoError(t, err)

		sens, err := n.Sensitivities(ctx, scalars("x", 0.0))
		assert.Nil(t, sens)
		assert.ErrorIs(t, err, subproblem.ErrSensitivity)
		assert.NotErrorIs(t, err, subproblem.ErrInnerEvaluation)
		var ee *subproblem.EvaluationError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "totals", ee.Stage)
	})
}

func TestNode_InputsSharingPromotedName(t *testing.T) {
	ctx, _ := testutil.LogContext(t)
	n, _ := polarNode(t, ctx, subproblem.Options{
		Inputs: []resolver.Selector{resolver.Name("r"), resolver.Alias("r", "r2"), resolver.Name("theta")},
	})

	// The later binding's value is the one the model sees.
	out, err := n.Evaluate(ctx, numeric.Real, scalars("r", 1.0, "r2", 2.0, "theta", 0.0))
	require.NoError(t, err)
	assert.Equal(t, 2.0, out["x"].Real(0))

	sens, err := n.Sensitivities(ctx, scalars("r", 1.0, "r2", 2.0, "theta", 0.0))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sens[engine.Pair{Of: "x", Wrt: "r"}].At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, sens[engine.Pair{Of: "x", Wrt: "r2"}].At(0, 0), 1e-12)
}

func TestNode_MissingTotalsAreZero(t *testing.T) {
	ctx, _ := testutil.LogContext(t)
	n, rec := polarNode(t, ctx, subproblem.Options{})
	rec.emptyTotals = true

	sens, err := n.Sensitivities(ctx, scalars("r", 1.0, "theta", 0.0))
	require.NoError(t, err)
	require.Len(t, sens, 2)
	for pair, m := range sens {
		assert.Equal(t, []float64{0}, m.Data, pair.String())
	}
}

func TestNode_DriverAdvisory(t *testing.T) {
	ctx, logs := testutil.LogContext(t)
	const advisory = "Driver results may not be accurate"

	n, _ := polarNode(t, ctx, subproblem.Options{Driver: engine.RunOnce{}, Name: "driven"})
	assert.Equal(t, 1, strings.Count(logs.String(), advisory))
	assert.Contains(t, logs.String(), "level=WARN")

	out, err := n.Evaluate(ctx, numeric.Real, scalars("r", 3.0, "theta", 0.0))
	require.NoError(t, err)
	assert.Equal(t, 3.0, out["x"].Real(0))

	for range 2 {
		_, err := n.Sensitivities(ctx, scalars("r", 3.0, "theta", 0.0))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, strings.Count(logs.String(), advisory))

	t.Run("no advisory without driver", func(t *testing.T) {
		ctx, logs := testutil.LogContext(t)
		polarNode(t, ctx, subproblem.Options{})
		assert.NotContains(t, logs.String(), advisory)
	})
}

func TestNode_ModuloInBothModes(t *testing.T) {
	ctx, _ := testutil.LogContext(t)
	n, err := subproblem.New(ctx, subproblem.EngineFactory(modModel), subproblem.Options{
		Name:    "mod",
		Inputs:  []resolver.Selector{resolver.Name("x")},
		Outputs: []resolver.Selector{resolver.Name("y")},
	})
	require.NoError(t, err)

	for _, mode := range []numeric.Mode{numeric.Real, numeric.Complex} {
		out, err := n.Evaluate(ctx, mode, scalars("x", 7.0))
		require.NoError(t, err, mode.String())
		assert.Equal(t, 1.0, out["y"].Real(0), mode.String())
	}

	assert.Equal(t, 2, n.Provisions())

	// Derivatives are taken in real mode, so the complex context is replaced.
	sens, err := n.Sensitivities(ctx, scalars("x", 7.0))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sens[engine.Pair{Of: "y", Wrt: "x"}].At(0, 0), 1e-14)
	assert.Equal(t, 3, n.Provisions())
	assert.Equal(t, numeric.Real, n.Mode())
}
