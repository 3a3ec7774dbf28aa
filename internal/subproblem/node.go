// Package subproblem wraps a complete model so that it behaves as a single
// component of a larger model.
//
// A Node owns a private inner context for the wrapped model. It exposes a
// chosen subset of the model's variables under aliases, forwards values in,
// runs the model, pulls results out, and reports the dense derivatives of its
// outputs with respect to its inputs from the model's total derivatives.
//
// A Node is not safe for concurrent use. Distinct nodes are independent.
package subproblem

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"github.com/specialistvlad/subgrid/internal/ctxlog"
	"github.com/specialistvlad/subgrid/internal/engine"
	"github.com/specialistvlad/subgrid/internal/numeric"
	"github.com/specialistvlad/subgrid/internal/resolver"
)

// driverAdvisory is logged when a node is given a driver.
const driverAdvisory = "Driver results may not be accurate if derivatives are needed. " +
	"Leave the driver unset if the subproblem does not rely on one."

// Options configures a Node.
type Options struct {
	// Driver runs the inner model. Nil runs the model once per evaluation.
	Driver engine.Driver
	// Name identifies the node in logs and names its inner problem. A random
	// name is used when empty.
	Name    string
	Reports bool
	// ContextOptions are passed through to every operational context.
	ContextOptions map[string]any
	Inputs         []resolver.Selector
	Outputs        []resolver.Selector
}

// Node is a model wrapped as a single component.
type Node struct {
	factory Factory
	driver  engine.Driver
	name    string
	reports bool
	options map[string]any

	inputs  resolver.Bindings
	outputs resolver.Bindings

	inner      InnerContext
	mode       numeric.Mode
	provisions int
	advised    bool

	last map[string]numeric.Value
}

var _ engine.Component = (*Node)(nil)

// New resolves the exposed variables of the model built by factory and
// returns a node ready to evaluate it. The model is set up once in a probe
// context to list its variables; the probe is discarded before New returns.
func New(ctx context.Context, factory Factory, opts Options) (*Node, error) {
	if factory == nil {
		return nil, fmt.Errorf("subproblem needs a model factory")
	}
	name := opts.Name
	if name == "" {
		name = "subproblem-" + uuid.NewString()
	}
	logger := ctxlog.FromContext(ctx).With("node", name)

	inTable, outTable, err := probe(ctx, factory)
	if err != nil {
		return nil, fmt.Errorf("subproblem '%s': %w", name, err)
	}

	inputs, err := resolver.Resolve(inTable, opts.Inputs, nil)
	if err != nil {
		return nil, fmt.Errorf("subproblem '%s' inputs: %w", name, err)
	}
	outputs, err := resolver.Resolve(outTable, opts.Outputs, nil)
	if err != nil {
		return nil, fmt.Errorf("subproblem '%s' outputs: %w", name, err)
	}

	n := &Node{
		factory: factory,
		driver:  opts.Driver,
		name:    name,
		reports: opts.Reports,
		options: maps.Clone(opts.ContextOptions),
		inputs:  inputs,
		outputs: outputs,
	}
	if n.driver != nil {
		logger.Warn(driverAdvisory)
	}
	logger.Debug("Subproblem node created.", "inputs", inputs.Aliases(), "outputs", outputs.Aliases())
	return n, nil
}

// probe lists the model's variables from a throwaway context.
func probe(ctx context.Context, factory Factory) (resolver.Table, resolver.Table, error) {
	p, err := factory(ctx, ContextConfig{})
	if err != nil {
		return nil, nil, fmt.Errorf("probe: %w", err)
	}
	if err := p.Setup(ctx, false); err != nil {
		return nil, nil, fmt.Errorf("probe setup: %w", err)
	}
	if err := p.FinalSetup(ctx); err != nil {
		return nil, nil, fmt.Errorf("probe final setup: %w", err)
	}
	ins, err := p.ListInputs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("probe inputs: %w", err)
	}
	outs, err := p.ListOutputs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("probe outputs: %w", err)
	}
	return ins, outs, nil
}

// Name returns the node's name.
func (n *Node) Name() string { return n.name }

// Inputs returns the resolved input bindings. Two bindings may share a
// promoted name; the model then sees the value of the later one, and each
// alias still receives the full derivative block of that name.
func (n *Node) Inputs() resolver.Bindings { return n.inputs }

// Outputs returns the resolved output bindings.
func (n *Node) Outputs() resolver.Bindings { return n.outputs }

// Mode returns the arithmetic mode of the current inner context.
func (n *Node) Mode() numeric.Mode { return n.mode }

// Provisions returns how many operational contexts the node has built. The
// first evaluation builds one, and so does every later call whose mode differs
// from the current context's, including Sensitivities after a complex
// evaluation since derivatives are always taken in real mode.
func (n *Node) Provisions() int { return n.provisions }

// LastOutputs returns the outputs of the last successful evaluation. It
// reports false before the first evaluation and after a failed one.
func (n *Node) LastOutputs() (map[string]numeric.Value, bool) {
	if n.last == nil {
		return nil, false
	}
	return maps.Clone(n.last), true
}

// provision makes sure an operational context exists for mode, rebuilding it
// when the mode differs from the current one.
func (n *Node) provision(ctx context.Context, mode numeric.Mode) error {
	if n.inner != nil && n.mode == mode {
		return nil
	}
	n.inner = nil

	inner, err := n.factory(ctx, ContextConfig{
		Driver:  n.driver,
		Name:    n.name,
		Reports: n.reports,
		Options: n.options,
		Wrap:    true,
	})
	if err != nil {
		return err
	}
	complexStep := mode == numeric.Complex
	if err := inner.Setup(ctx, complexStep); err != nil {
		return err
	}
	if err := inner.FinalSetup(ctx); err != nil {
		return err
	}
	if err := inner.SetComplexStepMode(complexStep); err != nil {
		return err
	}

	n.inner = inner
	n.mode = mode
	n.provisions++
	ctxlog.FromContext(ctx).Debug("Inner context provisioned.", "node", n.name, "mode", mode, "provisions", n.provisions)
	return nil
}

func (n *Node) push(inputs map[string]numeric.Value, mode numeric.Mode) (string, error) {
	for _, b := range n.inputs {
		v, ok := inputs[b.Alias]
		if !ok {
			return b.Promoted, fmt.Errorf("no value for input '%s'", b.Alias)
		}
		if err := n.inner.SetVal(b.Promoted, v.As(mode)); err != nil {
			return b.Promoted, err
		}
	}
	return "", nil
}

// Evaluate runs the wrapped model at the given inputs, keyed by alias, and
// returns its outputs, keyed by alias.
func (n *Node) Evaluate(ctx context.Context, mode numeric.Mode, inputs map[string]numeric.Value) (map[string]numeric.Value, error) {
	n.last = nil
	fail := func(stage, variable string, err error) error {
		return &EvaluationError{Node: n.name, Kind: ErrInnerEvaluation, Stage: stage, Variable: variable, Inputs: maps.Clone(inputs), Err: err}
	}

	if err := n.provision(ctx, mode); err != nil {
		return nil, fail("provision", "", err)
	}
	if variable, err := n.push(inputs, mode); err != nil {
		return nil, fail("set", variable, err)
	}

	innerCtx := ctxlog.With(ctx, "node", n.name)
	var err error
	if n.inner.HasDriver() {
		err = n.inner.RunDriver(innerCtx)
	} else {
		err = n.inner.RunModel(innerCtx)
	}
	if err != nil {
		return nil, fail("run", "", err)
	}

	out := make(map[string]numeric.Value, len(n.outputs))
	for _, b := range n.outputs {
		v, err := n.inner.GetVal(b.Promoted)
		if err != nil {
			return nil, fail("get", b.Promoted, err)
		}
		out[b.Alias] = v
	}

	n.last = maps.Clone(out)
	ctxlog.FromContext(ctx).Debug("Subproblem evaluated.", "node", n.name, "mode", mode)
	return out, nil
}

// Sensitivities returns d(output)/d(input) for every pair of exposed output
// and input, keyed by alias, at the given inputs. Blocks the inner model
// does not report are zero.
// It runs in real mode and re-provisions the inner context if the last
// evaluation was complex. On failure it returns no blocks.
func (n *Node) Sensitivities(ctx context.Context, inputs map[string]numeric.Value) (map[engine.Pair]numeric.Matrix, error) {
	logger := ctxlog.FromContext(ctx).With("node", n.name)
	fail := func(stage, variable string, err error) error {
		return &EvaluationError{Node: n.name, Kind: ErrSensitivity, Stage: stage, Variable: variable, Inputs: maps.Clone(inputs), Err: err}
	}
	if n.driver != nil && !n.advised {
		logger.Warn(driverAdvisory)
		n.advised = true
	}

	if err := n.provision(ctx, numeric.Real); err != nil {
		return nil, fail("provision", "", err)
	}
	if variable, err := n.push(inputs, numeric.Real); err != nil {
		return nil, fail("set", variable, err)
	}

	of := make([]string, len(n.outputs))
	for i, b := range n.outputs {
		of[i] = b.Promoted
	}
	wrt := make([]string, len(n.inputs))
	for i, b := range n.inputs {
		wrt[i] = b.Promoted
	}
	totals, err := n.inner.ComputeTotals(ctxlog.With(ctx, "node", n.name), of, wrt)
	if err != nil {
		return nil, fail("totals", "", err)
	}

	out := make(map[engine.Pair]numeric.Matrix, len(of)*len(wrt))
	for _, ob := range n.outputs {
		for _, ib := range n.inputs {
			m, ok := totals[engine.Pair{Of: ob.Promoted, Wrt: ib.Promoted}]
			if !ok {
				m = numeric.NewMatrix(numeric.SizeOf(ob.Meta().Shape), numeric.SizeOf(ib.Meta().Shape))
			}
			out[engine.Pair{Of: ob.Alias, Wrt: ib.Alias}] = m
		}
	}
	logger.Debug("Subproblem sensitivities computed.", "blocks", len(out))
	return out, nil
}
