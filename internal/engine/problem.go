package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/specialistvlad/subgrid/internal/ctxlog"
	"github.com/specialistvlad/subgrid/internal/dag"
	"github.com/specialistvlad/subgrid/internal/numeric"
	"github.com/specialistvlad/subgrid/internal/varpath"
)

// autoPrefix names the sources created for inputs that nothing feeds.
const autoPrefix = "_auto_ivc"

type state int

const (
	stateNew state = iota
	stateSetup
	stateFinal
)

// VarMeta describes one variable of a set-up problem.
type VarMeta struct {
	Canonical   string
	Promoted    string
	Units       string
	Shape       []int
	Description string
}

// system is one component instance inside a set-up problem.
type system struct {
	path    string
	comp    Component
	decl    *Declarations
	inputs  []*variable
	outputs []*variable
}

// variable is a flattened input, output or automatic source. Outputs and
// automatic sources own a value; inputs read theirs through src.
type variable struct {
	canonical string
	promoted  string
	spec      VarSpec
	output    bool
	owner     *system
	src       *variable
	value     numeric.Value
}

// Problem is a set-up, runnable instance of a model. A Problem is not safe for
// concurrent use.
type Problem struct {
	root    *Group
	driver  Driver
	name    string
	reports bool
	options map[string]any

	state        state
	complexAlloc bool
	mode         numeric.Mode

	systems   []*system
	order     []*system
	inputs    []*variable
	outputs   []*variable
	autos     []*variable
	outByProm map[string]*variable
	inByProm  map[string][]*variable
	byCanon   map[string]*variable
}

// Option configures a Problem.
type Option func(*Problem)

// WithDriver attaches a driver, run by RunDriver.
func WithDriver(d Driver) Option {
	return func(p *Problem) { p.driver = d }
}

// WithName names the problem in logs and reports.
func WithName(name string) Option {
	return func(p *Problem) { p.name = name }
}

// WithReports logs a summary of every output after each driver run.
func WithReports(enabled bool) Option {
	return func(p *Problem) { p.reports = enabled }
}

// WithOptions stores pass-through options. The engine does not interpret
// them; they are available to drivers through Options.
func WithOptions(opts map[string]any) Option {
	return func(p *Problem) { p.options = maps.Clone(opts) }
}

// NewProblem creates a problem for the model rooted at root.
func NewProblem(root *Group, opts ...Option) *Problem {
	p := &Problem{root: root, name: "problem"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the problem's name.
func (p *Problem) Name() string { return p.name }

// Driver returns the attached driver, or nil.
func (p *Problem) Driver() Driver { return p.driver }

// HasDriver reports whether a driver is attached.
func (p *Problem) HasDriver() bool { return p.driver != nil }

// Reports reports whether run reports are enabled.
func (p *Problem) Reports() bool { return p.reports }

// Options returns a copy of the pass-through options.
func (p *Problem) Options() map[string]any { return maps.Clone(p.options) }

// Mode returns the current arithmetic mode.
func (p *Problem) Mode() numeric.Mode { return p.mode }

// Setup flattens the model: it asks every component for its declarations,
// computes canonical and promoted names, resolves connections and orders the
// components. When forceAllocComplex is set, complex-step mode becomes
// available after FinalSetup. Setup discards any previous values.
func (p *Problem) Setup(ctx context.Context, forceAllocComplex bool) error {
	logger := ctxlog.FromContext(ctx).With("problem", p.name)

	if p.root == nil {
		return fmt.Errorf("problem '%s' has no model", p.name)
	}
	p.state = stateNew
	p.mode = numeric.Real
	p.complexAlloc = forceAllocComplex
	p.systems, p.order, p.inputs, p.outputs, p.autos = nil, nil, nil, nil, nil

	flat, err := p.flatten(ctx, p.root, "", map[*Group]bool{})
	if err != nil {
		return err
	}
	if err := p.link(flat); err != nil {
		return err
	}
	if err := p.sortSystems(); err != nil {
		return err
	}

	p.state = stateSetup
	logger.Debug("Problem setup complete.",
		"systems", len(p.systems),
		"inputs", len(p.inputs),
		"outputs", len(p.outputs),
		"complex", forceAllocComplex,
	)
	return nil
}

// flatVar is a variable with its name relative to the group being flattened.
type flatVar struct {
	v   *variable
	rel string
}

func (p *Problem) flatten(ctx context.Context, g *Group, prefix string, visiting map[*Group]bool) ([]flatVar, error) {
	if visiting[g] {
		return nil, fmt.Errorf("group '%s' contains itself", prefix)
	}
	visiting[g] = true
	defer delete(visiting, g)

	var flat []flatVar
	for _, c := range g.children {
		childPath := varpath.Join(prefix, c.name)

		var sub []flatVar
		if c.group != nil {
			var err error
			if sub, err = p.flatten(ctx, c.group, childPath, visiting); err != nil {
				return nil, err
			}
		} else {
			sys, err := p.declare(ctx, c.comp, childPath)
			if err != nil {
				return nil, err
			}
			for _, v := range sys.inputs {
				sub = append(sub, flatVar{v: v, rel: v.spec.Name})
			}
			for _, v := range sys.outputs {
				sub = append(sub, flatVar{v: v, rel: v.spec.Name})
			}
		}

		for _, fv := range sub {
			if !c.promotes.matches(fv.rel, fv.v.output) {
				fv.rel = varpath.Join(c.name, fv.rel)
			}
			flat = append(flat, fv)
		}
	}

	for _, conn := range g.conns {
		if err := connect(flat, conn, prefix); err != nil {
			return nil, err
		}
	}
	return flat, nil
}

func (p *Problem) declare(ctx context.Context, c Component, path string) (*system, error) {
	decl, err := c.Declare(ctx)
	if err != nil {
		return nil, &ComputeError{Component: path, Err: fmt.Errorf("declare: %w", err)}
	}
	if decl == nil {
		decl = &Declarations{}
	}

	sys := &system{path: path, comp: c, decl: decl}
	seen := make(map[string]bool)
	add := func(spec VarSpec, output bool) error {
		if err := varpath.Validate(spec.Name); err != nil {
			return &ComputeError{Component: path, Err: err}
		}
		if seen[spec.Name] {
			return &ComputeError{Component: path, Variable: spec.Name, Err: fmt.Errorf("declared twice")}
		}
		for _, d := range spec.Shape {
			if d <= 0 {
				return &ComputeError{Component: path, Variable: spec.Name, Err: fmt.Errorf("invalid shape %v", spec.Shape)}
			}
		}
		seen[spec.Name] = true

		v := &variable{
			canonical: varpath.Join(path, spec.Name),
			spec:      spec,
			output:    output,
			owner:     sys,
		}
		if output {
			sys.outputs = append(sys.outputs, v)
		} else {
			sys.inputs = append(sys.inputs, v)
		}
		return nil
	}
	for _, s := range decl.Inputs {
		if err := add(s, false); err != nil {
			return nil, err
		}
	}
	for _, s := range decl.Outputs {
		if err := add(s, true); err != nil {
			return nil, err
		}
	}

	p.systems = append(p.systems, sys)
	return sys, nil
}

func connect(flat []flatVar, conn connection, group string) error {
	var src *variable
	var targets []*variable
	for _, fv := range flat {
		switch {
		case fv.v.output && fv.rel == conn.src:
			if src != nil {
				return fmt.Errorf("group '%s': connection source '%s' is ambiguous", group, conn.src)
			}
			src = fv.v
		case !fv.v.output && fv.rel == conn.tgt:
			targets = append(targets, fv.v)
		}
	}
	if src == nil {
		return fmt.Errorf("group '%s': %w: connection source '%s' is not an output", group, ErrUnknownVariable, conn.src)
	}
	if len(targets) == 0 {
		return fmt.Errorf("group '%s': %w: connection target '%s' is not an input", group, ErrUnknownVariable, conn.tgt)
	}
	for _, t := range targets {
		if t.src != nil && t.src != src {
			return fmt.Errorf("group '%s': input '%s' is already connected to '%s'", group, t.canonical, t.src.canonical)
		}
		t.src = src
	}
	return nil
}

// link assigns promoted names, connects inputs to outputs of the same
// promoted name and creates automatic sources for inputs nothing feeds.
func (p *Problem) link(flat []flatVar) error {
	p.outByProm = make(map[string]*variable)
	p.inByProm = make(map[string][]*variable)
	p.byCanon = make(map[string]*variable)
	var inOrder []string

	for _, fv := range flat {
		v := fv.v
		v.promoted = fv.rel
		p.byCanon[v.canonical] = v
		if v.output {
			if prev, ok := p.outByProm[v.promoted]; ok {
				return fmt.Errorf("outputs '%s' and '%s' are both promoted to '%s'", prev.canonical, v.canonical, v.promoted)
			}
			p.outByProm[v.promoted] = v
			p.outputs = append(p.outputs, v)
			continue
		}
		if _, ok := p.inByProm[v.promoted]; !ok {
			inOrder = append(inOrder, v.promoted)
		}
		p.inByProm[v.promoted] = append(p.inByProm[v.promoted], v)
		p.inputs = append(p.inputs, v)
	}

	for _, prom := range inOrder {
		group := p.inByProm[prom]
		out := p.outByProm[prom]

		var src *variable
		for _, in := range group {
			if in.src == nil {
				continue
			}
			if out != nil && in.src != out {
				return fmt.Errorf("input '%s' is connected to '%s' but promoted to the same name as output '%s'", in.canonical, in.src.canonical, out.canonical)
			}
			if src != nil && in.src != src {
				return fmt.Errorf("inputs promoted to '%s' are connected to different sources", prom)
			}
			src = in.src
		}
		if src == nil {
			src = out
		}
		if src == nil {
			first := group[0]
			src = &variable{
				canonical: varpath.Join(autoPrefix, prom),
				promoted:  prom,
				spec:      VarSpec{Name: prom, Shape: first.spec.shape(), Default: first.spec.Default, Units: first.spec.Units},
				output:    true,
			}
			p.autos = append(p.autos, src)
		}

		for _, in := range group {
			if in.spec.size() != src.spec.size() {
				return fmt.Errorf("input '%s' has size %d but its source '%s' has size %d", in.canonical, in.spec.size(), src.canonical, src.spec.size())
			}
			in.src = src
		}
	}
	return nil
}

func (p *Problem) sortSystems() error {
	g := dag.New()
	byPath := make(map[string]*system, len(p.systems))
	for _, sys := range p.systems {
		g.AddNode(sys.path)
		byPath[sys.path] = sys
	}
	for _, sys := range p.systems {
		for _, in := range sys.inputs {
			from := in.src.owner
			if from == nil {
				continue
			}
			if from == sys {
				return fmt.Errorf("%w: component '%s' feeds its own input '%s'", ErrAlgebraicLoop, sys.path, in.spec.Name)
			}
			if err := g.AddEdge(from.path, sys.path); err != nil {
				return err
			}
		}
	}

	ids, err := g.Sort()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAlgebraicLoop, err)
	}
	p.order = make([]*system, len(ids))
	for i, id := range ids {
		p.order[i] = byPath[id]
	}
	return nil
}

// FinalSetup allocates value storage and fills it with declared defaults.
func (p *Problem) FinalSetup(ctx context.Context) error {
	if p.state == stateNew {
		return ErrNotSetup
	}
	if p.state == stateFinal {
		return nil
	}
	for _, v := range slices.Concat(p.outputs, p.autos) {
		val, err := v.spec.initial(numeric.Real)
		if err != nil {
			return fmt.Errorf("variable '%s': %w", v.canonical, err)
		}
		v.value = val
	}
	p.state = stateFinal
	ctxlog.FromContext(ctx).Debug("Problem storage allocated.", "problem", p.name)
	return nil
}

// SetComplexStepMode switches every stored value between real and complex
// storage. Complex mode requires Setup with forceAllocComplex.
func (p *Problem) SetComplexStepMode(on bool) error {
	if p.state != stateFinal {
		return ErrNotSetup
	}
	mode := numeric.Real
	if on {
		if !p.complexAlloc {
			return ErrComplexNotAllocated
		}
		mode = numeric.Complex
	}
	if mode == p.mode {
		return nil
	}
	for _, v := range slices.Concat(p.outputs, p.autos) {
		v.value = v.value.As(mode)
	}
	p.mode = mode
	return nil
}

// lookup finds the variable holding the value for a promoted or canonical
// name. Inputs resolve to their source.
func (p *Problem) lookup(name string) (*variable, *variable, error) {
	if p.state != stateFinal {
		return nil, nil, ErrNotSetup
	}
	if out, ok := p.outByProm[name]; ok {
		return out, nil, nil
	}
	if ins, ok := p.inByProm[name]; ok {
		return ins[0].src, ins[0], nil
	}
	if v, ok := p.byCanon[name]; ok {
		if v.output {
			return v, nil, nil
		}
		return v.src, v, nil
	}
	return nil, nil, fmt.Errorf("%w: '%s'", ErrUnknownVariable, name)
}

// SetVal stores a value under a promoted or canonical name. Inputs fed by an
// output cannot be set; set the output's own name instead.
func (p *Problem) SetVal(name string, val numeric.Value) error {
	src, in, err := p.lookup(name)
	if err != nil {
		return err
	}
	if in != nil && src.owner != nil {
		return fmt.Errorf("input '%s' is connected to output '%s'", name, src.promoted)
	}
	if val.Size() != src.spec.size() {
		return fmt.Errorf("variable '%s' has size %d, got a value of size %d", name, src.spec.size(), val.Size())
	}
	stored, err := val.As(p.mode).Reshape(src.spec.shape())
	if err != nil {
		return err
	}
	src.value = stored
	return nil
}

// GetVal returns a copy of the value stored under a promoted or canonical
// name, in the current mode.
func (p *Problem) GetVal(name string) (numeric.Value, error) {
	src, _, err := p.lookup(name)
	if err != nil {
		return numeric.Value{}, err
	}
	return src.value.Clone(), nil
}

// ListInputs describes every input in declaration order.
func (p *Problem) ListInputs() ([]VarMeta, error) {
	if p.state != stateFinal {
		return nil, ErrNotSetup
	}
	return metas(p.inputs), nil
}

// ListOutputs describes every output in declaration order.
func (p *Problem) ListOutputs() ([]VarMeta, error) {
	if p.state != stateFinal {
		return nil, ErrNotSetup
	}
	return metas(p.outputs), nil
}

func metas(vars []*variable) []VarMeta {
	out := make([]VarMeta, len(vars))
	for i, v := range vars {
		out[i] = VarMeta{
			Canonical:   v.canonical,
			Promoted:    v.promoted,
			Units:       v.spec.Units,
			Shape:       v.spec.shape(),
			Description: v.spec.Description,
		}
	}
	return out
}

func (p *Problem) inputVector(sys *system, mode numeric.Mode) *Vector {
	vec := newVector(mode, sys.decl.Inputs)
	for _, in := range sys.inputs {
		// Sizes were matched by link, so only the shape can differ.
		if val, err := in.src.value.As(mode).Reshape(in.spec.shape()); err == nil {
			vec.vals[in.spec.Name] = val
		}
	}
	return vec
}

func (p *Problem) outputVector(sys *system, mode numeric.Mode) *Vector {
	vec := newVector(mode, sys.decl.Outputs)
	for _, out := range sys.outputs {
		vec.vals[out.spec.Name] = out.value.As(mode)
	}
	return vec
}
