package engine

import (
	"context"
	"fmt"

	"github.com/specialistvlad/subgrid/internal/numeric"
)

// VarSpec declares one variable of a component.
type VarSpec struct {
	// Name is the variable's local name within its component.
	Name string
	// Shape defaults to [1].
	Shape       []int
	Units       string
	Description string
	// Default is the initial value, flattened. Nil means zeros.
	Default []float64
}

func (s VarSpec) size() int {
	return numeric.SizeOf(s.Shape)
}

func (s VarSpec) shape() []int {
	if len(s.Shape) == 0 {
		return []int{1}
	}
	return append([]int(nil), s.Shape...)
}

func (s VarSpec) initial(mode numeric.Mode) (numeric.Value, error) {
	if s.Default == nil {
		return numeric.Zeros(s.shape(), mode), nil
	}
	if len(s.Default) == 1 && s.size() > 1 {
		return numeric.Filled(s.shape(), mode, s.Default[0]), nil
	}
	v, err := numeric.New(s.shape(), s.Default)
	if err != nil {
		return numeric.Value{}, fmt.Errorf("default of '%s': %w", s.Name, err)
	}
	return v.As(mode), nil
}

// Declarations is what a component reports about itself during setup.
type Declarations struct {
	Inputs  []VarSpec
	Outputs []VarSpec
}

// Component is a leaf of a model: it maps its inputs to its outputs and can
// report the partial derivatives of that map. Every output is assumed to
// depend on every input; blocks a component leaves unset are zero.
type Component interface {
	// Declare reports the component's variables. It is called on every Setup.
	Declare(ctx context.Context) (*Declarations, error)
	// Compute reads in and writes every output into out. Both vectors share
	// the problem's current arithmetic mode.
	Compute(ctx context.Context, in *Vector, out *Vector) error
	// ComputePartials fills jac with d(output)/d(input) blocks at the point
	// given by in. It is only called in real mode.
	ComputePartials(ctx context.Context, in *Vector, jac *Jacobian) error
}

// Vector is a named set of shaped values in one arithmetic mode, handed to a
// component for a single call.
type Vector struct {
	mode  numeric.Mode
	names []string
	specs map[string]VarSpec
	vals  map[string]numeric.Value
}

func newVector(mode numeric.Mode, specs []VarSpec) *Vector {
	v := &Vector{
		mode:  mode,
		specs: make(map[string]VarSpec, len(specs)),
		vals:  make(map[string]numeric.Value, len(specs)),
	}
	for _, s := range specs {
		v.names = append(v.names, s.Name)
		v.specs[s.Name] = s
		v.vals[s.Name] = numeric.Zeros(s.shape(), mode)
	}
	return v
}

// NewVector builds a vector from specs and initial values, for driving a
// component outside of a problem (in tests, for example).
func NewVector(mode numeric.Mode, specs []VarSpec, values map[string]numeric.Value) (*Vector, error) {
	v := newVector(mode, specs)
	for name, val := range values {
		if err := v.Set(name, val); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Mode reports the arithmetic the vector's values are stored in.
func (v *Vector) Mode() numeric.Mode {
	return v.mode
}

// Names returns the variable names in declaration order.
func (v *Vector) Names() []string {
	return append([]string(nil), v.names...)
}

// Get returns the named value. Unknown names return an empty value and false.
func (v *Vector) Get(name string) (numeric.Value, bool) {
	val, ok := v.vals[name]
	return val, ok
}

// Set stores a value, converting it to the vector's mode. The size must match
// the declared shape.
func (v *Vector) Set(name string, val numeric.Value) error {
	spec, ok := v.specs[name]
	if !ok {
		return fmt.Errorf("%w: '%s'", ErrUnknownVariable, name)
	}
	if val.Size() != spec.size() {
		return fmt.Errorf("variable '%s' has size %d, got a value of size %d", name, spec.size(), val.Size())
	}
	converted, err := val.As(v.mode).Reshape(spec.shape())
	if err != nil {
		return err
	}
	v.vals[name] = converted
	return nil
}

// Pair addresses one derivative block: d(Of)/d(Wrt).
type Pair struct {
	Of  string
	Wrt string
}

// String implements fmt.Stringer.
func (p Pair) String() string {
	return fmt.Sprintf("d(%s)/d(%s)", p.Of, p.Wrt)
}

// Jacobian holds a component's dense partial derivative blocks, one per
// (output, input) pair, all initialized to zero.
type Jacobian struct {
	rows   map[string]int
	cols   map[string]int
	blocks map[Pair]numeric.Matrix
}

func newJacobian(decl *Declarations) *Jacobian {
	j := &Jacobian{
		rows:   make(map[string]int),
		cols:   make(map[string]int),
		blocks: make(map[Pair]numeric.Matrix),
	}
	for _, o := range decl.Outputs {
		j.rows[o.Name] = o.size()
	}
	for _, i := range decl.Inputs {
		j.cols[i.Name] = i.size()
	}
	for _, o := range decl.Outputs {
		for _, i := range decl.Inputs {
			j.blocks[Pair{Of: o.Name, Wrt: i.Name}] = numeric.NewMatrix(o.size(), i.size())
		}
	}
	return j
}

// NewJacobian builds an empty Jacobian for the given declarations.
func NewJacobian(decl *Declarations) *Jacobian {
	return newJacobian(decl)
}

// Set replaces one block. Its dimensions must match the variable sizes.
func (j *Jacobian) Set(of, wrt string, m numeric.Matrix) error {
	key := Pair{Of: of, Wrt: wrt}
	if _, ok := j.blocks[key]; !ok {
		return fmt.Errorf("%w: no partial block %s", ErrUnknownVariable, key)
	}
	if m.Rows != j.rows[of] || m.Cols != j.cols[wrt] || len(m.Data) != m.Rows*m.Cols {
		return fmt.Errorf("partial %s must be %dx%d, got %dx%d", key, j.rows[of], j.cols[wrt], m.Rows, m.Cols)
	}
	j.blocks[key] = m.Clone()
	return nil
}

// Get returns one block.
func (j *Jacobian) Get(of, wrt string) (numeric.Matrix, bool) {
	m, ok := j.blocks[Pair{Of: of, Wrt: wrt}]
	return m, ok
}
