// Package numeric defines the values exchanged between models: shaped
// vectors stored either as float64 or as complex128, the arithmetic mode that
// selects between the two, and dense derivative matrices.
package numeric

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Mode selects the arithmetic a model evaluates in.
type Mode int

const (
	// Real is ordinary float64 evaluation.
	Real Mode = iota
	// Complex evaluates in complex128 so derivatives can be checked by
	// complex-step perturbation.
	Complex
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Real:
		return "real"
	case Complex:
		return "complex"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Value is a flat, shaped numeric buffer. Exactly one of the real or complex
// buffers is in use, depending on the mode the value was created in. The zero
// Value is empty and has no shape.
type Value struct {
	shape []int
	re    []float64
	cx    []complex128
}

// SizeOf returns the number of elements described by shape. A nil or empty
// shape describes a scalar.
func SizeOf(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func normShape(shape []int, n int) []int {
	if len(shape) == 0 {
		return []int{n}
	}
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}

// Scalar returns a real value of shape [1].
func Scalar(f float64) Value {
	return Value{shape: []int{1}, re: []float64{f}}
}

// New returns a real value holding a copy of data. A nil shape means a flat
// vector of len(data).
func New(shape []int, data []float64) (Value, error) {
	shape = normShape(shape, len(data))
	if SizeOf(shape) != len(data) {
		return Value{}, fmt.Errorf("shape %v needs %d elements, got %d", shape, SizeOf(shape), len(data))
	}
	re := make([]float64, len(data))
	copy(re, data)
	return Value{shape: shape, re: re}, nil
}

// MustNew is New for literals known to be consistent.
func MustNew(shape []int, data ...float64) Value {
	v, err := New(shape, data)
	if err != nil {
		panic(err)
	}
	return v
}

// NewComplex returns a complex value holding a copy of data.
func NewComplex(shape []int, data []complex128) (Value, error) {
	shape = normShape(shape, len(data))
	if SizeOf(shape) != len(data) {
		return Value{}, fmt.Errorf("shape %v needs %d elements, got %d", shape, SizeOf(shape), len(data))
	}
	cx := make([]complex128, len(data))
	copy(cx, data)
	return Value{shape: shape, cx: cx}, nil
}

// Zeros allocates a zero value of the given shape in the given mode.
func Zeros(shape []int, mode Mode) Value {
	return Filled(shape, mode, 0)
}

// Filled allocates a value of the given shape with every element set to f.
func Filled(shape []int, mode Mode, f float64) Value {
	n := SizeOf(shape)
	v := Value{shape: normShape(shape, n)}
	if mode == Complex {
		v.cx = make([]complex128, n)
		for i := range v.cx {
			v.cx[i] = complex(f, 0)
		}
		return v
	}
	v.re = make([]float64, n)
	for i := range v.re {
		v.re[i] = f
	}
	return v
}

// Shape returns a copy of the value's shape.
func (v Value) Shape() []int {
	out := make([]int, len(v.shape))
	copy(out, v.shape)
	return out
}

// Size returns the number of elements.
func (v Value) Size() int {
	if v.cx != nil {
		return len(v.cx)
	}
	return len(v.re)
}

// IsEmpty reports whether the value holds no buffer at all.
func (v Value) IsEmpty() bool {
	return v.re == nil && v.cx == nil
}

// Mode reports which buffer backs the value.
func (v Value) Mode() Mode {
	if v.cx != nil {
		return Complex
	}
	return Real
}

// At returns element i as a complex number regardless of mode.
func (v Value) At(i int) complex128 {
	if v.cx != nil {
		return v.cx[i]
	}
	return complex(v.re[i], 0)
}

// Real returns the real part of element i.
func (v Value) Real(i int) float64 {
	if v.cx != nil {
		return real(v.cx[i])
	}
	return v.re[i]
}

// Float64s returns a copy of the real parts.
func (v Value) Float64s() []float64 {
	out := make([]float64, v.Size())
	for i := range out {
		out[i] = v.Real(i)
	}
	return out
}

// Complex128s returns a copy of the elements as complex numbers.
func (v Value) Complex128s() []complex128 {
	out := make([]complex128, v.Size())
	for i := range out {
		out[i] = v.At(i)
	}
	return out
}

// Imag returns a copy of the imaginary parts; all zero for real values.
func (v Value) Imag() []float64 {
	out := make([]float64, v.Size())
	if v.cx != nil {
		for i, c := range v.cx {
			out[i] = imag(c)
		}
	}
	return out
}

// As converts the value to the requested mode. Converting a complex value to
// Real drops the imaginary parts.
func (v Value) As(mode Mode) Value {
	if v.Mode() == mode {
		return v.Clone()
	}
	out := Value{shape: v.Shape()}
	if mode == Complex {
		out.cx = v.Complex128s()
	} else {
		out.re = v.Float64s()
	}
	return out
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	out := Value{shape: v.Shape()}
	if v.re != nil {
		out.re = append([]float64(nil), v.re...)
	}
	if v.cx != nil {
		out.cx = append([]complex128(nil), v.cx...)
	}
	return out
}

// Reshape returns a copy of v with a new shape of the same size.
func (v Value) Reshape(shape []int) (Value, error) {
	if SizeOf(shape) != v.Size() {
		return Value{}, fmt.Errorf("cannot reshape %d elements to %v", v.Size(), shape)
	}
	out := v.Clone()
	out.shape = normShape(shape, v.Size())
	return out, nil
}

// IsFinite reports whether every element (both parts, in complex mode) is a
// finite number.
func (v Value) IsFinite() bool {
	for i := 0; i < v.Size(); i++ {
		c := v.At(i)
		if math.IsNaN(real(c)) || math.IsInf(real(c), 0) || math.IsNaN(imag(c)) || math.IsInf(imag(c), 0) {
			return false
		}
	}
	return true
}

// String formats the value for logs and CLI output.
func (v Value) String() string {
	parts := make([]string, v.Size())
	for i := range parts {
		if v.cx != nil {
			parts[i] = strconv.FormatComplex(v.cx[i], 'g', -1, 128)
		} else {
			parts[i] = strconv.FormatFloat(v.re[i], 'g', -1, 64)
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
