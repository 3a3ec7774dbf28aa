package expr

import (
	"fmt"
	"math"

	"github.com/hashicorp/hcl/v2/hclsyntax"
)

// Number is the element type an expression can be evaluated in.
type Number interface {
	float64 | complex128
}

// Env resolves a variable name to its flattened values.
type Env[T Number] func(name string) ([]T, bool)

// MapEnv adapts a map to an Env.
func MapEnv[T Number](m map[string][]T) Env[T] {
	return func(name string) ([]T, bool) {
		v, ok := m[name]
		return v, ok
	}
}

var binaryOps = map[*hclsyntax.Operation]byte{
	hclsyntax.OpAdd:      '+',
	hclsyntax.OpSubtract: '-',
	hclsyntax.OpMultiply: '*',
	hclsyntax.OpDivide:   '/',
	hclsyntax.OpModulo:   '%',
}

// Eval evaluates the expression element-wise. Operands of length one are
// broadcast against longer operands; any other length mismatch is an error.
func Eval[T Number](e *Expr, env Env[T]) ([]T, error) {
	out, err := eval(e.node, env)
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", e.src, err)
	}
	return out, nil
}

func eval[T Number](node hclsyntax.Expression, env Env[T]) ([]T, error) {
	switch x := node.(type) {
	case *hclsyntax.LiteralValueExpr:
		f, _ := x.Val.AsBigFloat().Float64()
		return []T{fromFloat[T](f)}, nil

	case *hclsyntax.ScopeTraversalExpr:
		name := x.Traversal.RootName()
		if v, ok := env(name); ok {
			return v, nil
		}
		if c, ok := constants[name]; ok {
			return []T{fromFloat[T](c)}, nil
		}
		return nil, fmt.Errorf("undefined variable %q", name)

	case *hclsyntax.ParenthesesExpr:
		return eval(x.Expression, env)

	case *hclsyntax.UnaryOpExpr:
		v, err := eval(x.Val, env)
		if err != nil {
			return nil, err
		}
		out := make([]T, len(v))
		for i := range v {
			out[i] = -v[i]
		}
		return out, nil

	case *hclsyntax.BinaryOpExpr:
		lhs, err := eval(x.LHS, env)
		if err != nil {
			return nil, err
		}
		rhs, err := eval(x.RHS, env)
		if err != nil {
			return nil, err
		}
		op := binaryOps[x.Op]
		return broadcast([][]T{lhs, rhs}, func(args []T) (T, error) {
			return binary(op, args[0], args[1])
		})

	case *hclsyntax.FunctionCallExpr:
		args := make([][]T, len(x.Args))
		for i, a := range x.Args {
			v, err := eval(a, env)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return broadcast(args, func(scalars []T) (T, error) {
			return apply(x.Name, scalars)
		})

	default:
		return nil, fmt.Errorf("unsupported expression type %T", node)
	}
}

func binary[T Number](op byte, a, b T) (T, error) {
	switch op {
	case '+':
		return a + b, nil
	case '-':
		return a - b, nil
	case '*':
		return a * b, nil
	case '/':
		return a / b, nil
	case '%':
		if fa, ok := any(a).(float64); ok {
			return any(math.Mod(fa, any(b).(float64))).(T), nil
		}
		return any(complexMod(any(a).(complex128), any(b).(complex128))).(T), nil
	default:
		var zero T
		return zero, fmt.Errorf("unsupported operator %q", op)
	}
}

// complexMod is a - b*trunc(a/b) with the quotient taken from the real
// parts, so the imaginary parts carry d/da = 1 and d/db = -trunc(a/b).
func complexMod(a, b complex128) complex128 {
	q := math.Trunc(real(a) / real(b))
	return complex(math.Mod(real(a), real(b)), imag(a)-q*imag(b))
}

// broadcast applies f element-wise across operands of equal length, treating
// length-one operands as scalars.
func broadcast[T Number](operands [][]T, f func([]T) (T, error)) ([]T, error) {
	n := 1
	for _, o := range operands {
		if len(o) == 0 {
			return nil, fmt.Errorf("empty operand")
		}
		if len(o) > 1 {
			if n > 1 && len(o) != n {
				return nil, fmt.Errorf("operand sizes %d and %d cannot be broadcast", n, len(o))
			}
			n = len(o)
		}
	}

	out := make([]T, n)
	scalars := make([]T, len(operands))
	for i := 0; i < n; i++ {
		for j, o := range operands {
			if len(o) == 1 {
				scalars[j] = o[0]
			} else {
				scalars[j] = o[i]
			}
		}
		v, err := f(scalars)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func fromFloat[T Number](f float64) T {
	var zero T
	switch any(zero).(type) {
	case complex128:
		return any(complex(f, 0)).(T)
	default:
		return any(f).(T)
	}
}
