package expr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// constants are names that evaluate to fixed values unless a model declares a
// variable with the same name.
var constants = map[string]float64{
	"pi": 3.141592653589793,
	"e":  2.718281828459045,
}

// Expr is a compiled arithmetic expression over named variables.
type Expr struct {
	src   string
	node  hclsyntax.Expression
	refs  []string
	funcs []string
}

// Parse compiles an expression written in HCL syntax, e.g. `r * cos(theta)`.
func Parse(src string) (*Expr, error) {
	node, diags := hclsyntax.ParseExpression([]byte(src), "expr", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse expression %q: %w", src, diags)
	}
	return compile(src, node)
}

// FromHCL compiles an expression taken directly from a parsed HCL body. A
// quoted string such as `expr = "r * cos(theta)"` is accepted as well and
// parsed as an expression.
func FromHCL(e hcl.Expression) (*Expr, error) {
	if e == nil {
		return nil, fmt.Errorf("expression is nil")
	}
	if len(e.Variables()) == 0 {
		if v, diags := e.Value(nil); !diags.HasErrors() && v.Type() == cty.String && v.IsKnown() && !v.IsNull() {
			return Parse(v.AsString())
		}
	}
	node, ok := e.(hclsyntax.Expression)
	if !ok {
		return nil, fmt.Errorf("expression at %s is not native HCL syntax", e.Range())
	}
	return compile(e.Range().String(), node)
}

// ParseEquation splits `lhs = rhs` and compiles the right-hand side.
func ParseEquation(eq string) (string, *Expr, error) {
	lhs, rhs, ok := strings.Cut(eq, "=")
	if !ok {
		return "", nil, fmt.Errorf("equation %q has no '='", eq)
	}
	lhs = strings.TrimSpace(lhs)
	if !hclsyntax.ValidIdentifier(lhs) {
		return "", nil, fmt.Errorf("equation %q: left-hand side %q is not a valid name", eq, lhs)
	}
	e, err := Parse(strings.TrimSpace(rhs))
	if err != nil {
		return "", nil, fmt.Errorf("equation %q: %w", eq, err)
	}
	return lhs, e, nil
}

func compile(src string, node hclsyntax.Expression) (*Expr, error) {
	if err := check(node); err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	refs, funcs := extractReferencesAndFunctions(node)
	for _, f := range funcs {
		if _, ok := arity[f]; !ok {
			return nil, fmt.Errorf("expression %q: unknown function %q", src, f)
		}
	}
	return &Expr{src: src, node: node, refs: refs, funcs: funcs}, nil
}

// String returns the expression source.
func (e *Expr) String() string {
	return e.src
}

// References returns the sorted variable names the expression reads,
// excluding built-in constants.
func (e *Expr) References() []string {
	return append([]string(nil), e.refs...)
}

// CalledFunctions returns the sorted names of the functions the expression calls.
func (e *Expr) CalledFunctions() []string {
	return append([]string(nil), e.funcs...)
}

// check rejects syntax the evaluator does not implement, so errors surface
// when a model is built rather than on its first run.
func check(expr hclsyntax.Expression) error {
	switch e := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		if e.Val.Type() != cty.Number {
			return fmt.Errorf("only numeric literals are supported, got %s", e.Val.Type().FriendlyName())
		}
		return nil
	case *hclsyntax.ScopeTraversalExpr:
		if len(e.Traversal) != 1 {
			return fmt.Errorf("variable reference %q must be a plain name", rootName(e.Traversal))
		}
		return nil
	case *hclsyntax.BinaryOpExpr:
		if _, ok := binaryOps[e.Op]; !ok {
			return fmt.Errorf("unsupported operator")
		}
		if err := check(e.LHS); err != nil {
			return err
		}
		return check(e.RHS)
	case *hclsyntax.UnaryOpExpr:
		if e.Op != hclsyntax.OpNegate {
			return fmt.Errorf("unsupported unary operator")
		}
		return check(e.Val)
	case *hclsyntax.FunctionCallExpr:
		if e.ExpandFinal {
			return fmt.Errorf("argument expansion is not supported in call to %q", e.Name)
		}
		if n, ok := arity[e.Name]; ok && n != len(e.Args) {
			return fmt.Errorf("function %q takes %d argument(s), got %d", e.Name, n, len(e.Args))
		}
		for _, arg := range e.Args {
			if err := check(arg); err != nil {
				return err
			}
		}
		return nil
	case *hclsyntax.ParenthesesExpr:
		return check(e.Expression)
	default:
		return fmt.Errorf("unsupported expression type %T", expr)
	}
}

func rootName(t hcl.Traversal) string {
	return strings.TrimSpace(traversalKey(t))
}

// extractReferencesAndFunctions walks HCL expressions to find all unique
// variable names and function calls. The returned slices are sorted to
// ensure a deterministic order.
func extractReferencesAndFunctions(exprs ...hclsyntax.Expression) ([]string, []string) {
	names := make(map[string]struct{})
	functions := make(map[string]struct{})

	for _, expr := range exprs {
		if expr == nil {
			continue
		}
		// Use the built-in Variables() method for robust variable collection.
		for _, traversal := range expr.Variables() {
			name := traversal.RootName()
			if _, isConst := constants[name]; isConst {
				continue
			}
			names[name] = struct{}{}
		}
		// Walk the syntax tree to find what Variables() doesn't give us: function calls.
		walkForFunctions(expr, functions)
	}

	return sortedKeys(names), sortedKeys(functions)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// walkForFunctions recursively walks the AST, looking only for function calls.
func walkForFunctions(expr hclsyntax.Expression, functions map[string]struct{}) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		functions[e.Name] = struct{}{}
		for _, arg := range e.Args {
			walkForFunctions(arg, functions)
		}
	case *hclsyntax.BinaryOpExpr:
		walkForFunctions(e.LHS, functions)
		walkForFunctions(e.RHS, functions)
	case *hclsyntax.UnaryOpExpr:
		walkForFunctions(e.Val, functions)
	case *hclsyntax.ParenthesesExpr:
		walkForFunctions(e.Expression, functions)
	}
}
