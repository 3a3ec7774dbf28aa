package hclmodel

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/specialistvlad/subgrid/internal/engine"
	"github.com/specialistvlad/subgrid/internal/expr"
	"github.com/specialistvlad/subgrid/internal/numeric"
	"github.com/specialistvlad/subgrid/internal/resolver"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// hclFile is the top-level structure of a model file.
type hclFile struct {
	Models []*hclModel `hcl:"model,block"`
}

type hclModel struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

var childBlocks = []hcl.BlockHeaderSchema{
	{Type: "component", LabelNames: []string{"name"}},
	{Type: "group", LabelNames: []string{"name"}},
	{Type: "subproblem", LabelNames: []string{"name"}},
	{Type: "connect"},
}

// modelBodySchema defines the body of a `model` block.
var modelBodySchema = &hcl.BodySchema{Blocks: childBlocks}

// groupBodySchema defines the body of a `group` block.
var groupBodySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "promotes"}, {Name: "promotes_inputs"}, {Name: "promotes_outputs"},
	},
	Blocks: childBlocks,
}

type hclComponent struct {
	Equations       []*hclEquation `hcl:"equation,block"`
	Inputs          []*hclVariable `hcl:"input,block"`
	Outputs         []*hclVariable `hcl:"output,block"`
	Promotes        []string       `hcl:"promotes,optional"`
	PromotesInputs  []string       `hcl:"promotes_inputs,optional"`
	PromotesOutputs []string       `hcl:"promotes_outputs,optional"`
}

type hclEquation struct {
	Output string         `hcl:"output,label"`
	Expr   hcl.Expression `hcl:"expr,attr"`
}

type hclVariable struct {
	Name        string         `hcl:"name,label"`
	Default     hcl.Expression `hcl:"default,optional"`
	Shape       []int          `hcl:"shape,optional"`
	Units       string         `hcl:"units,optional"`
	Description string         `hcl:"description,optional"`
}

type hclSubproblem struct {
	Model           string         `hcl:"model,attr"`
	Inputs          hcl.Expression `hcl:"inputs,optional"`
	Outputs         hcl.Expression `hcl:"outputs,optional"`
	Driver          string         `hcl:"driver,optional"`
	Reports         bool           `hcl:"reports,optional"`
	Options         hcl.Expression `hcl:"options,optional"`
	Promotes        []string       `hcl:"promotes,optional"`
	PromotesInputs  []string       `hcl:"promotes_inputs,optional"`
	PromotesOutputs []string       `hcl:"promotes_outputs,optional"`
}

type hclConnect struct {
	Src string `hcl:"src,attr"`
	Tgt string `hcl:"tgt,attr"`
}

// Drivers lists the driver names a subproblem block accepts.
var Drivers = map[string]engine.Driver{
	"run_once": engine.RunOnce{},
}

func errorDiag(summary, detail string, subject *hcl.Range) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
		Subject:  subject,
	}
}

// decodeModel translates a `model` block into a Model.
func decodeModel(m *hclModel, filePath string) (*Model, hcl.Diagnostics) {
	content, diags := m.Body.Content(modelBodySchema)
	if diags.HasErrors() {
		return nil, diags
	}
	root, groupDiags := decodeChildren(content.Blocks)
	diags = append(diags, groupDiags...)
	if diags.HasErrors() {
		return nil, diags
	}
	return &Model{Name: m.Name, FilePath: filePath, Root: root}, diags
}

// decodeChildren translates the child blocks of a model or group body, in
// source order.
func decodeChildren(blocks hcl.Blocks) (*Group, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	g := &Group{}
	seen := make(map[string]*hcl.Block)

	for _, block := range blocks {
		if block.Type == "connect" {
			var conn hclConnect
			connDiags := gohcl.DecodeBody(block.Body, nil, &conn)
			diags = append(diags, connDiags...)
			if !connDiags.HasErrors() {
				g.Connections = append(g.Connections, Connection{Src: conn.Src, Tgt: conn.Tgt})
			}
			continue
		}

		name := block.Labels[0]
		if prev, ok := seen[name]; ok {
			diags = append(diags, errorDiag(
				"Duplicate child name",
				fmt.Sprintf("A %s named %q was already declared at %s.", prev.Type, name, prev.DefRange),
				&block.DefRange,
			))
			continue
		}
		seen[name] = block

		var child *Child
		var childDiags hcl.Diagnostics
		switch block.Type {
		case "component":
			child, childDiags = decodeComponent(block)
		case "group":
			child, childDiags = decodeGroup(block)
		case "subproblem":
			child, childDiags = decodeSubproblem(block)
		}
		diags = append(diags, childDiags...)
		if child != nil {
			g.Children = append(g.Children, child)
		}
	}
	return g, diags
}

func decodeGroup(block *hcl.Block) (*Child, hcl.Diagnostics) {
	content, diags := block.Body.Content(groupBodySchema)
	if diags.HasErrors() {
		return nil, diags
	}

	lists := make(map[string][]string, 3)
	for name, attr := range content.Attributes {
		var patterns []string
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &patterns)...)
		lists[name] = patterns
	}
	group, groupDiags := decodeChildren(content.Blocks)
	diags = append(diags, groupDiags...)
	if diags.HasErrors() {
		return nil, diags
	}

	return &Child{
		Name: block.Labels[0],
		Promotes: engine.Promotes{
			Any:     lists["promotes"],
			Inputs:  lists["promotes_inputs"],
			Outputs: lists["promotes_outputs"],
		},
		Group: group,
	}, diags
}

func decodeComponent(block *hcl.Block) (*Child, hcl.Diagnostics) {
	var c hclComponent
	diags := gohcl.DecodeBody(block.Body, nil, &c)
	if diags.HasErrors() {
		return nil, diags
	}
	if len(c.Equations) == 0 {
		return nil, append(diags, errorDiag(
			"Missing equation",
			fmt.Sprintf("Component %q needs at least one equation block.", block.Labels[0]),
			&block.DefRange,
		))
	}

	comp := &Component{}
	for _, eq := range c.Equations {
		e, err := expr.FromHCL(eq.Expr)
		if err != nil {
			diags = append(diags, errorDiag("Invalid equation", err.Error(), eq.Expr.Range().Ptr()))
			continue
		}
		comp.Equations = append(comp.Equations, engine.Equation{Output: eq.Output, Expr: e})
	}
	for _, v := range append(c.Inputs, c.Outputs...) {
		spec, varDiags := decodeVariable(v)
		diags = append(diags, varDiags...)
		if !varDiags.HasErrors() {
			comp.Vars = append(comp.Vars, spec)
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}

	// Catch name mistakes here, where the block's location is known.
	if _, err := engine.NewExecCompFrom(comp.Equations, comp.Vars...); err != nil {
		return nil, append(diags, errorDiag("Invalid component", err.Error(), &block.DefRange))
	}

	return &Child{
		Name:      block.Labels[0],
		Promotes:  engine.Promotes{Any: c.Promotes, Inputs: c.PromotesInputs, Outputs: c.PromotesOutputs},
		Component: comp,
	}, diags
}

func decodeVariable(v *hclVariable) (engine.VarSpec, hcl.Diagnostics) {
	spec := engine.VarSpec{Name: v.Name, Shape: v.Shape, Units: v.Units, Description: v.Description}
	for _, d := range v.Shape {
		if d <= 0 {
			return spec, hcl.Diagnostics{errorDiag(
				"Invalid shape",
				fmt.Sprintf("Every dimension of %q must be positive, got %v.", v.Name, v.Shape),
				v.Default.Range().Ptr(),
			)}
		}
	}

	def, diags := decodeDefault(v.Name, v.Default)
	if diags.HasErrors() {
		return spec, diags
	}
	if def != nil && len(def) != 1 && len(def) != numeric.SizeOf(v.Shape) {
		return spec, append(diags, errorDiag(
			"Invalid default value",
			fmt.Sprintf("The default of %q has %d elements but its shape %v holds %d.", v.Name, len(def), v.Shape, numeric.SizeOf(v.Shape)),
			v.Default.Range().Ptr(),
		))
	}
	spec.Default = def
	return spec, diags
}

// decodeDefault reads a number or a flat list of numbers. A missing default
// decodes to nil.
func decodeDefault(name string, e hcl.Expression) ([]float64, hcl.Diagnostics) {
	val, diags := e.Value(nil)
	if diags.HasErrors() || val.IsNull() {
		return nil, diags
	}
	invalid := func(detail string) ([]float64, hcl.Diagnostics) {
		return nil, append(diags, errorDiag("Invalid default value", detail, e.Range().Ptr()))
	}

	if val.Type() == cty.Number {
		var f float64
		if err := gocty.FromCtyValue(val, &f); err != nil {
			return invalid(fmt.Sprintf("The default of %q: %s.", name, err))
		}
		return []float64{f}, diags
	}

	list, err := convert.Convert(val, cty.List(cty.Number))
	if err != nil {
		return invalid(fmt.Sprintf("The default of %q must be a number or a list of numbers.", name))
	}
	var out []float64
	if err := gocty.FromCtyValue(list, &out); err != nil {
		return invalid(fmt.Sprintf("The default of %q: %s.", name, err))
	}
	return out, diags
}

func decodeSubproblem(block *hcl.Block) (*Child, hcl.Diagnostics) {
	var s hclSubproblem
	diags := gohcl.DecodeBody(block.Body, nil, &s)
	if diags.HasErrors() {
		return nil, diags
	}

	inputs, inDiags := decodeSelectors(s.Inputs)
	diags = append(diags, inDiags...)
	outputs, outDiags := decodeSelectors(s.Outputs)
	diags = append(diags, outDiags...)
	options, optDiags := decodeOptions(s.Options)
	diags = append(diags, optDiags...)

	if _, ok := Drivers[s.Driver]; s.Driver != "" && !ok {
		diags = append(diags, errorDiag(
			"Unsupported driver",
			fmt.Sprintf("The driver %q is not known. Supported drivers are: run_once.", s.Driver),
			&block.DefRange,
		))
	}
	if diags.HasErrors() {
		return nil, diags
	}

	return &Child{
		Name:     block.Labels[0],
		Promotes: engine.Promotes{Any: s.Promotes, Inputs: s.PromotesInputs, Outputs: s.PromotesOutputs},
		Subproblem: &Subproblem{
			Model:   s.Model,
			Inputs:  inputs,
			Outputs: outputs,
			Driver:  s.Driver,
			Reports: s.Reports,
			Options: options,
		},
	}, diags
}

// decodeSelectors reads a list whose elements are promoted names or
// [promoted, alias] pairs.
func decodeSelectors(e hcl.Expression) ([]resolver.Selector, hcl.Diagnostics) {
	val, diags := e.Value(nil)
	if diags.HasErrors() || val.IsNull() {
		return nil, diags
	}
	ty := val.Type()
	if !ty.IsTupleType() && !ty.IsListType() {
		return nil, append(diags, errorDiag(
			"Invalid selector list",
			"Expected a list of names or [promoted, alias] pairs.",
			e.Range().Ptr(),
		))
	}

	var out []resolver.Selector
	for it := val.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		sel, err := resolver.SelectorFromCty(elem)
		if err != nil {
			diags = append(diags, errorDiag("Invalid selector", err.Error(), e.Range().Ptr()))
			continue
		}
		out = append(out, sel)
	}
	return out, diags
}

// decodeOptions reads an object of string, number or bool values.
func decodeOptions(e hcl.Expression) (map[string]any, hcl.Diagnostics) {
	val, diags := e.Value(nil)
	if diags.HasErrors() || val.IsNull() {
		return nil, diags
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, append(diags, errorDiag("Invalid options", "Expected an object.", e.Range().Ptr()))
	}

	out := make(map[string]any, val.LengthInt())
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		key := k.AsString()
		var err error
		switch v.Type() {
		case cty.String:
			out[key] = v.AsString()
		case cty.Bool:
			out[key] = v.True()
		case cty.Number:
			var f float64
			err = gocty.FromCtyValue(v, &f)
			out[key] = f
		default:
			err = fmt.Errorf("type %s is not supported", v.Type().FriendlyName())
		}
		if err != nil {
			diags = append(diags, errorDiag("Invalid options", fmt.Sprintf("Option %q: %s.", key, err), e.Range().Ptr()))
		}
	}
	return out, diags
}
