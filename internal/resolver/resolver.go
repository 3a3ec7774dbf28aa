// Package resolver maps user selectors onto the variables of a model.
//
// A model lists its variables with a canonical name (unique, the full path)
// and a promoted name (how the model's own namespace addresses it, possibly
// shared by several canonical variables). Selectors name the variables to
// expose and the aliases to expose them under.
package resolver

import (
	"fmt"
	"slices"
	"strings"

	"github.com/specialistvlad/subgrid/internal/varpath"
)

// VariableDescriptor is the metadata of one model variable.
type VariableDescriptor struct {
	Canonical   string
	Promoted    string
	Units       string
	Shape       []int
	Description string
}

// Table is an ordered snapshot of a model's variables.
type Table []VariableDescriptor

// Binding is one resolved selector: the alias it is exposed under, the
// promoted name it addresses, and every variable sharing that promoted name.
type Binding struct {
	Alias    string
	Promoted string
	Vars     []VariableDescriptor
}

// Meta returns the descriptor used to declare the binding to a parent model.
func (b Binding) Meta() VariableDescriptor {
	return b.Vars[0]
}

// Bindings is an ordered, alias-unique set of bindings.
type Bindings []Binding

// Aliases returns the aliases in binding order.
func (bs Bindings) Aliases() []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.Alias
	}
	return out
}

// Lookup finds the binding for an alias.
func (bs Bindings) Lookup(alias string) (Binding, bool) {
	for _, b := range bs {
		if b.Alias == alias {
			return b, true
		}
	}
	return Binding{}, false
}

// Resolve binds each selector to entries of table, in selector order. Aliases
// in taken count as already bound; the map is not modified. Later selectors
// see the aliases bound by earlier ones.
func Resolve(table Table, selectors []Selector, taken map[string]struct{}) (Bindings, error) {
	bound := make(map[string]struct{}, len(taken)+len(selectors))
	for alias := range taken {
		bound[alias] = struct{}{}
	}

	out := make(Bindings, 0, len(selectors))
	for _, sel := range selectors {
		b, err := resolveOne(table, sel, bound)
		if err != nil {
			return nil, err
		}
		bound[b.Alias] = struct{}{}
		out = append(out, b)
	}
	return out, nil
}

func resolveOne(table Table, sel Selector, bound map[string]struct{}) (Binding, error) {
	switch sel.kind {
	case kindAlias:
		if sel.name == "" || sel.promoted == "" {
			return Binding{}, &SelectorError{Selector: sel, Err: ErrInvalidSelector, Detail: "pair needs a promoted name and an alias"}
		}
		if _, ok := bound[sel.name]; ok {
			return Binding{}, &SelectorError{Selector: sel, Err: ErrDuplicateAlias,
				Detail: fmt.Sprintf("variable '%s' already exists; rename it or drop the copy", sel.name)}
		}
		var vars []VariableDescriptor
		for _, d := range table {
			if d.Promoted == sel.promoted {
				vars = append(vars, d)
			}
		}
		if len(vars) == 0 {
			return Binding{}, &SelectorError{Selector: sel, Err: ErrUnknownVariable,
				Detail: fmt.Sprintf("promoted name '%s' does not exist in model", sel.promoted)}
		}
		return Binding{Alias: sel.name, Promoted: sel.promoted, Vars: vars}, nil

	case kindName:
		if sel.name == "" {
			return Binding{}, &SelectorError{Selector: sel, Err: ErrInvalidSelector, Detail: "empty name"}
		}
		if _, ok := bound[sel.name]; ok {
			return Binding{}, &SelectorError{Selector: sel, Err: ErrDuplicateAlias,
				Detail: fmt.Sprintf("variable '%s' already exists; rename it or drop the copy", sel.name)}
		}
		var promoted []string
		matches := make(map[string][]VariableDescriptor)
		for _, d := range table {
			if !varpath.HasSuffix(d.Promoted, sel.name) {
				continue
			}
			if _, ok := matches[d.Promoted]; !ok {
				promoted = append(promoted, d.Promoted)
			}
			matches[d.Promoted] = append(matches[d.Promoted], d)
		}
		switch len(promoted) {
		case 0:
			return Binding{}, &SelectorError{Selector: sel, Err: ErrUnknownVariable,
				Detail: fmt.Sprintf("variable '%s' does not exist in model", sel.name)}
		case 1:
			return Binding{Alias: sel.name, Promoted: promoted[0], Vars: matches[promoted[0]]}, nil
		default:
			slices.Sort(promoted)
			return Binding{}, &SelectorError{Selector: sel, Err: ErrAmbiguousVariable, Matches: promoted,
				Detail: fmt.Sprintf("matches %s; use a [promoted, alias] pair to pick one", strings.Join(promoted, ", "))}
		}

	default:
		return Binding{}, &SelectorError{Selector: sel, Err: ErrInvalidSelector, Detail: "selector is neither a name nor a pair"}
	}
}
