package resolver

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

type selectorKind int

const (
	kindInvalid selectorKind = iota
	kindName
	kindAlias
)

// Selector picks variables of a model to expose. It is either a bare name,
// matched as a dotted suffix of promoted names, or an alias pair that binds an
// exact promoted name under a new name. The zero Selector is invalid.
type Selector struct {
	kind     selectorKind
	name     string
	promoted string
}

// Name selects the single variable whose promoted name is suffix or ends in
// "."+suffix, exposed as suffix.
func Name(suffix string) Selector {
	return Selector{kind: kindName, name: suffix}
}

// Alias selects every variable promoted as promoted, exposed as alias.
func Alias(promoted, alias string) Selector {
	return Selector{kind: kindAlias, name: alias, promoted: promoted}
}

// Alias returns the name the selection is exposed under.
func (s Selector) Alias() string {
	return s.name
}

// IsPair reports whether s is an alias pair.
func (s Selector) IsPair() bool {
	return s.kind == kindAlias
}

// String formats the selector the way ParseSelector reads it.
func (s Selector) String() string {
	switch s.kind {
	case kindName:
		return s.name
	case kindAlias:
		return s.promoted + ":" + s.name
	default:
		return "<invalid selector>"
	}
}

// ParseSelector reads `name` or `promoted:alias`.
func ParseSelector(text string) (Selector, error) {
	text = strings.TrimSpace(text)
	promoted, alias, isPair := strings.Cut(text, ":")
	switch {
	case text == "":
		return Selector{}, &SelectorError{Selector: Selector{}, Err: ErrInvalidSelector, Detail: "empty selector"}
	case !isPair:
		return Name(text), nil
	case promoted == "" || alias == "" || strings.Contains(alias, ":"):
		return Selector{}, &SelectorError{Selector: Selector{}, Err: ErrInvalidSelector, Detail: fmt.Sprintf("%q is not of the form promoted:alias", text)}
	default:
		return Alias(promoted, alias), nil
	}
}

// SelectorFromCty decodes a selector written in a model file: a string is a
// bare name and a two-element list or tuple of strings is a
// (promoted, alias) pair.
func SelectorFromCty(v cty.Value) (Selector, error) {
	invalid := func(detail string) (Selector, error) {
		return Selector{}, &SelectorError{Err: ErrInvalidSelector, Detail: detail}
	}
	if v.IsNull() || !v.IsWhollyKnown() {
		return invalid("selector must be known and not null")
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return Name(v.AsString()), nil
	case ty.IsTupleType() || ty.IsListType():
		if v.LengthInt() != 2 {
			return invalid(fmt.Sprintf("a pair needs exactly 2 elements, got %d", v.LengthInt()))
		}
		parts := make([]string, 0, 2)
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			if elem.IsNull() || elem.Type() != cty.String {
				return invalid("pair elements must be strings")
			}
			if elem.AsString() == "" {
				return invalid("pair elements must not be empty")
			}
			parts = append(parts, elem.AsString())
		}
		return Alias(parts[0], parts[1]), nil
	default:
		return invalid(fmt.Sprintf("type %s is invalid; use a string or a [promoted, alias] pair", ty.FriendlyName()))
	}
}
