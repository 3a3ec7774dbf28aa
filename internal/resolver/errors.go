package resolver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateAlias indicates that a selector's alias is already bound.
	ErrDuplicateAlias = errors.New("duplicate alias")
	// ErrUnknownVariable indicates that a selector matches no variable.
	ErrUnknownVariable = errors.New("unknown variable")
	// ErrAmbiguousVariable indicates that a bare name matches several
	// promoted names.
	ErrAmbiguousVariable = errors.New("ambiguous variable")
	// ErrInvalidSelector indicates a selector that is neither a name nor a
	// (promoted, alias) pair.
	ErrInvalidSelector = errors.New("invalid selector")
)

// SelectorError reports why one selector could not be resolved. It matches
// one of the sentinel errors of this package with errors.Is.
type SelectorError struct {
	Selector Selector
	// Matches lists the competing promoted names of an ambiguous selector.
	Matches []string
	Detail  string
	Err     error
}

func (e *SelectorError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Err.Error())
	if e.Selector.kind != kindInvalid {
		fmt.Fprintf(&sb, " '%s'", e.Selector)
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

func (e *SelectorError) Unwrap() error {
	return e.Err
}
