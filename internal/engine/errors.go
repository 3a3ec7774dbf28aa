package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSetup is returned when a problem is used before Setup and FinalSetup.
	ErrNotSetup = errors.New("problem is not set up")
	// ErrUnknownVariable is returned when a name matches no variable.
	ErrUnknownVariable = errors.New("unknown variable")
	// ErrNonFinite is returned when a component produces NaN or Inf.
	ErrNonFinite = errors.New("non-finite value")
	// ErrAlgebraicLoop is returned when components feed each other in a cycle.
	ErrAlgebraicLoop = errors.New("algebraic loop")
	// ErrComplexNotAllocated is returned when complex-step mode is requested on
	// a problem set up without complex storage.
	ErrComplexNotAllocated = errors.New("complex storage not allocated")
)

// ComputeError reports a failure inside one component of a model.
type ComputeError struct {
	// Component is the canonical path of the failing component.
	Component string
	// Variable is set when the failure concerns one variable.
	Variable string
	Err      error
}

func (e *ComputeError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("component '%s', variable '%s': %v", e.Component, e.Variable, e.Err)
	}
	return fmt.Sprintf("component '%s': %v", e.Component, e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}
