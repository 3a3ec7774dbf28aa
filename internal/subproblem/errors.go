package subproblem

import (
	"errors"
	"fmt"
	"strings"

	"github.com/specialistvlad/subgrid/internal/numeric"
)

var (
	// ErrInnerEvaluation indicates that evaluating the wrapped model failed.
	ErrInnerEvaluation = errors.New("inner evaluation failed")
	// ErrSensitivity indicates that computing the node's derivatives failed.
	ErrSensitivity = errors.New("sensitivity computation failed")
)

// EvaluationError reports a failed forward evaluation or sensitivity request.
// It matches its Kind and its underlying cause with errors.Is.
type EvaluationError struct {
	Node string
	// Kind is ErrInnerEvaluation or ErrSensitivity.
	Kind error
	// Stage is one of "provision", "set", "run", "get" or "totals".
	Stage string
	// Variable is the promoted name involved, when the failure concerns one.
	Variable string
	// Inputs are the values the node was asked to evaluate at, by alias.
	Inputs map[string]numeric.Value
	Err    error
}

func (e *EvaluationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "subproblem '%s': %v during %s", e.Node, e.Kind, e.Stage)
	if e.Variable != "" {
		fmt.Fprintf(&sb, " of '%s'", e.Variable)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *EvaluationError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
