// Package expr compiles and evaluates the arithmetic expressions that define
// equation components. Expressions use HCL native syntax, so they can be
// written inline in model files (`expr = r * cos(theta)`) or as strings in Go
// (`x = r*cos(theta)`), and are evaluated element-wise over either float64 or
// complex128 buffers.
package expr

import (
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclwrite"
)

// traversalKey generates a stable, canonical string representation for an
// hcl.Traversal, suitable for use as a map key or in error messages.
func traversalKey(t hcl.Traversal) string {
	return string(hclwrite.TokensForTraversal(t).Bytes())
}

// Container is a thread-safe helper that gathers compiled expressions and
// provides the union of their analysis results, such as the variables they
// read and the functions they call.
type Container struct {
	// analyzeOnce ensures the merge runs exactly once per set of expressions.
	analyzeOnce sync.Once

	mu          sync.RWMutex
	expressions []*Expr

	references      []string
	calledFunctions []string
}

// NewContainer creates a new, empty expression container.
func NewContainer() *Container {
	return &Container{}
}

// Add adds one or more expressions to the container for analysis.
// It safely ignores any nil expressions.
func (c *Container) Add(exprs ...*Expr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// NOTE: resetting the Once is only safe because Add is never called
	// concurrently with the getters; components add all of their equations
	// while being built.
	c.analyzeOnce = sync.Once{}

	for _, e := range exprs {
		if e != nil {
			c.expressions = append(c.expressions, e)
		}
	}
}

// analyze merges the per-expression results. It's guaranteed to run only once
// for a given set of expressions due to sync.Once.
func (c *Container) analyze() {
	c.analyzeOnce.Do(func() {
		c.mu.RLock()
		refs := make(map[string]struct{})
		funcs := make(map[string]struct{})
		for _, e := range c.expressions {
			for _, r := range e.refs {
				refs[r] = struct{}{}
			}
			for _, f := range e.funcs {
				funcs[f] = struct{}{}
			}
		}
		c.mu.RUnlock()

		c.mu.Lock()
		c.references = sortedKeys(refs)
		c.calledFunctions = sortedKeys(funcs)
		c.mu.Unlock()
	})
}

// References returns all unique variable names read by the expressions.
func (c *Container) References() []string {
	c.analyze()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.references
}

// CalledFunctions returns all unique function calls found in the expressions.
func (c *Container) CalledFunctions() []string {
	c.analyze()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calledFunctions
}

// Len returns the number of expressions held.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.expressions)
}
