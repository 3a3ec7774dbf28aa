package expr_test

import (
	"sync"
	"testing"

	"github.com/specialistvlad/subgrid/internal/expr"
	"github.com/stretchr/testify/require"
)

// parseExpr is a test helper to quickly get a compiled expression from a string.
func parseExpr(t *testing.T, src string) *expr.Expr {
	t.Helper()
	e, err := expr.Parse(src)
	require.NoError(t, err, "expression parsing failed")
	return e
}

func TestContainer_AddAndExtract(t *testing.T) {
	c := expr.NewContainer()
	c.Add(
		parseExpr(t, `sin(theta)`),
		parseExpr(t, `r * cos(theta)`),
		parseExpr(t, `r * 2`), // Duplicate reference
	)

	require.Equal(t, []string{"cos", "sin"}, c.CalledFunctions())
	require.Equal(t, []string{"r", "theta"}, c.References())
	require.Equal(t, 3, c.Len())
}

func TestContainer_Idempotency(t *testing.T) {
	c := expr.NewContainer()
	c.Add(parseExpr(t, `a + b`))

	// Call getters multiple times to ensure results are stable and cached
	require.Len(t, c.References(), 2)
	require.Len(t, c.References(), 2)
	require.Empty(t, c.CalledFunctions())
	require.Empty(t, c.CalledFunctions())
}

func TestContainer_AddAfterExtract(t *testing.T) {
	c := expr.NewContainer()
	c.Add(parseExpr(t, `first`))
	require.Equal(t, []string{"first"}, c.References())

	c.Add(parseExpr(t, `second`), parseExpr(t, `exp(first)`))

	require.Equal(t, []string{"exp"}, c.CalledFunctions())
	require.Equal(t, []string{"first", "second"}, c.References())
}

func TestContainer_ConcurrentAccess(t *testing.T) {
	c := expr.NewContainer()
	c.Add(
		parseExpr(t, `a`),
		parseExpr(t, `b`),
		parseExpr(t, `sqrt(a)`),
	)

	var wg sync.WaitGroup
	numGoroutines := 100
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				require.Len(t, c.References(), 2)
			} else {
				require.Len(t, c.CalledFunctions(), 1)
			}
		}()
	}

	wg.Wait()
}

func TestContainer_EdgeCases(t *testing.T) {
	t.Run("Empty Container", func(t *testing.T) {
		c := expr.NewContainer()
		require.Empty(t, c.References())
		require.Empty(t, c.CalledFunctions())
	})

	t.Run("Adding Nil Expressions", func(t *testing.T) {
		c := expr.NewContainer()
		c.Add(nil, parseExpr(t, `a`), nil)
		require.Equal(t, []string{"a"}, c.References())
	})

	t.Run("Constants are not references", func(t *testing.T) {
		c := expr.NewContainer()
		c.Add(parseExpr(t, `2 * pi * r`))
		require.Equal(t, []string{"r"}, c.References())
	})
}
