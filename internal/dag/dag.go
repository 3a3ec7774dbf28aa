package dag

import (
	"fmt"
	"slices"
	"strings"
)

// Graph is a directed graph over string IDs. Nodes are numbered in the order
// they are added and every traversal follows that order, so results are
// stable across runs. A Graph is not safe for concurrent use.
type Graph struct {
	index map[string]int
	ids   []string
	// deps[i] and succ[i] hold the predecessors and successors of node i,
	// sorted ascending.
	deps [][]int
	succ [][]int
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{index: make(map[string]int)}
}

// AddNode adds a node with the given ID. Adding an existing ID does nothing.
func (g *Graph) AddNode(id string) {
	if _, ok := g.index[id]; ok {
		return
	}
	g.index[id] = len(g.ids)
	g.ids = append(g.ids, id)
	g.deps = append(g.deps, nil)
	g.succ = append(g.succ, nil)
}

func insert(set []int, v int) []int {
	i, found := slices.BinarySearch(set, v)
	if found {
		return set
	}
	return slices.Insert(set, i, v)
}

// AddEdge records that toID depends on fromID. Both nodes must exist and be
// distinct.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}
	from, ok := g.index[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}
	to, ok := g.index[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}
	g.deps[to] = insert(g.deps[to], from)
	g.succ[from] = insert(g.succ[from], to)
	return nil
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.ids)
}

func (g *Graph) names(idx []int) []string {
	out := make([]string, len(idx))
	for i, n := range idx {
		out[i] = g.ids[n]
	}
	return out
}

// Dependencies returns the IDs of the nodes id depends on, in insertion order.
func (g *Graph) Dependencies(id string) ([]string, error) {
	i, ok := g.index[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return g.names(g.deps[i]), nil
}

// Dependents returns the IDs of the nodes that depend on id, in insertion
// order.
func (g *Graph) Dependents(id string) ([]string, error) {
	i, ok := g.index[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return g.names(g.succ[i]), nil
}

// DetectCycles returns an error naming the nodes of the first cycle found,
// e.g. "cycle detected: a -> b -> a", or nil for an acyclic graph.
func (g *Graph) DetectCycles() error {
	const (
		unvisited = iota
		active
		finished
	)
	state := make([]int8, len(g.ids))
	var stack []int

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case finished:
			return nil
		case active:
			start := slices.Index(stack, i)
			path := append(g.names(stack[start:]), g.ids[i])
			return fmt.Errorf("cycle detected: %s", strings.Join(path, " -> "))
		}
		state[i] = active
		stack = append(stack, i)
		for _, j := range g.succ[i] {
			if err := visit(j); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = finished
		return nil
	}

	for i := range g.ids {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}

// Sort returns every node ID such that each node appears after all of its
// dependencies. Among nodes that are ready at the same time, the one added
// first comes first. Sort fails if the graph has a cycle.
func (g *Graph) Sort() ([]string, error) {
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}

	pending := make([]int, len(g.ids))
	var ready []int
	for i := range g.ids {
		pending[i] = len(g.deps[i])
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}

	sorted := make([]string, 0, len(g.ids))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		sorted = append(sorted, g.ids[i])
		for _, j := range g.succ[i] {
			pending[j]--
			if pending[j] == 0 {
				ready = insert(ready, j)
			}
		}
	}
	return sorted, nil
}
