// Package dag provides the dependency graph used to order the components of a
// flattened model. Components are nodes; a data connection from an output of
// one component to an input of another is an edge. The engine uses the graph
// to reject algebraic cycles and to obtain a deterministic feed-forward
// execution order.
package dag
