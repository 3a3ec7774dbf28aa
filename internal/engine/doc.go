// Package engine is a small feed-forward evaluation engine for models built
// from components and groups.
//
// A Group describes a model: named children, promotion of their variables
// into the group's namespace, and explicit connections. A Problem sets a
// model up (canonical and promoted names, implicit connections between an
// output and the inputs promoted to the same name, execution order), holds
// its values, runs it in real or complex arithmetic, and computes total
// derivatives by chaining each component's dense partials.
//
// The engine has no solvers: models whose components feed each other in a
// cycle are rejected during Setup.
package engine
