// This file defines the in-memory form of the models loaded from .hcl files.
//
// Why keep a definition layer between HCL and the engine?
//
// A subproblem builds a fresh instance of its model every time it provisions
// an inner context, and an engine.Group cannot be reused once a problem owns
// it. Decoding HCL once into plain definitions lets Build stamp out as many
// independent instances as needed without touching the files again, and lets
// reference checks run on the whole workspace before anything is built.
package hclmodel

import (
	"sort"

	"github.com/specialistvlad/subgrid/internal/engine"
	"github.com/specialistvlad/subgrid/internal/resolver"
)

// Document is every model found in a set of HCL files.
type Document struct {
	Models map[string]*Model
	Files  []string
}

// Names returns the model names in sorted order.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Models))
	for name := range d.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Roots returns, sorted, the models no other model uses as a subproblem.
func (d *Document) Roots() []string {
	used := make(map[string]bool)
	for _, m := range d.Models {
		for _, ref := range m.Root.references() {
			used[ref] = true
		}
	}
	var roots []string
	for _, name := range d.Names() {
		if !used[name] {
			roots = append(roots, name)
		}
	}
	return roots
}

// Model is a named, top-level `model` block.
type Model struct {
	Name     string
	FilePath string
	Root     *Group
}

// Group is the body of a model or a `group` block.
type Group struct {
	Children    []*Child
	Connections []Connection
}

// Child is one named element of a group, in declaration order. Exactly one
// of Component, Group and Subproblem is set.
type Child struct {
	Name     string
	Promotes engine.Promotes

	Component  *Component
	Group      *Group
	Subproblem *Subproblem
}

// Kind names the block type the child was declared with.
func (c *Child) Kind() string {
	switch {
	case c.Component != nil:
		return "component"
	case c.Group != nil:
		return "group"
	default:
		return "subproblem"
	}
}

// Component is an equation component.
type Component struct {
	Equations []engine.Equation
	Vars      []engine.VarSpec
}

// Subproblem refers to another model by name and selects what it exposes.
type Subproblem struct {
	Model   string
	Inputs  []resolver.Selector
	Outputs []resolver.Selector
	Driver  string
	Reports bool
	Options map[string]any
}

// Connection feeds an output to an input within a group.
type Connection struct {
	Src string
	Tgt string
}

// references returns the names of the models a group uses as subproblems,
// including those of nested groups.
func (g *Group) references() []string {
	var refs []string
	for _, c := range g.Children {
		switch {
		case c.Subproblem != nil:
			refs = append(refs, c.Subproblem.Model)
		case c.Group != nil:
			refs = append(refs, c.Group.references()...)
		}
	}
	return refs
}
