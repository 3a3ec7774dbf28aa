package engine

import (
	"fmt"
	"path"
	"strings"

	"github.com/specialistvlad/subgrid/internal/varpath"
)

// Promotes lists the patterns of a child's variables that are lifted into the
// parent's namespace. Patterns are exact names, "*", or path.Match globs
// matched against the variable's name relative to the child.
type Promotes struct {
	Inputs  []string
	Outputs []string
	Any     []string
}

// All promotes every variable of a child.
var All = Promotes{Any: []string{"*"}}

func (p Promotes) matches(name string, isOutput bool) bool {
	patterns := p.Inputs
	if isOutput {
		patterns = p.Outputs
	}
	return matchAny(p.Any, name) || matchAny(patterns, name)
}

func matchAny(patterns []string, name string) bool {
	for _, pat := range patterns {
		if pat == "*" || pat == name {
			return true
		}
		if ok, err := path.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}

type child struct {
	name     string
	comp     Component
	group    *Group
	promotes Promotes
}

type connection struct {
	src string
	tgt string
}

// Group is an ordered container of components and subgroups. A group is a
// description of a model; it holds no values and may be set up by several
// problems.
type Group struct {
	children []*child
	names    map[string]struct{}
	conns    []connection
}

// NewGroup returns an empty group.
func NewGroup() *Group {
	return &Group{names: make(map[string]struct{})}
}

// AddComponent adds a leaf component under name.
func (g *Group) AddComponent(name string, c Component, p Promotes) error {
	if c == nil {
		return fmt.Errorf("component '%s' is nil", name)
	}
	return g.add(&child{name: name, comp: c, promotes: p})
}

// AddGroup adds a subgroup under name.
func (g *Group) AddGroup(name string, sub *Group, p Promotes) error {
	if sub == nil {
		return fmt.Errorf("group '%s' is nil", name)
	}
	if sub == g {
		return fmt.Errorf("group '%s' cannot contain itself", name)
	}
	return g.add(&child{name: name, group: sub, promotes: p})
}

func (g *Group) add(c *child) error {
	if err := varpath.Validate(c.name); err != nil {
		return fmt.Errorf("invalid subsystem name: %w", err)
	}
	if strings.Contains(c.name, varpath.Separator) {
		return fmt.Errorf("subsystem name '%s' must be a single segment", c.name)
	}
	if _, ok := g.names[c.name]; ok {
		return fmt.Errorf("subsystem '%s' already exists in group", c.name)
	}
	g.names[c.name] = struct{}{}
	g.children = append(g.children, c)
	return nil
}

// Connect links the output src to the input tgt. Both names are relative to
// this group. Connections are checked during Setup.
func (g *Group) Connect(src, tgt string) {
	g.conns = append(g.conns, connection{src: src, tgt: tgt})
}

// Len returns the number of direct children.
func (g *Group) Len() int {
	return len(g.children)
}

// Wrap returns a group holding c as its only child, every variable promoted.
func Wrap(name string, c Component) (*Group, error) {
	g := NewGroup()
	if err := g.AddComponent(name, c, All); err != nil {
		return nil, err
	}
	return g, nil
}
