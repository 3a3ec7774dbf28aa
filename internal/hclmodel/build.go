package hclmodel

import (
	"context"
	"fmt"

	"github.com/specialistvlad/subgrid/internal/ctxlog"
	"github.com/specialistvlad/subgrid/internal/engine"
	"github.com/specialistvlad/subgrid/internal/subproblem"
	"github.com/specialistvlad/subgrid/internal/varpath"
)

// Build returns a fresh instance of the named model. Subproblem children get
// their own nodes, each building the referenced model on demand.
func (d *Document) Build(ctx context.Context, name string) (*engine.Group, error) {
	m, ok := d.Models[name]
	if !ok {
		return nil, fmt.Errorf("model '%s' is not defined", name)
	}
	ctxlog.FromContext(ctx).Debug("Building model.", "model", name, "file", m.FilePath)

	g, err := d.buildGroup(ctx, m.Root, name)
	if err != nil {
		return nil, fmt.Errorf("model '%s': %w", name, err)
	}
	return g, nil
}

// ModelFunc returns a function building the named model.
func (d *Document) ModelFunc(name string) subproblem.ModelFunc {
	return func(ctx context.Context) (*engine.Group, error) {
		return d.Build(ctx, name)
	}
}

func (d *Document) buildGroup(ctx context.Context, def *Group, path string) (*engine.Group, error) {
	g := engine.NewGroup()
	for _, c := range def.Children {
		childPath := varpath.Join(path, c.Name)
		var err error
		switch {
		case c.Component != nil:
			var comp *engine.ExecComp
			comp, err = engine.NewExecCompFrom(c.Component.Equations, c.Component.Vars...)
			if err == nil {
				err = g.AddComponent(c.Name, comp, c.Promotes)
			}
		case c.Group != nil:
			var sub *engine.Group
			sub, err = d.buildGroup(ctx, c.Group, childPath)
			if err == nil {
				err = g.AddGroup(c.Name, sub, c.Promotes)
			}
		case c.Subproblem != nil:
			var node *subproblem.Node
			node, err = d.buildSubproblem(ctx, c.Subproblem, childPath)
			if err == nil {
				err = g.AddComponent(c.Name, node, c.Promotes)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%s '%s': %w", c.Kind(), childPath, err)
		}
	}
	for _, conn := range def.Connections {
		g.Connect(conn.Src, conn.Tgt)
	}
	return g, nil
}

func (d *Document) buildSubproblem(ctx context.Context, s *Subproblem, path string) (*subproblem.Node, error) {
	opts := subproblem.Options{
		Name:           path,
		Reports:        s.Reports,
		ContextOptions: s.Options,
		Inputs:         s.Inputs,
		Outputs:        s.Outputs,
	}
	if s.Driver != "" {
		opts.Driver = Drivers[s.Driver]
	}
	return subproblem.New(ctx, subproblem.EngineFactory(d.ModelFunc(s.Model)), opts)
}
