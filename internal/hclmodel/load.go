package hclmodel

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/subgrid/internal/ctxlog"
	"github.com/specialistvlad/subgrid/internal/dag"
	"github.com/specialistvlad/subgrid/internal/fsutil"
)

// Load parses every .hcl file under paths, which may be files or
// directories, into one Document.
func Load(ctx context.Context, paths ...string) (*Document, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.FindFilesByExtension(".hcl", paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to find model files: %w", err)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	doc := &Document{Models: make(map[string]*Model)}
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		if err := doc.add(hclFile, file); err != nil {
			return nil, err
		}
	}

	if err := doc.check(); err != nil {
		return nil, err
	}
	logger.Debug("HCL loading complete.", "files", len(doc.Files), "models", len(doc.Models))
	return doc, nil
}

// Parse reads models from HCL source held in memory.
func Parse(filename string, src []byte) (*Document, error) {
	hclFile, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	doc := &Document{Models: make(map[string]*Model)}
	if err := doc.add(hclFile, filename); err != nil {
		return nil, err
	}
	if err := doc.check(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *Document) add(file *hcl.File, filePath string) error {
	var root hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", filePath, diags)
	}

	for _, m := range root.Models {
		if prev, ok := d.Models[m.Name]; ok {
			return fmt.Errorf("model '%s' in %s is already defined in %s", m.Name, filePath, prev.FilePath)
		}
		model, diags := decodeModel(m, filePath)
		if diags.HasErrors() {
			return fmt.Errorf("error parsing model '%s' in file %s: %w", m.Name, filePath, diags)
		}
		d.Models[m.Name] = model
	}
	d.Files = append(d.Files, filePath)
	return nil
}

// check makes sure every subproblem refers to a defined model and that no
// model contains itself, directly or through other models.
func (d *Document) check() error {
	g := dag.New()
	names := d.Names()
	for _, name := range names {
		g.AddNode(name)
	}
	for _, name := range names {
		for _, ref := range d.Models[name].Root.references() {
			if _, ok := d.Models[ref]; !ok {
				return fmt.Errorf("model '%s' uses undefined model '%s' as a subproblem", name, ref)
			}
			if ref == name {
				return fmt.Errorf("model '%s' uses itself as a subproblem", name)
			}
			if err := g.AddEdge(ref, name); err != nil {
				return err
			}
		}
	}
	if err := g.DetectCycles(); err != nil {
		return fmt.Errorf("recursive subproblem models: %w", err)
	}
	return nil
}
