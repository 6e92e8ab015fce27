package config

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/heimdalr/dag"
	"github.com/zclconf/go-cty/cty"
)

// ExtractReferences returns the root names of the variables an expression
// refers to, e.g. "env" for env.HOME.
func ExtractReferences(expr hcl.Expression) []string {
	seen := make(map[string]bool)
	var refs []string

	for _, traversal := range expr.Variables() {
		root := traversal.RootName()
		if root != "" && !seen[root] {
			seen[root] = true
			refs = append(refs, root)
		}
	}

	return refs
}

// SortAttributesByDependencies orders attributes so that each comes after
// the attributes it refers to. References must name another attribute or
// one of the predefined variables; cycles are errors.
func SortAttributesByDependencies(attrs hcl.Attributes, predefined map[string]cty.Value) ([]*hcl.Attribute, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	graph := dag.NewDAG()

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		attr := attrs[name]
		if err := graph.AddVertexByID(name, attr); err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Failed to add constant to dependency graph",
				Detail:   fmt.Sprintf("Error adding %s: %s", name, err),
				Subject:  &attr.NameRange,
			})
		}
	}

	for _, name := range names {
		attr := attrs[name]

		for _, ref := range ExtractReferences(attr.Expr) {
			if _, exists := attrs[ref]; exists {
				if err := graph.AddEdge(ref, name); err != nil {
					diags = diags.Append(&hcl.Diagnostic{
						Severity: hcl.DiagError,
						Summary:  "Circular dependency detected",
						Detail:   fmt.Sprintf("Cannot make %s depend on %s: %s", name, ref, err),
						Subject:  &attr.Range,
					})
				}
			} else if _, exists := predefined[ref]; !exists {
				diags = diags.Append(&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Dependency not found",
					Detail:   fmt.Sprintf("%s refers to %s, which is not defined", name, ref),
					Subject:  &attr.Range,
				})
			}
		}
	}

	if diags.HasErrors() {
		return nil, diags
	}

	visitor := &attributeVertexVisitor{}
	graph.OrderedWalk(visitor)

	return visitor.attrs, diags
}

type attributeVertexVisitor struct {
	attrs []*hcl.Attribute
}

func (v *attributeVertexVisitor) Visit(vertex dag.Vertexer) {
	_, value := vertex.Vertex()
	v.attrs = append(v.attrs, value.(*hcl.Attribute))
}
