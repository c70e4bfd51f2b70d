package graph

import (
	"fmt"
	"slices"

	"github.com/emirpasic/gods/sets/treeset"

	"tabserve/internal/column"
	"tabserve/internal/errs"
)

// Ref locates one column version: output Index of node Node, or input column
// Index of the graph when Node is Raw.
type Ref struct {
	Node  int
	Index int
}

const Raw = -1

// Layout is the resolved form of a valid graph.
type Layout struct {
	// Order holds node indices in topological order; ties are broken by
	// declaration order.
	Order []int
	// InRefs, In and Out are indexed like Graph.Nodes.
	InRefs [][]Ref
	In     [][]column.Field
	Out    [][]column.Field
	// Outputs is the exposed schema and OutRefs where each column comes from.
	Outputs column.Schema
	OutRefs []Ref
}

type invalidGraphError struct{ msg string }

func (e *invalidGraphError) Error() string { return "invalid graph: " + e.msg }

func invalid(format string, args ...any) error {
	return &invalidGraphError{msg: fmt.Sprintf(format, args...)}
}

// Analyze validates the graph and resolves its order and schemas.
//
// A column name refers to the latest version published by a node declared
// earlier, or to the graph input of that name. Nodes may therefore rewrite
// a column in place and later nodes chain on the rewritten value.
func (g *Graph) Analyze() (*Layout, error) {
	if err := g.Inputs.Validate(); err != nil {
		return nil, &errs.SchemaError{Reason: err.Error()}
	}
	n := len(g.Nodes)
	l := &Layout{
		InRefs: make([][]Ref, n),
		In:     make([][]column.Field, n),
		Out:    make([][]column.Field, n),
	}

	// current maps a name to its latest version while walking declarations.
	current := make(map[string]Ref, len(g.Inputs))
	for i, f := range g.Inputs {
		current[f.Name] = Ref{Node: Raw, Index: i}
	}
	field := func(r Ref) column.Field {
		if r.Node == Raw {
			return g.Inputs[r.Index]
		}
		return l.Out[r.Node][r.Index]
	}

	edges := make([][]int, n)
	indeg := make([]int, n)
	ids := make(map[string]struct{}, n)
	for i, node := range g.Nodes {
		if node.ID == "" {
			return nil, invalid("node %d has no id", i)
		}
		if _, dup := ids[node.ID]; dup {
			return nil, invalid("duplicate node id %q", node.ID)
		}
		ids[node.ID] = struct{}{}
		if node.Step == nil {
			return nil, invalid("node %q has no step", node.ID)
		}

		refs := make([]Ref, len(node.Inputs))
		in := make([]column.Field, len(node.Inputs))
		for j, name := range node.Inputs {
			r, ok := current[name]
			if !ok {
				return nil, &errs.SchemaError{Column: name, Reason: fmt.Sprintf("node %q references a column absent from the input schema", node.ID)}
			}
			if r.Node != Raw && !slices.Contains(edges[r.Node], i) {
				edges[r.Node] = append(edges[r.Node], i)
				indeg[i]++
			}
			refs[j], in[j] = r, field(r)
		}

		out, err := node.Step.Outputs(in)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", node.ID, err)
		}
		if got := column.Schema(out).Names(); !slices.Equal(got, node.Outputs) {
			return nil, &errs.SchemaError{Reason: fmt.Sprintf("node %q declares outputs %v but its step produces %v", node.ID, node.Outputs, got)}
		}
		if err := column.Schema(out).Validate(); err != nil {
			return nil, &errs.SchemaError{Reason: fmt.Sprintf("node %q: %v", node.ID, err)}
		}
		l.InRefs[i], l.In[i], l.Out[i] = refs, in, out
		for k, f := range out {
			current[f.Name] = Ref{Node: i, Index: k}
		}
	}

	order, err := kahn(edges, indeg)
	if err != nil {
		return nil, err
	}
	l.Order = order

	names := g.Outputs
	if len(names) == 0 {
		names = leaves(g.Nodes, l.InRefs)
	}
	for _, name := range names {
		r, ok := current[name]
		if !ok {
			return nil, &errs.SchemaError{Column: name, Reason: "declared graph output is never produced"}
		}
		l.Outputs = append(l.Outputs, field(r))
		l.OutRefs = append(l.OutRefs, r)
	}
	if err := l.Outputs.Validate(); err != nil {
		return nil, &errs.SchemaError{Reason: err.Error()}
	}
	return l, nil
}

// kahn orders nodes by in-degree, always releasing the lowest ready index.
func kahn(edges [][]int, indeg []int) ([]int, error) {
	deg := slices.Clone(indeg)
	ready := treeset.NewWithIntComparator()
	for i, d := range deg {
		if d == 0 {
			ready.Add(i)
		}
	}
	order := make([]int, 0, len(deg))
	for !ready.Empty() {
		u := ready.Values()[0].(int)
		ready.Remove(u)
		order = append(order, u)
		for _, v := range edges[u] {
			deg[v]--
			if deg[v] == 0 {
				ready.Add(v)
			}
		}
	}
	if len(order) != len(deg) {
		return nil, invalid("graph has a cycle")
	}
	return order, nil
}

// leaves lists, in declaration order, the final version of every produced
// name that no later node reads.
func leaves(nodes []Node, inRefs [][]Ref) []string {
	read := make(map[Ref]bool)
	for _, refs := range inRefs {
		for _, r := range refs {
			read[r] = true
		}
	}
	last := make(map[string]Ref)
	var names []string
	for i, n := range nodes {
		for k, o := range n.Outputs {
			if _, seen := last[o]; !seen {
				names = append(names, o)
			}
			last[o] = Ref{Node: i, Index: k}
		}
	}
	out := names[:0]
	for _, name := range names {
		if !read[last[name]] {
			out = append(out, name)
		}
	}
	return out
}
