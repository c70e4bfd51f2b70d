package graph

import (
	"fmt"

	"tabserve/internal/column"
	"tabserve/internal/transform"
)

// Builder assembles a graph node by node, deriving each node's declared
// outputs from its step. Nodes must be added after the nodes they read from.
type Builder struct {
	inputs column.Schema
	nodes  []Node
	fields map[string]column.Field
	err    error
}

func NewBuilder(inputs column.Schema) *Builder {
	b := &Builder{inputs: inputs, fields: make(map[string]column.Field, len(inputs))}
	for _, f := range inputs {
		b.fields[f.Name] = f
	}
	return b
}

// Add appends a node; the first error is kept and reported by Build.
func (b *Builder) Add(id string, step transform.Step, inputs ...string) *Builder {
	if b.err != nil {
		return b
	}
	in := make([]column.Field, len(inputs))
	for i, name := range inputs {
		f, ok := b.fields[name]
		if !ok {
			b.err = fmt.Errorf("graph: node %q reads unknown column %q", id, name)
			return b
		}
		in[i] = f
	}
	out, err := step.Outputs(in)
	if err != nil {
		b.err = fmt.Errorf("graph: node %q: %w", id, err)
		return b
	}
	for _, f := range out {
		b.fields[f.Name] = f
	}
	b.nodes = append(b.nodes, Node{
		ID:      id,
		Inputs:  append([]string(nil), inputs...),
		Outputs: column.Schema(out).Names(),
		Step:    step,
	})
	return b
}

// Build validates and returns the graph exposing outputs (or the leaves).
func (b *Builder) Build(outputs ...string) (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	g := &Graph{Inputs: b.inputs, Nodes: b.nodes, Outputs: outputs}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
