// Package pipeline turns a validated transform graph into an executable plan
// and runs that plan against request batches.
package pipeline

import (
	"fmt"

	"tabserve/internal/column"
	"tabserve/internal/graph"
	"tabserve/internal/transform"
)

// Plan is the executable form of a graph. It is built once per loaded model
// and shared read-only by concurrent requests.
type Plan struct {
	graph   *graph.Graph
	layout  *graph.Layout
	inputs  column.Schema
	outputs column.Schema
	index   map[string]int
}

// Compile validates g, resolves its execution order and prepares every step
// that builds lookup tables, so requests only read step state.
func Compile(g *graph.Graph) (*Plan, error) {
	if g == nil {
		return nil, fmt.Errorf("pipeline: nil graph")
	}
	l, err := g.Analyze()
	if err != nil {
		return nil, err
	}
	for _, n := range g.Nodes {
		if pr, ok := n.Step.(transform.Preparer); ok {
			if err := pr.Prepare(); err != nil {
				return nil, fmt.Errorf("pipeline: prepare node %q: %w", n.ID, err)
			}
		}
	}
	p := &Plan{
		graph:   g,
		layout:  l,
		inputs:  append(column.Schema(nil), g.Inputs...),
		outputs: append(column.Schema(nil), l.Outputs...),
		index:   make(map[string]int, len(g.Inputs)),
	}
	for i, f := range g.Inputs {
		p.index[f.Name] = i
	}
	return p, nil
}

func (p *Plan) Graph() *graph.Graph { return p.graph }

// Inputs is the exact schema a request must supply.
func (p *Plan) Inputs() column.Schema { return append(column.Schema(nil), p.inputs...) }

func (p *Plan) Outputs() column.Schema { return append(column.Schema(nil), p.outputs...) }

// Steps reports how many nodes run per request.
func (p *Plan) Steps() int { return len(p.layout.Order) }
