// Package graph holds the fitted transform graph: operation nodes composed
// by column name, validated and topologically ordered once before serving.
package graph

import (
	"math"

	"tabserve/internal/column"
	"tabserve/internal/transform"
)

// Node applies one step to named input columns and publishes the declared
// output columns. A node may republish one of its raw input columns under
// the same name; every other node then sees the republished column.
type Node struct {
	ID      string
	Inputs  []string
	Outputs []string
	Step    transform.Step
}

// Graph is a name-indexed DAG over the columns of Inputs. Outputs selects the
// columns exposed after execution; when empty, every produced column that no
// other node consumes is exposed in node order.
type Graph struct {
	Inputs  column.Schema
	Nodes   []Node
	Outputs []string
}

// Validate checks names, references, dtypes and acyclicity. Reference and
// dtype problems are reported as *errs.SchemaError.
func (g *Graph) Validate() error {
	_, err := g.Analyze()
	return err
}

// Order returns the nodes in a deterministic topological order.
func (g *Graph) Order() ([]Node, error) {
	l, err := g.Analyze()
	if err != nil {
		return nil, err
	}
	out := make([]Node, len(l.Order))
	for i, idx := range l.Order {
		out[i] = g.Nodes[idx]
	}
	return out, nil
}

func (g *Graph) OutputSchema() (column.Schema, error) {
	l, err := g.Analyze()
	if err != nil {
		return nil, err
	}
	return l.Outputs, nil
}

type EmbeddingSize struct {
	Cardinality int `json:"cardinality"`
	Dim         int `json:"dim"`
}

const (
	minEmbeddingDim = 16
	maxEmbeddingDim = 512
)

// EmbeddingSizes suggests an embedding table shape for every categorical
// output column, using dim = 1.6 * cardinality^0.56 bounded to [16, 512].
func (g *Graph) EmbeddingSizes() (map[string]EmbeddingSize, error) {
	outs, err := g.OutputSchema()
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]EmbeddingSize)
	for _, f := range outs {
		if f.Cardinality <= 0 {
			continue
		}
		dim := int(math.Round(1.6 * math.Pow(float64(f.Cardinality), 0.56)))
		dim = min(max(dim, minEmbeddingDim), maxEmbeddingDim)
		sizes[f.Name] = EmbeddingSize{Cardinality: f.Cardinality, Dim: dim}
	}
	return sizes, nil
}
