package graph

import (
	"bytes"
	"encoding/json"
	"fmt"

	"tabserve/internal/column"
	"tabserve/internal/transform"
)

const formatVersion = 1

type wireGraph struct {
	Version int           `json:"version"`
	Inputs  column.Schema `json:"inputs"`
	Nodes   []wireNode    `json:"nodes"`
	Outputs []string      `json:"outputs,omitempty"`
}

type wireNode struct {
	ID      string          `json:"id"`
	Inputs  []string        `json:"inputs"`
	Outputs []string        `json:"outputs"`
	Kind    string          `json:"kind"`
	Params  json.RawMessage `json:"params"`
}

// Encode serializes the graph as JSON. The encoding is deterministic: map
// valued step parameters are written with sorted keys.
func Encode(g *Graph) ([]byte, error) {
	w := wireGraph{Version: formatVersion, Inputs: g.Inputs, Outputs: g.Outputs, Nodes: make([]wireNode, len(g.Nodes))}
	for i, n := range g.Nodes {
		params, err := json.Marshal(n.Step)
		if err != nil {
			return nil, fmt.Errorf("graph: encode node %q: %w", n.ID, err)
		}
		w.Nodes[i] = wireNode{ID: n.ID, Inputs: n.Inputs, Outputs: n.Outputs, Kind: n.Step.Kind(), Params: params}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode rebuilds a graph from Encode output using the step registry. The
// result is not validated.
func Decode(data []byte) (*Graph, error) {
	var w wireGraph
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("graph: decode: %w", err)
	}
	if w.Version != formatVersion {
		return nil, fmt.Errorf("graph: unsupported format version %d", w.Version)
	}
	g := &Graph{Inputs: w.Inputs, Outputs: w.Outputs, Nodes: make([]Node, len(w.Nodes))}
	for i, wn := range w.Nodes {
		step, err := transform.New(wn.Kind)
		if err != nil {
			return nil, fmt.Errorf("graph: node %q: %w", wn.ID, err)
		}
		if len(wn.Params) > 0 {
			if err := json.Unmarshal(wn.Params, step); err != nil {
				return nil, fmt.Errorf("graph: node %q params: %w", wn.ID, err)
			}
		}
		g.Nodes[i] = Node{ID: wn.ID, Inputs: wn.Inputs, Outputs: wn.Outputs, Step: step}
	}
	return g, nil
}
