// Package artifact writes fitted transform graphs into a model repository
// and loads them back for serving.
//
// Layout of one model:
//
//	<repository>/<model>/config.yaml
//	<repository>/<model>/<version>/workflow/schema.json
//	<repository>/<model>/<version>/workflow/graph.json.zst
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"tabserve/internal/column"
	"tabserve/internal/graph"
	"tabserve/internal/modelconfig"
)

const (
	DefaultBackend     = "nvtabular"
	DefaultWorkflowDir = "workflow"
	SchemaFile         = "schema.json"
	GraphFile          = "graph.json.zst"
)

// Schema is the content of schema.json.
type Schema struct {
	Inputs         column.Schema                  `json:"inputs"`
	Outputs        column.Schema                  `json:"outputs"`
	GraphChecksum  string                         `json:"graph_checksum"`
	EmbeddingSizes map[string]graph.EmbeddingSize `json:"embedding_sizes,omitempty"`
}

type options struct {
	version int64
}

type Option func(*options)

// WithVersion writes the artifact as the given version instead of 1.
func WithVersion(v int64) Option { return func(o *options) { o.version = v } }

// Generate writes g into outDir/modelName as a loadable model served by
// backend, and returns the model directory. A graph referencing columns
// missing from its input schema fails with *errs.SchemaError. Generating
// twice from the same graph produces identical files.
func Generate(g *graph.Graph, outDir, modelName, backend string, opts ...Option) (string, error) {
	o := options{version: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.version < 1 {
		return "", fmt.Errorf("artifact: version must be positive, got %d", o.version)
	}
	if modelName == "" || filepath.Base(modelName) != modelName {
		return "", fmt.Errorf("artifact: invalid model name %q", modelName)
	}
	if backend == "" {
		backend = DefaultBackend
	}

	layout, err := g.Analyze()
	if err != nil {
		return "", fmt.Errorf("artifact: %w", err)
	}
	sizes, err := g.EmbeddingSizes()
	if err != nil {
		return "", fmt.Errorf("artifact: %w", err)
	}
	encoded, err := graph.Encode(g)
	if err != nil {
		return "", err
	}
	packed, err := compress(encoded)
	if err != nil {
		return "", fmt.Errorf("artifact: compress graph: %w", err)
	}

	schema := Schema{
		Inputs:         g.Inputs,
		Outputs:        layout.Outputs,
		GraphChecksum:  Checksum(encoded),
		EmbeddingSizes: sizes,
	}
	if len(sizes) == 0 {
		schema.EmbeddingSizes = nil
	}
	var sb bytes.Buffer
	enc := json.NewEncoder(&sb)
	enc.SetIndent("", "  ")
	if err := enc.Encode(schema); err != nil {
		return "", err
	}

	desc := modelconfig.New(modelName, backend, g.Inputs, layout.Outputs, map[string]string{
		modelconfig.ParamWorkflowDir: DefaultWorkflowDir,
	})
	descRaw, err := desc.Marshal()
	if err != nil {
		return "", err
	}

	modelDir := filepath.Join(outDir, modelName)
	wfDir := filepath.Join(modelDir, strconv.FormatInt(o.version, 10), DefaultWorkflowDir)
	files := []struct {
		path string
		data []byte
	}{
		{filepath.Join(wfDir, GraphFile), packed},
		{filepath.Join(wfDir, SchemaFile), sb.Bytes()},
		// The descriptor goes last: a model directory is only picked up once
		// its config.yaml exists.
		{filepath.Join(modelDir, modelconfig.FileName), descRaw},
	}
	for _, f := range files {
		if err := writeAtomic(f.path, f.data); err != nil {
			return "", fmt.Errorf("artifact: write %s: %w", f.path, err)
		}
	}
	return modelDir, nil
}
