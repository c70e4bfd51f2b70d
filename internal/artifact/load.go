package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"tabserve/internal/column"
	"tabserve/internal/errs"
	"tabserve/internal/graph"
	"tabserve/internal/modelconfig"
)

// Artifact is one loaded model version.
type Artifact struct {
	Name       string
	Version    int64
	Dir        string
	Descriptor *modelconfig.Descriptor
	Schema     Schema
	Graph      *graph.Graph
}

// Versions lists the numeric version directories of a model, ascending.
func Versions(modelDir string) ([]int64, error) {
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil || v < 1 {
			continue
		}
		out = append(out, v)
	}
	slices.Sort(out)
	return out, nil
}

// Load reads the model at modelDir. version 0 selects the highest version.
// Loading touches only files under modelDir.
func Load(modelDir string, version int64) (*Artifact, error) {
	descPath := filepath.Join(modelDir, modelconfig.FileName)
	desc, err := modelconfig.Load(descPath)
	if err != nil {
		return nil, &errs.ArtifactError{Path: descPath, Reason: err.Error()}
	}
	if base := filepath.Base(modelDir); base != desc.Name {
		return nil, &errs.ArtifactError{Path: descPath, Reason: fmt.Sprintf("model name %q does not match directory %q", desc.Name, base)}
	}

	versions, err := Versions(modelDir)
	if err != nil {
		return nil, &errs.ArtifactError{Path: modelDir, Reason: err.Error()}
	}
	if len(versions) == 0 {
		return nil, &errs.ArtifactError{Path: modelDir, Reason: "no version directories"}
	}
	if version == 0 {
		version = versions[len(versions)-1]
	} else if !slices.Contains(versions, version) {
		return nil, &errs.ArtifactError{Path: modelDir, Reason: fmt.Sprintf("version %d not found", version)}
	}

	wf := desc.Parameters[modelconfig.ParamWorkflowDir]
	if wf == "" {
		wf = DefaultWorkflowDir
	}
	wfDir := filepath.Join(modelDir, strconv.FormatInt(version, 10), wf)

	a := &Artifact{Name: desc.Name, Version: version, Dir: modelDir, Descriptor: desc}
	if err := readJSON(filepath.Join(wfDir, SchemaFile), &a.Schema); err != nil {
		return nil, err
	}

	graphPath := filepath.Join(wfDir, GraphFile)
	packed, err := os.ReadFile(graphPath)
	if err != nil {
		return nil, &errs.ArtifactError{Path: graphPath, Reason: err.Error()}
	}
	encoded, err := decompress(packed)
	if err != nil {
		return nil, &errs.ArtifactError{Path: graphPath, Reason: "decompress: " + err.Error()}
	}
	if sum := Checksum(encoded); sum != a.Schema.GraphChecksum {
		return nil, &errs.ArtifactError{Path: graphPath, Reason: fmt.Sprintf("checksum %s, want %s", sum, a.Schema.GraphChecksum)}
	}
	if a.Graph, err = graph.Decode(encoded); err != nil {
		return nil, &errs.ArtifactError{Path: graphPath, Reason: err.Error()}
	}
	if err := a.checkSchemas(); err != nil {
		return nil, err
	}
	return a, nil
}

// checkSchemas requires descriptor, schema.json and graph to agree on the
// input and output columns.
func (a *Artifact) checkSchemas() error {
	layout, err := a.Graph.Analyze()
	if err != nil {
		return err
	}
	descIn, err := a.Descriptor.InputSchema()
	if err != nil {
		return err
	}
	descOut, err := a.Descriptor.OutputSchema()
	if err != nil {
		return err
	}
	if err := sameSchema(a.Name, "input", descIn, a.Schema.Inputs, a.Graph.Inputs); err != nil {
		return err
	}
	return sameSchema(a.Name, "output", descOut, a.Schema.Outputs, layout.Outputs)
}

func sameSchema(model, side string, desc, file, derived column.Schema) error {
	mismatch := func(what string, got, want column.Schema) error {
		return &errs.SchemaError{Model: model, Reason: fmt.Sprintf("%s schema in %s %v does not match %v", side, what, got, want)}
	}
	if !desc.Equal(derived) {
		return mismatch(modelconfig.FileName, desc, derived)
	}
	if !file.Equal(derived) {
		return mismatch(SchemaFile, file, derived)
	}
	return nil
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &errs.ArtifactError{Path: path, Reason: "missing"}
		}
		return &errs.ArtifactError{Path: path, Reason: err.Error()}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &errs.ArtifactError{Path: path, Reason: err.Error()}
	}
	return nil
}
