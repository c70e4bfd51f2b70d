// Package modelconfig reads and writes the per-model descriptor
// (config.yaml) that names the serving backend and declares the model's
// input and output tensors.
package modelconfig

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tabserve/internal/column"
	"tabserve/internal/dtype"
)

const (
	FileName        = "config.yaml"
	SupportedSchema = "v1"

	ParamGraphChecksum = "graph_checksum"
	ParamWorkflowDir   = "workflow_dir"
)

// Tensor declares one named model input or output. DataType uses the
// "TYPE_" spelling of model descriptors (TYPE_INT64, TYPE_STRING, ...).
type Tensor struct {
	Name     string  `yaml:"name"`
	DataType string  `yaml:"data_type"`
	Dims     []int64 `yaml:"dims"`
}

func (t Tensor) Dtype() (dtype.Dtype, error) { return dtype.Parse(t.DataType) }

// TensorFor declares a column as a [-1, 1] tensor: one value per row.
func TensorFor(f column.Field) Tensor {
	name := "TYPE_" + f.Dtype.String()
	if f.Dtype == dtype.Bytes {
		name = "TYPE_STRING"
	}
	return Tensor{Name: f.Name, DataType: name, Dims: []int64{-1, 1}}
}

type Descriptor struct {
	SchemaVersion string            `yaml:"schema_version"`
	Name          string            `yaml:"name"`
	Backend       string            `yaml:"backend"`
	MaxBatchSize  int               `yaml:"max_batch_size"`
	Input         []Tensor          `yaml:"input"`
	Output        []Tensor          `yaml:"output"`
	Parameters    map[string]string `yaml:"parameters,omitempty"`
}

// Parse decodes a descriptor, rejecting unknown keys and schema versions.
func Parse(raw []byte) (*Descriptor, error) {
	var d Descriptor
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("model descriptor: %w", err)
	}
	if d.SchemaVersion == "" {
		d.SchemaVersion = SupportedSchema
	}
	if d.SchemaVersion != SupportedSchema {
		return nil, fmt.Errorf("model descriptor schema_version %q not supported (want %q)", d.SchemaVersion, SupportedSchema)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func Load(path string) (*Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Marshal encodes the descriptor. Output is stable for equal descriptors.
func (d *Descriptor) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("model descriptor: empty name")
	}
	if strings.TrimSpace(d.Backend) == "" {
		return fmt.Errorf("model descriptor %q: empty backend", d.Name)
	}
	if _, err := d.InputSchema(); err != nil {
		return fmt.Errorf("model descriptor %q input: %w", d.Name, err)
	}
	if _, err := d.OutputSchema(); err != nil {
		return fmt.Errorf("model descriptor %q output: %w", d.Name, err)
	}
	return nil
}

func (d *Descriptor) InputSchema() (column.Schema, error) { return toSchema(d.Input) }

func (d *Descriptor) OutputSchema() (column.Schema, error) { return toSchema(d.Output) }

func toSchema(ts []Tensor) (column.Schema, error) {
	s := make(column.Schema, 0, len(ts))
	for _, t := range ts {
		dt, err := t.Dtype()
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", t.Name, err)
		}
		s = append(s, column.NewField(t.Name, dt))
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New declares a model over the given schemas.
func New(name, backend string, in, out column.Schema, params map[string]string) *Descriptor {
	d := &Descriptor{SchemaVersion: SupportedSchema, Name: name, Backend: backend, Parameters: params}
	for _, f := range in {
		d.Input = append(d.Input, TensorFor(f))
	}
	for _, f := range out {
		d.Output = append(d.Output, TensorFor(f))
	}
	return d
}
