// Package errs holds the error taxonomy shared by the artifact loader, the
// serving runtime and the transport layer.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrSchema             = errors.New("schema error")
	ErrTransformExecution = errors.New("transform execution error")
	ErrModelNotReady      = errors.New("model not ready")
	ErrArtifact           = errors.New("artifact error")
)

// SchemaError reports a column name, count or dtype mismatch between a
// caller and an artifact.
type SchemaError struct {
	Model  string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	switch {
	case e.Model != "" && e.Column != "":
		return fmt.Sprintf("schema error: model %q column %q: %s", e.Model, e.Column, e.Reason)
	case e.Column != "":
		return fmt.Sprintf("schema error: column %q: %s", e.Column, e.Reason)
	case e.Model != "":
		return fmt.Sprintf("schema error: model %q: %s", e.Model, e.Reason)
	}
	return "schema error: " + e.Reason
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// TransformExecutionError is raised when a graph node fails while serving a
// request. Kind is the type name of the original failure.
type TransformExecutionError struct {
	Node    string
	Kind    string
	Message string
}

func (e *TransformExecutionError) Error() string {
	return fmt.Sprintf("transform %q failed: %s: %s", e.Node, e.Kind, e.Message)
}

func (e *TransformExecutionError) Unwrap() error { return ErrTransformExecution }

type ModelNotReadyError struct {
	Model  string
	State  string
	Reason string
}

func (e *ModelNotReadyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("model %q is %s: %s", e.Model, e.State, e.Reason)
	}
	return fmt.Sprintf("model %q is %s", e.Model, e.State)
}

func (e *ModelNotReadyError) Unwrap() error { return ErrModelNotReady }

// ArtifactError reports a missing or corrupt file inside a model artifact.
type ArtifactError struct {
	Path   string
	Reason string
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact %s: %s", e.Path, e.Reason)
}

func (e *ArtifactError) Unwrap() error { return ErrArtifact }

// Schemaf is a shorthand for building a SchemaError without a model name.
func Schemaf(column, format string, args ...any) *SchemaError {
	return &SchemaError{Column: column, Reason: fmt.Sprintf(format, args...)}
}
