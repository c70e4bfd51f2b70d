package column

import (
	"fmt"

	"tabserve/internal/dtype"
)

// Field describes one column of a schema. Width is the element size in bytes
// or -1 for variable-length columns. Cardinality is set on categorical
// columns and counts the reserved null code.
type Field struct {
	Name        string      `json:"name"`
	Dtype       dtype.Dtype `json:"dtype"`
	Width       int         `json:"width"`
	Cardinality int         `json:"cardinality,omitempty"`
}

func NewField(name string, dt dtype.Dtype) Field {
	return Field{Name: name, Dtype: dt, Width: dt.Width()}
}

func (f Field) String() string { return fmt.Sprintf("%s:%s", f.Name, f.Dtype) }

// Schema is an ordered, name-unique list of fields.
type Schema []Field

func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Name
	}
	return out
}

func (s Schema) Lookup(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks names are non-empty and unique and dtypes are known.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, f := range s {
		if f.Name == "" {
			return fmt.Errorf("schema: empty column name")
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("schema: duplicate column %q", f.Name)
		}
		if !f.Dtype.Valid() {
			return fmt.Errorf("schema: column %q has invalid dtype", f.Name)
		}
		if f.Width != f.Dtype.Width() {
			return fmt.Errorf("schema: column %q width %d does not match %s", f.Name, f.Width, f.Dtype)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Equal compares names, dtypes and order. Cardinality is informational and
// not compared.
func (s Schema) Equal(o Schema) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i].Name != o[i].Name || s[i].Dtype != o[i].Dtype {
			return false
		}
	}
	return true
}

// Schema describes the batch's columns in order.
func (b *Batch) Schema() Schema {
	out := make(Schema, len(b.cols))
	for i, c := range b.cols {
		out[i] = NewField(c.name, c.dtype)
	}
	return out
}
