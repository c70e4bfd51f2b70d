package transform

import (
	"context"

	"tabserve/internal/column"
	"tabserve/internal/errs"
)

const KindRename = "rename"

// Rename republishes columns under new names. Map takes precedence over
// Prefix and Postfix.
type Rename struct {
	Map     map[string]string `json:"map,omitempty"`
	Prefix  string            `json:"prefix,omitempty"`
	Postfix string            `json:"postfix,omitempty"`
}

func (r *Rename) Kind() string { return KindRename }

func (r *Rename) target(name string) string {
	if to, ok := r.Map[name]; ok {
		return to
	}
	return r.Prefix + name + r.Postfix
}

func (r *Rename) Outputs(in []column.Field) ([]column.Field, error) {
	out := make([]column.Field, 0, len(in))
	for _, f := range in {
		to := r.target(f.Name)
		if to == "" {
			return nil, errs.Schemaf(f.Name, "rename produces an empty name")
		}
		f.Name = to
		out = append(out, f)
	}
	return out, nil
}

func (r *Rename) Apply(_ context.Context, in []*column.Column) ([]*column.Column, error) {
	out := make([]*column.Column, len(in))
	for i, col := range in {
		out[i] = col.Rename(r.target(col.Name()))
	}
	return out, nil
}
