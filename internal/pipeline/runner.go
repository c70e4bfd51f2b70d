package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"

	"tabserve/internal/column"
	"tabserve/internal/errs"
	"tabserve/internal/graph"
	"tabserve/internal/logging"
)

// Execute runs the plan on in and returns the exposed output columns, or
// only the named ones when outputs is non-empty.
//
// in must carry exactly the plan's input columns with matching dtypes;
// column order does not matter. All working columns are local to the call,
// so a failing request leaves nothing behind for the next one. Failures
// inside a step, panics included, come back as *errs.TransformExecutionError.
func (p *Plan) Execute(ctx context.Context, in *column.Batch, outputs ...string) (*column.Batch, error) {
	if err := p.ValidateOutputs(outputs); err != nil {
		return nil, err
	}
	raw, err := p.bind(in)
	if err != nil {
		return nil, err
	}
	rows := in.Rows()

	results := make([][]*column.Column, len(p.graph.Nodes))
	lookup := func(r graph.Ref) *column.Column {
		if r.Node == graph.Raw {
			return raw[r.Index]
		}
		return results[r.Node][r.Index]
	}

	for _, idx := range p.layout.Order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := p.graph.Nodes[idx]
		args := make([]*column.Column, len(node.Inputs))
		for j, r := range p.layout.InRefs[idx] {
			args[j] = lookup(r)
		}
		out, err := runStep(ctx, node, args)
		if err != nil {
			return nil, err
		}
		if err := checkOutputs(node, p.layout.Out[idx], out, rows); err != nil {
			return nil, err
		}
		results[idx] = out
	}

	cols := make([]*column.Column, 0, len(p.outputs))
	for i, f := range p.outputs {
		if len(outputs) > 0 && !slices.Contains(outputs, f.Name) {
			continue
		}
		cols = append(cols, lookup(p.layout.OutRefs[i]).Rename(f.Name))
	}
	res, err := column.NewBatch(cols...)
	if err != nil {
		return nil, err
	}
	if len(outputs) > 0 {
		return res.Select(outputs...)
	}
	return res, nil
}

// bind orders the request columns like the input schema and checks them.
func (p *Plan) bind(in *column.Batch) ([]*column.Column, error) {
	if in == nil {
		return nil, &errs.SchemaError{Reason: "no input batch"}
	}
	for _, name := range in.Names() {
		if _, ok := p.index[name]; !ok {
			return nil, errs.Schemaf(name, "unexpected input column")
		}
	}
	raw := make([]*column.Column, len(p.inputs))
	for i, f := range p.inputs {
		c, ok := in.Column(f.Name)
		if !ok {
			return nil, errs.Schemaf(f.Name, "missing input column")
		}
		if c.Dtype() != f.Dtype {
			return nil, errs.Schemaf(f.Name, "dtype %s, want %s", c.Dtype(), f.Dtype)
		}
		raw[i] = c
	}
	return raw, nil
}

// ValidateOutputs rejects requested output names the plan does not expose
// and names requested twice.
func (p *Plan) ValidateOutputs(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := p.outputs.Lookup(n); !ok {
			return errs.Schemaf(n, "unknown output column")
		}
		if _, dup := seen[n]; dup {
			return errs.Schemaf(n, "output column requested twice")
		}
		seen[n] = struct{}{}
	}
	return nil
}

func runStep(ctx context.Context, node graph.Node, in []*column.Column) (out []*column.Column, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.L().Warn("transform panicked", "node", node.ID, "kind", node.Step.Kind(), "panic", r, "stack", string(debug.Stack()))
			out, err = nil, &errs.TransformExecutionError{Node: node.ID, Kind: panicKind(r), Message: fmt.Sprint(r)}
		}
	}()
	out, err = node.Step.Apply(ctx, in)
	if err != nil {
		return nil, &errs.TransformExecutionError{Node: node.ID, Kind: errorKind(err), Message: err.Error()}
	}
	return out, nil
}

func checkOutputs(node graph.Node, want []column.Field, got []*column.Column, rows int) error {
	fail := func(format string, args ...any) error {
		return &errs.TransformExecutionError{Node: node.ID, Kind: "OutputMismatch", Message: fmt.Sprintf(format, args...)}
	}
	if len(got) != len(want) {
		return fail("produced %d columns, want %d", len(got), len(want))
	}
	for i, c := range got {
		switch {
		case c == nil:
			return fail("column %q is nil", want[i].Name)
		case c.Name() != want[i].Name:
			return fail("column %d is %q, want %q", i, c.Name(), want[i].Name)
		case c.Dtype() != want[i].Dtype:
			return fail("column %q is %s, want %s", c.Name(), c.Dtype(), want[i].Dtype)
		case c.Len() != rows:
			return fail("column %q has %d rows, want %d", c.Name(), c.Len(), rows)
		}
	}
	return nil
}

type kinded interface{ Kind() string }

// errorKind names the failure: an explicit Kind() if the error has one,
// otherwise its Go type.
func errorKind(err error) string {
	if k, ok := err.(kinded); ok {
		return k.Kind()
	}
	return fmt.Sprintf("%T", err)
}

func panicKind(r any) string {
	if err, ok := r.(error); ok {
		return errorKind(err)
	}
	return "panic"
}
