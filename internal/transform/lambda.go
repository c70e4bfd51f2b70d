package transform

import (
	"context"
	"fmt"
	"sync"

	"tabserve/internal/column"
	"tabserve/internal/dtype"
)

const KindLambda = "lambda"

// LambdaFunc is user code applied to one column. It may fail or panic; the
// serving runtime turns either into a per-request error.
type LambdaFunc func(ctx context.Context, c *column.Column) (*column.Column, error)

var (
	lambdaMu sync.RWMutex
	lambdas  = map[string]LambdaFunc{}
)

// RegisterLambda binds name to fn, replacing any earlier binding. Lambdas
// must be registered before a graph that references them is loaded.
func RegisterLambda(name string, fn LambdaFunc) {
	lambdaMu.Lock()
	lambdas[name] = fn
	lambdaMu.Unlock()
}

func LookupLambda(name string) (LambdaFunc, bool) {
	lambdaMu.RLock()
	fn, ok := lambdas[name]
	lambdaMu.RUnlock()
	return fn, ok
}

// Lambda applies a registered function to each input column and keeps the
// column name. Dtype declares the output dtype; zero means unchanged.
type Lambda struct {
	Func  string      `json:"func"`
	Dtype dtype.Dtype `json:"dtype,omitempty"`
}

func (l *Lambda) Kind() string { return KindLambda }

func (l *Lambda) Outputs(in []column.Field) ([]column.Field, error) {
	if _, ok := LookupLambda(l.Func); !ok {
		return nil, fmt.Errorf("lambda %q is not registered", l.Func)
	}
	out := make([]column.Field, 0, len(in))
	for _, f := range in {
		dt := f.Dtype
		if l.Dtype != dtype.Invalid {
			dt = l.Dtype
		}
		out = append(out, column.NewField(f.Name, dt))
	}
	return out, nil
}

func (l *Lambda) Apply(ctx context.Context, in []*column.Column) ([]*column.Column, error) {
	fn, ok := LookupLambda(l.Func)
	if !ok {
		return nil, fmt.Errorf("lambda %q is not registered", l.Func)
	}
	out := make([]*column.Column, 0, len(in))
	for _, col := range in {
		res, err := fn(ctx, col)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, fmt.Errorf("lambda %q returned no column for %q", l.Func, col.Name())
		}
		if res.Len() != col.Len() {
			return nil, fmt.Errorf("lambda %q returned %d rows for %q, want %d", l.Func, res.Len(), col.Name(), col.Len())
		}
		out = append(out, res.Rename(col.Name()))
	}
	return out, nil
}
