package transform

import (
	"context"
	"fmt"
	"math"

	"tabserve/internal/column"
	"tabserve/internal/dtype"
	"tabserve/internal/errs"
)

const (
	KindNormalize       = "normalize"
	KindNormalizeMinMax = "normalize_minmax"
	KindLog             = "log"
)

type Moments struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Normalize standardizes numeric columns to (x-mean)/std. A zero std maps
// every finite value to 0.
type Normalize struct {
	Stats map[string]Moments `json:"stats"`
}

func (n *Normalize) Kind() string { return KindNormalize }

func (n *Normalize) Outputs(in []column.Field) ([]column.Field, error) {
	return floatOutputs(KindNormalize, in, func(name string) bool {
		_, ok := n.Stats[name]
		return ok
	})
}

func (n *Normalize) Apply(_ context.Context, in []*column.Column) ([]*column.Column, error) {
	return mapFloat(KindNormalize, in, func(name string) (func(float64) float64, bool) {
		m, ok := n.Stats[name]
		if !ok {
			return nil, false
		}
		return func(x float64) float64 {
			if m.Std == 0 {
				return x - x
			}
			return (x - m.Mean) / m.Std
		}, true
	})
}

type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// NormalizeMinMax rescales numeric columns to (x-min)/(max-min).
type NormalizeMinMax struct {
	Ranges map[string]Range `json:"ranges"`
}

func (n *NormalizeMinMax) Kind() string { return KindNormalizeMinMax }

func (n *NormalizeMinMax) Outputs(in []column.Field) ([]column.Field, error) {
	return floatOutputs(KindNormalizeMinMax, in, func(name string) bool {
		_, ok := n.Ranges[name]
		return ok
	})
}

func (n *NormalizeMinMax) Apply(_ context.Context, in []*column.Column) ([]*column.Column, error) {
	return mapFloat(KindNormalizeMinMax, in, func(name string) (func(float64) float64, bool) {
		r, ok := n.Ranges[name]
		if !ok {
			return nil, false
		}
		span := r.Max - r.Min
		return func(x float64) float64 {
			if span == 0 {
				return x - x
			}
			return (x - r.Min) / span
		}, true
	})
}

// LogOp computes log(x+1).
type LogOp struct{}

func (LogOp) Kind() string { return KindLog }

func (LogOp) Outputs(in []column.Field) ([]column.Field, error) {
	return floatOutputs(KindLog, in, func(string) bool { return true })
}

func (LogOp) Apply(_ context.Context, in []*column.Column) ([]*column.Column, error) {
	return mapFloat(KindLog, in, func(string) (func(float64) float64, bool) {
		return math.Log1p, true
	})
}

// floatDtype is FP64 for FP64 input and FP32 otherwise.
func floatDtype(in dtype.Dtype) dtype.Dtype {
	if in == dtype.Float64 {
		return dtype.Float64
	}
	return dtype.Float32
}

func floatOutputs(kind string, in []column.Field, fitted func(string) bool) ([]column.Field, error) {
	out := make([]column.Field, 0, len(in))
	for _, f := range in {
		if !f.Dtype.IsNumeric() && f.Dtype != dtype.Bool {
			return nil, errs.Schemaf(f.Name, "%s needs numeric input, got %s", kind, f.Dtype)
		}
		if !fitted(f.Name) {
			return nil, errs.Schemaf(f.Name, "%s has no fitted statistics for column", kind)
		}
		out = append(out, column.NewField(f.Name, floatDtype(f.Dtype)))
	}
	return out, nil
}

func mapFloat(kind string, in []*column.Column, fn func(string) (func(float64) float64, bool)) ([]*column.Column, error) {
	out := make([]*column.Column, 0, len(in))
	for _, col := range in {
		f, ok := fn(col.Name())
		if !ok {
			return nil, fmt.Errorf("%s: no fitted statistics for column %q", kind, col.Name())
		}
		b := column.NewBuilder(col.Name(), floatDtype(col.Dtype()), col.Len())
		for i := 0; i < col.Len(); i++ {
			b.SetFloat64(i, f(col.Float64(i)))
		}
		out = append(out, b.Build())
	}
	return out, nil
}
