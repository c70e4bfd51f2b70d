package transform

import (
	"context"
	"fmt"

	"tabserve/internal/column"
	"tabserve/internal/dtype"
	"tabserve/internal/errs"
)

const (
	KindFillMissing = "fill_missing"
	KindFillMedian  = "fill_median"

	// IndicatorSuffix names the BOOL column flagging filled rows.
	IndicatorSuffix = "_filled"
)

// FillMissing replaces NaN in float columns with a constant. Integer and
// string columns have no missing marker and pass through unchanged.
type FillMissing struct {
	FillValue    float64 `json:"fill_value"`
	AddIndicator bool    `json:"add_indicator,omitempty"`
}

func (f *FillMissing) Kind() string { return KindFillMissing }

func (f *FillMissing) Outputs(in []column.Field) ([]column.Field, error) {
	return fillOutputs(in, f.AddIndicator, func(string) bool { return true })
}

func (f *FillMissing) Apply(_ context.Context, in []*column.Column) ([]*column.Column, error) {
	return fill(in, f.AddIndicator, func(string) (float64, bool) { return f.FillValue, true })
}

// FillMedian replaces NaN with the fitted per-column median.
type FillMedian struct {
	Medians      map[string]float64 `json:"medians"`
	AddIndicator bool               `json:"add_indicator,omitempty"`
}

func (f *FillMedian) Kind() string { return KindFillMedian }

func (f *FillMedian) Outputs(in []column.Field) ([]column.Field, error) {
	return fillOutputs(in, f.AddIndicator, func(name string) bool {
		_, ok := f.Medians[name]
		return ok
	})
}

func (f *FillMedian) Apply(_ context.Context, in []*column.Column) ([]*column.Column, error) {
	return fill(in, f.AddIndicator, func(name string) (float64, bool) {
		v, ok := f.Medians[name]
		return v, ok
	})
}

func fillOutputs(in []column.Field, indicator bool, fitted func(string) bool) ([]column.Field, error) {
	out := make([]column.Field, 0, len(in)*2)
	for _, f := range in {
		if f.Dtype.IsFloat() && !fitted(f.Name) {
			return nil, errs.Schemaf(f.Name, "no fitted fill value for column")
		}
		if !f.Dtype.IsNumeric() && f.Dtype != dtype.Bool && f.Dtype != dtype.Bytes {
			return nil, errs.Schemaf(f.Name, "cannot fill %s column", f.Dtype)
		}
		out = append(out, f)
		if indicator {
			out = append(out, column.NewField(f.Name+IndicatorSuffix, dtype.Bool))
		}
	}
	return out, nil
}

func fill(in []*column.Column, indicator bool, value func(string) (float64, bool)) ([]*column.Column, error) {
	out := make([]*column.Column, 0, len(in)*2)
	for _, col := range in {
		filled := make([]bool, col.Len())
		res := col
		if col.Dtype().IsFloat() {
			v, ok := value(col.Name())
			if !ok {
				return nil, fmt.Errorf("fill: no fill value for column %q", col.Name())
			}
			b := column.NewBuilder(col.Name(), col.Dtype(), col.Len())
			for i := 0; i < col.Len(); i++ {
				if col.IsNaN(i) {
					filled[i] = true
					b.SetFloat64(i, v)
				} else {
					b.SetFloat64(i, col.Float64(i))
				}
			}
			res = b.Build()
		}
		out = append(out, res)
		if indicator {
			out = append(out, column.FromBools(col.Name()+IndicatorSuffix, filled))
		}
	}
	return out, nil
}
