package transform

import (
	"context"
	"math"

	"tabserve/internal/column"
	"tabserve/internal/errs"
)

const KindClip = "clip"

// Clip bounds numeric values to [Min, Max]; either bound may be omitted.
// The column dtype is preserved and NaN passes through.
type Clip struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

func (c *Clip) Kind() string { return KindClip }

func (c *Clip) Outputs(in []column.Field) ([]column.Field, error) {
	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		return nil, errs.Schemaf("", "clip bounds are inverted: min %g > max %g", *c.Min, *c.Max)
	}
	out := make([]column.Field, 0, len(in))
	for _, f := range in {
		if !f.Dtype.IsNumeric() {
			return nil, errs.Schemaf(f.Name, "clip needs numeric input, got %s", f.Dtype)
		}
		out = append(out, column.NewField(f.Name, f.Dtype))
	}
	return out, nil
}

func (c *Clip) Apply(_ context.Context, in []*column.Column) ([]*column.Column, error) {
	out := make([]*column.Column, 0, len(in))
	for _, col := range in {
		b := column.NewBuilder(col.Name(), col.Dtype(), col.Len())
		for i := 0; i < col.Len(); i++ {
			switch dt := col.Dtype(); {
			case dt.IsFloat():
				b.SetFloat64(i, c.clampFloat(col.Float64(i)))
			case dt.IsUnsigned():
				b.SetUint64(i, c.clampUint(col.Uint64(i)))
			default:
				b.SetInt64(i, c.clampInt(col.Int64(i)))
			}
		}
		out = append(out, b.Build())
	}
	return out, nil
}

func (c *Clip) clampFloat(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	if c.Min != nil && v < *c.Min {
		v = *c.Min
	}
	if c.Max != nil && v > *c.Max {
		v = *c.Max
	}
	return v
}

func (c *Clip) clampInt(v int64) int64 {
	if c.Min != nil && float64(v) < *c.Min {
		v = int64(math.Ceil(*c.Min))
	}
	if c.Max != nil && float64(v) > *c.Max {
		v = int64(math.Floor(*c.Max))
	}
	return v
}

func (c *Clip) clampUint(v uint64) uint64 {
	if c.Min != nil && float64(v) < *c.Min {
		v = uint64(math.Ceil(math.Max(*c.Min, 0)))
	}
	if c.Max != nil && float64(v) > *c.Max {
		v = uint64(math.Floor(math.Max(*c.Max, 0)))
	}
	return v
}
