package transform

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/spaolacci/murmur3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabserve/internal/column"
	"tabserve/internal/dtype"
	"tabserve/internal/errs"
)

func apply(t *testing.T, s Step, cols ...*column.Column) []*column.Column {
	t.Helper()
	out, err := s.Apply(context.Background(), cols)
	require.NoError(t, err)
	return out
}

func TestRegistry_KnowsBuiltins(t *testing.T) {
	for _, k := range []string{"categorify", "hash_bucket", "fill_missing", "fill_median", "normalize", "normalize_minmax", "log", "clip", "rename", "lambda"} {
		s, err := New(k)
		require.NoError(t, err, k)
		assert.Equal(t, k, s.Kind())
	}
	_, err := New("bogus")
	assert.Error(t, err)
	assert.Panics(t, func() { Register(KindClip, func() Step { return &Clip{} }) })
}

func TestCategorify_ApplyLeavesStepUntouched(t *testing.T) {
	c := &Categorify{Vocab: map[string][]string{"city": {"paris", "tokyo"}}}
	in := column.FromStrings("city", []string{"tokyo", "rome"})

	out := apply(t, c, in)
	assert.Nil(t, c.index)
	codes, _ := column.Values[int64](out[0])
	assert.Equal(t, []int64{2, 0}, codes)

	var _ Preparer = c
	require.NoError(t, c.Prepare())
	require.NotNil(t, c.index)
	prepared := c.index
	out = apply(t, c, in)
	codes, _ = column.Values[int64](out[0])
	assert.Equal(t, []int64{2, 0}, codes)
	assert.Equal(t, prepared, c.index)
}

func TestHashBucket_BoundsBucketCount(t *testing.T) {
	for _, n := range []int{0, -1, 1 << 32, 1<<32 + 7} {
		h := &HashBucket{NumBuckets: map[string]int{"id": n}}
		_, err := h.Outputs([]column.Field{column.NewField("id", dtype.Int64)})
		assert.True(t, errors.Is(err, errs.ErrSchema), "buckets=%d", n)
		_, err = h.Apply(context.Background(), []*column.Column{column.FromValues("id", []int64{1})})
		assert.Error(t, err, "buckets=%d", n)
	}
	h := &HashBucket{NumBuckets: map[string]int{"id": math.MaxUint32}}
	_, err := h.Outputs([]column.Field{column.NewField("id", dtype.Int64)})
	assert.NoError(t, err)
}

func TestCategorify_CodesAndUnknowns(t *testing.T) {
	c := &Categorify{Vocab: map[string][]string{
		"city": {"paris", "tokyo"},
		"id":   {"-3", "42"},
	}}
	fields, err := c.Outputs([]column.Field{column.NewField("city", dtype.Bytes), column.NewField("id", dtype.Int32)})
	require.NoError(t, err)
	assert.Equal(t, dtype.Int64, fields[0].Dtype)
	assert.Equal(t, 3, fields[0].Cardinality)

	out := apply(t, c,
		column.FromStrings("city", []string{"tokyo", "lima", "paris", ""}),
		column.FromValues("id", []int32{42, 7, -3, 0}),
	)
	city, _ := column.Values[int64](out[0])
	id, _ := column.Values[int64](out[1])
	assert.Equal(t, []int64{2, 0, 1, 0}, city)
	assert.Equal(t, []int64{2, 0, 1, 0}, id)

	_, err = c.Outputs([]column.Field{column.NewField("price", dtype.Float32)})
	assert.True(t, errors.Is(err, errs.ErrSchema))
	_, err = c.Outputs([]column.Field{column.NewField("other", dtype.Bytes)})
	assert.True(t, errors.Is(err, errs.ErrSchema))
}

func TestHashBucket_UsesMurmur(t *testing.T) {
	h := &HashBucket{NumBuckets: map[string]int{"s": 10}}
	out := apply(t, h, column.FromStrings("s", []string{"abc", "xyz"}))
	got, _ := column.Values[int64](out[0])
	assert.Equal(t, int64(murmur3.Sum32([]byte("abc"))%10), got[0])
	assert.Equal(t, int64(murmur3.Sum32([]byte("xyz"))%10), got[1])

	_, err := h.Outputs([]column.Field{column.NewField("s", dtype.Float64)})
	assert.Error(t, err)
	_, err = (&HashBucket{}).Outputs([]column.Field{column.NewField("s", dtype.Bytes)})
	assert.Error(t, err)
}

func TestFillMissing_WithIndicator(t *testing.T) {
	f := &FillMissing{FillValue: -1, AddIndicator: true}
	fields, err := f.Outputs([]column.Field{column.NewField("x", dtype.Float32), column.NewField("n", dtype.Int64)})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "x_filled", "n", "n_filled"}, column.Schema(fields).Names())

	out := apply(t, f,
		column.FromValues("x", []float32{1, float32(math.NaN()), 3}),
		column.FromValues("n", []int64{5, 6, 7}),
	)
	require.Len(t, out, 4)
	x, _ := column.Values[float32](out[0])
	assert.Equal(t, []float32{1, -1, 3}, x)
	assert.False(t, out[1].Bool(0))
	assert.True(t, out[1].Bool(1))
	n, _ := column.Values[int64](out[2])
	assert.Equal(t, []int64{5, 6, 7}, n)
}

func TestFillMedian_RequiresFittedValue(t *testing.T) {
	f := &FillMedian{Medians: map[string]float64{"x": 2.5}}
	out := apply(t, f, column.FromValues("x", []float64{math.NaN(), 1}))
	x, _ := column.Values[float64](out[0])
	assert.Equal(t, []float64{2.5, 1}, x)

	_, err := f.Outputs([]column.Field{column.NewField("y", dtype.Float64)})
	assert.True(t, errors.Is(err, errs.ErrSchema))
}

func TestNormalize(t *testing.T) {
	n := &Normalize{Stats: map[string]Moments{"a": {Mean: 10, Std: 2}, "b": {Mean: 3, Std: 0}}}
	fields, err := n.Outputs([]column.Field{column.NewField("a", dtype.Int64), column.NewField("b", dtype.Float64)})
	require.NoError(t, err)
	assert.Equal(t, dtype.Float32, fields[0].Dtype)
	assert.Equal(t, dtype.Float64, fields[1].Dtype)

	out := apply(t, n, column.FromValues("a", []int64{10, 14}), column.FromValues("b", []float64{3, 9}))
	a, _ := column.Values[float32](out[0])
	b, _ := column.Values[float64](out[1])
	assert.Equal(t, []float32{0, 2}, a)
	assert.Equal(t, []float64{0, 0}, b)
}

func TestNormalizeMinMaxAndLog(t *testing.T) {
	mm := &NormalizeMinMax{Ranges: map[string]Range{"a": {Min: 0, Max: 4}}}
	out := apply(t, mm, column.FromValues("a", []int32{0, 1, 4}))
	a, _ := column.Values[float32](out[0])
	assert.Equal(t, []float32{0, 0.25, 1}, a)

	out = apply(t, LogOp{}, column.FromValues("a", []float64{0, math.E - 1}))
	l, _ := column.Values[float64](out[0])
	assert.Equal(t, 0.0, l[0])
	assert.InDelta(t, 1.0, l[1], 1e-12)

	_, err := LogOp{}.Outputs([]column.Field{column.NewField("s", dtype.Bytes)})
	assert.Error(t, err)
}

func TestClip_PreservesDtype(t *testing.T) {
	lo, hi := 0.0, 100.0
	c := &Clip{Min: &lo, Max: &hi}
	out := apply(t, c,
		column.FromValues("i", []int8{-128, 50, 127}),
		column.FromValues("f", []float32{-3, float32(math.NaN()), 300}),
		column.FromValues("u", []uint64{math.MaxUint64, 3}),
	)
	i, _ := column.Values[int8](out[0])
	assert.Equal(t, []int8{0, 50, 100}, i)
	assert.True(t, out[1].IsNaN(1))
	assert.Equal(t, 100.0, out[1].Float64(2))
	u, _ := column.Values[uint64](out[2])
	assert.Equal(t, []uint64{100, 3}, u)

	bad := &Clip{Min: &hi, Max: &lo}
	_, err := bad.Outputs([]column.Field{column.NewField("i", dtype.Int8)})
	assert.Error(t, err)
}

func TestRename(t *testing.T) {
	r := &Rename{Postfix: "_raw", Map: map[string]string{"b": "beta"}}
	fields, err := r.Outputs([]column.Field{column.NewField("a", dtype.Int64), column.NewField("b", dtype.Bytes)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a_raw", "beta"}, column.Schema(fields).Names())
	out := apply(t, r, column.FromValues("a", []int64{1}), column.FromStrings("b", []string{"x"}))
	assert.Equal(t, "a_raw", out[0].Name())
	assert.Equal(t, "beta", out[1].Name())
}

func TestLambda(t *testing.T) {
	RegisterLambda("double", func(_ context.Context, c *column.Column) (*column.Column, error) {
		vals, err := column.Values[int64](c)
		if err != nil {
			return nil, err
		}
		for i := range vals {
			vals[i] *= 2
		}
		return column.FromValues("ignored", vals), nil
	})
	l := &Lambda{Func: "double"}
	out := apply(t, l, column.FromValues("n", []int64{1, 2}))
	assert.Equal(t, "n", out[0].Name())
	n, _ := column.Values[int64](out[0])
	assert.Equal(t, []int64{2, 4}, n)

	RegisterLambda("short", func(_ context.Context, c *column.Column) (*column.Column, error) {
		return column.FromValues(c.Name(), []int64{}), nil
	})
	_, err := (&Lambda{Func: "short"}).Apply(context.Background(), []*column.Column{column.FromValues("n", []int64{1})})
	assert.Error(t, err)

	_, err = (&Lambda{Func: "missing"}).Outputs([]column.Field{column.NewField("n", dtype.Int64)})
	assert.Error(t, err)

	fields, err := (&Lambda{Func: "double", Dtype: dtype.Float32}).Outputs([]column.Field{column.NewField("n", dtype.Int64)})
	require.NoError(t, err)
	assert.Equal(t, dtype.Float32, fields[0].Dtype)
}

func TestSteps_EncodeAsJSON(t *testing.T) {
	raw, err := json.Marshal(&Lambda{Func: "f", Dtype: dtype.Float32})
	require.NoError(t, err)
	assert.JSONEq(t, `{"func":"f","dtype":"FP32"}`, string(raw))

	raw, err = json.Marshal(&Lambda{Func: "f"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"func":"f"}`, string(raw))

	s, err := New(KindCategorify)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(`{"vocab":{"a":["x","y"]}}`), s))
	assert.Equal(t, []string{"x", "y"}, s.(*Categorify).Vocab["a"])
}
