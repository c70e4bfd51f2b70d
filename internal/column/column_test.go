package column

import (
	"math"
	"testing"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabserve/internal/dtype"
)

func TestFromValues_BoundaryValues(t *testing.T) {
	i64 := FromValues("a", []int64{math.MinInt64, -1, 0, math.MaxInt64})
	assert.Equal(t, dtype.Int64, i64.Dtype())
	assert.Equal(t, int64(math.MinInt64), i64.Int64(0))
	assert.Equal(t, int64(math.MaxInt64), i64.Int64(3))
	got, err := Values[int64](i64)
	require.NoError(t, err)
	assert.Equal(t, []int64{math.MinInt64, -1, 0, math.MaxInt64}, got)

	u64 := FromValues("b", []uint64{0, math.MaxUint64})
	assert.Equal(t, uint64(math.MaxUint64), u64.Uint64(1))

	i8 := FromValues("c", []int8{-128, 127})
	assert.Equal(t, int64(-128), i8.Int64(0))
	assert.Equal(t, 2, len(i8.Raw()))

	_, err = Values[int32](i64)
	assert.Error(t, err)
}

func TestFloatColumns(t *testing.T) {
	f := FromValues("f", []float32{1.5, float32(math.NaN()), float32(math.Inf(-1))})
	assert.Equal(t, 1.5, f.Float64(0))
	assert.True(t, f.IsNaN(1))
	assert.False(t, f.IsNaN(2))
	assert.True(t, math.IsInf(f.Float64(2), -1))

	h := FromFloat16s("h", []float32{0.5, 65504, -2})
	assert.Equal(t, dtype.Float16, h.Dtype())
	assert.Equal(t, 0.5, h.Float64(0))
	assert.Equal(t, 65504.0, h.Float64(1))
	assert.Equal(t, -2.0, h.Float64(2))
}

func TestStringsAndBools(t *testing.T) {
	s := FromStrings("s", []string{"", "héllo", "x"})
	assert.Equal(t, dtype.Bytes, s.Dtype())
	assert.Equal(t, "héllo", s.String(1))
	assert.Empty(t, s.Bytes(0))
	out, err := s.Strings()
	require.NoError(t, err)
	assert.Equal(t, []string{"", "héllo", "x"}, out)

	b := FromBools("b", []bool{true, false})
	assert.True(t, b.Bool(0))
	assert.Equal(t, "false", b.String(1))
	_, err = b.Strings()
	assert.Error(t, err)
}

func TestFromRaw_ChecksLength(t *testing.T) {
	_, err := FromRaw("x", dtype.Int32, 3, make([]byte, 11))
	assert.Error(t, err)
	_, err = FromRaw("x", dtype.Bytes, 1, nil)
	assert.Error(t, err)
	_, err = FromRaw("x", dtype.Int64, 1<<61, nil)
	assert.Error(t, err, "rows*width must not wrap around")
	_, err = FromRaw("x", dtype.Float64, 1<<40, make([]byte, 8))
	assert.Error(t, err)
	c, err := FromRaw("x", dtype.Int32, 2, []byte{1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Int64(0))
	assert.Equal(t, int64(-1), c.Int64(1))
}

func TestBatch_Invariants(t *testing.T) {
	_, err := NewBatch(FromValues("a", []int64{1}), FromValues("a", []int64{2}))
	assert.Error(t, err)

	_, err = NewBatch(FromValues("a", []int64{1}), FromValues("b", []int64{2, 3}))
	assert.ErrorIs(t, err, ErrRowMismatch)

	b := MustBatch(FromValues("a", []int64{1, 2}), FromStrings("b", []string{"x", "y"}))
	assert.Equal(t, 2, b.Rows())
	assert.Equal(t, []string{"a", "b"}, b.Names())

	sel, err := b.Select("b", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, sel.Names())
	_, err = b.Select("zzz")
	assert.Error(t, err)
}

func TestArrow_RoundTrip(t *testing.T) {
	b := MustBatch(
		FromValues("i", []int64{math.MinInt64, 7}),
		FromValues("u", []uint32{0, math.MaxUint32}),
		FromValues("f", []float64{math.NaN(), 2.5}),
		FromFloat16s("h", []float32{1, -0.25}),
		FromBools("ok", []bool{false, true}),
		FromStrings("s", []string{"", "abc"}),
	)

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	rec, err := b.ToArrow(mem)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rec.NumRows())

	back, err := FromArrow(rec)
	require.NoError(t, err)
	rec.Release()
	mem.AssertSize(t, 0)

	require.Equal(t, b.Names(), back.Names())
	for _, c := range b.Columns() {
		got, ok := back.Column(c.Name())
		require.True(t, ok)
		assert.True(t, c.Equal(got), c.Name())
	}
}

func TestBuilder_ConvertsToDtype(t *testing.T) {
	b := NewBuilder("x", dtype.Int16, 3)
	b.SetInt64(0, -5)
	b.SetFloat64(1, 3.9)
	b.SetBool(2, true)
	c := b.Build()
	got, err := Values[int16](c)
	require.NoError(t, err)
	assert.Equal(t, []int16{-5, 3, 1}, got)

	u := NewBuilder("u", dtype.Uint64, 1)
	u.SetUint64(0, math.MaxUint64)
	assert.Equal(t, uint64(math.MaxUint64), u.Build().Uint64(0))

	s := NewBuilder("s", dtype.Bytes, 2)
	s.SetBytes(1, []byte("z"))
	assert.Equal(t, "z", s.Build().String(1))
}

func TestSchema_ValidateAndEqual(t *testing.T) {
	s := Schema{NewField("a", dtype.Int64), NewField("b", dtype.Bytes)}
	require.NoError(t, s.Validate())
	assert.Equal(t, -1, s[1].Width)

	dup := Schema{NewField("a", dtype.Int64), NewField("a", dtype.Int32)}
	assert.Error(t, dup.Validate())

	bad := Schema{{Name: "a", Dtype: dtype.Int64, Width: 4}}
	assert.Error(t, bad.Validate())

	other := Schema{NewField("a", dtype.Int64), {Name: "b", Dtype: dtype.Bytes, Width: -1, Cardinality: 9}}
	assert.True(t, s.Equal(other))
	assert.False(t, s.Equal(Schema{NewField("b", dtype.Bytes), NewField("a", dtype.Int64)}))

	batch := MustBatch(FromValues("a", []int64{1}), FromStrings("b", []string{"q"}))
	assert.True(t, s.Equal(batch.Schema()))
}
