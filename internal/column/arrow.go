package column

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"tabserve/internal/dtype"
)

var arrowTypes = map[dtype.Dtype]arrow.DataType{
	dtype.Bool:    arrow.FixedWidthTypes.Boolean,
	dtype.Int8:    arrow.PrimitiveTypes.Int8,
	dtype.Int16:   arrow.PrimitiveTypes.Int16,
	dtype.Int32:   arrow.PrimitiveTypes.Int32,
	dtype.Int64:   arrow.PrimitiveTypes.Int64,
	dtype.Uint8:   arrow.PrimitiveTypes.Uint8,
	dtype.Uint16:  arrow.PrimitiveTypes.Uint16,
	dtype.Uint32:  arrow.PrimitiveTypes.Uint32,
	dtype.Uint64:  arrow.PrimitiveTypes.Uint64,
	dtype.Float16: arrow.FixedWidthTypes.Float16,
	dtype.Float32: arrow.PrimitiveTypes.Float32,
	dtype.Float64: arrow.PrimitiveTypes.Float64,
	dtype.Bytes:   arrow.BinaryTypes.Binary,
}

// ToArrow converts the batch into an Arrow record. The caller owns the
// record and must Release it.
func (b *Batch) ToArrow(mem memory.Allocator) (arrow.Record, error) {
	fields := make([]arrow.Field, 0, len(b.cols))
	arrs := make([]arrow.Array, 0, len(b.cols))
	defer func() {
		for _, a := range arrs {
			a.Release()
		}
	}()
	for _, c := range b.cols {
		at, ok := arrowTypes[c.dtype]
		if !ok {
			return nil, fmt.Errorf("column %q: no arrow type for %s", c.name, c.dtype)
		}
		fields = append(fields, arrow.Field{Name: c.name, Type: at})
		arrs = append(arrs, toArrowArray(mem, c, at))
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), arrs, int64(b.rows)), nil
}

func toArrowArray(mem memory.Allocator, c *Column, at arrow.DataType) arrow.Array {
	switch c.dtype {
	case dtype.Bytes:
		bld := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
		defer bld.Release()
		for _, s := range c.strs {
			bld.Append(s)
		}
		return bld.NewArray()
	case dtype.Bool:
		bld := array.NewBooleanBuilder(mem)
		defer bld.Release()
		for i := 0; i < c.rows; i++ {
			bld.Append(c.data[i] != 0)
		}
		return bld.NewArray()
	}
	// Arrow primitive layouts are little-endian element buffers already.
	data := array.NewData(at, c.rows, []*memory.Buffer{nil, memory.NewBufferBytes(c.data)}, nil, 0, 0)
	defer data.Release()
	return array.MakeFromData(data)
}

// FromArrow copies an Arrow record into a batch. Nulls become NaN in float
// columns and empty strings in binary columns; nulls elsewhere are an error.
func FromArrow(rec arrow.Record) (*Batch, error) {
	cols := make([]*Column, 0, rec.NumCols())
	for i, f := range rec.Schema().Fields() {
		c, err := fromArrowArray(f.Name, rec.Column(i))
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return NewBatch(cols...)
}

func fromArrowArray(name string, arr arrow.Array) (*Column, error) {
	n := arr.Len()
	switch a := arr.(type) {
	case *array.Binary:
		out := make([][]byte, n)
		for i := range out {
			out[i] = append([]byte{}, a.Value(i)...)
		}
		return FromBytes(name, out), nil
	case *array.String:
		out := make([]string, n)
		for i := range out {
			out[i] = a.Value(i)
		}
		return FromStrings(name, out), nil
	case *array.Boolean:
		if a.NullN() > 0 {
			return nil, fmt.Errorf("column %q: BOOL arrow column has nulls", name)
		}
		out := make([]bool, n)
		for i := range out {
			out[i] = a.Value(i)
		}
		return FromBools(name, out), nil
	}

	var dt dtype.Dtype
	for d, at := range arrowTypes {
		if arrow.TypeEqual(at, arr.DataType()) {
			dt = d
			break
		}
	}
	if dt == dtype.Invalid {
		return nil, fmt.Errorf("column %q: unsupported arrow type %s", name, arr.DataType())
	}
	if arr.NullN() > 0 && !dt.IsFloat() {
		return nil, fmt.Errorf("column %q: %s arrow column has nulls", name, dt)
	}

	w := dt.Width()
	off := arr.Data().Offset()
	src := arr.Data().Buffers()[1].Bytes()[off*w : (off+n)*w]
	raw := append([]byte{}, src...)
	for i := 0; i < n && arr.NullN() > 0; i++ {
		if arr.IsNull(i) {
			putNaN(raw[i*w:(i+1)*w], dt)
		}
	}
	return FromRaw(name, dt, n, raw)
}

func putNaN(dst []byte, dt dtype.Dtype) {
	switch dt {
	case dtype.Float16:
		binary.LittleEndian.PutUint16(dst, 0x7e00)
	case dtype.Float32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(math.NaN())))
	case dtype.Float64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(math.NaN()))
	}
}
