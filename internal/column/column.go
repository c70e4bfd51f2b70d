// Package column implements the columnar containers that flow through a
// transform graph: fixed-width numeric buffers and variable-length byte
// strings, grouped into row-aligned batches.
package column

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"tabserve/internal/dtype"
)

// Number lists the Go element types with a fixed-width column dtype.
type Number interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// Column is an immutable named vector. Fixed-width values are kept as one
// little-endian buffer, which is also the tensor wire layout.
type Column struct {
	name  string
	dtype dtype.Dtype
	rows  int
	data  []byte
	strs  [][]byte
}

func dtypeOf[T Number]() dtype.Dtype {
	var zero T
	switch any(zero).(type) {
	case int8:
		return dtype.Int8
	case int16:
		return dtype.Int16
	case int32:
		return dtype.Int32
	case int64:
		return dtype.Int64
	case uint8:
		return dtype.Uint8
	case uint16:
		return dtype.Uint16
	case uint32:
		return dtype.Uint32
	case uint64:
		return dtype.Uint64
	case float32:
		return dtype.Float32
	case float64:
		return dtype.Float64
	}
	return dtype.Invalid
}

// FromValues builds a fixed-width column whose dtype follows T.
func FromValues[T Number](name string, vals []T) *Column {
	dt := dtypeOf[T]()
	w := dt.Width()
	buf := make([]byte, len(vals)*w)
	for i, v := range vals {
		putNumber(buf[i*w:(i+1)*w], any(v))
	}
	return &Column{name: name, dtype: dt, rows: len(vals), data: buf}
}

func putNumber(dst []byte, v any) {
	le := binary.LittleEndian
	switch x := v.(type) {
	case int8:
		dst[0] = byte(x)
	case uint8:
		dst[0] = x
	case int16:
		le.PutUint16(dst, uint16(x))
	case uint16:
		le.PutUint16(dst, x)
	case int32:
		le.PutUint32(dst, uint32(x))
	case uint32:
		le.PutUint32(dst, x)
	case int64:
		le.PutUint64(dst, uint64(x))
	case uint64:
		le.PutUint64(dst, x)
	case float32:
		le.PutUint32(dst, math.Float32bits(x))
	case float64:
		le.PutUint64(dst, math.Float64bits(x))
	}
}

func FromBools(name string, vals []bool) *Column {
	buf := make([]byte, len(vals))
	for i, v := range vals {
		if v {
			buf[i] = 1
		}
	}
	return &Column{name: name, dtype: dtype.Bool, rows: len(vals), data: buf}
}

// FromFloat16s stores float32 values rounded to IEEE half precision.
func FromFloat16s(name string, vals []float32) *Column {
	buf := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
	}
	return &Column{name: name, dtype: dtype.Float16, rows: len(vals), data: buf}
}

func FromStrings(name string, vals []string) *Column {
	strs := make([][]byte, len(vals))
	for i, v := range vals {
		strs[i] = []byte(v)
	}
	return &Column{name: name, dtype: dtype.Bytes, rows: len(vals), strs: strs}
}

// FromBytes wraps byte strings without copying them.
func FromBytes(name string, vals [][]byte) *Column {
	return &Column{name: name, dtype: dtype.Bytes, rows: len(vals), strs: vals}
}

// FromRaw wraps a little-endian fixed-width buffer holding rows elements.
func FromRaw(name string, dt dtype.Dtype, rows int, raw []byte) (*Column, error) {
	if !dt.Valid() || dt.IsVariable() {
		return nil, fmt.Errorf("column %q: raw buffers need a fixed-width dtype, got %s", name, dt)
	}
	w := dt.Width()
	if rows < 0 || rows > len(raw)/w || len(raw) != rows*w {
		return nil, fmt.Errorf("column %q: %d bytes cannot hold %d %s values", name, len(raw), rows, dt)
	}
	return &Column{name: name, dtype: dt, rows: rows, data: raw}, nil
}

func (c *Column) Name() string { return c.name }

func (c *Column) Dtype() dtype.Dtype { return c.dtype }

func (c *Column) Len() int { return c.rows }

// Raw is the little-endian element buffer of a fixed-width column.
func (c *Column) Raw() []byte { return c.data }

// ByteStrings is the payload of a BYTES column.
func (c *Column) ByteStrings() [][]byte { return c.strs }

// Rename returns a view of the same values under a new name.
func (c *Column) Rename(name string) *Column {
	cp := *c
	cp.name = name
	return &cp
}

func (c *Column) elem(i int) []byte {
	w := c.dtype.Width()
	return c.data[i*w : (i+1)*w]
}

// Bytes returns row i as bytes: the string payload for BYTES columns and the
// little-endian element encoding otherwise.
func (c *Column) Bytes(i int) []byte {
	if c.dtype.IsVariable() {
		return c.strs[i]
	}
	return c.elem(i)
}

func (c *Column) String(i int) string {
	if c.dtype.IsVariable() {
		return string(c.strs[i])
	}
	switch {
	case c.dtype.IsSigned():
		return fmt.Sprintf("%d", c.Int64(i))
	case c.dtype.IsUnsigned():
		return fmt.Sprintf("%d", c.Uint64(i))
	case c.dtype == dtype.Bool:
		return fmt.Sprintf("%t", c.Bool(i))
	}
	return fmt.Sprintf("%g", c.Float64(i))
}

func (c *Column) Int64(i int) int64 {
	b := c.elem(i)
	le := binary.LittleEndian
	switch c.dtype {
	case dtype.Bool, dtype.Uint8:
		return int64(b[0])
	case dtype.Int8:
		return int64(int8(b[0]))
	case dtype.Int16:
		return int64(int16(le.Uint16(b)))
	case dtype.Uint16:
		return int64(le.Uint16(b))
	case dtype.Int32:
		return int64(int32(le.Uint32(b)))
	case dtype.Uint32:
		return int64(le.Uint32(b))
	case dtype.Int64:
		return int64(le.Uint64(b))
	case dtype.Uint64:
		return int64(le.Uint64(b))
	}
	return int64(c.Float64(i))
}

func (c *Column) Uint64(i int) uint64 {
	if c.dtype == dtype.Uint64 {
		return binary.LittleEndian.Uint64(c.elem(i))
	}
	if c.dtype.IsFloat() {
		return uint64(c.Float64(i))
	}
	return uint64(c.Int64(i))
}

func (c *Column) Float64(i int) float64 {
	b := c.elem(i)
	le := binary.LittleEndian
	switch c.dtype {
	case dtype.Float16:
		return float64(float16.Frombits(le.Uint16(b)).Float32())
	case dtype.Float32:
		return float64(math.Float32frombits(le.Uint32(b)))
	case dtype.Float64:
		return math.Float64frombits(le.Uint64(b))
	case dtype.Uint64:
		return float64(le.Uint64(b))
	}
	return float64(c.Int64(i))
}

func (c *Column) Bool(i int) bool {
	if c.dtype == dtype.Bool {
		return c.data[i] != 0
	}
	return c.Float64(i) != 0
}

// IsNaN reports whether row i holds a floating point NaN, the missing-value
// marker for float columns.
func (c *Column) IsNaN(i int) bool {
	return c.dtype.IsFloat() && math.IsNaN(c.Float64(i))
}

// Values decodes the column into a typed slice; T must match the dtype.
func Values[T Number](c *Column) ([]T, error) {
	if want := dtypeOf[T](); want != c.dtype {
		return nil, fmt.Errorf("column %q: is %s, not %s", c.name, c.dtype, want)
	}
	out := make([]T, c.rows)
	for i := range out {
		out[i] = decode[T](c.elem(i))
	}
	return out, nil
}

func decode[T Number](b []byte) T {
	le := binary.LittleEndian
	var v T
	switch p := any(&v).(type) {
	case *int8:
		*p = int8(b[0])
	case *uint8:
		*p = b[0]
	case *int16:
		*p = int16(le.Uint16(b))
	case *uint16:
		*p = le.Uint16(b)
	case *int32:
		*p = int32(le.Uint32(b))
	case *uint32:
		*p = le.Uint32(b)
	case *int64:
		*p = int64(le.Uint64(b))
	case *uint64:
		*p = le.Uint64(b)
	case *float32:
		*p = math.Float32frombits(le.Uint32(b))
	case *float64:
		*p = math.Float64frombits(le.Uint64(b))
	}
	return v
}

// Strings copies a BYTES column into Go strings.
func (c *Column) Strings() ([]string, error) {
	if !c.dtype.IsVariable() {
		return nil, fmt.Errorf("column %q: is %s, not BYTES", c.name, c.dtype)
	}
	out := make([]string, len(c.strs))
	for i, s := range c.strs {
		out[i] = string(s)
	}
	return out, nil
}

// Equal compares dtype, length and exact bytes; float NaNs compare by bit
// pattern. Names are not compared.
func (c *Column) Equal(o *Column) bool {
	if c.dtype != o.dtype || c.rows != o.rows {
		return false
	}
	if c.dtype.IsVariable() {
		for i := range c.strs {
			if !bytes.Equal(c.strs[i], o.strs[i]) {
				return false
			}
		}
		return true
	}
	return bytes.Equal(c.data, o.data)
}
