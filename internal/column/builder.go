package column

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"

	"tabserve/internal/dtype"
)

// Builder fills a column of a fixed dtype row by row. Setters convert the
// given value to the builder's dtype with Go conversion semantics.
type Builder struct {
	name string
	dt   dtype.Dtype
	rows int
	data []byte
	strs [][]byte
}

func NewBuilder(name string, dt dtype.Dtype, rows int) *Builder {
	b := &Builder{name: name, dt: dt, rows: rows}
	if dt.IsVariable() {
		b.strs = make([][]byte, rows)
	} else {
		b.data = make([]byte, rows*dt.Width())
	}
	return b
}

func (b *Builder) Dtype() dtype.Dtype { return b.dt }

func (b *Builder) slot(i int) []byte {
	w := b.dt.Width()
	return b.data[i*w : (i+1)*w]
}

func (b *Builder) SetInt64(i int, v int64) {
	switch {
	case b.dt.IsFloat():
		b.SetFloat64(i, float64(v))
	case b.dt == dtype.Bool:
		b.SetBool(i, v != 0)
	default:
		putInteger(b.slot(i), uint64(v))
	}
}

func (b *Builder) SetUint64(i int, v uint64) {
	switch {
	case b.dt.IsFloat():
		b.SetFloat64(i, float64(v))
	case b.dt == dtype.Bool:
		b.SetBool(i, v != 0)
	default:
		putInteger(b.slot(i), v)
	}
}

func (b *Builder) SetFloat64(i int, v float64) {
	dst := b.slot(i)
	le := binary.LittleEndian
	switch b.dt {
	case dtype.Float16:
		le.PutUint16(dst, float16.Fromfloat32(float32(v)).Bits())
	case dtype.Float32:
		le.PutUint32(dst, math.Float32bits(float32(v)))
	case dtype.Float64:
		le.PutUint64(dst, math.Float64bits(v))
	case dtype.Bool:
		b.SetBool(i, v != 0)
	default:
		if b.dt.IsUnsigned() {
			putInteger(dst, uint64(v))
		} else {
			putInteger(dst, uint64(int64(v)))
		}
	}
}

func (b *Builder) SetBool(i int, v bool) {
	if b.dt != dtype.Bool {
		if v {
			b.SetInt64(i, 1)
		} else {
			b.SetInt64(i, 0)
		}
		return
	}
	b.data[i] = 0
	if v {
		b.data[i] = 1
	}
}

func (b *Builder) SetBytes(i int, v []byte) { b.strs[i] = v }

// putInteger truncates v to the slot width, two's complement for signed types.
func putInteger(dst []byte, v uint64) {
	le := binary.LittleEndian
	switch len(dst) {
	case 1:
		dst[0] = byte(v)
	case 2:
		le.PutUint16(dst, uint16(v))
	case 4:
		le.PutUint32(dst, uint32(v))
	case 8:
		le.PutUint64(dst, v)
	}
}

// Build returns the finished column; the builder must not be reused.
func (b *Builder) Build() *Column {
	return &Column{name: b.name, dtype: b.dt, rows: b.rows, data: b.data, strs: b.strs}
}
