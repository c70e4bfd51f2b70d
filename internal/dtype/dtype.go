// Package dtype enumerates the logical column types understood by the
// serving runtime and maps them to their tensor wire names.
package dtype

import (
	"fmt"
	"strings"
)

type Dtype int

const (
	Invalid Dtype = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	Float32
	Float64
	Bytes
)

var names = map[Dtype]string{
	Bool:    "BOOL",
	Int8:    "INT8",
	Int16:   "INT16",
	Int32:   "INT32",
	Int64:   "INT64",
	Uint8:   "UINT8",
	Uint16:  "UINT16",
	Uint32:  "UINT32",
	Uint64:  "UINT64",
	Float16: "FP16",
	Float32: "FP32",
	Float64: "FP64",
	Bytes:   "BYTES",
}

var widths = map[Dtype]int{
	Bool:    1,
	Int8:    1,
	Int16:   2,
	Int32:   4,
	Int64:   8,
	Uint8:   1,
	Uint16:  2,
	Uint32:  4,
	Uint64:  8,
	Float16: 2,
	Float32: 4,
	Float64: 8,
	Bytes:   -1,
}

// String returns the wire name (e.g. "INT64", "BYTES").
func (d Dtype) String() string {
	if n, ok := names[d]; ok {
		return n
	}
	return fmt.Sprintf("INVALID(%d)", int(d))
}

// Width is the element size in bytes, or -1 for variable-length BYTES.
func (d Dtype) Width() int {
	if w, ok := widths[d]; ok {
		return w
	}
	return 0
}

func (d Dtype) Valid() bool {
	_, ok := names[d]
	return ok
}

func (d Dtype) IsVariable() bool { return d == Bytes }

func (d Dtype) IsFloat() bool { return d == Float16 || d == Float32 || d == Float64 }

func (d Dtype) IsSigned() bool {
	switch d {
	case Int8, Int16, Int32, Int64:
		return true
	}
	return false
}

func (d Dtype) IsUnsigned() bool {
	switch d {
	case Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

func (d Dtype) IsInteger() bool { return d.IsSigned() || d.IsUnsigned() }

// IsNumeric reports whether d is an integer or floating point type.
func (d Dtype) IsNumeric() bool { return d.IsInteger() || d.IsFloat() }

// Parse accepts wire names case-insensitively, plus the "TYPE_" prefix used
// by some model descriptors.
func Parse(s string) (Dtype, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "TYPE_")
	if s == "STRING" {
		s = "BYTES"
	}
	for d, n := range names {
		if n == s {
			return d, nil
		}
	}
	return Invalid, fmt.Errorf("dtype: unknown type %q", s)
}

func (d Dtype) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("dtype: cannot marshal %s", d)
	}
	return []byte(d.String()), nil
}

func (d *Dtype) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
