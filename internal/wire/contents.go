package wire

import (
	triton "github.com/Meesho/BharatMLStack/helix-client/pkg/clients/predator/client/grpc"

	"tabserve/internal/column"
	"tabserve/internal/dtype"
	"tabserve/internal/errs"
)

// fromContents decodes the typed contents of an input tensor. Narrow
// integers travel widened in IntContents and UintContents and are
// range-checked on the way in. FP16 has no typed representation.
func fromContents(name, datatype string, shape []int64, ct *triton.InferTensorContents) (*column.Column, error) {
	dt, err := dtype.Parse(datatype)
	if err != nil {
		return nil, errs.Schemaf(name, "unknown datatype %q", datatype)
	}
	rows, err := Rows(name, shape)
	if err != nil {
		return nil, err
	}
	n, ok := contentsLen(dt, ct)
	if !ok {
		return nil, errs.Schemaf(name, "%s inputs must use raw contents", dt)
	}
	if n != rows {
		return nil, errs.Schemaf(name, "%d %s values for %d rows", n, dt, rows)
	}
	if dt == dtype.Bytes {
		return column.FromBytes(name, ct.GetBytesContents()), nil
	}

	b := column.NewBuilder(name, dt, rows)
	switch {
	case dt == dtype.Bool:
		for i, v := range ct.GetBoolContents() {
			b.SetBool(i, v)
		}
	case dt == dtype.Int64:
		for i, v := range ct.GetInt64Contents() {
			b.SetInt64(i, v)
		}
	case dt.IsSigned():
		lo, hi := signedRange(dt)
		for i, v := range ct.GetIntContents() {
			if int64(v) < lo || int64(v) > hi {
				return nil, errs.Schemaf(name, "value %d at row %d overflows %s", v, i, dt)
			}
			b.SetInt64(i, int64(v))
		}
	case dt == dtype.Uint64:
		for i, v := range ct.GetUint64Contents() {
			b.SetUint64(i, v)
		}
	case dt.IsUnsigned():
		hi := uint64(1)<<(8*dt.Width()) - 1
		for i, v := range ct.GetUintContents() {
			if uint64(v) > hi {
				return nil, errs.Schemaf(name, "value %d at row %d overflows %s", v, i, dt)
			}
			b.SetUint64(i, uint64(v))
		}
	case dt == dtype.Float32:
		for i, v := range ct.GetFp32Contents() {
			b.SetFloat64(i, float64(v))
		}
	case dt == dtype.Float64:
		for i, v := range ct.GetFp64Contents() {
			b.SetFloat64(i, v)
		}
	}
	return b.Build(), nil
}

// contentsLen is the number of values ct carries for dt. The count is
// checked against the shape before anything is allocated for the column.
func contentsLen(dt dtype.Dtype, ct *triton.InferTensorContents) (int, bool) {
	switch {
	case dt == dtype.Bytes:
		return len(ct.GetBytesContents()), true
	case dt == dtype.Bool:
		return len(ct.GetBoolContents()), true
	case dt == dtype.Int64:
		return len(ct.GetInt64Contents()), true
	case dt == dtype.Float16:
		return 0, false
	case dt.IsSigned():
		return len(ct.GetIntContents()), true
	case dt == dtype.Uint64:
		return len(ct.GetUint64Contents()), true
	case dt.IsUnsigned():
		return len(ct.GetUintContents()), true
	case dt == dtype.Float32:
		return len(ct.GetFp32Contents()), true
	case dt == dtype.Float64:
		return len(ct.GetFp64Contents()), true
	}
	return 0, false
}

func signedRange(dt dtype.Dtype) (int64, int64) {
	bits := 8*dt.Width() - 1
	return -(int64(1) << bits), int64(1)<<bits - 1
}
