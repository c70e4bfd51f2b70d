// Package wire converts between column batches and Triton inference tensors.
//
// Fixed-width tensors travel as little-endian raw contents. BYTES tensors
// carry each element as a 4-byte little-endian length followed by the
// payload. Every tensor is shaped [rows, 1].
package wire

import (
	"encoding/binary"
	"fmt"

	triton "github.com/Meesho/BharatMLStack/helix-client/pkg/clients/predator/client/grpc"

	"tabserve/internal/column"
	"tabserve/internal/dtype"
	"tabserve/internal/errs"
)

// Shape is the tensor shape used for a column of rows values.
func Shape(rows int) []int64 { return []int64{int64(rows), 1} }

// Rows checks that shape describes one value per row and returns the row
// count. Both [rows] and [rows, 1] are accepted.
func Rows(name string, shape []int64) (int, error) {
	switch {
	case len(shape) == 1 && shape[0] >= 0:
		return int(shape[0]), nil
	case len(shape) == 2 && shape[0] >= 0 && shape[1] == 1:
		return int(shape[0]), nil
	}
	return 0, errs.Schemaf(name, "shape %v is not [rows] or [rows, 1]", shape)
}

// Encode returns the raw contents of c.
func Encode(c *column.Column) []byte {
	if !c.Dtype().IsVariable() {
		return c.Raw()
	}
	strs := c.ByteStrings()
	size := 4 * len(strs)
	for _, s := range strs {
		size += len(s)
	}
	buf := make([]byte, size)
	off := 0
	for _, s := range strs {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(s)))
		off += 4
		off += copy(buf[off:], s)
	}
	return buf
}

// Decode rebuilds a column from raw contents. Fixed-width buffers must hold
// exactly rows elements; BYTES buffers must hold exactly rows prefixed
// elements with no trailing bytes.
func Decode(name, datatype string, shape []int64, raw []byte) (*column.Column, error) {
	dt, err := dtype.Parse(datatype)
	if err != nil {
		return nil, errs.Schemaf(name, "unknown datatype %q", datatype)
	}
	rows, err := Rows(name, shape)
	if err != nil {
		return nil, err
	}
	if !dt.IsVariable() {
		c, err := column.FromRaw(name, dt, rows, raw)
		if err != nil {
			return nil, errs.Schemaf(name, "%d raw bytes for %d %s values", len(raw), rows, dt)
		}
		return c, nil
	}
	if rows > len(raw)/4 {
		return nil, errs.Schemaf(name, "%d raw bytes cannot hold %d BYTES elements", len(raw), rows)
	}
	strs := make([][]byte, rows)
	off := 0
	for i := range strs {
		if len(raw)-off < 4 {
			return nil, errs.Schemaf(name, "BYTES element %d: truncated length prefix", i)
		}
		n := int(binary.LittleEndian.Uint32(raw[off : off+4]))
		off += 4
		if n > len(raw)-off {
			return nil, errs.Schemaf(name, "BYTES element %d: length %d exceeds buffer", i, n)
		}
		strs[i] = raw[off : off+n : off+n]
		off += n
	}
	if off != len(raw) {
		return nil, errs.Schemaf(name, "%d trailing bytes after %d BYTES elements", len(raw)-off, rows)
	}
	return column.FromBytes(name, strs), nil
}

// EncodeInputs turns b into request input tensors and their raw contents,
// in batch column order.
func EncodeInputs(b *column.Batch) ([]*triton.ModelInferRequest_InferInputTensor, [][]byte) {
	cols := b.Columns()
	tensors := make([]*triton.ModelInferRequest_InferInputTensor, len(cols))
	raw := make([][]byte, len(cols))
	for i, c := range cols {
		tensors[i] = &triton.ModelInferRequest_InferInputTensor{
			Name:     c.Name(),
			Datatype: c.Dtype().String(),
			Shape:    Shape(c.Len()),
		}
		raw[i] = Encode(c)
	}
	return tensors, raw
}

// EncodeOutputs is EncodeInputs for response tensors.
func EncodeOutputs(b *column.Batch) ([]*triton.ModelInferResponse_InferOutputTensor, [][]byte) {
	cols := b.Columns()
	tensors := make([]*triton.ModelInferResponse_InferOutputTensor, len(cols))
	raw := make([][]byte, len(cols))
	for i, c := range cols {
		tensors[i] = &triton.ModelInferResponse_InferOutputTensor{
			Name:     c.Name(),
			Datatype: c.Dtype().String(),
			Shape:    Shape(c.Len()),
		}
		raw[i] = Encode(c)
	}
	return tensors, raw
}

// DecodeInputs builds the request batch. Inputs use raw contents when the
// request carries them, typed contents otherwise.
func DecodeInputs(req *triton.ModelInferRequest) (*column.Batch, error) {
	if n := len(req.RawInputContents); n > 0 && n != len(req.Inputs) {
		return nil, &errs.SchemaError{Reason: fmt.Sprintf("%d raw input buffers for %d inputs", n, len(req.Inputs))}
	}
	cols := make([]*column.Column, len(req.Inputs))
	for i, in := range req.Inputs {
		var (
			c   *column.Column
			err error
		)
		if len(req.RawInputContents) > 0 {
			c, err = Decode(in.Name, in.Datatype, in.Shape, req.RawInputContents[i])
		} else {
			c, err = fromContents(in.Name, in.Datatype, in.Shape, in.Contents)
		}
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return newBatch(cols)
}

// DecodeOutputs builds the response batch from raw output contents.
func DecodeOutputs(resp *triton.ModelInferResponse) (*column.Batch, error) {
	if len(resp.RawOutputContents) != len(resp.Outputs) {
		return nil, &errs.SchemaError{Reason: fmt.Sprintf("%d raw output buffers for %d outputs", len(resp.RawOutputContents), len(resp.Outputs))}
	}
	cols := make([]*column.Column, len(resp.Outputs))
	for i, out := range resp.Outputs {
		c, err := Decode(out.Name, out.Datatype, out.Shape, resp.RawOutputContents[i])
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return newBatch(cols)
}

func newBatch(cols []*column.Column) (*column.Batch, error) {
	b, err := column.NewBatch(cols...)
	if err != nil {
		return nil, &errs.SchemaError{Reason: err.Error()}
	}
	return b, nil
}
