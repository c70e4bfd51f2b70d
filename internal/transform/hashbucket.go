package transform

import (
	"context"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"

	"tabserve/internal/column"
	"tabserve/internal/dtype"
	"tabserve/internal/errs"
)

const KindHashBucket = "hash_bucket"

// HashBucket assigns each value to murmur3(value bytes) mod NumBuckets.
// Integers hash their little-endian encoding at the column width.
type HashBucket struct {
	NumBuckets map[string]int `json:"num_buckets"`
}

func (h *HashBucket) Kind() string { return KindHashBucket }

func (h *HashBucket) Outputs(in []column.Field) ([]column.Field, error) {
	out := make([]column.Field, 0, len(in))
	for _, f := range in {
		if f.Dtype != dtype.Bytes && !f.Dtype.IsInteger() {
			return nil, errs.Schemaf(f.Name, "hash_bucket needs BYTES or integer input, got %s", f.Dtype)
		}
		n := h.NumBuckets[f.Name]
		if n <= 0 || int64(n) > math.MaxUint32 {
			return nil, errs.Schemaf(f.Name, "hash_bucket needs a bucket count in [1, %d], got %d", uint32(math.MaxUint32), n)
		}
		o := column.NewField(f.Name, dtype.Int64)
		o.Cardinality = n
		out = append(out, o)
	}
	return out, nil
}

func (h *HashBucket) Apply(_ context.Context, in []*column.Column) ([]*column.Column, error) {
	out := make([]*column.Column, 0, len(in))
	for _, col := range in {
		n := h.NumBuckets[col.Name()]
		if n <= 0 || int64(n) > math.MaxUint32 {
			return nil, fmt.Errorf("hash_bucket: bad bucket count %d for column %q", n, col.Name())
		}
		codes := make([]int64, col.Len())
		for i := range codes {
			codes[i] = int64(murmur3.Sum32(col.Bytes(i)) % uint32(n))
		}
		out = append(out, column.FromValues(col.Name(), codes))
	}
	return out, nil
}
