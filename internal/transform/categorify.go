package transform

import (
	"context"
	"fmt"
	"strconv"

	"tabserve/internal/column"
	"tabserve/internal/dtype"
	"tabserve/internal/errs"
)

const KindCategorify = "categorify"

// Categorify maps categorical values to dense int64 codes. Code 0 is
// reserved for null and unseen values; vocabulary entry i gets code i+1.
// Integer inputs are looked up by their decimal form.
type Categorify struct {
	Vocab map[string][]string `json:"vocab"`

	index map[string]map[string]int64
}

func (c *Categorify) Kind() string { return KindCategorify }

func (c *Categorify) Outputs(in []column.Field) ([]column.Field, error) {
	out := make([]column.Field, 0, len(in))
	for _, f := range in {
		if f.Dtype != dtype.Bytes && !f.Dtype.IsInteger() {
			return nil, errs.Schemaf(f.Name, "categorify needs BYTES or integer input, got %s", f.Dtype)
		}
		vocab, ok := c.Vocab[f.Name]
		if !ok {
			return nil, errs.Schemaf(f.Name, "categorify has no vocabulary for column")
		}
		o := column.NewField(f.Name, dtype.Int64)
		o.Cardinality = len(vocab) + 1
		out = append(out, o)
	}
	return out, nil
}

// Prepare builds the value-to-code lookup. An unprepared step builds a
// private lookup on every Apply.
func (c *Categorify) Prepare() error {
	c.index = buildIndex(c.Vocab)
	return nil
}

func buildIndex(vocabs map[string][]string) map[string]map[string]int64 {
	index := make(map[string]map[string]int64, len(vocabs))
	for name, vocab := range vocabs {
		m := make(map[string]int64, len(vocab))
		for i, v := range vocab {
			if _, dup := m[v]; !dup {
				m[v] = int64(i + 1)
			}
		}
		index[name] = m
	}
	return index
}

func (c *Categorify) Apply(_ context.Context, in []*column.Column) ([]*column.Column, error) {
	index := c.index
	if index == nil {
		index = buildIndex(c.Vocab)
	}
	out := make([]*column.Column, 0, len(in))
	for _, col := range in {
		idx, ok := index[col.Name()]
		if !ok {
			return nil, fmt.Errorf("categorify: no vocabulary for column %q", col.Name())
		}
		codes := make([]int64, col.Len())
		for i := range codes {
			codes[i] = idx[categoryKey(col, i)]
		}
		out = append(out, column.FromValues(col.Name(), codes))
	}
	return out, nil
}

func categoryKey(col *column.Column, i int) string {
	switch {
	case col.Dtype() == dtype.Bytes:
		return string(col.Bytes(i))
	case col.Dtype().IsUnsigned():
		return strconv.FormatUint(col.Uint64(i), 10)
	}
	return strconv.FormatInt(col.Int64(i), 10)
}
