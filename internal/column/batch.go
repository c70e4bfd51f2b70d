package column

import (
	"errors"
	"fmt"
)

var ErrRowMismatch = errors.New("column: row count mismatch")

// Batch is an ordered set of uniquely named columns with equal row counts.
type Batch struct {
	cols  []*Column
	index map[string]int
	rows  int
}

func NewBatch(cols ...*Column) (*Batch, error) {
	b := &Batch{index: make(map[string]int, len(cols))}
	for _, c := range cols {
		if err := b.add(c); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// MustBatch is NewBatch for fixtures known to be consistent.
func MustBatch(cols ...*Column) *Batch {
	b, err := NewBatch(cols...)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Batch) add(c *Column) error {
	if c == nil {
		return errors.New("column: nil column")
	}
	if _, dup := b.index[c.name]; dup {
		return fmt.Errorf("column: duplicate column %q", c.name)
	}
	if len(b.cols) > 0 && c.rows != b.rows {
		return fmt.Errorf("%w: %q has %d rows, batch has %d", ErrRowMismatch, c.name, c.rows, b.rows)
	}
	b.rows = c.rows
	b.index[c.name] = len(b.cols)
	b.cols = append(b.cols, c)
	return nil
}

func (b *Batch) Rows() int { return b.rows }

func (b *Batch) Len() int { return len(b.cols) }

func (b *Batch) Columns() []*Column { return append([]*Column(nil), b.cols...) }

func (b *Batch) Names() []string {
	out := make([]string, len(b.cols))
	for i, c := range b.cols {
		out[i] = c.name
	}
	return out
}

func (b *Batch) Column(name string) (*Column, bool) {
	i, ok := b.index[name]
	if !ok {
		return nil, false
	}
	return b.cols[i], true
}

// Select returns the named columns in the given order.
func (b *Batch) Select(names ...string) (*Batch, error) {
	out := &Batch{index: make(map[string]int, len(names))}
	for _, n := range names {
		c, ok := b.Column(n)
		if !ok {
			return nil, fmt.Errorf("column: batch has no column %q", n)
		}
		if err := out.add(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}
