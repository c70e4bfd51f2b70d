// Package sink receives one Record per finished inference request.
package sink

import (
	"fmt"
	"sort"
	"time"

	"tabserve/internal/column"
	"tabserve/internal/logging"
)

// Record describes one inference request after it completed. Outputs is
// nil when the request failed.
type Record struct {
	Time      time.Time
	Model     string
	Version   int64
	RequestID string
	Rows      int
	Status    string
	Error     string
	Duration  time.Duration
	Outputs   *column.Batch
}

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error // driver-specific config struct
	Push(*Record) error
	Close() error // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}

// Names lists the registered sinks.
func Names() []string {
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

/*──────── fan-out ───────*/

// Fanout pushes every record to a set of named adapters. A failing adapter
// is logged and skipped; Push itself never fails.
type Fanout struct {
	names    []string
	adapters []Adapter
}

func (f *Fanout) Add(name string, a Adapter) {
	f.names = append(f.names, name)
	f.adapters = append(f.adapters, a)
}

func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.adapters)
}

func (f *Fanout) Push(r *Record) {
	if f == nil {
		return
	}
	for i, a := range f.adapters {
		if err := a.Push(r); err != nil {
			logging.Component("sink").Warn("inference log push failed",
				"sink", f.names[i], "model", r.Model, "request_id", r.RequestID, "err", err)
		}
	}
}

// Close closes every adapter and returns the first error.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var first error
	for i, a := range f.adapters {
		if err := a.Close(); err != nil && first == nil {
			first = fmt.Errorf("sink %s: %w", f.names[i], err)
		}
	}
	return first
}
