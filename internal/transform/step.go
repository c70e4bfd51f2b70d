package transform

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tabserve/internal/column"
)

// Step is one fitted operation of a transform graph. Fitted state is read
// only once the step is built; Apply must not mutate it.
type Step interface {
	// Kind is the registry key used when the step is serialized.
	Kind() string
	// Outputs derives the produced fields from the input fields, in the
	// order Apply returns them. A step that cannot accept an input returns
	// a *errs.SchemaError.
	Outputs(in []column.Field) ([]column.Field, error)
	Apply(ctx context.Context, in []*column.Column) ([]*column.Column, error)
}

// Preparer is implemented by steps that derive lookup tables from their
// fitted state. Prepare runs once, before the step is shared between
// requests; Apply never writes to the step afterwards.
type Preparer interface {
	Prepare() error
}

// Factory returns a zero step to decode serialized parameters into.
type Factory func() Step

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a step kind decodable. Duplicate kinds panic, like
// database/sql drivers.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[kind]; dup {
		panic("transform: Register called twice for " + kind)
	}
	factories[kind] = f
}

func New(kind string) (Step, error) {
	mu.RLock()
	f, ok := factories[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transform: unknown step kind %q", kind)
	}
	return f(), nil
}

// Kinds lists the registered step kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(KindCategorify, func() Step { return &Categorify{} })
	Register(KindHashBucket, func() Step { return &HashBucket{} })
	Register(KindFillMissing, func() Step { return &FillMissing{} })
	Register(KindFillMedian, func() Step { return &FillMedian{} })
	Register(KindNormalize, func() Step { return &Normalize{} })
	Register(KindNormalizeMinMax, func() Step { return &NormalizeMinMax{} })
	Register(KindLog, func() Step { return &LogOp{} })
	Register(KindClip, func() Step { return &Clip{} })
	Register(KindRename, func() Step { return &Rename{} })
	Register(KindLambda, func() Step { return &Lambda{} })
}
