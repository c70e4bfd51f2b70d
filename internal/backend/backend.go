// Package backend is the serving runtime adapter: it turns a loaded model
// artifact into an executor through a registry of backends and guards
// execution with the model lifecycle.
package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tabserve/internal/artifact"
	"tabserve/internal/column"
	"tabserve/internal/pipeline"
)

// Executor runs requests for one loaded model version. Implementations are
// shared across concurrent requests.
type Executor interface {
	Inputs() column.Schema
	Outputs() column.Schema
	ValidateOutputs(names []string) error
	Execute(ctx context.Context, in *column.Batch, outputs ...string) (*column.Batch, error)
}

// Factory builds the executor for an artifact, once per model load.
type Factory func(a *artifact.Artifact) (Executor, error)

var (
	mu       sync.RWMutex
	backends = map[string]Factory{}
)

func Register(id string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := backends[id]; dup {
		panic("backend: Register called twice for " + id)
	}
	backends[id] = f
}

func Lookup(id string) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := backends[id]
	if !ok {
		return nil, fmt.Errorf("backend: unknown backend %q", id)
	}
	return f, nil
}

func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(backends))
	for id := range backends {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(artifact.DefaultBackend, func(a *artifact.Artifact) (Executor, error) {
		return pipeline.Compile(a.Graph)
	})
}
