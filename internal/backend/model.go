package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tabserve/internal/artifact"
	"tabserve/internal/column"
	"tabserve/internal/errs"
	"tabserve/internal/logging"
)

type State int

const (
	Unloaded State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "UNLOADED"
	case Loading:
		return "LOADING"
	case Ready:
		return "READY"
	case Failed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Model tracks one model directory through Unloaded -> Loading -> Ready or
// Failed. Requests are only dispatched while Ready.
type Model struct {
	name string
	dir  string

	mu       sync.RWMutex
	state    State
	reason   string
	artifact *artifact.Artifact
	exec     Executor

	stats stats
}

func NewModel(name, dir string) *Model {
	return &Model{name: name, dir: dir}
}

func (m *Model) Name() string { return m.name }

func (m *Model) State() (State, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.reason
}

func (m *Model) Ready() bool {
	s, _ := m.State()
	return s == Ready
}

// Load reads the artifact (version 0 for the latest) and builds its
// executor. A model loads at most once; a failed load is terminal.
func (m *Model) Load(version int64) error {
	m.mu.Lock()
	if m.state != Unloaded {
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("backend: model %q is %s, cannot load", m.name, st)
	}
	m.state = Loading
	m.mu.Unlock()

	log := logging.Component("backend").With("model", m.name)
	start := time.Now()
	a, exec, err := m.build(version)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state, m.reason = Failed, err.Error()
		log.Error("model load failed", "err", err)
		return err
	}
	m.state, m.artifact, m.exec = Ready, a, exec
	log.Info("model ready", "version", a.Version, "backend", a.Descriptor.Backend, "took", time.Since(start))
	return nil
}

func (m *Model) build(version int64) (a *artifact.Artifact, exec Executor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend: panic while loading: %v", r)
		}
	}()
	a, err = artifact.Load(m.dir, version)
	if err != nil {
		return nil, nil, err
	}
	f, err := Lookup(a.Descriptor.Backend)
	if err != nil {
		return nil, nil, err
	}
	if exec, err = f(a); err != nil {
		return nil, nil, err
	}
	if !exec.Inputs().Equal(a.Graph.Inputs) || !exec.Outputs().Equal(a.Schema.Outputs) {
		return nil, nil, &errs.SchemaError{Model: a.Name, Reason: "executor schema differs from the artifact"}
	}
	return a, exec, nil
}

// Metadata describes a Ready model.
type Metadata struct {
	Name    string
	Version int64
	Backend string
	Inputs  column.Schema
	Outputs column.Schema
}

func (m *Model) Metadata() (Metadata, error) {
	a, exec, err := m.ready()
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Name:    a.Name,
		Version: a.Version,
		Backend: a.Descriptor.Backend,
		Inputs:  exec.Inputs(),
		Outputs: exec.Outputs(),
	}, nil
}

func (m *Model) ready() (*artifact.Artifact, Executor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != Ready {
		return nil, nil, &errs.ModelNotReadyError{Model: m.name, State: m.state.String(), Reason: m.reason}
	}
	return m.artifact, m.exec, nil
}

// Execute runs one request. Every failure is returned as an error value;
// the model stays Ready whatever the request does.
func (m *Model) Execute(ctx context.Context, in *column.Batch, outputs ...string) (*column.Batch, error) {
	_, exec, err := m.ready()
	if err != nil {
		return nil, err
	}
	if err := exec.ValidateOutputs(outputs); err != nil {
		return nil, withModel(err, m.name)
	}
	start := time.Now()
	out, err := exec.Execute(ctx, in, outputs...)
	m.stats.record(start, rowsOf(in), err)
	if err != nil {
		return nil, withModel(err, m.name)
	}
	return out, nil
}

func rowsOf(b *column.Batch) int {
	if b == nil {
		return 0
	}
	return b.Rows()
}

func withModel(err error, model string) error {
	var se *errs.SchemaError
	if errors.As(err, &se) && se.Model == "" {
		cp := *se
		cp.Model = model
		return &cp
	}
	return err
}
