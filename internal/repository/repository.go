// Package repository discovers the models under a repository directory and
// loads each through the serving backend.
package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"tabserve/internal/backend"
	"tabserve/internal/logging"
)

// Entry is one row of the repository index.
type Entry struct {
	Name    string
	Version int64
	State   backend.State
	Reason  string
}

type Repository struct {
	root   string
	names  []string
	models map[string]*backend.Model
	loaded atomic.Bool

	// OnState, when set before LoadAll, observes every model state change.
	OnState func(model string, s backend.State)
}

// Open scans root. Every non-hidden subdirectory is a model named after the
// directory; models are not loaded until LoadAll.
func Open(root string) (*Repository, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("repository: %s is not a directory", root)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	r := &Repository{root: root, models: make(map[string]*backend.Model)}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		r.names = append(r.names, e.Name())
		r.models[e.Name()] = backend.NewModel(e.Name(), filepath.Join(root, e.Name()))
	}
	sort.Strings(r.names)
	return r, nil
}

func (r *Repository) Root() string { return r.root }

// LoadAll loads every model, at most parallel at a time, and returns the
// joined load errors. Models that fail stay in the index as FAILED.
func (r *Repository) LoadAll(ctx context.Context, parallel int) error {
	log := logging.Component("repository")
	if parallel <= 0 {
		parallel = 4
	}
	failures := make([]error, len(r.names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, name := range r.names {
		m := r.models[name]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.notify(name, backend.Loading)
			err := m.Load(0)
			st, _ := m.State()
			r.notify(name, st)
			if err != nil {
				failures[i] = fmt.Errorf("model %q: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.loaded.Store(true)
	err := errors.Join(failures...)
	log.Info("repository loaded", "root", r.root, "models", len(r.names), "failed", err != nil)
	return err
}

func (r *Repository) notify(name string, s backend.State) {
	if r.OnState != nil {
		r.OnState(name, s)
	}
}

// Loaded reports whether LoadAll has completed.
func (r *Repository) Loaded() bool { return r.loaded.Load() }

func (r *Repository) Model(name string) (*backend.Model, bool) {
	m, ok := r.models[name]
	return m, ok
}

// AllReady reports whether loading finished and every model is Ready.
func (r *Repository) AllReady() bool {
	if !r.Loaded() {
		return false
	}
	for _, m := range r.models {
		if !m.Ready() {
			return false
		}
	}
	return true
}

func (r *Repository) Index() []Entry {
	out := make([]Entry, 0, len(r.names))
	for _, name := range r.names {
		m := r.models[name]
		st, reason := m.State()
		e := Entry{Name: name, State: st, Reason: reason}
		if md, err := m.Metadata(); err == nil {
			e.Version = md.Version
		}
		out = append(out, e)
	}
	return out
}

func (r *Repository) Names() []string { return append([]string(nil), r.names...) }
