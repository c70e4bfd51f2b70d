package repository

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabserve/internal/artifact"
	"tabserve/internal/backend"
	"tabserve/internal/column"
	"tabserve/internal/dtype"
	"tabserve/internal/graph"
	"tabserve/internal/transform"
)

func writeModel(t *testing.T, repo, name string) {
	t.Helper()
	lo := 0.0
	g, err := graph.NewBuilder(column.Schema{column.NewField("v", dtype.Float32)}).
		Add("clip", &transform.Clip{Min: &lo}, "v").
		Build()
	require.NoError(t, err)
	_, err = artifact.Generate(g, repo, name, artifact.DefaultBackend)
	require.NoError(t, err)
}

func TestOpenAndLoadAll(t *testing.T) {
	repo := t.TempDir()
	writeModel(t, repo, "b")
	writeModel(t, repo, "a")
	require.NoError(t, os.Mkdir(filepath.Join(repo, ".cache"), 0o755))

	r, err := Open(repo)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.False(t, r.AllReady())

	var mu sync.Mutex
	seen := map[string][]backend.State{}
	r.OnState = func(m string, s backend.State) {
		mu.Lock()
		seen[m] = append(seen[m], s)
		mu.Unlock()
	}
	require.NoError(t, r.LoadAll(context.Background(), 2))
	assert.True(t, r.Loaded())
	assert.True(t, r.AllReady())
	assert.Equal(t, []backend.State{backend.Loading, backend.Ready}, seen["a"])

	idx := r.Index()
	require.Len(t, idx, 2)
	assert.Equal(t, Entry{Name: "a", Version: 1, State: backend.Ready}, idx[0])
}

func TestLoadAll_ReportsBrokenModels(t *testing.T) {
	repo := t.TempDir()
	writeModel(t, repo, "good")
	require.NoError(t, os.Mkdir(filepath.Join(repo, "broken"), 0o755))

	r, err := Open(repo)
	require.NoError(t, err)
	err = r.LoadAll(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `model "broken"`)
	assert.True(t, r.Loaded())
	assert.False(t, r.AllReady())

	m, ok := r.Model("good")
	require.True(t, ok)
	assert.True(t, m.Ready())
	for _, e := range r.Index() {
		if e.Name == "broken" {
			assert.Equal(t, backend.Failed, e.State)
			assert.NotEmpty(t, e.Reason)
		}
	}
}

func TestOpen_MissingRoot(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err = Open(f)
	assert.Error(t, err)
}
