package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabserve/internal/artifact"
	"tabserve/internal/column"
	"tabserve/internal/dtype"
	"tabserve/internal/errs"
	"tabserve/internal/graph"
	"tabserve/internal/modelconfig"
	"tabserve/internal/transform"
)

func init() {
	transform.RegisterLambda("backend_test.fail_on_3", func(_ context.Context, c *column.Column) (*column.Column, error) {
		if c.Len() == 3 {
			return nil, errors.New("three rows are not allowed")
		}
		return c, nil
	})
}

func generate(t *testing.T, backendID string) string {
	t.Helper()
	g, err := graph.NewBuilder(column.Schema{column.NewField("x", dtype.Int64)}).
		Add("user_fn", &transform.Lambda{Func: "backend_test.fail_on_3"}, "x").
		Build()
	require.NoError(t, err)
	dir, err := artifact.Generate(g, t.TempDir(), "m", backendID)
	require.NoError(t, err)
	return dir
}

func batch(rows int) *column.Batch {
	return column.MustBatch(column.FromValues("x", make([]int64, rows)))
}

func TestModel_Lifecycle(t *testing.T) {
	m := NewModel("m", generate(t, artifact.DefaultBackend))
	st, _ := m.State()
	assert.Equal(t, Unloaded, st)

	_, err := m.Execute(context.Background(), batch(1))
	assert.True(t, errors.Is(err, errs.ErrModelNotReady))

	require.NoError(t, m.Load(0))
	assert.True(t, m.Ready())
	assert.Error(t, m.Load(0), "a model loads once")

	md, err := m.Metadata()
	require.NoError(t, err)
	assert.Equal(t, int64(1), md.Version)
	assert.Equal(t, "nvtabular", md.Backend)
	assert.Equal(t, []string{"x"}, md.Outputs.Names())
}

func TestModel_FailedLoadIsTerminal(t *testing.T) {
	dir := generate(t, artifact.DefaultBackend)
	require.NoError(t, os.Remove(filepath.Join(dir, "1", "workflow", artifact.GraphFile)))

	m := NewModel("m", dir)
	assert.Error(t, m.Load(0))
	st, reason := m.State()
	assert.Equal(t, Failed, st)
	assert.NotEmpty(t, reason)

	_, err := m.Execute(context.Background(), batch(1))
	var nr *errs.ModelNotReadyError
	require.True(t, errors.As(err, &nr))
	assert.Equal(t, "FAILED", nr.State)
}

func TestModel_UnknownBackend(t *testing.T) {
	dir := generate(t, "onnxruntime")
	m := NewModel("m", dir)
	err := m.Load(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "onnxruntime")
	_, err = modelconfig.Load(filepath.Join(dir, modelconfig.FileName))
	require.NoError(t, err)
}

func TestModel_ErrorsAreContainedAndCounted(t *testing.T) {
	m := NewModel("m", generate(t, artifact.DefaultBackend))
	require.NoError(t, m.Load(0))

	for i := 0; i < 3; i++ {
		_, err := m.Execute(context.Background(), batch(3))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "three rows are not allowed")
		assert.True(t, m.Ready())

		out, err := m.Execute(context.Background(), batch(2))
		require.NoError(t, err)
		assert.Equal(t, 2, out.Rows())
	}

	_, err := m.Execute(context.Background(), batch(1), "nope")
	var se *errs.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "m", se.Model)

	s := m.Statistics()
	assert.Equal(t, uint64(3), s.Success.Count)
	assert.Equal(t, uint64(3), s.Fail.Count)
	assert.Equal(t, uint64(6), s.InferenceCount)
	assert.Equal(t, uint64(6), s.ExecutionCount)
	assert.NotZero(t, s.LastInference)
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, Backends(), "nvtabular")
	_, err := Lookup("nope")
	assert.Error(t, err)
	assert.Panics(t, func() { Register("nvtabular", nil) })
}
