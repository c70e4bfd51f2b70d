package transport

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	triton "github.com/Meesho/BharatMLStack/helix-client/pkg/clients/predator/client/grpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"tabserve/internal/artifact"
	"tabserve/internal/column"
	"tabserve/internal/dtype"
	"tabserve/internal/graph"
	"tabserve/internal/pipeline"
	"tabserve/internal/repository"
	"tabserve/internal/telemetry"
	"tabserve/internal/transform"
	"tabserve/internal/wire"
	"tabserve/sink"
)

type negativeError struct{ row int }

func (e *negativeError) Error() string { return "negative value" }

func init() {
	transform.RegisterLambda("transport_test.reject_negative", func(_ context.Context, c *column.Column) (*column.Column, error) {
		for i := 0; i < c.Len(); i++ {
			if c.Int64(i) < 0 {
				return nil, &negativeError{row: i}
			}
		}
		return c, nil
	})
}

func featuresGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.NewBuilder(column.Schema{
		column.NewField("city", dtype.Bytes),
		column.NewField("age", dtype.Float32),
	}).
		Add("categorify", &transform.Categorify{Vocab: map[string][]string{"city": {"paris", "tokyo"}}}, "city").
		Add("fill", &transform.FillMissing{FillValue: 30, AddIndicator: true}, "age").
		Add("norm", &transform.Normalize{Stats: map[string]transform.Moments{"age": {Mean: 30, Std: 10}}}, "age").
		Build()
	require.NoError(t, err)
	return g
}

func guardGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.NewBuilder(column.Schema{column.NewField("x", dtype.Int64)}).
		Add("guard", &transform.Lambda{Func: "transport_test.reject_negative"}, "x").
		Build()
	require.NoError(t, err)
	return g
}

type captureSink struct {
	mu      sync.Mutex
	records []*sink.Record
}

func (c *captureSink) Configure(any) error { return nil }
func (c *captureSink) Close() error        { return nil }

func (c *captureSink) Push(r *sink.Record) error {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
	return nil
}

type env struct {
	repo    *repository.Repository
	svc     *Service
	client  triton.GRPCInferenceServiceClient
	metrics *telemetry.Metrics
	sink    *captureSink
}

func newEnv(t *testing.T, load bool) *env {
	t.Helper()
	root := t.TempDir()
	_, err := artifact.Generate(featuresGraph(t), root, "features", artifact.DefaultBackend)
	require.NoError(t, err)
	_, err = artifact.Generate(guardGraph(t), root, "guard", artifact.DefaultBackend)
	require.NoError(t, err)

	repo, err := repository.Open(root)
	require.NoError(t, err)
	if load {
		require.NoError(t, repo.LoadAll(context.Background(), 2))
	}

	e := &env{repo: repo, metrics: telemetry.New(), sink: &captureSink{}}
	var fan sink.Fanout
	fan.Add("capture", e.sink)
	e.svc = NewService(Options{
		Repository:      repo,
		Metrics:         e.metrics,
		Sinks:           &fan,
		MaxInFlight:     4,
		RequestTimeout:  5 * time.Second,
		StrictReadiness: true,
		Version:         "test",
	})

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(e.svc, e.metrics.Handler())
	go func() { _ = srv.grpc.Serve(lis) }()
	t.Cleanup(func() { srv.grpc.Stop() })

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	e.client = triton.NewGRPCInferenceServiceClient(cc)
	return e
}

func request(model string, b *column.Batch, outputs ...string) *triton.ModelInferRequest {
	tensors, raw := wire.EncodeInputs(b)
	req := &triton.ModelInferRequest{ModelName: model, Inputs: tensors, RawInputContents: raw}
	for _, o := range outputs {
		req.Outputs = append(req.Outputs, &triton.ModelInferRequest_InferRequestedOutputTensor{Name: o})
	}
	return req
}

func featureBatch() *column.Batch {
	return column.MustBatch(
		column.FromStrings("city", []string{"tokyo", "berlin", "paris", ""}),
		column.FromValues("age", []float32{40, float32(math.NaN()), 20, math.MaxFloat32}),
	)
}

func TestHealth_FollowsRepositoryLoad(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	live, err := e.client.ServerLive(ctx, &triton.ServerLiveRequest{})
	require.NoError(t, err)
	assert.True(t, live.Live)
	ready, err := e.client.ServerReady(ctx, &triton.ServerReadyRequest{})
	require.NoError(t, err)
	assert.False(t, ready.Ready)

	require.NoError(t, e.repo.LoadAll(ctx, 1))
	ready, err = e.client.ServerReady(ctx, &triton.ServerReadyRequest{})
	require.NoError(t, err)
	assert.True(t, ready.Ready)

	mr, err := e.client.ModelReady(ctx, &triton.ModelReadyRequest{Name: "features", Version: "1"})
	require.NoError(t, err)
	assert.True(t, mr.Ready)
	mr, err = e.client.ModelReady(ctx, &triton.ModelReadyRequest{Name: "features", Version: "2"})
	require.NoError(t, err)
	assert.False(t, mr.Ready)
	mr, err = e.client.ModelReady(ctx, &triton.ModelReadyRequest{Name: "nope"})
	require.NoError(t, err)
	assert.False(t, mr.Ready)
}

func TestModelInfer_MatchesLocalExecution(t *testing.T) {
	e := newEnv(t, true)
	in := featureBatch()

	resp, err := e.client.ModelInfer(context.Background(), request("features", in))
	require.NoError(t, err)
	assert.Equal(t, "features", resp.ModelName)
	assert.Equal(t, "1", resp.ModelVersion)
	assert.NotEmpty(t, resp.Id)
	served, err := wire.DecodeOutputs(resp)
	require.NoError(t, err)

	plan, err := pipeline.Compile(featuresGraph(t))
	require.NoError(t, err)
	local, err := plan.Execute(context.Background(), in)
	require.NoError(t, err)

	require.Equal(t, local.Names(), served.Names())
	for _, want := range local.Columns() {
		got, _ := served.Column(want.Name())
		assert.True(t, want.Equal(got), "column %s differs", want.Name())
	}
	city, _ := served.Column("city")
	cityCodes, err := column.Values[int64](city)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 0, 1, 0}, cityCodes)
}

func TestModelInfer_RequestedOutputs(t *testing.T) {
	e := newEnv(t, true)
	req := request("features", featureBatch(), "age_filled")
	req.Id = "req-7"
	resp, err := e.client.ModelInfer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "req-7", resp.Id)
	require.Len(t, resp.Outputs, 1)
	assert.Equal(t, "age_filled", resp.Outputs[0].Name)
	assert.Equal(t, "BOOL", resp.Outputs[0].Datatype)
	assert.Equal(t, []int64{4, 1}, resp.Outputs[0].Shape)
}

func TestModelInfer_Errors(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	_, err := e.client.ModelInfer(ctx, request("nope", featureBatch()))
	assert.Equal(t, codes.NotFound, status.Code(err))

	wrongDtype := column.MustBatch(
		column.FromStrings("city", []string{"paris"}),
		column.FromValues("age", []float64{1}),
	)
	_, err = e.client.ModelInfer(ctx, request("features", wrongDtype))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "age")

	_, err = e.client.ModelInfer(ctx, request("features", featureBatch(), "city_codes"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	req := request("features", featureBatch())
	req.ModelVersion = "9"
	_, err = e.client.ModelInfer(ctx, req)
	assert.Equal(t, codes.NotFound, status.Code(err))

	req = request("features", featureBatch())
	req.RawInputContents[1] = req.RawInputContents[1][:3]
	_, err = e.client.ModelInfer(ctx, req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestModelInfer_TransformFailuresAreContained(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	bad := column.MustBatch(column.FromValues("x", []int64{1, -1}))
	good := column.MustBatch(column.FromValues("x", []int64{1, 2, 3}))

	for i := 0; i < 3; i++ {
		_, err := e.client.ModelInfer(ctx, request("guard", bad))
		require.Equal(t, codes.Internal, status.Code(err))
		msg := status.Convert(err).Message()
		assert.Contains(t, msg, "*transport.negativeError")
		assert.Contains(t, msg, "negative value")

		resp, err := e.client.ModelInfer(ctx, request("guard", good))
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 1}, resp.Outputs[0].Shape)

		ready, err := e.client.ServerReady(ctx, &triton.ServerReadyRequest{})
		require.NoError(t, err)
		assert.True(t, ready.Ready)
	}

	st, err := e.client.ModelStatistics(ctx, &triton.ModelStatisticsRequest{Name: "guard"})
	require.NoError(t, err)
	require.Len(t, st.ModelStats, 1)
	ms := st.ModelStats[0]
	assert.Equal(t, "1", ms.Version)
	assert.Equal(t, uint64(3), ms.InferenceStats.Success.Count)
	assert.Equal(t, uint64(3), ms.InferenceStats.Fail.Count)
	assert.Equal(t, uint64(9), ms.InferenceCount)
	assert.Equal(t, uint64(6), ms.ExecutionCount)

	e.sink.mu.Lock()
	defer e.sink.mu.Unlock()
	require.Len(t, e.sink.records, 6)
	assert.Equal(t, telemetry.StatusError, e.sink.records[0].Status)
	assert.Nil(t, e.sink.records[0].Outputs)
	assert.Equal(t, telemetry.StatusOK, e.sink.records[1].Status)
	assert.Equal(t, 3, e.sink.records[1].Rows)
}

func TestMetadataAndIndex(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	md, err := e.client.ModelMetadata(ctx, &triton.ModelMetadataRequest{Name: "features"})
	require.NoError(t, err)
	assert.Equal(t, "nvtabular", md.Platform)
	assert.Equal(t, []string{"1"}, md.Versions)
	require.Len(t, md.Inputs, 2)
	assert.Equal(t, "BYTES", md.Inputs[0].Datatype)
	require.Len(t, md.Outputs, 3)
	assert.Equal(t, "INT64", md.Outputs[0].Datatype)

	_, err = e.client.ModelMetadata(ctx, &triton.ModelMetadataRequest{Name: "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	sm, err := e.client.ServerMetadata(ctx, &triton.ServerMetadataRequest{})
	require.NoError(t, err)
	assert.Equal(t, ServerName, sm.Name)
	assert.Equal(t, "test", sm.Version)

	idx, err := e.client.RepositoryIndex(ctx, &triton.RepositoryIndexRequest{})
	require.NoError(t, err)
	require.Len(t, idx.Models, 2)
	assert.Equal(t, "features", idx.Models[0].Name)
	assert.Equal(t, "READY", idx.Models[0].State)
	assert.Equal(t, "1", idx.Models[0].Version)

	all, err := e.client.ModelStatistics(ctx, &triton.ModelStatisticsRequest{})
	require.NoError(t, err)
	assert.Len(t, all.ModelStats, 2)
}

func TestUnsupportedRPCsAreUnimplemented(t *testing.T) {
	e := newEnv(t, true)
	_, err := e.client.ModelConfig(context.Background(), &triton.ModelConfigRequest{Name: "features"})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestFailedModelIsUnavailable(t *testing.T) {
	e := newEnv(t, false)
	_, err := e.client.ModelInfer(context.Background(), request("features", featureBatch()))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestHTTPHandler(t *testing.T) {
	e := newEnv(t, false)
	h := HTTPHandler(e.svc, e.metrics.Handler())
	get := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, get("/v2/health/live"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/v2/health/ready"))
	require.NoError(t, e.repo.LoadAll(context.Background(), 1))
	assert.Equal(t, http.StatusOK, get("/v2/health/ready"))
	assert.Equal(t, http.StatusOK, get("/metrics"))
	assert.Equal(t, http.StatusNotFound, get("/v2/models"))
}

func TestServe_MultiplexesGRPCAndHTTP(t *testing.T) {
	e := newEnv(t, true)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(e.svc, e.metrics.Handler())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(lis) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/v2/health/ready")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cc, err := Dial(lis.Addr().String())
	require.NoError(t, err)
	defer cc.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	live, err := triton.NewGRPCInferenceServiceClient(cc).ServerLive(ctx, &triton.ServerLiveRequest{})
	require.NoError(t, err)
	assert.True(t, live.Live)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	srv.Stop(stopCtx)
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Panic"}
	_, err := RecoveryInterceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		var m map[string]int
		m["x"] = 1
		return nil, nil
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestToStatus(t *testing.T) {
	assert.Nil(t, Status(nil))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(Status(context.DeadlineExceeded)))
	assert.Equal(t, codes.Internal, status.Code(Status(errors.New("x"))))
	already := status.Error(codes.NotFound, "gone")
	assert.Equal(t, already, Status(already))
}
