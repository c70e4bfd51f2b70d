package transport

import (
	"context"
	"strconv"
	"time"

	triton "github.com/Meesho/BharatMLStack/helix-client/pkg/clients/predator/client/grpc"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tabserve/internal/backend"
	"tabserve/internal/column"
	"tabserve/internal/logging"
	"tabserve/internal/modelconfig"
	"tabserve/internal/repository"
	"tabserve/internal/telemetry"
	"tabserve/internal/wire"
	"tabserve/sink"
)

const ServerName = "tabserve"

type Options struct {
	Repository      *repository.Repository
	Metrics         *telemetry.Metrics // optional
	Sinks           *sink.Fanout       // optional
	MaxInFlight     int
	RequestTimeout  time.Duration
	StrictReadiness bool
	Version         string
}

// Service implements the Triton GRPCInferenceService over a model
// repository. RPCs outside health, metadata, inference, repository index
// and statistics answer Unimplemented.
type Service struct {
	triton.UnimplementedGRPCInferenceServiceServer

	opts    Options
	limiter *Limiter
}

func NewService(opts Options) *Service {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 64
	}
	return &Service{opts: opts, limiter: NewLimiter(opts.MaxInFlight)}
}

func (s *Service) Live() bool { return true }

// Ready reports whether the repository finished loading and, in strict
// mode, every model is Ready.
func (s *Service) Ready() bool {
	r := s.opts.Repository
	if s.opts.StrictReadiness {
		return r.AllReady()
	}
	return r.Loaded()
}

func (s *Service) ServerLive(context.Context, *triton.ServerLiveRequest) (*triton.ServerLiveResponse, error) {
	return &triton.ServerLiveResponse{Live: s.Live()}, nil
}

func (s *Service) ServerReady(context.Context, *triton.ServerReadyRequest) (*triton.ServerReadyResponse, error) {
	return &triton.ServerReadyResponse{Ready: s.Ready()}, nil
}

func (s *Service) ModelReady(_ context.Context, req *triton.ModelReadyRequest) (*triton.ModelReadyResponse, error) {
	m, ok := s.opts.Repository.Model(req.Name)
	if !ok {
		return &triton.ModelReadyResponse{Ready: false}, nil
	}
	md, err := m.Metadata()
	if err != nil {
		return &triton.ModelReadyResponse{Ready: false}, nil
	}
	return &triton.ModelReadyResponse{Ready: versionMatches(req.Version, md.Version)}, nil
}

func (s *Service) ServerMetadata(context.Context, *triton.ServerMetadataRequest) (*triton.ServerMetadataResponse, error) {
	return &triton.ServerMetadataResponse{
		Name:       ServerName,
		Version:    s.opts.Version,
		Extensions: []string{"model_repository", "statistics"},
	}, nil
}

func (s *Service) ModelMetadata(_ context.Context, req *triton.ModelMetadataRequest) (*triton.ModelMetadataResponse, error) {
	m, md, err := s.model(req.Name, req.Version)
	if err != nil {
		return nil, err
	}
	return &triton.ModelMetadataResponse{
		Name:     m.Name(),
		Versions: []string{strconv.FormatInt(md.Version, 10)},
		Platform: md.Backend,
		Inputs:   tensorMetadata(md.Inputs),
		Outputs:  tensorMetadata(md.Outputs),
	}, nil
}

func tensorMetadata(s column.Schema) []*triton.ModelMetadataResponse_TensorMetadata {
	out := make([]*triton.ModelMetadataResponse_TensorMetadata, len(s))
	for i, f := range s {
		t := modelconfig.TensorFor(f)
		out[i] = &triton.ModelMetadataResponse_TensorMetadata{
			Name:     f.Name,
			Datatype: f.Dtype.String(),
			Shape:    t.Dims,
		}
	}
	return out
}

func (s *Service) model(name, version string) (*backend.Model, backend.Metadata, error) {
	m, ok := s.opts.Repository.Model(name)
	if !ok {
		return nil, backend.Metadata{}, status.Errorf(codes.NotFound, "unknown model %q", name)
	}
	md, err := m.Metadata()
	if err != nil {
		return nil, backend.Metadata{}, Status(err)
	}
	if !versionMatches(version, md.Version) {
		return nil, backend.Metadata{}, status.Errorf(codes.NotFound, "model %q has no version %s", name, version)
	}
	return m, md, nil
}

func versionMatches(requested string, loaded int64) bool {
	return requested == "" || requested == strconv.FormatInt(loaded, 10)
}

func (s *Service) ModelInfer(ctx context.Context, req *triton.ModelInferRequest) (*triton.ModelInferResponse, error) {
	m, md, err := s.model(req.ModelName, req.ModelVersion)
	if err != nil {
		return nil, err
	}
	id := req.Id
	if id == "" {
		id = uuid.NewString()
	}
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, Status(err)
	}
	defer s.limiter.Release()

	start := time.Now()
	out, rows, err := s.infer(ctx, m, req)
	took := time.Since(start)
	s.observe(md, id, rows, took, out, err)
	if err != nil {
		logging.Component("transport").Warn("inference failed",
			"model", md.Name, "request_id", id, "err", err)
		return nil, Status(err)
	}

	tensors, raw := wire.EncodeOutputs(out)
	return &triton.ModelInferResponse{
		ModelName:         md.Name,
		ModelVersion:      strconv.FormatInt(md.Version, 10),
		Id:                id,
		Outputs:           tensors,
		RawOutputContents: raw,
	}, nil
}

func (s *Service) infer(ctx context.Context, m *backend.Model, req *triton.ModelInferRequest) (*column.Batch, int, error) {
	in, err := wire.DecodeInputs(req)
	if err != nil {
		return nil, 0, err
	}
	outputs := make([]string, len(req.Outputs))
	for i, o := range req.Outputs {
		outputs[i] = o.Name
	}
	out, err := m.Execute(ctx, in, outputs...)
	return out, in.Rows(), err
}

func (s *Service) observe(md backend.Metadata, id string, rows int, took time.Duration, out *column.Batch, err error) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveRequest(md.Name, rows, took, err)
	}
	if s.opts.Sinks.Len() == 0 {
		return
	}
	rec := &sink.Record{
		Time:      time.Now(),
		Model:     md.Name,
		Version:   md.Version,
		RequestID: id,
		Rows:      rows,
		Status:    telemetry.StatusOK,
		Duration:  took,
		Outputs:   out,
	}
	if err != nil {
		rec.Status, rec.Error = telemetry.StatusError, err.Error()
	}
	s.opts.Sinks.Push(rec)
}

func (s *Service) RepositoryIndex(_ context.Context, req *triton.RepositoryIndexRequest) (*triton.RepositoryIndexResponse, error) {
	resp := &triton.RepositoryIndexResponse{}
	for _, e := range s.opts.Repository.Index() {
		if req.Ready && e.State != backend.Ready {
			continue
		}
		mi := &triton.RepositoryIndexResponse_ModelIndex{
			Name:   e.Name,
			State:  e.State.String(),
			Reason: e.Reason,
		}
		if e.Version > 0 {
			mi.Version = strconv.FormatInt(e.Version, 10)
		}
		resp.Models = append(resp.Models, mi)
	}
	return resp, nil
}

func (s *Service) ModelStatistics(_ context.Context, req *triton.ModelStatisticsRequest) (*triton.ModelStatisticsResponse, error) {
	names := s.opts.Repository.Names()
	if req.Name != "" {
		if _, _, err := s.model(req.Name, req.Version); err != nil {
			return nil, err
		}
		names = []string{req.Name}
	}
	resp := &triton.ModelStatisticsResponse{}
	for _, name := range names {
		m, _ := s.opts.Repository.Model(name)
		md, err := m.Metadata()
		if err != nil {
			continue
		}
		st := m.Statistics()
		resp.ModelStats = append(resp.ModelStats, &triton.ModelStatistics{
			Name:           name,
			Version:        strconv.FormatInt(md.Version, 10),
			LastInference:  uint64(st.LastInference),
			InferenceCount: st.InferenceCount,
			ExecutionCount: st.ExecutionCount,
			InferenceStats: &triton.InferStatistics{
				Success: &triton.StatisticDuration{Count: st.Success.Count, Ns: st.Success.Ns},
				Fail:    &triton.StatisticDuration{Count: st.Fail.Count, Ns: st.Fail.Ns},
			},
		})
	}
	return resp, nil
}
