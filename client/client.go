// Package client talks to a tabserve inference server. The same Client
// runs over gRPC or directly against an in-process service.
package client

import (
	"context"
	"fmt"

	triton "github.com/Meesho/BharatMLStack/helix-client/pkg/clients/predator/client/grpc"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tabserve/internal/column"
	"tabserve/internal/dtype"
	"tabserve/internal/transport"
	"tabserve/internal/wire"
)

// InferenceServerError is a non-OK answer from the server.
type InferenceServerError struct {
	Code    codes.Code
	Message string
}

func (e *InferenceServerError) Error() string {
	return fmt.Sprintf("inference server error: %s: %s", e.Code, e.Message)
}

// IsSchemaError reports a rejected request: bad names, dtypes or shapes.
func (e *InferenceServerError) IsSchemaError() bool { return e.Code == codes.InvalidArgument }

// IsTransformError reports a graph node that failed while serving.
func (e *InferenceServerError) IsTransformError() bool { return e.Code == codes.Internal }

func serverError(err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok {
		return &InferenceServerError{Code: st.Code(), Message: st.Message()}
	}
	return err
}

// rpc is the part of the inference service the client uses.
type rpc interface {
	ServerLive(ctx context.Context, in *triton.ServerLiveRequest, opts ...grpc.CallOption) (*triton.ServerLiveResponse, error)
	ServerReady(ctx context.Context, in *triton.ServerReadyRequest, opts ...grpc.CallOption) (*triton.ServerReadyResponse, error)
	ModelReady(ctx context.Context, in *triton.ModelReadyRequest, opts ...grpc.CallOption) (*triton.ModelReadyResponse, error)
	ModelMetadata(ctx context.Context, in *triton.ModelMetadataRequest, opts ...grpc.CallOption) (*triton.ModelMetadataResponse, error)
	ModelInfer(ctx context.Context, in *triton.ModelInferRequest, opts ...grpc.CallOption) (*triton.ModelInferResponse, error)
}

type Client struct {
	svc  rpc
	conn *grpc.ClientConn
}

// Dial connects to a server at addr (host:port) over plaintext gRPC. The
// connection is made lazily, so an unreachable server surfaces as an error
// from the first call.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	cc, err := transport.Dial(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{svc: triton.NewGRPCInferenceServiceClient(cc), conn: cc}, nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) IsServerLive(ctx context.Context) (bool, error) {
	resp, err := c.svc.ServerLive(ctx, &triton.ServerLiveRequest{})
	if err != nil {
		return false, serverError(err)
	}
	return resp.Live, nil
}

func (c *Client) IsServerReady(ctx context.Context) (bool, error) {
	resp, err := c.svc.ServerReady(ctx, &triton.ServerReadyRequest{})
	if err != nil {
		return false, serverError(err)
	}
	return resp.Ready, nil
}

// IsModelReady checks one model; version "" means the loaded one.
func (c *Client) IsModelReady(ctx context.Context, model, version string) (bool, error) {
	resp, err := c.svc.ModelReady(ctx, &triton.ModelReadyRequest{Name: model, Version: version})
	if err != nil {
		return false, serverError(err)
	}
	return resp.Ready, nil
}

type Metadata struct {
	Name     string
	Versions []string
	Platform string
	Inputs   column.Schema
	Outputs  column.Schema
}

func (c *Client) ModelMetadata(ctx context.Context, model string) (*Metadata, error) {
	resp, err := c.svc.ModelMetadata(ctx, &triton.ModelMetadataRequest{Name: model})
	if err != nil {
		return nil, serverError(err)
	}
	md := &Metadata{Name: resp.Name, Versions: resp.Versions, Platform: resp.Platform}
	if md.Inputs, err = schemaOf(resp.Inputs); err != nil {
		return nil, err
	}
	if md.Outputs, err = schemaOf(resp.Outputs); err != nil {
		return nil, err
	}
	return md, nil
}

func schemaOf(ts []*triton.ModelMetadataResponse_TensorMetadata) (column.Schema, error) {
	s := make(column.Schema, len(ts))
	for i, t := range ts {
		dt, err := dtype.Parse(t.Datatype)
		if err != nil {
			return nil, fmt.Errorf("client: tensor %q: %w", t.Name, err)
		}
		s[i] = column.NewField(t.Name, dt)
	}
	return s, nil
}

type inferOptions struct {
	outputs   []string
	version   string
	requestID string
}

type InferOption func(*inferOptions)

// WithOutputs asks for a subset of the model outputs.
func WithOutputs(names ...string) InferOption {
	return func(o *inferOptions) { o.outputs = append(o.outputs, names...) }
}

func WithVersion(v string) InferOption { return func(o *inferOptions) { o.version = v } }

// WithRequestID sets the request id; a random UUID is used otherwise.
func WithRequestID(id string) InferOption { return func(o *inferOptions) { o.requestID = id } }

// Infer sends in to model and returns the output batch, one column per
// output tensor in server order.
func (c *Client) Infer(ctx context.Context, model string, in *column.Batch, opts ...InferOption) (*column.Batch, error) {
	o := inferOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.requestID == "" {
		o.requestID = uuid.NewString()
	}
	tensors, raw := wire.EncodeInputs(in)
	req := &triton.ModelInferRequest{
		ModelName:        model,
		ModelVersion:     o.version,
		Id:               o.requestID,
		Inputs:           tensors,
		RawInputContents: raw,
	}
	for _, name := range o.outputs {
		req.Outputs = append(req.Outputs, &triton.ModelInferRequest_InferRequestedOutputTensor{Name: name})
	}
	resp, err := c.svc.ModelInfer(ctx, req)
	if err != nil {
		return nil, serverError(err)
	}
	return wire.DecodeOutputs(resp)
}
