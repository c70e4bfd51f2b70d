package client

import (
	"context"

	triton "github.com/Meesho/BharatMLStack/helix-client/pkg/clients/predator/client/grpc"
	"google.golang.org/grpc"
)

// NewInProcess adapts a service compiled into the caller. Requests skip
// the network but take the same encode, validate and decode path.
func NewInProcess(srv triton.GRPCInferenceServiceServer) *Client {
	return &Client{svc: inProcess{srv}}
}

type inProcess struct {
	srv triton.GRPCInferenceServiceServer
}

func (p inProcess) ServerLive(ctx context.Context, in *triton.ServerLiveRequest, _ ...grpc.CallOption) (*triton.ServerLiveResponse, error) {
	return p.srv.ServerLive(ctx, in)
}

func (p inProcess) ServerReady(ctx context.Context, in *triton.ServerReadyRequest, _ ...grpc.CallOption) (*triton.ServerReadyResponse, error) {
	return p.srv.ServerReady(ctx, in)
}

func (p inProcess) ModelReady(ctx context.Context, in *triton.ModelReadyRequest, _ ...grpc.CallOption) (*triton.ModelReadyResponse, error) {
	return p.srv.ModelReady(ctx, in)
}

func (p inProcess) ModelMetadata(ctx context.Context, in *triton.ModelMetadataRequest, _ ...grpc.CallOption) (*triton.ModelMetadataResponse, error) {
	return p.srv.ModelMetadata(ctx, in)
}

func (p inProcess) ModelInfer(ctx context.Context, in *triton.ModelInferRequest, _ ...grpc.CallOption) (*triton.ModelInferResponse, error) {
	return p.srv.ModelInfer(ctx, in)
}
