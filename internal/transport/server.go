package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	triton "github.com/Meesho/BharatMLStack/helix-client/pkg/clients/predator/client/grpc"
	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// Server serves the gRPC inference service and the HTTP health and metrics
// endpoints on one listener.
type Server struct {
	grpc     *grpc.Server
	http     *http.Server
	stopping atomic.Bool

	mu  sync.Mutex
	lis net.Listener
}

// NewServer wires svc into a gRPC server. metrics may be nil.
func NewServer(svc *Service, metrics http.Handler) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(RecoveryInterceptor),
		grpc.ChainStreamInterceptor(StreamRecoveryInterceptor),
	)
	triton.RegisterGRPCInferenceServiceServer(g, svc)
	return &Server{
		grpc: g,
		http: &http.Server{Handler: HTTPHandler(svc, metrics)},
	}
}

// HTTPHandler exposes /v2/health/live, /v2/health/ready and, when metrics
// is set, /metrics.
func HTTPHandler(svc *Service, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	probe := func(ok func() bool) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			if ok() {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}
	mux.HandleFunc("/v2/health/live", probe(svc.Live))
	mux.HandleFunc("/v2/health/ready", probe(svc.Ready))
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}

// Serve blocks until lis fails or Stop is called. gRPC connections are
// matched on their content-type, everything else goes to HTTP.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	m := cmux.New(lis)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	var g errgroup.Group
	g.Go(func() error { return s.grpc.Serve(grpcL) })
	g.Go(func() error { return s.http.Serve(httpL) })
	g.Go(m.Serve)
	err := g.Wait()
	if s.stopping.Load() || errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight RPCs until ctx ends, then closes every connection
// and the listener passed to Serve.
func (s *Server) Stop(ctx context.Context) {
	s.stopping.Store(true)
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	_ = s.http.Shutdown(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
