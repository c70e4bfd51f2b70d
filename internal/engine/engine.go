// Package engine runs the inference server: model loading, serving and
// graceful shutdown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"

	"tabserve/internal/config"
	"tabserve/internal/logging"
	"tabserve/internal/repository"
	"tabserve/internal/telemetry"
	"tabserve/internal/transport"
	"tabserve/sink"
)

// ErrModelLoad is returned by Run when a model fails to load and the
// server is configured to exit on error.
var ErrModelLoad = errors.New("model load failed")

type Engine struct {
	cfg     config.Config
	repo    *repository.Repository
	sinks   *sink.Fanout
	server  *transport.Server
	lis     net.Listener
	metrics *telemetry.Metrics
}

func (e *Engine) Addr() net.Addr { return e.lis.Addr() }

func (e *Engine) Repository() *repository.Repository { return e.repo }

// Run serves until ctx is cancelled, loading the repository in the
// background. Liveness is answered while models load; readiness only after.
func (e *Engine) Run(ctx context.Context) error {
	log := logging.Component("engine")
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.server.Serve(e.lis) })

	g.Go(func() error {
		err := e.repo.LoadAll(gctx, e.cfg.LoadParallelism)
		switch {
		case err == nil:
			log.Info("all models loaded")
		case e.cfg.ExitOnError:
			return fmt.Errorf("%w: %w", ErrModelLoad, err)
		default:
			log.Warn("serving with failed models", "err", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "grace", e.cfg.ShutdownTimeout)
		stopCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
		defer cancel()
		e.server.Stop(stopCtx)
		return nil
	})

	err := g.Wait()
	if cerr := e.sinks.Close(); cerr != nil {
		log.Warn("closing sinks", "err", cerr)
	}
	if err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
