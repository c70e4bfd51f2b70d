package engine

import (
	"context"
	"fmt"
	"net"

	"tabserve/internal/backend"
	"tabserve/internal/config"
	"tabserve/internal/logging"
	"tabserve/internal/repository"
	"tabserve/internal/telemetry"
	"tabserve/internal/transport"
	"tabserve/sink"
	"tabserve/sink/kafka"
	"tabserve/sink/stdout"
)

// Bootstrap opens the model repository, builds the inference service and
// binds the listener. Models are loaded by Run.
func Bootstrap(ctx context.Context, cfg config.Config, version string) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 1. repository
	repo, err := repository.Open(cfg.ModelRepository)
	if err != nil {
		return nil, err
	}

	// 2. metrics, fed by model state changes
	metrics := telemetry.New()
	for _, name := range repo.Names() {
		metrics.SetModelState(name, backend.Unloaded.String())
	}
	repo.OnState = func(model string, s backend.State) {
		metrics.SetModelState(model, s.String())
	}

	// 3. inference log sinks
	sinks, err := buildSinks(cfg.InferenceLog)
	if err != nil {
		return nil, err
	}

	// 4. transport
	svc := transport.NewService(transport.Options{
		Repository:      repo,
		Metrics:         metrics,
		Sinks:           sinks,
		MaxInFlight:     cfg.MaxInFlight,
		RequestTimeout:  cfg.RequestTimeout,
		StrictReadiness: cfg.StrictReadiness,
		Version:         version,
	})
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", cfg.ListenAddress)
	if err != nil {
		_ = sinks.Close()
		return nil, fmt.Errorf("transport: %w", err)
	}

	logging.Component("engine").Info("bootstrapped",
		"repository", cfg.ModelRepository, "models", len(repo.Names()),
		"addr", lis.Addr().String(), "sinks", cfg.InferenceLog.Sinks)
	return &Engine{
		cfg:     cfg,
		repo:    repo,
		sinks:   sinks,
		server:  transport.NewServer(svc, metrics.Handler()),
		lis:     lis,
		metrics: metrics,
	}, nil
}

func buildSinks(cfg config.InferenceLogCfg) (*sink.Fanout, error) {
	fan := &sink.Fanout{}
	for _, name := range cfg.Sinks {
		a, err := sink.NewAdapter(name)
		if err != nil {
			_ = fan.Close()
			return nil, err
		}
		var sc any
		switch name {
		case "stdout":
			sc = stdout.Config{}
		case "kafka":
			sc = kafka.Config{
				Brokers:  cfg.Kafka.Brokers,
				Topic:    cfg.Kafka.Topic,
				Acks:     cfg.Kafka.RequiredAcks,
				ClientID: cfg.Kafka.ClientID,
				Version:  cfg.Kafka.Version,
			}
		}
		if err := a.Configure(sc); err != nil {
			_ = fan.Close()
			return nil, fmt.Errorf("sink %s: %w", name, err)
		}
		fan.Add(name, a)
	}
	return fan, nil
}
