package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"tabserve/internal/config"
	"tabserve/internal/engine"
	"tabserve/internal/logging"
)

var version = "dev"

func main() {
	var (
		cfgPath = flag.String("config", "", "path to a YAML config file")
		repo    = flag.String("model-repository", "", "model repository root, overrides the config")
		listen  = flag.String("listen", "", "listen address, overrides the config")
	)
	flag.Parse()

	logging.InitFromEnv()
	if err := run(*cfgPath, *repo, *listen); err != nil {
		logging.L().Error("tabserve exited", "err", err)
		os.Exit(1)
	}
}

func run(cfgPath, repo, listen string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if repo != "" {
		cfg.ModelRepository = repo
	}
	if listen != "" {
		cfg.ListenAddress = listen
	}
	logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	log := logging.Component("main")

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Debug(fmt.Sprintf(format, args...))
	}))
	defer undo()
	if err != nil {
		log.Warn("setting GOMAXPROCS", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, cfg, version)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	log.Info("tabserve starting", "version", version, "addr", e.Addr().String(), "repository", cfg.ModelRepository)
	return e.Run(ctx)
}
