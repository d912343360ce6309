package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/wfs-query/internal/artifact"
	"github.com/mohammed-shakir/wfs-query/internal/cache/redisstore"
	"github.com/mohammed-shakir/wfs-query/internal/core/config"
	"github.com/mohammed-shakir/wfs-query/internal/core/health"
	"github.com/mohammed-shakir/wfs-query/internal/core/observability"
	"github.com/mohammed-shakir/wfs-query/internal/core/server"
	"github.com/mohammed-shakir/wfs-query/internal/dataset"
	"github.com/mohammed-shakir/wfs-query/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/wfs-query/internal/logger"
	"github.com/mohammed-shakir/wfs-query/internal/metrics"
	"github.com/mohammed-shakir/wfs-query/internal/query"
	"github.com/mohammed-shakir/wfs-query/internal/storedquery"
	"github.com/mohammed-shakir/wfs-query/internal/subset"
	"github.com/mohammed-shakir/wfs-query/internal/wfs"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "wfs-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var prov *metrics.Provider
	if cfg.Metrics.Enabled {
		prov = metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.Metrics.Addr,
			Path:    cfg.Metrics.Path,
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		observability.Init(prov.Registerer(), true)
	} else {
		observability.Init(nil, false)
	}

	appLog.Info("starting wfs server",
		"addr", cfg.Addr,
		"version", Version,
		"data_dir", cfg.DataDir,
		"artifacts", cfg.Artifacts.Driver,
		"invalidation", cfg.Invalidation.Enabled)

	artifacts, closeArtifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		appLog.Error("artifact store setup failed", "err", err)
		return 1
	}
	defer closeArtifacts()
	if mem, ok := artifacts.(*artifact.Memory); ok && prov != nil {
		prov.Register(mem.Collector())
	}

	registry, err := storedquery.Builtin(subset.New(artifacts, appLog))
	if err != nil {
		appLog.Error("stored query registry", "err", err)
		return 1
	}

	datasets, err := dataset.NewCache(dataset.FileBackend{Dir: cfg.DataDir}, dataset.CacheOptions{
		Size:      cfg.DatasetCacheSize,
		Blacklist: cfg.Blacklist,
		Logger:    appLog,
	})
	if err != nil {
		appLog.Error("dataset cache setup failed", "err", err)
		return 1
	}

	handler := wfs.NewHandler(datasets, query.New(registry, appLog), artifacts, wfs.Options{
		BaseURL: cfg.PublicBaseURL,
		Logger:  appLog,
	})

	deps := server.Deps{WFS: handler, Ready: health.Always{}}
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: cfg.Invalidation.Brokers,
			Topic:   cfg.Invalidation.Topic,
			GroupID: cfg.Invalidation.GroupID,
		}, appLog, datasets)
		deps.Ready = consumer
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if prov != nil {
		if cfg.Metrics.Addr == "" {
			deps.Metrics = prov.Handler()
			deps.MetricsPath = cfg.Metrics.Path
		} else {
			g.Go(func() error { return prov.Serve(gctx, appLog) })
		}
	}

	g.Go(func() error { return server.Run(gctx, cfg, appLog, deps) })

	if err := g.Wait(); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func newArtifactStore(ctx context.Context, cfg config.Config) (artifact.Store, func(), error) {
	if cfg.Artifacts.Driver != config.ArtifactRedis {
		mem, err := artifact.NewMemory(cfg.Artifacts.MemorySize)
		return mem, func() {}, err
	}
	cli, err := redisstore.New(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	return artifact.NewRedis(cli, cfg.Artifacts.TTL, cfg.CacheOpTimeout), func() { _ = cli.Close() }, nil
}
