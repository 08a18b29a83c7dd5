package main

import (
	"context"
	"fmt"

	"recipe_recommend/internal/logger"
	"recipe_recommend/internal/metrics"
	"recipe_recommend/internal/recommend"
	"recipe_recommend/internal/server"
	"recipe_recommend/internal/task"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// setup 根据配置初始化日志与查询服务
func setup(ctx context.Context, cfg *AppConfig, reg prometheus.Registerer) (*recommend.Service, *metrics.Metrics, error) {
	logger.Init(cfg.Log)
	if cfg.Server.Debug {
		logger.SetDebug(true)
	}

	m := metrics.New(reg)
	svc, err := recommend.NewService(ctx, cfg.Config,
		recommend.WithLogger(logger.Named("recommend")),
		recommend.WithMetrics(m),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init recommendation service: %w", err)
	}
	info := svc.Info()
	logger.Info("Loaded snapshot v%d: %d score rows, %d recipes, %d duplicates replaced",
		info.Version, info.Rows, info.Recipes, info.Duplicates)
	return svc, m, nil
}

// serve 启动 HTTP 服务与制品监听，直到 ctx 结束
func serve(ctx context.Context, cfg *AppConfig) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, m, err := setup(ctx, cfg, reg)
	if err != nil {
		return err
	}

	tasks := task.NewManager(cfg.Tasks.MaxTasks, cfg.Tasks.Timeout, logger.Named("task"))
	srv := server.NewServer(cfg.Server, svc, tasks, m, reg, logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return svc.Watch(gctx) })
	return g.Wait()
}
