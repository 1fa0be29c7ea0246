package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"alphaforge/internal/backtest"
	"alphaforge/internal/config"
	"alphaforge/internal/dataset"
	"alphaforge/internal/graph"
	"alphaforge/internal/history"
	"alphaforge/internal/llm"
	"alphaforge/internal/logger"
	"alphaforge/internal/loop"
	"alphaforge/internal/report"
	loophttp "alphaforge/internal/transport/http"
	"alphaforge/internal/validate"
)

// App 负责把各组件装配起来并管理生命周期。
type App struct {
	cfg *config.Config

	cache    *dataset.Cache
	registry *graph.Registry
	engine   *loop.Engine
	store    *history.Store
	jsonl    *history.JSONL
	builder  *report.Builder
	server   *loophttp.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	catalog := dataset.NewCatalog()

	cache, err := dataset.OpenCache(cfg.Data.CachePath)
	if err != nil {
		return nil, fmt.Errorf("初始化数据缓存失败: %w", err)
	}
	source, err := dataset.NewHTTPSource(dataset.HTTPSourceConfig{
		BaseURL:         cfg.Data.BaseURL,
		Token:           cfg.Data.Token,
		TimeoutSeconds:  cfg.Data.TimeoutSeconds,
		RateLimitPerMin: cfg.Data.RateLimitPerMin,
	})
	if err != nil {
		return nil, err
	}
	loader := dataset.NewService(catalog, cache, source,
		time.Duration(cfg.Data.CacheTTLHours)*time.Hour)

	seed := cfg.Graph.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	registry, err := graph.NewRegistry(cfg.Graph.TemplatesPath, seed)
	if err != nil {
		return nil, fmt.Errorf("初始化模板库失败: %w", err)
	}

	var llmSource loop.LLMSource
	enabled := 0
	for _, m := range cfg.LLM.Models {
		if m.Enabled {
			enabled++
		}
	}
	if enabled > 0 {
		llmSource = llm.NewGenerator(cfg.LLM, catalog)
		logger.Infof("启用 %d 个 LLM 端点", enabled)
	} else {
		logger.Infof("未配置 LLM 端点，候选全部来自因子图模板")
	}

	store, err := history.Open(cfg.Loop.HistoryDB)
	if err != nil {
		return nil, err
	}
	jsonl, err := history.OpenJSONL(cfg.Loop.HistoryJSONL)
	if err != nil {
		return nil, err
	}

	engine := loop.NewEngine(loop.Options{
		Config:     cfg.Loop,
		Objective:  cfg.Loop.Objective,
		LLM:        llmSource,
		Graph:      registry,
		Pipeline:   validate.NewPipeline(catalog, time.Duration(cfg.Loop.SandboxTimeoutSeconds)*time.Second),
		Loader:     loader,
		Backtester: backtest.NewEngine(loader, cfg.Backtest),
		Recorders:  []loop.Recorder{store, jsonl},
	})

	builder := report.NewBuilder(cfg.Report)
	a := &App{
		cfg:      cfg,
		cache:    cache,
		registry: registry,
		engine:   engine,
		store:    store,
		jsonl:    jsonl,
		builder:  builder,
	}

	if cfg.Server.Enabled {
		srv, err := loophttp.NewServer(loophttp.Config{
			Addr:    cfg.Server.Addr,
			Engine:  engine,
			Store:   store,
			Builder: builder,
		})
		if err != nil {
			return nil, err
		}
		a.server = srv
	}
	return a, nil
}

// Run 运行应用直到收到终止信号。
// 开启 HTTP 服务时循环由 API 控制；否则一次性跑完整个循环后出报告退出。
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Graph.Watch {
		g.Go(func() error { return a.registry.Watch(ctx) })
	}

	if a.server != nil {
		logger.Infof("HTTP 服务监听 %s", a.cfg.Server.Addr)
		g.Go(func() error { return a.server.Start(ctx) })
		return g.Wait()
	}

	g.Go(func() error {
		defer stop()
		if err := a.engine.Run(ctx); err != nil {
			return err
		}
		return a.buildReport(ctx)
	})
	return g.Wait()
}

func (a *App) buildReport(ctx context.Context) error {
	champ, rep := a.engine.Champion()
	if champ == nil {
		logger.Warnf("没有冠军策略，跳过报告生成")
		return nil
	}
	recs, err := a.store.Iterations(champ.RunID, 500, 0)
	if err != nil {
		logger.Warnf("读取迭代记录失败: %v", err)
	}
	res, err := a.builder.Build(ctx, report.Input{
		RunID:    champ.RunID,
		Champion: champ,
		Report:   rep,
		Records:  recs,
	})
	if err != nil {
		return err
	}
	logger.Infof("报告已生成: %s", res.HTMLPath)
	return nil
}

func (a *App) close() {
	if err := a.jsonl.Close(); err != nil {
		logger.Warnf("关闭 JSONL 镜像失败: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logger.Warnf("关闭历史库失败: %v", err)
	}
	if err := a.cache.Close(); err != nil {
		logger.Warnf("关闭数据缓存失败: %v", err)
	}
}
