package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"backsim/internal/backtest"
	"backsim/internal/config"
	"backsim/internal/config/loader"
	"backsim/internal/engine"
	"backsim/internal/logger"
	"backsim/internal/store/gormstore"
	"backsim/internal/strategy"
)

// AppBuilder 把配置装配成可运行的 App。工厂函数可被测试替换。
type AppBuilder struct {
	cfg *config.Config

	candleStoreFn func(string) (*backtest.Store, error)
	resultStoreFn func(string) (*gormstore.GormStore, error)
	sourcesFn     func(config.Fetch) map[string]backtest.CandleSource
	haltLoaderFn  func(string) (*loader.HaltLoader, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		candleStoreFn: backtest.NewStore,
		resultStoreFn: gormstore.NewGormStore,
		sourcesFn:     buildCandleSources,
		haltLoaderFn:  loader.NewHaltLoader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildCandleSources(cfg config.Fetch) map[string]backtest.CandleSource {
	src := backtest.NewBinanceSource(cfg.BaseURL)
	return map[string]backtest.CandleSource{src.Name(): src}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	store, err := b.candleStoreFn(cfg.Data.CandleDir)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线库失败: %w", err)
	}
	results, err := b.resultStoreFn(cfg.Data.ResultsPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("初始化结果库失败: %w", err)
	}

	svc, err := backtest.NewService(backtest.ServiceConfig{
		Store:           store,
		Sources:         b.sourcesFn(cfg.Fetch),
		RateLimitPerMin: cfg.Fetch.RateLimitPerMin,
		MaxBatch:        cfg.Fetch.MaxBatch,
		MaxConcurrent:   cfg.Fetch.MaxConcurrent,
	})
	if err != nil {
		results.Close()
		store.Close()
		return nil, fmt.Errorf("初始化拉取服务失败: %w", err)
	}

	constraints := engine.MarketConstraints{}
	if cfg.Constraints.Enabled {
		constraints = cfg.Constraints.ToConstraints()
	}

	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		CandleStore:   store,
		Results:       results,
		Fetcher:       svc,
		NewStrategy:   strategy.New,
		StrategyNames: strategy.Names,
		DefaultEngine: cfg.Engine,
		Constraints:   constraints,
		MaxConcurrent: cfg.Backtest.MaxConcurrentRuns,
	})
	if err != nil {
		results.Close()
		store.Close()
		return nil, fmt.Errorf("初始化模拟器失败: %w", err)
	}

	var halts *loader.HaltLoader
	if cfg.Constraints.Enabled && cfg.Constraints.HaltCalendarPath != "" {
		halts, err = b.haltLoaderFn(cfg.Constraints.HaltCalendarPath)
		if err != nil {
			results.Close()
			store.Close()
			return nil, fmt.Errorf("加载停牌日历失败: %w", err)
		}
		base := cfg.Constraints
		halts.Subscribe(func(snap loader.HaltSnapshot) {
			mc := base.ToConstraints()
			mc.HaltWindows = snap.Windows
			for sym := range snap.SpecialSymbols {
				mc.SpecialSymbols[sym] = true
			}
			sim.SetConstraints(mc)
			logger.Infof("市场约束已更新（日历版本 %d）", snap.Version)
		})
	}

	server, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:      cfg.App.HTTPAddr,
		Svc:       svc,
		Simulator: sim,
		Results:   results,
	})
	if err != nil {
		if halts != nil {
			halts.Close()
		}
		results.Close()
		store.Close()
		return nil, fmt.Errorf("初始化回测 HTTP 失败: %w", err)
	}
	logger.Infof("✓ 回测 HTTP 接口监听 %s", cfg.App.HTTPAddr)

	stack := &BacktestStack{
		store:   store,
		results: results,
		svc:     svc,
		sim:     sim,
		halts:   halts,
		server:  server,
	}
	return &App{
		cfg:      cfg,
		backtest: stack,
		Summary:  buildStartupSummary(cfg),
	}, nil
}

func buildStartupSummary(cfg *config.Config) *StartupSummary {
	names := strategy.Names()
	sort.Strings(names)
	haltPath := "-"
	if p := strings.TrimSpace(cfg.Constraints.HaltCalendarPath); p != "" {
		haltPath = p
	}
	return &StartupSummary{
		HTTPAddr:    cfg.App.HTTPAddr,
		CandleDir:   cfg.Data.CandleDir,
		ResultsPath: cfg.Data.ResultsPath,
		Strategies:  names,
		Engine:      cfg.Engine,
		Constraints: cfg.Constraints,
		HaltPath:    haltPath,
	}
}
