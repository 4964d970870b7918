package app

import (
	"context"
	"fmt"

	"backsim/internal/config"
	"backsim/internal/logger"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动回测服务。
type App struct {
	cfg      *config.Config
	backtest *BacktestStack
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动回测服务并阻塞到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if a.Summary != nil {
		a.Summary.Print()
	}

	if a.backtest == nil {
		return fmt.Errorf("backtest service not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer a.backtest.Close()
		if err := a.backtest.Start(ctx); err != nil {
			return fmt.Errorf("backtest http server error: %w", err)
		}
		return nil
	})

	return group.Wait()
}

// Backtest 暴露底层回测栈实例（测试/脚本用）。
func (a *App) Backtest() *BacktestStack {
	if a == nil {
		return nil
	}
	return a.backtest
}
