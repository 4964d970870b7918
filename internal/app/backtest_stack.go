package app

import (
	"context"

	"backsim/internal/backtest"
	"backsim/internal/config/loader"
	"backsim/internal/store/gormstore"
)

// BacktestStack 聚合回测相关组件：K 线库、结果库、拉取服务、
// 模拟器、停牌日历与 HTTP 暴露。
type BacktestStack struct {
	store   *backtest.Store
	results *gormstore.GormStore
	svc     *backtest.Service
	sim     *backtest.Simulator
	halts   *loader.HaltLoader // 可选
	server  *backtest.HTTPServer
}

// Start 绑定上下文并启动 HTTP 服务，阻塞到 ctx 结束。
func (b *BacktestStack) Start(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if b.svc != nil {
		b.svc.SetContext(ctx)
	}
	if b.sim != nil {
		b.sim.SetContext(ctx)
	}
	if b.server == nil {
		<-ctx.Done()
		return nil
	}
	return b.server.Start(ctx)
}

// Close 释放回测相关资源。
func (b *BacktestStack) Close() {
	if b == nil {
		return
	}
	if b.halts != nil {
		_ = b.halts.Close()
	}
	if b.results != nil {
		_ = b.results.Close()
	}
	if b.store != nil {
		_ = b.store.Close()
	}
}

// Simulator 暴露模拟器实例（测试用）。
func (b *BacktestStack) Simulator() *backtest.Simulator {
	if b == nil {
		return nil
	}
	return b.sim
}
