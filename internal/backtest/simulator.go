package backtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"backsim/internal/engine"
	"backsim/internal/logger"
	"backsim/internal/market"
)

// ResultStore 抽象回测结果的持久化，由 gormstore 实现。
type ResultStore interface {
	InsertRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, id, status, message string) error
	CompleteRun(ctx context.Context, id string, result *engine.BacktestResult, orders []*engine.Order, trades []engine.Trade, snapshots []Snapshot, skips []engine.BarSkip) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ListOrders(ctx context.Context, runID string, limit int) ([]engine.Order, error)
	ListTrades(ctx context.Context, runID string, limit int) ([]engine.Trade, error)
	ListSnapshots(ctx context.Context, runID string, limit int) ([]Snapshot, error)
	ListSkips(ctx context.Context, runID string, limit int) ([]engine.BarSkip, error)
}

// 各策略的参数 schema；提交时校验，拦住明显写错的参数。
var strategyParamSchemas = map[string]string{
	"buy_hold": `{
		"type": "object",
		"properties": {
			"quantity": {"type": "number", "minimum": 0}
		},
		"additionalProperties": false
	}`,
	"sma_cross": `{
		"type": "object",
		"properties": {
			"fast":     {"type": "integer", "minimum": 1},
			"slow":     {"type": "integer", "minimum": 2},
			"quantity": {"type": "number", "exclusiveMinimum": 0}
		},
		"additionalProperties": false
	}`,
	"rsi_reversion": `{
		"type": "object",
		"properties": {
			"period":     {"type": "integer", "minimum": 2},
			"oversold":   {"type": "number", "minimum": 0, "maximum": 100},
			"overbought": {"type": "number", "minimum": 0, "maximum": 100},
			"quantity":   {"type": "number", "exclusiveMinimum": 0}
		},
		"additionalProperties": false
	}`,
}

var compiledParamSchemas = func() map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(strategyParamSchemas))
	for name, raw := range strategyParamSchemas {
		sch, err := jsonschema.CompileString(name+".json", raw)
		if err != nil {
			panic(fmt.Sprintf("策略 %s 参数 schema 无效: %v", name, err))
		}
		out[name] = sch
	}
	return out
}()

func validateStrategyParams(strategy string, params map[string]any) error {
	sch, ok := compiledParamSchemas[strings.ToLower(strings.TrimSpace(strategy))]
	if !ok || params == nil {
		return nil
	}
	if err := sch.Validate(map[string]any(params)); err != nil {
		return fmt.Errorf("策略参数校验失败: %w", err)
	}
	return nil
}

// SimulatorConfig 配置 Simulator。
type SimulatorConfig struct {
	CandleStore   *Store
	Results       ResultStore
	Fetcher       *Service // 可选；本地无数据时触发回补
	NewStrategy   func(name, symbol string, params map[string]any) (engine.StrategyFunc, error)
	StrategyNames func() []string
	DefaultEngine engine.BacktestConfig
	Constraints   engine.MarketConstraints
	MaxConcurrent int
}

// Simulator 负责将历史 K 线 + 策略推演为资金曲线与绩效指标。
type Simulator struct {
	store       *Store
	results     ResultStore
	fetcher     *Service
	newStrategy func(name, symbol string, params map[string]any) (engine.StrategyFunc, error)
	names       func() []string
	engineCfg   engine.BacktestConfig

	cmu         sync.RWMutex
	constraints engine.MarketConstraints

	sem     chan struct{}
	baseCtx context.Context
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.CandleStore == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if cfg.NewStrategy == nil {
		return nil, fmt.Errorf("strategy factory 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	engineCfg := cfg.DefaultEngine
	if engineCfg.InitialCapital <= 0 {
		engineCfg = engine.DefaultConfig()
	}
	return &Simulator{
		store:       cfg.CandleStore,
		results:     cfg.Results,
		fetcher:     cfg.Fetcher,
		newStrategy: cfg.NewStrategy,
		names:       cfg.StrategyNames,
		engineCfg:   engineCfg,
		constraints: cfg.Constraints,
		sem:         make(chan struct{}, maxConcurrent),
		baseCtx:     context.Background(),
	}, nil
}

func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// SetConstraints 替换市场约束。停牌日历热更新时调用，
// 只影响之后启动的回测。
func (s *Simulator) SetConstraints(mc engine.MarketConstraints) {
	s.cmu.Lock()
	s.constraints = mc
	s.cmu.Unlock()
}

func (s *Simulator) currentConstraints() engine.MarketConstraints {
	s.cmu.RLock()
	defer s.cmu.RUnlock()
	return s.constraints
}

// StrategyNames 返回可用的策略名。
func (s *Simulator) StrategyNames() []string {
	if s.names == nil {
		return nil
	}
	return s.names()
}

// StartRun 创建回测任务并立即返回，模拟过程在后台进行。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	if req.Symbol == "" {
		return Run{}, fmt.Errorf("symbol 不能为空")
	}
	tf, err := ParseTimeframe(req.Timeframe)
	if err != nil {
		return Run{}, err
	}
	start, end := tf.AlignRange(req.StartTS, req.EndTS)
	if start <= 0 || end <= 0 || end <= start {
		return Run{}, fmt.Errorf("start/end 非法")
	}
	// 先让工厂试构造一次，提前暴露未知策略名
	if _, err := s.newStrategy(req.Strategy, req.Symbol, req.StrategyParams); err != nil {
		return Run{}, err
	}
	if err := validateStrategyParams(req.Strategy, req.StrategyParams); err != nil {
		return Run{}, err
	}

	engineCfg := s.engineCfg
	if req.InitialCapital > 0 {
		engineCfg.InitialCapital = req.InitialCapital
	}
	if req.CommissionRate > 0 {
		engineCfg.CommissionRate = req.CommissionRate
	}
	if req.MinCommission > 0 {
		engineCfg.MinCommission = req.MinCommission
	}
	if req.StampDutyRate > 0 {
		engineCfg.StampDutyRate = req.StampDutyRate
	}
	if req.SlippageRate > 0 {
		engineCfg.SlippageRate = req.SlippageRate
	}
	if req.EnableStampDuty {
		engineCfg.EnableStampDuty = true
	}

	cfg := RunConfig{
		Symbol:            strings.ToUpper(req.Symbol),
		Timeframe:         tf.Key,
		StartTS:           start,
		EndTS:             end,
		Strategy:          strings.ToLower(strings.TrimSpace(req.Strategy)),
		StrategyParams:    req.StrategyParams,
		Engine:            engineCfg,
		EnableConstraints: req.EnableConstraints,
		Notes:             req.Notes,
	}

	run := Run{
		ID:        uuid.NewString(),
		Symbol:    cfg.Symbol,
		Strategy:  cfg.Strategy,
		Status:    RunStatusPending,
		StartTS:   start,
		EndTS:     end,
		Timeframe: tf.Key,
		Config:    cfg,
		CreatedAt: time.Now(),
	}
	if err := s.results.InsertRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	go s.runLoop(run.ID, cfg, tf)
	return run, nil
}

func (s *Simulator) runLoop(runID string, cfg RunConfig, tf Timeframe) {
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warnf("[backtest] run %s 等待可用 worker", runID)
		s.sem <- struct{}{}
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	_ = s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, "加载历史数据…")
	if err := s.execute(ctx, runID, cfg, tf); err != nil {
		logger.Warnf("[backtest] run %s 失败: %v", runID, err)
		_ = s.results.UpdateRunStatus(ctx, runID, RunStatusFailed, err.Error())
	}
}

func (s *Simulator) execute(ctx context.Context, runID string, cfg RunConfig, tf Timeframe) error {
	data, err := s.loadCandles(ctx, cfg, tf)
	if err != nil {
		return err
	}
	if len(data) < 2 {
		return fmt.Errorf("区间内 K 线不足: %s %s [%d,%d]", cfg.Symbol, cfg.Timeframe, cfg.StartTS, cfg.EndTS)
	}

	fn, err := s.newStrategy(cfg.Strategy, cfg.Symbol, cfg.StrategyParams)
	if err != nil {
		return err
	}

	var (
		result *engine.BacktestResult
		curve  []engine.EquityPoint
		orders []*engine.Order
		trades []engine.Trade
		skips  []engine.BarSkip
	)
	if cfg.EnableConstraints {
		ce := engine.NewConstraintEngine(cfg.Engine, s.currentConstraints())
		result, err = ce.Run(cfg.Symbol, data, fn, cfg.StrategyParams)
		if err != nil {
			return err
		}
		curve = ce.EquityCurve()
		orders = ce.Orders()
		trades = ce.Trades()
		skips = ce.Skips()
	} else {
		e := engine.New(cfg.Engine)
		result, err = e.Run(data, fn, cfg.StrategyParams)
		if err != nil {
			return err
		}
		curve = e.EquityCurve()
		orders = e.Orders()
		trades = e.Trades()
	}

	snapshots := snapshotsFromCurve(runID, curve)
	if err := s.results.CompleteRun(ctx, runID, result, orders, trades, snapshots, skips); err != nil {
		return fmt.Errorf("结果落库失败: %w", err)
	}
	logger.Infof("[backtest] run %s 完成 | 收益率: %.2f%% 最大回撤: %.2f%% 成交: %d",
		runID, result.TotalReturnPct*100, result.MaxDrawdown*100, result.TotalTrades)
	return nil
}

// loadCandles 读取本地数据；完全无数据且配置了 fetcher 时先回补。
func (s *Simulator) loadCandles(ctx context.Context, cfg RunConfig, tf Timeframe) (market.Series, error) {
	data, err := s.store.RangeCandles(ctx, cfg.Symbol, tf.Key, cfg.StartTS, cfg.EndTS)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 || s.fetcher == nil {
		return data, nil
	}
	logger.Infof("[backtest] %s %s 本地无数据，触发回补", cfg.Symbol, tf.Key)
	job, err := s.fetcher.SubmitFetch(FetchParams{
		Symbol:    cfg.Symbol,
		Timeframe: tf.Key,
		Start:     cfg.StartTS,
		End:       cfg.EndTS,
	})
	if err != nil {
		return nil, fmt.Errorf("回补失败: %w", err)
	}
	if err := s.waitForJob(ctx, job.ID); err != nil {
		return nil, err
	}
	return s.store.RangeCandles(ctx, cfg.Symbol, tf.Key, cfg.StartTS, cfg.EndTS)
}

func (s *Simulator) waitForJob(ctx context.Context, jobID string) error {
	deadline := time.NewTimer(2 * time.Minute)
	defer deadline.Stop()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("回补任务 %s 超时", jobID)
		case <-ticker.C:
			job, ok := s.fetcher.JobSnapshot(jobID)
			if !ok {
				return fmt.Errorf("回补任务 %s 丢失", jobID)
			}
			switch job.Status {
			case JobStatusDone, JobStatusPartial:
				return nil
			case JobStatusFailed:
				return fmt.Errorf("回补任务失败: %s", job.Message)
			}
		}
	}
}

func snapshotsFromCurve(runID string, curve []engine.EquityPoint) []Snapshot {
	out := make([]Snapshot, 0, len(curve))
	peak := 0.0
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - p.Value) / peak
		}
		out = append(out, Snapshot{
			RunID:    runID,
			TS:       p.TS,
			Equity:   p.Value,
			Cash:     p.Cash,
			Drawdown: dd,
		})
	}
	return out
}
