package backtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backsim/internal/engine"
	"backsim/internal/market"
	"backsim/internal/strategy"
)

// memResults 是内存版结果存储，只服务单元测试。
type memResults struct {
	mu        sync.Mutex
	runs      map[string]Run
	orders    map[string][]engine.Order
	trades    map[string][]engine.Trade
	snapshots map[string][]Snapshot
	skips     map[string][]engine.BarSkip
}

func newMemResults() *memResults {
	return &memResults{
		runs:      make(map[string]Run),
		orders:    make(map[string][]engine.Order),
		trades:    make(map[string][]engine.Trade),
		snapshots: make(map[string][]Snapshot),
		skips:     make(map[string][]engine.BarSkip),
	}
}

func (m *memResults) InsertRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *memResults) UpdateRunStatus(_ context.Context, id, status, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run %s 不存在", id)
	}
	run.Status = status
	run.Message = message
	m.runs[id] = run
	return nil
}

func (m *memResults) CompleteRun(_ context.Context, id string, result *engine.BacktestResult, orders []*engine.Order, trades []engine.Trade, snapshots []Snapshot, skips []engine.BarSkip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run %s 不存在", id)
	}
	run.Status = RunStatusDone
	run.Result = result
	run.CompletedAt = time.Now()
	m.runs[id] = run
	for _, o := range orders {
		if o != nil {
			m.orders[id] = append(m.orders[id], *o)
		}
	}
	m.trades[id] = append(m.trades[id], trades...)
	m.snapshots[id] = append(m.snapshots[id], snapshots...)
	m.skips[id] = append(m.skips[id], skips...)
	return nil
}

func (m *memResults) GetRun(_ context.Context, id string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return Run{}, fmt.Errorf("run %s 不存在", id)
	}
	return run, nil
}

func (m *memResults) ListRuns(_ context.Context, _ int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Run, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run)
	}
	return out, nil
}

func (m *memResults) ListOrders(_ context.Context, runID string, _ int) ([]engine.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.Order{}, m.orders[runID]...), nil
}

func (m *memResults) ListTrades(_ context.Context, runID string, _ int) ([]engine.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.Trade{}, m.trades[runID]...), nil
}

func (m *memResults) ListSnapshots(_ context.Context, runID string, _ int) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Snapshot{}, m.snapshots[runID]...), nil
}

func (m *memResults) ListSkips(_ context.Context, runID string, _ int) ([]engine.BarSkip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.BarSkip{}, m.skips[runID]...), nil
}

var _ ResultStore = (*memResults)(nil)

func newTestSimulator(t *testing.T, st *Store, results ResultStore) *Simulator {
	t.Helper()
	sim, err := NewSimulator(SimulatorConfig{
		CandleStore:   st,
		Results:       results,
		NewStrategy:   strategy.New,
		StrategyNames: strategy.Names,
	})
	require.NoError(t, err)
	return sim
}

// seedDailyBars 写入 day 1..days 的日线（缓慢上涨）。
func seedDailyBars(t *testing.T, st *Store, symbol string, days int) {
	t.Helper()
	candles := make([]market.Candle, 0, days)
	for i := 1; i <= days; i++ {
		candles = append(candles, dailyCandle(int64(i), 100+float64(i)*0.5))
	}
	_, err := st.InsertCandles(context.Background(), symbol, "1d", candles)
	require.NoError(t, err)
}

func waitRunDone(t *testing.T, results *memResults, id string) Run {
	t.Helper()
	var run Run
	require.Eventually(t, func() bool {
		r, err := results.GetRun(context.Background(), id)
		if err != nil {
			return false
		}
		run = r
		return run.Status == RunStatusDone || run.Status == RunStatusFailed
	}, 15*time.Second, 25*time.Millisecond)
	return run
}

func TestStartRunValidation(t *testing.T) {
	st := newTestStore(t)
	sim := newTestSimulator(t, st, newMemResults())

	_, err := sim.StartRun(RunRequest{Timeframe: "1d", StartTS: 0, EndTS: dayMS, Strategy: "buy_hold"})
	assert.Error(t, err)

	_, err = sim.StartRun(RunRequest{Symbol: "600519", Timeframe: "2d", StartTS: 0, EndTS: dayMS, Strategy: "buy_hold"})
	assert.Error(t, err)

	_, err = sim.StartRun(RunRequest{Symbol: "600519", Timeframe: "1d", StartTS: dayMS, EndTS: dayMS, Strategy: "buy_hold"})
	assert.Error(t, err)

	_, err = sim.StartRun(RunRequest{Symbol: "600519", Timeframe: "1d", StartTS: dayMS, EndTS: 5 * dayMS, Strategy: "no_such"})
	assert.Error(t, err)

	// 策略参数不符合后端声明的 schema
	_, err = sim.StartRun(RunRequest{
		Symbol: "600519", Timeframe: "1d", StartTS: dayMS, EndTS: 5 * dayMS,
		Strategy: "sma_cross", StrategyParams: map[string]any{"bogus": 1},
	})
	assert.Error(t, err)
}

func TestStartRunBuyHoldCompletes(t *testing.T) {
	st := newTestStore(t)
	results := newMemResults()
	sim := newTestSimulator(t, st, results)
	seedDailyBars(t, st, "600519", 40)

	run, err := sim.StartRun(RunRequest{
		Symbol:    "600519",
		Timeframe: "1d",
		StartTS:   dayMS,
		EndTS:     40 * dayMS,
		Strategy:  "buy_hold",
	})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusPending, run.Status)

	final := waitRunDone(t, results, run.ID)
	require.Equal(t, RunStatusDone, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, 40, final.Result.TradingDays)
	assert.Positive(t, final.Result.FinalCapital)
	// 一路上涨的行情里买入持有应当赚钱
	assert.Greater(t, final.Result.TotalReturnPct, 0.0)

	snaps, err := results.ListSnapshots(context.Background(), run.ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, snaps)
	trades, err := results.ListTrades(context.Background(), run.ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, trades)
}

func TestStartRunWithConstraintsRecordsHalts(t *testing.T) {
	st := newTestStore(t)
	results := newMemResults()
	seedDailyBars(t, st, "600519", 20)

	constraints := engine.DefaultConstraints()
	constraints.EnableLiquidityCheck = false
	constraints.HaltWindows["600519"] = []engine.HaltWindow{{
		Start: time.UnixMilli(5 * dayMS).UTC(),
		End:   time.UnixMilli(7 * dayMS).UTC(),
	}}
	sim, err := NewSimulator(SimulatorConfig{
		CandleStore:   st,
		Results:       results,
		NewStrategy:   strategy.New,
		StrategyNames: strategy.Names,
		Constraints:   constraints,
	})
	require.NoError(t, err)

	run, err := sim.StartRun(RunRequest{
		Symbol:            "600519",
		Timeframe:         "1d",
		StartTS:           dayMS,
		EndTS:             20 * dayMS,
		Strategy:          "buy_hold",
		EnableConstraints: true,
	})
	require.NoError(t, err)

	final := waitRunDone(t, results, run.ID)
	require.Equal(t, RunStatusDone, final.Status)

	skips, err := results.ListSkips(context.Background(), run.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, skips)
	assert.Equal(t, engine.StatusHalted, skips[0].Status)
}

func TestStartRunBackfillsFromFetcher(t *testing.T) {
	st := newTestStore(t)
	results := newMemResults()
	src := &fakeSource{}
	for i := int64(1); i <= 10; i++ {
		src.candles = append(src.candles, dailyCandle(i, 100+float64(i)))
	}
	svc := newTestService(t, st, src)
	sim, err := NewSimulator(SimulatorConfig{
		CandleStore:   st,
		Results:       results,
		Fetcher:       svc,
		NewStrategy:   strategy.New,
		StrategyNames: strategy.Names,
	})
	require.NoError(t, err)

	run, err := sim.StartRun(RunRequest{
		Symbol:    "600519",
		Timeframe: "1d",
		StartTS:   dayMS,
		EndTS:     10 * dayMS,
		Strategy:  "buy_hold",
	})
	require.NoError(t, err)

	final := waitRunDone(t, results, run.ID)
	require.Equal(t, RunStatusDone, final.Status)
	assert.Positive(t, src.calls.Load())
}
