package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backsim/internal/market"
)

func testSeries(symbol string, closes []float64, volume float64) market.Series {
	base := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	series := make(market.Series, len(closes))
	for i, c := range closes {
		ts := base.AddDate(0, 0, i)
		series[i] = market.Candle{
			OpenTime:  ts.Add(-4 * time.Hour).UnixMilli(),
			CloseTime: ts.UnixMilli(),
			Symbol:    symbol,
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    volume,
		}
	}
	return series
}

func holdStrategy(market.Series, Context, map[string]any) []Intent { return nil }

func buyOnceStrategy(symbol string, quantity float64) StrategyFunc {
	done := false
	return func(data market.Series, ctx Context, _ map[string]any) []Intent {
		if done {
			return nil
		}
		done = true
		return []Intent{Buy(symbol, quantity)}
	}
}

func TestPlaceOrderRoundsToLot(t *testing.T) {
	e := New(DefaultConfig())

	order := e.PlaceOrder("600519", SideBuy, 150, OrderTypeMarket, 0, 0)
	require.NotNil(t, order)
	assert.Equal(t, 200.0, order.Quantity)
	assert.Equal(t, OrderStatusPending, order.Status)

	// 取整后 ≤0 的订单不会被创建
	assert.Nil(t, e.PlaceOrder("600519", SideBuy, 40, OrderTypeMarket, 0, 0))
	assert.Len(t, e.Orders(), 1)
}

func TestOrderStatusOneWay(t *testing.T) {
	order := &Order{ID: "ORD_000001", Status: OrderStatusPending}
	require.NoError(t, order.transition(OrderStatusFilled))
	assert.Error(t, order.transition(OrderStatusCancelled))
	assert.Equal(t, OrderStatusFilled, order.Status)
}

// 规格场景：10 万资金买 1000 股 @100，总成本超过现金，必须拒单且现金不变。
func TestBuyRejectedOnInsufficientCash(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialCapital = 100000
	e := New(cfg)

	order := e.PlaceOrder("600519", SideBuy, 1000, OrderTypeMarket, 0, 0)
	require.NotNil(t, order)
	trade := e.executeOrder(order, 100)

	assert.Nil(t, trade)
	assert.Equal(t, OrderStatusRejected, order.Status)
	assert.Contains(t, order.Note, "资金不足")
	assert.Equal(t, 100000.0, e.Cash())
	assert.Empty(t, e.Trades())
}

// 规格场景：同样条件买 900 股，总成本约 9 万，成交并建仓。
func TestBuyFillsWithCostModel(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg)

	order := e.PlaceOrder("600519", SideBuy, 900, OrderTypeMarket, 0, 0)
	require.NotNil(t, order)
	trade := e.executeOrder(order, 100)
	require.NotNil(t, trade)

	slip := 100 * 0.0005 * (1 + math.Log1p(900.0/100))
	assert.InDelta(t, 100+slip, trade.Price, 1e-9)
	commission := math.Max(trade.Price*900*0.0003, 5)
	assert.InDelta(t, commission, trade.Commission, 1e-9)
	assert.InDelta(t, trade.Price*900+commission, trade.TotalCost, 1e-9)

	assert.Equal(t, OrderStatusFilled, order.Status)
	pos, ok := e.positions["600519"]
	require.True(t, ok)
	assert.Equal(t, 900.0, pos.Quantity)
	assert.InDelta(t, trade.Price, pos.AvgCost, 1e-9)
	assert.InDelta(t, 100000-trade.TotalCost, e.Cash(), 1e-9)
	assert.Len(t, e.Trades(), 1)
}

func TestMinCommissionFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableSlippage = false
	e := New(cfg)

	order := e.PlaceOrder("600519", SideBuy, 100, OrderTypeMarket, 0, 0)
	trade := e.executeOrder(order, 10)
	require.NotNil(t, trade)
	// 10×100×0.0003 = 0.3，低于最低佣金 5
	assert.Equal(t, 5.0, trade.Commission)
}

func TestStampDutySellSideOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableSlippage = false
	cfg.EnableStampDuty = true
	e := New(cfg)

	buy := e.PlaceOrder("600519", SideBuy, 100, OrderTypeMarket, 0, 0)
	buyTrade := e.executeOrder(buy, 10)
	require.NotNil(t, buyTrade)
	assert.Zero(t, e.totalStampDuty)

	sell := e.PlaceOrder("600519", SideSell, 100, OrderTypeMarket, 0, 0)
	sellTrade := e.executeOrder(sell, 10)
	require.NotNil(t, sellTrade)
	assert.InDelta(t, 10*100*0.001, e.totalStampDuty, 1e-9)
	// 卖出收到的现金已扣除佣金与印花税
	assert.InDelta(t, 10*100-sellTrade.Commission-10*100*0.001, sellTrade.TotalCost, 1e-9)
}

func TestSellWithoutPositionRejected(t *testing.T) {
	e := New(DefaultConfig())
	order := e.PlaceOrder("600519", SideSell, 100, OrderTypeMarket, 0, 0)
	assert.Nil(t, e.executeOrder(order, 10))
	assert.Equal(t, OrderStatusRejected, order.Status)
	assert.Contains(t, order.Note, "持仓不足")
}

func TestFillPriceByOrderType(t *testing.T) {
	cases := []struct {
		name      string
		order     Order
		market    float64
		wantPrice float64
		wantFill  bool
	}{
		{"市价单按市价", Order{Type: OrderTypeMarket, Side: SideBuy}, 10, 10, true},
		{"限价买-市价低于限价", Order{Type: OrderTypeLimit, Side: SideBuy, Price: 10.5}, 10, 10, true},
		{"限价买-市价高于限价不成交", Order{Type: OrderTypeLimit, Side: SideBuy, Price: 9.5}, 10, 0, false},
		{"限价卖-市价高于限价", Order{Type: OrderTypeLimit, Side: SideSell, Price: 9.5}, 10, 10, true},
		{"限价卖-市价低于限价不成交", Order{Type: OrderTypeLimit, Side: SideSell, Price: 10.5}, 10, 0, false},
		{"止损卖-跌破触发", Order{Type: OrderTypeStopLoss, Side: SideSell, StopPrice: 10.2}, 10, 10, true},
		{"止损卖-未触发", Order{Type: OrderTypeStopLoss, Side: SideSell, StopPrice: 9.8}, 10, 0, false},
		{"止损买-无规则不成交", Order{Type: OrderTypeStopLoss, Side: SideBuy, StopPrice: 10.2}, 10, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price, ok := fillPriceFor(&tc.order, tc.market)
			assert.Equal(t, tc.wantFill, ok)
			if ok {
				assert.Equal(t, tc.wantPrice, price)
			}
		})
	}
}

func TestVWAPAverageCost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableSlippage = false
	cfg.EnableCommission = false
	e := New(cfg)

	e.executeOrder(e.PlaceOrder("600519", SideBuy, 100, OrderTypeMarket, 0, 0), 10)
	e.executeOrder(e.PlaceOrder("600519", SideBuy, 100, OrderTypeMarket, 0, 0), 12)

	pos := e.positions["600519"]
	require.NotNil(t, pos)
	assert.Equal(t, 200.0, pos.Quantity)
	assert.InDelta(t, 11.0, pos.AvgCost, 1e-9)

	// 卖到零后持仓移除
	e.executeOrder(e.PlaceOrder("600519", SideSell, 200, OrderTypeMarket, 0, 0), 12)
	_, ok := e.positions["600519"]
	assert.False(t, ok)
}

func TestRunValidatesSeries(t *testing.T) {
	e := New(DefaultConfig())
	_, err := e.Run(nil, holdStrategy, nil)
	assert.Error(t, err)

	bad := market.Series{{CloseTime: 1, Open: 1, High: 1, Low: 1}}
	_, err = e.Run(bad, holdStrategy, nil)
	assert.Error(t, err)

	_, err = e.Run(testSeries("600519", []float64{10, 11}, 1e6), nil, nil)
	assert.Error(t, err)
}

func TestZeroTradeRun(t *testing.T) {
	e := New(DefaultConfig())
	result, err := e.Run(testSeries("600519", []float64{10, 11, 12, 11, 10}, 1e6), holdStrategy, nil)
	require.NoError(t, err)

	assert.Zero(t, result.TotalTrades)
	assert.Zero(t, result.WinRate)
	assert.Equal(t, result.InitialCapital, result.FinalCapital)
	assert.Len(t, result.EquityCurve, 5)
}

// 账本一致性：每个记录点上组合价值都等于现金加持仓市值。
func TestLedgerConsistency(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg)
	series := testSeries("600519", []float64{100, 102, 98, 105, 103}, 1e6)

	fn := func(data market.Series, ctx Context, _ map[string]any) []Intent {
		if len(data) == 1 {
			return []Intent{Buy("600519", 500)}
		}
		if len(data) == 4 {
			return []Intent{Sell("600519", 500)}
		}
		return nil
	}
	result, err := e.Run(series, fn, nil)
	require.NoError(t, err)

	total := 0.0
	for _, pos := range e.positions {
		total += pos.MarketValue
	}
	assert.InDelta(t, e.Cash()+total, e.PortfolioValue(), 1e-9)
	assert.InDelta(t, e.PortfolioValue(), result.EquityCurve[len(result.EquityCurve)-1].Value, 1e-9)
}

// 确定性：同一数据与策略重复运行，成交流水与资金曲线必须完全一致。
func TestDeterministicRuns(t *testing.T) {
	series := testSeries("600519", []float64{100, 103, 99, 104, 101, 107}, 1e6)
	strat := func(data market.Series, ctx Context, _ map[string]any) []Intent {
		if len(data)%2 == 1 {
			return []Intent{Buy("600519", 100)}
		}
		return []Intent{Sell("600519", 100)}
	}

	r1, err := New(DefaultConfig()).Run(series, strat, nil)
	require.NoError(t, err)
	r2, err := New(DefaultConfig()).Run(series, strat, nil)
	require.NoError(t, err)

	assert.Equal(t, r1.Trades, r2.Trades)
	assert.Equal(t, r1.EquityCurve, r2.EquityCurve)
}

func TestContextIsSnapshot(t *testing.T) {
	e := New(DefaultConfig())
	series := testSeries("600519", []float64{100, 101, 102}, 1e6)

	fn := func(data market.Series, ctx Context, _ map[string]any) []Intent {
		// 回调篡改快照不应影响引擎
		ctx.Cash = -1
		for s := range ctx.Positions {
			p := ctx.Positions[s]
			p.Quantity = -999
			ctx.Positions[s] = p
		}
		if len(data) == 1 {
			return []Intent{Buy("600519", 100)}
		}
		return nil
	}
	_, err := e.Run(series, fn, nil)
	require.NoError(t, err)
	assert.Greater(t, e.Cash(), 0.0)
	assert.Equal(t, 100.0, e.positions["600519"].Quantity)
}

func TestRunResetsBetweenRuns(t *testing.T) {
	e := New(DefaultConfig())
	series := testSeries("600519", []float64{100, 101}, 1e6)

	_, err := e.Run(series, buyOnceStrategy("600519", 100), nil)
	require.NoError(t, err)
	require.Len(t, e.Trades(), 1)

	result, err := e.Run(series, holdStrategy, nil)
	require.NoError(t, err)
	assert.Zero(t, result.TotalTrades)
	assert.Empty(t, e.Trades())
	assert.Equal(t, e.cfg.InitialCapital, result.InitialCapital)
}
