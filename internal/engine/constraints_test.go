package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backsim/internal/market"
)

func constraintSeries(closes []float64, volume float64) market.Series {
	return testSeries("600519", closes, volume)
}

// 停牌区间内不允许产生任何成交，该 K 线以跳过记录的形式可被检查。
func TestHaltEnforcement(t *testing.T) {
	constraints := DefaultConstraints()
	constraints.EnableLiquidityCheck = false
	c := NewConstraintEngine(DefaultConfig(), constraints)

	series := constraintSeries([]float64{100, 101, 102, 103, 104}, 1e6)
	haltStart := series[1].Time().Add(-time.Hour)
	haltEnd := series[2].Time().Add(time.Hour)
	c.SetHaltWindow("600519", haltStart, haltEnd)

	buyEveryBar := func(data market.Series, ctx Context, _ map[string]any) []Intent {
		return []Intent{Buy("600519", 100)}
	}
	result, err := c.Run("600519", series, buyEveryBar, nil)
	require.NoError(t, err)

	for _, trade := range result.Trades {
		ts := trade.Timestamp
		assert.False(t, !ts.Before(haltStart) && !ts.After(haltEnd),
			"停牌区间内不应有成交: %s", ts)
	}
	require.Len(t, c.Skips(), 2)
	assert.Equal(t, StatusHalted, c.Skips()[0].Status)
	// 停牌 K 线仍然记录资金曲线
	assert.Len(t, result.EquityCurve, len(series))
}

// 流动性不足必须直接拒单，而不是排队或部分成交。
func TestLiquidityRejection(t *testing.T) {
	constraints := DefaultConstraints()
	constraints.MaxVolumePct = 0.10
	c := NewConstraintEngine(DefaultConfig(), constraints)

	series := constraintSeries([]float64{100, 101}, 1000)
	fn := func(data market.Series, ctx Context, _ map[string]any) []Intent {
		if len(data) == 1 {
			return []Intent{Buy("600519", 200)} // 200 > 1000×10%
		}
		return nil
	}
	result, err := c.Run("600519", series, fn, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.Empty(t, c.PendingOrders())
	require.Len(t, c.Orders(), 1)
	assert.Equal(t, OrderStatusRejected, c.Orders()[0].Status)
	assert.Contains(t, c.Orders()[0].Note, "流动性不足")
}

// 零成交量 K 线视为流动性不足：启用流动性检查时任何数量都拒单。
func TestLiquidityRejectsZeroVolumeBar(t *testing.T) {
	constraints := DefaultConstraints()
	constraints.MaxVolumePct = 0.10
	c := NewConstraintEngine(DefaultConfig(), constraints)

	series := constraintSeries([]float64{100, 101}, 0)
	fn := func(data market.Series, ctx Context, _ map[string]any) []Intent {
		if len(data) == 1 {
			return []Intent{Buy("600519", 100)}
		}
		return nil
	}
	result, err := c.Run("600519", series, fn, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.Empty(t, c.PendingOrders())
	require.Len(t, c.Orders(), 1)
	assert.Equal(t, OrderStatusRejected, c.Orders()[0].Status)
	assert.Contains(t, c.Orders()[0].Note, "流动性不足")
}

// 规格场景：+12% 触发涨停，当日买单排队，价格回归后在后续 K 线成交。
func TestLimitUpDefersBuy(t *testing.T) {
	constraints := DefaultConstraints()
	constraints.PriceLimitPct = 0.10
	constraints.EnableLiquidityCheck = false
	c := NewConstraintEngine(DefaultConfig(), constraints)

	series := constraintSeries([]float64{100, 112, 113, 114}, 1e6)
	fn := func(data market.Series, ctx Context, _ map[string]any) []Intent {
		if len(data) == 2 {
			return []Intent{Buy("600519", 100)}
		}
		return nil
	}
	result, err := c.Run("600519", series, fn, nil)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	// 成交发生在涨停之后的 K 线
	assert.Equal(t, series[2].Time(), result.Trades[0].Timestamp)
	assert.Empty(t, c.PendingOrders())
}

func TestLimitDownDefersSell(t *testing.T) {
	cfg := DefaultConfig()
	constraints := DefaultConstraints()
	constraints.EnableLiquidityCheck = false
	c := NewConstraintEngine(cfg, constraints)

	series := constraintSeries([]float64{100, 101, 89, 90}, 1e6)
	fn := func(data market.Series, ctx Context, _ map[string]any) []Intent {
		switch len(data) {
		case 1:
			return []Intent{Buy("600519", 100)}
		case 3:
			return []Intent{Sell("600519", 100)} // -11.9%，跌停
		}
		return nil
	}
	result, err := c.Run("600519", series, fn, nil)
	require.NoError(t, err)

	require.Len(t, result.Trades, 2)
	sell := result.Trades[1]
	assert.Equal(t, SideSell, sell.Side)
	assert.Equal(t, series[3].Time(), sell.Timestamp)
}

func TestMarketStatusTransitions(t *testing.T) {
	constraints := DefaultConstraints()
	c := NewConstraintEngine(DefaultConfig(), constraints)

	prev := market.Candle{Close: 100, CloseTime: 1}
	up := market.Candle{Close: 112, CloseTime: 2, Volume: 1e6}
	c.updateMarketStatus("600519", up, &prev)
	assert.Equal(t, StatusLimitUp, c.Status("600519"))

	down := market.Candle{Close: 88, CloseTime: 3, Volume: 1e6}
	prev2 := market.Candle{Close: 100, CloseTime: 2}
	c.updateMarketStatus("600519", down, &prev2)
	assert.Equal(t, StatusLimitDown, c.Status("600519"))

	normal := market.Candle{Close: 101, CloseTime: 4, Volume: 1e6}
	c.updateMarketStatus("600519", normal, &prev2)
	assert.Equal(t, StatusNormal, c.Status("600519"))

	assert.Equal(t, StatusNormal, c.Status("000001"))
}

// ST 等特别处理标的使用更窄的涨跌停档位。
func TestSpecialSymbolUsesNarrowLimit(t *testing.T) {
	constraints := DefaultConstraints()
	constraints.SpecialSymbols = map[string]bool{"ST0001": true}
	c := NewConstraintEngine(DefaultConfig(), constraints)

	prev := market.Candle{Close: 100, CloseTime: 1}
	bar := market.Candle{Close: 106, CloseTime: 2, Volume: 1e6}

	c.updateMarketStatus("ST0001", bar, &prev)
	assert.Equal(t, StatusLimitUp, c.Status("ST0001"))

	// 同样 +6% 的普通标的仍是 normal
	c.updateMarketStatus("600519", bar, &prev)
	assert.Equal(t, StatusNormal, c.Status("600519"))
}

// 价格被裁剪进涨跌停区间后再进入成本模型。
func TestPriceClampedToBand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableSlippage = false
	cfg.EnableCommission = false
	constraints := DefaultConstraints()
	constraints.EnableLiquidityCheck = false
	c := NewConstraintEngine(cfg, constraints)

	series := constraintSeries([]float64{100, 105, 116}, 1e6)
	fn := func(data market.Series, ctx Context, _ map[string]any) []Intent {
		if len(data) == 3 {
			// +10.4% 已涨停；此处用卖出验证价格裁剪（持仓来自首根买入）
			return []Intent{Sell("600519", 100)}
		}
		if len(data) == 1 {
			return []Intent{Buy("600519", 100)}
		}
		return nil
	}
	result, err := c.Run("600519", series, fn, nil)
	require.NoError(t, err)

	require.Len(t, result.Trades, 2)
	sell := result.Trades[1]
	// 前收 105，上限 115.5，116 被裁剪到 115.5
	assert.InDelta(t, 115.5, sell.Price, 1e-9)
}

func TestHaltWindowContains(t *testing.T) {
	w := HaltWindow{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	assert.True(t, w.Contains(time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC)))
	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(w.End))
	assert.False(t, w.Contains(time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)))
}
