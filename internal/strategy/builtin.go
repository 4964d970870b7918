package strategy

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"backsim/internal/engine"
	"backsim/internal/market"
)

// BuyHold 在首根 K 线用尽可能多的现金建仓后持有到结束。
// 参数：quantity（>0 时直接使用该数量）。
func BuyHold(symbol string, params map[string]any) engine.StrategyFunc {
	fixedQty := floatParam(params, "quantity", 0)
	return func(data market.Series, ctx engine.Context, _ map[string]any) []engine.Intent {
		if len(data) != 1 || heldQuantity(ctx, symbol) > 0 {
			return nil
		}
		qty := fixedQty
		if qty <= 0 {
			price := data[len(data)-1].Close
			if price <= 0 {
				return nil
			}
			// 留出成本缓冲，避免满仓买入因佣金滑点被拒
			qty = math.Floor(ctx.Cash * 0.98 / price)
		}
		if qty <= 0 {
			return nil
		}
		return []engine.Intent{engine.Buy(symbol, qty)}
	}
}

// SMACross 双均线策略：快线上穿慢线买入，下穿卖出全部持仓。
// 参数：fast（默认 5）、slow（默认 20）、quantity（默认 100）。
func SMACross(symbol string, params map[string]any) engine.StrategyFunc {
	fast := intParam(params, "fast", 5)
	slow := intParam(params, "slow", 20)
	qty := floatParam(params, "quantity", 100)
	return func(data market.Series, ctx engine.Context, _ map[string]any) []engine.Intent {
		if len(data) <= slow {
			return nil
		}
		closes := data.Closes()
		fastLine := talib.Sma(closes, fast)
		slowLine := talib.Sma(closes, slow)
		i := len(closes) - 1

		crossedUp := fastLine[i] > slowLine[i] && fastLine[i-1] <= slowLine[i-1]
		crossedDown := fastLine[i] < slowLine[i] && fastLine[i-1] >= slowLine[i-1]

		held := heldQuantity(ctx, symbol)
		switch {
		case crossedUp && held == 0:
			return []engine.Intent{engine.Buy(symbol, qty)}
		case crossedDown && held > 0:
			return []engine.Intent{engine.Sell(symbol, held)}
		}
		return nil
	}
}

// RSIReversion 超卖买入、超买卖出的均值回归策略。
// 参数：period（默认 14）、oversold（默认 30）、overbought（默认 70）、quantity（默认 100）。
func RSIReversion(symbol string, params map[string]any) engine.StrategyFunc {
	period := intParam(params, "period", 14)
	oversold := floatParam(params, "oversold", 30)
	overbought := floatParam(params, "overbought", 70)
	qty := floatParam(params, "quantity", 100)
	return func(data market.Series, ctx engine.Context, _ map[string]any) []engine.Intent {
		if len(data) <= period {
			return nil
		}
		rsi := talib.Rsi(data.Closes(), period)
		latest := rsi[len(rsi)-1]

		held := heldQuantity(ctx, symbol)
		switch {
		case latest < oversold && held == 0:
			return []engine.Intent{engine.Buy(symbol, qty)}
		case latest > overbought && held > 0:
			return []engine.Intent{engine.Sell(symbol, held)}
		}
		return nil
	}
}
