package engine

import (
	"math"

	"github.com/shopspring/decimal"
)

// 成本模型：滑点、佣金、印花税均以成交价为基准计算。

// slippageFor 返回带符号的单价滑点：买单为正（价格上浮），卖单为负。
// 大单滑点按 1+ln(1+qty/100) 放大。
func slippageFor(cfg BacktestConfig, side Side, price, quantity float64) float64 {
	if !cfg.EnableSlippage {
		return 0
	}
	base := price * cfg.SlippageRate
	volumeFactor := 1 + math.Log1p(quantity/100)
	slippage := base * volumeFactor
	if side == SideBuy {
		return slippage
	}
	return -slippage
}

// commissionFor 返回佣金，带最低佣金下限。
func commissionFor(cfg BacktestConfig, price, quantity float64) float64 {
	if !cfg.EnableCommission {
		return 0
	}
	commission := price * quantity * cfg.CommissionRate
	return math.Max(commission, cfg.MinCommission)
}

// stampDutyFor 返回印花税，仅对卖出征收。
func stampDutyFor(cfg BacktestConfig, side Side, price, quantity float64) float64 {
	if !cfg.EnableStampDuty || side != SideSell {
		return 0
	}
	return price * quantity * cfg.StampDutyRate
}

// roundToLot 将数量向最近的整手取整。
func roundToLot(quantity float64, lotSize int) float64 {
	if lotSize <= 0 {
		return math.Floor(quantity)
	}
	lot := float64(lotSize)
	return math.Round(quantity/lot) * lot
}

// roundToTick 将价格对齐到最小变动单位，用 decimal 规避二进制误差。
func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	steps := p.Div(t).Round(0)
	out, _ := steps.Mul(t).Float64()
	return out
}

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }
