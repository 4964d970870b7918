package engine

import (
	"encoding/json"
	"math"
	"time"
)

// tradingDaysPerYear 为年化因子，沿用 A 股/美股惯例的 252 个交易日。
const tradingDaysPerYear = 252

// BacktestResult 汇总一次回测的收益、风险与交易统计。
type BacktestResult struct {
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	TradingDays int    `json:"trading_days"`

	InitialCapital float64 `json:"initial_capital"`
	FinalCapital   float64 `json:"final_capital"`
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`

	AnnualizedReturn  float64   `json:"annualized_return"`
	DailyReturns      []float64 `json:"daily_returns"`
	CumulativeReturns []float64 `json:"cumulative_returns"`

	Volatility          float64 `json:"volatility"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	CalmarRatio         float64 `json:"calmar_ratio"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	ProfitFactor  Ratio   `json:"profit_factor"`

	TotalCommission float64 `json:"total_commission"`
	TotalSlippage   float64 `json:"total_slippage"`
	TotalStampDuty  float64 `json:"total_stamp_duty"`

	EquityCurve []EquityPoint `json:"equity_curve"`
	Trades      []Trade       `json:"trades"`
}

// Ratio 是可 JSON 序列化的比率。标准库拒绝 ±Inf，
// 无亏损时的盈亏比编码为 null，反解析时还原为 +Inf。
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Ratio(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// buildResult 在最后一根 K 线之后把资金曲线与成交流水折算为指标。
func (e *Engine) buildResult(start, end time.Time) *BacktestResult {
	dailyReturns := dailyReturnsOf(e.equityCurve)
	cumulative := cumulativeOf(dailyReturns)

	totalReturn := e.portfolioValue - e.cfg.InitialCapital
	totalReturnPct := totalReturn / e.cfg.InitialCapital

	tradingDays := len(e.equityCurve)
	years := float64(tradingDays) / tradingDaysPerYear
	annualized := 0.0
	if years > 0 {
		annualized = math.Pow(1+totalReturnPct, 1/years) - 1
	}

	volatility := stddev(dailyReturns) * math.Sqrt(tradingDaysPerYear)
	excess := annualized - e.cfg.BenchmarkRate
	sharpe := 0.0
	if volatility > 0 {
		sharpe = excess / volatility
	}

	var downside []float64
	for _, r := range dailyReturns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	downsideStd := stddev(downside) * math.Sqrt(tradingDaysPerYear)
	sortino := 0.0
	if downsideStd > 0 {
		sortino = excess / downsideStd
	}

	maxDD, maxDDDuration := maxDrawdownOf(e.equityCurve)
	calmar := 0.0
	if maxDD > 0 {
		calmar = annualized / maxDD
	}

	stats := pairTrades(e.trades)

	return &BacktestResult{
		StartDate:           start.Format("2006-01-02"),
		EndDate:             end.Format("2006-01-02"),
		TradingDays:         tradingDays,
		InitialCapital:      e.cfg.InitialCapital,
		FinalCapital:        e.portfolioValue,
		TotalReturn:         totalReturn,
		TotalReturnPct:      totalReturnPct,
		AnnualizedReturn:    annualized,
		DailyReturns:        dailyReturns,
		CumulativeReturns:   cumulative,
		Volatility:          volatility,
		SharpeRatio:         sharpe,
		SortinoRatio:        sortino,
		CalmarRatio:         calmar,
		MaxDrawdown:         maxDD,
		MaxDrawdownDuration: maxDDDuration,
		TotalTrades:         stats.total,
		WinningTrades:       stats.wins,
		LosingTrades:        stats.losses,
		WinRate:             stats.winRate,
		AvgWin:              stats.avgWin,
		AvgLoss:             stats.avgLoss,
		ProfitFactor:        Ratio(stats.profitFactor),
		TotalCommission:     e.totalCommission,
		TotalSlippage:       e.totalSlippage,
		TotalStampDuty:      e.totalStampDuty,
		EquityCurve:         append([]EquityPoint(nil), e.equityCurve...),
		Trades:              append([]Trade(nil), e.trades...),
	}
}

// dailyReturnsOf 计算逐 K 线收益率，首个点记 0。
func dailyReturnsOf(curve []EquityPoint) []float64 {
	if len(curve) == 0 {
		return nil
	}
	out := make([]float64, len(curve))
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value
		if prev > 0 {
			out[i] = curve[i].Value/prev - 1
		}
	}
	return out
}

// cumulativeOf 复利累积收益率。
func cumulativeOf(returns []float64) []float64 {
	out := make([]float64, len(returns))
	acc := 1.0
	for i, r := range returns {
		acc *= 1 + r
		out[i] = acc - 1
	}
	return out
}

// stddev 样本标准差（ddof=1）；样本数不足 2 时返回 0。
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// maxDrawdownOf 返回最大回撤（正数分数）以及资金曲线低于历史峰值的最长连续 K 线数。
func maxDrawdownOf(curve []EquityPoint) (float64, int) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Value
	maxDD := 0.0
	maxRun, run := 0, 0
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			dd := (peak - p.Value) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
		if p.Value < peak {
			run++
			if run > maxRun {
				maxRun = run
			}
		} else {
			run = 0
		}
	}
	return maxDD, maxRun
}

type tradeStats struct {
	total        int
	wins         int
	losses       int
	winRate      float64
	avgWin       float64
	avgLoss      float64
	profitFactor float64
}

// pairTrades 按标的把买卖配对为已实现盈亏：
// 每笔卖出出队该标的最早一笔未配对买入，按两者数量较小值计算盈亏。
// 与上游口径一致，每笔买入最多配对一次，不做跨笔的数量加权拆分。
func pairTrades(trades []Trade) tradeStats {
	if len(trades) == 0 {
		return tradeStats{}
	}
	buys := make(map[string][]Trade)
	var wins, losses []float64
	paired := 0
	for _, t := range trades {
		if t.Side == SideBuy {
			buys[t.Symbol] = append(buys[t.Symbol], t)
			continue
		}
		queue := buys[t.Symbol]
		if len(queue) == 0 {
			continue
		}
		buy := queue[0]
		buys[t.Symbol] = queue[1:]
		paired++
		pnl := (t.Price - buy.Price) * min(buy.Quantity, t.Quantity)
		if pnl > 0 {
			wins = append(wins, pnl)
		} else if pnl < 0 {
			losses = append(losses, -pnl)
		}
	}

	stats := tradeStats{
		total:  len(wins) + len(losses),
		wins:   len(wins),
		losses: len(losses),
	}
	if stats.total > 0 {
		stats.winRate = float64(stats.wins) / float64(stats.total)
	}
	totalWin, totalLoss := 0.0, 0.0
	for _, w := range wins {
		totalWin += w
	}
	for _, l := range losses {
		totalLoss += l
	}
	if stats.wins > 0 {
		stats.avgWin = totalWin / float64(stats.wins)
	}
	if stats.losses > 0 {
		stats.avgLoss = totalLoss / float64(stats.losses)
	}
	// 有配对且无亏损时盈亏比记为 +Inf，全部打平也按此口径
	switch {
	case totalLoss > 0:
		stats.profitFactor = totalWin / totalLoss
	case paired > 0:
		stats.profitFactor = math.Inf(1)
	}
	return stats
}
