package engine

import (
	"fmt"
	"time"

	"backsim/internal/logger"
	"backsim/internal/market"
)

// MarketStatus 表示单个标的在某根 K 线上的交易状态。
type MarketStatus string

const (
	StatusNormal    MarketStatus = "normal"
	StatusHalted    MarketStatus = "halted"
	StatusLimitUp   MarketStatus = "limit_up"
	StatusLimitDown MarketStatus = "limit_down"
	// 以下两个状态仅作保留位，当前没有任何迁移逻辑会产生它们。
	StatusPreOpen MarketStatus = "pre_open"
	StatusClosed  MarketStatus = "closed"
)

// HaltWindow 是一段停牌区间（含端点）。
type HaltWindow struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Contains 判断时间点是否落在停牌区间内。
func (w HaltWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// MarketConstraints 描述市场约束：涨跌停、停牌、流动性与交易时段。
type MarketConstraints struct {
	EnablePriceLimit bool    `toml:"enable_price_limit" json:"enable_price_limit"`
	PriceLimitPct    float64 `toml:"price_limit_pct" json:"price_limit_pct"` // A股 10%
	// ST 等特别处理标的使用更窄的涨跌停幅度
	SpecialPriceLimitPct float64         `toml:"special_price_limit_pct" json:"special_price_limit_pct"`
	SpecialSymbols       map[string]bool `toml:"-" json:"special_symbols,omitempty"`

	EnableHaltCheck bool                    `toml:"enable_halt_check" json:"enable_halt_check"`
	HaltWindows     map[string][]HaltWindow `toml:"-" json:"halt_windows,omitempty"`

	EnableLiquidityCheck bool    `toml:"enable_liquidity_check" json:"enable_liquidity_check"`
	MaxVolumePct         float64 `toml:"max_volume_pct" json:"max_volume_pct"` // 单笔最大成交量占比
	MinVolume            float64 `toml:"min_volume" json:"min_volume"`

	TradingHours [][2]string `toml:"-" json:"trading_hours,omitempty"`
	TickSize     float64     `toml:"tick_size" json:"tick_size"`
}

// DefaultConstraints 返回 A 股风格的默认市场约束。
func DefaultConstraints() MarketConstraints {
	return MarketConstraints{
		EnablePriceLimit:     true,
		PriceLimitPct:        0.10,
		SpecialPriceLimitPct: 0.05,
		EnableHaltCheck:      true,
		HaltWindows:          make(map[string][]HaltWindow),
		EnableLiquidityCheck: true,
		MaxVolumePct:         0.10,
		MinVolume:            100,
		TradingHours:         [][2]string{{"09:30", "11:30"}, {"13:00", "15:00"}},
		TickSize:             0.01,
	}
}

// limitPctFor 返回标的适用的涨跌停幅度，特别处理标的用更窄档。
func (c MarketConstraints) limitPctFor(symbol string) float64 {
	if c.SpecialSymbols[symbol] && c.SpecialPriceLimitPct > 0 {
		return c.SpecialPriceLimitPct
	}
	return c.PriceLimitPct
}

// haltedAt 判断标的在给定时间是否处于配置的停牌区间。
func (c MarketConstraints) haltedAt(symbol string, t time.Time) bool {
	for _, w := range c.HaltWindows[symbol] {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// priceBand 是一根 K 线适用的可成交价格区间。
type priceBand struct {
	lower float64
	upper float64
}

// BarSkip 记录一次因市场状态未尝试执行的 K 线，可供测试与事后检查直接断言。
type BarSkip struct {
	TS     int64        `json:"ts"`
	Symbol string       `json:"symbol"`
	Status MarketStatus `json:"status"`
}

// 待执行订单的处置结论。
type disposition int

const (
	dispExecuted disposition = iota
	dispDeferred
	dispRejected
)

// ConstraintEngine 在基础引擎之上叠加停牌/涨跌停/流动性约束。
// 被涨跌停挡下的订单进入待执行队列，后续每根 K 线自动重试。
type ConstraintEngine struct {
	*Engine
	constraints MarketConstraints

	status  map[string]MarketStatus
	limits  map[string]priceBand
	pending []*Order
	skips   []BarSkip
}

// NewConstraintEngine 创建事件驱动引擎。
func NewConstraintEngine(cfg BacktestConfig, constraints MarketConstraints) *ConstraintEngine {
	c := &ConstraintEngine{
		Engine:      New(cfg),
		constraints: constraints,
	}
	c.resetConstraintState()
	logger.Infof("事件驱动回测引擎初始化完成")
	return c
}

func (c *ConstraintEngine) resetConstraintState() {
	c.status = make(map[string]MarketStatus)
	c.limits = make(map[string]priceBand)
	c.pending = nil
	c.skips = nil
}

// Status 返回标的当前市场状态，未知标的视为 normal。
func (c *ConstraintEngine) Status(symbol string) MarketStatus {
	if s, ok := c.status[symbol]; ok {
		return s
	}
	return StatusNormal
}

// PendingOrders 返回仍在等待执行的订单。
func (c *ConstraintEngine) PendingOrders() []*Order { return c.pending }

// Skips 返回因停牌等原因整根跳过的 K 线记录。
func (c *ConstraintEngine) Skips() []BarSkip { return c.skips }

// SetHaltWindow 追加一段停牌区间。
func (c *ConstraintEngine) SetHaltWindow(symbol string, start, end time.Time) {
	if c.constraints.HaltWindows == nil {
		c.constraints.HaltWindows = make(map[string][]HaltWindow)
	}
	c.constraints.HaltWindows[symbol] = append(c.constraints.HaltWindows[symbol], HaltWindow{Start: start, End: end})
	logger.Infof("设置停牌: %s 从 %s 至 %s", symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// Run 执行事件驱动回测。停牌 K 线不调用策略，
// 意图在停牌日直接消失而非排队，这一点与涨跌停的排队行为刻意不同。
func (c *ConstraintEngine) Run(symbol string, data market.Series, fn StrategyFunc, params map[string]any) (*BacktestResult, error) {
	if fn == nil {
		return nil, fmt.Errorf("策略回调不能为空")
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("数据验证失败: %w", err)
	}
	data = data.SortByTime()
	c.Engine.Reset()
	c.resetConstraintState()

	logger.Infof("开始事件驱动回测 (停牌/涨跌停/流动性约束) | %s | 数据 %d 条", symbol, len(data))

	var prev *market.Candle
	for i := range data {
		bar := data[i]
		c.now = bar.Time()
		c.updateMarketStatus(symbol, bar, prev)
		c.markToMarket(bar.Close)

		if c.Status(symbol) == StatusHalted {
			c.skips = append(c.skips, BarSkip{TS: bar.CloseTime, Symbol: symbol, Status: StatusHalted})
			logger.Debugf("%s %s 停牌，跳过", bar.Time().Format("2006-01-02"), symbol)
			c.recordEquity(bar.CloseTime)
			prev = &data[i]
			continue
		}

		c.tryExecutePending(bar)

		intents := fn(data[:i+1], c.snapshot(), params)
		c.processConstrainedIntents(symbol, intents, bar)

		c.recordEquity(bar.CloseTime)
		prev = &data[i]
	}

	result := c.buildResult(data[0].Time(), data[len(data)-1].Time())
	logger.Infof("事件驱动回测完成 | 总收益率 %.2f%% | 被拒订单 %d | 未完成订单 %d",
		result.TotalReturnPct*100, c.rejectedCount(), len(c.pending))
	return result, nil
}

// updateMarketStatus 先判涨跌停，再判停牌；停牌优先并直接短路。
func (c *ConstraintEngine) updateMarketStatus(symbol string, bar market.Candle, prev *market.Candle) {
	if prev != nil && c.constraints.EnablePriceLimit && prev.Close > 0 {
		limitPct := c.constraints.limitPctFor(symbol)
		changePct := (bar.Close - prev.Close) / prev.Close
		tick := c.constraints.TickSize
		c.limits[symbol] = priceBand{
			lower: roundToTick(prev.Close*(1-limitPct), tick),
			upper: roundToTick(prev.Close*(1+limitPct), tick),
		}
		switch {
		case decimalGTE(changePct, limitPct):
			c.status[symbol] = StatusLimitUp
			logger.Debugf("%s %s 涨停 @ %.2f", bar.Time().Format("2006-01-02"), symbol, bar.Close)
		case decimalLTE(changePct, -limitPct):
			c.status[symbol] = StatusLimitDown
			logger.Debugf("%s %s 跌停 @ %.2f", bar.Time().Format("2006-01-02"), symbol, bar.Close)
		default:
			c.status[symbol] = StatusNormal
		}
	}

	if c.constraints.EnableHaltCheck && c.constraints.haltedAt(symbol, bar.Time()) {
		c.status[symbol] = StatusHalted
		return
	}

	if c.constraints.EnableLiquidityCheck && bar.Volume < c.constraints.MinVolume {
		logger.Warnf("%s %s 成交量过低: %.0f", bar.Time().Format("2006-01-02"), symbol, bar.Volume)
	}
}

// processConstrainedIntents 将意图转为订单并按约束尝试执行，被挡下的进入待执行队列。
func (c *ConstraintEngine) processConstrainedIntents(runSymbol string, intents []Intent, bar market.Candle) {
	for _, intent := range intents {
		if intent.Action == ActionHold || intent.Quantity <= 0 {
			continue
		}
		symbol := intent.Symbol
		if symbol == "" {
			symbol = runSymbol
		}
		var side Side
		switch intent.Action {
		case ActionBuy:
			side = SideBuy
		case ActionSell:
			side = SideSell
		default:
			continue
		}
		order := c.PlaceOrder(symbol, side, intent.Quantity, OrderTypeMarket, 0, 0)
		if order == nil {
			continue
		}
		if c.tryExecute(order, bar) == dispDeferred {
			c.pending = append(c.pending, order)
			logger.Debugf("订单加入待执行队列: %s %s x%.0f", order.Side, order.Symbol, order.Quantity)
		}
	}
}

// tryExecute 按约束顺序评估一笔 pending 订单：
// 停牌/涨跌停 → 延后；流动性不足 → 拒绝；否则裁剪价格后走基础成本模型。
func (c *ConstraintEngine) tryExecute(order *Order, bar market.Candle) disposition {
	status := c.Status(order.Symbol)

	if status == StatusHalted {
		order.Note = "停牌，无法交易"
		logger.Debugf("订单延迟: %s (%s)", order.Note, order.ID)
		return dispDeferred
	}
	if order.Side == SideBuy && status == StatusLimitUp {
		order.Note = "涨停板，买入困难"
		logger.Debugf("订单延迟: %s (%s)", order.Note, order.ID)
		return dispDeferred
	}
	if order.Side == SideSell && status == StatusLimitDown {
		order.Note = "跌停板，卖出困难"
		logger.Debugf("订单延迟: %s (%s)", order.Note, order.ID)
		return dispDeferred
	}

	if c.constraints.EnableLiquidityCheck {
		// 零成交量按流动性不足处理
		if bar.Volume <= 0 || order.Quantity/bar.Volume > c.constraints.MaxVolumePct {
			order.Note = fmt.Sprintf("流动性不足: %.0f 超过成交量 %.0f 的 %.0f%%",
				order.Quantity, bar.Volume, c.constraints.MaxVolumePct*100)
			_ = order.transition(OrderStatusRejected)
			logger.Warnf("订单拒绝: %s (%s)", order.Note, order.ID)
			return dispRejected
		}
	}

	marketPrice := bar.Close
	if c.constraints.EnablePriceLimit {
		if band, ok := c.limits[order.Symbol]; ok {
			if decimalLTE(marketPrice, band.lower) {
				marketPrice = band.lower
				logger.Debugf("价格触及下限: %.2f", marketPrice)
			} else if decimalGTE(marketPrice, band.upper) {
				marketPrice = band.upper
				logger.Debugf("价格触及上限: %.2f", marketPrice)
			}
		}
	}

	if c.executeOrder(order, marketPrice) != nil {
		return dispExecuted
	}
	if order.Status.Terminal() {
		return dispRejected
	}
	return dispDeferred
}

// tryExecutePending 每根 K 线开始时重试队列中的订单，终态订单出队。
func (c *ConstraintEngine) tryExecutePending(bar market.Candle) {
	if len(c.pending) == 0 {
		return
	}
	var remaining []*Order
	executed := 0
	for _, order := range c.pending {
		if order.Status.Terminal() {
			continue
		}
		switch c.tryExecute(order, bar) {
		case dispDeferred:
			remaining = append(remaining, order)
		case dispExecuted:
			executed++
		}
	}
	c.pending = remaining
	if executed > 0 {
		logger.Debugf("待执行订单成交: %d 个", executed)
	}
}

func (c *ConstraintEngine) rejectedCount() int {
	n := 0
	for _, o := range c.orders {
		if o.Status == OrderStatusRejected {
			n++
		}
	}
	return n
}
