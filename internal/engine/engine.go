package engine

import (
	"fmt"
	"time"

	"backsim/internal/logger"
	"backsim/internal/market"
)

// EquityPoint 是资金曲线上的一个采样点（每根 K 线一个）。
type EquityPoint struct {
	TS    int64   `json:"ts"`
	Value float64 `json:"value"`
	Cash  float64 `json:"cash"`
}

// Engine 持有一次回测运行的全部可变状态。
// 单实例单线程使用；重新运行前会自动 Reset。
// 策略回调只能拿到快照，唯一的影响通道是返回的交易意图。
type Engine struct {
	cfg BacktestConfig

	cash           float64
	positions      map[string]*Position
	portfolioValue float64

	orders      []*Order
	trades      []Trade
	equityCurve []EquityPoint

	totalCommission float64
	totalSlippage   float64
	totalStampDuty  float64

	now      time.Time
	orderSeq int
	tradeSeq int
}

// New 创建 Engine。
func New(cfg BacktestConfig) *Engine {
	e := &Engine{cfg: cfg}
	e.Reset()
	logger.Infof("回测引擎初始化完成 | 初始资金: %.2f", cfg.InitialCapital)
	return e
}

// Reset 清空引擎状态，现金回到初始资金。
func (e *Engine) Reset() {
	e.cash = e.cfg.InitialCapital
	e.positions = make(map[string]*Position)
	e.portfolioValue = e.cfg.InitialCapital
	e.orders = nil
	e.trades = nil
	e.equityCurve = nil
	e.totalCommission = 0
	e.totalSlippage = 0
	e.totalStampDuty = 0
	e.now = time.Time{}
	e.orderSeq = 0
	e.tradeSeq = 0
}

// Config 返回本次运行的配置副本。
func (e *Engine) Config() BacktestConfig { return e.cfg }

// Cash 返回当前现金。
func (e *Engine) Cash() float64 { return e.cash }

// PortfolioValue 返回最近一次结算后的组合价值。
func (e *Engine) PortfolioValue() float64 { return e.portfolioValue }

// Orders 返回全部订单（含未成交与被拒绝的）。
func (e *Engine) Orders() []*Order { return e.orders }

// Trades 返回成交流水。
func (e *Engine) Trades() []Trade { return e.trades }

// EquityCurve 返回逐 K 线资金曲线。
func (e *Engine) EquityCurve() []EquityPoint { return e.equityCurve }

// Run 执行基础回测：校验并排序数据、重置状态、逐根 K 线驱动策略。
func (e *Engine) Run(data market.Series, fn StrategyFunc, params map[string]any) (*BacktestResult, error) {
	if fn == nil {
		return nil, fmt.Errorf("策略回调不能为空")
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("数据验证失败: %w", err)
	}
	data = data.SortByTime()
	e.Reset()

	logger.Infof("开始回测 | 区间 %s ~ %s | 数据 %d 条",
		data[0].Time().Format("2006-01-02"), data[len(data)-1].Time().Format("2006-01-02"), len(data))

	for i := range data {
		bar := data[i]
		e.now = bar.Time()
		e.markToMarket(bar.Close)

		intents := fn(data[:i+1], e.snapshot(), params)
		e.processIntents(intents, bar)

		e.recordEquity(bar.CloseTime)

		if (i+1)%50 == 0 {
			logger.Debugf("进度: %d/%d | 资金: %.2f | 收益率: %.2f%%",
				i+1, len(data), e.portfolioValue,
				(e.portfolioValue/e.cfg.InitialCapital-1)*100)
		}
	}

	result := e.buildResult(data[0].Time(), data[len(data)-1].Time())
	logger.Infof("回测完成 | 总收益率 %.2f%% | 最大回撤 %.2f%% | 交易 %d 笔",
		result.TotalReturnPct*100, result.MaxDrawdown*100, result.TotalTrades)
	return result, nil
}

// PlaceOrder 创建订单：数量先取整到交易单位，取整后 ≤0 则放弃并返回 nil。
func (e *Engine) PlaceOrder(symbol string, side Side, quantity float64, typ OrderType, price, stopPrice float64) *Order {
	quantity = roundToLot(quantity, e.cfg.LotSize)
	if quantity <= 0 {
		logger.Warnf("无效的数量: %.2f (%s %s)", quantity, side, symbol)
		return nil
	}
	e.orderSeq++
	order := &Order{
		ID:        fmt.Sprintf("ORD_%06d", e.orderSeq),
		CreatedAt: e.now,
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Quantity:  quantity,
		Price:     price,
		StopPrice: stopPrice,
		Status:    OrderStatusPending,
	}
	e.orders = append(e.orders, order)
	logger.Debugf("下单: %s %s x%.0f @ %s", side, symbol, quantity, typ)
	return order
}

// executeOrder 按市场价尝试成交一笔 pending 订单。
// 未满足成交条件时返回 nil 且订单保持 pending；资金不足时订单被拒绝。
func (e *Engine) executeOrder(order *Order, marketPrice float64) *Trade {
	if order == nil || order.Status != OrderStatusPending {
		return nil
	}
	fillPrice, ok := fillPriceFor(order, marketPrice)
	if !ok {
		return nil
	}

	slippage := slippageFor(e.cfg, order.Side, marketPrice, order.Quantity)
	execPrice := fillPrice + slippage
	commission := commissionFor(e.cfg, execPrice, order.Quantity)
	stampDuty := stampDutyFor(e.cfg, order.Side, execPrice, order.Quantity)

	var totalCost float64
	if order.Side == SideBuy {
		totalCost = execPrice*order.Quantity + commission + stampDuty
	} else {
		totalCost = execPrice*order.Quantity - commission - stampDuty
	}

	if order.Side == SideBuy && e.cash < totalCost {
		order.Note = fmt.Sprintf("资金不足: 需要 %.2f, 可用 %.2f", totalCost, e.cash)
		_ = order.transition(OrderStatusRejected)
		logger.Warnf("%s", order.Note)
		return nil
	}
	if order.Side == SideSell && !e.cfg.AllowShort {
		pos, okPos := e.positions[order.Symbol]
		if !okPos || pos.Quantity < order.Quantity {
			held := 0.0
			if okPos {
				held = pos.Quantity
			}
			order.Note = fmt.Sprintf("持仓不足: 卖出 %.0f, 持有 %.0f", order.Quantity, held)
			_ = order.transition(OrderStatusRejected)
			logger.Warnf("%s", order.Note)
			return nil
		}
	}

	e.tradeSeq++
	trade := Trade{
		ID:         fmt.Sprintf("TRD_%06d", e.tradeSeq),
		OrderID:    order.ID,
		Timestamp:  e.now,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      execPrice,
		Commission: commission,
		Slippage:   slippage * order.Quantity,
		TotalCost:  totalCost,
	}

	_ = order.transition(OrderStatusFilled)
	order.FilledQuantity = order.Quantity
	order.FilledPrice = execPrice
	order.Commission = commission
	order.Slippage = slippage * order.Quantity

	e.updateAccount(trade)
	e.trades = append(e.trades, trade)
	e.totalCommission += commission
	e.totalSlippage += slippage * order.Quantity
	e.totalStampDuty += stampDuty

	logger.Infof("成交: %s %s x%.0f @ %.4f | 佣金: %.2f | 滑点: %.2f",
		trade.Side, trade.Symbol, trade.Quantity, trade.Price, commission, trade.Slippage)
	return &e.trades[len(e.trades)-1]
}

// fillPriceFor 按订单类型决定成交价；不满足条件时本根 K 线不成交。
func fillPriceFor(order *Order, marketPrice float64) (float64, bool) {
	switch order.Type {
	case OrderTypeMarket:
		return marketPrice, true
	case OrderTypeLimit:
		if order.Side == SideBuy {
			// 买入限价单：市场价不高于限价才成交，按更优价
			if decimalLTE(marketPrice, order.Price) {
				return min(marketPrice, order.Price), true
			}
		} else {
			// 卖出限价单：市场价不低于限价才成交
			if decimalGTE(marketPrice, order.Price) {
				return max(marketPrice, order.Price), true
			}
		}
		return 0, false
	case OrderTypeStopLoss:
		// 止损单：价格跌破止损价后按市价卖出
		if order.Side == SideSell && decimalLTE(marketPrice, order.StopPrice) {
			return marketPrice, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// updateAccount 将成交记入现金与持仓。买入重算加权平均成本，卖出清零即移除持仓。
func (e *Engine) updateAccount(trade Trade) {
	if trade.Side == SideBuy {
		e.cash -= trade.TotalCost
		if pos, ok := e.positions[trade.Symbol]; ok {
			total := pos.AvgCost*pos.Quantity + trade.Price*trade.Quantity
			pos.Quantity += trade.Quantity
			pos.AvgCost = total / pos.Quantity
		} else {
			e.positions[trade.Symbol] = &Position{
				Symbol:   trade.Symbol,
				Quantity: trade.Quantity,
				AvgCost:  trade.Price,
			}
		}
		return
	}
	e.cash += trade.TotalCost
	if pos, ok := e.positions[trade.Symbol]; ok {
		pos.Quantity -= trade.Quantity
		if pos.Quantity <= 0 {
			delete(e.positions, trade.Symbol)
		}
	}
}

// markToMarket 用当根收盘价刷新全部持仓并重算组合价值。
func (e *Engine) markToMarket(closePrice float64) {
	totalValue := 0.0
	for _, pos := range e.positions {
		pos.markPrice(closePrice)
		totalValue += pos.MarketValue
	}
	e.portfolioValue = e.cash + totalValue
}

// snapshot 构造策略回调可见的只读上下文，持仓为值拷贝。
func (e *Engine) snapshot() Context {
	positions := make(map[string]Position, len(e.positions))
	for symbol, pos := range e.positions {
		positions[symbol] = *pos
	}
	return Context{
		Cash:           e.cash,
		Positions:      positions,
		PortfolioValue: e.portfolioValue,
		Date:           e.now,
	}
}

// processIntents 将策略意图转为订单并立即对当根收盘价执行。
func (e *Engine) processIntents(intents []Intent, bar market.Candle) {
	for _, intent := range intents {
		if intent.Action == ActionHold || intent.Quantity <= 0 {
			continue
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
		order := e.PlaceOrder(intent.Symbol, side, intent.Quantity, OrderTypeMarket, 0, 0)
		if order != nil {
			e.executeOrder(order, bar.Close)
		}
	}
}

func (e *Engine) recordEquity(ts int64) {
	e.equityCurve = append(e.equityCurve, EquityPoint{TS: ts, Value: e.portfolioValue, Cash: e.cash})
}
