package engine

import (
	"fmt"
	"time"
)

// Side 表示订单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType 表示订单类型。
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"     // 市价单
	OrderTypeLimit     OrderType = "limit"      // 限价单
	OrderTypeStopLoss  OrderType = "stop_loss"  // 止损单
	OrderTypeStopLimit OrderType = "stop_limit" // 止损限价单
)

// OrderStatus 表示订单状态。除 pending 外均为终态，不允许回退。
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal 返回该状态是否为终态。
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusPending
}

// Order 表示一条交易意图及其生命周期。
type Order struct {
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Type      OrderType   `json:"type"`
	Quantity  float64     `json:"quantity"`
	Price     float64     `json:"price,omitempty"`      // 限价单价格
	StopPrice float64     `json:"stop_price,omitempty"` // 止损触发价
	Status    OrderStatus `json:"status"`

	FilledQuantity float64 `json:"filled_quantity"`
	FilledPrice    float64 `json:"filled_price"`
	Commission     float64 `json:"commission"`
	Slippage       float64 `json:"slippage"`
	Note           string  `json:"note,omitempty"`
}

// transition 执行单向状态迁移；终态订单不可再变更。
func (o *Order) transition(next OrderStatus) error {
	if o.Status.Terminal() {
		return fmt.Errorf("订单 %s 已处于终态 %s，无法迁移到 %s", o.ID, o.Status, next)
	}
	o.Status = next
	return nil
}

// Trade 是一次成交的不可变记录，成交后只追加、不修改。
type Trade struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Slippage   float64   `json:"slippage"`   // 带符号，价格单位 × 数量
	TotalCost  float64   `json:"total_cost"` // 含全部成本的现金影响
}

// Position 表示单个标的的持仓。
type Position struct {
	Symbol           string  `json:"symbol"`
	Quantity         float64 `json:"quantity"`
	AvgCost          float64 `json:"avg_cost"`
	CurrentPrice     float64 `json:"current_price"`
	MarketValue      float64 `json:"market_value"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
}

// markPrice 用最新价刷新持仓的市值与浮动盈亏。
func (p *Position) markPrice(price float64) {
	p.CurrentPrice = price
	p.MarketValue = p.Quantity * price
	p.UnrealizedPnL = (price - p.AvgCost) * p.Quantity
	if p.AvgCost > 0 {
		p.UnrealizedPnLPct = price/p.AvgCost - 1
	}
}
