package engine

import (
	"time"

	"backsim/internal/market"
)

// Action 是策略回调可返回的动作集合，封闭枚举，非法动作不可表达。
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Intent 表示策略回调产出的一条交易意图。
type Intent struct {
	Action   Action  `json:"action"`
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
}

// Buy 构造买入意图。
func Buy(symbol string, quantity float64) Intent {
	return Intent{Action: ActionBuy, Symbol: symbol, Quantity: quantity}
}

// Sell 构造卖出意图。
func Sell(symbol string, quantity float64) Intent {
	return Intent{Action: ActionSell, Symbol: symbol, Quantity: quantity}
}

// Hold 构造观望意图（引擎直接忽略）。
func Hold() Intent {
	return Intent{Action: ActionHold}
}

// Context 是提供给策略回调的只读账户快照。
// 持仓为副本，回调对其修改不会影响引擎内部状态。
type Context struct {
	Cash           float64
	Positions      map[string]Position
	PortfolioValue float64
	Date           time.Time
}

// StrategyFunc 是核心循环消费的策略回调：
// 输入为截至当前 K 线的全部数据、账户快照与调用方参数，
// 返回零条或多条交易意图。
type StrategyFunc func(data market.Series, ctx Context, params map[string]any) []Intent
