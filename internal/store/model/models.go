package model

import "gorm.io/datatypes"

// RunModel 持久化一次回测任务及其汇总结果。
type RunModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;index"`
	Strategy      string         `gorm:"column:strategy;index"`
	Status        string         `gorm:"column:status;index"`
	StartTS       int64          `gorm:"column:start_ts"`
	EndTS         int64          `gorm:"column:end_ts"`
	Timeframe     string         `gorm:"column:timeframe"`
	Message       string         `gorm:"column:message"`
	ConfigJSON    datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	ResultJSON    datatypes.JSON `gorm:"column:result_json;type:TEXT"`
	TotalReturn   float64        `gorm:"column:total_return"`
	MaxDrawdown   float64        `gorm:"column:max_drawdown"`
	SharpeRatio   float64        `gorm:"column:sharpe_ratio"`
	WinRate       float64        `gorm:"column:win_rate"`
	TotalTrades   int            `gorm:"column:total_trades"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
	CompletedUnix int64          `gorm:"column:completed_at"`
}

func (RunModel) TableName() string { return "backtest_runs" }

// OrderModel 持久化订单终态，含被拒/挂起原因。
type OrderModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	RunID         string  `gorm:"column:run_id;index"`
	OrderID       string  `gorm:"column:order_id"`
	Symbol        string  `gorm:"column:symbol"`
	Side          string  `gorm:"column:side"`
	Type          string  `gorm:"column:type"`
	Status        string  `gorm:"column:status"`
	Quantity      float64 `gorm:"column:quantity"`
	Price         float64 `gorm:"column:price"`
	StopPrice     float64 `gorm:"column:stop_price"`
	FilledQty     float64 `gorm:"column:filled_quantity"`
	FilledPrice   float64 `gorm:"column:filled_price"`
	Commission    float64 `gorm:"column:commission"`
	Slippage      float64 `gorm:"column:slippage"`
	Note          string  `gorm:"column:note"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
}

func (OrderModel) TableName() string { return "backtest_orders" }

// TradeModel 持久化成交明细。
type TradeModel struct {
	ID         int64   `gorm:"column:id;primaryKey"`
	RunID      string  `gorm:"column:run_id;index"`
	TradeID    string  `gorm:"column:trade_id"`
	OrderID    string  `gorm:"column:order_id"`
	Symbol     string  `gorm:"column:symbol"`
	Side       string  `gorm:"column:side"`
	Quantity   float64 `gorm:"column:quantity"`
	Price      float64 `gorm:"column:price"`
	Commission float64 `gorm:"column:commission"`
	Slippage   float64 `gorm:"column:slippage"`
	TotalCost  float64 `gorm:"column:total_cost"`
	Timestamp  int64   `gorm:"column:ts;index"`
}

func (TradeModel) TableName() string { return "backtest_trades" }

// SnapshotModel 持久化资金曲线采样点。
type SnapshotModel struct {
	ID       int64   `gorm:"column:id;primaryKey"`
	RunID    string  `gorm:"column:run_id;index"`
	TS       int64   `gorm:"column:ts"`
	Equity   float64 `gorm:"column:equity"`
	Cash     float64 `gorm:"column:cash"`
	Drawdown float64 `gorm:"column:drawdown"`
	Status   string  `gorm:"column:status"`
}

func (SnapshotModel) TableName() string { return "backtest_snapshots" }

// SkipModel 持久化因停牌被跳过的 K 线。
type SkipModel struct {
	ID     int64  `gorm:"column:id;primaryKey"`
	RunID  string `gorm:"column:run_id;index"`
	TS     int64  `gorm:"column:ts"`
	Symbol string `gorm:"column:symbol"`
	Status string `gorm:"column:status"`
}

func (SkipModel) TableName() string { return "backtest_skips" }
