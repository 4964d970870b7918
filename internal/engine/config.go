package engine

// BacktestConfig 是单次回测的全部参数，字段只影响本次运行。
type BacktestConfig struct {
	InitialCapital float64 `toml:"initial_capital" json:"initial_capital"`

	// 交易成本
	CommissionRate float64 `toml:"commission_rate" json:"commission_rate"` // 佣金费率
	MinCommission  float64 `toml:"min_commission" json:"min_commission"`   // 最低佣金
	StampDutyRate  float64 `toml:"stamp_duty_rate" json:"stamp_duty_rate"` // 印花税率（仅卖出）
	SlippageRate   float64 `toml:"slippage_rate" json:"slippage_rate"`     // 滑点率

	EnableSlippage   bool `toml:"enable_slippage" json:"enable_slippage"`
	EnableCommission bool `toml:"enable_commission" json:"enable_commission"`
	EnableStampDuty  bool `toml:"enable_stamp_duty" json:"enable_stamp_duty"`

	// 风控规则
	MaxPositionPct float64 `toml:"max_position_pct" json:"max_position_pct"` // 最大仓位比例
	MinCashReserve float64 `toml:"min_cash_reserve" json:"min_cash_reserve"` // 最低现金储备
	AllowShort     bool    `toml:"allow_short" json:"allow_short"`

	// 市场规则
	PriceTick float64 `toml:"price_tick" json:"price_tick"` // 最小价格变动单位
	LotSize   int     `toml:"lot_size" json:"lot_size"`     // 交易单位（A股 100 股）

	// 年化基准利率，夏普/索提诺的无风险收益
	BenchmarkRate float64 `toml:"benchmark_rate" json:"benchmark_rate"`
}

// DefaultConfig 返回 A 股风格的默认参数。
func DefaultConfig() BacktestConfig {
	return BacktestConfig{
		InitialCapital:   100000,
		CommissionRate:   0.0003,
		MinCommission:    5,
		StampDutyRate:    0.001,
		SlippageRate:     0.0005,
		EnableSlippage:   true,
		EnableCommission: true,
		EnableStampDuty:  false,
		MaxPositionPct:   0.95,
		MinCashReserve:   1000,
		AllowShort:       false,
		PriceTick:        0.01,
		LotSize:          100,
		BenchmarkRate:    0.03,
	}
}
