package backtest

import (
	"encoding/json"
	"time"

	"backsim/internal/engine"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Symbol            string                `json:"symbol"`
	Timeframe         string                `json:"timeframe"`
	StartTS           int64                 `json:"start_ts"`
	EndTS             int64                 `json:"end_ts"`
	Strategy          string                `json:"strategy"`
	StrategyParams    map[string]any        `json:"strategy_params,omitempty"`
	Engine            engine.BacktestConfig `json:"engine"`
	EnableConstraints bool                  `json:"enable_constraints"`
	Notes             string                `json:"notes,omitempty"`
}

// Run 表示一次回测任务。
type Run struct {
	ID          string                 `json:"id"`
	Symbol      string                 `json:"symbol"`
	Strategy    string                 `json:"strategy"`
	Status      string                 `json:"status"`
	StartTS     int64                  `json:"start_ts"`
	EndTS       int64                  `json:"end_ts"`
	Timeframe   string                 `json:"timeframe"`
	Message     string                 `json:"message,omitempty"`
	Config      RunConfig              `json:"config"`
	Result      *engine.BacktestResult `json:"result,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	CompletedAt time.Time              `json:"completed_at,omitempty"`
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// MarshalResult 返回 result JSON；结果未生成时返回 nil。
func (r Run) MarshalResult() ([]byte, error) {
	if r.Result == nil {
		return nil, nil
	}
	return json.Marshal(r.Result)
}

// Snapshot 保存资金曲线上的一个采样点。
type Snapshot struct {
	ID       int64   `json:"id"`
	RunID    string  `json:"run_id"`
	TS       int64   `json:"ts"`
	Equity   float64 `json:"equity"`
	Cash     float64 `json:"cash"`
	Drawdown float64 `json:"drawdown"`
	Status   string  `json:"status,omitempty"`
}

// RunRequest 为 HTTP 提交使用。
type RunRequest struct {
	Symbol            string         `json:"symbol" binding:"required"`
	Timeframe         string         `json:"timeframe"`
	StartTS           int64          `json:"start_ts" binding:"required"`
	EndTS             int64          `json:"end_ts" binding:"required"`
	Strategy          string         `json:"strategy" binding:"required"`
	StrategyParams    map[string]any `json:"strategy_params"`
	InitialCapital    float64        `json:"initial_capital"`
	CommissionRate    float64        `json:"commission_rate"`
	MinCommission     float64        `json:"min_commission"`
	StampDutyRate     float64        `json:"stamp_duty_rate"`
	SlippageRate      float64        `json:"slippage_rate"`
	EnableStampDuty   bool           `json:"enable_stamp_duty"`
	EnableConstraints bool           `json:"enable_constraints"`
	Notes             string         `json:"notes"`
}
