// Package strategy 提供内置示例策略，演示引擎回调契约并供服务层按名引用。
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"backsim/internal/engine"
)

// Factory 根据参数构造一个策略回调。
type Factory func(symbol string, params map[string]any) engine.StrategyFunc

var registry = map[string]Factory{
	"buy_hold":      BuyHold,
	"sma_cross":     SMACross,
	"rsi_reversion": RSIReversion,
}

// New 按名称创建策略回调，未注册的名称返回错误。
func New(name, symbol string, params map[string]any) (engine.StrategyFunc, error) {
	factory, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("未知策略: %s（可用: %s）", name, strings.Join(Names(), ", "))
	}
	return factory(symbol, params), nil
}

// Names 返回全部已注册策略名（排序后）。
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func intParam(params map[string]any, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	switch v := params[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	if params == nil {
		return fallback
	}
	switch v := params[key].(type) {
	case float64:
		if v > 0 {
			return v
		}
	case int:
		if v > 0 {
			return float64(v)
		}
	}
	return fallback
}

// heldQuantity 返回快照中该标的的持仓数量。
func heldQuantity(ctx engine.Context, symbol string) float64 {
	if pos, ok := ctx.Positions[symbol]; ok {
		return pos.Quantity
	}
	return 0
}
