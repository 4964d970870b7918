package app

import (
	"fmt"
	"strings"

	"backsim/internal/config"
	"backsim/internal/engine"
)

// StartupSummary 在启动时打印一份人可读的配置摘要。
type StartupSummary struct {
	HTTPAddr    string
	CandleDir   string
	ResultsPath string
	Strategies  []string
	Engine      engine.BacktestConfig
	Constraints config.Constraints
	HaltPath    string
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[服务 (SERVICE)]")
	fmt.Printf("  HTTP 监听: %s\n", s.HTTPAddr)
	fmt.Printf("  K 线目录: %s\n", s.CandleDir)
	fmt.Printf("  结果库:   %s\n", s.ResultsPath)
	fmt.Println()

	fmt.Println("[回测引擎 (ENGINE)]")
	fmt.Printf("  初始资金: %.2f\n", s.Engine.InitialCapital)
	fmt.Printf("  佣金费率: %.4f%%（最低 %.2f）\n", s.Engine.CommissionRate*100, s.Engine.MinCommission)
	fmt.Printf("  印花税率: %.4f%%（%s）\n", s.Engine.StampDutyRate*100, onOff(s.Engine.EnableStampDuty))
	fmt.Printf("  滑点率:   %.4f%%（%s）\n", s.Engine.SlippageRate*100, onOff(s.Engine.EnableSlippage))
	fmt.Printf("  交易单位: %d 股，最小价格变动 %.2f\n", s.Engine.LotSize, s.Engine.PriceTick)
	fmt.Println()

	fmt.Println("[市场约束 (CONSTRAINTS)]")
	if !s.Constraints.Enabled {
		fmt.Println("  (未启用)")
	} else {
		fmt.Printf("  涨跌停: %s（普通 %.0f%%，特别处理 %.0f%%）\n",
			onOff(s.Constraints.EnablePriceLimit),
			s.Constraints.PriceLimitPct*100, s.Constraints.SpecialPriceLimitPct*100)
		fmt.Printf("  停牌检查: %s，日历: %s\n", onOff(s.Constraints.EnableHaltCheck), s.HaltPath)
		fmt.Printf("  流动性检查: %s（单笔最大成交量占比 %.0f%%）\n",
			onOff(s.Constraints.EnableLiquidityCheck), s.Constraints.MaxVolumePct*100)
	}
	fmt.Println()

	fmt.Println("[策略 (STRATEGIES)]")
	if len(s.Strategies) == 0 {
		fmt.Println("  (无)")
	} else {
		for _, name := range s.Strategies {
			fmt.Printf("  - %s\n", name)
		}
	}
	fmt.Println(strings.Repeat("=", 80))
}

func onOff(b bool) string {
	if b {
		return "开"
	}
	return "关"
}
