package config

import (
	"strings"

	"backsim/internal/engine"
)

// Config 是 Backsim 的主配置载体。
type Config struct {
	App         App                   `toml:"app"`
	Data        Data                  `toml:"data"`
	Fetch       Fetch                 `toml:"fetch"`
	Engine      engine.BacktestConfig `toml:"engine"`
	Constraints Constraints           `toml:"constraints"`
	Backtest    Backtest              `toml:"backtest"`
}

type App struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// Data 描述本地数据落盘位置：K 线库按 symbol@timeframe 分库，
// 回测结果集中在一个 SQLite 文件。
type Data struct {
	CandleDir   string `toml:"candle_dir"`
	ResultsPath string `toml:"results_path"`
}

// Fetch 控制历史 K 线补齐的远端访问方式。
type Fetch struct {
	BaseURL         string `toml:"base_url"` // 留空使用交易所默认域名
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	MaxBatch        int    `toml:"max_batch"`
	MaxConcurrent   int    `toml:"max_concurrent"`
}

// Constraints 是市场约束层的文件侧表示。停牌日历与特别处理名单
// 在配置里只是路径/列表，运行期由 loader 转成引擎需要的结构。
type Constraints struct {
	Enabled              bool     `toml:"enabled"`
	EnablePriceLimit     bool     `toml:"enable_price_limit"`
	PriceLimitPct        float64  `toml:"price_limit_pct"`
	SpecialPriceLimitPct float64  `toml:"special_price_limit_pct"`
	SpecialSymbols       []string `toml:"special_symbols"`
	EnableHaltCheck      bool     `toml:"enable_halt_check"`
	HaltCalendarPath     string   `toml:"halt_calendar_path"`
	EnableLiquidityCheck bool     `toml:"enable_liquidity_check"`
	MaxVolumePct         float64  `toml:"max_volume_pct"`
	MinVolume            float64  `toml:"min_volume"`
	TickSize             float64  `toml:"tick_size"`
}

// ToConstraints 生成引擎侧的约束对象。停牌窗口由调用方
// （halt 日历 loader）另行填充。
func (c Constraints) ToConstraints() engine.MarketConstraints {
	mc := engine.MarketConstraints{
		EnablePriceLimit:     c.EnablePriceLimit,
		PriceLimitPct:        c.PriceLimitPct,
		SpecialPriceLimitPct: c.SpecialPriceLimitPct,
		SpecialSymbols:       make(map[string]bool, len(c.SpecialSymbols)),
		EnableHaltCheck:      c.EnableHaltCheck,
		HaltWindows:          make(map[string][]engine.HaltWindow),
		EnableLiquidityCheck: c.EnableLiquidityCheck,
		MaxVolumePct:         c.MaxVolumePct,
		MinVolume:            c.MinVolume,
		TickSize:             c.TickSize,
	}
	for _, sym := range c.SpecialSymbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			mc.SpecialSymbols[sym] = true
		}
	}
	return mc
}

// Backtest 控制回测调度本身，与单次回测参数无关。
type Backtest struct {
	MaxConcurrentRuns int `toml:"max_concurrent_runs"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
