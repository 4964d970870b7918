package config

import (
	"strings"

	"backsim/internal/engine"
)

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9991"

	defaultDataCandleDir   = "data/candles"
	defaultDataResultsPath = "data/backsim.db"

	defaultFetchRatePerMin = 480
	defaultFetchMaxBatch   = 1000
	defaultFetchMaxConc    = 4

	defaultMaxConcurrentRuns = 2
)

func (c *Config) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Fetch.applyDefaults(keys)
	applyEngineDefaults(&c.Engine, keys)
	c.Constraints.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
}

func (a *App) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (d *Data) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.candle_dir", &d.CandleDir, defaultDataCandleDir),
		stringFieldDefault("data.results_path", &d.ResultsPath, defaultDataResultsPath),
	)
}

func (f *Fetch) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "fetch.rate_limit_per_min",
			need:  func() bool { return f.RateLimitPerMin <= 0 },
			apply: func() { f.RateLimitPerMin = defaultFetchRatePerMin },
		},
		fieldDefault{
			key:   "fetch.max_batch",
			need:  func() bool { return f.MaxBatch <= 0 },
			apply: func() { f.MaxBatch = defaultFetchMaxBatch },
		},
		fieldDefault{
			key:   "fetch.max_concurrent",
			need:  func() bool { return f.MaxConcurrent <= 0 },
			apply: func() { f.MaxConcurrent = defaultFetchMaxConc },
		},
	)
	f.BaseURL = strings.TrimSpace(f.BaseURL)
}

// applyEngineDefaults 把未显式设置的引擎参数补成 A 股风格默认值。
// 布尔开关区分"显式 false"与"未设置"，靠 keySet 而不是零值判断。
func applyEngineDefaults(e *engine.BacktestConfig, keys keySet) {
	if e == nil {
		return
	}
	def := engine.DefaultConfig()
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "engine.initial_capital",
			need:  func() bool { return e.InitialCapital <= 0 },
			apply: func() { e.InitialCapital = def.InitialCapital },
		},
		fieldDefault{
			key:   "engine.commission_rate",
			need:  func() bool { return e.CommissionRate <= 0 },
			apply: func() { e.CommissionRate = def.CommissionRate },
		},
		fieldDefault{
			key:   "engine.min_commission",
			need:  func() bool { return e.MinCommission <= 0 },
			apply: func() { e.MinCommission = def.MinCommission },
		},
		fieldDefault{
			key:   "engine.stamp_duty_rate",
			need:  func() bool { return e.StampDutyRate <= 0 },
			apply: func() { e.StampDutyRate = def.StampDutyRate },
		},
		fieldDefault{
			key:   "engine.slippage_rate",
			need:  func() bool { return e.SlippageRate <= 0 },
			apply: func() { e.SlippageRate = def.SlippageRate },
		},
		boolFieldDefault("engine.enable_slippage", &e.EnableSlippage, def.EnableSlippage),
		boolFieldDefault("engine.enable_commission", &e.EnableCommission, def.EnableCommission),
		boolFieldDefault("engine.enable_stamp_duty", &e.EnableStampDuty, def.EnableStampDuty),
		fieldDefault{
			key:   "engine.max_position_pct",
			need:  func() bool { return e.MaxPositionPct <= 0 || e.MaxPositionPct > 1 },
			apply: func() { e.MaxPositionPct = def.MaxPositionPct },
		},
		fieldDefault{
			key:   "engine.min_cash_reserve",
			need:  func() bool { return e.MinCashReserve <= 0 },
			apply: func() { e.MinCashReserve = def.MinCashReserve },
		},
		fieldDefault{
			key:   "engine.price_tick",
			need:  func() bool { return e.PriceTick <= 0 },
			apply: func() { e.PriceTick = def.PriceTick },
		},
		fieldDefault{
			key:   "engine.lot_size",
			need:  func() bool { return e.LotSize <= 0 },
			apply: func() { e.LotSize = def.LotSize },
		},
		fieldDefault{
			key:   "engine.benchmark_rate",
			need:  func() bool { return e.BenchmarkRate == 0 },
			apply: func() { e.BenchmarkRate = def.BenchmarkRate },
		},
	)
	if e.MinCashReserve < 0 {
		e.MinCashReserve = 0
	}
}

func (c *Constraints) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	def := engine.DefaultConstraints()
	applyFieldDefaults(keys,
		boolFieldDefault("constraints.enabled", &c.Enabled, true),
		boolFieldDefault("constraints.enable_price_limit", &c.EnablePriceLimit, def.EnablePriceLimit),
		boolFieldDefault("constraints.enable_halt_check", &c.EnableHaltCheck, def.EnableHaltCheck),
		boolFieldDefault("constraints.enable_liquidity_check", &c.EnableLiquidityCheck, def.EnableLiquidityCheck),
		fieldDefault{
			key:   "constraints.price_limit_pct",
			need:  func() bool { return c.PriceLimitPct <= 0 || c.PriceLimitPct >= 1 },
			apply: func() { c.PriceLimitPct = def.PriceLimitPct },
		},
		fieldDefault{
			key:   "constraints.special_price_limit_pct",
			need:  func() bool { return c.SpecialPriceLimitPct <= 0 || c.SpecialPriceLimitPct >= 1 },
			apply: func() { c.SpecialPriceLimitPct = def.SpecialPriceLimitPct },
		},
		fieldDefault{
			key:   "constraints.max_volume_pct",
			need:  func() bool { return c.MaxVolumePct <= 0 || c.MaxVolumePct > 1 },
			apply: func() { c.MaxVolumePct = def.MaxVolumePct },
		},
		fieldDefault{
			key:   "constraints.min_volume",
			need:  func() bool { return c.MinVolume <= 0 },
			apply: func() { c.MinVolume = def.MinVolume },
		},
		fieldDefault{
			key:   "constraints.tick_size",
			need:  func() bool { return c.TickSize <= 0 },
			apply: func() { c.TickSize = def.TickSize },
		},
	)
	c.SpecialSymbols = normalizeSymbolList(c.SpecialSymbols)
	c.HaltCalendarPath = strings.TrimSpace(c.HaltCalendarPath)
}

func (b *Backtest) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.max_concurrent_runs",
			need:  func() bool { return b.MaxConcurrentRuns <= 0 },
			apply: func() { b.MaxConcurrentRuns = defaultMaxConcurrentRuns },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeSymbolList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
