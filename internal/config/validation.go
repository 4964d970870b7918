package config

import (
	"fmt"
	"net/url"
	"strings"

	"backsim/internal/engine"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Fetch.validate(); err != nil {
		return err
	}
	if err := validateEngine(c.Engine); err != nil {
		return err
	}
	if err := c.Constraints.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	return nil
}

func (a *App) validate() error {
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level invalid: %s", a.LogLevel)
	}
	return nil
}

func (d *Data) validate() error {
	if strings.TrimSpace(d.CandleDir) == "" {
		return fmt.Errorf("data.candle_dir cannot be empty")
	}
	if strings.TrimSpace(d.ResultsPath) == "" {
		return fmt.Errorf("data.results_path cannot be empty")
	}
	return nil
}

func (f *Fetch) validate() error {
	if f.BaseURL != "" {
		u, err := url.Parse(f.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("fetch.base_url is not a valid URL: %s", f.BaseURL)
		}
	}
	if f.MaxBatch > 1500 {
		return fmt.Errorf("fetch.max_batch exceeds upstream per-request limit: %d", f.MaxBatch)
	}
	if f.MaxConcurrent > 32 {
		return fmt.Errorf("fetch.max_concurrent too large: %d", f.MaxConcurrent)
	}
	return nil
}

func validateEngine(e engine.BacktestConfig) error {
	if e.InitialCapital <= 0 {
		return fmt.Errorf("engine.initial_capital must be positive: %v", e.InitialCapital)
	}
	if e.CommissionRate < 0 || e.CommissionRate >= 0.1 {
		return fmt.Errorf("engine.commission_rate out of range: %v", e.CommissionRate)
	}
	if e.StampDutyRate < 0 || e.StampDutyRate >= 0.1 {
		return fmt.Errorf("engine.stamp_duty_rate out of range: %v", e.StampDutyRate)
	}
	if e.SlippageRate < 0 || e.SlippageRate >= 0.1 {
		return fmt.Errorf("engine.slippage_rate out of range: %v", e.SlippageRate)
	}
	if e.MaxPositionPct <= 0 || e.MaxPositionPct > 1 {
		return fmt.Errorf("engine.max_position_pct must be in (0,1]: %v", e.MaxPositionPct)
	}
	if e.PriceTick <= 0 {
		return fmt.Errorf("engine.price_tick must be positive: %v", e.PriceTick)
	}
	if e.LotSize <= 0 {
		return fmt.Errorf("engine.lot_size must be positive: %d", e.LotSize)
	}
	return nil
}

func (c *Constraints) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.EnablePriceLimit {
		if c.PriceLimitPct <= 0 || c.PriceLimitPct >= 1 {
			return fmt.Errorf("constraints.price_limit_pct must be in (0,1): %v", c.PriceLimitPct)
		}
		if c.SpecialPriceLimitPct <= 0 || c.SpecialPriceLimitPct >= 1 {
			return fmt.Errorf("constraints.special_price_limit_pct must be in (0,1): %v", c.SpecialPriceLimitPct)
		}
	}
	if c.EnableLiquidityCheck {
		if c.MaxVolumePct <= 0 || c.MaxVolumePct > 1 {
			return fmt.Errorf("constraints.max_volume_pct must be in (0,1]: %v", c.MaxVolumePct)
		}
	}
	return nil
}

func (b *Backtest) validate() error {
	if b.MaxConcurrentRuns > 64 {
		return fmt.Errorf("backtest.max_concurrent_runs too large: %d", b.MaxConcurrentRuns)
	}
	return nil
}
