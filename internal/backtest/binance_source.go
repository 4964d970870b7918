package backtest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"

	"backsim/internal/market"
)

// BinanceSource 基于 Binance 现货 REST 接口拉取 K 线。
type BinanceSource struct {
	client *binance.Client
}

func NewBinanceSource(base string) *BinanceSource {
	client := binance.NewClient("", "")
	if base != "" {
		client.BaseURL = base
	}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	svc := b.client.NewKlinesService().
		Symbol(strings.ToUpper(req.Symbol)).
		Interval(req.Interval).
		Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance 拉取失败: %w", err)
	}
	out := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		out = append(out, market.Candle{
			Symbol:    strings.ToUpper(req.Symbol),
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return out, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}
