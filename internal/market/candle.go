package market

import (
	"fmt"
	"sort"
	"time"
)

// Candle 是回测消费的最小价格单元（时间 + OHLCV）。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Symbol    string  `json:"symbol,omitempty"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Time 返回该 K 线的收盘时间。
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.CloseTime)
}

// Series 是按时间升序排列的 K 线序列。
type Series []Candle

// Validate 校验序列非空且每根 K 线具备有效的 OHLCV 字段。
func (s Series) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("价格序列为空")
	}
	for i, c := range s {
		if c.CloseTime <= 0 {
			return fmt.Errorf("第 %d 根 K 线缺少时间戳", i)
		}
		if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
			return fmt.Errorf("第 %d 根 K 线缺少 open/high/low/close", i)
		}
		if c.Volume < 0 {
			return fmt.Errorf("第 %d 根 K 线 volume 非法: %f", i, c.Volume)
		}
	}
	return nil
}

// SortByTime 返回按收盘时间升序排列的副本，原序列不变。
func (s Series) SortByTime() Series {
	out := append(Series(nil), s...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CloseTime < out[j].CloseTime
	})
	return out
}

// Closes 抽取收盘价序列，供指标计算使用。
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}
